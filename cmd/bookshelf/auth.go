package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/unkn0wn-root/querycache/auth"
)

func loginCmd(appFn func() *app) *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			creds, err := promptCredentials(username)
			if err != nil {
				return err
			}
			u, err := appFn().session.Login(cmd.Context(), creds)
			if err != nil {
				return err
			}
			success("Signed in as %s", u.Username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "account name (prompted when empty)")
	return cmd
}

func registerCmd(appFn func() *app) *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		RunE: func(cmd *cobra.Command, _ []string) error {
			creds, err := promptCredentials(username)
			if err != nil {
				return err
			}
			u, err := appFn().session.Register(cmd.Context(), creds)
			if err != nil {
				return err
			}
			success("Registered and signed in as %s", u.Username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "account name (prompted when empty)")
	return cmd
}

func logoutCmd(appFn func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the session token and empty the cache",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := appFn().session.Logout(cmd.Context()); err != nil {
				return err
			}
			success("Signed out")
			return nil
		},
	}
}

func whoamiCmd(appFn func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, _, err := appFn().signedIn(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("%s (id %s)\n", u.Username, u.ID)
			return nil
		},
	}
}

// promptCredentials asks for what is missing. The password is read without
// echo when stdin is a terminal, as a plain line otherwise.
func promptCredentials(username string) (auth.Credentials, error) {
	in := bufio.NewReader(os.Stdin)
	if username == "" {
		fmt.Print("Username: ")
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			return auth.Credentials{}, fmt.Errorf("failed to read username: %w", err)
		}
		username = strings.TrimSpace(line)
	}

	fmt.Print("Password: ")
	var password string
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return auth.Credentials{}, fmt.Errorf("failed to read password: %w", err)
		}
		password = string(raw)
	} else {
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			return auth.Credentials{}, fmt.Errorf("failed to read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	return auth.Credentials{Username: username, Password: password}, nil
}

func requireArgs(n int, usage string) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("usage: bookshelf %s", usage)
		}
		return nil
	}
}
