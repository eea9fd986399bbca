package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/querycache/internal/fakeapi"
)

func fakeServerCmd() *cobra.Command {
	var (
		addr  string
		users []string
	)
	cmd := &cobra.Command{
		Use:         "fake-server",
		Short:       "Run an in-memory bookshelf API for local use",
		Long:        "Serve the bookshelf API from memory with a small seeded catalogue. State is lost on exit.",
		Annotations: map[string]string{"standalone": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			api := fakeapi.New(fakeapi.DefaultBooks()...)
			for _, u := range users {
				name, pw, ok := cutUser(u)
				if !ok {
					return fmt.Errorf("--user wants name:password, got %q", u)
				}
				api.AddUser(name, pw)
			}

			srv := &http.Server{Addr: addr, Handler: api, ReadHeaderTimeout: 5 * time.Second}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			success("Serving the bookshelf API on %s (Ctrl-C to stop)", addr)

			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8989", "listen address")
	cmd.Flags().StringSliceVar(&users, "user", nil, "pre-registered account as name:password (repeatable)")
	return cmd
}

func cutUser(s string) (name, password string, ok bool) {
	name, password, ok = strings.Cut(s, ":")
	return name, password, ok && name != "" && password != ""
}
