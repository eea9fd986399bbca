package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/querycache/config"
)

// Version information set at build time.
var version = "dev"

type globalFlags struct {
	configDir string
	envFile   string
}

func main() {
	var flags globalFlags
	var a *app

	rootCmd := &cobra.Command{
		Use:     "bookshelf",
		Short:   "Track the books you are reading",
		Version: version,
		Long: `bookshelf is a command-line client for the bookshelf reading-list API.

Query results are cached locally (in memory, ristretto, bigcache, a bolt
file or Redis), and list edits are applied to the cache before the server
confirms them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations["standalone"] == "true" {
				return nil
			}
			cfg, err := config.Load(config.Options{Dir: flags.configDir, EnvFile: flags.envFile})
			if err != nil {
				return err
			}
			a, err = newApp(cmd.Context(), cfg)
			return err
		},
	}
	rootCmd.PersistentFlags().StringVar(&flags.configDir, "config-dir", "", "directory holding config.yaml")
	rootCmd.PersistentFlags().StringVar(&flags.envFile, "env-file", "", "dotenv file to load (default .env)")

	appFn := func() *app { return a }
	rootCmd.AddCommand(
		loginCmd(appFn),
		registerCmd(appFn),
		logoutCmd(appFn),
		whoamiCmd(appFn),
		searchCmd(appFn),
		bookCmd(appFn),
		listCmd(appFn),
		addCmd(appFn),
		finishCmd(appFn),
		unfinishCmd(appFn),
		updateCmd(appFn),
		removeCmd(appFn),
		fakeServerCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if a != nil {
		if cerr := a.close(context.Background()); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Printf("\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}
