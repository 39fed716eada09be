package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"balloon-go/internal/app"
	"balloon-go/internal/balloon"
	"balloon-go/internal/config"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var (
	userFlag    string
	verboseFlag bool
)

// loadConfig reads the config file at the default path.
func loadConfig() (*config.Config, string, error) {
	paths, err := app.DefaultPaths()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(paths.ConfigFile)
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, paths.ConfigFile, nil
}

// actingUser returns --user, falling back to the login name.
func actingUser() (string, error) {
	if userFlag != "" {
		return userFlag, nil
	}
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("cannot determine user, pass --user: %w", err)
	}
	return u.Username, nil
}

// newApp reads the config and creates an App for the acting user. The caller
// must defer app.Close(). operation identifies the CLI command being run.
func newApp(ctx context.Context, operation string) (*app.App, context.Context, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	userID, err := actingUser()
	if err != nil {
		return nil, nil, err
	}

	opts := app.Options{Operation: operation, User: userID, Console: os.Stderr, LogLevel: slog.LevelWarn}
	if verboseFlag {
		opts.LogLevel = slog.LevelDebug
	}
	if cfg.Vault.Encryption.Enabled {
		if opts.Passphrase, err = readPassphrase("Passphrase: "); err != nil {
			return nil, nil, err
		}
	}

	a, err := app.NewApp(ctx, cfg, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, balloon.WithUser(ctx, userID), nil
}

// withApp runs fn against a fresh App and records its outcome.
func withApp(cmd *cobra.Command, operation string, fn func(ctx context.Context, a *app.App) error) error {
	a, ctx, err := newApp(cmd.Context(), operation)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Fail(fn(ctx, a))
}

var rootCmd = &cobra.Command{
	Use:          "balloon",
	Short:        "Versioned, deduplicated file storage",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "Act as this user (default: login name)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Log debug output to stderr")
}
