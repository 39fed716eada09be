package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"balloon-go/internal/app"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backend health and quota usage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "status", func(ctx context.Context, a *app.App) error {
			st, err := a.Status(ctx)
			if err != nil {
				return err
			}
			vault := "ok"
			if st.VaultErr != nil {
				vault = st.VaultErr.Error()
			}
			fmt.Printf("Database:  %s %s %s\n", st.DatabaseType, st.DatabasePath, st.Schema)
			fmt.Printf("Vault:     %s (encrypted: %t) %s\n", st.VaultType, st.Encrypted, vault)
			fmt.Printf("Staging:   %d bytes in use\n", st.StagingBytes)
			fmt.Printf("Cursor:    %s\n", st.Cursor)
			if st.QuotaLimit > 0 {
				fmt.Printf("Quota:     %d / %d bytes\n", st.QuotaUsed, st.QuotaLimit)
			} else {
				fmt.Printf("Quota:     %d bytes, unlimited\n", st.QuotaUsed)
			}
			return nil
		})
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Maintain the metadata database",
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup [DEST]",
	Short: "Write a consistent copy of the database",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "db backup", func(ctx context.Context, a *app.App) error {
			dest := filepath.Join(a.Config().BaseDir, "backups",
				"balloon-"+time.Now().UTC().Format("20060102T150405Z")+".db")
			if len(args) > 0 {
				dest = args[0]
			}
			if err := a.BackupDatabase(dest); err != nil {
				return err
			}
			fmt.Printf("Database backed up to %s\n", dest)
			return nil
		})
	},
}

var dbGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Reclaim space in a badger database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "db gc", func(ctx context.Context, a *app.App) error {
			return a.CollectGarbage()
		})
	},
}

func init() {
	dbCmd.AddCommand(dbBackupCmd)
	dbCmd.AddCommand(dbGCCmd)
	dbCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Alias of balloon status",
		Args:  cobra.NoArgs,
		RunE:  statusCmd.RunE,
	})
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(dbCmd)
}
