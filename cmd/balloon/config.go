package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"balloon-go/internal/app"
	"balloon-go/internal/config"
	"balloon-go/internal/encryption"
)

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := app.DefaultPaths()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(paths.BaseDir)
		if err := config.Init(paths.ConfigFile, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", paths.ConfigFile)
		fmt.Printf("Base Dir: %s\n", paths.BaseDir)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		if err := config.Validate(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
		fmt.Printf("# %s\n", path)
		m := &config.Manager{}
		return m.Write(os.Stdout, cfg)
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage the vault encryption key",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the vault key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		cipher := encryption.NewAgeCipher(cfg.Vault.Encryption)
		if cipher.IsConfigured() {
			return fmt.Errorf("a key pair already exists at %s", cfg.Vault.Encryption.PrivateKeyPath)
		}
		passphrase, err := readNewPassphrase()
		if err != nil {
			return err
		}
		if err := cipher.Setup(passphrase); err != nil {
			return fmt.Errorf("generating key pair: %w", err)
		}
		fmt.Printf("Public key:  %s\n", cfg.Vault.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s\n", cfg.Vault.Encryption.PrivateKeyPath)
		if !cfg.Vault.Encryption.Enabled {
			fmt.Println("Set vault.encryption.enabled = true before storing any content.")
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	keysCmd.AddCommand(keysInitCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
}
