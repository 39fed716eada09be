package app

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	envConfigPath = "BALLOON_CONFIG_PATH"
	envHome       = "BALLOON_HOME"
)

// Paths locates the config file and the data directory a fresh config
// points at.
type Paths struct {
	ConfigFile string
	BaseDir    string
}

// DefaultPaths resolves Paths from BALLOON_CONFIG_PATH and BALLOON_HOME,
// falling back to ~/.config/balloon.toml and ~/.local/share/balloon.
func DefaultPaths() (Paths, error) {
	var (
		p   Paths
		err error
	)
	if p.ConfigFile, err = fromEnvOrHome(envConfigPath, ".config", "balloon.toml"); err != nil {
		return Paths{}, err
	}
	if p.BaseDir, err = fromEnvOrHome(envHome, ".local", "share", "balloon"); err != nil {
		return Paths{}, err
	}
	return p, nil
}

func fromEnvOrHome(env string, elem ...string) (string, error) {
	if v := os.Getenv(env); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory, set %s: %w", env, err)
	}
	return filepath.Join(append([]string{home}, elem...)...), nil
}
