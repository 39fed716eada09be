package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultPaths(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}
	tests := []struct {
		name       string
		configEnv  string
		homeEnv    string
		wantConfig string
		wantBase   string
	}{
		{
			name:       "environment overrides",
			configEnv:  "/etc/balloon/balloon.toml",
			homeEnv:    "/srv/balloon",
			wantConfig: "/etc/balloon/balloon.toml",
			wantBase:   "/srv/balloon",
		},
		{
			name:       "home directory",
			wantConfig: filepath.Join(home, ".config", "balloon.toml"),
			wantBase:   filepath.Join(home, ".local", "share", "balloon"),
		},
		{
			name:       "only data directory overridden",
			homeEnv:    "/srv/balloon",
			wantConfig: filepath.Join(home, ".config", "balloon.toml"),
			wantBase:   "/srv/balloon",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(envConfigPath, tt.configEnv)
			t.Setenv(envHome, tt.homeEnv)

			got, err := DefaultPaths()
			if err != nil {
				t.Fatalf("DefaultPaths() error = %v", err)
			}
			if got.ConfigFile != tt.wantConfig {
				t.Errorf("ConfigFile = %q, want %q", got.ConfigFile, tt.wantConfig)
			}
			if got.BaseDir != tt.wantBase {
				t.Errorf("BaseDir = %q, want %q", got.BaseDir, tt.wantBase)
			}
		})
	}
}

func TestDefaultPaths_NoHome(t *testing.T) {
	t.Setenv(envConfigPath, "")
	t.Setenv(envHome, "")
	t.Setenv("HOME", "")

	if _, err := DefaultPaths(); err == nil {
		t.Fatal("DefaultPaths() succeeded without a home directory")
	}
}
