package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for balloon.
type Config struct {
	BaseDir  string         `toml:"base_dir" validate:"required"`
	LogDir   string         `toml:"log_dir"`
	Engine   EngineConfig   `toml:"engine"`
	Database DatabaseConfig `toml:"database"`
	Vault    VaultConfig    `toml:"vault"`
	Staging  StagingConfig  `toml:"staging"`
	Quota    QuotaConfig    `toml:"quota"`
}

// EngineConfig tunes the storage engine itself.
type EngineConfig struct {
	MaxVersions   int      `toml:"max_versions" validate:"min=1"`
	Digest        string   `toml:"digest" validate:"oneof=sha256 blake3"`
	TempPatterns  []string `toml:"temp_patterns"`
	DeltaPageSize int      `toml:"delta_page_size" validate:"min=1"`
}

// DatabaseConfig represents configuration for the metadata database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type string `toml:"type" validate:"oneof=sqlite badger memory"`
	Path string `toml:"path,omitempty" validate:"required_if=Type sqlite"` // empty badger path keeps everything in memory
}

// VaultConfig represents configuration for the blob vault backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type" validate:"oneof=memory filesystem s3"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	Path        string `toml:"path,omitempty" validate:"required_if=Type filesystem"`
	Compression string `toml:"compression,omitempty" validate:"omitempty,oneof=none zstd lz4"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty" validate:"required_if=Type s3"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty" validate:"required_if=Type s3"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty" validate:"omitempty,url"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	Encryption EncryptionConfig `toml:"encryption"`
}

// EncryptionConfig holds paths to the age key pair used to encrypt blobs at rest.
type EncryptionConfig struct {
	Enabled        bool   `toml:"enabled"`
	PublicKeyPath  string `toml:"public_key_path" validate:"required_if=Enabled true"`
	PrivateKeyPath string `toml:"private_key_path" validate:"required_if=Enabled true"`
}

// StagingConfig represents configuration for the upload staging area.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StagingConfig struct {
	Type          string `toml:"type" validate:"oneof=memory filesystem"`
	StagingDir    string `toml:"staging_dir,omitempty" validate:"required_if=Type filesystem"`
	MaxSize       int64  `toml:"max_size" validate:"min=0"`        // total spool capacity in bytes; 0 selects the default
	MaxUploadSize int64  `toml:"max_upload_size" validate:"min=0"` // largest single upload; 0 means no limit
}

// QuotaConfig holds per-user storage limits in bytes. Zero means unlimited.
type QuotaConfig struct {
	DefaultLimit int64            `toml:"default_limit" validate:"min=0"`
	Users        map[string]int64 `toml:"users,omitempty" validate:"dive,min=0"`
}

// Limit returns the byte limit that applies to userID.
func (q QuotaConfig) Limit(userID string) int64 {
	if limit, ok := q.Users[userID]; ok {
		return limit
	}
	return q.DefaultLimit
}

// NewConfig creates a new Config rooted at baseDir with default settings.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Engine: EngineConfig{
			MaxVersions:   16,
			Digest:        "sha256",
			DeltaPageSize: 500,
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			Path: filepath.Join(baseDir, "db", "balloon.db"),
		},
		Vault: VaultConfig{
			Type:        "filesystem",
			Path:        filepath.Join(baseDir, "vault"),
			Compression: "zstd",
			Encryption: EncryptionConfig{
				PublicKeyPath:  filepath.Join(baseDir, "keys", "balloon.pub"),
				PrivateKeyPath: filepath.Join(baseDir, "keys", "balloon.key"),
			},
		},
		Staging: StagingConfig{
			Type:       "filesystem",
			StagingDir: filepath.Join(baseDir, "staging"),
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader and validates it.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
