package vault

import (
	"context"
	"fmt"

	"balloon-go/internal/balloon"
	"balloon-go/internal/config"
)

// NewVaultFromConfig creates a Vault implementation based on the vault config type.
// When encryption is enabled the vault is wrapped with sealer, which must then
// be non-nil.
func NewVaultFromConfig(ctx context.Context, cfg config.VaultConfig, sealer Sealer) (balloon.Vault, error) {
	var v balloon.Vault
	switch cfg.Type {
	case "memory":
		v = NewMemoryVault()
	case "filesystem":
		if cfg.Path == "" {
			return nil, fmt.Errorf("filesystem vault requires path to be set")
		}
		codec, err := NewCodec(cfg.Compression)
		if err != nil {
			return nil, err
		}
		fsv, err := NewFileSystemVault(cfg.Path, codec)
		if err != nil {
			return nil, err
		}
		v = fsv
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 vault requires s3_bucket to be set")
		}
		client, err := NewS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		v = NewS3Vault(client, cfg.S3Bucket, cfg.S3Prefix)
	default:
		return nil, fmt.Errorf("unknown vault type: %s", cfg.Type)
	}

	if cfg.Encryption.Enabled {
		if sealer == nil {
			return nil, fmt.Errorf("vault encryption is enabled but no key is unlocked")
		}
		v = NewEncryptedVault(v, sealer)
	}
	return v, nil
}
