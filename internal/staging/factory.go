package staging

import (
	"fmt"

	"balloon-go/internal/config"
)

// DefaultMaxSize is the default maximum staging area size (1GB).
const DefaultMaxSize int64 = 1 << 30

// NewStagingAreaFromConfig creates a StagingArea based on the config type.
func NewStagingAreaFromConfig(cfg config.StagingConfig, digest string, idgen idGenerator) (*StagingArea, error) {
	hasher, err := NewHasher(digest)
	if err != nil {
		return nil, err
	}
	limits := Limits{MaxSize: cfg.MaxSize, MaxUploadSize: cfg.MaxUploadSize}
	if limits.MaxSize <= 0 {
		limits.MaxSize = DefaultMaxSize
	}

	switch cfg.Type {
	case "memory":
		return NewMemoryStagingArea(hasher, idgen, limits), nil
	case "filesystem":
		if cfg.StagingDir == "" {
			return nil, fmt.Errorf("filesystem staging area requires staging_dir to be set")
		}
		return NewFileSystemStagingArea(cfg.StagingDir, hasher, idgen, limits)
	default:
		return nil, fmt.Errorf("unknown staging area type: %s", cfg.Type)
	}
}
