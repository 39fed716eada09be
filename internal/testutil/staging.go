package testutil

import (
	"balloon-go/internal/staging"
)

const (
	// DefaultStagingMaxSize is the default max size for test staging areas (10MB).
	DefaultStagingMaxSize = 10 * 1024 * 1024
)

// NewTestStagingArea creates a new in-memory SHA-256 staging area for testing.
func NewTestStagingArea() *staging.StagingArea {
	return NewTestStagingAreaWithLimits(staging.Limits{MaxSize: DefaultStagingMaxSize})
}

// NewTestStagingAreaWithLimits creates a new in-memory staging area with custom limits.
func NewTestStagingAreaWithLimits(limits staging.Limits) *staging.StagingArea {
	hasher, _ := staging.NewHasher(staging.SHA256)
	return staging.NewMemoryStagingArea(hasher, NewStubIDGenerator(), limits)
}
