package balloon

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so version stamps are deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the current UTC time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// IDGenerator produces node ids, vault object ids and recursion ids.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.NewString() }
