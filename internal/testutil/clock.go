package testutil

import (
	"strconv"
	"sync"
	"time"
)

// StubClock is a manually driven balloon.Clock. Safe for concurrent use.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewStubClock creates a StubClock reading t, normalized to UTC.
func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t.UTC()}
}

// FixedClock returns a StubClock set to 2024-01-15 10:30:00 UTC.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
func (c *StubClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// StubIDGenerator hands out node, blob and upload ids in sequence: "id-1",
// "id-2", ...
type StubIDGenerator struct {
	mu     sync.Mutex
	prefix string
	issued int
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{prefix: "id-"}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.issued++
	return g.prefix + strconv.Itoa(g.issued)
}

// Issued returns how many ids have been handed out.
func (g *StubIDGenerator) Issued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.issued
}
