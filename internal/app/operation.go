package app

import "time"

// Operation tracks one CLI invocation against the engine. Its ID tags every
// log line written while it runs.
type Operation struct {
	ID      string
	Name    string
	Started time.Time
	Status  string // "success" or "error"
	Err     error
}

// NewOperation creates an operation started at now.
func NewOperation(name string, now time.Time) *Operation {
	now = now.UTC()
	return &Operation{
		ID:      now.Format("20060102T150405Z"),
		Name:    name,
		Started: now,
		Status:  "success",
	}
}

// Fail marks the operation as failed. The first error is kept.
func (op *Operation) Fail(err error) {
	if err == nil || op.Err != nil {
		return
	}
	op.Status = "error"
	op.Err = err
}
