package app

import (
	"errors"
	"testing"
	"time"
)

func TestNewOperation(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 5, 0, time.FixedZone("CET", 3600))

	op := NewOperation("put", now)

	if op.ID != "20240115T093005Z" {
		t.Errorf("ID = %q, want %q", op.ID, "20240115T093005Z")
	}
	if op.Name != "put" {
		t.Errorf("Name = %q, want %q", op.Name, "put")
	}
	if op.Status != "success" {
		t.Errorf("Status = %q, want %q", op.Status, "success")
	}
	if !op.Started.Equal(now) {
		t.Errorf("Started = %v, want %v", op.Started, now)
	}
}

func TestOperation_Fail(t *testing.T) {
	op := NewOperation("mv", time.Now())
	first := errors.New("first")

	op.Fail(nil)
	if op.Status != "success" {
		t.Fatalf("Fail(nil) changed status to %q", op.Status)
	}

	op.Fail(first)
	op.Fail(errors.New("second"))

	if op.Status != "error" {
		t.Errorf("Status = %q, want %q", op.Status, "error")
	}
	if op.Err != first {
		t.Errorf("Err = %v, want %v", op.Err, first)
	}
}
