package codec

import (
	"bytes"
	"testing"
	"time"
)

type sampleRecord struct {
	Name    string            `cbor:"1,keyasint"`
	Size    int64             `cbor:"2,keyasint"`
	Changed time.Time         `cbor:"3,keyasint"`
	Deleted *time.Time        `cbor:"4,keyasint,omitempty"`
	Labels  map[string]string `cbor:"5,keyasint,omitempty"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	stamp := time.Date(2024, 3, 1, 12, 30, 45, 123456789, time.UTC)
	original := sampleRecord{
		Name:    "report.pdf",
		Size:    4096,
		Changed: stamp,
		Deleted: &stamp,
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleRecord
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if decoded.Name != original.Name || decoded.Size != original.Size {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
	if !decoded.Changed.Equal(stamp) {
		t.Errorf("Changed = %v, want %v (nanoseconds must survive)", decoded.Changed, stamp)
	}
	if decoded.Deleted == nil || !decoded.Deleted.Equal(stamp) {
		t.Errorf("Deleted = %v, want %v", decoded.Deleted, stamp)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	record := sampleRecord{
		Name:   "a",
		Labels: map[string]string{"zeta": "1", "alpha": "2", "mid": "3"},
	}

	first, err := Marshal(record)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := Marshal(record)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("encoding %d differs from the first", i)
		}
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	type newer struct {
		Name  string `cbor:"1,keyasint"`
		Extra string `cbor:"9,keyasint"`
	}
	data, err := Marshal(newer{Name: "n", Extra: "x"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleRecord
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Name != "n" {
		t.Errorf("Name = %q, want %q", decoded.Name, "n")
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	var decoded sampleRecord
	if err := Unmarshal([]byte{0xff, 0x00}, &decoded); err == nil {
		t.Error("Unmarshal of garbage succeeded")
	}
}
