package main

import (
	"testing"
)

func TestReadPassphrase_FromEnv(t *testing.T) {
	t.Setenv(passphraseEnv, "from-env")
	got, err := readPassphrase("ignored: ")
	if err != nil {
		t.Fatalf("readPassphrase() error = %v", err)
	}
	if got != "from-env" {
		t.Errorf("readPassphrase() = %q, want %q", got, "from-env")
	}
	if got, err := readNewPassphrase(); err != nil || got != "from-env" {
		t.Errorf("readNewPassphrase() = %q, %v", got, err)
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"3", 3, false},
		{"v12", 12, false},
		{"0", 0, true},
		{"v", 0, true},
		{"-1", 0, true},
	}
	for _, tt := range tests {
		got, err := parseVersion(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseVersion(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseVersion(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSplitRemote(t *testing.T) {
	tests := []struct {
		in, dir, name string
	}{
		{"a.txt", "/", "a.txt"},
		{"/docs/a.txt", "/docs/", "a.txt"},
		{"docs/sub/", "/docs/", "sub"},
	}
	for _, tt := range tests {
		dir, name := splitRemote(tt.in)
		if dir != tt.dir || name != tt.name {
			t.Errorf("splitRemote(%q) = %q, %q; want %q, %q", tt.in, dir, name, tt.dir, tt.name)
		}
	}
}
