package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestTabHandler_Handle(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)

	tests := []struct {
		name    string
		opID    string
		level   slog.Level
		message string
		attrs   []slog.Attr
		want    string
	}{
		{
			name:    "basic info message",
			opID:    "op-123",
			level:   slog.LevelInfo,
			message: "file stored",
			want:    "2024-06-15T14:30:45Z\tINFO\top-123\tfile stored\n",
		},
		{
			name:    "debug level",
			opID:    "op-456",
			level:   slog.LevelDebug,
			message: "checking cache",
			want:    "2024-06-15T14:30:45Z\tDEBUG\top-456\tchecking cache\n",
		},
		{
			name:    "with record attrs",
			opID:    "op-789",
			level:   slog.LevelInfo,
			message: "staged",
			attrs:   []slog.Attr{slog.String("path", "/docs/file.txt"), slog.Int("size", 42)},
			want:    "2024-06-15T14:30:45Z\tINFO\top-789\tstaged\tpath=/docs/file.txt\tsize=42\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := &tabHandler{w: &buf, opID: tt.opID}

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			for _, a := range tt.attrs {
				r.AddAttrs(a)
			}

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}

			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() output =\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestTabHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := &tabHandler{w: &buf, opID: "op-1"}

	// Add pre-set attrs
	h2 := h.WithAttrs([]slog.Attr{slog.String("component", "vault")}).(*tabHandler)

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := slog.NewRecord(ts, slog.LevelInfo, "upload", 0)
	r.AddAttrs(slog.String("key", "abc"))

	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "component=vault") {
		t.Errorf("expected pre-set attr component=vault, got: %q", got)
	}
	if !strings.Contains(got, "key=abc") {
		t.Errorf("expected record attr key=abc, got: %q", got)
	}
}

func TestTabHandler_WithAttrs_doesNotMutateOriginal(t *testing.T) {
	var buf bytes.Buffer
	h := &tabHandler{w: &buf, opID: "op-1", attrs: []slog.Attr{slog.String("a", "1")}}

	h2 := h.WithAttrs([]slog.Attr{slog.String("b", "2")}).(*tabHandler)

	if len(h.attrs) != 1 {
		t.Errorf("original handler attrs modified: got %d, want 1", len(h.attrs))
	}
	if len(h2.attrs) != 2 {
		t.Errorf("new handler attrs: got %d, want 2", len(h2.attrs))
	}
}

func TestTabHandler_Enabled(t *testing.T) {
	h := &tabHandler{level: slog.LevelInfo}
	for level, want := range map[slog.Level]bool{
		slog.LevelDebug: false,
		slog.LevelInfo:  true,
		slog.LevelWarn:  true,
		slog.LevelError: true,
	} {
		if got := h.Enabled(context.Background(), level); got != want {
			t.Errorf("Enabled(%v) = %v, want %v", level, got, want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	dir := t.TempDir()

	var console bytes.Buffer
	logger, f, err := newLogger(dir, "test-op", &console, slog.LevelInfo)
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	defer f.Close()

	logger.Debug("hidden")
	logger.Info("shown", "node", "n1")

	data, err := os.ReadFile(filepath.Join(dir, "balloon.log"))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if string(data) != console.String() {
		t.Errorf("log file and console differ:\n%q\n%q", data, console.String())
	}
	if strings.Contains(console.String(), "hidden") {
		t.Errorf("debug record written at info level: %q", console.String())
	}
	if !strings.Contains(console.String(), "\tINFO\ttest-op\tshown\tnode=n1\n") {
		t.Errorf("unexpected output: %q", console.String())
	}
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	a := &slogAdapter{l: slog.New(&tabHandler{w: &buf, opID: "op", level: slog.LevelDebug})}

	a.Debug("d")
	a.Info("i")
	a.Warn("w", "k", 1)
	a.Error("e")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[2], "\tWARN\top\tw\tk=1") {
		t.Errorf("warn line = %q", lines[2])
	}
}
