package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireAndRelease(t *testing.T) {
	tmpDir := t.TempDir()

	l, err := Acquire(tmpDir, "127.0.0.1:8765")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	h, err := ReadHolder(tmpDir)
	if err != nil {
		t.Fatalf("ReadHolder() error = %v", err)
	}
	if h.PID != os.Getpid() || h.Addr != "127.0.0.1:8765" || h.Since.IsZero() {
		t.Errorf("holder = %+v", h)
	}

	if err := l.Release(); err != nil {
		t.Errorf("Release() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, FileName)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("lock file left behind: %v", err)
	}
	if _, err := ReadHolder(tmpDir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("ReadHolder() after release error = %v", err)
	}
}

func TestDoubleAcquireFails(t *testing.T) {
	tmpDir := t.TempDir()

	l1, err := Acquire(tmpDir, "127.0.0.1:8765")
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer func() { _ = l1.Release() }()

	_, err = Acquire(tmpDir, "127.0.0.1:9999")
	if err == nil {
		t.Fatal("second Acquire() should fail")
	}

	var lockErr *LockHeldError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected LockHeldError, got %T: %v", err, err)
	}
	if lockErr.PID != os.Getpid() || lockErr.Addr != "127.0.0.1:8765" {
		t.Errorf("lock error = %+v", lockErr)
	}
}

func TestReleaseNil(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}
}

func TestParseHolder(t *testing.T) {
	tests := []struct {
		content string
		pid     int
		addr    string
	}{
		{"pid=42\naddr=:1\ntime=2026-01-02T03:04:05Z\n", 42, ":1"},
		{"pid=7\n", 7, ""},
		{"garbage", 0, ""},
		{"", 0, ""},
	}
	for _, tt := range tests {
		h := parseHolder(tt.content)
		if h.PID != tt.pid || h.Addr != tt.addr {
			t.Errorf("parseHolder(%q) = %+v", tt.content, h)
		}
	}
}
