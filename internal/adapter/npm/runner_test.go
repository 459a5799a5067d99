package npm

import (
	"context"
	"errors"
	"os/exec"
	"testing"
)

func shRunner(t *testing.T) *Runner {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	return NewRunner("sh")
}

func TestRunner_StreamsMergedOutput(t *testing.T) {
	r := shRunner(t)
	var lines []string
	err := r.Run(context.Background(), t.TempDir(), func(l string) error {
		lines = append(lines, l)
		return nil
	}, "-c", "echo one; echo two >&2; echo three")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"one", "two", "three"}
	if len(lines) != len(want) {
		t.Fatalf("lines = %q, want %q", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestRunner_NonZeroExit(t *testing.T) {
	r := shRunner(t)
	err := r.Run(context.Background(), t.TempDir(), func(string) error { return nil }, "-c", "echo failing; exit 3")
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if exitErr.Code != 3 {
		t.Errorf("exit code = %d, want 3", exitErr.Code)
	}
}

func TestRunner_CallbackErrorStops(t *testing.T) {
	r := shRunner(t)
	stop := errors.New("stop")
	err := r.Run(context.Background(), t.TempDir(), func(string) error { return stop }, "-c", "echo a; exec sleep 5")
	if !errors.Is(err, stop) {
		t.Fatalf("expected callback error, got %v", err)
	}
}

func TestRunner_ContextCancelled(t *testing.T) {
	r := shRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Run(ctx, t.TempDir(), func(string) error { return nil }, "-c", "sleep 5")
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestRunner_MissingBinary(t *testing.T) {
	r := NewRunner("streamforge-no-such-binary")
	err := r.Run(context.Background(), t.TempDir(), func(string) error { return nil }, "install")
	if err == nil {
		t.Fatal("expected start error")
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		t.Fatal("missing binary must not be reported as an exit error")
	}
}
