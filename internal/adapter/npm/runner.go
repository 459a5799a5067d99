// Package npm runs npm commands for the deploy pipeline and streams their output.
package npm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	maxLine = 1 << 20
	// waitDelay caps how long output copying may outlive a killed process.
	waitDelay = 5 * time.Second
)

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Command, e.Code)
}

// Runner executes npm (or a compatible binary) in a project directory.
type Runner struct {
	bin string
}

// NewRunner creates a Runner for bin. An empty bin means "npm".
func NewRunner(bin string) *Runner {
	if bin == "" {
		bin = "npm"
	}
	return &Runner{bin: bin}
}

// Run executes the binary with args in dir. stdout and stderr are merged and
// each line is passed to onLine in order. An onLine error kills the process
// and is returned.
func (r *Runner) Run(ctx context.Context, dir string, onLine func(string) error, args ...string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	command := strings.TrimSpace(r.bin + " " + strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, r.bin, args...) //nolint:gosec // binary comes from operator config
	cmd.Dir = dir
	cmd.WaitDelay = waitDelay

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		return fmt.Errorf("start %s: %w", command, err)
	}

	var (
		wg      sync.WaitGroup
		lineErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(pr)
		sc.Buffer(make([]byte, 0, 64*1024), maxLine)
		for sc.Scan() {
			if lineErr != nil {
				continue
			}
			if err := onLine(sc.Text()); err != nil {
				lineErr = err
				cancel()
			}
		}
		if err := sc.Err(); err != nil {
			slog.Warn("read command output", "command", command, "error", err)
			_, _ = io.Copy(io.Discard, pr)
		}
	}()

	waitErr := cmd.Wait()
	_ = pw.Close()
	wg.Wait()

	if lineErr != nil {
		return lineErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return &ExitError{Command: command, Code: exitErr.ExitCode()}
		}
		return fmt.Errorf("run %s: %w", command, waitErr)
	}
	return nil
}
