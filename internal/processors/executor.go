package processors

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

const defaultTailLines = 40

// Executor abstracts command execution for testability. onLine receives every
// line written to stdout or stderr.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onLine func(string)) error
}

// CommandExecutor runs real processes.
type CommandExecutor struct {
	// Dir is the working directory for the command.
	Dir string
	// Env entries are appended to the inherited environment.
	Env []string
}

// CommandError describes a process that could not start or exited non-zero.
type CommandError struct {
	Binary   string
	ExitCode int
	Tail     []string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Binary, e.ExitCode)
	if last := lastMeaningful(e.Tail); last != "" {
		msg += ": " + last
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// Output returns the captured tail joined by newlines.
func (e *CommandError) Output() string {
	return strings.Join(e.Tail, "\n")
}

// Run starts binary, streams its output line by line, and waits for exit.
func (c CommandExecutor) Run(ctx context.Context, binary string, args []string, onLine func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return &CommandError{Binary: binary, ExitCode: -1, Err: err}
	}

	tail := newLineTail(defaultTailLines)
	var mu sync.Mutex
	forward := func(line string) {
		mu.Lock()
		defer mu.Unlock()
		tail.add(line)
		if onLine != nil {
			onLine(line)
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go scanLines(&wg, stdout, forward)
	go scanLines(&wg, stderr, forward)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return &CommandError{Binary: binary, ExitCode: code, Tail: tail.lines(), Err: err}
	}
	return nil
}

// scanLines splits on both \n and \r so carriage-return progress bars arrive
// as separate lines.
func scanLines(wg *sync.WaitGroup, r io.Reader, forward func(string)) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(splitCRLF)
	for scanner.Scan() {
		if line := strings.TrimRight(scanner.Text(), " \t"); line != "" {
			forward(line)
		}
	}
	_, _ = io.Copy(io.Discard, r)
}

func splitCRLF(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

type lineTail struct {
	buf []string
	max int
}

func newLineTail(maxLines int) *lineTail {
	return &lineTail{buf: make([]string, 0, maxLines), max: maxLines}
}

func (t *lineTail) add(line string) {
	if len(t.buf) == t.max {
		copy(t.buf, t.buf[1:])
		t.buf = t.buf[:t.max-1]
	}
	t.buf = append(t.buf, line)
}

func (t *lineTail) lines() []string {
	return append([]string(nil), t.buf...)
}

func lastMeaningful(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if strings.Contains(strings.ToLower(line), "error") {
			return line
		}
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
