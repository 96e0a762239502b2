// Package builtin provides job definitions shipped with the ledger.
package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/sharma-sourabh3435/provenance-ledger/internal/jobs"
	"github.com/sharma-sourabh3435/provenance-ledger/internal/models"
)

// StdoutArtifact is the artifact a command job writes with its captured stdout
const StdoutArtifact = "stdout.txt"

// InputEnv carries the run's canonical input to the command
const InputEnv = "LEDGER_INPUT"

// ExecutionResult holds the result of a command execution
type ExecutionResult struct {
	Stdout   string
	ExitCode int
	Duration time.Duration
	Error    error
}

// Command runs a shell command as a job
type Command struct {
	Key     string
	Command string
	// Dir is relative to the workspace root; empty means the root itself.
	Dir            string
	MaxRunDuration time.Duration
}

// Definition turns the command into a registrable job
func (c Command) Definition() jobs.Definition {
	return jobs.Definition{
		Key:            c.Key,
		Run:            c.run,
		MaxRunDuration: c.MaxRunDuration,
	}
}

func (c Command) run(ctx context.Context, jc *jobs.Context, input json.RawMessage) error {
	dir := jc.Workspace.Root()
	if c.Dir != "" {
		resolved, err := jc.Workspace.Resolve(c.Dir)
		if err != nil {
			return err
		}
		dir = resolved
	}

	jc.Log.Infof("executing: %s", c.Command)
	result := Execute(ctx, c.Command, dir, input, func(stream, line string) {
		level := models.LogLevelInfo
		if stream == "stderr" {
			level = models.LogLevelWarn
		}
		_ = jc.Log.Log(level, line)
	})

	if _, err := jc.WriteArtifact(StdoutArtifact, []byte(result.Stdout)); err != nil {
		return fmt.Errorf("failed to store stdout: %w", err)
	}

	if result.Error != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("command exited with code %d: %w", result.ExitCode, result.Error)
	}
	jc.Log.Infof("command completed in %v", result.Duration)
	return nil
}

// shellCommand wraps command for the host shell
func shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "powershell.exe", "-Command", command)
	}
	return exec.CommandContext(ctx, "sh", "-c", command)
}

// Execute runs command in dir, passing each output line to onLine as it is
// produced. The process is killed when ctx is cancelled.
func Execute(ctx context.Context, command, dir string, input []byte, onLine func(stream, line string)) ExecutionResult {
	start := time.Now()

	cmd := shellCommand(ctx, command)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), InputEnv+"="+string(input))
	cmd.WaitDelay = killGrace

	var stdout bytes.Buffer
	var mu sync.Mutex
	emit := func(stream, line string) {
		mu.Lock()
		defer mu.Unlock()
		if stream == "stdout" {
			stdout.WriteString(line)
			stdout.WriteByte('\n')
		}
		if onLine != nil {
			onLine(stream, line)
		}
	}

	outWriter := &lineWriter{stream: "stdout", emit: emit}
	errWriter := &lineWriter{stream: "stderr", emit: emit}
	cmd.Stdout = outWriter
	cmd.Stderr = errWriter

	err := cmd.Run()
	outWriter.Flush()
	errWriter.Flush()

	mu.Lock()
	result := ExecutionResult{
		Stdout:   stdout.String(),
		Duration: time.Since(start),
		Error:    err,
	}
	mu.Unlock()

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
	}
	return result
}

// killGrace bounds how long Run waits for output after the process is killed
const killGrace = 2 * time.Second

// lineWriter splits written bytes into lines
type lineWriter struct {
	stream  string
	emit    func(stream, line string)
	pending []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		w.emit(w.stream, strings.TrimSuffix(string(w.pending[:i]), "\r"))
		w.pending = w.pending[i+1:]
	}
	return len(p), nil
}

// Flush emits a trailing line without a newline
func (w *lineWriter) Flush() {
	if len(w.pending) > 0 {
		w.emit(w.stream, string(w.pending))
		w.pending = nil
	}
}
