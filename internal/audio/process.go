package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// stopTimeout bounds how long a capture process may take to exit after SIGINT
const stopTimeout = 5 * time.Second

// ProcessCapturer captures PCM from an external tool writing raw samples to stdout
type ProcessCapturer struct {
	backend   BackendType
	device    string
	logWriter io.Writer

	// listPorts is replaced in tests
	listPorts func() ([]string, error)
}

// Backend returns the resolved capture tool
func (c *ProcessCapturer) Backend() BackendType {
	return c.backend
}

// Open starts the capture tool for the given format
func (c *ProcessCapturer) Open(ctx context.Context, format Format) (Source, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if c.backend == BackendTypePipeWire && c.device != "" {
		ports, err := c.listPorts()
		if err != nil {
			slog.Debug("Skipping capture target check", "error", err)
		} else if err := validateTarget(c.device, ports); err != nil {
			return nil, err
		}
	}

	args, err := commandArgs(c.backend, c.device, format)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(string(c.backend), args...)
	src := &processSource{cmd: cmd}
	cmd.Stderr = io.MultiWriter(c.logWriter, &src.stderr)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	src.stdout = stdout

	slog.Debug("Starting capture process", "backend", c.backend, "args", args)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", c.backend, err)
	}

	slog.Info("Capture process started", "backend", c.backend, "pid", cmd.Process.Pid, "format", format.String())
	return src, nil
}

// processSource reads the stdout of a running capture process
type processSource struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr bytes.Buffer

	closeOnce sync.Once
}

func (s *processSource) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

// Close interrupts the capture process and closes its pipe so that a
// blocked Read returns. Reaping happens in the background.
func (s *processSource) Close() error {
	s.closeOnce.Do(func() {
		if s.cmd.Process != nil {
			slog.Debug("Sending SIGINT to capture process", "pid", s.cmd.Process.Pid)
			if err := s.cmd.Process.Signal(os.Interrupt); err != nil {
				slog.Debug("Failed to interrupt capture process, killing", "error", err)
				s.cmd.Process.Kill()
			}
		}
		s.stdout.Close()
		go s.reap()
	})
	return nil
}

func (s *processSource) reap() {
	done := make(chan error, 1)
	go func() {
		done <- s.cmd.Wait()
	}()

	select {
	case err := <-done:
		if err != nil && !isSignalExit(err) && !errors.Is(err, os.ErrClosed) {
			slog.Debug("Capture process exited with error", "error", err, "stderr", s.stderr.String())
			return
		}
		slog.Debug("Capture process exited")
	case <-time.After(stopTimeout):
		slog.Warn("Capture process did not exit within timeout, force killing")
		s.cmd.Process.Kill()
		<-done
	}
}

// isSignalExit reports whether the process ended because we signalled it
func isSignalExit(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	if exitErr.ExitCode() == 255 || exitErr.ExitCode() == 1 {
		return true
	}
	if exitErr.ProcessState != nil {
		state := exitErr.ProcessState.String()
		return state == "signal: interrupt" || state == "signal: killed"
	}
	return false
}
