package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/audiolibrelab/jamdeck/internal/audio"
	"github.com/audiolibrelab/jamdeck/internal/focus"
	"github.com/google/uuid"
)

type recordSession struct {
	state         RecordState
	outputPath    string
	format        audio.Format
	framesWritten int64
	level         int
	capture       *capture
}

// capture is one run of the pull loop. Fields other than stopping, quit
// and done belong to the pull goroutine until done is closed.
type capture struct {
	id       uuid.UUID
	src      audio.Source
	out      *os.File
	bufSize  int
	bitDepth int

	stopping atomic.Bool
	quit     chan struct{}
	done     chan struct{}

	written int64
}

type captureProgress struct {
	id      uuid.UUID
	written int64
	level   int
}

type captureEnded struct {
	id  uuid.UUID
	err error
}

func (c *Coordinator) startRecording(format audio.Format, rawPath string) error {
	if c.rec.state != RecordIdle {
		slog.Debug("Recording already active, ignoring start", "state", c.rec.state)
		return nil
	}
	if err := format.Validate(); err != nil {
		return fmt.Errorf("invalid capture format: %w", err)
	}
	if rawPath == "" {
		return errors.New("raw output path is required")
	}
	if c.capturer == nil {
		return fmt.Errorf("%w: no capturer configured", ErrDeviceInit)
	}

	c.takes++
	c.rec = recordSession{
		state:      RecordAcquiringFocus,
		outputPath: rawPath,
		format:     format,
	}
	c.emit("start-recording", nil)

	if c.arbiter.Request(focus.Record, c.listener(focus.Record)) == focus.Denied {
		slog.Warn("Recording focus denied")
		c.rec.state = RecordIdle
		c.emit("focus-denied", ErrFocusDenied)
		return ErrFocusDenied
	}

	out, err := createRaw(rawPath)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrDeviceInit, err)
		c.abortRecordStart(err)
		return err
	}

	src, err := c.capturer.Open(c.ctx, format)
	if err != nil {
		out.Close()
		os.Remove(rawPath)
		err = fmt.Errorf("%w: %v", ErrDeviceInit, err)
		c.abortRecordStart(err)
		return err
	}

	t := &capture{
		id:       uuid.New(),
		src:      src,
		out:      out,
		bufSize:  format.BufferSize(c.bufferMillis),
		bitDepth: format.BitDepth,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.rec.capture = t
	c.rec.state = Recording
	go t.run(c)

	slog.Info("Recording started", "output", rawPath, "format", format.String(), "capture", t.id)
	c.emit("recording", nil)
	return nil
}

func (c *Coordinator) abortRecordStart(err error) {
	slog.Error("Failed to start recording", "error", err)
	c.arbiter.Release(focus.Record)
	c.rec.state = RecordIdle
	c.emit("device-init-failed", err)
}

func createRaw(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create raw output: %w", err)
	}
	return f, nil
}

// run pulls chunks from the source and appends them to the raw file. A
// chunk read after stopping is set is dropped.
func (t *capture) run(c *Coordinator) {
	defer close(t.done)
	defer t.out.Close()

	buf := make([]byte, t.bufSize)
	for {
		n, err := t.src.Read(buf)
		if t.stopping.Load() {
			return
		}

		if n > 0 {
			w, werr := t.out.Write(buf[:n])
			t.written += int64(w)
			if werr != nil {
				c.post(captureEnded{id: t.id, err: fmt.Errorf("write raw output: %w", werr)}, t.quit)
				return
			}
			c.post(captureProgress{
				id:      t.id,
				written: t.written,
				level:   audio.Level(buf[:n], t.bitDepth),
			}, t.quit)
		}

		if err != nil {
			c.post(captureEnded{id: t.id, err: err}, t.quit)
			return
		}
	}
}

func (c *Coordinator) onCaptureProgress(ev captureProgress) {
	t := c.rec.capture
	if c.rec.state != Recording || t == nil || t.id != ev.id {
		return
	}
	if frames := ev.written / int64(c.rec.format.FrameSize()); frames > c.rec.framesWritten {
		c.rec.framesWritten = frames
	}
	c.rec.level = ev.level
	c.levelGate.Do(func() {
		c.emit("level", nil)
	})
}

func (c *Coordinator) onCaptureEnded(ev captureEnded) {
	t := c.rec.capture
	if c.rec.state != Recording || t == nil || t.id != ev.id {
		return
	}
	cause := ev.err
	if errors.Is(cause, io.EOF) {
		cause = io.ErrUnexpectedEOF
	}
	err := fmt.Errorf("%w: %v", ErrCaptureRead, cause)
	slog.Error("Capture failed, stopping recording", "error", cause)
	c.stopRecording("capture-error", err, true)
}

func (c *Coordinator) onRecordNotice(n focus.Notice) {
	if n == focus.Gained {
		return
	}
	c.stopRecording("focus-"+n.String(), nil, true)
}

// stopRecording halts the pull loop and waits for it, bounded by the join
// timeout, before releasing focus.
func (c *Coordinator) stopRecording(cause string, err error, notify bool) {
	if c.rec.state != Recording {
		return
	}
	t := c.rec.capture

	t.stopping.Store(true)
	close(t.quit)
	if cerr := t.src.Close(); cerr != nil {
		slog.Debug("Error closing capture source", "error", cerr)
	}

	select {
	case <-t.done:
		if frames := t.written / int64(c.rec.format.FrameSize()); frames > c.rec.framesWritten {
			c.rec.framesWritten = frames
		}
	case <-time.After(c.joinTimeout):
		slog.Warn("Capture loop did not exit in time", "timeout", c.joinTimeout, "capture", t.id)
	}

	c.rec.state = RecordStopping
	if notify {
		c.emit(cause, nil)
	}

	c.arbiter.Release(focus.Record)
	c.rec.state = RecordIdle
	c.rec.capture = nil
	c.rec.level = 0

	slog.Info("Recording stopped",
		"cause", cause,
		"output", c.rec.outputPath,
		"frames", c.rec.framesWritten)
	if notify {
		c.emit(cause, err)
	}
}
