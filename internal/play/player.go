// Package play decodes playlist items and renders them on an output device.
package play

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/audiolibrelab/jamdeck/internal/audio"
)

const defaultPollInterval = 50 * time.Millisecond

// Output is an audio device that plays 16-bit little-endian PCM in Format
type Output interface {
	Format() audio.Format
	NewPlayer(r io.Reader) Player
}

// Player plays one reader on an Output
type Player interface {
	Play()
	Pause()
	IsPlaying() bool
	SetVolume(volume float64)
	Close() error
}

// Renderer prepares playlist items for an Output
type Renderer struct {
	out          Output
	pollInterval time.Duration
}

// NewRenderer returns a renderer for out. A zero pollInterval uses the
// default completion check interval.
func NewRenderer(out Output, pollInterval time.Duration) *Renderer {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Renderer{out: out, pollInterval: pollInterval}
}

// Prepare opens and decodes item. The returned track is paused.
func (r *Renderer) Prepare(ctx context.Context, item audio.Item) (audio.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stream, err := Open(item.Path)
	if err != nil {
		return nil, err
	}

	outFormat := r.out.Format()
	t := &track{
		name:   item.Name,
		stream: stream,
		src:    newConverter(stream, stream.Format(), outFormat),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	t.player = r.out.NewPlayer(t)

	go t.monitor(r.pollInterval)

	slog.Debug("Track prepared",
		"name", item.Name,
		"from", stream.Format().String(),
		"to", outFormat.String())
	return t, nil
}

type track struct {
	name   string
	stream *Stream
	src    io.Reader
	player Player

	started atomic.Bool
	paused  atomic.Bool
	eof     atomic.Bool

	stop      chan struct{}
	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
}

// Read feeds the player. Decode errors end the track.
func (t *track) Read(p []byte) (int, error) {
	n, err := t.src.Read(p)
	if err == nil {
		return n, nil
	}
	if err != io.EOF {
		slog.Warn("Decode error, ending track", "name", t.name, "error", err)
	}
	t.eof.Store(true)
	return n, io.EOF
}

func (t *track) Play() {
	t.paused.Store(false)
	t.started.Store(true)
	t.player.Play()
}

func (t *track) Pause() {
	t.paused.Store(true)
	t.player.Pause()
}

func (t *track) SetVolume(v float64) {
	t.player.SetVolume(v)
}

func (t *track) Done() <-chan struct{} {
	return t.done
}

func (t *track) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stop)
		if perr := t.player.Close(); perr != nil {
			err = fmt.Errorf("failed to close player: %w", perr)
		}
		if serr := t.stream.Close(); serr != nil && err == nil {
			err = fmt.Errorf("failed to close stream: %w", serr)
		}
		t.finish()
	})
	return err
}

func (t *track) finish() {
	t.doneOnce.Do(func() { close(t.done) })
}

// monitor closes done once the decoder is drained and the player has
// played out its buffer.
func (t *track) monitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if t.started.Load() && !t.paused.Load() && t.eof.Load() && !t.player.IsPlaying() {
				slog.Debug("Track finished", "name", t.name)
				t.finish()
				return
			}
		}
	}
}
