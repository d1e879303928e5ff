// Package session coordinates the record and playback sessions that share
// the audio device. All session state is owned by a single control
// goroutine; commands, focus changes, device signals and background task
// results reach it as events on one inbound channel.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/jamdeck/internal/audio"
	"github.com/audiolibrelab/jamdeck/internal/focus"
	"golang.org/x/time/rate"
)

const (
	inboxSize        = 64
	subscriberBuffer = 64

	defaultBufferMillis  = 40
	defaultJoinTimeout   = 2 * time.Second
	defaultDuckVolume    = 0.2
	defaultLevelInterval = 100 * time.Millisecond
)

// Options configures a Coordinator
type Options struct {
	Capturer audio.Capturer
	Renderer audio.Renderer

	// Arbiter is shared with nothing else by default; pass one to inspect it
	Arbiter *focus.Arbiter

	// BufferMillis sizes each capture read
	BufferMillis int
	// JoinTimeout bounds the wait for the capture loop on stop
	JoinTimeout time.Duration
	// DuckVolume is the volume scale applied on a duckable focus loss
	DuckVolume float64
	// LevelInterval throttles level-meter notifications while recording
	LevelInterval time.Duration
}

// event is anything consumed by the control loop
type event interface{}

// commandEvent runs fn on the control loop and replies with its error
type commandEvent struct {
	fn    func() error
	reply chan error
}

// interruptEvent is an external consumer taking or returning the device
type interruptEvent struct {
	mode focus.Mode
	end  bool
}

// deviceRemovedEvent reports that the output device went away
type deviceRemovedEvent struct{}

// Coordinator owns the record and playback state machines
type Coordinator struct {
	capturer audio.Capturer
	renderer audio.Renderer
	arbiter  *focus.Arbiter

	bufferMillis int
	joinTimeout  time.Duration
	duckVolume   float64

	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan event
	quit   chan struct{}
	done   chan struct{}

	closeOnce sync.Once

	// owned by the control loop
	rec       recordSession
	pb        playbackSession
	seq       uint64
	takes     uint64
	levelGate rate.Sometimes

	subMu      sync.Mutex
	subs       map[chan Snapshot]struct{}
	subsClosed bool

	lastMu sync.RWMutex
	last   Snapshot
}

// New creates a coordinator and starts its control loop. Close releases the
// device and any held focus.
func New(opts Options) *Coordinator {
	if opts.Arbiter == nil {
		opts.Arbiter = focus.NewArbiter()
	}
	if opts.BufferMillis <= 0 {
		opts.BufferMillis = defaultBufferMillis
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = defaultJoinTimeout
	}
	if opts.DuckVolume <= 0 || opts.DuckVolume > 1 {
		opts.DuckVolume = defaultDuckVolume
	}
	if opts.LevelInterval <= 0 {
		opts.LevelInterval = defaultLevelInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		capturer:     opts.Capturer,
		renderer:     opts.Renderer,
		arbiter:      opts.Arbiter,
		bufferMillis: opts.BufferMillis,
		joinTimeout:  opts.JoinTimeout,
		duckVolume:   opts.DuckVolume,
		ctx:          ctx,
		cancel:       cancel,
		inbox:        make(chan event, inboxSize),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		levelGate:    rate.Sometimes{Interval: opts.LevelInterval},
		subs:         make(map[chan Snapshot]struct{}),
	}
	c.pb.index = -1
	c.pb.volume = 1.0
	c.last = c.snapshot()

	go c.run()
	return c
}

// StartRecording starts capturing format into the raw file at rawPath. It
// is a no-op while a recording is active.
func (c *Coordinator) StartRecording(ctx context.Context, format audio.Format, rawPath string) error {
	_, err := c.StartTake(ctx, format, rawPath)
	return err
}

// StartTake is StartRecording that also returns the take number carried
// in Snapshot.Take by every state of this recording
func (c *Coordinator) StartTake(ctx context.Context, format audio.Format, rawPath string) (uint64, error) {
	var take uint64
	err := c.exec(ctx, func() error {
		err := c.startRecording(format, rawPath)
		take = c.takes
		return err
	})
	return take, err
}

// StopRecording stops an active recording; it does nothing when idle
func (c *Coordinator) StopRecording(ctx context.Context) error {
	return c.exec(ctx, func() error {
		c.stopRecording("stop-recording", nil, true)
		return nil
	})
}

// SetPlaylist replaces the playlist and plays its first item
func (c *Coordinator) SetPlaylist(ctx context.Context, items []audio.Item) error {
	return c.exec(ctx, func() error {
		return c.setPlaylist(items)
	})
}

// PlayItem plays the playlist entry at index. Out of range is a no-op.
func (c *Coordinator) PlayItem(ctx context.Context, index int) error {
	return c.exec(ctx, func() error {
		return c.playItem(index, "play-item")
	})
}

// PlayNext skips to the next playlist entry, or stops after the last one
func (c *Coordinator) PlayNext(ctx context.Context) error {
	return c.exec(ctx, func() error {
		return c.playNext()
	})
}

// StopPlayback stops playback from any state
func (c *Coordinator) StopPlayback(ctx context.Context) error {
	return c.exec(ctx, func() error {
		c.stopPlayback("stop-playback", nil, true)
		return nil
	})
}

// Interrupt reports an external consumer taking the device
func (c *Coordinator) Interrupt(mode focus.Mode) error {
	return c.signal(interruptEvent{mode: mode})
}

// EndInterrupt reports that the external consumer returned the device
func (c *Coordinator) EndInterrupt() error {
	return c.signal(interruptEvent{end: true})
}

// DeviceRemoved stops both sessions and emits one notification
func (c *Coordinator) DeviceRemoved() error {
	return c.signal(deviceRemovedEvent{})
}

// Snapshot returns the current state as seen by the control loop
func (c *Coordinator) Snapshot() Snapshot {
	var s Snapshot
	err := c.exec(context.Background(), func() error {
		s = c.snapshot()
		return nil
	})
	if err != nil {
		c.lastMu.RLock()
		defer c.lastMu.RUnlock()
		return c.last
	}
	return s
}

// Subscribe returns a channel of state-changed notifications and a function
// to stop receiving them. Slow subscribers lose the oldest notifications.
func (c *Coordinator) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberBuffer)

	c.subMu.Lock()
	if c.subsClosed {
		c.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	c.subs[ch] = struct{}{}
	c.subMu.Unlock()

	cancel := func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if _, ok := c.subs[ch]; ok {
			delete(c.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// Close stops both sessions, releases focus and ends the control loop
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		close(c.quit)
		<-c.done
		c.cancel()

		c.subMu.Lock()
		for ch := range c.subs {
			close(ch)
		}
		c.subs = nil
		c.subsClosed = true
		c.subMu.Unlock()

		slog.Debug("Session coordinator closed")
	})
	return nil
}

// exec runs fn on the control loop and waits for its result
func (c *Coordinator) exec(ctx context.Context, fn func() error) error {
	if c.closed() {
		return ErrClosed
	}
	reply := make(chan error, 1)
	select {
	case c.inbox <- commandEvent{fn: fn, reply: reply}:
	case <-c.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// signal queues an event without waiting for it to be handled
func (c *Coordinator) signal(ev event) error {
	if c.closed() {
		return ErrClosed
	}
	select {
	case c.inbox <- ev:
		return nil
	case <-c.quit:
		return ErrClosed
	}
}

// closed reports whether Close was called. The inbox stays writable after
// that, so senders check quit first.
func (c *Coordinator) closed() bool {
	select {
	case <-c.quit:
		return true
	default:
		return false
	}
}

// post is used by background tasks. It gives up when the coordinator
// closes or when abort is closed.
func (c *Coordinator) post(ev event, abort <-chan struct{}) bool {
	if c.closed() {
		return false
	}
	select {
	case c.inbox <- ev:
		return true
	case <-c.quit:
		return false
	case <-abort:
		return false
	}
}

func (c *Coordinator) run() {
	defer close(c.done)
	for {
		select {
		case ev := <-c.inbox:
			c.handle(ev)
		case <-c.quit:
			c.shutdown()
			return
		}
	}
}

func (c *Coordinator) handle(ev event) {
	switch ev := ev.(type) {
	case commandEvent:
		ev.reply <- ev.fn()
	case interruptEvent:
		if ev.end {
			c.arbiter.EndInterrupt()
		} else {
			c.arbiter.Interrupt(ev.mode)
		}
	case deviceRemovedEvent:
		slog.Warn("Audio device removed, stopping all sessions")
		c.stopRecording("device-removed", nil, false)
		c.stopPlayback("device-removed", nil, false)
		c.emit("device-removed", nil)
	case captureProgress:
		c.onCaptureProgress(ev)
	case captureEnded:
		c.onCaptureEnded(ev)
	case prepared:
		c.onPrepared(ev)
	case completed:
		c.onCompleted(ev)
	default:
		slog.Warn("Unknown session event", "type", ev)
	}
}

func (c *Coordinator) shutdown() {
	recordActive := c.rec.state != RecordIdle
	playbackActive := c.pb.state != PlaybackIdle || c.pb.track != nil
	c.stopRecording("shutdown", nil, false)
	c.stopPlayback("shutdown", nil, false)
	if recordActive || playbackActive {
		c.emit("shutdown", nil)
	}
}

// listener routes arbiter notices to the session of kind. Every arbiter
// call is made from the control loop, so listeners run there too.
func (c *Coordinator) listener(kind focus.Kind) focus.Listener {
	return func(n focus.Notice) {
		slog.Debug("Focus notice", "kind", kind, "notice", n)
		switch kind {
		case focus.Record:
			c.onRecordNotice(n)
		case focus.Playback:
			c.onPlaybackNotice(n)
		}
	}
}

func (c *Coordinator) snapshot() Snapshot {
	s := Snapshot{
		Seq:           c.seq,
		Take:          c.takes,
		IsRecording:   c.rec.state == Recording,
		IsPlaying:     c.pb.state == Playing || c.pb.state == Ducked,
		VolumeScale:   c.pb.volume,
		Record:        c.rec.state,
		Playback:      c.pb.state,
		Focus:         c.arbiter.Holder(),
		OutputPath:    c.rec.outputPath,
		FramesWritten: c.rec.framesWritten,
		Level:         c.rec.level,
		CurrentIndex:  c.pb.index,
		PlaylistLen:   len(c.pb.playlist),
	}
	if c.pb.index >= 0 && c.pb.index < len(c.pb.playlist) {
		s.Current = c.pb.playlist[c.pb.index].Name
	}
	return s
}

// emit publishes the current state to every subscriber
func (c *Coordinator) emit(cause string, err error) {
	c.seq++
	s := c.snapshot()
	s.Cause = cause
	if err != nil {
		s.Err = err
		s.Error = err.Error()
	}

	c.lastMu.Lock()
	c.last = s
	c.lastMu.Unlock()

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- s:
			continue
		default:
		}
		// drop the oldest to make room
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}
