// Package interrupt turns PulseAudio activity into session signals: the
// default sink going away becomes DeviceRemoved, and role-tagged streams
// of other applications become external focus holders.
package interrupt

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/audiolibrelab/jamdeck/internal/audio"
	"github.com/audiolibrelab/jamdeck/internal/focus"
	"github.com/jfreymuth/pulse/proto"
)

const defaultPollInterval = 500 * time.Millisecond

// Sink receives interruption signals. *session.Coordinator satisfies it.
type Sink interface {
	Interrupt(mode focus.Mode) error
	EndInterrupt() error
	DeviceRemoved() error
}

// Stream is a playback stream of some application
type Stream struct {
	Index uint32
	App   string
	Role  string
	PID   int
}

// State is one observation of the sound server
type State struct {
	// DefaultSink is empty when there is no output device
	DefaultSink string
	Streams     []Stream
}

// Probe reads the sound server state
type Probe interface {
	Poll() (State, error)
	Close() error
}

// PulseProbe polls a PulseAudio or pipewire-pulse server
type PulseProbe struct {
	client *proto.Client
	conn   net.Conn
}

func NewPulseProbe() (*PulseProbe, error) {
	client, conn, err := audio.ConnectPulse("jamdeck-watcher")
	if err != nil {
		return nil, err
	}
	return &PulseProbe{client: client, conn: conn}, nil
}

func (p *PulseProbe) Poll() (State, error) {
	var st State

	sink := proto.GetSinkInfoReply{}
	if err := p.client.Request(&proto.GetSinkInfo{SinkIndex: proto.Undefined}, &sink); err == nil {
		st.DefaultSink = sink.SinkName
	} else {
		slog.Debug("No default sink", "error", err)
	}

	inputs := proto.GetSinkInputInfoListReply{}
	if err := p.client.Request(&proto.GetSinkInputInfoList{}, &inputs); err != nil {
		return st, fmt.Errorf("get sink input list: %w", err)
	}
	for _, info := range inputs {
		if info == nil {
			continue
		}
		s := Stream{Index: info.SinkInputIndex}
		if v, ok := info.Properties["application.name"]; ok {
			s.App = v.String()
		}
		if v, ok := info.Properties["media.role"]; ok {
			s.Role = v.String()
		}
		if v, ok := info.Properties["application.process.id"]; ok {
			if pid, err := strconv.Atoi(v.String()); err == nil {
				s.PID = pid
			}
		}
		st.Streams = append(st.Streams, s)
	}
	return st, nil
}

func (p *PulseProbe) Close() error {
	if err := p.conn.Close(); err != nil {
		return fmt.Errorf("close PulseAudio connection: %w", err)
	}
	return nil
}

// Classify maps a stream's media role to the way it takes the device. ok is
// false for streams that do not interrupt.
func Classify(role string) (mode focus.Mode, ok bool) {
	switch role {
	case "phone":
		return focus.Exclusive, true
	case "event", "notification", "a11y", "accessibility", "animation":
		return focus.Duckable, true
	case "music", "video", "game", "production":
		return focus.Permanent, true
	}
	return 0, false
}

// strongest picks the interrupt that dominates when several streams play
// at once: exclusive over permanent over duckable.
func strongest(streams []Stream, ownPID int) (focus.Mode, bool) {
	rank := map[focus.Mode]int{focus.Duckable: 1, focus.Permanent: 2, focus.Exclusive: 3}
	var best focus.Mode
	found := false
	for _, s := range streams {
		if s.PID != 0 && s.PID == ownPID {
			continue
		}
		mode, ok := Classify(s.Role)
		if !ok {
			continue
		}
		if !found || rank[mode] > rank[best] {
			best, found = mode, true
		}
	}
	return best, found
}

// Watcher polls a Probe and forwards changes to a Sink
type Watcher struct {
	probe    Probe
	sink     Sink
	interval time.Duration
	ownPID   int

	primed     bool
	lastSink   string
	active     bool
	activeMode focus.Mode
}

func NewWatcher(probe Probe, sink Sink, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Watcher{
		probe:    probe,
		sink:     sink,
		interval: interval,
		ownPID:   os.Getpid(),
	}
}

// Run polls until ctx is done, then closes the probe
func (w *Watcher) Run(ctx context.Context) error {
	defer func() {
		if err := w.probe.Close(); err != nil {
			slog.Debug("Failed to close probe", "error", err)
		}
	}()

	slog.Info("Watching audio devices", "interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("Stopping audio device watcher")
			return nil
		case <-ticker.C:
			st, err := w.probe.Poll()
			if err != nil {
				slog.Warn("Failed to poll sound server", "error", err)
				continue
			}
			w.Observe(st)
		}
	}
}

// Observe compares st with the previous observation and signals the sink
func (w *Watcher) Observe(st State) {
	if !w.primed {
		w.primed = true
		w.lastSink = st.DefaultSink
	} else if w.lastSink != "" && st.DefaultSink != w.lastSink {
		slog.Info("Output device removed", "previous", w.lastSink, "current", st.DefaultSink)
		if err := w.sink.DeviceRemoved(); err != nil {
			slog.Debug("Failed to signal device removal", "error", err)
		}
	}
	w.lastSink = st.DefaultSink

	mode, found := strongest(st.Streams, w.ownPID)
	if found == w.active && (!found || mode == w.activeMode) {
		return
	}

	if w.active {
		slog.Debug("External audio ended", "mode", w.activeMode)
		if err := w.sink.EndInterrupt(); err != nil {
			slog.Debug("Failed to signal end of interruption", "error", err)
		}
	}
	w.active, w.activeMode = found, mode
	if found {
		slog.Info("External audio started", "mode", mode)
		if err := w.sink.Interrupt(mode); err != nil {
			slog.Debug("Failed to signal interruption", "error", err)
		}
	}
}
