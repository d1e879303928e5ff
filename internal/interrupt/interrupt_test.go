package interrupt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/audiolibrelab/jamdeck/internal/focus"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) add(e string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) Interrupt(mode focus.Mode) error {
	s.add("interrupt:" + mode.String())
	return nil
}

func (s *recordingSink) EndInterrupt() error  { s.add("end"); return nil }
func (s *recordingSink) DeviceRemoved() error { s.add("removed"); return nil }

func (s *recordingSink) list() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		role string
		mode focus.Mode
		ok   bool
	}{
		{"phone", focus.Exclusive, true},
		{"event", focus.Duckable, true},
		{"notification", focus.Duckable, true},
		{"music", focus.Permanent, true},
		{"video", focus.Permanent, true},
		{"", 0, false},
		{"test", 0, false},
	}
	for _, tt := range tests {
		mode, ok := Classify(tt.role)
		if ok != tt.ok || (ok && mode != tt.mode) {
			t.Errorf("Classify(%q): expected %v/%v, got %v/%v", tt.role, tt.mode, tt.ok, mode, ok)
		}
	}
}

func TestObserve_Interruptions(t *testing.T) {
	sink := &recordingSink{}
	w := NewWatcher(&fakeProbe{}, sink, time.Second)
	w.ownPID = 100

	w.Observe(State{DefaultSink: "speakers"})
	w.Observe(State{DefaultSink: "speakers", Streams: []Stream{{Role: "music", PID: 100}}})
	w.Observe(State{DefaultSink: "speakers", Streams: []Stream{{Role: "event", PID: 7}}})
	w.Observe(State{DefaultSink: "speakers", Streams: []Stream{{Role: "event", PID: 7}}})
	w.Observe(State{DefaultSink: "speakers", Streams: []Stream{{Role: "event", PID: 7}, {Role: "phone", PID: 8}}})
	w.Observe(State{DefaultSink: "speakers"})

	want := []string{"interrupt:duckable", "end", "interrupt:exclusive", "end"}
	got := sink.list()
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestObserve_DeviceRemoved(t *testing.T) {
	sink := &recordingSink{}
	w := NewWatcher(&fakeProbe{}, sink, time.Second)

	w.Observe(State{})
	w.Observe(State{DefaultSink: "headphones"})
	w.Observe(State{DefaultSink: "headphones"})
	w.Observe(State{DefaultSink: "speakers"})
	w.Observe(State{})

	got := sink.list()
	if len(got) != 2 || got[0] != "removed" || got[1] != "removed" {
		t.Errorf("Expected two removals, got %v", got)
	}
}

type fakeProbe struct {
	mu     sync.Mutex
	states []State
	closed bool
}

func (p *fakeProbe) Poll() (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.states) == 0 {
		return State{}, errors.New("no state")
	}
	st := p.states[0]
	if len(p.states) > 1 {
		p.states = p.states[1:]
	}
	return st, nil
}

func (p *fakeProbe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func TestRun_PollsUntilCancelled(t *testing.T) {
	probe := &fakeProbe{states: []State{
		{DefaultSink: "usb"},
		{},
	}}
	sink := &recordingSink{}
	w := NewWatcher(probe, sink, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.list()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Expected a device removal")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}

	probe.mu.Lock()
	defer probe.mu.Unlock()
	if !probe.closed {
		t.Error("Expected probe to be closed")
	}
}
