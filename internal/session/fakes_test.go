package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/audiolibrelab/jamdeck/internal/audio"
)

// fakeSource delivers whatever is sent on chunks. Closing chunks ends the
// stream with io.EOF.
type fakeSource struct {
	chunks chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		chunks: make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (s *fakeSource) Read(p []byte) (int, error) {
	select {
	case b, ok := <-s.chunks:
		if !ok {
			return 0, io.EOF
		}
		return copy(p, b), nil
	case <-s.closed:
		return 0, io.ErrClosedPipe
	}
}

func (s *fakeSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type fakeCapturer struct {
	mu      sync.Mutex
	err     error
	sources []*fakeSource
}

func (f *fakeCapturer) Open(ctx context.Context, format audio.Format) (audio.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	src := newFakeSource()
	f.sources = append(f.sources, src)
	return src, nil
}

func (f *fakeCapturer) opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sources)
}

func (f *fakeCapturer) source(t *testing.T, i int) *fakeSource {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		f.mu.Lock()
		if i < len(f.sources) {
			src := f.sources[i]
			f.mu.Unlock()
			return src
		}
		f.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for capture source %d", i)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type fakeTrack struct {
	name string

	mu      sync.Mutex
	playing bool
	volume  float64
	pauses  int
	closed  bool

	done chan struct{}
	once sync.Once
}

func (tr *fakeTrack) Play() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.playing = true
}

func (tr *fakeTrack) Pause() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.playing = false
	tr.pauses++
}

func (tr *fakeTrack) SetVolume(v float64) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.volume = v
}

func (tr *fakeTrack) Done() <-chan struct{} {
	return tr.done
}

func (tr *fakeTrack) Close() error {
	tr.mu.Lock()
	tr.closed = true
	tr.playing = false
	tr.mu.Unlock()
	tr.finish()
	return nil
}

// finish simulates the track running out of audio
func (tr *fakeTrack) finish() {
	tr.once.Do(func() { close(tr.done) })
}

func (tr *fakeTrack) state() (playing bool, volume float64, closed bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.playing, tr.volume, tr.closed
}

type fakeRenderer struct {
	mu     sync.Mutex
	fail   map[string]error
	tracks []*fakeTrack
	// hold, when set, keeps Prepare pending until it is closed
	hold chan struct{}
}

func (r *fakeRenderer) Prepare(ctx context.Context, item audio.Item) (audio.Track, error) {
	if r.hold != nil {
		select {
		case <-r.hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail[item.Name]; err != nil {
		return nil, err
	}
	tr := &fakeTrack{name: item.Name, done: make(chan struct{})}
	r.tracks = append(r.tracks, tr)
	return tr, nil
}

func (r *fakeRenderer) prepared() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tracks)
}

func (r *fakeRenderer) last() *fakeTrack {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.tracks) == 0 {
		return nil
	}
	return r.tracks[len(r.tracks)-1]
}

func (r *fakeRenderer) track(t *testing.T, i int) *fakeTrack {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		r.mu.Lock()
		if i < len(r.tracks) {
			tr := r.tracks[i]
			r.mu.Unlock()
			return tr
		}
		r.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for track %d", i)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

var errDecode = errors.New("unsupported file")

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeCapturer, *fakeRenderer) {
	t.Helper()
	capt := &fakeCapturer{}
	rend := &fakeRenderer{fail: map[string]error{}}
	c := New(Options{
		Capturer:      capt,
		Renderer:      rend,
		JoinTimeout:   time.Second,
		LevelInterval: time.Hour,
	})
	t.Cleanup(func() { c.Close() })
	return c, capt, rend
}

func waitFor(t *testing.T, c *Coordinator, desc string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s := c.Snapshot()
		if cond(s) {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s, last state %+v", desc, s)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitUntil(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", desc)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// nextEvent reads notifications until one matches cond
func nextEvent(t *testing.T, ch <-chan Snapshot, desc string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				t.Fatalf("Subscription closed while waiting for %s", desc)
			}
			if cond(s) {
				return s
			}
		case <-timeout:
			t.Fatalf("Timed out waiting for notification: %s", desc)
		}
	}
}

func drain(ch <-chan Snapshot) []Snapshot {
	var out []Snapshot
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, s)
		default:
			return out
		}
	}
}

func items(names ...string) []audio.Item {
	out := make([]audio.Item, len(names))
	for i, n := range names {
		out[i] = audio.Item{Name: n, Path: "/music/" + n}
	}
	return out
}
