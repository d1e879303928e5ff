package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/audiolibrelab/jamdeck/internal/audio"
	"github.com/audiolibrelab/jamdeck/internal/config"
	"github.com/audiolibrelab/jamdeck/internal/focus"
	"github.com/audiolibrelab/jamdeck/internal/library"
	"github.com/audiolibrelab/jamdeck/internal/metrics"
	"github.com/audiolibrelab/jamdeck/internal/service"
	"github.com/audiolibrelab/jamdeck/internal/session"
	"github.com/gorilla/websocket"
)

// fakeService records calls and publishes snapshots on demand
type fakeService struct {
	mu          sync.Mutex
	cfg         *config.Config
	snap        session.Snapshot
	calls       []string
	interrupts  []focus.Mode
	startErr    error
	subscribers []chan session.Snapshot
}

func newFakeService() *fakeService {
	cfg := config.Default()
	cfg.Profile = "default"
	return &fakeService{cfg: cfg}
}

func (f *fakeService) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeService) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeService) publish(snap session.Snapshot) {
	f.mu.Lock()
	f.snap = snap
	subs := append([]chan session.Snapshot(nil), f.subscribers...)
	f.mu.Unlock()
	for _, ch := range subs {
		ch <- snap
	}
}

func (f *fakeService) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}

func (f *fakeService) StartRecording(ctx context.Context, name string) error {
	f.record("start:" + name)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startErr
}
func (f *fakeService) StopRecording(ctx context.Context) error { f.record("stop"); return nil }
func (f *fakeService) Encode(name string) (*service.TakeInfo, error) {
	f.record("encode:" + name)
	return &service.TakeInfo{Name: name, WavExists: true}, nil
}
func (f *fakeService) PlayLibrary(ctx context.Context) error { f.record("play-library"); return nil }
func (f *fakeService) PlayFiles(ctx context.Context, paths []string) error {
	f.record("play-files:" + strings.Join(paths, ","))
	return nil
}
func (f *fakeService) PlayItem(ctx context.Context, index int) error {
	f.record("play-item")
	return nil
}
func (f *fakeService) PlayNext(ctx context.Context) error     { f.record("next"); return nil }
func (f *fakeService) StopPlayback(ctx context.Context) error { f.record("stop-playback"); return nil }
func (f *fakeService) RunPipeline(ctx context.Context, name, steps string) error {
	return nil
}
func (f *fakeService) Interrupt(mode focus.Mode) error {
	f.mu.Lock()
	f.interrupts = append(f.interrupts, mode)
	f.mu.Unlock()
	return nil
}
func (f *fakeService) EndInterrupt() error  { f.record("end-interrupt"); return nil }
func (f *fakeService) DeviceRemoved() error { f.record("device-removed"); return nil }
func (f *fakeService) Status() session.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}
func (f *fakeService) Subscribe() (<-chan session.Snapshot, func()) {
	ch := make(chan session.Snapshot, 8)
	f.mu.Lock()
	f.subscribers = append(f.subscribers, ch)
	f.mu.Unlock()
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, c := range f.subscribers {
			if c == ch {
				f.subscribers = append(f.subscribers[:i], f.subscribers[i+1:]...)
				break
			}
		}
	}
}
func (f *fakeService) LoadProfile(profile string) error {
	if profile != "default" {
		return errors.New("profile not found")
	}
	return nil
}
func (f *fakeService) ApplyConfig(cfg *config.Config) {}
func (f *fakeService) GetConfig() *config.Config      { return f.cfg }
func (f *fakeService) GetTakeInfo(name string) (*service.TakeInfo, error) {
	return &service.TakeInfo{Name: name}, nil
}
func (f *fakeService) GetLastError() string { return "" }
func (f *fakeService) ListLibrary() ([]library.Entry, error) {
	return []library.Entry{{Name: "a.wav", Path: "/music/a.wav", Extension: "wav"}}, nil
}
func (f *fakeService) SelectLibraryDirectory(dir string) error { return nil }
func (f *fakeService) SelectLibraryFile(name string) error {
	if name != "a.wav" {
		return errors.New("library file not found")
	}
	return nil
}
func (f *fakeService) Close() error { return nil }

func newTestServer(t *testing.T) (*Server, *fakeService, *httptest.Server) {
	t.Helper()
	svc := newFakeService()
	s := New(svc, metrics.New(), "", config.ServerConfig{Port: 8080})
	s.listDevices = func() ([]audio.Device, error) {
		return []audio.Device{{Name: "alsa_output.monitor", Description: "Built-in Audio"}}, nil
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, svc, ts
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return body
}

func TestStatus(t *testing.T) {
	_, svc, ts := newTestServer(t)
	svc.publish(session.Snapshot{IsRecording: true, Record: session.Recording, OutputPath: "/takes/take.pcm"})

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get(headerRequestID) == "" {
		t.Error("Expected a request ID header")
	}
	body := decode(t, resp)
	if body["status"] != "RECORDING" {
		t.Errorf("Expected RECORDING, got %v", body["status"])
	}
	if !strings.Contains(body["message"].(string), "take.pcm") {
		t.Errorf("Expected message to name the take, got %v", body["message"])
	}
	if body["active_profile"] != "default" {
		t.Errorf("Expected active profile default, got %v", body["active_profile"])
	}
}

func TestRecordStartStop(t *testing.T) {
	_, svc, ts := newTestServer(t)

	resp, _ := http.PostForm(ts.URL+"/record/start", url.Values{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 without a name, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, _ = http.PostForm(ts.URL+"/record/start", url.Values{"name": {"song"}})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, _ = http.PostForm(ts.URL+"/record/stop", nil)
	body := decode(t, resp)
	if body["success"] != true {
		t.Errorf("Expected success, got %v", body)
	}

	calls := svc.called()
	if len(calls) != 2 || calls[0] != "start:song" || calls[1] != "stop" {
		t.Errorf("Unexpected service calls %v", calls)
	}
}

func TestRecordStart_FocusDenied(t *testing.T) {
	_, svc, ts := newTestServer(t)
	svc.mu.Lock()
	svc.startErr = session.ErrFocusDenied
	svc.mu.Unlock()

	resp, _ := http.PostForm(ts.URL+"/record/start", url.Values{"name": {"song"}})
	body := decode(t, resp)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409, got %d", resp.StatusCode)
	}
	if body["success"] != false {
		t.Errorf("Expected failure body, got %v", body)
	}
}

func TestRecordStart_UnknownProfile(t *testing.T) {
	_, _, ts := newTestServer(t)
	resp, _ := http.PostForm(ts.URL+"/record/start", url.Values{"name": {"song"}, "profile": {"missing"}})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	_, _, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/record/start")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	body := decode(t, resp)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", resp.StatusCode)
	}
	if body["error"] != "Method not allowed" {
		t.Errorf("Unexpected error body %v", body)
	}
}

func TestPlaybackRoutes(t *testing.T) {
	_, svc, ts := newTestServer(t)

	resp, _ := http.Post(ts.URL+"/playback/files", "application/json", strings.NewReader(`{"paths":["/a.wav","/b.mp3"]}`))
	resp.Body.Close()
	resp, _ = http.Post(ts.URL+"/playback/item/x", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for a bad index, got %d", resp.StatusCode)
	}
	resp.Body.Close()
	resp, _ = http.Post(ts.URL+"/playback/item/1", "", nil)
	resp.Body.Close()
	resp, _ = http.Post(ts.URL+"/playback/next", "", nil)
	resp.Body.Close()
	resp, _ = http.Post(ts.URL+"/playback/stop", "", nil)
	resp.Body.Close()

	want := []string{"play-files:/a.wav,/b.mp3", "play-item", "next", "stop-playback"}
	got := svc.called()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("Expected calls %v, got %v", want, got)
	}
}

func TestLibrary(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/library")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	body := decode(t, resp)
	if body["total_count"].(float64) != 1 {
		t.Errorf("Expected 1 entry, got %v", body["total_count"])
	}
	if body["directory"] != "/music" {
		t.Errorf("Expected directory /music, got %v", body["directory"])
	}

	resp, _ = http.PostForm(ts.URL+"/api/library/select", url.Values{"name": {"b.wav"}})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown file, got %d", resp.StatusCode)
	}
}

func TestInterrupt(t *testing.T) {
	_, svc, ts := newTestServer(t)

	resp, _ := http.PostForm(ts.URL+"/api/focus/interrupt", url.Values{"mode": {"loud"}})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown mode, got %d", resp.StatusCode)
	}

	resp, _ = http.PostForm(ts.URL+"/api/focus/interrupt", url.Values{"mode": {"duck"}})
	resp.Body.Close()
	resp, _ = http.Post(ts.URL+"/api/focus/end", "", nil)
	resp.Body.Close()
	resp, _ = http.Post(ts.URL+"/api/test/device-removed", "", nil)
	resp.Body.Close()

	svc.mu.Lock()
	interrupts := append([]focus.Mode(nil), svc.interrupts...)
	svc.mu.Unlock()
	if len(interrupts) != 1 || interrupts[0] != focus.Duckable {
		t.Errorf("Expected one duckable interrupt, got %v", interrupts)
	}
	calls := svc.called()
	if len(calls) != 2 || calls[0] != "end-interrupt" || calls[1] != "device-removed" {
		t.Errorf("Unexpected calls %v", calls)
	}
}

func TestDevices(t *testing.T) {
	s, _, ts := newTestServer(t)

	resp, _ := http.Get(ts.URL + "/api/devices")
	body := decode(t, resp)
	devices := body["devices"].([]interface{})
	if len(devices) != 1 {
		t.Errorf("Expected 1 device, got %v", devices)
	}

	s.listDevices = func() ([]audio.Device, error) { return nil, errors.New("no sound server") }
	resp, _ = http.Get(ts.URL + "/api/devices")
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, _, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}

func TestRecoverer(t *testing.T) {
	h := recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", rec.Code)
	}
}

func TestEvents(t *testing.T) {
	_, svc, ts := newTestServer(t)
	svc.publish(session.Snapshot{Seq: 1, Cause: "shutdown"})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	// states marshal as names, so decode only the plain fields
	var msg struct {
		Type string `json:"type"`
		Data struct {
			Seq       uint64 `json:"seq"`
			IsPlaying bool   `json:"is_playing"`
			Cause     string `json:"cause"`
		} `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Failed to read initial state: %v", err)
	}
	if msg.Type != "state" || msg.Data.Seq != 1 {
		t.Errorf("Expected initial state seq 1, got %+v", msg)
	}

	deadline := time.Now().Add(2 * time.Second)
	for svc.subscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for subscription")
		}
		time.Sleep(5 * time.Millisecond)
	}

	svc.publish(session.Snapshot{Seq: 2, IsPlaying: true, Cause: "play-item"})
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	if msg.Data.Seq != 2 || msg.Data.Cause != "play-item" || !msg.Data.IsPlaying {
		t.Errorf("Unexpected event %+v", msg.Data)
	}
}
