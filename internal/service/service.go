package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/jamdeck/internal/audio"
	"github.com/audiolibrelab/jamdeck/internal/config"
	"github.com/audiolibrelab/jamdeck/internal/container"
	"github.com/audiolibrelab/jamdeck/internal/focus"
	"github.com/audiolibrelab/jamdeck/internal/library"
	"github.com/audiolibrelab/jamdeck/internal/play"
	"github.com/audiolibrelab/jamdeck/internal/session"
	"github.com/audiolibrelab/jamdeck/internal/speaker"
)

// Service represents the core JamDeck service interface
type Service interface {
	// Recording operations
	StartRecording(ctx context.Context, name string) error
	StopRecording(ctx context.Context) error
	Encode(name string) (*TakeInfo, error)

	// Playback operations
	PlayLibrary(ctx context.Context) error
	PlayFiles(ctx context.Context, paths []string) error
	PlayItem(ctx context.Context, index int) error
	PlayNext(ctx context.Context) error
	StopPlayback(ctx context.Context) error

	// Pipeline operations
	RunPipeline(ctx context.Context, name string, steps string) error

	// Interruption signals
	Interrupt(mode focus.Mode) error
	EndInterrupt() error
	DeviceRemoved() error

	// State
	Status() session.Snapshot
	Subscribe() (<-chan session.Snapshot, func())

	// Configuration operations
	LoadProfile(profile string) error
	ApplyConfig(cfg *config.Config)
	GetConfig() *config.Config

	// Information operations
	GetTakeInfo(name string) (*TakeInfo, error)
	GetLastError() string

	// Library operations
	ListLibrary() ([]library.Entry, error)
	SelectLibraryDirectory(dir string) error
	SelectLibraryFile(name string) error

	Close() error
}

// TakeInfo contains file path information for a recording
type TakeInfo struct {
	Name      string `json:"name"`
	CleanName string `json:"clean_name"`
	RawPath   string `json:"raw_path"`
	WavPath   string `json:"wav_path"`
	RawExists bool   `json:"raw_exists"`
	WavExists bool   `json:"wav_exists"`
	WavBytes  int64  `json:"wav_bytes,omitempty"`
	Duration  string `json:"duration,omitempty"`
}

// EncodeObserver is told about every encode
type EncodeObserver func(bytes int64, err error)

// Devices lets callers replace the system capture and output devices
type Devices struct {
	Capturer audio.Capturer
	Renderer audio.Renderer
}

// take is a recording started by this service and not yet finalized
type take struct {
	name    string
	rawPath string
	wavPath string
	format  audio.Format
	// id is the coordinator take number, known once the start is accepted
	id      uint64
	started bool
}

// JamDeckService is the main service implementation
type JamDeckService struct {
	configFile string
	logWriter  io.Writer

	cfgMu sync.RWMutex
	cfg   *config.Config
	lib   *library.Library

	coord *session.Coordinator

	// Current take, finalized once the recording returns to idle
	takeMu  sync.Mutex
	current *take

	observersMu sync.RWMutex
	observers   []func(session.Snapshot)
	onEncode    EncodeObserver

	watchDone chan struct{}

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates a service on the system capture tool and audio output
func New(cfg *config.Config, configFile string, logWriter io.Writer) Service {
	return NewWithDevices(cfg, configFile, logWriter, Devices{})
}

// NewWithDevices creates a service; nil devices fall back to the system ones
func NewWithDevices(cfg *config.Config, configFile string, logWriter io.Writer, devices Devices) *JamDeckService {
	if logWriter == nil {
		logWriter = io.Discard
	}

	s := &JamDeckService{
		configFile: configFile,
		logWriter:  logWriter,
		cfg:        cfg,
		lib:        newLibrary(cfg, configFile),
		watchDone:  make(chan struct{}),
	}

	capturer := devices.Capturer
	if capturer == nil {
		capturer = &systemCapturer{svc: s}
	}
	renderer := devices.Renderer
	if renderer == nil {
		renderer = &systemRenderer{svc: s}
	}

	s.coord = session.New(session.Options{
		Capturer:     capturer,
		Renderer:     renderer,
		Arbiter:      focus.NewArbiter(),
		BufferMillis: cfg.Audio.BufferMs,
		JoinTimeout:  cfg.Record.JoinTimeout(),
		DuckVolume:   cfg.Playback.DuckVolume,
	})

	events, _ := s.coord.Subscribe()
	go s.watch(events)

	return s
}

func newLibrary(cfg *config.Config, configFile string) *library.Library {
	statePath := ""
	if configFile != "" {
		statePath = filepath.Join(filepath.Dir(configFile), "jamdeck-library.yaml")
	}
	return library.New(cfg.Playback.LibraryDirectory, cfg.Playback.Extensions, statePath)
}

// AddObserver registers fn for every state change. fn runs on the service's
// event goroutine and must not block.
func (s *JamDeckService) AddObserver(fn func(session.Snapshot)) {
	s.observersMu.Lock()
	defer s.observersMu.Unlock()
	s.observers = append(s.observers, fn)
}

// OnEncode registers the encode observer
func (s *JamDeckService) OnEncode(fn EncodeObserver) {
	s.observersMu.Lock()
	defer s.observersMu.Unlock()
	s.onEncode = fn
}

// watch follows coordinator notifications until the coordinator closes
func (s *JamDeckService) watch(events <-chan session.Snapshot) {
	defer close(s.watchDone)
	for snap := range events {
		if snap.Error != "" {
			s.setLastError(snap.Error)
		}
		if snap.Record == session.RecordIdle && !snap.IsRecording {
			s.finishTakeOf(snap.Take)
		}

		s.observersMu.RLock()
		for _, fn := range s.observers {
			fn(snap)
		}
		s.observersMu.RUnlock()
	}
}

// StartRecording starts a take named name. It is a no-op while a
// recording is already active.
func (s *JamDeckService) StartRecording(ctx context.Context, name string) error {
	slog.Debug("Service.StartRecording called", "name", name)
	s.clearLastError() // Clear any previous errors when starting a new operation

	if s.coord.Snapshot().Record != session.RecordIdle {
		slog.Debug("Recording already active, ignoring start")
		return nil
	}

	cfg := s.GetConfig()
	rawPath, wavPath := library.TakePaths(cfg.Record.Directory, name)
	t := &take{name: name, rawPath: rawPath, wavPath: wavPath, format: cfg.Audio.Format()}

	s.takeMu.Lock()
	s.current = t
	s.takeMu.Unlock()

	id, err := s.coord.StartTake(ctx, t.format, rawPath)

	s.takeMu.Lock()
	if s.current == t {
		if err != nil {
			s.current = nil
		} else {
			t.id = id
			t.started = true
		}
	}
	s.takeMu.Unlock()

	// The take may already have ended before the watcher could match it
	if snap := s.coord.Snapshot(); err == nil && snap.Take == id && snap.Record == session.RecordIdle {
		s.finishTakeOf(id)
	}

	if err != nil {
		slog.Error("Service.StartRecording failed", "error", err)
		s.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		return err
	}

	slog.Info("Recording started", "name", name, "raw", rawPath, "format", t.format.String())
	return nil
}

// StopRecording stops the current recording and waits for the take to be
// finalized
func (s *JamDeckService) StopRecording(ctx context.Context) error {
	if err := s.coord.StopRecording(ctx); err != nil {
		s.setLastError(fmt.Sprintf("Failed to stop recording: %v", err))
		return err
	}
	s.finishTake()
	return nil
}

// finishTake encodes the current take when auto_encode is on. Only the
// first caller after a recording ends does the work.
func (s *JamDeckService) finishTake() {
	s.takeMu.Lock()
	defer s.takeMu.Unlock()

	if s.current == nil || !s.current.started {
		return
	}
	s.finalize()
}

// finishTakeOf is finishTake for an idle notification. Notifications queued
// before the current take started carry an older take number and are ignored.
func (s *JamDeckService) finishTakeOf(id uint64) {
	s.takeMu.Lock()
	defer s.takeMu.Unlock()

	if s.current == nil || !s.current.started || s.current.id != id {
		return
	}
	s.finalize()
}

// finalize must be called with takeMu held
func (s *JamDeckService) finalize() {
	t := s.current
	s.current = nil
	if _, err := os.Stat(t.rawPath); err != nil {
		slog.Warn("Raw recording missing, nothing to finalize", "path", t.rawPath)
		return
	}

	cfg := s.GetConfig()
	if !cfg.Record.ShouldAutoEncode() {
		slog.Info("Recording saved", "raw", t.rawPath)
		return
	}
	if _, err := s.encode(t.rawPath, t.wavPath, t.format, cfg.Record.ShouldKeepRaw()); err != nil {
		slog.Error("Auto-encode failed", "raw", t.rawPath, "error", err)
		s.setLastError(fmt.Sprintf("Failed to encode recording: %v", err))
	}
}

// Encode wraps a raw take into its WAV container. A take that was already
// encoded and whose raw file is gone is reported as is.
func (s *JamDeckService) Encode(name string) (*TakeInfo, error) {
	cfg := s.GetConfig()
	rawPath, wavPath := library.TakePaths(cfg.Record.Directory, name)

	if _, err := os.Stat(rawPath); os.IsNotExist(err) {
		if _, err := os.Stat(wavPath); err == nil {
			slog.Debug("Take already encoded", "output", wavPath)
			return s.GetTakeInfo(name)
		}
		err := fmt.Errorf("no raw recording found for '%s': %s", name, rawPath)
		s.setLastError(err.Error())
		return nil, err
	}

	if _, err := s.encode(rawPath, wavPath, cfg.Audio.Format(), cfg.Record.ShouldKeepRaw()); err != nil {
		s.setLastError(fmt.Sprintf("Failed to encode recording: %v", err))
		return nil, err
	}
	return s.GetTakeInfo(name)
}

func (s *JamDeckService) encode(rawPath, wavPath string, format audio.Format, keepRaw bool) (int64, error) {
	n, err := container.Encode(rawPath, wavPath, format)

	s.observersMu.RLock()
	onEncode := s.onEncode
	s.observersMu.RUnlock()
	if onEncode != nil {
		onEncode(n, err)
	}

	if err != nil {
		return 0, err
	}
	if !keepRaw {
		if err := os.Remove(rawPath); err != nil {
			slog.Warn("Failed to remove raw recording", "path", rawPath, "error", err)
		}
	}
	return n, nil
}

// PlayLibrary plays every file of the library in name order
func (s *JamDeckService) PlayLibrary(ctx context.Context) error {
	lib := s.getLibrary()
	items, err := lib.Items()
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to list library: %v", err))
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("no playable files in %s", lib.Directory())
	}

	start := 0
	if sel, err := lib.Selection(); err == nil && sel.Selected != "" {
		for i, it := range items {
			if it.Name == sel.Selected {
				start = i
				break
			}
		}
	}
	if start > 0 {
		items = append(items[start:], items[:start]...)
	}
	return s.setPlaylist(ctx, items)
}

// PlayFiles plays paths in order
func (s *JamDeckService) PlayFiles(ctx context.Context, paths []string) error {
	items := make([]audio.Item, 0, len(paths))
	for _, p := range paths {
		if !play.Supported(p) {
			return fmt.Errorf("%w: %s", play.ErrUnsupported, p)
		}
		items = append(items, audio.Item{Name: filepath.Base(p), Path: p})
	}
	return s.setPlaylist(ctx, items)
}

func (s *JamDeckService) setPlaylist(ctx context.Context, items []audio.Item) error {
	s.clearLastError()
	if err := s.coord.SetPlaylist(ctx, items); err != nil {
		s.setLastError(fmt.Sprintf("Failed to start playback: %v", err))
		return err
	}
	return nil
}

func (s *JamDeckService) PlayItem(ctx context.Context, index int) error {
	return s.coord.PlayItem(ctx, index)
}

func (s *JamDeckService) PlayNext(ctx context.Context) error {
	return s.coord.PlayNext(ctx)
}

func (s *JamDeckService) StopPlayback(ctx context.Context) error {
	return s.coord.StopPlayback(ctx)
}

// RunPipeline executes a sequence of operations (r=record, e=encode, p=play).
// The record step lasts until the recording stops, either through
// StopRecording or an interruption; cancelling ctx stops it too.
func (s *JamDeckService) RunPipeline(ctx context.Context, name string, steps string) error {
	for _, step := range steps {
		switch step {
		case 'r':
			if err := s.StartRecording(ctx, name); err != nil {
				return fmt.Errorf("pipeline record failed: %w", err)
			}
			err := s.waitFor(ctx, func(snap session.Snapshot) bool { return snap.Record == session.RecordIdle })
			if err != nil {
				if stopErr := s.StopRecording(context.Background()); stopErr != nil {
					return fmt.Errorf("pipeline record stop failed: %w", stopErr)
				}
				return err
			}
			s.finishTake()
		case 'e':
			if _, err := s.Encode(name); err != nil {
				return fmt.Errorf("pipeline encode failed: %w", err)
			}
		case 'p':
			info, err := s.GetTakeInfo(name)
			if err != nil {
				return fmt.Errorf("pipeline play failed: %w", err)
			}
			if !info.WavExists {
				return fmt.Errorf("pipeline play failed: no recording found: %s", info.WavPath)
			}
			if err := s.PlayFiles(ctx, []string{info.WavPath}); err != nil {
				return fmt.Errorf("pipeline play failed: %w", err)
			}
			if err := s.WaitPlayback(ctx); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown pipeline step: '%c' (valid: r=record, e=encode, p=play)", step)
		}
	}
	return nil
}

// WaitPlayback blocks until playback returns to idle. Cancelling ctx stops
// playback.
func (s *JamDeckService) WaitPlayback(ctx context.Context) error {
	err := s.waitFor(ctx, func(snap session.Snapshot) bool { return snap.Playback == session.PlaybackIdle })
	if err != nil {
		s.coord.StopPlayback(context.Background())
		return err
	}
	if msg := s.GetLastError(); msg != "" {
		return errors.New(msg)
	}
	return nil
}

// WaitRecording blocks until the recording returns to idle or ctx is done
func (s *JamDeckService) WaitRecording(ctx context.Context) error {
	return s.waitFor(ctx, func(snap session.Snapshot) bool { return snap.Record == session.RecordIdle })
}

// waitFor blocks until done reports true for the current state or a later
// notification
func (s *JamDeckService) waitFor(ctx context.Context, done func(session.Snapshot) bool) error {
	events, cancel := s.coord.Subscribe()
	defer cancel()

	if done(s.coord.Snapshot()) {
		return nil
	}
	for {
		select {
		case snap, ok := <-events:
			if !ok {
				return session.ErrClosed
			}
			if done(snap) {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *JamDeckService) Interrupt(mode focus.Mode) error {
	return s.coord.Interrupt(mode)
}

func (s *JamDeckService) EndInterrupt() error {
	return s.coord.EndInterrupt()
}

func (s *JamDeckService) DeviceRemoved() error {
	return s.coord.DeviceRemoved()
}

// Status returns the current session state
func (s *JamDeckService) Status() session.Snapshot {
	return s.coord.Snapshot()
}

func (s *JamDeckService) Subscribe() (<-chan session.Snapshot, func()) {
	return s.coord.Subscribe()
}

// LoadProfile loads a new configuration profile
func (s *JamDeckService) LoadProfile(profile string) error {
	newCfg, err := config.LoadWithProfile(s.configFile, profile)
	if err != nil {
		return fmt.Errorf("failed to load profile '%s': %w", profile, err)
	}
	s.ApplyConfig(newCfg)
	return nil
}

// ApplyConfig switches to cfg. Capture and output settings apply to the
// next recording or playlist item; session timing is fixed at startup.
func (s *JamDeckService) ApplyConfig(cfg *config.Config) {
	s.cfgMu.Lock()
	old := s.cfg
	s.cfg = cfg
	s.lib = newLibrary(cfg, s.configFile)
	s.cfgMu.Unlock()

	if old != nil && (old.Record.JoinTimeoutMs != cfg.Record.JoinTimeoutMs || old.Playback.DuckVolume != cfg.Playback.DuckVolume || old.Audio.BufferMs != cfg.Audio.BufferMs) {
		slog.Warn("Session timing and duck volume changes take effect after restart")
	}
	slog.Info("Configuration applied", "profile", cfg.Profile)
}

// GetConfig returns the current configuration
func (s *JamDeckService) GetConfig() *config.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

func (s *JamDeckService) getLibrary() *library.Library {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.lib
}

// GetTakeInfo returns file path information for a recording
func (s *JamDeckService) GetTakeInfo(name string) (*TakeInfo, error) {
	cfg := s.GetConfig()
	rawPath, wavPath := library.TakePaths(cfg.Record.Directory, name)
	info := &TakeInfo{
		Name:      name,
		CleanName: strings.TrimSuffix(filepath.Base(rawPath), ".pcm"),
		RawPath:   rawPath,
		WavPath:   wavPath,
	}

	if _, err := os.Stat(rawPath); err == nil {
		info.RawExists = true
	}
	if st, err := os.Stat(wavPath); err == nil {
		info.WavExists = true
		info.WavBytes = st.Size()
		if h, err := container.ReadHeaderFile(wavPath); err == nil {
			f := h.PCMFormat()
			if rate := f.ByteRate(); rate > 0 {
				d := time.Duration(float64(h.Subchunk2Size) / float64(rate) * float64(time.Second))
				info.Duration = d.Round(time.Millisecond).String()
			}
		}
	}
	return info, nil
}

func (s *JamDeckService) ListLibrary() ([]library.Entry, error) {
	return s.getLibrary().List()
}

func (s *JamDeckService) SelectLibraryDirectory(dir string) error {
	return s.getLibrary().SelectDirectory(dir)
}

func (s *JamDeckService) SelectLibraryFile(name string) error {
	return s.getLibrary().Select(name)
}

// Close stops both sessions and releases the devices
func (s *JamDeckService) Close() error {
	err := s.coord.Close()
	<-s.watchDone
	s.finishTake()
	return err
}

// GetLastError returns the last error message
func (s *JamDeckService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message
func (s *JamDeckService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err
	slog.Error("Service error occurred", "error", err)
}

// clearLastError clears the last error message
func (s *JamDeckService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}

// systemCapturer resolves the capture tool from the current config on
// every Open
type systemCapturer struct {
	svc *JamDeckService
}

func (c *systemCapturer) Open(ctx context.Context, format audio.Format) (audio.Source, error) {
	cfg := c.svc.GetConfig()
	capturer, err := audio.NewCapturer(cfg.Audio.Backend, cfg.Audio.Device, c.svc.logWriter)
	if err != nil {
		return nil, err
	}
	return capturer.Open(ctx, format)
}

// systemRenderer opens the audio output on first use
type systemRenderer struct {
	svc *JamDeckService

	mu       sync.Mutex
	renderer *play.Renderer
}

func (r *systemRenderer) Prepare(ctx context.Context, item audio.Item) (audio.Track, error) {
	r.mu.Lock()
	if r.renderer == nil {
		cfg := r.svc.GetConfig()
		spk, err := speaker.Open(cfg.Playback.SampleRate, cfg.Playback.Channels, cfg.Playback.OutputBufferMs)
		if err != nil {
			r.mu.Unlock()
			return nil, err
		}
		r.renderer = play.NewRenderer(spk, 0)
	}
	renderer := r.renderer
	r.mu.Unlock()

	return renderer.Prepare(ctx, item)
}
