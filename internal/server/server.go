package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/audiolibrelab/jamdeck/internal/audio"
	"github.com/audiolibrelab/jamdeck/internal/config"
	"github.com/audiolibrelab/jamdeck/internal/focus"
	"github.com/audiolibrelab/jamdeck/internal/library"
	"github.com/audiolibrelab/jamdeck/internal/metrics"
	"github.com/audiolibrelab/jamdeck/internal/service"
	"github.com/audiolibrelab/jamdeck/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const shutdownTimeout = 5 * time.Second

// Server represents the web server for controlling JamDeck
type Server struct {
	service    service.Service
	metrics    *metrics.Metrics
	configFile string
	host       string
	port       int

	upgrader websocket.Upgrader

	// listDevices is replaced in tests
	listDevices func() ([]audio.Device, error)

	// done is closed on shutdown so event streams end
	done chan struct{}
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Status        string              `json:"status"`
	Message       string              `json:"message,omitempty"`
	Session       session.Snapshot    `json:"session"`
	Config        *ResolvedConfigInfo `json:"resolved_config"`
	ActiveProfile string              `json:"active_profile"`
}

// ResolvedConfigInfo contains configuration information for the UI
type ResolvedConfigInfo struct {
	ActiveProfile string            `json:"active_profile"`
	RecordDir     string            `json:"record_dir"`
	LibraryDir    string            `json:"library_dir"`
	Format        string            `json:"format"`
	Backend       string            `json:"backend"`
	Device        string            `json:"device,omitempty"`
	AutoEncode    bool              `json:"auto_encode"`
	KeepRaw       bool              `json:"keep_raw"`
	DuckVolume    float64           `json:"duck_volume"`
	Extensions    []string          `json:"extensions"`
	Inheritance   map[string]string `json:"inheritance,omitempty"`
}

// LibraryResponse represents the JSON response for library endpoint
type LibraryResponse struct {
	Entries             []library.Entry `json:"entries"`
	TotalCount          int             `json:"total_count"`
	Directory           string          `json:"directory"`
	SupportedExtensions []string        `json:"supported_extensions"`
}

// New creates a new web server instance
func New(svc service.Service, m *metrics.Metrics, configFile string, cfg config.ServerConfig) *Server {
	return &Server{
		service:    svc,
		metrics:    m,
		configFile: configFile,
		host:       cfg.Host,
		port:       cfg.Port,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		listDevices: audio.ListDevices,
		done:        make(chan struct{}),
	}
}

// Handler returns the routed HTTP handler
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(recoverer)
	r.Use(requestID)
	r.Use(logRequests)

	r.Get("/", s.handleIndex)
	r.Get("/status", s.handleStatus)

	r.Post("/record/start", s.handleStartRecording)
	r.Post("/record/stop", s.handleStopRecording)
	r.Post("/encode", s.handleEncode)
	r.Get("/api/takes/{name}", s.handleTakeInfo)

	r.Route("/playback", func(r chi.Router) {
		r.Post("/library", s.handlePlayLibrary)
		r.Post("/files", s.handlePlayFiles)
		r.Post("/item/{index}", s.handlePlayItem)
		r.Post("/next", s.handlePlayNext)
		r.Post("/stop", s.handleStopPlayback)
	})

	r.Route("/api/library", func(r chi.Router) {
		r.Get("/", s.handleLibrary)
		r.Post("/directory", s.handleSelectDirectory)
		r.Post("/select", s.handleSelectFile)
	})

	r.Get("/config/profiles", s.handleProfiles)
	r.Post("/config/select", s.handleSelectProfile)

	r.Get("/api/devices", s.handleDevices)
	r.Post("/api/focus/interrupt", s.handleInterrupt)
	r.Post("/api/focus/end", s.handleEndInterrupt)
	r.Post("/api/test/device-removed", s.handleDeviceRemoved)

	r.Get("/api/events", s.handleEvents)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed", "path", r.URL.Path)
	})
	return r
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	localIP := getLocalIP()
	slog.Info("Starting JamDeck Web Server",
		"addr", addr,
		"local_url", fmt.Sprintf("http://%s:%d", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%d", s.port))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		close(s.done)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("web server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down web server")
	close(s.done)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web server shutdown: %w", err)
	}
	return nil
}

// handleIndex serves a minimal page listing the API
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(getDefaultHTML()))
}

func getDefaultHTML() string {
	return `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>JamDeck</title>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/@picocss/pico@2/css/pico.min.css">
</head>
<body>
    <div class="container">
        <h1>JamDeck</h1>
        <h2>API Endpoints:</h2>
        <ul>
            <li>POST /record/start - Start recording (form: name)</li>
            <li>POST /record/stop - Stop recording</li>
            <li>POST /encode - Encode a raw take (form: name)</li>
            <li>POST /playback/library - Play the library</li>
            <li>POST /playback/next - Next item</li>
            <li>POST /playback/stop - Stop playback</li>
            <li>GET /status - Get status</li>
            <li>GET /api/events - State changes (WebSocket)</li>
            <li>GET /metrics - Prometheus metrics</li>
        </ul>
    </div>
</body>
</html>`
}

// handleStatus returns the current session state
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.service.Status()
	cfg := s.service.GetConfig()

	response := StatusResponse{
		Status:        statusName(snap),
		Message:       s.generateStatusMessage(snap),
		Session:       snap,
		Config:        resolvedConfigInfo(cfg),
		ActiveProfile: cfg.Profile,
	}
	s.sendJSON(w, http.StatusOK, response)
}

func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form", "operation", "start_recording")
		return
	}
	name := r.FormValue("name")
	profile := r.FormValue("profile")
	slog.Debug("Record request received", "name", name, "profile", profile)

	if name == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Recording name is required", "operation", "start_recording")
		return
	}

	if profile != "" && profile != s.service.GetConfig().Profile {
		if err := s.service.LoadProfile(profile); err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest,
				fmt.Sprintf("Failed to load profile '%s': %v", profile, err),
				"profile", profile, "operation", "profile_load_for_record")
			return
		}
	}

	if err := s.service.StartRecording(r.Context(), name); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrFocusDenied) {
			status = http.StatusConflict
		}
		s.sendErrorResponse(w, status, fmt.Sprintf("Failed to start recording: %v", err),
			"name", name, "operation", "start_recording")
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Recording started",
		"name":    name,
		"session": s.service.Status(),
	})
}

func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	if err := s.service.StopRecording(r.Context()); err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to stop recording: %v", err), "operation", "stop_recording")
		return
	}

	response := map[string]interface{}{
		"success": true,
		"message": "Recording stopped",
	}
	if msg := s.service.GetLastError(); msg != "" {
		response["encode_error"] = msg
	}
	s.sendJSON(w, http.StatusOK, response)
}

func (s *Server) handleEncode(w http.ResponseWriter, r *http.Request) {
	name := r.FormValue("name")
	if name == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Recording name is required", "operation", "encode")
		return
	}
	info, err := s.service.Encode(name)
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to encode: %v", err), "name", name, "operation", "encode")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"take":    info,
	})
}

func (s *Server) handleTakeInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.service.GetTakeInfo(chi.URLParam(r, "name"))
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, err.Error(), "operation", "take_info")
		return
	}
	s.sendJSON(w, http.StatusOK, info)
}

func (s *Server) handlePlayLibrary(w http.ResponseWriter, r *http.Request) {
	if err := s.service.PlayLibrary(r.Context()); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Failed to play library: %v", err), "operation", "play_library")
		return
	}
	s.sendOK(w, "Playback started")
}

func (s *Server) handlePlayFiles(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Paths []string `json:"paths"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid JSON body", "operation", "play_files")
		return
	}
	if err := s.service.PlayFiles(r.Context(), req.Paths); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Failed to play files: %v", err), "operation", "play_files")
		return
	}
	s.sendOK(w, "Playback started")
}

func (s *Server) handlePlayItem(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid item index", "operation", "play_item")
		return
	}
	if err := s.service.PlayItem(r.Context(), index); err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, err.Error(), "operation", "play_item")
		return
	}
	s.sendOK(w, "Item requested")
}

func (s *Server) handlePlayNext(w http.ResponseWriter, r *http.Request) {
	if err := s.service.PlayNext(r.Context()); err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, err.Error(), "operation", "play_next")
		return
	}
	s.sendOK(w, "Next item requested")
}

func (s *Server) handleStopPlayback(w http.ResponseWriter, r *http.Request) {
	if err := s.service.StopPlayback(r.Context()); err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, err.Error(), "operation", "stop_playback")
		return
	}
	s.sendOK(w, "Playback stopped")
}

func (s *Server) handleLibrary(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.ListLibrary()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list library: %v", err), "operation", "list_library")
		return
	}
	if entries == nil {
		entries = []library.Entry{}
	}
	cfg := s.service.GetConfig()
	dir := cfg.Playback.LibraryDirectory
	if len(entries) > 0 {
		dir = filepath.Dir(entries[0].Path)
	}
	s.sendJSON(w, http.StatusOK, LibraryResponse{
		Entries:             entries,
		TotalCount:          len(entries),
		Directory:           dir,
		SupportedExtensions: cfg.Playback.Extensions,
	})
}

func (s *Server) handleSelectDirectory(w http.ResponseWriter, r *http.Request) {
	dir := r.FormValue("directory")
	if dir == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Directory is required", "operation", "select_directory")
		return
	}
	if err := s.service.SelectLibraryDirectory(dir); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, err.Error(), "operation", "select_directory")
		return
	}
	s.sendOK(w, "Library directory selected")
}

func (s *Server) handleSelectFile(w http.ResponseWriter, r *http.Request) {
	name := r.FormValue("name")
	if name == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "File name is required", "operation", "select_file")
		return
	}
	if err := s.service.SelectLibraryFile(name); err != nil {
		s.sendErrorResponse(w, http.StatusNotFound, err.Error(), "operation", "select_file")
		return
	}
	s.sendOK(w, "Library file selected")
}

// handleProfiles returns available configuration profiles
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"profiles": s.getAvailableProfiles(),
		"active":   s.service.GetConfig().Profile,
	})
}

func (s *Server) handleSelectProfile(w http.ResponseWriter, r *http.Request) {
	profile := r.FormValue("profile")
	if profile == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Profile is required", "operation", "select_profile")
		return
	}
	if err := s.service.LoadProfile(profile); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, err.Error(), "profile", profile, "operation", "select_profile")
		return
	}
	if err := config.UpdateActiveConfig(s.configFile, profile); err != nil {
		slog.Warn("Failed to persist active profile", "profile", profile, "error", err)
	}
	s.sendOK(w, fmt.Sprintf("Profile '%s' selected", profile))
}

func (s *Server) getAvailableProfiles() []string {
	profiles := []string{}
	if s.configFile == "" {
		return profiles
	}
	if _, err := os.Stat(s.configFile); err != nil {
		return profiles
	}

	rootConfig, err := config.ValidateConfigurationFormat(s.configFile)
	if err != nil {
		slog.Debug("Failed to read config file for profiles", "error", err)
		return profiles
	}
	for name := range rootConfig.Configs {
		profiles = append(profiles, name)
	}
	sort.Strings(profiles)
	return profiles
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.listDevices()
	if err != nil {
		s.sendErrorResponse(w, http.StatusServiceUnavailable, fmt.Sprintf("Failed to list devices: %v", err), "operation", "list_devices")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"devices": devices,
	})
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	mode, ok := focus.ParseMode(r.FormValue("mode"))
	if !ok {
		s.sendErrorResponse(w, http.StatusBadRequest, "mode must be one of exclusive, duckable, permanent", "operation", "interrupt")
		return
	}
	if err := s.service.Interrupt(mode); err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, err.Error(), "operation", "interrupt")
		return
	}
	s.sendOK(w, fmt.Sprintf("Interruption '%s' applied", mode))
}

func (s *Server) handleEndInterrupt(w http.ResponseWriter, r *http.Request) {
	if err := s.service.EndInterrupt(); err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, err.Error(), "operation", "end_interrupt")
		return
	}
	s.sendOK(w, "Interruption ended")
}

// handleDeviceRemoved fires the same path as unplugging the output device
func (s *Server) handleDeviceRemoved(w http.ResponseWriter, r *http.Request) {
	slog.Info("Simulating output device removal", "remote_addr", r.RemoteAddr)
	if err := s.service.DeviceRemoved(); err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, err.Error(), "operation", "device_removed")
		return
	}
	s.sendOK(w, "Device removal signalled")
}

func statusName(snap session.Snapshot) string {
	switch {
	case snap.IsRecording:
		return "RECORDING"
	case snap.IsPlaying:
		return "PLAYING"
	case snap.Playback == session.Paused:
		return "PAUSED"
	case snap.Error != "":
		return "ERROR"
	default:
		return "STANDBY"
	}
}

func (s *Server) generateStatusMessage(snap session.Snapshot) string {
	switch {
	case snap.IsRecording:
		return fmt.Sprintf("Recording in progress - %s", filepath.Base(snap.OutputPath))
	case snap.IsPlaying:
		return fmt.Sprintf("Playing %s (%d/%d)", snap.Current, snap.CurrentIndex+1, snap.PlaylistLen)
	case snap.Playback == session.Paused:
		return "Playback paused by another application"
	}
	if errorDetails := s.service.GetLastError(); errorDetails != "" {
		return errorDetails
	}
	return ""
}

func resolvedConfigInfo(cfg *config.Config) *ResolvedConfigInfo {
	info := &ResolvedConfigInfo{
		ActiveProfile: cfg.Profile,
		RecordDir:     cfg.Record.Directory,
		LibraryDir:    cfg.Playback.LibraryDirectory,
		Format:        cfg.Audio.Format().String(),
		Backend:       cfg.Audio.Backend,
		Device:        cfg.Audio.Device,
		AutoEncode:    cfg.Record.ShouldAutoEncode(),
		KeepRaw:       cfg.Record.ShouldKeepRaw(),
		DuckVolume:    cfg.Playback.DuckVolume,
		Extensions:    cfg.Playback.Extensions,
	}
	if cfg.Inheritance != nil {
		info.Inheritance = cfg.Inheritance.Fields
	}
	return info
}

func (s *Server) sendOK(w http.ResponseWriter, message string) {
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": message,
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	s.sendJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
