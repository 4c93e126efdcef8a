package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/audiolibrelab/jamloop/internal/command"
	"github.com/audiolibrelab/jamloop/internal/config"
	"github.com/audiolibrelab/jamloop/internal/engine"
	"github.com/audiolibrelab/jamloop/internal/layer"
	"github.com/audiolibrelab/jamloop/internal/looperr"
	"github.com/audiolibrelab/jamloop/internal/service"
)

// Server represents the web server for controlling the looper
type Server struct {
	service    service.Service
	configFile string
	port       string
	httpServer *http.Server
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Playing       bool    `json:"playing"`
	BPM           int     `json:"bpm"`
	Swing         float64 `json:"swing"`
	Volume        float64 `json:"volume"`
	NextBPM       int     `json:"next_bpm"`
	NextSwing     float64 `json:"next_swing"`
	Microphone    string  `json:"microphone"`
	Recorder      string  `json:"recorder"`
	Capturing     bool    `json:"capturing"`
	Recording     bool    `json:"recording"`
	StopRequested bool    `json:"stop_requested"`
	Loop          int     `json:"loop"`
	Step          int     `json:"step"`
	LoopStart     float64 `json:"loop_start"`
	LoopEnd       float64 `json:"loop_end"`
	Layers        int     `json:"layers"`
	ActiveProfile string  `json:"active_profile"`
	LastError     string  `json:"last_error,omitempty"`
}

// LayerInfo represents one layer for the UI
type LayerInfo struct {
	ID          layer.ID `json:"id"`
	Pattern     string   `json:"pattern"`
	Notes       []bool   `json:"notes"`
	ActiveSteps int      `json:"active_steps"`
	Muted       bool     `json:"muted"`
	Frames      int      `json:"frames"`
}

// LayersResponse represents the JSON response for the layers endpoint
type LayersResponse struct {
	Layers []LayerInfo `json:"layers"`
}

// GenericResponse represents a generic API response
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// New creates a new web server instance
func New(svc service.Service, configFile string, port string) *Server {
	return &Server{
		service:    svc,
		configFile: configFile,
		port:       port,
	}
}

// Handler returns the routes served by the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/command", s.handleCommand)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/layers", s.handleLayers)
	mux.HandleFunc("/config/profiles", s.handleProfiles)
	mux.HandleFunc("/config/select", s.handleSelectProfile)
	mux.Handle("/metrics", s.service.Metrics().Handler())
	return mux
}

// Start serves HTTP until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	localIP := getLocalIP()
	slog.Info("Starting JamLoop Web Server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	}
}

// handleIndex lists the API
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		s.sendMethodNotAllowed(w)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	fmt.Fprint(w, indexHTML)
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>JamLoop</title>
</head>
<body>
    <h1>JamLoop</h1>
    <h2>API Endpoints:</h2>
    <ul>
        <li>POST /command - Send a command (form field "command", e.g. "bpm 120")</li>
        <li>GET /status - Transport, microphone and recorder state</li>
        <li>GET /layers - Layers and their patterns</li>
        <li>GET /config/profiles - List profiles</li>
        <li>POST /config/select - Load a profile (form field "profile")</li>
        <li>GET /metrics - Prometheus metrics</li>
    </ul>
</body>
</html>`

// handleCommand parses and applies one text command
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendMethodNotAllowed(w)
		return
	}
	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form", "operation", "command")
		return
	}

	line := r.FormValue("command")
	slog.Debug("Command request received", "command", line)

	if line == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Command is required", "operation", "command")
		return
	}

	if err := s.service.Execute(line); err != nil {
		s.sendErrorResponse(w, statusForError(err),
			fmt.Sprintf("Command declined: %v", err),
			"command", line, "kind", looperr.KindOf(err))
		return
	}

	s.sendJSON(w, http.StatusOK, GenericResponse{
		Success: true,
		Message: fmt.Sprintf("Command '%s' applied", line),
	})
}

// handleStatus returns the current engine state
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendMethodNotAllowed(w)
		return
	}
	s.sendJSON(w, http.StatusOK, s.buildStatus(s.service.GetStatus()))
}

func (s *Server) buildStatus(st engine.Status) StatusResponse {
	return StatusResponse{
		Playing:       st.Transport.Playing,
		BPM:           st.Transport.BPM,
		Swing:         st.Transport.Swing,
		Volume:        st.Transport.Volume,
		NextBPM:       st.NextBPM,
		NextSwing:     st.NextSwing,
		Microphone:    string(st.Microphone),
		Recorder:      string(st.Recorder),
		Capturing:     st.Capturing,
		Recording:     st.Recording,
		StopRequested: st.StopRequested,
		Loop:          st.Cursor.Loop,
		Step:          st.Cursor.Step,
		LoopStart:     st.LoopStart,
		LoopEnd:       st.LoopEnd,
		Layers:        len(st.Layers),
		ActiveProfile: s.service.GetConfig().Profile,
		LastError:     s.service.GetLastError(),
	}
}

// handleLayers returns every layer with its pattern
func (s *Server) handleLayers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendMethodNotAllowed(w)
		return
	}

	snap := s.service.GetLayers()
	resp := LayersResponse{Layers: make([]LayerInfo, 0, len(snap))}
	for _, l := range snap {
		resp.Layers = append(resp.Layers, LayerInfo{
			ID:          l.ID,
			Pattern:     command.FormatPattern(l.Notes),
			Notes:       l.Notes[:],
			ActiveSteps: l.Notes.Count(),
			Muted:       l.Muted,
			Frames:      l.Frames(),
		})
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleProfiles returns available configuration profiles
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendMethodNotAllowed(w)
		return
	}

	profiles, err := config.ProfileNames(s.configFile)
	if err != nil {
		slog.Debug("No profiles available", "config_file", s.configFile, "error", err)
		profiles = []string{}
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"profiles": profiles,
		"active":   s.service.GetConfig().Profile,
	})
}

// handleSelectProfile loads a profile and applies its transport settings
func (s *Server) handleSelectProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendMethodNotAllowed(w)
		return
	}
	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form", "operation", "profile_selection")
		return
	}

	profile := r.FormValue("profile")
	slog.Debug("Profile selection request", "profile", profile)
	if profile == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Profile name is required", "operation", "profile_selection")
		return
	}

	if err := s.service.LoadProfile(profile); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest,
			fmt.Sprintf("Failed to load profile '%s': %v", profile, err),
			"profile", profile, "operation", "profile_selection")
		return
	}

	s.sendJSON(w, http.StatusOK, GenericResponse{
		Success: true,
		Message: fmt.Sprintf("Profile '%s' loaded", profile),
	})
}

// statusForError maps an error kind to its HTTP status
func statusForError(err error) int {
	switch {
	case looperr.IsPrecondition(err):
		return http.StatusConflict
	case looperr.IsRange(err):
		return http.StatusBadRequest
	case looperr.IsAbsent(err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) sendMethodNotAllowed(w http.ResponseWriter) {
	s.sendJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{
		"success": false,
		"error":   "Method not allowed",
	})
}

// sendErrorResponse logs the error with context and sends it as JSON
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	if statusCode >= http.StatusInternalServerError {
		slog.Error("Sending error response to client", logFields...)
	} else {
		slog.Debug("Sending error response to client", logFields...)
	}

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
