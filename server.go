package main

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streekomroep/voxcap/internal/capture"
	"github.com/streekomroep/voxcap/internal/config"
	"github.com/streekomroep/voxcap/internal/segment"
	"github.com/streekomroep/voxcap/internal/server"
	"github.com/streekomroep/voxcap/internal/source"
	"github.com/streekomroep/voxcap/internal/store"
	"github.com/streekomroep/voxcap/internal/types"
)

// Server exposes the capture service over HTTP: a WebSocket command
// surface, a REST API for recordings and artifacts, and Prometheus
// metrics. REST and WebSocket access require the configured API key.
type Server struct {
	config          *config.Config
	engine          *capture.Engine
	store           *store.Store
	artifacts       *segment.ArtifactRegistry
	commands        *server.CommandHandler
	version         *VersionChecker
	registry        *prometheus.Registry
	ffmpegAvailable bool
}

// NewServer returns a new Server wired to the capture engine and stores.
func NewServer(cfg *config.Config, engine *capture.Engine, st *store.Store, artifacts *segment.ArtifactRegistry, commands *server.CommandHandler, registry *prometheus.Registry, ffmpegAvailable bool) *Server {
	return &Server{
		config:          cfg,
		engine:          engine,
		store:           st,
		artifacts:       artifacts,
		commands:        commands,
		version:         NewVersionChecker(),
		registry:        registry,
		ffmpegAvailable: ffmpegAvailable,
	}
}

// --- WebSocket ---

// handleWebSocket handles bidirectional WebSocket communication for
// real-time session state and commands.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	// Buffered send channel for thread-safe writes. Only the writer
	// goroutine writes to the connection.
	send := make(chan any, 16)
	done := make(chan struct{})
	statusUpdate := make(chan struct{}, 1)

	go s.runWebSocketWriter(conn, send)
	go s.runWebSocketReader(conn, send, done, statusUpdate)

	s.runWebSocketEventLoop(send, done, statusUpdate)
}

// runWebSocketWriter writes messages from the send channel to the connection.
func (s *Server) runWebSocketWriter(conn server.WebSocketConn, send <-chan any) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	for msg := range send {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// runWebSocketReader reads commands from the connection and dispatches them.
func (s *Server) runWebSocketReader(conn server.WebSocketConn, send chan<- any, done, statusUpdate chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in WebSocket reader", "panic", r)
		}
		close(done)
	}()

	for {
		var cmd server.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.commands.Handle(cmd, send, func() {
			select {
			case statusUpdate <- struct{}{}:
			default:
			}
		})
	}
}

// runWebSocketEventLoop pushes session state at meter rate and the full
// status periodically or on demand.
func (s *Server) runWebSocketEventLoop(send chan any, done, statusUpdate <-chan struct{}) {
	stateTicker := time.NewTicker(250 * time.Millisecond) // volume and silence progress
	statusTicker := time.NewTicker(3 * time.Second)       // full status
	defer stateTicker.Stop()
	defer statusTicker.Stop()

	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	if !trySend(s.buildWSStatus()) {
		close(send)
		return
	}

	for {
		select {
		case <-done:
			close(send)
			return
		case <-statusUpdate:
			if !trySend(s.buildWSStatus()) {
				close(send)
				return
			}
		case <-stateTicker.C:
			if !trySend(wsState{Type: "state", Session: s.engine.State()}) {
				close(send)
				return
			}
		case <-statusTicker.C:
			if !trySend(s.buildWSStatus()) {
				close(send)
				return
			}
		}
	}
}

// wsState is the high-rate session state push.
type wsState struct {
	Type    string             `json:"type"`
	Session types.SessionState `json:"session"`
}

// wsStatus is the full status push.
type wsStatus struct {
	Type            string               `json:"type"`
	FFmpegAvailable bool                 `json:"ffmpeg_available"`
	Platform        string               `json:"platform"`
	Session         types.SessionState   `json:"session"`
	Settings        wsSettings           `json:"settings"`
	Devices         []types.AudioDevice  `json:"devices"`
	Recordings      []types.Recording    `json:"recordings"`
	WebhookURL      string               `json:"webhook_url"`
	LogPath         string               `json:"log_path"`
	Version         VersionInfo          `json:"version"`
}

// wsSettings mirrors the configurable knobs in status pushes.
type wsSettings struct {
	Sensitivity      int    `json:"sensitivity"`
	SilenceTimeoutMs int64  `json:"silence_timeout_ms"`
	AutoStart        bool   `json:"auto_start"`
	Input            string `json:"input"`
	Codec            string `json:"codec"`
}

// buildWSStatus returns the current WebSocket status response.
func (s *Server) buildWSStatus() wsStatus {
	snap := s.config.Snapshot()

	return wsStatus{
		Type:            "status",
		FFmpegAvailable: s.ffmpegAvailable,
		Platform:        runtime.GOOS,
		Session:         s.engine.State(),
		Settings: wsSettings{
			Sensitivity:      snap.Sensitivity,
			SilenceTimeoutMs: snap.SilenceTimeoutMs,
			AutoStart:        snap.AutoStart,
			Input:            snap.AudioInput,
			Codec:            string(snap.Codec),
		},
		Devices:    source.Devices(),
		Recordings: s.store.List(),
		WebhookURL: snap.WebhookURL,
		LogPath:    snap.LogPath,
		Version:    s.version.Info(),
	}
}

// --- Routes ---

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Public routes
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	// Artifact payloads: the token is the capability.
	mux.HandleFunc("GET /api/artifacts/{token}", s.handleArtifact)

	// API-key protected routes
	mux.HandleFunc("/ws", s.apiKeyAuth(s.handleWebSocket))
	mux.HandleFunc("GET /api/status", s.apiKeyAuth(s.handleStatus))
	mux.HandleFunc("GET /api/recordings", s.apiKeyAuth(s.handleListRecordings))
	mux.HandleFunc("DELETE /api/recordings/{id}", s.apiKeyAuth(s.handleDeleteRecording))
	mux.HandleFunc("PATCH /api/recordings/{id}", s.apiKeyAuth(s.handlePatchRecording))

	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// apiKeyAuth returns middleware for API key authentication. WebSocket
// clients that cannot set headers may pass the key as a query parameter.
func (s *Server) apiKeyAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := s.config.GetAPIKey()
		if apiKey == "" {
			http.Error(w, "API key not configured", http.StatusServiceUnavailable)
			return
		}

		providedKey := r.Header.Get("X-API-Key")
		if providedKey == "" {
			providedKey = r.URL.Query().Get("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(providedKey), []byte(apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// --- REST handlers ---

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// handleHealth handles GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus handles GET /api/status.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.buildWSStatus())
}

// handleListRecordings handles GET /api/recordings.
func (s *Server) handleListRecordings(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"recordings": s.store.List()})
}

// handleDeleteRecording handles DELETE /api/recordings/{id}.
func (s *Server) handleDeleteRecording(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.Delete(id); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

// handlePatchRecording handles PATCH /api/recordings/{id}.
func (s *Server) handlePatchRecording(w http.ResponseWriter, r *http.Request) {
	var patch types.RecordingPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	rec, err := s.store.Update(r.PathValue("id"), patch)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

// handleArtifact handles GET /api/artifacts/{token}.
func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	data, contentType, ok := s.artifacts.Get(r.PathValue("token"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "artifact not found")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	if _, err := w.Write(data); err != nil {
		slog.Error("failed to write artifact", "error", err)
	}
}

// Start begins the HTTP server. Returns an *http.Server that can be used
// for graceful shutdown.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.config.Snapshot().WebPort)
	slog.Info("starting web server", "addr", addr)

	srv := &http.Server{
		Addr:    addr,
		Handler: s.SetupRoutes(),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}
