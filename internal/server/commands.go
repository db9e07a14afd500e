package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/streekomroep/voxcap/internal/capture"
	"github.com/streekomroep/voxcap/internal/config"
	"github.com/streekomroep/voxcap/internal/events"
	"github.com/streekomroep/voxcap/internal/notify"
	"github.com/streekomroep/voxcap/internal/source"
	"github.com/streekomroep/voxcap/internal/store"
	"github.com/streekomroep/voxcap/internal/types"
)

const (
	// MaxLogEntries is the maximum number of event log entries to return.
	MaxLogEntries = 100

	// startTimeout bounds audio input acquisition for capture/start.
	startTimeout = 10 * time.Second
)

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	cfg       *config.Config
	engine    *capture.Engine
	store     *store.Store
	forwarder *notify.Forwarder
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(cfg *config.Config, engine *capture.Engine, st *store.Store, forwarder *notify.Forwarder) *CommandHandler {
	return &CommandHandler{
		cfg:       cfg,
		engine:    engine,
		store:     st,
		forwarder: forwarder,
	}
}

// Handle processes a WebSocket command and performs the requested action.
// Commands use slash-style format: namespace/action (e.g., "capture/start").
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	parts := strings.SplitN(cmd.Type, "/", 3)
	namespace := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}
	subaction := ""
	if len(parts) > 2 {
		subaction = parts[2]
	}

	switch namespace {
	case "capture":
		h.handleCapture(action, cmd, send)
	case "settings":
		h.handleSettings(action, cmd, send)
	case "audio":
		h.handleAudio(action, cmd, send)
	case "recordings":
		h.handleRecordings(action, cmd, send)
	case "notifications":
		h.handleNotifications(action, subaction, cmd, send)
	case "config":
		h.handleConfig(action, cmd, send)
	case "status":
		h.handleStatus(action)
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
	}

	triggerStatusUpdate()
}

// --- Capture control ---

// handleCapture routes capture/* commands.
func (h *CommandHandler) handleCapture(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "start":
		var req CaptureStartRequest
		if !DecodeAndValidate(cmd, send, &req) {
			return
		}
		// Acquisition can block on subprocess startup, so run it off the
		// reader goroutine.
		HandleActionAsync(cmd, send, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
			defer cancel()
			if err := h.engine.Start(ctx, req.Continuous); err != nil {
				return nil, err
			}
			return h.engine.State(), nil
		})
	case "stop":
		HandleActionAsync(cmd, send, func() (any, error) {
			h.engine.Shutdown()
			return h.engine.State(), nil
		})
	default:
		slog.Warn("unknown capture action", "action", action)
	}
}

// --- Detection settings ---

// handleSettings routes settings/* commands.
func (h *CommandHandler) handleSettings(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "get":
		snap := h.cfg.Snapshot()
		SendSuccess(send, cmd.Type, map[string]any{
			"sensitivity":        snap.Sensitivity,
			"silence_timeout_ms": snap.SilenceTimeoutMs,
			"auto_start":         snap.AutoStart,
		})
	case "update":
		HandleCommand(cmd, send, func(req *SettingsUpdateRequest) error {
			if req.Sensitivity != nil {
				if err := h.cfg.SetSensitivity(*req.Sensitivity); err != nil {
					return err
				}
			}
			if req.SilenceTimeoutMs != nil {
				if err := h.cfg.SetSilenceTimeoutMs(*req.SilenceTimeoutMs); err != nil {
					return err
				}
			}
			if req.AutoStart != nil {
				if err := h.cfg.SetAutoStart(*req.AutoStart); err != nil {
					return err
				}
			}
			// Live settings are read every tick; nothing to restart.
			return nil
		})
	default:
		slog.Warn("unknown settings action", "action", action)
	}
}

// --- Audio settings ---

// handleAudio routes audio/* commands.
func (h *CommandHandler) handleAudio(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "get":
		SendSuccess(send, cmd.Type, map[string]any{
			"input":   h.cfg.AudioInput(),
			"codec":   h.cfg.Codec(),
			"devices": source.Devices(),
		})
	case "update":
		HandleCommand(cmd, send, func(req *AudioUpdateRequest) error {
			if req.Input != "" {
				slog.Info("audio/update: changing audio input", "input", req.Input)
				if err := h.cfg.SetAudioInput(req.Input); err != nil {
					return err
				}
			}
			if req.Codec != "" {
				if err := h.cfg.SetCodec(types.Codec(req.Codec)); err != nil {
					return err
				}
			}
			// An active session keeps its acquired input; the new device
			// applies on the next start, the codec on the next segment.
			return nil
		})
	default:
		slog.Warn("unknown audio action", "action", action)
	}
}

// --- Recordings ---

// handleRecordings routes recordings/* commands.
func (h *CommandHandler) handleRecordings(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "list":
		SendSuccess(send, cmd.Type, map[string]any{
			"recordings": h.store.List(),
		})
	case "delete":
		HandleCommand(cmd, send, func(req *RecordingDeleteRequest) error {
			return h.store.Delete(req.ID)
		})
	case "update":
		var req RecordingUpdateRequest
		if !DecodeAndValidate(cmd, send, &req) {
			return
		}
		rec, err := h.store.Update(req.ID, types.RecordingPatch{
			Transcription: req.Transcription,
			Summary:       req.Summary,
		})
		if err != nil {
			SendError(send, cmd.Type, err)
			return
		}
		SendSuccess(send, cmd.Type, rec)
	default:
		slog.Warn("unknown recordings action", "action", action)
	}
}

// --- Notifications ---

// handleNotifications routes notifications/*/* commands.
func (h *CommandHandler) handleNotifications(action, subaction string, cmd WSCommand, send chan<- any) {
	switch action {
	case "webhook":
		switch subaction {
		case "get":
			webhook := h.cfg.WebhookSettings()
			SendSuccess(send, cmd.Type, map[string]any{
				"url":       webhook.URL,
				"token_url": webhook.TokenURL,
				"client_id": webhook.ClientID,
			})
		case "update":
			HandleCommand(cmd, send, func(req *WebhookUpdateRequest) error {
				return h.cfg.SetWebhook(req.URL, req.TokenURL, req.ClientID, req.ClientSecret)
			})
		case "test":
			HandleActionAsync(cmd, send, func() (any, error) {
				return nil, h.forwarder.SendTest()
			})
		default:
			slog.Warn("unknown webhook action", "subaction", subaction)
		}
	case "log":
		switch subaction {
		case "get":
			SendSuccess(send, cmd.Type, map[string]any{"path": h.cfg.LogPath()})
		case "update":
			HandleCommand(cmd, send, func(req *LogUpdateRequest) error {
				return h.cfg.SetLogPath(req.Path)
			})
		case "view":
			HandleActionAsync(cmd, send, func() (any, error) {
				entries, err := events.ReadLast(h.cfg.LogPath(), MaxLogEntries)
				if err != nil {
					return nil, err
				}
				return map[string]any{"events": entries}, nil
			})
		default:
			slog.Warn("unknown log action", "subaction", subaction)
		}
	default:
		slog.Warn("unknown notifications action", "action", action)
	}
}

// --- Config ---

// handleConfig routes config/* commands.
func (h *CommandHandler) handleConfig(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "regenerate-key":
		HandleActionAsync(cmd, send, func() (any, error) {
			newKey, err := config.GenerateAPIKey()
			if err != nil {
				return nil, err
			}
			if err := h.cfg.SetAPIKey(newKey); err != nil {
				return nil, err
			}
			slog.Info("API key regenerated")
			return map[string]string{"api_key": newKey}, nil
		})
	default:
		slog.Warn("unknown config action", "action", action)
	}
}

// handleStatus routes status/* commands.
func (h *CommandHandler) handleStatus(action string) {
	switch action {
	case "get":
		// Status is sent automatically; an explicit get triggers an
		// immediate update via triggerStatusUpdate.
	default:
		slog.Warn("unknown status action", "action", action)
	}
}
