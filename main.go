// Package main provides a voice-activated audio capture service. It
// listens to an audio input, records voice-active spans as individual
// segments, and exposes the session and its recordings over a WebSocket
// and REST API.
//
// Usage:
//
//	voxcap [-config path/to/config.json]
//
// If -config is not specified, the service looks for config.json in the
// same directory as the binary.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/streekomroep/voxcap/internal/capture"
	"github.com/streekomroep/voxcap/internal/config"
	"github.com/streekomroep/voxcap/internal/events"
	"github.com/streekomroep/voxcap/internal/metrics"
	"github.com/streekomroep/voxcap/internal/notify"
	"github.com/streekomroep/voxcap/internal/segment"
	"github.com/streekomroep/voxcap/internal/server"
	"github.com/streekomroep/voxcap/internal/source"
	"github.com/streekomroep/voxcap/internal/store"
	"github.com/streekomroep/voxcap/internal/types"
	"github.com/streekomroep/voxcap/internal/util"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	if *showVersion {
		slog.Info("version info", "version", Version, "commit", Commit, "build_time", BuildTime)
		return
	}

	if *configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			slog.Error("failed to get executable path", "error", err)
			os.Exit(1)
		}
		*configPath = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	slog.Info("using config file", "path", *configPath)

	cfg := config.New(*configPath)
	if err := cfg.Load(); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Generate an API key on first boot so the service is reachable.
	if cfg.GetAPIKey() == "" {
		key, err := config.GenerateAPIKey()
		if err != nil {
			slog.Error("failed to generate API key", "error", err)
			os.Exit(1)
		}
		if err := cfg.SetAPIKey(key); err != nil {
			slog.Error("failed to save API key", "error", err)
			os.Exit(1)
		}
		slog.Info("generated API key", "api_key", key)
	}

	// Check FFmpeg availability.
	ffmpegPath := util.ResolveFFmpegPath(cfg.GetFFmpegPath())
	ffmpegAvailable := ffmpegPath != ""
	if !ffmpegAvailable {
		slog.Warn("FFmpeg not found - segments cannot be encoded",
			"configured_path", cfg.GetFFmpegPath())
	} else {
		slog.Info("FFmpeg found", "path", ffmpegPath)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	artifacts := segment.NewArtifactRegistry()
	st := store.New(artifacts.Release)

	var eventLog *events.Logger
	if path := cfg.LogPath(); path != "" {
		var err error
		eventLog, err = events.NewLogger(path)
		if err != nil {
			slog.Error("failed to open event log", "path", path, "error", err)
		}
	}

	forwarder := notify.NewForwarder(cfg, artifacts, m)

	seg := segment.NewSegmenter(
		source.NewFFmpegEncoderFactory(cfg, ffmpegPath),
		artifacts,
		st,
		func() string { return types.PresetFor(cfg.Codec()).ContentType },
	)
	seg.UseMetrics(m)
	seg.OnRecording(func(rec types.Recording) {
		m.RecordingFinalized()
		m.SetRecordingsStored(st.Len())
		logEvent(eventLog, &events.CaptureEvent{
			Event:       events.EventFinalized,
			RecordingID: rec.ID,
			DurationSec: rec.DurationSec,
			SizeBytes:   rec.Artifact.SizeBytes,
		})
		forwarder.Enqueue(rec)
	})

	engine := capture.New(cfg, source.NewCaptureSource(cfg, ffmpegPath), seg, capture.WithMetrics(m))
	engine.OnTransition(func(state types.SessionState) {
		logEvent(eventLog, transitionEvent(state))
	})

	commands := server.NewCommandHandler(cfg, engine, st, forwarder)
	srv := NewServer(cfg, engine, st, artifacts, commands, registry, ffmpegAvailable)

	if cfg.AutoStart() {
		slog.Info("auto-starting continuous capture")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := engine.Start(ctx, true); err != nil {
			slog.Error("auto-start failed", "error", err)
		}
		cancel()
	}

	httpServer := srv.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, util.ShutdownSignals()...)
	<-sigChan

	slog.Info("shutting down")

	srv.version.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	engine.Shutdown()
	forwarder.Close()

	if eventLog != nil {
		if err := eventLog.Close(); err != nil {
			slog.Error("failed to close event log", "error", err)
		}
	}

	slog.Info("shutdown complete")
}

// logEvent writes to the event log when one is configured.
func logEvent(log *events.Logger, event *events.CaptureEvent) {
	if log == nil || event == nil {
		return
	}
	if err := log.Log(event); err != nil {
		slog.Warn("failed to write event log entry", "error", err)
	}
}

// transitionEvent maps a session state change onto an event log entry.
// Ticks do not transition, so only real state changes arrive here.
func transitionEvent(state types.SessionState) *events.CaptureEvent {
	switch state.Status {
	case types.StatusListening:
		return &events.CaptureEvent{Event: events.EventListening, Continuous: state.Continuous}
	case types.StatusRecording:
		return &events.CaptureEvent{Event: events.EventRecording, Continuous: state.Continuous}
	case types.StatusIdle:
		return &events.CaptureEvent{Event: events.EventStopped}
	case types.StatusError:
		return &events.CaptureEvent{Event: events.EventError, Error: state.LastError}
	}
	return nil
}
