package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/coachkit/voicecoach/internal/config"
	"github.com/coachkit/voicecoach/internal/dialogue"
	"github.com/coachkit/voicecoach/internal/httpapi"
	"github.com/coachkit/voicecoach/internal/observability"
	"github.com/coachkit/voicecoach/internal/session"
	"github.com/coachkit/voicecoach/internal/transcript"
	"github.com/coachkit/voicecoach/internal/voice"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Sessions     *session.Manager
	Orchestrator *voice.Orchestrator
	Store        transcript.Store
	Metrics      *observability.Metrics

	// Cleanup releases external resources (DB pool) on shutdown.
	Cleanup func() error
}

// Build wires the full service from configuration. The dialogue backend is
// mocked when COACH_BACKEND=mock, which keeps local development independent
// of the roleplay platform.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := transcript.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("transcript store init failed: %w", err)
	}

	var backend dialogue.Client
	if strings.EqualFold(cfg.BackendMode, "mock") {
		backend = dialogue.NewMockClient()
		logger.Info("dialogue backend: mock")
	} else {
		backend = dialogue.NewHTTPClient(cfg.DialogueBaseURL, cfg.DialogueTimeout)
		logger.Info("dialogue backend: http", zap.String("base_url", cfg.DialogueBaseURL))
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(s *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
		logger.Info("session expired", zap.String("session_id", s.ID), zap.String("room", s.Room))
	})

	orchestrator := voice.NewOrchestrator(cfg, sessions, backend, store, metrics, logger)
	api := httpapi.New(cfg, sessions, orchestrator, store, metrics, logger)

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Sessions:     sessions,
		Orchestrator: orchestrator,
		Store:        store,
		Metrics:      metrics,
		Cleanup:      store.Close,
	}, nil
}
