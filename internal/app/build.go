package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mbrandolini/cookalong/internal/audio"
	"github.com/mbrandolini/cookalong/internal/config"
	"github.com/mbrandolini/cookalong/internal/httpapi"
	"github.com/mbrandolini/cookalong/internal/observability"
	"github.com/mbrandolini/cookalong/internal/recipe"
	"github.com/mbrandolini/cookalong/internal/session"
)

type AgentInfo struct {
	Provider string
	Detail   string
}

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Recipes  recipe.Store
	Metrics  *observability.Metrics
	Agent    AgentInfo

	// Cleanup releases external resources (DB pool) on shutdown.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	recipes, err := recipe.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("recipe store init failed: %w", err)
	}
	storeMode := "in-memory"
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		storeMode = "postgres"
	}

	setup, err := resolveAgentProvider(cfg, logger)
	if err != nil {
		_ = recipes.Close()
		return nil, err
	}
	cfg.AgentProvider = setup.provider

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.CookSession) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	factory := func(rec recipe.Recipe) *session.Controller {
		return session.NewController(session.Options{
			Capability:         setup.newCapability(),
			Exchanger:          setup.exchanger,
			Probe:              audio.NewRemoteProbe(),
			Primer:             audio.PassthroughPrimer{},
			SystemInstructions: rec.SystemInstructions(),
			OpeningUtterance:   rec.OpeningLine(),
			Language:           cfg.Language,
			CleanupGrace:       cfg.CleanupGrace,
			KeepAliveInterval:  cfg.KeepAliveInterval,
			Metrics:            metrics,
			Logger:             logger,
		})
	}

	api := httpapi.New(cfg, sessions, recipes, factory, setup.provider, storeMode, metrics)

	cleanup := func() error {
		return recipes.Close()
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Recipes:  recipes,
		Metrics:  metrics,
		Agent: AgentInfo{
			Provider: setup.provider,
			Detail:   setup.detail,
		},
		Cleanup: cleanup,
	}, nil
}
