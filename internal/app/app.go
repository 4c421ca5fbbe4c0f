// Package app wires the pieces both binaries share: logger, database,
// upstream pool and the chat pipeline.
package app

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/suPer8Hu/chat-relay/internal/ai"
	"github.com/suPer8Hu/chat-relay/internal/chat"
	"github.com/suPer8Hu/chat-relay/internal/config"
	"github.com/suPer8Hu/chat-relay/internal/db"
	"github.com/suPer8Hu/chat-relay/internal/logger"
	"github.com/suPer8Hu/chat-relay/internal/metrics"
	"github.com/suPer8Hu/chat-relay/internal/quota"
)

type App struct {
	Cfg      config.Config
	Log      *logrus.Logger
	DB       *gorm.DB
	Pool     *ai.Pool
	Metrics  *metrics.Metrics
	Repo     *chat.Repo
	Sessions *chat.Orchestrator
	Quota    *quota.Gate
	Pipeline *chat.Pipeline
}

// New connects to the database, migrates and seeds it, and builds the relay
// pipeline for the configured provider.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(gdb); err != nil {
		return nil, fmt.Errorf("app: migrate: %w", err)
	}
	if err := db.Seed(ctx, gdb, db.AdminSeed{
		Username: cfg.AdminUsername,
		Password: cfg.AdminPassword,
		Email:    cfg.AdminEmail,
	}, log); err != nil {
		return nil, fmt.Errorf("app: seed: %w", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	pool := ai.NewPool(ai.PoolConfig{
		MaxConns:       cfg.UpstreamMaxConns,
		IdleTimeout:    cfg.UpstreamIdleTimeout,
		MaxLifetime:    cfg.UpstreamMaxLifetime,
		ConnectTimeout: cfg.UpstreamConnectTimeout,
	})
	provider, err := Providers(cfg, pool).Get(cfg.AIProvider)
	if err != nil {
		pool.Close()
		return nil, err
	}

	m := metrics.New()
	repo := chat.NewRepo(gdb)
	orch := chat.NewOrchestrator(repo, cfg.AIProvider)
	gate := quota.NewGate(gdb, quota.WithLocation(loc))
	pipeline := chat.NewPipeline(gate, repo, orch, provider,
		chat.WithSystemPrompt(cfg.SystemPrompt),
		chat.WithLogger(log),
		chat.WithMetrics(m),
	)

	log.WithFields(logrus.Fields{
		"provider":  cfg.AIProvider,
		"max_conns": cfg.UpstreamMaxConns,
		"timezone":  loc.String(),
	}).Info("chat pipeline ready")

	return &App{
		Cfg:      cfg,
		Log:      log,
		DB:       gdb,
		Pool:     pool,
		Metrics:  m,
		Repo:     repo,
		Sessions: orch,
		Quota:    gate,
		Pipeline: pipeline,
	}, nil
}

// Providers registers every supported OpenAI-compatible backend on the
// shared pool.
func Providers(cfg config.Config, pool *ai.Pool) *ai.Registry {
	reg := ai.NewRegistry()
	timeout := cfg.UpstreamResponseTimeout
	reg.Register("groq", ai.NewGroqProvider(cfg.GroqBaseURL, cfg.GroqAPIKey, pool.Client, timeout))
	reg.Register("openrouter", ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey,
		cfg.OpenRouterSiteURL, cfg.OpenRouterAppName, pool.Client, timeout))
	reg.Register("ollama", ai.NewOllamaProvider(cfg.OllamaBaseURL, pool.Client, timeout))
	return reg
}

func (a *App) Close() {
	a.Pool.Close()
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
