package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"coursebot/internal/brain"
	"coursebot/internal/config"
	"coursebot/internal/db"
	"coursebot/internal/domain"
	"coursebot/internal/embedding"
	"coursebot/internal/llm"
	"coursebot/internal/logging"
	"coursebot/internal/rag"
	"coursebot/internal/session"
	"coursebot/internal/tokenizer"
	"coursebot/internal/tooling"
	"coursebot/internal/vectorstore"
	"coursebot/internal/window"
)

// embedTimeout bounds one call to the embedding server.
const embedTimeout = 30 * time.Second

// getenv is used for API keys and the config path; tests may replace it.
var getenv = os.Getenv

// app holds the wired components shared by the commands.
type app struct {
	cfg    *domain.Config
	logger *slog.Logger
	db     *sql.DB
	store  *vectorstore.CourseStore
	system *rag.System
}

// applyConfigFlag exports --config so every reader of the config path sees it.
func applyConfigFlag(cmd *cobra.Command) {
	if p, _ := cmd.Flags().GetString("config"); p != "" {
		_ = os.Setenv(config.EnvPath, p)
	}
}

// loadConfig reads the config file. A missing file yields the defaults.
func loadConfig(cmd *cobra.Command) (*domain.Config, bool, error) {
	applyConfigFlag(cmd)
	cfg, err := config.Load(config.Path(getenv))
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

// setup loads the config and wires the application. Callers must call close.
func setup(cmd *cobra.Command) (*app, error) {
	cfg, found, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.Infra, cmd.ErrOrStderr())
	if !found {
		logger.Info("no config file, using defaults", "path", config.Path(getenv))
	}
	return newApp(cmd.Context(), cfg, logger)
}

// newApp connects the store and builds the query facade described by cfg.
func newApp(ctx context.Context, cfg *domain.Config, logger *slog.Logger) (*app, error) {
	embedder, err := newEmbedder(cfg.Retrieval)
	if err != nil {
		return nil, err
	}
	generator, err := newGenerator(cfg, logger)
	if err != nil {
		return nil, err
	}

	conn, err := db.Connect(ctx, cfg.Retrieval.DatabaseURL)
	if err != nil {
		return nil, err
	}
	store, err := vectorstore.NewCourseStore(conn,
		vectorstore.WithEmbedder(embedder),
		vectorstore.WithMaxResults(cfg.Retrieval.MaxResults),
		vectorstore.WithLogger(logger),
	)
	if err != nil {
		conn.Close()
		return nil, err
	}

	tools := tooling.NewToolRegistry(tooling.WithRegistryLogger(logger))
	if err := errors.Join(
		tools.Register(tooling.NewCourseSearchTool(store, logger)),
		tools.Register(tooling.NewCourseOutlineTool(store)),
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("register tools: %w", err)
	}

	system := rag.New(generator, tools, newSessions(cfg.Session, logger), store, rag.WithLogger(logger))
	return &app{cfg: cfg, logger: logger, db: conn, store: store, system: system}, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.logger.Warn("close database", "error", err)
	}
}

// newEmbedder returns the configured embedder; "none" disables vector ranking.
func newEmbedder(cfg domain.RetrievalConfig) (domain.Embedder, error) {
	switch cfg.EmbeddingProvider {
	case "", "hash":
		return embedding.NewHashEmbedder(0), nil
	case "ollama":
		return embedding.NewOllamaEmbedder(cfg.OllamaURL, cfg.EmbeddingModel, embedTimeout), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q (use: hash, ollama, none)", cfg.EmbeddingProvider)
	}
}

// newGenerator builds the brain over the primary model and its fallbacks.
func newGenerator(cfg *domain.Config, logger *slog.Logger) (*brain.Brain, error) {
	provider, err := llm.NewProvider(cfg.Model, getenv, &cfg.Retry)
	if err != nil {
		return nil, err
	}
	opts := []brain.Option{
		brain.WithLogger(logger),
		brain.WithMaxRounds(cfg.Model.MaxToolRounds),
		brain.WithParallelTools(cfg.Model.ParallelTools),
	}
	fallbacks, errs := llm.NewFallbackProviders(cfg.Model, getenv, &cfg.Retry)
	for _, err := range errs {
		logger.Warn("fallback model skipped", "error", err)
	}
	if len(fallbacks) > 0 {
		opts = append(opts, brain.WithFallbacks(fallbacks...))
	}
	return brain.NewBrain(provider, opts...), nil
}

// newSessions builds the session manager with optional transcripts and token budget.
func newSessions(cfg domain.SessionConfig, logger *slog.Logger) *session.Manager {
	opts := []session.Option{
		session.WithMaxHistory(cfg.MaxHistory),
		session.WithLogger(logger),
	}
	if cfg.HistoryDir != "" {
		opts = append(opts, session.WithHistoryStore(session.NewHistoryStore(cfg.HistoryDir)))
	}
	if cfg.MaxHistoryTokens > 0 {
		tok := tokenizer.New(tokenizer.DefaultEncoding, logger)
		opts = append(opts, session.WithContextManager(window.NewManager(tok, cfg.MaxHistoryTokens)))
	}
	return session.NewManager(opts...)
}
