// Command agent runs the ClipBench local agent: a loopback HTTP API and a
// system-tray control around the media edit engine.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/clipbench/clipbench-agent/internal/api"
	"github.com/clipbench/clipbench-agent/internal/captions"
	"github.com/clipbench/clipbench-agent/internal/config"
	"github.com/clipbench/clipbench-agent/internal/db"
	"github.com/clipbench/clipbench-agent/internal/ffmpeg"
	"github.com/clipbench/clipbench-agent/internal/logging"
	"github.com/clipbench/clipbench-agent/internal/playback"
	"github.com/clipbench/clipbench-agent/internal/project"
	"github.com/clipbench/clipbench-agent/internal/render"
	"github.com/clipbench/clipbench-agent/internal/session"
	"github.com/clipbench/clipbench-agent/internal/ui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "agent:", err)
		os.Exit(1)
	}
}

func run() error {
	// A .env next to the binary is a convenience for development.
	_ = godotenv.Load()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	slog.SetDefault(logger)
	logger.Info("starting clipbench agent",
		"version", config.Version,
		"commit", config.GitCommit,
		"built", config.BuildTime,
		"port", cfg.Port(),
	)

	for _, dir := range []string{cfg.DataDir(), cfg.ScratchDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	repo := session.NewSQLiteRepository(database.Conn())

	ctx := context.Background()
	token, err := ensureConfigValue(ctx, repo, "auth_token")
	if err != nil {
		return fmt.Errorf("auth token: %w", err)
	}
	agentID, err := ensureConfigValue(ctx, repo, "agent_id")
	if err != nil {
		return fmt.Errorf("agent id: %w", err)
	}
	logger.Info("agent identity", "agent_id", agentID, "token", logging.SanitizeToken(token))

	renderer, err := ffmpeg.NewExecutor(ffmpeg.Config{
		FFmpegPath:  cfg.FFmpegPath(),
		FFprobePath: cfg.FFprobePath(),
		Timeout:     cfg.RenderTimeout(),
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("renderer unavailable: %w", err)
	}

	var transcriber captions.Transcriber
	if wr, err := captions.NewWhisperRunner(captions.Config{
		WhisperPath: cfg.WhisperPath(),
		Model:       cfg.WhisperModel(),
		Timeout:     cfg.TranscribeTimeout(),
		Logger:      logger,
	}); err != nil {
		logger.Warn("transcriber unavailable, captions disabled", "error", err)
	} else {
		transcriber = wr
	}

	runner := render.NewRunner(logger)
	sessions := session.NewService(repo, renderer, transcriber, runner, logger, cfg.ScratchDir(), cfg.HistoryLimit())
	projects := project.NewService(repo, renderer, transcriber, runner, logger, cfg.ScratchDir(), cfg.SnapshotLimit())
	if err := projects.Load(ctx); err != nil {
		logger.Warn("failed to restore project state", "error", err)
	}

	player := playback.NewServer(logger, runner)
	srv := api.NewServer(logger, sessions, projects, player, runner, token, config.Version, cfg.Port())

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("api server stopped", "error", err)
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tray := ui.New(logger, runner, config.Version, stop)
	go func() {
		<-sigCtx.Done()
		tray.Quit()
	}()

	// Blocks on the main thread until the tray quits, either from its menu
	// or via the signal handler above.
	tray.Run()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown", "error", err)
	}
	return nil
}

// ensureConfigValue returns the stored value for key, generating and
// persisting a fresh uuid on first run.
func ensureConfigValue(ctx context.Context, repo session.Repository, key string) (string, error) {
	value, err := repo.GetConfig(ctx, key)
	if err != nil {
		return "", err
	}
	if value != "" {
		return value, nil
	}
	value = uuid.NewString()
	if err := repo.SetConfig(ctx, key, value); err != nil {
		return "", err
	}
	return value, nil
}
