package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/GetStream/chat-render/api"
	"github.com/GetStream/chat-render/api/validator"
	"github.com/GetStream/chat-render/config"
	"github.com/GetStream/chat-render/postgres"
	"github.com/GetStream/chat-render/redis"
	"github.com/GetStream/chat-render/render"
)

func main() {
	// A missing .env file is fine; the environment may be set up already.
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("RENDERD_CONFIG"), "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "renderd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(os.Stdout, cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	logger.Info("Connected to Postgres")

	cache, err := redis.Connect(ctx, cfg.Redis.Addr)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer cache.Close()
	logger.Info("Connected to Redis", "addr", cfg.Redis.Addr)

	opts, err := cfg.Render.Options()
	if err != nil {
		return err
	}
	renderer := &render.Renderer{
		Options:      opts,
		Hooks:        newHooks(logger),
		Capabilities: cache,
		Retrier:      cache,
		Logger:       logger,
	}

	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: &api.API{
			Logger:   logger,
			DB:       db,
			Cache:    cache,
			Val:      validator.New(),
			Renderer: renderer,
		},
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("Listening", "addr", cfg.HTTP.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down", "timeout", cfg.HTTP.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newLogger(w io.Writer, cfg config.LogConfig) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}

// newHooks returns the body transformation hooks. The built-in listeners
// only trace the pipeline at debug level.
func newHooks(logger *slog.Logger) *render.Bus {
	bus := render.NewBus()
	for _, event := range []string{render.EventBeforeBodyTransformed, render.EventAfterBodyTransformed} {
		bus.On(event, func(_ context.Context, rec *render.Record, text string) error {
			logger.Debug("Body hook", "event", event, "id", rec.ID, "length", len(text))
			return nil
		})
	}
	return bus
}
