package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mlexpertio/neuromind/internal/config"
	"github.com/mlexpertio/neuromind/internal/engine"
	"github.com/mlexpertio/neuromind/internal/llm"
	"github.com/mlexpertio/neuromind/internal/logger"
	"github.com/mlexpertio/neuromind/internal/persona"
	"github.com/mlexpertio/neuromind/internal/store"
	"github.com/mlexpertio/neuromind/internal/transport"
)

func main() {
	root := &cobra.Command{
		Use:          "neuromindd",
		Short:        "neuromind chat server",
		Long:         "Serves persona-scoped chat threads over HTTP with streamed model output.",
		SilenceUsage: true,
		RunE:         run,
	}

	root.Flags().String("config", "", "config file (default neuromind.yaml in . or $APP_HOME)")
	root.Flags().String("addr", "", "listen address (overrides server.addr)")
	root.Flags().String("db", "", "database path (overrides database.path)")
	root.Flags().String("log-level", "", "debug, info, warn or error")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	if cfgPath == "" {
		cfgPath = config.FindFile()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("addr"); v != "" {
		cfg.Server.Addr = v
	}
	if v, _ := cmd.Flags().GetString("db"); v != "" {
		cfg.Database.Path = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Logging.Level = v
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log := slog.Default()

	if err := cfg.EnsureDirs(); err != nil {
		return fmt.Errorf("create data dirs: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := store.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	personas, err := persona.NewRegistry(cfg.PersonasDir(), cfg.Personas.Default, log.With("component", "persona"))
	if err != nil {
		return fmt.Errorf("load personas: %w", err)
	}

	model, err := llm.New(ctx, cfg.Model)
	if err != nil {
		return fmt.Errorf("create model: %w", err)
	}

	eng := engine.New(engine.Config{
		History:  s,
		Model:    model,
		Personas: personas,
		Timeout:  cfg.Model.Timeout,
		Logger:   log.With("component", "engine"),
	})

	var limiter *transport.RateLimiter
	if cfg.Server.ChatRate > 0 {
		limiter = transport.NewRateLimiter(cfg.Server.ChatRate, cfg.Server.ChatBurst)
	}

	srv := transport.NewServer(transport.ServerConfig{
		Addr:     cfg.Server.Addr,
		Store:    s,
		Engine:   eng,
		Personas: personas,
		Limiter:  limiter,
		Logger:   log.With("component", "http"),
	})

	log.Info("starting", "provider", cfg.Model.Provider, "model", model.Name(), "db", cfg.DBPath())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})
	if cfg.Personas.Watch {
		g.Go(func() error {
			return personas.Watch(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}
