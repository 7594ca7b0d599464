package main

import (
	"context"
	"flag"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nawresmhed/guidezella/pkg/chat"
	"github.com/nawresmhed/guidezella/pkg/config"
	"github.com/nawresmhed/guidezella/pkg/server"
	"github.com/nawresmhed/guidezella/pkg/tools"
)

var (
	configPath = flag.String("config", config.DefaultConfigFile, "path to the TOML config file")
	listen     = flag.String("listen", "", "address to listen on; overrides the config")
)

func main() {
	flag.Parse()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		AddSource: true,
		Level:     c.LogLevel,
	}))
	slog.SetDefault(logger)

	if err := run(ctx, c, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *config.Config, logger *slog.Logger) error {
	systemPrompt, err := c.SystemPrompt()
	if err != nil {
		return err
	}
	genConfig, err := c.GeneratorConfig()
	if err != nil {
		return err
	}
	gen, err := genConfig.NewGenerator(ctx)
	if err != nil {
		return err
	}

	provider, err := c.NewToolProvider()
	if err != nil {
		return err
	}
	if closer, ok := provider.(io.Closer); ok {
		defer closer.Close()
	}
	resolveCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	builtins, err := tools.ResolveBuiltins(resolveCtx, provider, c.BuiltinTools, c.Tools.Format)
	cancel()
	if err != nil {
		return err
	}
	logger.Info("tools resolved", "provider", c.Tools.Provider, "builtins", len(builtins))

	engine, err := chat.NewEngine(chat.Options{
		SystemPrompt:     systemPrompt,
		Builtins:         builtins,
		Generator:        gen,
		Invoker:          provider,
		Auth:             c.Auth(),
		Format:           c.Tools.Format,
		MaxIterations:    c.MaxIterations,
		GeneratorTimeout: c.GeneratorTimeout,
		ToolTimeout:      c.ToolTimeout,
		Logger:           logger,
		SessionLogDir:    c.SessionLogDir,
	})
	if err != nil {
		return err
	}

	speaker, err := c.NewSpeaker()
	if err != nil {
		return err
	}
	opts := server.Options{Engine: engine, Logger: logger}
	if speaker != nil {
		opts.Speaker = speaker
	} else {
		logger.Warn("speech is disabled", "env", config.ElevenLabsKeyEnv)
	}
	srv, err := server.New(opts)
	if err != nil {
		return err
	}

	addr := c.Listen
	if *listen != "" {
		addr = *listen
	}
	logger.Info("starting", "generator", genConfig.Name(), "addr", addr)
	return srv.ListenAndServe(ctx, addr)
}
