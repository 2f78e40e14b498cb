// Storytimed is the headless storytime capture agent.
//
// It loads configuration, hosts a page (the built-in demo storefront or a
// configured document), connects it to the Papercups backend as a browser
// session and streams replay events while an admin is watching. A local
// HTTP/WebSocket server exposes status for stctl. On SIGINT or SIGTERM the
// session is finished before the process exits.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/large-farva/storytime/internal/app"
	"github.com/large-farva/storytime/internal/config"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "/etc/storytime/storytime.toml", "Path to config TOML")
		bind       = pflag.String("bind", "", "HTTP bind address (overrides server.bind)")
		debug      = pflag.Bool("debug", false, "Force debug logging")
	)
	pflag.Parse()

	boot := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot.Fatal().Err(err).Str("path", *configPath).Msg("config load failed")
	}
	if *debug {
		cfg.Debug = true
	}

	logs := app.NewLogBuffer(500)
	logger := app.NewLogger(cfg, os.Stderr, logs)

	a, err := app.New(app.Options{
		Logger:     logger,
		Logs:       logs,
		Cfg:        cfg,
		ConfigPath: *configPath,
		Bind:       *bind,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("storytimed failed")
	}

	// Brief pause so in-flight log writes can flush before exit.
	time.Sleep(50 * time.Millisecond)
}
