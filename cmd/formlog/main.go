// Package main provides the entry point for the formlog server.
package main

import (
	"context"
	"os"
	"sync/atomic"

	"github.com/narvanalabs/formlog/internal/api"
	"github.com/narvanalabs/formlog/internal/models"
	"github.com/narvanalabs/formlog/internal/recorder"
	"github.com/narvanalabs/formlog/internal/shutdown"
	"github.com/narvanalabs/formlog/internal/sink"
	"github.com/narvanalabs/formlog/internal/stream"
	"github.com/narvanalabs/formlog/pkg/config"
	"github.com/narvanalabs/formlog/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Default().Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.ParseLevel(cfg.LogLevel), cfg.LogJSON)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize sinks
	out, err := sink.New(ctx, cfg, log.WithComponent("sink").Logger)
	if err != nil {
		log.Error("failed to initialize sink", "error", err)
		os.Exit(1)
	}

	encoding := models.EncodingRaw
	if cfg.Encoding == config.EncodingRFC4180 {
		encoding = models.EncodingRFC4180
	}

	opts := []recorder.Option{
		recorder.WithEncoder(models.Encoder{
			Encoding:           encoding,
			NeutralizeFormulas: cfg.NeutralizeFormulas,
		}),
		recorder.WithLogger(log.WithComponent("recorder").Logger),
	}

	var broker *stream.Broker
	if cfg.StreamEnabled {
		broker = stream.NewBroker(log.WithComponent("stream").Logger)
		opts = append(opts, recorder.WithPublisher(broker))
	}

	rec := recorder.New(out, opts...)
	server := api.NewServer(cfg, out, rec, broker, log.Logger)

	// Components stop in reverse order: HTTP server, stream, sink.
	coord := shutdown.NewCoordinator(
		shutdown.WithTimeout(cfg.ShutdownTimeout),
		shutdown.WithLogger(log.Logger),
	)
	coord.Register(shutdown.NewCloserComponent("sink:"+out.Name(), out))
	if broker != nil {
		coord.Register(shutdown.NewFuncComponent("stream", func(context.Context) error {
			broker.Close()
			return nil
		}))
	}
	coord.Register(shutdown.NewHTTPServerComponent("http", server.HTTPServer()))

	var serverFailed atomic.Bool
	go func() {
		if err := server.Start(ctx); err != nil {
			log.Error("server error", "error", err)
			serverFailed.Store(true)
			cancel()
		}
	}()

	coord.WaitForSignal(ctx)

	code := coord.ExitCode()
	if serverFailed.Load() {
		code = 1
	}
	log.Info("server stopped", "exit_code", code)
	os.Exit(code)
}
