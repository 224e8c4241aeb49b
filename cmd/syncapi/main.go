package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/b00skit/antelope-sync/internal/api"
	"github.com/b00skit/antelope-sync/internal/bootstrap"
	"github.com/b00skit/antelope-sync/pkg/config"
	"github.com/b00skit/antelope-sync/pkg/logger"
	"github.com/b00skit/antelope-sync/pkg/server"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to a config file")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	l, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Environment,
		ServiceName: cfg.ServiceName + "-api",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer l.Sync()

	l.Info("sync api initializing",
		zap.String("env", cfg.Environment),
		zap.String("store", cfg.Store.Driver))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Connect store and build engine
	components, err := bootstrap.Setup(ctx, cfg, l)
	if err != nil {
		l.Error("failed to initialize components", err)
		os.Exit(1)
	}
	defer components.Close()

	// 4. Start observability server
	obsServer := server.New(cfg.HTTP.ObservabilityAddr, l, components.ReadinessChecks())
	go func() {
		if err := obsServer.Start(); err != nil {
			l.Error("observability server failed", err)
		}
	}()

	// 5. Start API
	e := api.New(components.Engine, components.Previews, l)
	go func() {
		l.Info("sync api starting", zap.String("addr", cfg.HTTP.APIAddr))
		if err := e.Start(cfg.HTTP.APIAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("sync api failed", err)
			stop()
		}
	}()

	<-ctx.Done()
	l.Info("sync api stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		l.Error("api shutdown failed", err)
	}
	obsServer.Shutdown(shutdownCtx)
}
