package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/b00skit/antelope-sync/internal/bootstrap"
	"github.com/b00skit/antelope-sync/internal/trigger"
	"github.com/b00skit/antelope-sync/pkg/config"
	"github.com/b00skit/antelope-sync/pkg/consumer"
	"github.com/b00skit/antelope-sync/pkg/logger"
	"github.com/b00skit/antelope-sync/pkg/retry"
	"github.com/b00skit/antelope-sync/pkg/server"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to a config file")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err == nil {
		err = cfg.ValidateWorker()
	}
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	l, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Environment,
		ServiceName: cfg.ServiceName + "-worker",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer l.Sync()

	l.Info("sync worker initializing",
		zap.String("env", cfg.Environment),
		zap.Strings("brokers", cfg.Kafka.Brokers))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Connect store and build engine
	components, err := bootstrap.Setup(ctx, cfg, l)
	if err != nil {
		l.Error("failed to initialize components", err)
		os.Exit(1)
	}
	defer components.Close()

	// 4. Initialize consumer
	kafkaConsumer := consumer.NewKafkaConsumer(consumer.Config{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.RequestTopic,
		GroupID: cfg.Kafka.GroupID,
	})

	// 5. Create service
	retryOpts := retry.DefaultOptions()
	retryOpts.MaxAttempts = cfg.Sync.MaxAttempts
	svc := trigger.NewService(l, kafkaConsumer, components.Engine, cfg.Sync.WorkerCount, retryOpts)

	// 6. Start observability server
	obsServer := server.New(cfg.HTTP.ObservabilityAddr, l, components.ReadinessChecks())
	go func() {
		if err := obsServer.Start(); err != nil {
			l.Error("observability server failed", err)
		}
	}()

	// 7. Start service
	l.Info("sync worker starting", zap.String("topic", cfg.Kafka.RequestTopic))
	if err := svc.Start(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			l.Info("sync worker stopping")
		} else {
			l.Error("sync worker failed", err)
		}
	}

	// Clean up observability server
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	obsServer.Shutdown(shutdownCtx)
}
