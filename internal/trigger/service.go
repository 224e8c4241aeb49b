// Package trigger runs syncs requested over Kafka. Each request is checked for
// staleness, synced through the engine and retried while the failure is
// transient.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/b00skit/antelope-sync/internal/audit"
	"github.com/b00skit/antelope-sync/internal/engine"
	"github.com/b00skit/antelope-sync/internal/model"
	"github.com/b00skit/antelope-sync/internal/syncerr"
	"github.com/b00skit/antelope-sync/pkg/consumer"
	"github.com/b00skit/antelope-sync/pkg/logger"
	"github.com/b00skit/antelope-sync/pkg/metrics"
	"github.com/b00skit/antelope-sync/pkg/retry"
	"github.com/b00skit/antelope-sync/pkg/worker"

	"go.uber.org/zap"
)

// Outcome labels of metrics.SyncRequestsTotal
const (
	OutcomeSynced    = "synced"
	OutcomeUnchanged = "unchanged"
	OutcomeFresh     = "fresh"
	OutcomeMalformed = "malformed"
	OutcomeDropped   = "dropped"
	OutcomeFailed    = "failed"
)

// Syncer is the part of the engine the trigger drives
type Syncer interface {
	Sync(ctx context.Context, factionID int64, kind model.SyncKind) (engine.SyncResult, error)
	NeedsMembersSync(ctx context.Context, factionID int64) (bool, error)
}

// Service coordinates the consumer, the worker pool and the engine
type Service struct {
	logger     *logger.Logger
	consumer   consumer.Consumer
	workerPool *worker.WorkerPool
	syncer     Syncer
	retryOpts  retry.RetryOptions
}

// NewService creates a new trigger service. The worker pool is built here so
// its handler is the service's own.
func NewService(l *logger.Logger, c consumer.Consumer, s Syncer, workers int, opts retry.RetryOptions) *Service {
	svc := &Service{
		logger:    l,
		consumer:  c,
		syncer:    s,
		retryOpts: opts,
	}
	svc.retryOpts.Classifier = syncerr.Retryable
	svc.workerPool = worker.NewWorkerPool(l, c, svc.Handle, workers)
	return svc
}

// Start begins the message consumption and processing loop
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("starting trigger service")

	s.workerPool.Start(ctx)

	msgChan, errChan := s.consumer.Consume(ctx)

	for {
		select {
		case msg, ok := <-msgChan:
			if !ok {
				return s.Shutdown(context.Background())
			}
			if err := s.workerPool.Submit(ctx, msg); err != nil {
				s.logger.Error("failed to submit message", err, zap.Int64("offset", msg.Offset))
			}

		case err := <-errChan:
			if err != nil {
				_ = s.Shutdown(context.Background())
				return fmt.Errorf("consumer error: %w", err)
			}

		case <-ctx.Done():
			return s.Shutdown(context.Background())
		}
	}
}

// Handle processes one sync request. It returns an error only when the
// request must be redelivered.
func (s *Service) Handle(ctx context.Context, msg consumer.Message) error {
	req, err := DecodeRequest(msg.Value)
	if err != nil {
		s.logger.Warn("skipping malformed sync request",
			zap.Error(err),
			zap.Int64("offset", msg.Offset),
			zap.ByteString("payload", msg.Value))
		metrics.SyncRequestsTotal.WithLabelValues("unknown", OutcomeMalformed).Inc()
		return nil
	}

	l := s.logger.ForFaction(req.FactionID, string(req.Kind))
	if req.Actor != "" {
		ctx = audit.WithActor(ctx, req.Actor)
	}

	if req.Kind == model.KindMembers && !req.Force {
		stale, err := s.syncer.NeedsMembersSync(ctx, req.FactionID)
		if err != nil {
			l.Error("staleness check failed", err)
			s.count(req, OutcomeFailed)
			return nil
		}
		if !stale {
			l.Debug("roster is fresh, skipping sync")
			s.count(req, OutcomeFresh)
			return nil
		}
	}

	opts := s.retryOpts
	opts.OnRetry = func(attempt int, wait time.Duration, err error) {
		l.Warn("sync failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait))
	}

	var result engine.SyncResult
	err = retry.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.syncer.Sync(ctx, req.FactionID, req.Kind)
		return err
	}, opts)

	switch {
	case err == nil:
		if result.Committed {
			l.Info("sync committed",
				zap.Int("added", result.Stats.Added),
				zap.Int("updated", result.Stats.Updated),
				zap.Int("removed", result.Stats.Removed))
			s.count(req, OutcomeSynced)
		} else {
			s.count(req, OutcomeUnchanged)
		}
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, syncerr.ErrUpstreamAuthExpired):
		l.Error("dropping sync request, upstream credential expired", err)
		s.count(req, OutcomeDropped)
		return nil
	case errors.Is(err, syncerr.ErrNoActiveConfiguration):
		l.Info("dropping sync request, no active configuration")
		s.count(req, OutcomeDropped)
		return nil
	default:
		l.Error("sync request failed", err, zap.Bool("retryable", syncerr.Retryable(err)))
		s.count(req, OutcomeFailed)
		return nil
	}
}

func (s *Service) count(req Request, outcome string) {
	metrics.SyncRequestsTotal.WithLabelValues(string(req.Kind), outcome).Inc()
}

// Shutdown stops the service gracefully
func (s *Service) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down trigger service")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	errPool := s.workerPool.Shutdown(shutdownCtx)
	errCons := s.consumer.Close()

	if errPool != nil || errCons != nil {
		return fmt.Errorf("shutdown errors: pool=%v, consumer=%v", errPool, errCons)
	}
	return nil
}
