package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/komunitin/komunitin-sub000/internal/domain/journal"
	"github.com/panjf2000/ants/v2"
)

// WorkerPoolNotificationService runs notifications on a bounded pool so a
// slow or panicking delivery cannot take the consumer down with it.
type WorkerPoolNotificationService struct {
	baseService NotificationService
	pool        *ants.Pool
	logger      *slog.Logger
}

type WorkerPoolConfig struct {
	Size int
}

func NewWorkerPoolNotificationService(
	baseService NotificationService,
	config WorkerPoolConfig,
	logger *slog.Logger,
) (*WorkerPoolNotificationService, error) {
	pool, err := ants.NewPool(config.Size)
	if err != nil {
		return nil, err
	}

	return &WorkerPoolNotificationService{
		baseService: baseService,
		pool:        pool,
		logger:      logger,
	}, nil
}

// Notify submits the delivery to the pool and waits for its result or for
// ctx to end.
func (s *WorkerPoolNotificationService) Notify(ctx context.Context, entry *journal.Entry) error {
	resultChan := make(chan error, 1)
	entryCopy := *entry

	err := s.pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Notification worker panicked", "transfer_id", entryCopy.TransferID, "panic", r)
				resultChan <- fmt.Errorf("notification for transfer %s panicked: %v", entryCopy.TransferID, r)
			}
		}()
		resultChan <- s.baseService.Notify(ctx, &entryCopy)
	})
	if err != nil {
		s.logger.Error("Failed to submit notification to worker pool", "transfer_id", entry.TransferID, "error", err)
		return fmt.Errorf("failed to submit notification: %w", err)
	}

	select {
	case err := <-resultChan:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown gracefully shuts down the worker pool.
func (s *WorkerPoolNotificationService) Shutdown() {
	s.logger.Info("Shutting down worker pool", "running_workers", s.pool.Running())
	s.pool.Release()
}

// Running returns the number of running workers in the pool.
func (s *WorkerPoolNotificationService) Running() int {
	return s.pool.Running()
}

// Capacity returns the capacity of the worker pool.
func (s *WorkerPoolNotificationService) Capacity() int {
	return s.pool.Cap()
}
