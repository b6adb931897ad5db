package service

import (
	"log/slog"

	"github.com/komunitin/komunitin-sub000/internal/config"
)

// CreateNotificationService builds the notification service, running on a
// worker pool when one can be created.
func CreateNotificationService(sender EventSender, cfg *config.Config, logger *slog.Logger) NotificationService {
	baseService := NewEventNotificationService(sender, cfg.Federation.BaseURL, logger)

	workerPoolService, err := NewWorkerPoolNotificationService(
		baseService,
		WorkerPoolConfig{Size: cfg.WorkerPool.Size},
		logger.With("component", "worker_pool"),
	)
	if err != nil {
		logger.Error("Failed to create worker pool service, falling back to base service", "error", err)
		return baseService
	}

	logger.Info("Created worker pool notification service", "pool_size", cfg.WorkerPool.Size)
	return workerPoolService
}
