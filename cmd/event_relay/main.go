package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/komunitin/komunitin-sub000/internal/config"
	"github.com/komunitin/komunitin-sub000/internal/data/mongo"
	"github.com/komunitin/komunitin-sub000/internal/data/postgres"
	"github.com/komunitin/komunitin-sub000/internal/event_relay/consumer"
	"github.com/komunitin/komunitin-sub000/internal/event_relay/outbox_poller"
	"github.com/komunitin/komunitin-sub000/internal/event_relay/service"
	"github.com/komunitin/komunitin-sub000/internal/features/notifications"
	"github.com/komunitin/komunitin-sub000/internal/logger"
	"github.com/komunitin/komunitin-sub000/internal/platform/messaging/consumers"
	"github.com/komunitin/komunitin-sub000/internal/platform/messaging/producers"
	"github.com/komunitin/komunitin-sub000/internal/platform/persistence"
)

func main() {
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	cfg, err := config.LoadConfig("event_relay")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg)
	log.Info("Starting Event Relay", "app_name", cfg.Application.Name, "env", cfg.Application.Env)

	postgresDB, err := persistence.NewPostgresDB(appCtx, log, &cfg.Postgres)
	if err != nil {
		log.Error("Failed to initialize PostgreSQL", "error", err)
		os.Exit(1)
	}

	mongoDB, err := persistence.NewMongoDB(appCtx, log, &cfg.MongoDB)
	if err != nil {
		log.Error("Failed to initialize MongoDB", "error", err)
		os.Exit(1)
	}

	outboxRepo := postgres.NewOutboxRepository(log, postgresDB)
	journalRepo := mongo.NewJournalRepository(log, mongoDB.Database())
	if err := journalRepo.EnsureIndexes(appCtx); err != nil {
		log.Error("Failed to create journal indexes", "error", err)
		os.Exit(1)
	}

	eventProducer, err := producers.NewTransferEventProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize transfer event producer", "error", err)
		os.Exit(1)
	}

	publisher := outbox_poller.NewTransferEventPublisher(outboxRepo, journalRepo, eventProducer, log)
	poller := outbox_poller.NewPoller(&cfg.Outbox, outboxRepo, publisher, log)

	var wg sync.WaitGroup
	errChan := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		poller.Start(appCtx)
	}()

	// The notifications consumer only runs when a notifications service is
	// configured.
	var (
		kafkaConsumer       *consumers.KafkaConsumer
		dlqProducer         *producers.DLQProducer
		notificationService service.NotificationService
	)
	if cfg.Notifications.Enabled {
		dlqProducer, err = producers.NewDLQProducer(appCtx, log, &cfg.Kafka)
		if err != nil {
			log.Error("Failed to initialize DLQ Kafka producer", "error", err)
			os.Exit(1)
		}

		sender := notifications.NewClient(log, notifications.Config{
			URL:      cfg.Notifications.URL,
			Username: cfg.Notifications.Username,
			Password: cfg.Notifications.Password,
		}, &http.Client{Timeout: cfg.Federation.HTTPTimeout})
		notificationService = service.CreateNotificationService(sender, cfg, log)
		handler := consumer.NewNotificationEventHandler(log, notificationService, dlqProducer)

		kafkaConsumer = consumers.NewKafkaConsumer(log, &cfg.Kafka)
		if err := kafkaConsumer.Subscribe(appCtx, handler.HandleMessage); err != nil {
			errChan <- fmt.Errorf("kafka consumer error: %w", err)
		}
	} else {
		log.Info("Notifications disabled, not consuming transfer events")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	var serviceErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Service error occurred", "error", err)
		serviceErr = err
	}

	cancelAppCtx()
	log.Info("Starting graceful shutdown...")

	if wpService, ok := notificationService.(*service.WorkerPoolNotificationService); ok {
		wpService.Shutdown()
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	wgChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(wgChan)
	}()
	select {
	case <-wgChan:
		log.Info("All services stopped successfully")
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout reached, forcing exit")
	}

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Close(); err != nil {
			log.Error("Error closing Kafka consumer", "error", err)
		}
	}
	if err := dlqProducer.Close(); err != nil {
		log.Error("Error closing DLQ Kafka producer", "error", err)
	}
	if err := eventProducer.Close(); err != nil {
		log.Error("Error closing transfer event producer", "error", err)
	}

	postgresDB.Close()
	if err := mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	if serviceErr != nil {
		log.Error("Event Relay shutdown with errors", "error", serviceErr)
		os.Exit(1)
	}
	log.Info("Event Relay shutdown completed successfully")
}
