/**
 * Searchable-PDF Worker - Main Entry Point
 *
 * Go worker that composes searchable PDFs from page rasters and OCR text.
 *
 * Architecture:
 * - Asynq or plain-Redis consumer for the Redis-backed job queue
 * - Per-page compositing: full-bleed page image + invisible text overlay
 * - Idempotent export-relation upsert against the document store
 * - PostgreSQL run ledger for status and orphan tracking
 */

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/docstack/searchable-pdf-worker/internal/clients"
	"github.com/docstack/searchable-pdf-worker/internal/config"
	"github.com/docstack/searchable-pdf-worker/internal/processor"
	"github.com/docstack/searchable-pdf-worker/internal/queue"
	"github.com/docstack/searchable-pdf-worker/internal/storage"
)

// consumer is satisfied by both queue drivers.
type consumer interface {
	Start() error
	Stop() error
}

func main() {
	// Load environment variables
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env not found, using system environment variables")
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Searchable-PDF Worker starting...")
	log.Printf("Configuration loaded: Redis=%s, PostgreSQL=%s, Docstore=%s, Workers=%d",
		cfg.RedisURL, cfg.DatabaseURL, cfg.DocstoreURL, cfg.WorkerConcurrency)

	// Initialize run ledger
	log.Printf("Connecting to PostgreSQL run ledger...")
	ledger, err := storage.NewLedger(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize run ledger: %v", err)
	}
	defer ledger.Close()
	log.Printf("Run ledger initialized")

	// Initialize document-store client
	docstore, err := clients.NewDocstoreClient(clients.DocstoreConfig{
		BaseURL:        cfg.DocstoreURL,
		Token:          cfg.DocstoreToken,
		RequestsPerSec: cfg.RequestsPerSec,
		MaxPageBytes:   cfg.MaxPageBytes,
	})
	if err != nil {
		log.Fatalf("Failed to initialize docstore client: %v", err)
	}
	if err := healthCheck(docstore, ledger); err != nil {
		log.Printf("Warning: startup health check failed: %v", err)
	}

	// Initialize export processor
	proc, err := processor.NewExportProcessor(&processor.ProcessorConfig{
		RenderDPI:   cfg.RenderDPI,
		RelationKey: cfg.ExportRelationKey,
		Source:      docstore,
		Store:       docstore,
		Ledger:      ledger,
	})
	if err != nil {
		log.Fatalf("Failed to initialize export processor: %v", err)
	}
	log.Printf("Export processor initialized (relation key=%s, dpi=%.0f)",
		cfg.ExportRelationKey, cfg.RenderDPI)

	// Initialize queue consumer
	log.Printf("Connecting to Redis queue (driver=%s)...", cfg.QueueDriver)
	var queueConsumer consumer
	switch cfg.QueueDriver {
	case "redis":
		queueConsumer, err = queue.NewRedisConsumer(&queue.RedisConsumerConfig{
			RedisURL:     cfg.RedisURL,
			QueueName:    cfg.QueueName,
			Concurrency:  cfg.WorkerConcurrency,
			Processor:    proc,
			RunTimeoutMs: cfg.RunTimeoutMs,
		})
	default:
		queueConsumer, err = queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:     cfg.RedisURL,
			QueueName:    cfg.QueueName,
			Concurrency:  cfg.WorkerConcurrency,
			Processor:    proc,
			RunTimeoutMs: cfg.RunTimeoutMs,
		})
	}
	if err != nil {
		log.Fatalf("Failed to initialize queue consumer: %v", err)
	}
	log.Printf("Queue consumer initialized with concurrency=%d", cfg.WorkerConcurrency)

	// Start queue consumer
	if err := queueConsumer.Start(); err != nil {
		log.Fatalf("Failed to start queue consumer: %v", err)
	}
	log.Printf("Queue consumer started successfully")

	// Print startup summary
	log.Printf("===========================================")
	log.Printf("Searchable-PDF Worker is READY")
	log.Printf("===========================================")
	log.Printf("Queue: %s (driver=%s)", cfg.QueueName, cfg.QueueDriver)
	log.Printf("Workers: %d", cfg.WorkerConcurrency)
	log.Printf("Relation key: %s", cfg.ExportRelationKey)
	log.Printf("Render DPI: %.0f", cfg.RenderDPI)
	log.Printf("Run timeout: %dms", cfg.RunTimeoutMs)
	log.Printf("===========================================")
	log.Printf("Waiting for jobs...")

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Wait for shutdown signal
	sig := <-sigChan
	log.Printf("Received signal %v, initiating graceful shutdown...", sig)

	// Stop queue consumer
	log.Printf("Stopping queue consumer...")
	if err := queueConsumer.Stop(); err != nil {
		log.Printf("Error stopping queue consumer: %v", err)
	} else {
		log.Printf("Queue consumer stopped successfully")
	}

	// Close run ledger
	log.Printf("Closing run ledger...")
	if err := ledger.Close(); err != nil {
		log.Printf("Error closing run ledger: %v", err)
	} else {
		log.Printf("Run ledger closed")
	}

	log.Printf("Shutdown complete")
}

func healthCheck(docstore *clients.DocstoreClient, ledger *storage.Ledger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ledger.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	if err := docstore.HealthCheck(ctx); err != nil {
		return fmt.Errorf("docstore health check failed: %w", err)
	}

	return nil
}
