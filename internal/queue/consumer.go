/**
 * Asynq queue consumer for the searchable-PDF worker
 *
 * Consumes export jobs from a Redis-backed asynq queue. One task carries
 * one source document; asynq's per-task semantics give the pipeline the
 * at-most-one-in-flight-run-per-document delivery it assumes.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	errs "github.com/docstack/searchable-pdf-worker/internal/errors"
	"github.com/docstack/searchable-pdf-worker/internal/processor"
)

// TaskTypeExport is the asynq task type for one export run.
const TaskTypeExport = "document:export"

// ExportJob is the payload of one export task.
type ExportJob struct {
	RunID            string                 `json:"runId,omitempty"`
	SourceDocumentID string                 `json:"sourceDocumentId"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// Consumer handles job consumption via asynq.
type Consumer struct {
	client    *asynq.Client
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor processor.ExportProcessorInterface
	config    *ConsumerConfig
}

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	RedisURL     string
	QueueName    string
	Concurrency  int
	Processor    processor.ExportProcessorInterface
	RunTimeoutMs int64 // per-run timeout in milliseconds (default: 300000 = 5 minutes)
}

// NewConsumer creates a new asynq consumer.
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := asynq.NewClient(redisOpt)

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 1,
			},
		},
	)

	c := &Consumer{
		client:    client,
		server:    server,
		mux:       asynq.NewServeMux(),
		processor: cfg.Processor,
		config:    cfg,
	}
	c.mux.HandleFunc(TaskTypeExport, c.handleExportTask)

	return c, nil
}

// EnqueueExport submits an export job for a source document. Used by the
// webhook front end and by operational tooling to replay a run.
func (c *Consumer) EnqueueExport(ctx context.Context, job *ExportJob) error {
	if job.SourceDocumentID == "" {
		return fmt.Errorf("sourceDocumentId is required")
	}
	if job.RunID == "" {
		job.RunID = uuid.NewString()
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal export job: %w", err)
	}

	task := asynq.NewTask(TaskTypeExport, payload)
	info, err := c.client.EnqueueContext(ctx, task,
		asynq.Queue(c.config.QueueName),
		asynq.MaxRetry(3),
		asynq.Timeout(c.runTimeout()),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue export job: %w", err)
	}

	log.Printf("Export job enqueued: run=%s, source=%s, task=%s",
		job.RunID, job.SourceDocumentID, info.ID)
	return nil
}

// Start begins processing tasks in the background.
func (c *Consumer) Start() error {
	log.Printf("Starting asynq consumer (concurrency=%d, queue=%s)...",
		c.config.Concurrency, c.config.QueueName)
	return c.server.Start(c.mux)
}

// Stop gracefully stops the consumer.
func (c *Consumer) Stop() error {
	log.Println("Stopping asynq consumer...")
	c.server.Shutdown()
	return c.client.Close()
}

func (c *Consumer) runTimeout() time.Duration {
	if c.config.RunTimeoutMs > 0 {
		return time.Duration(c.config.RunTimeoutMs) * time.Millisecond
	}
	return 5 * time.Minute
}

// handleExportTask processes one export task.
func (c *Consumer) handleExportTask(ctx context.Context, task *asynq.Task) error {
	var job ExportJob
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return fmt.Errorf("failed to unmarshal export job: %w", err)
	}
	if job.RunID == "" {
		job.RunID = uuid.NewString()
	}

	if err := c.processor.UpdateRunStatus(ctx, job.RunID, "processing", map[string]interface{}{
		"sourceDocumentId": job.SourceDocumentID,
	}); err != nil {
		log.Printf("Note: Could not update run status to processing (run may not exist in DB yet): %v", err)
	}

	timeout := c.runTimeout()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	_, err := c.processor.ProcessDocument(runCtx, &processor.ProcessRequest{
		RunID:            job.RunID,
		SourceDocumentID: job.SourceDocumentID,
		Metadata:         job.Metadata,
	})
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			log.Printf("[Run %s] Export timed out after %v (timeout: %v)", job.RunID, time.Since(start), timeout)
			return fmt.Errorf("export timeout: %w", errs.NewRunTimeoutError(job.RunID, timeout, err))
		}
		return err
	}

	log.Printf("[Run %s] Export task completed in %v", job.RunID, time.Since(start))
	return nil
}
