/**
 * Direct Redis queue consumer for the searchable-PDF worker
 *
 * Compatible with the webhook dispatcher's plain Redis LIST queue: job ids
 * are pushed with LPUSH and job bodies live in a <queue>:data hash. Status
 * sets and a pub/sub event channel mirror the dispatcher's bookkeeping so
 * its UI can follow runs owned by this worker.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	errs "github.com/docstack/searchable-pdf-worker/internal/errors"
	"github.com/docstack/searchable-pdf-worker/internal/processor"
)

// RedisJobData represents a job envelope from the Redis queue.
type RedisJobData struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Payload    ExportJob `json:"payload"`
	CreatedAt  time.Time `json:"createdAt"`
	Attempts   int       `json:"attempts"`
	MaxRetries int       `json:"maxRetries"`
}

// RedisConsumer handles job consumption from a plain Redis list queue.
type RedisConsumer struct {
	client    *redis.Client
	processor processor.ExportProcessorInterface
	config    *RedisConsumerConfig
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration.
type RedisConsumerConfig struct {
	RedisURL     string
	QueueName    string
	Concurrency  int
	Processor    processor.ExportProcessorInterface
	RunTimeoutMs int64 // per-run timeout in milliseconds (default: 300000 = 5 minutes)
}

// NewRedisConsumer creates a new Redis-based queue consumer.
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "searchable-pdf:jobs"
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	consumerCtx, cancel := context.WithCancel(context.Background())

	return &RedisConsumer{
		client:    client,
		processor: cfg.Processor,
		config:    cfg,
		ctx:       consumerCtx,
		cancel:    cancel,
	}, nil
}

// Start begins processing jobs from the queue.
func (c *RedisConsumer) Start() error {
	log.Printf("Starting Redis queue consumer (concurrency=%d, queue=%s)...",
		c.config.Concurrency, c.config.QueueName)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}

	log.Println("Queue consumer started successfully")
	return nil
}

// Stop gracefully stops the consumer.
func (c *RedisConsumer) Stop() error {
	log.Println("Stopping queue consumer...")
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

// worker is a goroutine that processes jobs.
func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	log.Printf("Worker %d started", id)

	for {
		select {
		case <-c.ctx.Done():
			log.Printf("Worker %d stopping", id)
			return
		default:
			if err := c.processNextJob(); err != nil {
				if err.Error() != "no jobs available" {
					log.Printf("Worker %d error: %v", id, err)
				}
				time.Sleep(1 * time.Second)
			}
		}
	}
}

// processNextJob fetches and processes the next job from the queue.
func (c *RedisConsumer) processNextJob() error {
	result, err := c.client.BRPop(c.ctx, 5*time.Second, c.config.QueueName).Result()
	if err != nil {
		if err == redis.Nil {
			return fmt.Errorf("no jobs available")
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}

	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}

	jobID := result[1]

	jobData, err := c.client.HGet(c.ctx, fmt.Sprintf("%s:data", c.config.QueueName), jobID).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data: %w", err)
	}

	var job RedisJobData
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		return fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if job.Payload.RunID == "" {
		job.Payload.RunID = uuid.NewString()
	}

	// Ensure the run exists in the ledger before work starts; the
	// dispatcher may not have created it.
	if err := c.processor.UpdateRunStatus(c.ctx, job.Payload.RunID, "processing", map[string]interface{}{
		"sourceDocumentId": job.Payload.SourceDocumentID,
	}); err != nil {
		log.Printf("Note: Could not update run status to processing (run may not exist in DB yet): %v", err)
	}

	c.updateJobStatus(job.Payload.RunID, "processing", nil)

	log.Printf("Processing run %s: source document %s", job.Payload.RunID, job.Payload.SourceDocumentID)

	runResult, err := c.processJob(&job)
	if err != nil {
		log.Printf("Run %s failed: %v", job.Payload.RunID, err)

		job.Attempts++
		if job.Attempts < job.MaxRetries {
			updatedData, _ := json.Marshal(job)
			c.client.HSet(c.ctx, fmt.Sprintf("%s:data", c.config.QueueName), job.ID, updatedData)
			c.client.LPush(c.ctx, c.config.QueueName, job.ID)
			log.Printf("Run %s re-queued for retry (attempt %d/%d)", job.Payload.RunID, job.Attempts, job.MaxRetries)
		} else {
			c.updateJobStatus(job.Payload.RunID, "failed", map[string]interface{}{
				"error":     err.Error(),
				"errorCode": string(errs.CodeOf(err)),
				"attempts":  job.Attempts,
			})
		}
	} else {
		c.updateJobStatus(job.Payload.RunID, "completed", runResult)
		log.Printf("Run %s completed successfully", job.Payload.RunID)
	}

	return nil
}

// processJob handles the actual export run under the configured timeout.
func (c *RedisConsumer) processJob(job *RedisJobData) (*processor.ProcessResult, error) {
	startTime := time.Now()

	timeout := 5 * time.Minute
	if c.config.RunTimeoutMs > 0 {
		timeout = time.Duration(c.config.RunTimeoutMs) * time.Millisecond
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	result, err := c.processor.ProcessDocument(ctx, &processor.ProcessRequest{
		RunID:            job.Payload.RunID,
		SourceDocumentID: job.Payload.SourceDocumentID,
		Metadata:         job.Payload.Metadata,
	})

	duration := time.Since(startTime)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			log.Printf("[Run %s] Export timed out after %v (timeout: %v)", job.Payload.RunID, duration, timeout)

			timeoutErr := errs.NewRunTimeoutError(job.Payload.RunID, timeout, err)
			if updateErr := c.processor.UpdateRunStatus(c.ctx, job.Payload.RunID, "failed", timeoutErr.ToMap()); updateErr != nil {
				log.Printf("[Run %s] Warning: Failed to update status to failed: %v", job.Payload.RunID, updateErr)
			}

			return nil, fmt.Errorf("export timeout: %w", timeoutErr)
		}
		return nil, err
	}

	log.Printf("[Run %s] Export completed in %v", job.Payload.RunID, duration)
	return result, nil
}

// updateJobStatus updates the status of a job in Redis and publishes an
// event for anyone following the run.
func (c *RedisConsumer) updateJobStatus(runID string, status string, result interface{}) {
	switch status {
	case "processing":
		c.client.SAdd(c.ctx, fmt.Sprintf("%s:processing", c.config.QueueName), runID)
	case "completed":
		c.client.SRem(c.ctx, fmt.Sprintf("%s:processing", c.config.QueueName), runID)
		c.client.SAdd(c.ctx, fmt.Sprintf("%s:completed", c.config.QueueName), runID)
		if result != nil {
			resultData, _ := json.Marshal(result)
			c.client.HSet(c.ctx, fmt.Sprintf("%s:results", c.config.QueueName), runID, resultData)
		}
	case "failed":
		c.client.SRem(c.ctx, fmt.Sprintf("%s:processing", c.config.QueueName), runID)
		c.client.SAdd(c.ctx, fmt.Sprintf("%s:failed", c.config.QueueName), runID)
		if result != nil {
			errorData, _ := json.Marshal(result)
			c.client.HSet(c.ctx, fmt.Sprintf("%s:errors", c.config.QueueName), runID, errorData)
		}
	}

	if status == "failed" {
		errorMsg := "Unknown error"
		if resultMap, ok := result.(map[string]interface{}); ok {
			if errStr, ok := resultMap["error"].(string); ok {
				errorMsg = errStr
			}
		}
		if err := c.processor.UpdateRunStatus(c.ctx, runID, status, map[string]interface{}{
			"error": errorMsg,
		}); err != nil {
			log.Printf("WARNING: Failed to update ledger status for failed run: %v", err)
		}
	}

	event := map[string]interface{}{
		"event":     fmt.Sprintf("run:%s", status),
		"runId":     runID,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	eventData, _ := json.Marshal(event)
	c.client.Publish(c.ctx, fmt.Sprintf("%s:events", c.config.QueueName), eventData)
}

// GetStats returns queue statistics.
func (c *RedisConsumer) GetStats() (map[string]int64, error) {
	ctx := context.Background()

	waiting, _ := c.client.LLen(ctx, c.config.QueueName).Result()
	processing, _ := c.client.SCard(ctx, fmt.Sprintf("%s:processing", c.config.QueueName)).Result()
	completed, _ := c.client.SCard(ctx, fmt.Sprintf("%s:completed", c.config.QueueName)).Result()
	failed, _ := c.client.SCard(ctx, fmt.Sprintf("%s:failed", c.config.QueueName)).Result()

	return map[string]int64{
		"waiting":    waiting,
		"processing": processing,
		"completed":  completed,
		"failed":     failed,
	}, nil
}
