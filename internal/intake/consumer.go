// Package intake implements the optional Kafka batch-queue path:
// POST /exec-shaped submissions published to a topic instead of sent
// over HTTP, for bulk/offline workloads. Decoded messages are handed
// to the same Orchestrator the HTTP handler uses, gated by the same
// pool-capacity backpressure the synchronous path enforces. Grounded
// on the reference's judge-service consumer wiring
// (cmd/judge-service/main.go's SubscribeWeighted+TokenLimiter) and
// cleanup_consumer.go's Subscribe/handleMessage shape.
package intake

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"coderunner/internal/common/mq"
	"coderunner/internal/execengine/orchestrator"
	"coderunner/internal/execengine/spec"
	appErr "coderunner/pkg/errors"
	"coderunner/pkg/utils/logger"
)

// Orchestrator is the subset of orchestrator.Orchestrator the consumer
// depends on.
type Orchestrator interface {
	Execute(ctx context.Context, req orchestrator.Request) (orchestrator.Result, error)
}

// submission is the wire shape of one queued execution request,
// mirroring internal/api's execRequest JSON body.
type submission struct {
	Language     string            `json:"language"`
	Code         string            `json:"code"`
	SessionID    string            `json:"sessionId"`
	CaptureState bool              `json:"captureState"`
	Stdin        string            `json:"stdin"`
	InputFiles   map[string]string `json:"inputFiles"`
	TimeLimitMs  int64             `json:"timeLimitMs"`
	MemoryMB     int64             `json:"memoryMb"`
}

// Config controls the batch-queue consumer.
type Config struct {
	Topic         string
	ConsumerGroup string
	Concurrency   int
	PrefetchCount int
	MaxRetries    int
	RetryDelay    time.Duration
	DeadLetter    string
}

// Consumer subscribes to a single Kafka topic and dispatches every
// decoded submission to the Orchestrator.
type Consumer struct {
	mqClient mq.MessageQueue
	orch     Orchestrator
	cfg      Config
}

// New builds a Consumer.
func New(mqClient mq.MessageQueue, orch Orchestrator, cfg Config) *Consumer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PrefetchCount <= 0 {
		cfg.PrefetchCount = 1
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Consumer{mqClient: mqClient, orch: orch, cfg: cfg}
}

// Start subscribes to the configured topic and begins consuming.
func (c *Consumer) Start(ctx context.Context) error {
	opts := &mq.SubscribeOptions{
		ConsumerGroup:   c.cfg.ConsumerGroup,
		Concurrency:     c.cfg.Concurrency,
		PrefetchCount:   c.cfg.PrefetchCount,
		MaxRetries:      c.cfg.MaxRetries,
		RetryDelay:      c.cfg.RetryDelay,
		DeadLetterTopic: c.cfg.DeadLetter,
	}
	if err := c.mqClient.SubscribeWithOptions(ctx, c.cfg.Topic, c.handle, opts); err != nil {
		return err
	}
	return c.mqClient.Start()
}

// Stop gracefully stops consumption.
func (c *Consumer) Stop() error {
	return c.mqClient.Stop()
}

// handle decodes one queued submission and executes it. Returning an
// error here causes the mq layer to retry-then-dead-letter per
// message.MaxRetries; a PoolExhausted/ServiceBusy outcome is exactly
// the case that should be retried rather than dropped, so it is the
// only outcome handle returns an error for.
func (c *Consumer) handle(ctx context.Context, message *mq.Message) error {
	var sub submission
	if err := json.Unmarshal(message.Body, &sub); err != nil {
		logger.Warn(ctx, "discard malformed intake submission", zap.Error(err))
		return nil
	}

	inputFiles := make(map[string][]byte, len(sub.InputFiles))
	for name, content := range sub.InputFiles {
		inputFiles[name] = []byte(content)
	}

	_, err := c.orch.Execute(ctx, orchestrator.Request{
		Language:     sub.Language,
		Code:         sub.Code,
		SessionID:    sub.SessionID,
		CaptureState: sub.CaptureState,
		Stdin:        sub.Stdin,
		InputFiles:   inputFiles,
		Limits: spec.ResourceLimit{
			WallTimeMs: sub.TimeLimitMs,
			MemoryMB:   sub.MemoryMB,
		},
	})
	if err == nil {
		return nil
	}

	if appErr.Is(err, appErr.PoolExhausted) || appErr.Is(err, appErr.ServiceBusy) {
		logger.Warn(ctx, "requeueing intake submission after backpressure", zap.String("session_id", sub.SessionID))
		return err
	}

	logger.Error(ctx, "intake submission failed", zap.Error(err), zap.String("language", sub.Language))
	return nil
}
