// Package events implements the Kafka-backed transport for the Submission
// external interface (spec.md section 6), adapted from the teacher's
// internal/events/consumer.go consumer-group pattern.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/otrix/occam-agents/internal/config"
	"github.com/otrix/occam-agents/internal/orchestrator"
)

// SubmissionRequest is the wire shape of a submission message.
type SubmissionRequest struct {
	EntityID       string         `json:"entity_id"`
	Kind           string         `json:"kind"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotency_key"`
}

// SubmissionConsumer consumes submission requests off Kafka and feeds them
// into the Orchestrator's SubmitRequest, the same entrypoint an HTTP caller
// would use.
type SubmissionConsumer struct {
	consumerGroup sarama.ConsumerGroup
	orchestrator  *orchestrator.Orchestrator
	topics        []string
	logger        *zap.Logger
}

func NewSubmissionConsumer(cfg config.KafkaConfig, orch *orchestrator.Orchestrator, logger *zap.Logger) (*SubmissionConsumer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaCfg.Version = sarama.V2_8_0_0
	if cfg.EnableIdempotent {
		saramaCfg.Producer.Idempotent = true
		saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
		saramaCfg.Net.MaxOpenRequests = 1
	}

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("events: create consumer group: %w", err)
	}

	return &SubmissionConsumer{
		consumerGroup: consumerGroup,
		orchestrator:  orch,
		topics:        []string{cfg.SubmissionTopic},
		logger:        logger,
	}, nil
}

// Start runs the consume loop until ctx is cancelled, reconnecting with a
// fixed backoff on consumer-group errors (grounded on the teacher's
// Start()).
func (c *SubmissionConsumer) Start(ctx context.Context) error {
	handler := &submissionHandler{orchestrator: c.orchestrator, logger: c.logger}

	for {
		if err := c.consumerGroup.Consume(ctx, c.topics, handler); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("error from submission consumer", zap.Error(err))
			time.Sleep(5 * time.Second)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *SubmissionConsumer) Close() error {
	return c.consumerGroup.Close()
}

type submissionHandler struct {
	orchestrator *orchestrator.Orchestrator
	logger       *zap.Logger
}

func (h *submissionHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *submissionHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *submissionHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		h.processMessage(session.Context(), message)
		session.MarkMessage(message, "")
	}
	return nil
}

func (h *submissionHandler) processMessage(ctx context.Context, msg *sarama.ConsumerMessage) {
	var req SubmissionRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		h.logger.Error("failed to unmarshal submission request", zap.Error(err))
		return
	}
	if req.EntityID == "" {
		h.logger.Error("submission request missing entity_id, dropping")
		return
	}

	const maxRetries = 3
	for attempt := 0; attempt < maxRetries; attempt++ {
		workflowID, err := h.orchestrator.SubmitRequest(ctx, req.EntityID, req.Kind, req.Payload, req.IdempotencyKey)
		if err == nil {
			h.logger.Info("submission accepted", zap.String("workflow_id", workflowID), zap.String("entity_id", req.EntityID))
			return
		}
		h.logger.Error("failed to submit workflow from kafka message",
			zap.String("entity_id", req.EntityID), zap.Error(err), zap.Int("attempt", attempt+1))
		if attempt < maxRetries-1 {
			time.Sleep(time.Duration(attempt+1) * time.Second)
		}
	}
	h.logger.Error("dropping submission request after retries exhausted", zap.String("entity_id", req.EntityID))
}
