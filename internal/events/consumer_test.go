package events

import (
	"context"
	"testing"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// processMessage only reaches the orchestrator once a non-empty entity_id
// has been parsed, so a nil orchestrator is safe for exercising the
// malformed- and missing-field drop paths.
func TestProcessMessageDropsInvalidJSON(t *testing.T) {
	h := &submissionHandler{logger: zap.NewNop()}
	h.processMessage(context.Background(), &sarama.ConsumerMessage{Value: []byte("not json")})
}

func TestProcessMessageDropsMissingEntityID(t *testing.T) {
	h := &submissionHandler{logger: zap.NewNop()}
	h.processMessage(context.Background(), &sarama.ConsumerMessage{Value: []byte(`{"idempotency_key":"k-1"}`)})
}
