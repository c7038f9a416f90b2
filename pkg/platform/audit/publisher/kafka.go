package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "trustgate/pkg/platform/audit"
)

// KafkaSink publishes audit events to a Kafka topic, keyed by request ID so
// the trail for one verification request stays ordered within a partition.
type KafkaSink struct {
	client *kgo.Client
	topic  string
}

// NewKafkaSink builds a sink over an existing franz-go client.
func NewKafkaSink(client *kgo.Client, topic string) *KafkaSink {
	return &KafkaSink{client: client, topic: topic}
}

// kafkaPayload is the wire shape consumed by downstream compliance readers.
type kafkaPayload struct {
	ID            string `json:"id"`
	Category      string `json:"category"`
	OccurredAt    string `json:"occurred_at"`
	RequestID     string `json:"request_id"`
	SubjectID     string `json:"subject_id,omitempty"`
	ActorID       string `json:"actor_id,omitempty"`
	Action        string `json:"action"`
	Outcome       string `json:"outcome,omitempty"`
	Reason        string `json:"reason,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Publish produces the event synchronously; the caller decides whether sink
// failures matter (the audit publisher logs and continues).
func (s *KafkaSink) Publish(ctx context.Context, event audit.Event) error {
	payload := kafkaPayload{
		ID:            uuid.New().String(),
		Category:      string(event.Category),
		OccurredAt:    event.Timestamp.Format(time.RFC3339Nano),
		RequestID:     event.RequestID.String(),
		ActorID:       event.ActorID,
		Action:        event.Action,
		Outcome:       event.Outcome,
		Reason:        event.Reason,
		CorrelationID: event.CorrelationID,
	}
	if !event.SubjectID.IsNil() {
		payload.SubjectID = event.SubjectID.String()
	}

	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.RequestID.String()),
		Value: value,
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}
