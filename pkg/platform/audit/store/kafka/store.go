package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	audit "verifyflow/pkg/platform/audit"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer is the subset of *kgo.Client the store needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// payload is the JSON published per event. Keyed by session so one session's
// events land on one partition in order.
type payload struct {
	ID         string `json:"id"`
	Category   string `json:"category"`
	Timestamp  string `json:"timestamp"`
	SessionID  string `json:"session_id"`
	Action     string `json:"action"`
	Step       string `json:"step,omitempty"`
	Reason     string `json:"reason,omitempty"`
	PhoneHash  string `json:"phone_hash,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	ClientIP   string `json:"client_ip,omitempty"`
	DeviceName string `json:"device_name,omitempty"`
}

// Store implements audit.Store by producing to a Kafka topic.
type Store struct {
	producer Producer
	topic    string
}

func New(producer Producer, topic string) *Store {
	return &Store{producer: producer, topic: topic}
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	body, err := json.Marshal(payload{
		ID:         uuid.NewString(),
		Category:   string(audit.AuditEvent(event.Action).Category()),
		Timestamp:  event.Timestamp.UTC().Format(time.RFC3339Nano),
		SessionID:  event.SessionID,
		Action:     event.Action,
		Step:       event.Step,
		Reason:     event.Reason,
		PhoneHash:  event.PhoneHash,
		RequestID:  event.RequestID,
		ClientIP:   event.ClientIP,
		DeviceName: event.DeviceName,
	})
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.SessionID),
		Value: body,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(event.Action)},
		},
	}
	if err := s.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}
