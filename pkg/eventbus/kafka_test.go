package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"skillswap/pkg/models"
)

func TestNewKafkaPublisherValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewKafkaPublisher(KafkaConfig{Topic: "audit-events"}); err == nil {
		t.Fatal("expected error when brokers are missing")
	}
	if _, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"127.0.0.1:9092"}}); err == nil {
		t.Fatal("expected error when topic is missing")
	}
}

func TestNewKafkaPublisherTrimsBrokerList(t *testing.T) {
	t.Parallel()

	pub, err := NewKafkaPublisher(KafkaConfig{
		Brokers: []string{" ", "127.0.0.1:9092", "\t"},
		Topic:   "audit-events",
	})
	if err != nil {
		t.Fatalf("expected valid publisher config, got error: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
}

func TestPublishGuards(t *testing.T) {
	t.Parallel()

	var nilPub *KafkaPublisher
	if err := nilPub.Close(); err != nil {
		t.Fatalf("expected nil close to be no-op, got: %v", err)
	}
	if err := nilPub.Publish(context.Background(), models.AuditEvent{}); err == nil {
		t.Fatal("expected publish error for nil publisher")
	}
	if err := (&KafkaPublisher{}).Publish(context.Background(), models.AuditEvent{}); err == nil {
		t.Fatal("expected publish error for uninitialized writer")
	}
}

type fakeKafkaWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafkaWriter) Close() error { return nil }

func TestPublishEncodesEvent(t *testing.T) {
	t.Parallel()

	fw := &fakeKafkaWriter{}
	pub := &KafkaPublisher{writer: fw}
	ev := models.AuditEvent{
		ID:        "ev-1",
		Type:      "access_denied",
		Severity:  models.SeverityMedium,
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]string{"ruleId": "r-burst", "clientId": "c1"},
	}
	if err := pub.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(fw.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fw.msgs))
	}
	if string(fw.msgs[0].Key) != "access_denied" {
		t.Fatalf("expected event type as key, got %q", fw.msgs[0].Key)
	}
	var decoded models.AuditEvent
	if err := json.Unmarshal(fw.msgs[0].Value, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.ID != "ev-1" || decoded.Severity != models.SeverityMedium {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
	canonical, err := models.Canonicalize(ev)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if string(fw.msgs[0].Value) != string(canonical) {
		t.Fatalf("published bytes are not canonical:\n%s\n%s", fw.msgs[0].Value, canonical)
	}
}

func TestPublishSurfacesWriterError(t *testing.T) {
	t.Parallel()

	fw := &fakeKafkaWriter{err: errors.New("broker down")}
	pub := &KafkaPublisher{writer: fw}
	if err := pub.Publish(context.Background(), models.AuditEvent{Type: "x"}); err == nil {
		t.Fatal("expected writer error surfaced")
	}
}
