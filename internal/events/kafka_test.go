package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/saidutt46/switchboard-relay/internal/repository"
	"github.com/saidutt46/switchboard-relay/internal/store"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w, "relay-logs", time.Second)

	entry := repository.LogEntry{
		ID:        "00000000000000000001_abcd1234",
		Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		RouteID:   "svc_1",
		TargetURL: "https://api.example.com/",
		Status:    502,
		Message:   "connection refused",
	}

	if err := p.Publish(context.Background(), entry); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if len(w.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.messages))
	}
	msg := w.messages[0]
	if string(msg.Key) != "svc_1" {
		t.Errorf("expected key svc_1, got %s", msg.Key)
	}

	var decoded repository.LogEntry
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("message is not JSON: %v", err)
	}
	if decoded.Status != 502 || decoded.Message != "connection refused" {
		t.Errorf("unexpected payload: %+v", decoded)
	}

	p.Close()
	if !w.closed {
		t.Error("expected writer to be closed")
	}
}

func TestKafkaPublisher_AsLogSink(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	repos := repository.New(store.NewMemoryStore(), repository.Options{})
	repos.Logs.AddSink(newPublisher(w, "relay-logs", time.Second))

	// a failing sink must not fail the log write
	if _, err := repos.Logs.Add(context.Background(), repository.LogEntry{RouteID: "svc_1", Status: 500}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	entries, _ := repos.Logs.List(context.Background(), 10)
	if len(entries) != 1 {
		t.Errorf("expected entry to be stored, got %d", len(entries))
	}
}

func TestNewKafkaPublisher_Validation(t *testing.T) {
	if _, err := NewKafkaPublisher(KafkaConfig{Brokers: " , ", Topic: "t"}); err == nil {
		t.Error("expected error for empty broker list")
	}
	if _, err := NewKafkaPublisher(KafkaConfig{Brokers: "localhost:9092"}); err == nil {
		t.Error("expected error for empty topic")
	}
}

func TestSplitBrokers(t *testing.T) {
	got := splitBrokers("a:9092, b:9092,,")
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Errorf("unexpected brokers: %v", got)
	}
}
