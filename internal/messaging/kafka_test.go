package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bardlex/promine/internal/models"
	"github.com/bardlex/promine/pkg/log"
)

func TestNewKafkaClient(t *testing.T) {
	brokers := []string{"localhost:9092"}

	client := NewKafkaClient(brokers, log.Discard())

	if client == nil {
		t.Fatal("NewKafkaClient returned nil")
	}

	if len(client.brokers) != 1 || client.brokers[0] != "localhost:9092" {
		t.Errorf("Expected brokers [localhost:9092], got %v", client.brokers)
	}

	if client.writers == nil {
		t.Error("Writers map should not be nil")
	}

	if client.readers == nil {
		t.Error("Readers map should not be nil")
	}
}

func TestKafkaClient_GetProducer(t *testing.T) {
	client := NewKafkaClient([]string{"localhost:9092"}, log.Discard())

	// First call should create a new producer
	producer1 := client.GetProducer(TopicBlocks)
	if producer1 == nil {
		t.Fatal("GetProducer returned nil")
	}

	if producer1.Topic != TopicBlocks {
		t.Errorf("Expected topic %s, got %s", TopicBlocks, producer1.Topic)
	}

	// Second call should return the cached producer
	producer2 := client.GetProducer(TopicBlocks)
	if producer1 != producer2 {
		t.Error("Expected same producer instance from cache")
	}

	if len(client.writers) != 1 {
		t.Errorf("Expected 1 writer in map, got %d", len(client.writers))
	}
}

func TestKafkaClient_GetConsumer(t *testing.T) {
	client := NewKafkaClient([]string{"localhost:9092"}, log.Discard())

	consumer1 := client.GetConsumer(TopicBlocks, "explorer")
	if consumer1 == nil {
		t.Fatal("GetConsumer returned nil")
	}

	consumer2 := client.GetConsumer(TopicBlocks, "explorer")
	if consumer1 != consumer2 {
		t.Error("Expected same consumer instance from cache")
	}

	// Different group should create different consumer
	consumer3 := client.GetConsumer(TopicBlocks, "dashboard")
	if consumer1 == consumer3 {
		t.Error("Expected different consumer for different group")
	}

	if len(client.readers) != 2 {
		t.Errorf("Expected 2 readers in map, got %d", len(client.readers))
	}
}

func TestKafkaPublisher_Publish(t *testing.T) {
	// Skip integration test if Kafka is not available
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client := NewKafkaClient([]string{"localhost:9092"}, log.Discard())
	defer func() { _ = client.Close() }()
	pub := NewKafkaPublisher(client, EncodingProto)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e := NewMetricsUpdateEvent(&models.NetworkMetrics{ActiveMiners: 8, BlocksPerHour: 12})
	if err := pub.Publish(ctx, e); err != nil {
		t.Logf("Expected error without Kafka running: %v", err)
		return
	}

	t.Log("Successfully published event to Kafka")
}

func TestEventMessage_CarriesEventID(t *testing.T) {
	e := NewMetricsUpdateEvent(&models.NetworkMetrics{ActiveMiners: 8, BlocksPerHour: 12})

	msg, err := eventMessage(e, EncodingJSON)
	if err != nil {
		t.Fatalf("eventMessage failed: %v", err)
	}

	if string(msg.Key) != "network" {
		t.Errorf("Expected key network, got %s", msg.Key)
	}
	if len(msg.Headers) != 1 || msg.Headers[0].Key != EventIDHeader {
		t.Fatalf("Expected one %s header, got %v", EventIDHeader, msg.Headers)
	}
	if string(msg.Headers[0].Value) != e.ID {
		t.Errorf("Expected header %s, got %s", e.ID, msg.Headers[0].Value)
	}

	// A retried write re-sends the same message, so duplicates share the ID
	again, err := eventMessage(e, EncodingJSON)
	if err != nil {
		t.Fatalf("eventMessage failed: %v", err)
	}
	if string(again.Headers[0].Value) != e.ID {
		t.Error("Expected the same event ID on a re-encoded message")
	}

	decoded, err := Decode(msg.Value, EncodingJSON)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.ID != e.ID {
		t.Errorf("Expected decoded ID %s, got %s", e.ID, decoded.ID)
	}
}

func TestTopicFor(t *testing.T) {
	tests := map[Kind]string{
		KindMiningCompleted: "promine.mining.completed",
		KindNewBlock:        "promine.chain.blocks",
		KindMetricsUpdate:   "promine.network.metrics",
		KindMiningUpdate:    "promine.mining.updates",
		Kind("other"):       "promine.events",
	}

	for kind, expected := range tests {
		if actual := TopicFor(kind); actual != expected {
			t.Errorf("TopicFor(%s): expected %s, got %s", kind, expected, actual)
		}
	}

	if len(Topics()) != 4 {
		t.Errorf("Expected 4 topics, got %d", len(Topics()))
	}
}

func TestKafkaClient_Close(t *testing.T) {
	client := NewKafkaClient([]string{"localhost:9092"}, log.Discard())

	_ = client.GetProducer("topic1")
	_ = client.GetProducer("topic2")
	_ = client.GetConsumer("topic1", "group1")
	_ = client.GetConsumer("topic2", "group2")

	if len(client.writers) != 2 {
		t.Errorf("Expected 2 writers, got %d", len(client.writers))
	}
	if len(client.readers) != 2 {
		t.Errorf("Expected 2 readers, got %d", len(client.readers))
	}

	err := client.Close()
	if err != nil {
		t.Logf("Close returned error (expected without Kafka): %v", err)
	}

	if len(client.writers) != 0 {
		t.Errorf("Expected 0 writers after close, got %d", len(client.writers))
	}
	if len(client.readers) != 0 {
		t.Errorf("Expected 0 readers after close, got %d", len(client.readers))
	}
}

type recordingPublisher struct {
	events []*Event
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, e *Event) error {
	r.events = append(r.events, e)
	return r.err
}

func TestFanout_Publish(t *testing.T) {
	a := &recordingPublisher{}
	b := &recordingPublisher{err: errors.New("socket closed")}
	c := &recordingPublisher{}

	e := NewMiningUpdateEvent(7, 0.1, models.PhaseComputing)
	err := Fanout{a, b, c, Discard{}}.Publish(context.Background(), e)

	if err == nil || err.Error() != "socket closed" {
		t.Errorf("Expected joined publisher error, got %v", err)
	}
	// a failing publisher does not stop delivery to the rest
	if len(a.events) != 1 || len(c.events) != 1 {
		t.Errorf("Expected every publisher to receive the event, got %d and %d", len(a.events), len(c.events))
	}
}

func BenchmarkKafkaClient_GetProducer(b *testing.B) {
	client := NewKafkaClient([]string{"localhost:9092"}, log.Discard())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = client.GetProducer("test-topic")
	}
}

func BenchmarkEncodeProto(b *testing.B) {
	e := NewBlockEvent(&models.Block{Index: 100, BlockHash: "ab"}, &models.Discovery{ID: 3})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Encode(e, EncodingProto); err != nil {
			b.Fatal(err)
		}
	}
}
