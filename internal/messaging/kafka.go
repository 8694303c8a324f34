// Package messaging publishes mining chain events to Kafka, ZeroMQ and any
// other subscriber that implements Publisher.
package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/bardlex/promine/pkg/circuit"
	"github.com/bardlex/promine/pkg/errors"
	"github.com/bardlex/promine/pkg/log"
	"github.com/bardlex/promine/pkg/retry"
)

// KafkaClient wraps kafka-go with per-topic writer and reader pooling
type KafkaClient struct {
	brokers        []string
	logger         *log.Logger
	writers        map[string]*kafka.Writer
	readers        map[string]*kafka.Reader
	writersMu      sync.RWMutex
	readersMu      sync.RWMutex
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

// NewKafkaClient creates a new Kafka client
func NewKafkaClient(brokers []string, logger *log.Logger) *KafkaClient {
	cbConfig := &circuit.Config{
		Name:            "kafka",
		MaxFailures:     5,
		SuccessRequired: 3,
		Timeout:         15 * time.Second,
		ResetTimeout:    60 * time.Second,
	}

	return &KafkaClient{
		brokers:        brokers,
		logger:         logger.WithComponent("kafka"),
		writers:        make(map[string]*kafka.Writer),
		readers:        make(map[string]*kafka.Reader),
		circuitBreaker: circuit.New(cbConfig),
		retryConfig:    retry.NetworkConfig(),
	}
}

// GetProducer gets or creates a Kafka producer for a topic
func (k *KafkaClient) GetProducer(topic string) *kafka.Writer {
	k.writersMu.RLock()
	if writer, exists := k.writers[topic]; exists {
		k.writersMu.RUnlock()
		return writer
	}
	k.writersMu.RUnlock()

	k.writersMu.Lock()
	defer k.writersMu.Unlock()

	// Double-check after acquiring write lock
	if writer, exists := k.writers[topic]; exists {
		return writer
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(k.brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		Async:                  false,
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		Compression:            kafka.Snappy,
		AllowAutoTopicCreation: true,
	}

	k.writers[topic] = writer
	k.logger.Info("created Kafka producer", "topic", topic)
	return writer
}

// GetConsumer gets or creates a Kafka consumer for a topic and group
func (k *KafkaClient) GetConsumer(topic, groupID string) *kafka.Reader {
	key := fmt.Sprintf("%s-%s", topic, groupID)

	k.readersMu.RLock()
	if reader, exists := k.readers[key]; exists {
		k.readersMu.RUnlock()
		return reader
	}
	k.readersMu.RUnlock()

	k.readersMu.Lock()
	defer k.readersMu.Unlock()

	if reader, exists := k.readers[key]; exists {
		return reader
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		MaxWait:     1 * time.Second,
	})

	k.readers[key] = reader
	k.logger.Info("created Kafka consumer", "topic", topic, "group_id", groupID)
	return reader
}

// EventIDHeader carries the event ID on every published event message
const EventIDHeader = "event_id"

// Publish writes one message through the circuit breaker with retries.
// Delivery is at-least-once: a write retried after the broker already
// stored it produces a duplicate.
func (k *KafkaClient) Publish(ctx context.Context, topic, key string, data []byte) error {
	return k.publish(ctx, topic, kafka.Message{Key: []byte(key), Value: data})
}

func (k *KafkaClient) publish(ctx context.Context, topic string, msg kafka.Message) error {
	return k.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, k.retryConfig, func() error {
			writer := k.GetProducer(topic)
			msg.Time = time.Now()

			if err := writer.WriteMessages(ctx, msg); err != nil {
				return errors.Wrap(err, errors.ErrorTypeKafka, "publish_message",
					"failed to publish message to Kafka").
					WithContext("topic", topic).
					WithContext("key", string(msg.Key)).
					WithContext("message_size", len(msg.Value))
			}

			k.logger.Debug("published message", "topic", topic, "key", string(msg.Key), "size", len(msg.Value))
			return nil
		})
	})
}

// ConsumeEvent reads and decodes the next event from reader
func (k *KafkaClient) ConsumeEvent(ctx context.Context, reader *kafka.Reader, enc Encoding) (*Event, error) {
	return circuit.ExecuteWithResult(ctx, k.circuitBreaker, func() (*Event, error) {
		return retry.DoWithResult(ctx, k.retryConfig, func() (*Event, error) {
			msg, err := reader.ReadMessage(ctx)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeKafka, "read_message",
					"failed to read message from Kafka")
			}

			e, err := Decode(msg.Value, enc)
			if err != nil {
				return nil, err
			}

			k.logger.Debug("consumed message", "topic", msg.Topic, "key", string(msg.Key), "size", len(msg.Value))
			return e, nil
		})
	})
}

// EventHandler handles a consumed event
type EventHandler func(ctx context.Context, topic string, e *Event) error

// StartConsumer runs a consumer loop for a topic until ctx is cancelled
func (k *KafkaClient) StartConsumer(ctx context.Context, topic, groupID string, enc Encoding, handler EventHandler) error {
	reader := k.GetConsumer(topic, groupID)
	k.logger.Info("starting consumer", "topic", topic, "group_id", groupID)

	for {
		select {
		case <-ctx.Done():
			k.logger.Info("consumer stopping", "topic", topic)
			return ctx.Err()
		default:
		}

		e, err := k.ConsumeEvent(ctx, reader, enc)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			k.logger.Error("failed to consume message", "topic", topic, "error", err)
			continue
		}

		if err := handler(ctx, topic, e); err != nil {
			k.logger.Error("failed to handle message", "topic", topic, "event_id", e.ID, "error", err)
		}
	}
}

// Close closes all producers and consumers
func (k *KafkaClient) Close() error {
	k.writersMu.Lock()
	defer k.writersMu.Unlock()

	k.readersMu.Lock()
	defer k.readersMu.Unlock()

	var lastErr error

	for topic, writer := range k.writers {
		if err := writer.Close(); err != nil {
			k.logger.Error("failed to close producer", "topic", topic, "error", err)
			lastErr = err
		}
	}

	for key, reader := range k.readers {
		if err := reader.Close(); err != nil {
			k.logger.Error("failed to close consumer", "key", key, "error", err)
			lastErr = err
		}
	}

	k.writers = make(map[string]*kafka.Writer)
	k.readers = make(map[string]*kafka.Reader)
	return lastErr
}

// KafkaPublisher publishes events to their kind's topic
type KafkaPublisher struct {
	client   *KafkaClient
	encoding Encoding
}

// NewKafkaPublisher creates a publisher over client
func NewKafkaPublisher(client *KafkaClient, enc Encoding) *KafkaPublisher {
	return &KafkaPublisher{client: client, encoding: enc}
}

// Publish encodes e and writes it keyed by e.Key. Events may be delivered
// more than once; consumers dedupe on the EventIDHeader value.
func (p *KafkaPublisher) Publish(ctx context.Context, e *Event) error {
	msg, err := eventMessage(e, p.encoding)
	if err != nil {
		return err
	}
	return p.client.publish(ctx, TopicFor(e.Kind), msg)
}

func eventMessage(e *Event, enc Encoding) (kafka.Message, error) {
	data, err := Encode(e, enc)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:     []byte(e.Key),
		Value:   data,
		Headers: []kafka.Header{{Key: EventIDHeader, Value: []byte(e.ID)}},
	}, nil
}
