package messaging

import (
	"context"
	"fmt"
	"sync"

	zmq "github.com/pebbe/zmq4"

	"github.com/bardlex/promine/pkg/errors"
	"github.com/bardlex/promine/pkg/log"
)

// ZMQPublisher broadcasts events on a PUB socket as [topic, payload] frames
type ZMQPublisher struct {
	mu       sync.Mutex
	socket   *zmq.Socket
	endpoint string
	encoding Encoding
	logger   *log.Logger
}

// NewZMQPublisher binds a PUB socket to endpoint
func NewZMQPublisher(endpoint string, enc Encoding, logger *log.Logger) (*ZMQPublisher, error) {
	socket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ socket: %w", err)
	}
	if err := socket.Bind(endpoint); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("failed to bind ZMQ endpoint %s: %w", endpoint, err)
	}

	logger = logger.WithComponent("zmq_publisher")
	logger.Info("bound ZMQ publisher", "endpoint", endpoint)

	return &ZMQPublisher{
		socket:   socket,
		endpoint: endpoint,
		encoding: enc,
		logger:   logger,
	}, nil
}

// Publish sends e on its kind's topic. ZMQ sockets are not safe for
// concurrent use, so sends are serialised.
func (z *ZMQPublisher) Publish(_ context.Context, e *Event) error {
	data, err := Encode(e, z.encoding)
	if err != nil {
		return err
	}
	topic := TopicFor(e.Kind)

	z.mu.Lock()
	defer z.mu.Unlock()

	if _, err := z.socket.SendMessage(topic, data); err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_publish",
			"failed to publish ZMQ message").
			WithContext("topic", topic).
			WithContext("endpoint", z.endpoint)
	}
	z.logger.Debug("published ZMQ message", "topic", topic, "size", len(data))
	return nil
}

// Close closes the socket
func (z *ZMQPublisher) Close() error {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.socket != nil {
		return z.socket.Close()
	}
	return nil
}

// ZMQSubscriber receives events from a ZMQPublisher
type ZMQSubscriber struct {
	socket   *zmq.Socket
	endpoint string
	encoding Encoding
	logger   *log.Logger
}

// NewZMQSubscriber creates a SUB socket for endpoint
func NewZMQSubscriber(endpoint string, enc Encoding, logger *log.Logger) (*ZMQSubscriber, error) {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ socket: %w", err)
	}

	return &ZMQSubscriber{
		socket:   socket,
		endpoint: endpoint,
		encoding: enc,
		logger:   logger.WithComponent("zmq_subscriber"),
	}, nil
}

// Subscribe subscribes to a topic prefix; the empty string matches all
func (z *ZMQSubscriber) Subscribe(topic string) error {
	if err := z.socket.SetSubscribe(topic); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}
	z.logger.Info("subscribed to ZMQ topic", "topic", topic)
	return nil
}

// Connect connects to the publisher endpoint
func (z *ZMQSubscriber) Connect() error {
	if err := z.socket.Connect(z.endpoint); err != nil {
		return fmt.Errorf("failed to connect to ZMQ endpoint %s: %w", z.endpoint, err)
	}
	z.logger.Info("connected to ZMQ endpoint", "endpoint", z.endpoint)
	return nil
}

// Listen delivers decoded events to handler until ctx is cancelled
func (z *ZMQSubscriber) Listen(ctx context.Context, handler EventHandler) error {
	poller := zmq.NewPoller()
	poller.Add(z.socket, zmq.POLLIN)

	for {
		select {
		case <-ctx.Done():
			z.logger.Info("ZMQ listener stopping")
			return ctx.Err()
		default:
		}

		polled, err := poller.Poll(pollInterval)
		if err != nil {
			z.logger.Error("failed to poll ZMQ socket", "error", err)
			continue
		}
		if len(polled) == 0 {
			continue
		}

		msg, err := z.socket.RecvMessageBytes(0)
		if err != nil {
			z.logger.Error("failed to receive ZMQ message", "error", err)
			continue
		}
		if len(msg) < 2 {
			z.logger.Warn("received malformed ZMQ message", "parts", len(msg))
			continue
		}

		topic := string(msg[0])
		e, err := Decode(msg[1], z.encoding)
		if err != nil {
			z.logger.Error("failed to decode ZMQ message", "topic", topic, "error", err)
			continue
		}

		if err := handler(ctx, topic, e); err != nil {
			z.logger.Error("failed to handle ZMQ message", "topic", topic, "error", err)
		}
	}
}

// Close closes the socket
func (z *ZMQSubscriber) Close() error {
	if z.socket != nil {
		return z.socket.Close()
	}
	return nil
}
