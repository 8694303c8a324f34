// Package main implements eventtail, which prints the mining network's
// events as JSON lines. It reads from Kafka or from a minerd ZMQ publisher.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/goccy/go-json"

	"github.com/bardlex/promine/internal/config"
	"github.com/bardlex/promine/internal/messaging"
	"github.com/bardlex/promine/pkg/log"
)

func main() {
	os.Exit(run())
}

func run() int {
	source := flag.String("source", "kafka", "event source: kafka or zmq")
	endpoint := flag.String("endpoint", "", "ZMQ endpoint to connect to (defaults to ZMQ_PUB_ADDR)")
	kinds := flag.String("kinds", "", "comma-separated event types to print; empty prints all")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	enc, err := messaging.ParseEncoding(cfg.EventEncoding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid event encoding: %v\n", err)
		return 1
	}

	// Logs go to stderr so stdout carries only events
	logger := log.NewWithWriter(os.Stderr, "eventtail", cfg.Version, cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p := newPrinter(os.Stdout, splitKinds(*kinds))

	switch *source {
	case "kafka":
		err = tailKafka(ctx, cfg, enc, p, logger)
	case "zmq":
		addr := *endpoint
		if addr == "" {
			addr = cfg.ZMQPubAddr
		}
		err = tailZMQ(ctx, addr, enc, p, logger)
	default:
		err = fmt.Errorf("unknown source %q", *source)
	}

	if err != nil && ctx.Err() == nil {
		logger.WithError(err).Error("event tail failed")
		return 1
	}
	return 0
}

func tailKafka(ctx context.Context, cfg *config.Config, enc messaging.Encoding, p *printer, logger *log.Logger) error {
	if len(cfg.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is not set")
	}
	client := messaging.NewKafkaClient(cfg.KafkaBrokers, logger)
	defer func() { _ = client.Close() }()

	groupID := cfg.KafkaGroupID + "-eventtail"
	topics := messaging.Topics()
	errs := make(chan error, len(topics))

	var wg sync.WaitGroup
	for _, topic := range topics {
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			errs <- client.StartConsumer(ctx, topic, groupID, enc, p.handle)
		}(topic)
	}
	wg.Wait()
	close(errs)
	return <-errs
}

func tailZMQ(ctx context.Context, endpoint string, enc messaging.Encoding, p *printer, logger *log.Logger) error {
	if endpoint == "" {
		return fmt.Errorf("no ZMQ endpoint: pass -endpoint or set ZMQ_PUB_ADDR")
	}
	sub, err := messaging.NewZMQSubscriber(endpoint, enc, logger)
	if err != nil {
		return err
	}
	defer func() { _ = sub.Close() }()

	if err := sub.Subscribe(""); err != nil {
		return err
	}
	if err := sub.Connect(); err != nil {
		return err
	}
	return sub.Listen(ctx, p.handle)
}

func splitKinds(s string) []messaging.Kind {
	var out []messaging.Kind
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, messaging.Kind(part))
		}
	}
	return out
}

// printer writes events as JSON lines. Consumers run concurrently, so
// writes are serialized.
type printer struct {
	mu    sync.Mutex
	enc   *json.Encoder
	kinds map[messaging.Kind]bool
}

func newPrinter(w io.Writer, kinds []messaging.Kind) *printer {
	p := &printer{enc: json.NewEncoder(w)}
	if len(kinds) > 0 {
		p.kinds = make(map[messaging.Kind]bool, len(kinds))
		for _, k := range kinds {
			p.kinds[k] = true
		}
	}
	return p
}

type line struct {
	Topic string `json:"topic"`
	*messaging.Event
}

func (p *printer) handle(_ context.Context, topic string, e *messaging.Event) error {
	if p.kinds != nil && !p.kinds[e.Kind] {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(line{Topic: topic, Event: e})
}
