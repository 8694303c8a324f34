package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/bardlex/promine/internal/messaging"
	"github.com/bardlex/promine/internal/models"
	"github.com/bardlex/promine/pkg/log"
)

func TestSplitKinds(t *testing.T) {
	got := splitKinds(" new_block, ,metrics_update")
	if len(got) != 2 || got[0] != messaging.KindNewBlock || got[1] != messaging.KindMetricsUpdate {
		t.Errorf("splitKinds() = %v", got)
	}
	if got := splitKinds(""); got != nil {
		t.Errorf("splitKinds(\"\") = %v, want nil", got)
	}
}

func TestPrinter_WritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf, nil)

	e := messaging.NewMiningUpdateEvent(7, 0.8, models.PhaseValidating)
	if err := p.handle(context.Background(), messaging.TopicMiningUpdates, e); err != nil {
		t.Fatalf("handle() error = %v", err)
	}
	if err := p.handle(context.Background(), messaging.TopicMiningUpdates, e); err != nil {
		t.Fatalf("handle() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("handle() wrote %d lines, want 2", len(lines))
	}
	for _, want := range []string{`"topic":"promine.mining.updates"`, `"type":"mining_update"`, `"id":"` + e.ID + `"`} {
		if !strings.Contains(lines[0], want) {
			t.Errorf("line %s missing %s", lines[0], want)
		}
	}
}

func TestPrinter_FiltersKinds(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf, []messaging.Kind{messaging.KindNewBlock})

	e := messaging.NewMiningUpdateEvent(1, 0.1, models.PhaseComputing)
	if err := p.handle(context.Background(), messaging.TopicMiningUpdates, e); err != nil {
		t.Fatalf("handle() error = %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("handle() printed a filtered event: %s", buf.String())
	}
}

func TestTailZMQ_RequiresEndpoint(t *testing.T) {
	p := newPrinter(&bytes.Buffer{}, nil)
	if err := tailZMQ(context.Background(), "", messaging.EncodingJSON, p, log.Discard()); err == nil {
		t.Fatal("tailZMQ() expected error without endpoint")
	}
}
