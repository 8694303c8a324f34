package messaging

import (
	"context"
	stderrors "errors"
	"time"
)

// pollInterval bounds how long a subscriber blocks between context checks
const pollInterval = 250 * time.Millisecond

// Publisher delivers events to subscribers
type Publisher interface {
	Publish(ctx context.Context, e *Event) error
}

// Fanout publishes every event to all of its publishers
type Fanout []Publisher

// Publish delivers e to each publisher, joining any errors
func (f Fanout) Publish(ctx context.Context, e *Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// Discard drops every event
type Discard struct{}

// Publish does nothing
func (Discard) Publish(context.Context, *Event) error { return nil }
