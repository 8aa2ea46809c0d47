package events

import (
	"context"
	"errors"
)

// Handler processes one event taken from a bus.
type Handler func(ctx context.Context, event Event) error

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Consumer hands events to a pool of workers until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Bus is both ends of a transport.
type Bus interface {
	Publisher
	Consumer
}

// ErrClosed is returned when publishing to a closed transport.
var ErrClosed = errors.New("events: transport closed")

// Fanout publishes every event to each publisher in order and joins their
// errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
func (Discard) Close() error                         { return nil }
