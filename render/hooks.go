package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Events triggered around the body transformation.
const (
	EventBeforeBodyTransformed = "beforeMessageBodyTransformed"
	EventAfterBodyTransformed  = "afterMessageBodyTransformed"
)

// Hooks is the extensibility seam of the body pipeline. Observers may look
// at the record and its text but cannot change the produced segments.
type Hooks interface {
	Trigger(ctx context.Context, event string, rec *Record, text string) error
}

// A Listener observes a hook event.
type Listener func(ctx context.Context, rec *Record, text string) error

// Bus is an in-process Hooks implementation. Listeners of an event run one
// after another in registration order.
type Bus struct {
	mu        sync.RWMutex
	listeners map[string][]Listener
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{listeners: make(map[string][]Listener)}
}

// On registers l for event.
func (b *Bus) On(event string, l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[event] = append(b.listeners[event], l)
}

// Trigger runs the listeners of event and returns their joined errors. It
// stops early when ctx is done.
func (b *Bus) Trigger(ctx context.Context, event string, rec *Record, text string) error {
	b.mu.RLock()
	ls := append([]Listener(nil), b.listeners[event]...)
	b.mu.RUnlock()

	var errs []error
	for i, l := range ls {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", event, err))
			break
		}
		if err := l(ctx, rec, text); err != nil {
			errs = append(errs, fmt.Errorf("%s listener %d: %w", event, i, err))
		}
	}
	return errors.Join(errs...)
}
