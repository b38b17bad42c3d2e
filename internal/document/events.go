package document

import (
	"context"
	"time"
)

type EventType string

const (
	EventCreated EventType = "created"
	EventDeleted EventType = "deleted"
)

// Event announces a change to the document set.
type Event struct {
	Type       EventType `json:"type"`
	DocumentID string    `json:"document_id"`
	Origin     string    `json:"origin,omitempty"`
	At         time.Time `json:"at"`
}

// Notifier receives document events after the change is committed.
// Implementations must not block the caller for long.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, e Event)

func (f NotifierFunc) Notify(ctx context.Context, e Event) { f(ctx, e) }

// Notifiers fans an event out to every member.
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, e Event) {
	for _, n := range ns {
		if n != nil {
			n.Notify(ctx, e)
		}
	}
}
