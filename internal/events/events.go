// Package events is the in-process domain event bus.
//
// Services publish after their transaction committed; handlers run
// synchronously in registration order and their errors are logged, never
// returned to the publisher. Handlers run detached from the publisher's
// cancellation, so a disconnected client does not drop its triggers.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kpessa/delphi-webapp/internal/models"
)

// DefaultHandlerTimeout bounds a single handler run
const DefaultHandlerTimeout = 30 * time.Second

// Event names
const (
	NameTopicCreated      = "topic.created"
	NameFeedbackCreated   = "feedback.created"
	NameRoundClosed       = "round.closed"
	NameConsensusReached  = "consensus.reached"
	NameInvitationCreated = "invitation.created"
)

// Event is a fact raised by a committed domain change
type Event interface {
	EventName() string
}

// TopicCreated is raised after a topic was created
type TopicCreated struct {
	Topic models.Topic
}

func (TopicCreated) EventName() string { return NameTopicCreated }

// FeedbackCreated is raised after feedback was submitted
type FeedbackCreated struct {
	Feedback models.Feedback
	Topic    models.Topic
}

func (FeedbackCreated) EventName() string { return NameFeedbackCreated }

// RoundClosed is raised after a round was completed
type RoundClosed struct {
	Topic   models.Topic
	Round   models.Round
	Metrics models.ConsensusMetrics
}

func (RoundClosed) EventName() string { return NameRoundClosed }

// ConsensusReached is raised when a closed round met the consensus threshold
type ConsensusReached struct {
	Topic   models.Topic
	Round   models.Round
	Metrics models.ConsensusMetrics
}

func (ConsensusReached) EventName() string { return NameConsensusReached }

// InvitationCreated is raised for every invitation created
type InvitationCreated struct {
	Invitation models.PanelInvitation
}

func (InvitationCreated) EventName() string { return NameInvitationCreated }

// Handler reacts to one event
type Handler func(ctx context.Context, event Event) error

// Publisher is the part of the bus services depend on
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Bus routes events to the handlers registered for their name
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	timeout  time.Duration
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{handlers: map[string][]Handler{}, timeout: DefaultHandlerTimeout}
}

// SetHandlerTimeout changes the per-handler deadline. Non-positive values are ignored.
func (b *Bus) SetHandlerTimeout(d time.Duration) {
	if d > 0 {
		b.mu.Lock()
		b.timeout = d
		b.mu.Unlock()
	}
}

// Subscribe registers h for events named name
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// On registers a typed handler for events of type E
func On[E Event](b *Bus, h func(ctx context.Context, event E) error) {
	var zero E
	b.Subscribe(zero.EventName(), func(ctx context.Context, event Event) error {
		typed, ok := event.(E)
		if !ok {
			return nil
		}
		return h(ctx, typed)
	})
}

// Publish delivers event to every handler. A panicking or failing handler
// does not stop the remaining ones.
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[event.EventName()]...)
	timeout := b.timeout
	b.mu.RUnlock()

	// the change already committed; keep request values, drop its cancellation
	ctx = context.WithoutCancel(ctx)

	for _, h := range handlers {
		b.dispatch(ctx, timeout, event, h)
	}
}

func (b *Bus) dispatch(ctx context.Context, timeout time.Duration, event Event, h Handler) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event handler panicked", "event", event.EventName(), "panic", r)
		}
	}()

	if err := h(ctx, event); err != nil {
		slog.Error("Event handler failed", "event", event.EventName(), "error", err)
	}
}

// Nop discards every event
type Nop struct{}

// Publish implements Publisher
func (Nop) Publish(context.Context, Event) {}
