// Package events publishes ledger change notifications for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeEntriesSaved     = "entries.saved"
	TypeSignatureChanged = "signature.changed"
)

// Event is the envelope written to the bus.
type Event struct {
	ID         uuid.UUID       `json:"id"`
	Type       string          `json:"type"`
	BookID     uuid.UUID       `json:"bookId"`
	ActorID    string          `json:"actorId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// EntriesSaved is the payload of TypeEntriesSaved.
type EntriesSaved struct {
	Serials []int  `json:"serials"`
	Balance string `json:"balance"`
}

// SignatureChanged is the payload of TypeSignatureChanged.
type SignatureChanged struct {
	EntryID uuid.UUID `json:"entryId"`
	Serial  int       `json:"serial"`
	Action  string    `json:"action"`
	Status  string    `json:"status"`
}

// New builds an event with a marshalled payload.
func New(eventType string, bookID uuid.UUID, actor string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		BookID:     bookID,
		ActorID:    actor,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	}, nil
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// LogPublisher writes events to the structured log. Used when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher constructs a LogPublisher.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

// Publish logs the event.
func (p *LogPublisher) Publish(ctx context.Context, evt Event) error {
	p.logger.InfoContext(ctx, "event published",
		slog.String("type", evt.Type),
		slog.String("book_id", evt.BookID.String()),
		slog.String("actor", evt.ActorID),
		slog.String("payload", string(evt.Payload)))
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish records the event.
func (r *Recorder) Publish(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

// Events returns a copy of everything recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
