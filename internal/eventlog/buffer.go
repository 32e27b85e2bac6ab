// ABOUTME: Per-request buffer of audit events flushed to the store in one batch
// ABOUTME: Adds are in-memory only; Flush performs a single transactional append

package eventlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/passkey-gateway/internal/store"
)

// Sink persists a batch of events atomically. *store.SQLiteStore implements it.
type Sink interface {
	AppendEvents(ctx context.Context, events []*store.Event) error
}

// Buffer accumulates events for one unit of work. It is safe for concurrent use.
type Buffer struct {
	sink Sink
	now  func() time.Time

	mu             sync.Mutex
	events         []*store.Event
	suppressed     bool
	tenant         string
	abbreviatedKey string
}

// NewBuffer creates an empty buffer writing to sink.
func NewBuffer(sink Sink) *Buffer {
	return &Buffer{sink: sink, now: time.Now}
}

// SetOrigin records the tenant and abbreviated key applied to later events that leave them empty.
func (b *Buffer) SetOrigin(tenant, abbreviatedKey string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tenant = tenant
	b.abbreviatedKey = abbreviatedKey
}

// Suppress discards all buffered events and ignores later adds.
func (b *Buffer) Suppress() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.suppressed = true
	b.events = nil
}

// Add appends an event, stamping ID, time and default fields. No I/O happens here.
func (b *Buffer) Add(e *store.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.suppressed {
		return
	}

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.PerformedAt.IsZero() {
		e.PerformedAt = b.now().UTC()
	}
	if e.Severity == "" {
		e.Severity = store.SeverityInfo
	}
	if e.Tenant == "" {
		e.Tenant = b.tenant
	}
	if e.AbbreviatedKey == "" {
		e.AbbreviatedKey = b.abbreviatedKey
	}
	if e.PerformedBy == "" {
		e.PerformedBy = "system"
	}
	b.events = append(b.events, e)
}

// Len returns the number of events waiting to be flushed.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Flush writes all buffered events in one batch and clears the buffer.
// Flushing an empty buffer does nothing. On failure the events are dropped.
func (b *Buffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	events := b.events
	b.events = nil
	b.mu.Unlock()

	if len(events) == 0 {
		return nil
	}
	if err := b.sink.AppendEvents(ctx, events); err != nil {
		return fmt.Errorf("flushing %d events: %w", len(events), err)
	}
	return nil
}

// NewEvent builds an event of the given type and severity.
func NewEvent(t store.EventType, severity store.Severity, message string) *store.Event {
	return &store.Event{EventType: t, Severity: severity, Message: message}
}
