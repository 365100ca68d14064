// Package audit records an audit trail of effective decision changes.
package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/access-engine/go-core/pkg/types"
)

// Event is one recorded decision change.
type Event struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Subject     string         `json:"subject"`
	Object      string         `json:"object"`
	OldDecision types.Decision `json:"oldDecision"`
	NewDecision types.Decision `json:"newDecision"`
}

// NewEvent builds an event for a decision change, stamping an ID and
// timestamp.
func NewEvent(subject, object types.AccessUri, oldDecision, newDecision types.Decision) Event {
	return Event{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		Subject:     subject.String(),
		Object:      object.String(),
		OldDecision: oldDecision,
		NewDecision: newDecision,
	}
}

// Writer persists audit events.
type Writer interface {
	Write(event Event) error
	Close() error
}
