package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/access-engine/go-core/pkg/types"
)

// Trail turns decision change notifications into audit events. It
// implements access.OnDecisionChangedListener and is registered on every
// scheme policy; callbacks arrive on the notification dispatcher
// goroutine, so writes here never block a decision mutation.
type Trail struct {
	logger  *zap.Logger
	writers []Writer
}

// NewTrail creates a trail fanning events out to the given writers.
func NewTrail(logger *zap.Logger, writers ...Writer) *Trail {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trail{logger: logger, writers: writers}
}

// OnDecisionChanged records one decision change.
func (t *Trail) OnDecisionChanged(subject, object types.AccessUri, oldDecision, newDecision types.Decision) {
	event := NewEvent(subject, object, oldDecision, newDecision)
	for _, writer := range t.writers {
		if err := writer.Write(event); err != nil {
			t.logger.Error("failed to write audit event",
				zap.String("subject", event.Subject),
				zap.String("object", event.Object),
				zap.Error(err),
			)
		}
	}
}

// Close closes every writer.
func (t *Trail) Close() error {
	var firstErr error
	for _, writer := range t.writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// storeWriter adapts PostgresStore to the Writer interface.
type storeWriter struct {
	store   *PostgresStore
	timeout time.Duration
}

// NewStoreWriter wraps a PostgresStore as a Writer with a per-write
// timeout.
func NewStoreWriter(store *PostgresStore, timeout time.Duration) Writer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &storeWriter{store: store, timeout: timeout}
}

func (w *storeWriter) Write(event Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	return w.store.Insert(ctx, event)
}

func (w *storeWriter) Close() error { return nil }
