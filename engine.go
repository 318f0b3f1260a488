package resetd

import (
	"context"
	"time"

	"github.com/carebridge/resetd/internal/limiters"
	"github.com/carebridge/resetd/internal/stores"
	"github.com/carebridge/resetd/password"
)

// Engine is the embeddable reset workflow. Construct it through
// [Builder.Build]; after that every method is safe for concurrent use.
type Engine struct {
	config         Config
	sessionStore   *stores.ResetSessionStore
	requestLimiter *limiters.RequestLimiter
	audit          *auditDispatcher
	metrics        *Metrics
	passwordHash   *password.Argon2
	directory      UserDirectory
	invalidator    SessionInvalidator
	notifier       Notifier
}

// Close drains and stops the audit dispatcher. The engine must not be used
// afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// MetricsSnapshot copies every workflow counter. Returns an empty
// snapshot when metrics are disabled.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

// AuditDropped reports how many audit events were shed because the buffer
// was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if err != nil {
		event.Error = err.Error()
	}

	e.audit.Emit(ctx, event)
}
