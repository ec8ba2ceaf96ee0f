package identity

import (
	"context"
	"errors"

	"github.com/arthurh0812/natours-identity/internal/audit"
)

func (e *Engine) emitAudit(ctx context.Context, eventType, accountID, subject string, success bool, err error, metadata map[string]string) {
	if e == nil || e.audit == nil {
		return
	}

	event := audit.Event{
		Timestamp: e.now(),
		Type:      eventType,
		AccountID: accountID,
		Subject:   subject,
		IP:        ClientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if ua := UserAgentFromContext(ctx); ua != "" {
		if event.Metadata == nil {
			event.Metadata = make(map[string]string, 1)
		}
		event.Metadata["user_agent"] = ua
	}
	if err != nil {
		event.Error = errorKind(err)
	}

	e.audit.Emit(ctx, event)
}

// errorKind names the taxonomy kind of err without leaking its message.
func errorKind(err error) string {
	for _, kind := range []error{
		ErrValidation,
		ErrNotFound,
		ErrUnauthorized,
		ErrLocked,
		ErrForbidden,
		ErrConflict,
		ErrDependencyUnavailable,
	} {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return "internal"
}
