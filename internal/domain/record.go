package domain

import (
	"context"
	"time"
)

// RecoveryRecord is one audited outcome of a deletion signal.
type RecoveryRecord struct {
	ID             string // ULID
	TargetID       string
	ConversationID string
	SenderID       string
	Outcome        string // "sent" | "suppressed"
	Reason         string
	MediaKind      string
	At             time.Time
}

// RecoveryLog persists recovery outcomes for the status command and
// operator inspection. Append failures are logged, never propagated.
type RecoveryLog interface {
	AppendRecovery(ctx context.Context, rec RecoveryRecord) error
	RecentRecoveries(ctx context.Context, limit int) ([]RecoveryRecord, error)
}
