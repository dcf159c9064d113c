package domain

import "time"

// Audit actions recorded in the append-only log.
const (
	AuditOpenSubmitted        = "OPEN_SUBMITTED"
	AuditOpenCommitted        = "OPEN_COMMITTED"
	AuditOpenRejected         = "OPEN_POSITION_REJECTED"
	AuditClosePosition        = "CLOSE_POSITION"
	AuditCloseFailed          = "CLOSE_POSITION_FAILED"
	AuditWalletCreated        = "WALLET_CREATED"
	AuditWalletImported       = "WALLET_IMPORTED"
	AuditWalletDeleted        = "WALLET_DELETED"
	AuditWalletDeleteRejected = "WALLET_DELETE_REJECTED"
	AuditUnauthorized         = "UNAUTHORIZED_ACCESS"
)

// AuditEntry is one immutable line of the audit trail.
type AuditEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	ActorID   int64          `json:"actor_id"`
	Success   bool           `json:"success"`
	Details   map[string]any `json:"details,omitempty"`
}
