package models

import (
	"time"

	"github.com/uptrace/bun"
)

// AuditLog records every bid attempt and every circuit-breaker flag. It also
// backs the store-based rate limiter, which counts recent bid_attempt rows.
type AuditLog struct {
	bun.BaseModel `bun:"table:audit_logs,alias:au"`

	ID        int64          `bun:"id,pk,autoincrement"`
	Action    string         `bun:"action,notnull"`
	UserID    string         `bun:"user_id,notnull"`
	IPAddress string         `bun:"ip_address,nullzero"`
	Details   map[string]any `bun:"details,type:jsonb"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
