package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/scrapline/bidengine/bidengine/database/models"
)

type AuditRepository interface {
	Insert(ctx context.Context, entry *models.AuditLog) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.AuditLog, error)

	// CountRecentByAction counts a user's audit rows for one action since
	// the given instant. Backs the shared (multi-instance) rate limiter.
	CountRecentByAction(ctx context.Context, userID, action string, since time.Time) (int, error)
}

type auditRepository struct {
	db *bun.DB
}

func NewAuditRepository(db *bun.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Insert(ctx context.Context, entry *models.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := r.db.NewInsert().Model(entry).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

func (r *auditRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.AuditLog, error) {
	var entries []*models.AuditLog
	q := r.db.NewSelect().
		Model(&entries).
		Where("user_id = ?", userID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return entries, nil
}

func (r *auditRepository) CountRecentByAction(ctx context.Context, userID, action string, since time.Time) (int, error) {
	count, err := r.db.NewSelect().
		Model((*models.AuditLog)(nil)).
		Where("user_id = ? AND action = ?", userID, action).
		Where("created_at >= ?", since).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit logs: %w", err)
	}
	return count, nil
}
