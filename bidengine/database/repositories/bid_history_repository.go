package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/scrapline/bidengine/bidengine/database/models"
)

type BidHistoryRepository interface {
	// Append writes one ledger row. The table is append-only: there is no
	// update or delete method on this interface by design.
	Append(ctx context.Context, entry *models.BidHistoryEntry) error

	ListByAuction(ctx context.Context, auctionID int64, limit int) ([]*models.BidHistoryEntry, error)
	ListByBid(ctx context.Context, bidID int64) ([]*models.BidHistoryEntry, error)

	// CountDistinctBiddersFromIP counts distinct bidder ids that appear in
	// the auction's history with the given originating address.
	CountDistinctBiddersFromIP(ctx context.Context, auctionID int64, ip string) (int, error)
}

type bidHistoryRepository struct {
	db *bun.DB
}

func NewBidHistoryRepository(db *bun.DB) BidHistoryRepository {
	return &bidHistoryRepository{db: db}
}

func (r *bidHistoryRepository) Append(ctx context.Context, entry *models.BidHistoryEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := r.db.NewInsert().Model(entry).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to append bid history: %w", err)
	}
	return nil
}

func (r *bidHistoryRepository) ListByAuction(ctx context.Context, auctionID int64, limit int) ([]*models.BidHistoryEntry, error) {
	var entries []*models.BidHistoryEntry
	q := r.db.NewSelect().
		Model(&entries).
		Where("auction_id = ?", auctionID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list bid history: %w", err)
	}
	return entries, nil
}

func (r *bidHistoryRepository) ListByBid(ctx context.Context, bidID int64) ([]*models.BidHistoryEntry, error) {
	var entries []*models.BidHistoryEntry
	err := r.db.NewSelect().
		Model(&entries).
		Where("bid_id = ?", bidID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list bid history: %w", err)
	}
	return entries, nil
}

func (r *bidHistoryRepository) CountDistinctBiddersFromIP(ctx context.Context, auctionID int64, ip string) (int, error) {
	var bidders []string
	err := r.db.NewSelect().
		Model((*models.BidHistoryEntry)(nil)).
		ColumnExpr("DISTINCT bidder_id").
		Where("auction_id = ? AND ip_address = ?", auctionID, ip).
		Scan(ctx, &bidders)
	if err != nil {
		return 0, fmt.Errorf("failed to count bidders by origin: %w", err)
	}
	return len(bidders), nil
}
