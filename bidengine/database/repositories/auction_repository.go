package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"github.com/scrapline/bidengine/bidengine/database/models"
)

type AuctionRepository interface {
	Create(ctx context.Context, auction *models.Auction) error
	Delete(ctx context.Context, id int64) error
	GetByID(ctx context.Context, id int64) (*models.Auction, error)
	GetByNumber(ctx context.Context, number string) (*models.Auction, error)

	// MaxNumberSequence returns the highest NNN suffix among auction numbers
	// with the given day prefix (e.g. "AU-20260901-"), or 0 if none exist.
	MaxNumberSequence(ctx context.Context, prefix string) (int, error)

	// UpdateCurrentBid is a compare-and-swap on current_bid: the write only
	// lands if the column still holds prior. ErrStaleUpdate otherwise.
	UpdateCurrentBid(ctx context.Context, id int64, prior, next decimal.Decimal, bidTime time.Time) error

	// ResetCurrentBid is the same compare-and-swap without touching the bid
	// counters, used by saga compensation and bid retraction.
	ResetCurrentBid(ctx context.Context, id int64, prior, next decimal.Decimal) error

	UpdateStatus(ctx context.Context, id int64, status models.AuctionStatus) error
	Schedule(ctx context.Context, id int64, start, end time.Time) error
	Launch(ctx context.Context, id int64, start, end time.Time) error
	CloseNoWinner(ctx context.Context, id int64) error
	CloseWithWinner(ctx context.Context, id int64, bidID int64, buyerID string, finalPrice, quantityRemaining decimal.Decimal) error

	ListDueForLaunch(ctx context.Context, now time.Time) ([]*models.Auction, error)
	ListExpired(ctx context.Context, now time.Time) ([]*models.Auction, error)
}

type auctionRepository struct {
	db *bun.DB
}

func NewAuctionRepository(db *bun.DB) AuctionRepository {
	return &auctionRepository{db: db}
}

func (r *auctionRepository) Create(ctx context.Context, auction *models.Auction) error {
	auction.CreatedAt = time.Now()
	auction.UpdatedAt = time.Now()

	_, err := r.db.NewInsert().Model(auction).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create auction: %w", err)
	}
	return nil
}

func (r *auctionRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.NewDelete().
		Model((*models.Auction)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete auction: %w", err)
	}
	return nil
}

func (r *auctionRepository) GetByID(ctx context.Context, id int64) (*models.Auction, error) {
	auction := new(models.Auction)
	err := r.db.NewSelect().
		Model(auction).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	return auction, nil
}

func (r *auctionRepository) GetByNumber(ctx context.Context, number string) (*models.Auction, error) {
	auction := new(models.Auction)
	err := r.db.NewSelect().
		Model(auction).
		Where("auction_number = ?", number).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get auction by number: %w", err)
	}
	return auction, nil
}

func (r *auctionRepository) MaxNumberSequence(ctx context.Context, prefix string) (int, error) {
	// The suffix is cast to int before taking the max; string ordering
	// would rank "999" above "1000" once a day's sequence grows a digit.
	var max int
	err := r.db.NewSelect().
		Model((*models.Auction)(nil)).
		ColumnExpr("COALESCE(MAX(CAST(substring(auction_number from ?) AS int)), 0)", len(prefix)+1).
		Where("auction_number LIKE ?", prefix+"%").
		Scan(ctx, &max)
	if err != nil {
		return 0, fmt.Errorf("failed to query auction numbers: %w", err)
	}
	return max, nil
}

func (r *auctionRepository) UpdateCurrentBid(ctx context.Context, id int64, prior, next decimal.Decimal, bidTime time.Time) error {
	result, err := r.db.NewUpdate().
		Model((*models.Auction)(nil)).
		Set("current_bid = ?", next).
		Set("last_bid_time = ?", bidTime).
		Set("bid_count = bid_count + 1").
		Set("updated_at = ?", time.Now()).
		Where("id = ? AND current_bid = ?", id, prior).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update current bid: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return ErrStaleUpdate
	}
	return nil
}

func (r *auctionRepository) ResetCurrentBid(ctx context.Context, id int64, prior, next decimal.Decimal) error {
	result, err := r.db.NewUpdate().
		Model((*models.Auction)(nil)).
		Set("current_bid = ?", next).
		Set("updated_at = ?", time.Now()).
		Where("id = ? AND current_bid = ?", id, prior).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to reset current bid: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrStaleUpdate
	}
	return nil
}

func (r *auctionRepository) UpdateStatus(ctx context.Context, id int64, status models.AuctionStatus) error {
	result, err := r.db.NewUpdate().
		Model((*models.Auction)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update auction status: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *auctionRepository) Schedule(ctx context.Context, id int64, start, end time.Time) error {
	result, err := r.db.NewUpdate().
		Model((*models.Auction)(nil)).
		Set("scheduled_start = ?", start).
		Set("scheduled_end = ?", end).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to schedule auction: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *auctionRepository) Launch(ctx context.Context, id int64, start, end time.Time) error {
	result, err := r.db.NewUpdate().
		Model((*models.Auction)(nil)).
		Set("status = ?", models.AuctionStatusActive).
		Set("start_time = ?", start).
		Set("end_time = ?", end).
		Set("updated_at = ?", time.Now()).
		Where("id = ? AND status IN (?)", id, bun.In([]models.AuctionStatus{
			models.AuctionStatusDraft,
			models.AuctionStatusScheduled,
		})).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to launch auction: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrStaleUpdate
	}
	return nil
}

func (r *auctionRepository) CloseNoWinner(ctx context.Context, id int64) error {
	_, err := r.db.NewUpdate().
		Model((*models.Auction)(nil)).
		Set("status = ?", models.AuctionStatusClosed).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to close auction: %w", err)
	}
	return nil
}

func (r *auctionRepository) CloseWithWinner(ctx context.Context, id int64, bidID int64, buyerID string, finalPrice, quantityRemaining decimal.Decimal) error {
	_, err := r.db.NewUpdate().
		Model((*models.Auction)(nil)).
		Set("status = ?", models.AuctionStatusClosed).
		Set("winning_bid_id = ?", bidID).
		Set("winning_buyer_id = ?", buyerID).
		Set("final_price = ?", finalPrice).
		Set("quantity_remaining = ?", quantityRemaining).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to close auction with winner: %w", err)
	}
	return nil
}

func (r *auctionRepository) ListDueForLaunch(ctx context.Context, now time.Time) ([]*models.Auction, error) {
	var auctions []*models.Auction
	err := r.db.NewSelect().
		Model(&auctions).
		Where("status IN (?)", bun.In([]models.AuctionStatus{
			models.AuctionStatusDraft,
			models.AuctionStatusScheduled,
		})).
		Where("scheduled_start IS NOT NULL AND scheduled_start <= ?", now).
		Where("scheduled_end IS NOT NULL AND scheduled_end > ?", now).
		Order("scheduled_start ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list auctions due for launch: %w", err)
	}
	return auctions, nil
}

func (r *auctionRepository) ListExpired(ctx context.Context, now time.Time) ([]*models.Auction, error) {
	var auctions []*models.Auction
	err := r.db.NewSelect().
		Model(&auctions).
		Where("status = ?", models.AuctionStatusActive).
		Where("(scheduled_end IS NOT NULL AND scheduled_end <= ?) OR (scheduled_end IS NULL AND end_time <= ?)", now, now).
		Order("scheduled_end ASC NULLS LAST").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired auctions: %w", err)
	}
	return auctions, nil
}
