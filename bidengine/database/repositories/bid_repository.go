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

type BidRepository interface {
	Insert(ctx context.Context, bid *models.Bid) error
	Delete(ctx context.Context, id int64) error
	GetByID(ctx context.Context, id int64) (*models.Bid, error)

	// GetWinning returns the current non-retracted winning bid, or nil if
	// the auction has none.
	GetWinning(ctx context.Context, auctionID int64) (*models.Bid, error)

	// DemoteWinning clears is_winning on the current winner and returns its
	// id, or 0 if there was none.
	DemoteWinning(ctx context.Context, auctionID int64) (int64, error)

	SetWinning(ctx context.Context, id int64, winning bool) error
	Retract(ctx context.Context, id int64) error

	ListActiveByAmountDesc(ctx context.Context, auctionID int64) ([]*models.Bid, error)
	CountHigher(ctx context.Context, auctionID int64, amount decimal.Decimal) (int, error)

	// ListRecentCompeting returns the most recent non-retracted bids below
	// the given amount, newest first, capped at limit.
	ListRecentCompeting(ctx context.Context, auctionID int64, below decimal.Decimal, limit int) ([]*models.Bid, error)
}

type bidRepository struct {
	db *bun.DB
}

func NewBidRepository(db *bun.DB) BidRepository {
	return &bidRepository{db: db}
}

func (r *bidRepository) Insert(ctx context.Context, bid *models.Bid) error {
	if bid.CreatedAt.IsZero() {
		bid.CreatedAt = time.Now()
	}
	_, err := r.db.NewInsert().Model(bid).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert bid: %w", err)
	}
	return nil
}

func (r *bidRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.NewDelete().
		Model((*models.Bid)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete bid: %w", err)
	}
	return nil
}

func (r *bidRepository) GetByID(ctx context.Context, id int64) (*models.Bid, error) {
	bid := new(models.Bid)
	err := r.db.NewSelect().
		Model(bid).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get bid: %w", err)
	}
	return bid, nil
}

func (r *bidRepository) GetWinning(ctx context.Context, auctionID int64) (*models.Bid, error) {
	bid := new(models.Bid)
	err := r.db.NewSelect().
		Model(bid).
		Where("auction_id = ? AND is_winning = TRUE AND is_retracted = FALSE", auctionID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get winning bid: %w", err)
	}
	return bid, nil
}

func (r *bidRepository) DemoteWinning(ctx context.Context, auctionID int64) (int64, error) {
	prior, err := r.GetWinning(ctx, auctionID)
	if err != nil {
		return 0, err
	}
	if prior == nil {
		return 0, nil
	}

	_, err = r.db.NewUpdate().
		Model((*models.Bid)(nil)).
		Set("is_winning = FALSE").
		Where("id = ?", prior.ID).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to demote winning bid: %w", err)
	}
	return prior.ID, nil
}

func (r *bidRepository) SetWinning(ctx context.Context, id int64, winning bool) error {
	_, err := r.db.NewUpdate().
		Model((*models.Bid)(nil)).
		Set("is_winning = ?", winning).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set winning flag: %w", err)
	}
	return nil
}

func (r *bidRepository) Retract(ctx context.Context, id int64) error {
	result, err := r.db.NewUpdate().
		Model((*models.Bid)(nil)).
		Set("is_retracted = TRUE").
		Set("is_winning = FALSE").
		Where("id = ? AND is_retracted = FALSE", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to retract bid: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrStaleUpdate
	}
	return nil
}

func (r *bidRepository) ListActiveByAmountDesc(ctx context.Context, auctionID int64) ([]*models.Bid, error) {
	var bids []*models.Bid
	err := r.db.NewSelect().
		Model(&bids).
		Where("auction_id = ? AND is_retracted = FALSE", auctionID).
		Order("amount DESC", "created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}
	return bids, nil
}

func (r *bidRepository) CountHigher(ctx context.Context, auctionID int64, amount decimal.Decimal) (int, error) {
	count, err := r.db.NewSelect().
		Model((*models.Bid)(nil)).
		Where("auction_id = ? AND is_retracted = FALSE", auctionID).
		Where("amount > ?", amount).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count higher bids: %w", err)
	}
	return count, nil
}

func (r *bidRepository) ListRecentCompeting(ctx context.Context, auctionID int64, below decimal.Decimal, limit int) ([]*models.Bid, error) {
	var bids []*models.Bid
	err := r.db.NewSelect().
		Model(&bids).
		Where("auction_id = ? AND is_retracted = FALSE", auctionID).
		Where("amount < ?", below).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list competing bids: %w", err)
	}
	return bids, nil
}
