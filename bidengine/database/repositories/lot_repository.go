package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/scrapline/bidengine/bidengine/database/models"
)

type LotRepository interface {
	InsertBatch(ctx context.Context, lots []*models.AuctionLot) error
	DeleteByAuction(ctx context.Context, auctionID int64) error
	ListByAuction(ctx context.Context, auctionID int64) ([]*models.AuctionLot, error)
}

type lotRepository struct {
	db *bun.DB
}

func NewLotRepository(db *bun.DB) LotRepository {
	return &lotRepository{db: db}
}

func (r *lotRepository) InsertBatch(ctx context.Context, lots []*models.AuctionLot) error {
	if len(lots) == 0 {
		return nil
	}
	now := time.Now()
	for _, lot := range lots {
		lot.CreatedAt = now
	}
	_, err := r.db.NewInsert().Model(&lots).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert auction lots: %w", err)
	}
	return nil
}

func (r *lotRepository) DeleteByAuction(ctx context.Context, auctionID int64) error {
	_, err := r.db.NewDelete().
		Model((*models.AuctionLot)(nil)).
		Where("auction_id = ?", auctionID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete auction lots: %w", err)
	}
	return nil
}

func (r *lotRepository) ListByAuction(ctx context.Context, auctionID int64) ([]*models.AuctionLot, error) {
	var lots []*models.AuctionLot
	err := r.db.NewSelect().
		Model(&lots).
		Where("auction_id = ?", auctionID).
		Order("lot_number ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list auction lots: %w", err)
	}
	return lots, nil
}
