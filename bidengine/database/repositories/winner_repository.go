package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/scrapline/bidengine/bidengine/database/models"
)

type WinnerRepository interface {
	Create(ctx context.Context, winner *models.AuctionWinner) error
	GetByAuction(ctx context.Context, auctionID int64) (*models.AuctionWinner, error)
	UpdateStatus(ctx context.Context, id int64, status models.WinnerStatus) error
}

type winnerRepository struct {
	db *bun.DB
}

func NewWinnerRepository(db *bun.DB) WinnerRepository {
	return &winnerRepository{db: db}
}

func (r *winnerRepository) Create(ctx context.Context, winner *models.AuctionWinner) error {
	winner.CreatedAt = time.Now()
	_, err := r.db.NewInsert().Model(winner).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create auction winner: %w", err)
	}
	return nil
}

func (r *winnerRepository) GetByAuction(ctx context.Context, auctionID int64) (*models.AuctionWinner, error) {
	winner := new(models.AuctionWinner)
	err := r.db.NewSelect().
		Model(winner).
		Where("auction_id = ?", auctionID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get auction winner: %w", err)
	}
	return winner, nil
}

func (r *winnerRepository) UpdateStatus(ctx context.Context, id int64, status models.WinnerStatus) error {
	result, err := r.db.NewUpdate().
		Model((*models.AuctionWinner)(nil)).
		Set("status = ?", status).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update winner status: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}
