package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/scrapline/bidengine/bidengine/database/models"
	"github.com/scrapline/bidengine/bidengine/database/repositories"
)

// Resolver determines auction winners and checks reserve prices.
type Resolver struct {
	auctions repositories.AuctionRepository
	bids     repositories.BidRepository
	winners  repositories.WinnerRepository
	ledger   *Ledger
}

func NewResolver(
	auctions repositories.AuctionRepository,
	bids repositories.BidRepository,
	winners repositories.WinnerRepository,
	ledger *Ledger,
) *Resolver {
	return &Resolver{
		auctions: auctions,
		bids:     bids,
		winners:  winners,
		ledger:   ledger,
	}
}

// CheckReservePrice reports whether the auction can settle: true when no
// reserve is set, or when the current bid meets it.
func (r *Resolver) CheckReservePrice(ctx context.Context, auctionID int64) (bool, error) {
	auction, err := r.auctions.GetByID(ctx, auctionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return false, &NotFoundError{Resource: "auction", ID: auctionID}
		}
		return false, fmt.Errorf("failed to load auction: %w", err)
	}

	if !auction.HasReserve() {
		return true, nil
	}
	return auction.CurrentBid.GreaterThanOrEqual(auction.ReservePrice), nil
}

// WinnerResult reports the awarded winners and the total quantity won. The
// slice shape leaves room for multi-winner partial fulfillment; the current
// model awards the entire remaining quantity to the single top bid.
type WinnerResult struct {
	Winners  []*models.AuctionWinner
	TotalWon decimal.Decimal
}

// DetermineWinner awards the top non-retracted bid the auction's remaining
// quantity, creates the AuctionWinner row, and appends a won ledger entry.
// An auction with no bids yields an empty result, not an error.
func (r *Resolver) DetermineWinner(ctx context.Context, auctionID int64) (*WinnerResult, error) {
	auction, err := r.auctions.GetByID(ctx, auctionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, &NotFoundError{Resource: "auction", ID: auctionID}
		}
		return nil, fmt.Errorf("failed to load auction: %w", err)
	}

	bids, err := r.bids.ListActiveByAmountDesc(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load bids: %w", err)
	}
	if len(bids) == 0 {
		return &WinnerResult{}, nil
	}

	top := bids[0]
	quantity := auction.QuantityRemaining
	winner := &models.AuctionWinner{
		AuctionID:    auctionID,
		BidID:        top.ID,
		BuyerID:      top.BidderID,
		QuantityWon:  quantity,
		PricePerUnit: top.Amount,
		TotalAmount:  top.Amount.Mul(quantity),
		Status:       models.WinnerStatusPendingSettlement,
	}
	if err := r.winners.Create(ctx, winner); err != nil {
		return nil, fmt.Errorf("failed to create auction winner: %w", err)
	}

	if err := r.ledger.RecordBidChange(ctx, BidChange{
		AuctionID: auctionID,
		BidID:     top.ID,
		BidderID:  top.BidderID,
		Amount:    top.Amount,
		Event:     models.BidEventWon,
		Rank:      1,
	}); err != nil {
		return nil, fmt.Errorf("failed to record won entry: %w", err)
	}

	return &WinnerResult{
		Winners:  []*models.AuctionWinner{winner},
		TotalWon: quantity,
	}, nil
}
