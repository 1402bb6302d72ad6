package settlement

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/scrapline/bidengine/bidengine/database/models"
	"github.com/scrapline/bidengine/bidengine/database/repositories"
)

// Ledger is the append-only bid-history log plus rank computation over the
// live bid table. History rows are never mutated; rank is always derivable
// from a full re-sort of the non-retracted bids.
type Ledger struct {
	bids    repositories.BidRepository
	history repositories.BidHistoryRepository
}

func NewLedger(bids repositories.BidRepository, history repositories.BidHistoryRepository) *Ledger {
	return &Ledger{bids: bids, history: history}
}

// CalculateBidRank returns the 1-indexed rank an amount would hold among the
// auction's non-retracted bids: the count of strictly greater bids plus one.
func (l *Ledger) CalculateBidRank(ctx context.Context, auctionID int64, amount decimal.Decimal) (int, error) {
	higher, err := l.bids.CountHigher(ctx, auctionID, amount)
	if err != nil {
		return 0, fmt.Errorf("failed to calculate bid rank: %w", err)
	}
	return higher + 1, nil
}

// BidChange describes one ledger event to append.
type BidChange struct {
	AuctionID      int64
	BidID          int64
	BidderID       string
	Amount         decimal.Decimal
	TotalBidAmount decimal.Decimal
	Event          models.BidEvent
	Rank           int
	IPAddress      string
	UserAgent      string
}

// RecordBidChange appends one history row. Prior rows are never touched.
func (l *Ledger) RecordBidChange(ctx context.Context, change BidChange) error {
	entry := &models.BidHistoryEntry{
		AuctionID:      change.AuctionID,
		BidID:          change.BidID,
		BidderID:       change.BidderID,
		Amount:         change.Amount,
		TotalBidAmount: change.TotalBidAmount,
		Event:          change.Event,
		RankAtTime:     change.Rank,
		IPAddress:      change.IPAddress,
		UserAgent:      change.UserAgent,
	}
	if entry.TotalBidAmount.IsZero() {
		entry.TotalBidAmount = change.Amount
	}
	if err := l.history.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to record bid change: %w", err)
	}
	return nil
}

// GetBidHistory returns the auction's ledger entries, newest first.
func (l *Ledger) GetBidHistory(ctx context.Context, auctionID int64, limit int) ([]*models.BidHistoryEntry, error) {
	return l.history.ListByAuction(ctx, auctionID, limit)
}

// RankedBid pairs a live bid with its current rank.
type RankedBid struct {
	Bid  *models.Bid
	Rank int
}

// GetBidRanking projects the auction's non-retracted bids ordered by amount
// descending with their 1-indexed ranks. Equal amounts share a rank.
func (l *Ledger) GetBidRanking(ctx context.Context, auctionID int64) ([]RankedBid, error) {
	bids, err := l.bids.ListActiveByAmountDesc(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get bid ranking: %w", err)
	}

	ranking := make([]RankedBid, 0, len(bids))
	rank := 0
	var prev decimal.Decimal
	for i, bid := range bids {
		if i == 0 || !bid.Amount.Equal(prev) {
			rank = i + 1
			prev = bid.Amount
		}
		ranking = append(ranking, RankedBid{Bid: bid, Rank: rank})
	}
	return ranking, nil
}
