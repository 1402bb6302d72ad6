package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/scrapline/bidengine/bidengine/database/models"
	"github.com/scrapline/bidengine/bidengine/database/repositories"
	"github.com/scrapline/bidengine/bidengine/logger"
)

// BidOptions carries the optional per-bid request context.
type BidOptions struct {
	LotID       int64
	IPAddress   string
	UserAgent   string
	BidderEmail string
}

// BidResult is what PlaceBid hands back to the transport layer.
type BidResult struct {
	Bid     *models.Bid
	Auction *models.Auction
	Rank    int
}

// Pipeline validates and commits bids. The winner-flag swap and the
// current_bid advance run as one compensating transaction; the current_bid
// advance is a compare-and-swap, so two concurrent bids that both passed
// validation cannot both land. The ledger append follows outside the saga:
// history is append-only and its failure never unwinds an accepted bid.
type Pipeline struct {
	auctions repositories.AuctionRepository
	bids     repositories.BidRepository
	ledger   *Ledger
	guard    *Guard
	audits   AuditSink
	saga     *SagaExecutor
	notifier Notifier

	outbidBackfillLimit int
	now                 func() time.Time
}

func NewPipeline(
	auctions repositories.AuctionRepository,
	bids repositories.BidRepository,
	ledger *Ledger,
	guard *Guard,
	audits AuditSink,
	notifier Notifier,
	outbidBackfillLimit int,
) *Pipeline {
	if outbidBackfillLimit <= 0 {
		outbidBackfillLimit = 10
	}
	return &Pipeline{
		auctions:            auctions,
		bids:                bids,
		ledger:              ledger,
		guard:               guard,
		audits:              audits,
		saga:                NewSagaExecutor(),
		notifier:            notifier,
		outbidBackfillLimit: outbidBackfillLimit,
		now:                 time.Now,
	}
}

// PlaceBid runs the full acceptance pipeline: preconditions, circuit
// breakers, the two-step saga committing bid and auction, then the
// history append.
func (p *Pipeline) PlaceBid(ctx context.Context, auctionID int64, bidderID string, amount decimal.Decimal, opts BidOptions) (_ *BidResult, retErr error) {
	start := time.Now()
	defer func() { logger.LogOperation("place_bid", time.Since(start), retErr) }()

	auction, err := p.auctions.GetByID(ctx, auctionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, &NotFoundError{Resource: "auction", ID: auctionID}
		}
		return nil, fmt.Errorf("failed to load auction: %w", err)
	}

	if err := p.validateBid(auction, bidderID, amount); err != nil {
		return nil, err
	}

	// Rate check is the only hard gate among the circuit breakers.
	decision, err := p.guard.CheckBidRate(ctx, bidderID)
	if err != nil {
		return nil, fmt.Errorf("rate check failed: %w", err)
	}
	if decision.Limited {
		return nil, &RateLimitError{RetryAfter: decision.RetryAfter}
	}

	p.guard.CheckPriceJump(ctx, auctionID, bidderID, amount, auction.CurrentBid)
	p.guard.CheckWashTrading(ctx, auction, bidderID, opts.BidderEmail, opts.IPAddress)

	if p.audits != nil {
		// Best effort: a failed audit write must not reject the bid.
		_ = p.audits.LogAction(ctx, ActionBidAttempt, bidderID, opts.IPAddress, map[string]any{
			"auction_id": auctionID,
			"amount":     amount.String(),
		})
	}

	rank, err := p.ledger.CalculateBidRank(ctx, auctionID, amount)
	if err != nil {
		return nil, err
	}

	priorWinner, err := p.bids.GetWinning(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load prior winner: %w", err)
	}

	bid := &models.Bid{
		AuctionID: auctionID,
		LotID:     opts.LotID,
		BidderID:  bidderID,
		Amount:    amount,
		Currency:  auction.Currency,
		IsWinning: true,
		CreatedAt: p.now(),
	}

	steps := []SagaStep{
		p.placeWinningBidStep(auction, bid),
		p.advanceCurrentBidStep(auction, amount),
	}
	if _, err := p.saga.Run(ctx, "place_bid", steps); err != nil {
		return nil, err
	}

	// The bid is committed at this point. A failed history append is
	// logged, never propagated: unwinding an accepted bid over its
	// audit trail would lose the auction's real state.
	if err := p.appendLedgerEntries(ctx, auction, bid, rank, opts); err != nil {
		slog.Error("Failed to append bid history",
			slog.Int64("auction_id", auctionID),
			slog.Int64("bid_id", bid.ID),
			slog.Any("error", err))
	}

	auction.CurrentBid = amount
	auction.LastBidTime = bid.CreatedAt
	auction.BidCount++

	if p.notifier != nil {
		p.notifier.NotifyBidPlaced(auction, bid, rank)
		if priorWinner != nil && priorWinner.BidderID != bidderID {
			p.notifier.NotifyOutbid(auction, priorWinner.BidderID, amount)
		}
	}

	return &BidResult{Bid: bid, Auction: auction, Rank: rank}, nil
}

func (p *Pipeline) validateBid(auction *models.Auction, bidderID string, amount decimal.Decimal) error {
	if auction.Status != models.AuctionStatusActive {
		return newValidationError("status", "auction is not active (current status: %s)", auction.Status)
	}

	start, end := auction.BiddingWindow()
	now := p.now()
	if now.Before(start) || !now.Before(end) {
		return newValidationError("timing", "bids are only accepted between %s and %s",
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	if !amount.GreaterThan(auction.CurrentBid) {
		return newValidationError("amount", "bid must exceed the current bid of %s", auction.CurrentBid)
	}

	minValid := auction.CurrentBid.Add(auction.BidIncrement)
	if amount.LessThan(minValid) {
		return newValidationError("amount", "bid must be at least %s (current bid + minimum increment)", minValid)
	}

	if bidderID == auction.SellerID {
		return newValidationError("bidder", "seller cannot bid on their own auction")
	}

	return nil
}

// Step A: demote the prior winner and insert the new winning bid. Rollback
// deletes the inserted bid. The prior winner's flag is not restored: the
// only rollback trigger is losing the CAS in step B, and the competing bid
// that won it installs its own winner.
func (p *Pipeline) placeWinningBidStep(auction *models.Auction, bid *models.Bid) SagaStep {
	return SagaStep{
		Description: "place winning bid",
		Execute: func(ctx context.Context, _ []any) (any, error) {
			if _, err := p.bids.DemoteWinning(ctx, auction.ID); err != nil {
				return nil, err
			}
			if err := p.bids.Insert(ctx, bid); err != nil {
				return nil, err
			}
			return bid.ID, nil
		},
		Rollback: func(ctx context.Context, result any) error {
			return p.bids.Delete(ctx, result.(int64))
		},
	}
}

// Step B: compare-and-swap current_bid. Losing the swap means another bid
// landed between our read and write; the saga fails and unwinds step A.
func (p *Pipeline) advanceCurrentBidStep(auction *models.Auction, amount decimal.Decimal) SagaStep {
	prior := auction.CurrentBid
	return SagaStep{
		Description: "advance current bid",
		Execute: func(ctx context.Context, _ []any) (any, error) {
			err := p.auctions.UpdateCurrentBid(ctx, auction.ID, prior, amount, p.now())
			if errors.Is(err, repositories.ErrStaleUpdate) {
				return nil, newValidationError("amount", "a competing bid was accepted first; refresh and retry")
			}
			return prior, err
		},
		Rollback: func(ctx context.Context, _ any) error {
			return p.auctions.ResetCurrentBid(ctx, auction.ID, amount, prior)
		},
	}
}

// appendLedgerEntries writes the placed entry plus outbid entries for
// recently exceeded competitors.
func (p *Pipeline) appendLedgerEntries(ctx context.Context, auction *models.Auction, bid *models.Bid, rank int, opts BidOptions) error {
	err := p.ledger.RecordBidChange(ctx, BidChange{
		AuctionID: auction.ID,
		BidID:     bid.ID,
		BidderID:  bid.BidderID,
		Amount:    bid.Amount,
		Event:     models.BidEventPlaced,
		Rank:      rank,
		IPAddress: opts.IPAddress,
		UserAgent: opts.UserAgent,
	})
	if err != nil {
		return err
	}

	competing, err := p.bids.ListRecentCompeting(ctx, auction.ID, bid.Amount, p.outbidBackfillLimit)
	if err != nil {
		return err
	}
	for _, c := range competing {
		if c.ID == bid.ID {
			continue
		}
		outbidRank, err := p.ledger.CalculateBidRank(ctx, auction.ID, c.Amount)
		if err != nil {
			return err
		}
		err = p.ledger.RecordBidChange(ctx, BidChange{
			AuctionID: auction.ID,
			BidID:     c.ID,
			BidderID:  c.BidderID,
			Amount:    c.Amount,
			Event:     models.BidEventOutbid,
			Rank:      outbidRank,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// RetractBid flags a bid as retracted; the row is never deleted. If the bid
// was winning, the next-highest non-retracted bid is promoted and
// current_bid reset, unless a concurrent bid already advanced it.
func (p *Pipeline) RetractBid(ctx context.Context, auctionID, bidID int64, bidderID string) error {
	auction, err := p.auctions.GetByID(ctx, auctionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return &NotFoundError{Resource: "auction", ID: auctionID}
		}
		return fmt.Errorf("failed to load auction: %w", err)
	}

	bid, err := p.bids.GetByID(ctx, bidID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return &NotFoundError{Resource: "bid", ID: bidID}
		}
		return fmt.Errorf("failed to load bid: %w", err)
	}

	if bid.AuctionID != auctionID {
		return newValidationError("bid", "bid does not belong to this auction")
	}
	if bid.BidderID != bidderID {
		return newValidationError("bidder", "only the bid's owner may retract it")
	}
	if bid.IsRetracted {
		return newValidationError("bid", "bid is already retracted")
	}
	if auction.Status != models.AuctionStatusActive {
		return newValidationError("status", "bids can only be retracted while the auction is active")
	}

	wasWinning := bid.IsWinning
	if err := p.bids.Retract(ctx, bidID); err != nil {
		return fmt.Errorf("failed to retract bid: %w", err)
	}

	if err := p.ledger.RecordBidChange(ctx, BidChange{
		AuctionID: auctionID,
		BidID:     bidID,
		BidderID:  bidderID,
		Amount:    bid.Amount,
		Event:     models.BidEventRetracted,
	}); err != nil {
		slog.Error("Failed to record retraction in ledger",
			slog.Int64("bid_id", bidID),
			slog.Any("error", err))
	}

	if p.audits != nil {
		_ = p.audits.LogAction(ctx, ActionBidRetracted, bidderID, "", map[string]any{
			"auction_id": auctionID,
			"bid_id":     bidID,
			"amount":     bid.Amount.String(),
		})
	}

	if !wasWinning {
		return nil
	}

	next, err := p.bids.ListActiveByAmountDesc(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("failed to find replacement winner: %w", err)
	}

	replacement := auction.StartingPrice
	if len(next) > 0 {
		replacement = next[0].Amount
	}

	err = p.auctions.ResetCurrentBid(ctx, auctionID, auction.CurrentBid, replacement)
	if errors.Is(err, repositories.ErrStaleUpdate) {
		// A concurrent bid already advanced current_bid and installed its
		// own winner; nothing left to promote.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to reset current bid: %w", err)
	}

	if len(next) > 0 {
		if err := p.bids.SetWinning(ctx, next[0].ID, true); err != nil {
			return fmt.Errorf("failed to promote replacement winner: %w", err)
		}
	}
	return nil
}
