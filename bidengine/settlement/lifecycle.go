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

// Closed enumerations for the scrap materials traded on the platform.
var validMaterialTypes = map[string]bool{
	"hms_1":     true,
	"hms_2":     true,
	"shredded":  true,
	"busheling": true,
	"cast_iron": true,
	"copper":    true,
	"aluminum":  true,
	"brass":     true,
	"stainless": true,
	"lead":      true,
}

var validGrades = map[string]bool{
	"grade_a": true,
	"grade_b": true,
	"grade_c": true,
	"mixed":   true,
}

var validAuctionTypes = map[models.AuctionType]bool{
	models.AuctionTypeEnglish:   true,
	models.AuctionTypeDutch:     true,
	models.AuctionTypeSealedBid: true,
	models.AuctionTypeReverse:   true,
}

var validStatuses = map[models.AuctionStatus]bool{
	models.AuctionStatusDraft:     true,
	models.AuctionStatusScheduled: true,
	models.AuctionStatusActive:    true,
	models.AuctionStatusClosed:    true,
	models.AuctionStatusCompleted: true,
	models.AuctionStatusCancelled: true,
}

type LotInput struct {
	MaterialType string
	Grade        string
	Quantity     decimal.Decimal
}

type CreateAuctionInput struct {
	SellerID    string
	SellerEmail string
	Type        models.AuctionType

	MaterialType  string
	Grade         string
	QuantityTotal decimal.Decimal

	StartingPrice decimal.Decimal
	ReservePrice  decimal.Decimal
	BidIncrement  decimal.Decimal
	Currency      string

	// Requested initial status: draft (default) or active.
	Status    models.AuctionStatus
	LaunchNow bool

	// Concrete window for LaunchNow.
	StartTime time.Time
	EndTime   time.Time

	ScheduledStart time.Time
	ScheduledEnd   time.Time

	Lots []LotInput
}

// Lifecycle drives the auction state machine:
// draft -> scheduled -> active -> closed -> completed, with cancelled
// reachable from draft, scheduled, and active. Transitions are explicit
// calls; nothing inside fires on a timer.
type Lifecycle struct {
	auctions repositories.AuctionRepository
	lots     repositories.LotRepository
	resolver *Resolver
	guard    *Guard
	numbers  *AuctionNumberGenerator
	audits   AuditSink
	notifier Notifier
	saga     *SagaExecutor
	now      func() time.Time
}

func NewLifecycle(
	auctions repositories.AuctionRepository,
	lots repositories.LotRepository,
	resolver *Resolver,
	guard *Guard,
	audits AuditSink,
	notifier Notifier,
) *Lifecycle {
	return &Lifecycle{
		auctions: auctions,
		lots:     lots,
		resolver: resolver,
		guard:    guard,
		numbers:  NewAuctionNumberGenerator(auctions),
		audits:   audits,
		notifier: notifier,
		saga:     NewSagaExecutor(),
		now:      time.Now,
	}
}

// Create validates the input, issues an auction number, and writes the
// auction plus its optional lot rows as one compensating transaction: a
// failed lot insert deletes the auction row again.
func (l *Lifecycle) Create(ctx context.Context, input CreateAuctionInput) (*models.Auction, error) {
	if err := l.validateCreate(&input); err != nil {
		return nil, err
	}

	number, err := l.numbers.Next(ctx)
	if err != nil {
		return nil, err
	}

	auction := l.buildAuction(input, number)

	steps := []SagaStep{
		{
			Description: "insert auction row",
			Execute: func(ctx context.Context, _ []any) (any, error) {
				if err := l.auctions.Create(ctx, auction); err != nil {
					return nil, err
				}
				return auction.ID, nil
			},
			Rollback: func(ctx context.Context, result any) error {
				return l.auctions.Delete(ctx, result.(int64))
			},
		},
		{
			Description: "insert lot rows",
			Execute: func(ctx context.Context, _ []any) (any, error) {
				lots := make([]*models.AuctionLot, 0, len(input.Lots))
				for i, lot := range input.Lots {
					lots = append(lots, &models.AuctionLot{
						AuctionID:    auction.ID,
						LotNumber:    i + 1,
						MaterialType: lot.MaterialType,
						Grade:        lot.Grade,
						Quantity:     lot.Quantity,
					})
				}
				if err := l.lots.InsertBatch(ctx, lots); err != nil {
					return nil, err
				}
				return len(lots), nil
			},
			Rollback: func(ctx context.Context, _ any) error {
				return l.lots.DeleteByAuction(ctx, auction.ID)
			},
		},
	}
	if _, err := l.saga.Run(ctx, "create_auction", steps); err != nil {
		return nil, err
	}

	slog.Info("Auction created",
		slog.String("auction_number", auction.AuctionNumber),
		slog.String("seller_id", auction.SellerID),
		slog.String("status", string(auction.Status)))

	if l.audits != nil {
		_ = l.audits.LogAction(ctx, ActionAuctionCreated, input.SellerID, "", map[string]any{
			"auction_id":     auction.ID,
			"auction_number": auction.AuctionNumber,
			"material_type":  auction.MaterialType,
		})
	}

	return auction, nil
}

func (l *Lifecycle) validateCreate(input *CreateAuctionInput) error {
	if !validMaterialTypes[input.MaterialType] {
		return newValidationError("material_type", "unknown material type %q", input.MaterialType)
	}
	if !validGrades[input.Grade] {
		return newValidationError("grade", "unknown grade %q", input.Grade)
	}
	if !validAuctionTypes[input.Type] {
		return newValidationError("auction_type", "unknown auction type %q", input.Type)
	}
	for i, lot := range input.Lots {
		if !validMaterialTypes[lot.MaterialType] {
			return newValidationError("lots", "lot %d has unknown material type %q", i+1, lot.MaterialType)
		}
		if !validGrades[lot.Grade] {
			return newValidationError("lots", "lot %d has unknown grade %q", i+1, lot.Grade)
		}
		if !lot.Quantity.IsPositive() {
			return newValidationError("lots", "lot %d quantity must be positive", i+1)
		}
	}

	if !input.QuantityTotal.IsPositive() {
		return newValidationError("quantity_total", "quantity must be positive")
	}
	if !input.StartingPrice.IsPositive() {
		return newValidationError("starting_price", "starting price must be positive")
	}
	if !input.BidIncrement.IsPositive() {
		return newValidationError("bid_increment", "bid increment must be positive")
	}
	if input.ReservePrice.IsNegative() {
		return newValidationError("reserve_price", "reserve price cannot be negative")
	}
	if input.Currency == "" {
		input.Currency = "USD"
	}

	if input.Status == "" {
		input.Status = models.AuctionStatusDraft
	}
	switch input.Status {
	case models.AuctionStatusDraft, models.AuctionStatusScheduled, models.AuctionStatusActive:
	default:
		return newValidationError("status", "auctions can only be created as draft, scheduled, or active")
	}

	now := l.now()
	if input.LaunchNow {
		if input.StartTime.IsZero() || input.EndTime.IsZero() {
			return newValidationError("timing", "launch_now requires concrete start and end times")
		}
		if !input.StartTime.Before(input.EndTime) {
			return newValidationError("timing", "start time must be before end time")
		}
		if input.StartTime.Before(now) {
			return newValidationError("timing", "start time cannot be in the past")
		}
	} else if input.Status == models.AuctionStatusActive {
		if input.ScheduledStart.IsZero() || input.ScheduledEnd.IsZero() {
			return newValidationError("timing", "an active auction requires a scheduled window")
		}
		if !input.ScheduledStart.Before(input.ScheduledEnd) {
			return newValidationError("timing", "scheduled start must be before scheduled end")
		}
	}

	return nil
}

func (l *Lifecycle) buildAuction(input CreateAuctionInput, number string) *models.Auction {
	auction := &models.Auction{
		AuctionNumber:      number,
		SellerID:           input.SellerID,
		SellerEmail:        input.SellerEmail,
		Type:               input.Type,
		Status:             input.Status,
		VerificationStatus: models.VerificationPending,
		MaterialType:       input.MaterialType,
		Grade:              input.Grade,
		QuantityTotal:      input.QuantityTotal,
		QuantityRemaining:  input.QuantityTotal,
		StartingPrice:      input.StartingPrice,
		ReservePrice:       input.ReservePrice,
		CurrentBid:         input.StartingPrice,
		BidIncrement:       input.BidIncrement,
		Currency:           input.Currency,
		ScheduledStart:     input.ScheduledStart,
		ScheduledEnd:       input.ScheduledEnd,
	}

	if input.LaunchNow {
		auction.Status = models.AuctionStatusActive
		auction.StartTime = input.StartTime
		auction.EndTime = input.EndTime
		if auction.ScheduledStart.IsZero() {
			auction.ScheduledStart = input.StartTime
			auction.ScheduledEnd = input.EndTime
		}
	}

	return auction
}

// Launch moves a draft or scheduled auction with a scheduled window into
// active, copying the window into the legacy start/end fields.
func (l *Lifecycle) Launch(ctx context.Context, auctionID int64) (*models.Auction, error) {
	auction, err := l.getAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	if auction.Status != models.AuctionStatusDraft && auction.Status != models.AuctionStatusScheduled {
		return nil, newValidationError("status", "only draft or scheduled auctions can be launched (current status: %s)", auction.Status)
	}
	if auction.ScheduledStart.IsZero() || auction.ScheduledEnd.IsZero() {
		return nil, newValidationError("timing", "auction has no scheduled window")
	}

	if err := l.auctions.Launch(ctx, auctionID, auction.ScheduledStart, auction.ScheduledEnd); err != nil {
		return nil, fmt.Errorf("failed to launch auction: %w", err)
	}

	auction.Status = models.AuctionStatusActive
	auction.StartTime = auction.ScheduledStart
	auction.EndTime = auction.ScheduledEnd

	slog.Info("Auction launched",
		slog.String("auction_number", auction.AuctionNumber),
		slog.Time("start", auction.StartTime),
		slog.Time("end", auction.EndTime))

	return auction, nil
}

// Schedule sets the auction's window. The auction stays in draft; Launch is
// the transition that activates it.
func (l *Lifecycle) Schedule(ctx context.Context, auctionID int64, start, end time.Time) (*models.Auction, error) {
	auction, err := l.getAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	if !end.After(start) {
		return nil, newValidationError("timing", "end must be after start")
	}
	if start.Before(l.now()) {
		return nil, newValidationError("timing", "start cannot be in the past")
	}
	if auction.Status != models.AuctionStatusDraft {
		return nil, newValidationError("status", "only draft auctions can be scheduled (current status: %s)", auction.Status)
	}

	if err := l.auctions.Schedule(ctx, auctionID, start, end); err != nil {
		return nil, fmt.Errorf("failed to schedule auction: %w", err)
	}

	auction.ScheduledStart = start
	auction.ScheduledEnd = end
	return auction, nil
}

// Close settles the auction: if the reserve is unmet the auction closes
// without a winner; otherwise the winner is determined, the auction row
// records the award, and quantity_remaining drops by the awarded quantity.
func (l *Lifecycle) Close(ctx context.Context, auctionID int64) (_ *models.Auction, retErr error) {
	start := time.Now()
	defer func() { logger.LogOperation("close_auction", time.Since(start), retErr) }()

	auction, err := l.getAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	if auction.Status == models.AuctionStatusClosed || auction.Status == models.AuctionStatusCompleted {
		return nil, newValidationError("status", "auction is already %s", auction.Status)
	}

	reserveMet, err := l.resolver.CheckReservePrice(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if !reserveMet {
		return l.closeWithoutWinner(ctx, auction, "reserve_not_met")
	}

	result, err := l.resolver.DetermineWinner(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if len(result.Winners) == 0 {
		return l.closeWithoutWinner(ctx, auction, "no_bids")
	}

	winner := result.Winners[0]
	remaining := auction.QuantityRemaining.Sub(winner.QuantityWon)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}

	err = l.auctions.CloseWithWinner(ctx, auctionID, winner.BidID, winner.BuyerID, winner.PricePerUnit, remaining)
	if err != nil {
		return nil, fmt.Errorf("failed to close auction: %w", err)
	}

	auction.Status = models.AuctionStatusClosed
	auction.WinningBidID = winner.BidID
	auction.WinningBuyerID = winner.BuyerID
	auction.FinalPrice = winner.PricePerUnit
	auction.QuantityRemaining = remaining

	slog.Info("Auction closed with winner",
		slog.String("auction_number", auction.AuctionNumber),
		slog.String("buyer_id", winner.BuyerID),
		slog.String("final_price", winner.PricePerUnit.String()),
		slog.String("quantity_won", winner.QuantityWon.String()))

	if l.audits != nil {
		_ = l.audits.LogAction(ctx, ActionAuctionClosed, auction.SellerID, "", map[string]any{
			"auction_id":  auctionID,
			"winner_id":   winner.BuyerID,
			"final_price": winner.PricePerUnit.String(),
		})
	}
	if l.notifier != nil {
		l.notifier.NotifyAuctionClosed(auction)
		l.notifier.NotifySettlementReady(auction, winner)
	}

	return auction, nil
}

func (l *Lifecycle) closeWithoutWinner(ctx context.Context, auction *models.Auction, reason string) (*models.Auction, error) {
	if err := l.auctions.CloseNoWinner(ctx, auction.ID); err != nil {
		return nil, fmt.Errorf("failed to close auction: %w", err)
	}

	auction.Status = models.AuctionStatusClosed

	slog.Info("Auction closed without winner",
		slog.String("auction_number", auction.AuctionNumber),
		slog.String("reason", reason))

	if l.audits != nil {
		_ = l.audits.LogAction(ctx, ActionAuctionClosed, auction.SellerID, "", map[string]any{
			"auction_id": auction.ID,
			"reason":     reason,
		})
	}
	if l.notifier != nil {
		l.notifier.NotifyAuctionClosed(auction)
	}

	return auction, nil
}

// Cancel is the seller-initiated path to cancelled. The
// cancellation-after-spike circuit breaker runs first; like every advisory
// check it flags and never blocks.
func (l *Lifecycle) Cancel(ctx context.Context, auctionID int64, requesterID string) (*models.Auction, error) {
	auction, err := l.getAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	if auction.SellerID != requesterID {
		return nil, newValidationError("requester", "only the seller can cancel the auction")
	}
	switch auction.Status {
	case models.AuctionStatusDraft, models.AuctionStatusScheduled, models.AuctionStatusActive:
	default:
		return nil, newValidationError("status", "cannot cancel a %s auction", auction.Status)
	}

	if l.guard != nil {
		l.guard.CheckSellerCancellation(ctx, auction)
	}

	if err := l.auctions.UpdateStatus(ctx, auctionID, models.AuctionStatusCancelled); err != nil {
		return nil, fmt.Errorf("failed to cancel auction: %w", err)
	}

	auction.Status = models.AuctionStatusCancelled
	return auction, nil
}

// UpdateStatus is the administrative override: it validates the target
// status name and nothing else. Intentionally permissive so operators can
// repair stuck auctions.
func (l *Lifecycle) UpdateStatus(ctx context.Context, auctionID int64, status models.AuctionStatus) (*models.Auction, error) {
	if !validStatuses[status] {
		return nil, newValidationError("status", "unknown status %q", status)
	}

	auction, err := l.getAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	if err := l.auctions.UpdateStatus(ctx, auctionID, status); err != nil {
		return nil, fmt.Errorf("failed to update auction status: %w", err)
	}

	slog.Info("Auction status overridden",
		slog.String("auction_number", auction.AuctionNumber),
		slog.String("from", string(auction.Status)),
		slog.String("to", string(status)))

	auction.Status = status
	return auction, nil
}

func (l *Lifecycle) getAuction(ctx context.Context, auctionID int64) (*models.Auction, error) {
	auction, err := l.auctions.GetByID(ctx, auctionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, &NotFoundError{Resource: "auction", ID: auctionID}
		}
		return nil, fmt.Errorf("failed to load auction: %w", err)
	}
	return auction, nil
}
