package settlement

import (
	"context"
	"log/slog"

	"github.com/scrapline/bidengine/bidengine/database/models"
	"github.com/scrapline/bidengine/bidengine/database/repositories"
)

// Audit action names. bid_attempt doubles as the shared rate-limit counter.
const (
	ActionBidAttempt      = "bid_attempt"
	ActionBidAccepted     = "bid_accepted"
	ActionBidRetracted    = "bid_retracted"
	ActionAuctionCreated  = "auction_created"
	ActionAuctionClosed   = "auction_closed"
	ActionPriceJumpFlag   = "price_jump_flag"
	ActionWashTradingFlag = "wash_trading_flag"
	ActionCancelSpikeFlag = "cancel_spike_flag"
)

// AuditSink records settlement actions and advisory circuit-breaker flags.
type AuditSink interface {
	LogAction(ctx context.Context, action, userID, ipAddress string, details map[string]any) error
}

// StoreAuditSink persists audit entries through the audit repository.
type StoreAuditSink struct {
	repo repositories.AuditRepository
}

func NewStoreAuditSink(repo repositories.AuditRepository) *StoreAuditSink {
	return &StoreAuditSink{repo: repo}
}

func (s *StoreAuditSink) LogAction(ctx context.Context, action, userID, ipAddress string, details map[string]any) error {
	err := s.repo.Insert(ctx, &models.AuditLog{
		Action:    action,
		UserID:    userID,
		IPAddress: ipAddress,
		Details:   details,
	})
	if err != nil {
		slog.Error("Failed to write audit entry",
			slog.String("action", action),
			slog.String("user_id", userID),
			slog.Any("error", err))
		return err
	}
	return nil
}
