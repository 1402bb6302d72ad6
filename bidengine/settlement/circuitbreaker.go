package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"github.com/shopspring/decimal"

	"github.com/scrapline/bidengine/bidengine/database/models"
	"github.com/scrapline/bidengine/bidengine/database/repositories"
)

const originCacheSize = 2048

// Guard runs the anti-manipulation checks around bid acceptance. Only the
// rate check is a hard gate; every other check flags for offline review and
// never blocks the triggering operation.
type Guard struct {
	limiter RateLimiter
	audits  AuditSink
	history repositories.BidHistoryRepository

	// Bidders seen per (auction, origin address), so repeated wash-trade
	// checks on a hot auction do not hit the history table every time.
	originCache *lru.Cache

	priceJumpThresholdPct   decimal.Decimal
	cancelSpikeThresholdPct decimal.Decimal
}

func NewGuard(limiter RateLimiter, audits AuditSink, history repositories.BidHistoryRepository, priceJumpPct, cancelSpikePct float64) *Guard {
	cache, _ := lru.New(originCacheSize)
	return &Guard{
		limiter:                 limiter,
		audits:                  audits,
		history:                 history,
		originCache:             cache,
		priceJumpThresholdPct:   decimal.NewFromFloat(priceJumpPct),
		cancelSpikeThresholdPct: decimal.NewFromFloat(cancelSpikePct),
	}
}

// CheckBidRate is the hard gate: a limited decision must reject the bid with
// the decision's RetryAfter.
func (g *Guard) CheckBidRate(ctx context.Context, userID string) (RateDecision, error) {
	return g.limiter.Check(ctx, userID)
}

// CheckPriceJump flags a new bid exceeding the previous one by more than the
// configured percentage. Advisory only.
func (g *Guard) CheckPriceJump(ctx context.Context, auctionID int64, bidderID string, newBid, previousBid decimal.Decimal) bool {
	if previousBid.IsZero() || !newBid.GreaterThan(previousBid) {
		return false
	}

	jumpPct := newBid.Sub(previousBid).
		Div(previousBid).
		Mul(decimal.NewFromInt(100))
	if !jumpPct.GreaterThan(g.priceJumpThresholdPct) {
		return false
	}

	slog.Warn("Price jump flagged",
		slog.Int64("auction_id", auctionID),
		slog.String("bidder_id", bidderID),
		slog.String("previous_bid", previousBid.String()),
		slog.String("new_bid", newBid.String()),
		slog.String("jump_pct", jumpPct.StringFixed(2)))

	g.logFlag(ctx, ActionPriceJumpFlag, bidderID, "", map[string]any{
		"auction_id":   auctionID,
		"previous_bid": previousBid.String(),
		"new_bid":      newBid.String(),
		"jump_pct":     jumpPct.StringFixed(2),
	})
	return true
}

// CheckWashTrading flags collusion signals: bidder and seller sharing an
// e-mail domain, or distinct bidders arriving from one origin address within
// the same auction. Advisory only.
func (g *Guard) CheckWashTrading(ctx context.Context, auction *models.Auction, bidderID, bidderEmail, ipAddress string) bool {
	flagged := false

	if domain := emailDomain(bidderEmail); domain != "" && domain == emailDomain(auction.SellerEmail) {
		flagged = true
		g.logFlag(ctx, ActionWashTradingFlag, bidderID, ipAddress, map[string]any{
			"auction_id": auction.ID,
			"signal":     "shared_email_domain",
			"domain":     domain,
		})
	}

	if ipAddress != "" && g.sharedOrigin(ctx, auction.ID, bidderID, ipAddress) {
		flagged = true
		g.logFlag(ctx, ActionWashTradingFlag, bidderID, ipAddress, map[string]any{
			"auction_id": auction.ID,
			"signal":     "shared_origin_address",
		})
	}

	return flagged
}

// CheckSellerCancellation flags an auction cancelled after its price rose
// more than the configured percentage above the starting price, a spoofing
// signal for offline review. Advisory only.
func (g *Guard) CheckSellerCancellation(ctx context.Context, auction *models.Auction) bool {
	if auction.StartingPrice.IsZero() || !auction.CurrentBid.GreaterThan(auction.StartingPrice) {
		return false
	}

	risePct := auction.CurrentBid.Sub(auction.StartingPrice).
		Div(auction.StartingPrice).
		Mul(decimal.NewFromInt(100))
	if !risePct.GreaterThan(g.cancelSpikeThresholdPct) {
		return false
	}

	slog.Warn("Seller cancellation after price spike flagged",
		slog.Int64("auction_id", auction.ID),
		slog.String("seller_id", auction.SellerID),
		slog.String("rise_pct", risePct.StringFixed(2)))

	g.logFlag(ctx, ActionCancelSpikeFlag, auction.SellerID, "", map[string]any{
		"auction_id":     auction.ID,
		"starting_price": auction.StartingPrice.String(),
		"current_bid":    auction.CurrentBid.String(),
		"rise_pct":       risePct.StringFixed(2),
	})
	return true
}

func (g *Guard) sharedOrigin(ctx context.Context, auctionID int64, bidderID, ipAddress string) bool {
	key := fmt.Sprintf("%d|%s", auctionID, ipAddress)

	var seen map[string]struct{}
	if cached, ok := g.originCache.Get(key); ok {
		seen = cached.(map[string]struct{})
	} else {
		seen = make(map[string]struct{})
		g.originCache.Add(key, seen)
	}

	shared := false
	for other := range seen {
		if other != bidderID {
			shared = true
			break
		}
	}

	if !shared {
		distinct, err := g.history.CountDistinctBiddersFromIP(ctx, auctionID, ipAddress)
		if err != nil {
			slog.Error("Failed to query bid origins",
				slog.Int64("auction_id", auctionID),
				slog.Any("error", err))
		} else if distinct >= 2 {
			shared = true
		}
	}

	seen[bidderID] = struct{}{}
	return shared
}

func (g *Guard) logFlag(ctx context.Context, action, userID, ipAddress string, details map[string]any) {
	if g.audits == nil {
		return
	}
	if err := g.audits.LogAction(ctx, action, userID, ipAddress, details); err != nil {
		slog.Error("Failed to record circuit breaker flag",
			slog.String("action", action),
			slog.Any("error", err))
	}
}

func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}
