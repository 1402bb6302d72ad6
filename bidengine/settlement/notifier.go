package settlement

import (
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/scrapline/bidengine/bidengine/database/models"
)

// Notifier is the outbound notification collaborator. Delivery (e-mail,
// webhooks) is implemented externally; the engine only emits the events.
type Notifier interface {
	NotifyBidPlaced(auction *models.Auction, bid *models.Bid, rank int)
	NotifyOutbid(auction *models.Auction, outbidBidderID string, newAmount decimal.Decimal)
	NotifyAuctionClosed(auction *models.Auction)
	NotifySettlementReady(auction *models.Auction, winner *models.AuctionWinner)
}

// LogNotifier writes notification events to the structured log. It is the
// default wiring when no delivery integration is configured.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) NotifyBidPlaced(auction *models.Auction, bid *models.Bid, rank int) {
	slog.Info("Bid placed",
		slog.String("auction_number", auction.AuctionNumber),
		slog.String("bidder_id", bid.BidderID),
		slog.String("amount", bid.Amount.String()),
		slog.Int("rank", rank))
}

func (n *LogNotifier) NotifyOutbid(auction *models.Auction, outbidBidderID string, newAmount decimal.Decimal) {
	slog.Info("Bidder outbid",
		slog.String("auction_number", auction.AuctionNumber),
		slog.String("outbid_bidder_id", outbidBidderID),
		slog.String("new_amount", newAmount.String()))
}

func (n *LogNotifier) NotifyAuctionClosed(auction *models.Auction) {
	slog.Info("Auction closed",
		slog.String("auction_number", auction.AuctionNumber),
		slog.String("status", string(auction.Status)),
		slog.String("winning_buyer_id", auction.WinningBuyerID))
}

func (n *LogNotifier) NotifySettlementReady(auction *models.Auction, winner *models.AuctionWinner) {
	slog.Info("Settlement ready",
		slog.String("auction_number", auction.AuctionNumber),
		slog.String("buyer_id", winner.BuyerID),
		slog.String("total_amount", winner.TotalAmount.String()))
}
