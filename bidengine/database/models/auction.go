package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type AuctionStatus string

const (
	AuctionStatusDraft     AuctionStatus = "draft"
	AuctionStatusScheduled AuctionStatus = "scheduled"
	AuctionStatusActive    AuctionStatus = "active"
	AuctionStatusClosed    AuctionStatus = "closed"
	AuctionStatusCompleted AuctionStatus = "completed"
	AuctionStatusCancelled AuctionStatus = "cancelled"
)

type AuctionType string

const (
	AuctionTypeEnglish   AuctionType = "english"
	AuctionTypeDutch     AuctionType = "dutch"
	AuctionTypeSealedBid AuctionType = "sealed_bid"
	AuctionTypeReverse   AuctionType = "reverse"
)

type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationFlagged  VerificationStatus = "flagged"
	VerificationVerified VerificationStatus = "verified"
)

type Auction struct {
	bun.BaseModel `bun:"table:auctions,alias:a"`

	ID            int64       `bun:"id,pk,autoincrement"`
	AuctionNumber string      `bun:"auction_number,notnull,unique"`
	SellerID      string      `bun:"seller_id,notnull"`
	SellerEmail   string      `bun:"seller_email"`
	Type          AuctionType `bun:"auction_type,notnull"`

	Status             AuctionStatus      `bun:"status,notnull"`
	VerificationStatus VerificationStatus `bun:"verification_status,notnull,default:'pending'"`

	MaterialType      string          `bun:"material_type,notnull"`
	Grade             string          `bun:"grade,notnull"`
	QuantityTotal     decimal.Decimal `bun:"quantity_total,notnull,type:numeric(20,3)"`
	QuantityRemaining decimal.Decimal `bun:"quantity_remaining,notnull,type:numeric(20,3)"`

	StartingPrice decimal.Decimal `bun:"starting_price,notnull,type:numeric(20,2)"`
	// Zero reserve means no reserve is set.
	ReservePrice decimal.Decimal `bun:"reserve_price,nullzero,type:numeric(20,2)"`
	CurrentBid   decimal.Decimal `bun:"current_bid,notnull,type:numeric(20,2)"`
	BidIncrement decimal.Decimal `bun:"bid_increment,notnull,type:numeric(20,2)"`
	Currency     string          `bun:"currency,notnull"`

	ScheduledStart time.Time `bun:"scheduled_start,nullzero"`
	ScheduledEnd   time.Time `bun:"scheduled_end,nullzero"`
	// Legacy active-window fields, populated on launch.
	StartTime time.Time `bun:"start_time,nullzero"`
	EndTime   time.Time `bun:"end_time,nullzero"`

	WinningBidID   int64           `bun:"winning_bid_id,nullzero"`
	WinningBuyerID string          `bun:"winning_buyer_id,nullzero"`
	FinalPrice     decimal.Decimal `bun:"final_price,nullzero,type:numeric(20,2)"`

	LastBidTime time.Time `bun:"last_bid_time,nullzero"`
	BidCount    int       `bun:"bid_count"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// HasReserve reports whether a reserve price is set on the auction.
func (a *Auction) HasReserve() bool {
	return !a.ReservePrice.IsZero()
}

// BiddingWindow returns the effective window bids are accepted in. The
// scheduled fields take precedence; legacy start/end fields are the fallback
// for auctions launched before scheduling existed.
func (a *Auction) BiddingWindow() (time.Time, time.Time) {
	if !a.ScheduledStart.IsZero() && !a.ScheduledEnd.IsZero() {
		return a.ScheduledStart, a.ScheduledEnd
	}
	return a.StartTime, a.EndTime
}

// AuctionLot is an optional line item under an auction, written together with
// the auction row during creation.
type AuctionLot struct {
	bun.BaseModel `bun:"table:auction_lots,alias:al"`

	ID           int64           `bun:"id,pk,autoincrement"`
	AuctionID    int64           `bun:"auction_id,notnull"`
	LotNumber    int             `bun:"lot_number,notnull"`
	MaterialType string          `bun:"material_type,notnull"`
	Grade        string          `bun:"grade,notnull"`
	Quantity     decimal.Decimal `bun:"quantity,notnull,type:numeric(20,3)"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
