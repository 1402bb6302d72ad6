package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type Bid struct {
	bun.BaseModel `bun:"table:bids,alias:b"`

	ID        int64           `bun:"id,pk,autoincrement"`
	AuctionID int64           `bun:"auction_id,notnull"`
	// LotID targets a specific lot within the auction; zero bids on the
	// auction as a whole.
	LotID    int64           `bun:"lot_id,nullzero"`
	BidderID string          `bun:"bidder_id,notnull"`
	Amount   decimal.Decimal `bun:"amount,notnull,type:numeric(20,2)"`
	Currency string          `bun:"currency,notnull"`

	// At most one non-retracted bid per auction carries is_winning = true.
	IsWinning   bool `bun:"is_winning,notnull,default:false"`
	IsRetracted bool `bun:"is_retracted,notnull,default:false"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

type BidEvent string

const (
	BidEventPlaced    BidEvent = "placed"
	BidEventOutbid    BidEvent = "outbid"
	BidEventWon       BidEvent = "won"
	BidEventRetracted BidEvent = "retracted"
)

// BidHistoryEntry is the append-only ledger row. Rows are never updated or
// deleted once written.
type BidHistoryEntry struct {
	bun.BaseModel `bun:"table:bid_history,alias:bh"`

	ID             int64           `bun:"id,pk,autoincrement"`
	AuctionID      int64           `bun:"auction_id,notnull"`
	BidID          int64           `bun:"bid_id,notnull"`
	BidderID       string          `bun:"bidder_id,notnull"`
	Amount         decimal.Decimal `bun:"amount,notnull,type:numeric(20,2)"`
	TotalBidAmount decimal.Decimal `bun:"total_bid_amount,notnull,type:numeric(20,2)"`
	Event          BidEvent        `bun:"event,notnull"`
	RankAtTime     int             `bun:"rank_at_time,notnull"`
	IPAddress      string          `bun:"ip_address,nullzero"`
	UserAgent      string          `bun:"user_agent,nullzero"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

type WinnerStatus string

const (
	WinnerStatusPendingSettlement WinnerStatus = "pending_settlement"
	WinnerStatusSettled           WinnerStatus = "settled"
)

// AuctionWinner is created once per closed auction that met its reserve.
type AuctionWinner struct {
	bun.BaseModel `bun:"table:auction_winners,alias:aw"`

	ID           int64           `bun:"id,pk,autoincrement"`
	AuctionID    int64           `bun:"auction_id,notnull,unique"`
	BidID        int64           `bun:"bid_id,notnull"`
	BuyerID      string          `bun:"buyer_id,notnull"`
	QuantityWon  decimal.Decimal `bun:"quantity_won,notnull,type:numeric(20,3)"`
	PricePerUnit decimal.Decimal `bun:"price_per_unit,notnull,type:numeric(20,2)"`
	TotalAmount  decimal.Decimal `bun:"total_amount,notnull,type:numeric(20,2)"`
	Status       WinnerStatus    `bun:"status,notnull"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
