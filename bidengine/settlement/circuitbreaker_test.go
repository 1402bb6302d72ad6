package settlement

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrapline/bidengine/bidengine/database/models"
)

func auditActions(env *testEnv, action string) []*models.AuditLog {
	var matched []*models.AuditLog
	for _, entry := range env.store.audits {
		if entry.Action == action {
			matched = append(matched, entry)
		}
	}
	return matched
}

func TestGuard_CheckPriceJump(t *testing.T) {
	tests := []struct {
		name     string
		previous int64
		next     int64
		flagged  bool
	}{
		{name: "exact_threshold_not_flagged", previous: 10000, next: 11000, flagged: false},
		{name: "above_threshold_flagged", previous: 10000, next: 12000, flagged: true},
		{name: "small_increase_not_flagged", previous: 10000, next: 10500, flagged: false},
		{name: "zero_previous_not_flagged", previous: 0, next: 5000, flagged: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			flagged := env.guard.CheckPriceJump(context.Background(), 1, "buyer-1",
				decimal.NewFromInt(tt.next), decimal.NewFromInt(tt.previous))

			assert.Equal(t, tt.flagged, flagged)
			flags := auditActions(env, ActionPriceJumpFlag)
			if tt.flagged {
				require.Len(t, flags, 1)
				assert.Equal(t, "buyer-1", flags[0].UserID)
			} else {
				assert.Empty(t, flags)
			}
		})
	}
}

func TestGuard_CheckWashTrading_SharedEmailDomain(t *testing.T) {
	env := newTestEnv()
	auction := env.activeAuction(10000, 500)

	flagged := env.guard.CheckWashTrading(context.Background(), auction,
		"buyer-1", "purchasing@ironridge-metals.com", "")
	assert.True(t, flagged)

	flags := auditActions(env, ActionWashTradingFlag)
	require.Len(t, flags, 1)
	assert.Equal(t, "shared_email_domain", flags[0].Details["signal"])
}

func TestGuard_CheckWashTrading_DistinctDomainsClean(t *testing.T) {
	env := newTestEnv()
	auction := env.activeAuction(10000, 500)

	flagged := env.guard.CheckWashTrading(context.Background(), auction,
		"buyer-1", "buyer@othermetals.com", "")
	assert.False(t, flagged)
	assert.Empty(t, auditActions(env, ActionWashTradingFlag))
}

func TestGuard_CheckWashTrading_SharedOrigin(t *testing.T) {
	env := newTestEnv()
	auction := env.activeAuction(10000, 500)
	ctx := context.Background()

	// First bidder from the address: clean.
	flagged := env.guard.CheckWashTrading(ctx, auction, "buyer-1", "a@one.com", "198.51.100.7")
	assert.False(t, flagged)

	// A different bidder from the same address in the same auction: flagged.
	flagged = env.guard.CheckWashTrading(ctx, auction, "buyer-2", "b@two.com", "198.51.100.7")
	assert.True(t, flagged)

	flags := auditActions(env, ActionWashTradingFlag)
	require.Len(t, flags, 1)
	assert.Equal(t, "shared_origin_address", flags[0].Details["signal"])
}

func TestGuard_CheckWashTrading_SharedOriginFromHistory(t *testing.T) {
	env := newTestEnv()
	auction := env.activeAuction(10000, 500)
	ctx := context.Background()

	// History rows from a previous process: the in-memory cache is cold but
	// the ledger already shows two bidders on the address.
	for _, bidder := range []string{"buyer-1", "buyer-2"} {
		require.NoError(t, env.history.Append(ctx, &models.BidHistoryEntry{
			AuctionID: auction.ID,
			BidderID:  bidder,
			Amount:    decimal.NewFromInt(10500),
			Event:     models.BidEventPlaced,
			IPAddress: "198.51.100.7",
		}))
	}

	flagged := env.guard.CheckWashTrading(ctx, auction, "buyer-3", "c@three.com", "198.51.100.7")
	assert.True(t, flagged)
}

func TestGuard_CheckSellerCancellation(t *testing.T) {
	tests := []struct {
		name     string
		starting int64
		current  int64
		flagged  bool
	}{
		{name: "no_rise", starting: 10000, current: 10000, flagged: false},
		{name: "modest_rise", starting: 10000, current: 11500, flagged: false},
		{name: "exact_threshold", starting: 10000, current: 12000, flagged: false},
		{name: "spike", starting: 10000, current: 12500, flagged: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			auction := env.activeAuction(tt.starting, 500)
			auction.CurrentBid = decimal.NewFromInt(tt.current)

			flagged := env.guard.CheckSellerCancellation(context.Background(), auction)
			assert.Equal(t, tt.flagged, flagged)

			flags := auditActions(env, ActionCancelSpikeFlag)
			if tt.flagged {
				require.Len(t, flags, 1)
				assert.Equal(t, auction.SellerID, flags[0].UserID)
			} else {
				assert.Empty(t, flags)
			}
		})
	}
}

func TestGuard_AdvisoryChecksNeverError(t *testing.T) {
	// Advisory checks return a flag, never an error: nothing in their
	// signatures can reject the triggering operation.
	env := newTestEnv()
	auction := env.activeAuction(10000, 500)

	_ = env.guard.CheckPriceJump(context.Background(), auction.ID, "buyer-1",
		decimal.NewFromInt(50000), decimal.NewFromInt(10000))
	_ = env.guard.CheckWashTrading(context.Background(), auction, "buyer-1", "", "")
	_ = env.guard.CheckSellerCancellation(context.Background(), auction)
}
