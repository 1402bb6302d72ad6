package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/scrapline/bidengine/bidengine/database/repositories"
)

// AuctionNumberGenerator issues human-readable auction numbers of the form
// AU-YYYYMMDD-NNN, where NNN is a per-day sequence. Concurrent creations can
// draw the same sequence; the unique constraint on auction_number rejects
// the loser, whose creation saga then rolls back.
type AuctionNumberGenerator struct {
	auctions repositories.AuctionRepository
	now      func() time.Time
}

func NewAuctionNumberGenerator(auctions repositories.AuctionRepository) *AuctionNumberGenerator {
	return &AuctionNumberGenerator{auctions: auctions, now: time.Now}
}

func (g *AuctionNumberGenerator) Next(ctx context.Context) (string, error) {
	prefix := fmt.Sprintf("AU-%s-", g.now().UTC().Format("20060102"))

	max, err := g.auctions.MaxNumberSequence(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("failed to find max auction sequence: %w", err)
	}
	return fmt.Sprintf("%s%03d", prefix, max+1), nil
}
