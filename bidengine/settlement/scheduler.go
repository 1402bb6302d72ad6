package settlement

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/scrapline/bidengine/bidengine/database/repositories"
	"github.com/scrapline/bidengine/bidengine/logger"
)

const maxConcurrentSettlements = 4

// Scheduler drives the time-based auction transitions on a ticker: draft or
// scheduled auctions whose window has opened are launched, and active
// auctions whose window has closed are settled.
type Scheduler struct {
	auctions  repositories.AuctionRepository
	lifecycle *Lifecycle
	ticker    *time.Ticker
	sem       *semaphore.Weighted
	shutdown  chan struct{}
	now       func() time.Time
}

func NewScheduler(auctions repositories.AuctionRepository, lifecycle *Lifecycle, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Scheduler{
		auctions:  auctions,
		lifecycle: lifecycle,
		ticker:    time.NewTicker(interval),
		sem:       semaphore.NewWeighted(maxConcurrentSettlements),
		shutdown:  make(chan struct{}),
		now:       time.Now,
	}
}

// Start begins the background sweep loop.
func (s *Scheduler) Start() {
	go s.run()
}

func (s *Scheduler) run() {
	defer s.ticker.Stop()

	for {
		select {
		case <-s.ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

			if err := s.launchDueAuctions(ctx); err != nil {
				logger.LogError("Failed to launch due auctions", err)
			}
			if err := s.closeExpiredAuctions(ctx); err != nil {
				logger.LogError("Failed to close expired auctions", err)
			}

			cancel()
		case <-s.shutdown:
			return
		}
	}
}

func (s *Scheduler) launchDueAuctions(ctx context.Context) error {
	due, err := s.auctions.ListDueForLaunch(ctx, s.now())
	if err != nil {
		return err
	}

	for _, auction := range due {
		if _, err := s.lifecycle.Launch(ctx, auction.ID); err != nil {
			slog.Error("Failed to launch auction",
				slog.Int64("auction_id", auction.ID),
				slog.String("auction_number", auction.AuctionNumber),
				slog.String("error", err.Error()))
		}
	}

	return nil
}

// closeExpiredAuctions settles expired auctions with bounded parallelism.
// Settlement of one auction never touches another's rows, so concurrent
// closes are safe.
func (s *Scheduler) closeExpiredAuctions(ctx context.Context) error {
	expired, err := s.auctions.ListExpired(ctx, s.now())
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, auction := range expired {
		auction := auction
		if err := s.sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer s.sem.Release(1)

			if _, err := s.lifecycle.Close(gctx, auction.ID); err != nil {
				slog.Error("Failed to close expired auction",
					slog.Int64("auction_id", auction.ID),
					slog.String("auction_number", auction.AuctionNumber),
					slog.String("error", err.Error()))
			}
			return nil
		})
	}

	return g.Wait()
}

// Shutdown stops the sweep loop. In-flight settlements finish on their own
// context deadline.
func (s *Scheduler) Shutdown() {
	close(s.shutdown)
	s.ticker.Stop()
	slog.Info("Settlement scheduler shutdown completed")
}
