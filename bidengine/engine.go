package bidengine

import (
	"time"

	"github.com/scrapline/bidengine/bidengine/database"
	"github.com/scrapline/bidengine/bidengine/database/repositories"
	"github.com/scrapline/bidengine/bidengine/settlement"
)

func New(cfg Config, version string, commit string) *Engine {
	return &Engine{
		Cfg:     cfg,
		Version: version,
		Commit:  commit,
	}
}

// Engine aggregates the settlement components over one database. Callers
// embed it behind whatever transport they expose; the engine itself carries
// no API surface.
type Engine struct {
	Cfg     Config
	Version string
	Commit  string
	DB      *database.DB

	AuctionRepository    repositories.AuctionRepository
	BidRepository        repositories.BidRepository
	BidHistoryRepository repositories.BidHistoryRepository
	WinnerRepository     repositories.WinnerRepository
	LotRepository        repositories.LotRepository
	AuditRepository      repositories.AuditRepository

	Ledger    *settlement.Ledger
	Guard     *settlement.Guard
	Pipeline  *settlement.Pipeline
	Resolver  *settlement.Resolver
	Lifecycle *settlement.Lifecycle
	Scheduler *settlement.Scheduler
}

// Setup wires the repositories and settlement components. The rate limiter
// is an injected capability: pass nil to let the config pick between the
// in-process sliding window and the store-backed limiter.
func (e *Engine) Setup(db *database.DB, limiter settlement.RateLimiter) {
	e.DB = db

	e.AuctionRepository = repositories.NewAuctionRepository(db.BunDB())
	e.BidRepository = repositories.NewBidRepository(db.BunDB())
	e.BidHistoryRepository = repositories.NewBidHistoryRepository(db.BunDB())
	e.WinnerRepository = repositories.NewWinnerRepository(db.BunDB())
	e.LotRepository = repositories.NewLotRepository(db.BunDB())
	e.AuditRepository = repositories.NewAuditRepository(db.BunDB())

	st := e.Cfg.Settlement
	if limiter == nil {
		window := time.Duration(st.RateLimitWindowMs) * time.Millisecond
		spacing := time.Duration(st.RateLimitSpacingMs) * time.Millisecond
		if st.SharedRateLimit {
			limiter = settlement.NewStoreRateLimiter(e.AuditRepository, st.RateLimitMaxBids, window, spacing)
		} else {
			limiter = settlement.NewSlidingWindowLimiter(st.RateLimitMaxBids, window, spacing)
		}
	}

	audits := settlement.NewStoreAuditSink(e.AuditRepository)
	notifier := settlement.NewLogNotifier()

	e.Ledger = settlement.NewLedger(e.BidRepository, e.BidHistoryRepository)
	e.Guard = settlement.NewGuard(limiter, audits, e.BidHistoryRepository,
		st.PriceJumpThresholdPct, st.CancelSpikeThresholdPct)
	e.Pipeline = settlement.NewPipeline(e.AuctionRepository, e.BidRepository, e.Ledger,
		e.Guard, audits, notifier, st.OutbidBackfillLimit)
	e.Resolver = settlement.NewResolver(e.AuctionRepository, e.BidRepository,
		e.WinnerRepository, e.Ledger)
	e.Lifecycle = settlement.NewLifecycle(e.AuctionRepository, e.LotRepository,
		e.Resolver, e.Guard, audits, notifier)
	e.Scheduler = settlement.NewScheduler(e.AuctionRepository, e.Lifecycle,
		time.Duration(st.SchedulerIntervalSec)*time.Second)
}
