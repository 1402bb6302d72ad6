package settlement

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/scrapline/bidengine/bidengine/database/models"
	"github.com/scrapline/bidengine/bidengine/database/repositories"
)

// memStore is the shared in-memory backing for the fake repositories.
type memStore struct {
	mu sync.Mutex

	auctions map[int64]*models.Auction
	bids     map[int64]*models.Bid
	history  []*models.BidHistoryEntry
	winners  map[int64]*models.AuctionWinner
	lots     map[int64][]*models.AuctionLot
	audits   []*models.AuditLog

	nextAuctionID int64
	nextBidID     int64
	nextHistoryID int64

	now func() time.Time
}

func newMemStore() *memStore {
	return &memStore{
		auctions: make(map[int64]*models.Auction),
		bids:     make(map[int64]*models.Bid),
		winners:  make(map[int64]*models.AuctionWinner),
		lots:     make(map[int64][]*models.AuctionLot),
		now:      time.Now,
	}
}

type memAuctionRepo struct{ s *memStore }

func (r *memAuctionRepo) Create(_ context.Context, auction *models.Auction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.auctions {
		if existing.AuctionNumber == auction.AuctionNumber {
			return repositories.ErrStaleUpdate
		}
	}
	r.s.nextAuctionID++
	auction.ID = r.s.nextAuctionID
	auction.CreatedAt = r.s.now()
	r.s.auctions[auction.ID] = auction
	return nil
}

func (r *memAuctionRepo) Delete(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.auctions, id)
	return nil
}

func (r *memAuctionRepo) GetByID(_ context.Context, id int64) (*models.Auction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	auction, ok := r.s.auctions[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *auction
	return &copied, nil
}

func (r *memAuctionRepo) GetByNumber(_ context.Context, number string) (*models.Auction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, auction := range r.s.auctions {
		if auction.AuctionNumber == number {
			copied := *auction
			return &copied, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *memAuctionRepo) MaxNumberSequence(_ context.Context, prefix string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	max := 0
	for _, auction := range r.s.auctions {
		if !strings.HasPrefix(auction.AuctionNumber, prefix) {
			continue
		}
		seq, err := strconv.Atoi(strings.TrimPrefix(auction.AuctionNumber, prefix))
		if err == nil && seq > max {
			max = seq
		}
	}
	return max, nil
}

func (r *memAuctionRepo) UpdateCurrentBid(_ context.Context, id int64, prior, next decimal.Decimal, bidTime time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	auction, ok := r.s.auctions[id]
	if !ok {
		return repositories.ErrNotFound
	}
	if !auction.CurrentBid.Equal(prior) {
		return repositories.ErrStaleUpdate
	}
	auction.CurrentBid = next
	auction.LastBidTime = bidTime
	auction.BidCount++
	return nil
}

func (r *memAuctionRepo) ResetCurrentBid(_ context.Context, id int64, prior, next decimal.Decimal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	auction, ok := r.s.auctions[id]
	if !ok {
		return repositories.ErrNotFound
	}
	if !auction.CurrentBid.Equal(prior) {
		return repositories.ErrStaleUpdate
	}
	auction.CurrentBid = next
	return nil
}

func (r *memAuctionRepo) UpdateStatus(_ context.Context, id int64, status models.AuctionStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	auction, ok := r.s.auctions[id]
	if !ok {
		return repositories.ErrNotFound
	}
	auction.Status = status
	return nil
}

func (r *memAuctionRepo) Schedule(_ context.Context, id int64, start, end time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	auction, ok := r.s.auctions[id]
	if !ok {
		return repositories.ErrNotFound
	}
	auction.ScheduledStart = start
	auction.ScheduledEnd = end
	return nil
}

func (r *memAuctionRepo) Launch(_ context.Context, id int64, start, end time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	auction, ok := r.s.auctions[id]
	if !ok {
		return repositories.ErrNotFound
	}
	if auction.Status != models.AuctionStatusDraft && auction.Status != models.AuctionStatusScheduled {
		return repositories.ErrStaleUpdate
	}
	auction.Status = models.AuctionStatusActive
	auction.StartTime = start
	auction.EndTime = end
	return nil
}

func (r *memAuctionRepo) CloseNoWinner(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	auction, ok := r.s.auctions[id]
	if !ok {
		return repositories.ErrNotFound
	}
	auction.Status = models.AuctionStatusClosed
	return nil
}

func (r *memAuctionRepo) CloseWithWinner(_ context.Context, id int64, bidID int64, buyerID string, finalPrice, quantityRemaining decimal.Decimal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	auction, ok := r.s.auctions[id]
	if !ok {
		return repositories.ErrNotFound
	}
	auction.Status = models.AuctionStatusClosed
	auction.WinningBidID = bidID
	auction.WinningBuyerID = buyerID
	auction.FinalPrice = finalPrice
	auction.QuantityRemaining = quantityRemaining
	return nil
}

func (r *memAuctionRepo) ListDueForLaunch(_ context.Context, now time.Time) ([]*models.Auction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var due []*models.Auction
	for _, auction := range r.s.auctions {
		launchable := auction.Status == models.AuctionStatusDraft || auction.Status == models.AuctionStatusScheduled
		if launchable && !auction.ScheduledStart.IsZero() &&
			!auction.ScheduledStart.After(now) && auction.ScheduledEnd.After(now) {
			copied := *auction
			due = append(due, &copied)
		}
	}
	return due, nil
}

func (r *memAuctionRepo) ListExpired(_ context.Context, now time.Time) ([]*models.Auction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var expired []*models.Auction
	for _, auction := range r.s.auctions {
		if auction.Status != models.AuctionStatusActive {
			continue
		}
		_, end := auction.BiddingWindow()
		if !end.IsZero() && !end.After(now) {
			copied := *auction
			expired = append(expired, &copied)
		}
	}
	return expired, nil
}

type memBidRepo struct{ s *memStore }

func (r *memBidRepo) Insert(_ context.Context, bid *models.Bid) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.nextBidID++
	bid.ID = r.s.nextBidID
	if bid.CreatedAt.IsZero() {
		bid.CreatedAt = r.s.now()
	}
	copied := *bid
	r.s.bids[bid.ID] = &copied
	return nil
}

func (r *memBidRepo) Delete(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.bids, id)
	return nil
}

func (r *memBidRepo) GetByID(_ context.Context, id int64) (*models.Bid, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	bid, ok := r.s.bids[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *bid
	return &copied, nil
}

func (r *memBidRepo) GetWinning(_ context.Context, auctionID int64) (*models.Bid, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, bid := range r.s.bids {
		if bid.AuctionID == auctionID && bid.IsWinning && !bid.IsRetracted {
			copied := *bid
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *memBidRepo) DemoteWinning(_ context.Context, auctionID int64) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, bid := range r.s.bids {
		if bid.AuctionID == auctionID && bid.IsWinning && !bid.IsRetracted {
			bid.IsWinning = false
			return bid.ID, nil
		}
	}
	return 0, nil
}

func (r *memBidRepo) SetWinning(_ context.Context, id int64, winning bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	bid, ok := r.s.bids[id]
	if !ok {
		return repositories.ErrNotFound
	}
	bid.IsWinning = winning
	return nil
}

func (r *memBidRepo) Retract(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	bid, ok := r.s.bids[id]
	if !ok {
		return repositories.ErrNotFound
	}
	if bid.IsRetracted {
		return repositories.ErrStaleUpdate
	}
	bid.IsRetracted = true
	bid.IsWinning = false
	return nil
}

func (r *memBidRepo) ListActiveByAmountDesc(_ context.Context, auctionID int64) ([]*models.Bid, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var active []*models.Bid
	for _, bid := range r.s.bids {
		if bid.AuctionID == auctionID && !bid.IsRetracted {
			copied := *bid
			active = append(active, &copied)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if !active[i].Amount.Equal(active[j].Amount) {
			return active[i].Amount.GreaterThan(active[j].Amount)
		}
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	return active, nil
}

func (r *memBidRepo) CountHigher(_ context.Context, auctionID int64, amount decimal.Decimal) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	count := 0
	for _, bid := range r.s.bids {
		if bid.AuctionID == auctionID && !bid.IsRetracted && bid.Amount.GreaterThan(amount) {
			count++
		}
	}
	return count, nil
}

func (r *memBidRepo) ListRecentCompeting(_ context.Context, auctionID int64, below decimal.Decimal, limit int) ([]*models.Bid, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var competing []*models.Bid
	for _, bid := range r.s.bids {
		if bid.AuctionID == auctionID && !bid.IsRetracted && bid.Amount.LessThan(below) {
			copied := *bid
			competing = append(competing, &copied)
		}
	}
	sort.Slice(competing, func(i, j int) bool {
		return competing[i].CreatedAt.After(competing[j].CreatedAt)
	})
	if len(competing) > limit {
		competing = competing[:limit]
	}
	return competing, nil
}

type memHistoryRepo struct{ s *memStore }

func (r *memHistoryRepo) Append(_ context.Context, entry *models.BidHistoryEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.nextHistoryID++
	entry.ID = r.s.nextHistoryID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.s.now()
	}
	copied := *entry
	r.s.history = append(r.s.history, &copied)
	return nil
}

func (r *memHistoryRepo) ListByAuction(_ context.Context, auctionID int64, limit int) ([]*models.BidHistoryEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var entries []*models.BidHistoryEntry
	for i := len(r.s.history) - 1; i >= 0; i-- {
		if r.s.history[i].AuctionID == auctionID {
			copied := *r.s.history[i]
			entries = append(entries, &copied)
			if limit > 0 && len(entries) == limit {
				break
			}
		}
	}
	return entries, nil
}

func (r *memHistoryRepo) ListByBid(_ context.Context, bidID int64) ([]*models.BidHistoryEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var entries []*models.BidHistoryEntry
	for _, entry := range r.s.history {
		if entry.BidID == bidID {
			copied := *entry
			entries = append(entries, &copied)
		}
	}
	return entries, nil
}

func (r *memHistoryRepo) CountDistinctBiddersFromIP(_ context.Context, auctionID int64, ip string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	seen := make(map[string]struct{})
	for _, entry := range r.s.history {
		if entry.AuctionID == auctionID && entry.IPAddress == ip {
			seen[entry.BidderID] = struct{}{}
		}
	}
	return len(seen), nil
}

type memWinnerRepo struct{ s *memStore }

func (r *memWinnerRepo) Create(_ context.Context, winner *models.AuctionWinner) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.winners[winner.AuctionID]; exists {
		return repositories.ErrStaleUpdate
	}
	winner.ID = int64(len(r.s.winners) + 1)
	copied := *winner
	r.s.winners[winner.AuctionID] = &copied
	return nil
}

func (r *memWinnerRepo) GetByAuction(_ context.Context, auctionID int64) (*models.AuctionWinner, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	winner, ok := r.s.winners[auctionID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *winner
	return &copied, nil
}

func (r *memWinnerRepo) UpdateStatus(_ context.Context, id int64, status models.WinnerStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, winner := range r.s.winners {
		if winner.ID == id {
			winner.Status = status
			return nil
		}
	}
	return repositories.ErrNotFound
}

type memLotRepo struct{ s *memStore }

func (r *memLotRepo) InsertBatch(_ context.Context, lots []*models.AuctionLot) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, lot := range lots {
		copied := *lot
		r.s.lots[lot.AuctionID] = append(r.s.lots[lot.AuctionID], &copied)
	}
	return nil
}

func (r *memLotRepo) DeleteByAuction(_ context.Context, auctionID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.lots, auctionID)
	return nil
}

func (r *memLotRepo) ListByAuction(_ context.Context, auctionID int64) ([]*models.AuctionLot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]*models.AuctionLot(nil), r.s.lots[auctionID]...), nil
}

type memAuditRepo struct{ s *memStore }

func (r *memAuditRepo) Insert(_ context.Context, entry *models.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	entry.ID = int64(len(r.s.audits) + 1)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.s.now()
	}
	copied := *entry
	r.s.audits = append(r.s.audits, &copied)
	return nil
}

func (r *memAuditRepo) ListByUser(_ context.Context, userID string, limit int) ([]*models.AuditLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var entries []*models.AuditLog
	for i := len(r.s.audits) - 1; i >= 0; i-- {
		if r.s.audits[i].UserID == userID {
			copied := *r.s.audits[i]
			entries = append(entries, &copied)
			if limit > 0 && len(entries) == limit {
				break
			}
		}
	}
	return entries, nil
}

func (r *memAuditRepo) CountRecentByAction(_ context.Context, userID, action string, since time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	count := 0
	for _, entry := range r.s.audits {
		if entry.UserID == userID && entry.Action == action && entry.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

// recordingNotifier captures notification calls for assertions.
type recordingNotifier struct {
	placed     []int64
	outbid     []string
	closed     []int64
	settlement []int64
}

func (n *recordingNotifier) NotifyBidPlaced(auction *models.Auction, bid *models.Bid, _ int) {
	n.placed = append(n.placed, bid.ID)
}

func (n *recordingNotifier) NotifyOutbid(_ *models.Auction, outbidBidderID string, _ decimal.Decimal) {
	n.outbid = append(n.outbid, outbidBidderID)
}

func (n *recordingNotifier) NotifyAuctionClosed(auction *models.Auction) {
	n.closed = append(n.closed, auction.ID)
}

func (n *recordingNotifier) NotifySettlementReady(auction *models.Auction, _ *models.AuctionWinner) {
	n.settlement = append(n.settlement, auction.ID)
}

// allowAllLimiter never limits; tests exercising rate limits build their own.
type allowAllLimiter struct{}

func (allowAllLimiter) Check(context.Context, string) (RateDecision, error) {
	return RateDecision{}, nil
}

// testEnv wires the settlement components over the in-memory store.
type testEnv struct {
	store    *memStore
	auctions *memAuctionRepo
	bids     *memBidRepo
	history  *memHistoryRepo
	winners  *memWinnerRepo
	lots     *memLotRepo
	audits   *memAuditRepo

	sink     *StoreAuditSink
	notifier *recordingNotifier
	ledger   *Ledger
	guard    *Guard
	pipeline *Pipeline
	resolver *Resolver

	clock time.Time
}

func newTestEnv() *testEnv {
	env := &testEnv{
		store: newMemStore(),
		clock: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	env.store.now = func() time.Time { return env.clock }

	env.auctions = &memAuctionRepo{s: env.store}
	env.bids = &memBidRepo{s: env.store}
	env.history = &memHistoryRepo{s: env.store}
	env.winners = &memWinnerRepo{s: env.store}
	env.lots = &memLotRepo{s: env.store}
	env.audits = &memAuditRepo{s: env.store}

	env.sink = NewStoreAuditSink(env.audits)
	env.notifier = &recordingNotifier{}
	env.ledger = NewLedger(env.bids, env.history)
	env.guard = NewGuard(allowAllLimiter{}, env.sink, env.history, 10, 20)
	env.pipeline = NewPipeline(env.auctions, env.bids, env.ledger, env.guard, env.sink, env.notifier, 10)
	env.pipeline.now = func() time.Time { return env.clock }
	env.resolver = NewResolver(env.auctions, env.bids, env.winners, env.ledger)
	return env
}

func (env *testEnv) lifecycle() *Lifecycle {
	lc := NewLifecycle(env.auctions, env.lots, env.resolver, env.guard, env.sink, env.notifier)
	lc.now = func() time.Time { return env.clock }
	lc.numbers.now = func() time.Time { return env.clock }
	return lc
}

func (env *testEnv) advance(d time.Duration) {
	env.clock = env.clock.Add(d)
}

// activeAuction seeds an active english auction open for bidding at the
// test clock.
func (env *testEnv) activeAuction(startingPrice, increment int64) *models.Auction {
	auction := &models.Auction{
		AuctionNumber:     "AU-20260310-001",
		SellerID:          "seller-1",
		SellerEmail:       "sales@ironridge-metals.com",
		Type:              models.AuctionTypeEnglish,
		Status:            models.AuctionStatusActive,
		MaterialType:      "shredded",
		Grade:             "grade_a",
		QuantityTotal:     decimal.NewFromInt(40),
		QuantityRemaining: decimal.NewFromInt(40),
		StartingPrice:     decimal.NewFromInt(startingPrice),
		CurrentBid:        decimal.NewFromInt(startingPrice),
		BidIncrement:      decimal.NewFromInt(increment),
		Currency:          "USD",
		ScheduledStart:    env.clock.Add(-time.Hour),
		ScheduledEnd:      env.clock.Add(time.Hour),
	}
	if err := env.auctions.Create(context.Background(), auction); err != nil {
		panic(err)
	}
	return auction
}
