package repository

import (
	"auction-service/internal/biddingerrors"
	model "auction-service/internal/models"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// AuctionStore is the single source of truth for auction lifecycle state and
// the current winning bid. All mutation after creation goes through the
// compare-and-update methods.
type AuctionStore interface {
	CreateAuction(ctx context.Context, auction model.Auction) error
	GetAuction(ctx context.Context, auctionID string) (model.Auction, error)
	ListAuctions(ctx context.Context, filter model.AuctionFilter) ([]model.Auction, error)
	// CompareAndUpdateCurrentBid replaces the current bid with newBid only if
	// the stored current bid id still equals expectedCurrentBidID, the auction
	// is active and newBid.CreatedAt is before the end time. Otherwise it
	// returns ErrConflict (or ErrAuctionNotFound).
	CompareAndUpdateCurrentBid(ctx context.Context, auctionID, expectedCurrentBidID string, newBid model.Bid) error
	// CompareAndUpdateStatus moves the auction from status from to status to
	// only if both the status and the current bid id are unchanged. at becomes
	// the auction's UpdatedAt.
	CompareAndUpdateStatus(ctx context.Context, auctionID string, from model.AuctionStatus, expectedCurrentBidID string, to model.AuctionStatus, winnerID string, at time.Time) error
}

// BidLedger is the append-only record of submitted bids.
type BidLedger interface {
	// Append is idempotent on BidID: re-appending an identical bid succeeds
	// without a second record.
	Append(ctx context.Context, bid model.Bid) error
	ListByAuction(ctx context.Context, auctionID string) ([]model.Bid, error)
	ListByBidder(ctx context.Context, bidderID string) ([]model.Bid, error)
	ListAll(ctx context.Context) ([]model.Bid, error)
}

// MemoryRepo is a concurrency-safe in-memory implementation of AuctionStore and BidLedger
type MemoryRepo struct {
	mu        sync.RWMutex
	auctions  map[string]model.Auction // key: auctionID -> value: auction
	bids      map[string]model.Bid     // key: bidID -> value: bid
	bidOrder  []string                 // bidIDs in append order
	byAuction map[string][]string      // key: auctionID -> value: bidIDs
	byBidder  map[string][]string      // key: bidderID -> value: bidIDs
}

// NewMemoryRepo creates a new in-memory repository instance
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		auctions:  make(map[string]model.Auction),
		bids:      make(map[string]model.Bid),
		byAuction: make(map[string][]string),
		byBidder:  make(map[string][]string),
	}
}

// CreateAuction stores a new auction
func (r *MemoryRepo) CreateAuction(ctx context.Context, auction model.Auction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if auction.AuctionID == "" {
		return fmt.Errorf("create auction: %w - empty auction id", biddingerrors.ErrInvalidAuction)
	}
	if !auction.StartTime.Before(auction.EndTime) {
		return fmt.Errorf("create auction %s: %w", auction.AuctionID, biddingerrors.ErrInvalidWindow)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.auctions[auction.AuctionID]; ok {
		return fmt.Errorf("create auction %s: %w - duplicate id", auction.AuctionID, biddingerrors.ErrInvalidAuction)
	}
	r.auctions[auction.AuctionID] = cloneAuction(auction)
	return nil
}

// GetAuction returns a snapshot of an auction
func (r *MemoryRepo) GetAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	if err := ctx.Err(); err != nil {
		return model.Auction{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.auctions[auctionID]
	if !ok {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	return cloneAuction(a), nil
}

// ListAuctions returns auctions matching filter ordered by start time
func (r *MemoryRepo) ListAuctions(ctx context.Context, filter model.AuctionFilter) ([]model.Auction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Auction, 0, len(r.auctions))
	for _, a := range r.auctions {
		if filter.Match(a) {
			out = append(out, cloneAuction(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].AuctionID < out[j].AuctionID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out, nil
}

// CompareAndUpdateCurrentBid atomically swaps the current bid
func (r *MemoryRepo) CompareAndUpdateCurrentBid(ctx context.Context, auctionID, expectedCurrentBidID string, newBid model.Bid) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.auctions[auctionID]
	if !ok {
		return fmt.Errorf("update current bid for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	if a.CurrentBidID() != expectedCurrentBidID || a.Status != model.AuctionActive || !newBid.CreatedAt.Before(a.EndTime) {
		return fmt.Errorf("update current bid for auction %s: %w", auctionID, biddingerrors.ErrConflict)
	}

	b := newBid
	a.CurrentBid = &b
	a.UpdatedAt = newBid.CreatedAt
	r.auctions[auctionID] = a
	return nil
}

// CompareAndUpdateStatus atomically transitions the auction status
func (r *MemoryRepo) CompareAndUpdateStatus(ctx context.Context, auctionID string, from model.AuctionStatus, expectedCurrentBidID string, to model.AuctionStatus, winnerID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.auctions[auctionID]
	if !ok {
		return fmt.Errorf("update status for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	if a.Status != from || a.CurrentBidID() != expectedCurrentBidID {
		return fmt.Errorf("update status for auction %s: %w", auctionID, biddingerrors.ErrConflict)
	}

	a.Status = to
	a.WinnerID = winnerID
	a.UpdatedAt = at.UTC().Truncate(time.Millisecond)
	r.auctions[auctionID] = a
	return nil
}

// Append records a bid in the ledger
func (r *MemoryRepo) Append(ctx context.Context, bid model.Bid) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if bid.BidID == "" || bid.AuctionID == "" {
		return fmt.Errorf("append bid: %w - missing bid or auction id", biddingerrors.ErrInvalidBid)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.bids[bid.BidID]; ok {
		if sameBid(existing, bid) {
			return nil
		}
		return fmt.Errorf("append bid %s: %w", bid.BidID, biddingerrors.ErrDuplicateBidID)
	}

	r.bids[bid.BidID] = bid
	r.bidOrder = append(r.bidOrder, bid.BidID)
	r.byAuction[bid.AuctionID] = append(r.byAuction[bid.AuctionID], bid.BidID)
	r.byBidder[bid.BidderID] = append(r.byBidder[bid.BidderID], bid.BidID)
	return nil
}

// ListByAuction returns all ledger entries for an auction
func (r *MemoryRepo) ListByAuction(ctx context.Context, auctionID string) ([]model.Bid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.byAuction[auctionID]), nil
}

// ListByBidder returns all ledger entries placed by a bidder
func (r *MemoryRepo) ListByBidder(ctx context.Context, bidderID string) ([]model.Bid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.byBidder[bidderID]), nil
}

// ListAll returns every ledger entry
func (r *MemoryRepo) ListAll(ctx context.Context) ([]model.Bid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.bidOrder), nil
}

// collect must be called with r.mu held.
func (r *MemoryRepo) collect(ids []string) []model.Bid {
	out := make([]model.Bid, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.bids[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func cloneAuction(a model.Auction) model.Auction {
	if a.CurrentBid != nil {
		b := *a.CurrentBid
		a.CurrentBid = &b
	}
	a.Bids = nil
	return a
}

func sameBid(a, b model.Bid) bool {
	return a.AuctionID == b.AuctionID &&
		a.BidderID == b.BidderID &&
		a.Amount.Equal(b.Amount) &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.Status == b.Status
}
