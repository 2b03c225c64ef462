package bidding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-service/internal/biddingerrors"
	"auction-service/internal/catalog"
	"auction-service/internal/identity"
	"auction-service/internal/lifecycle"
	model "auction-service/internal/models"
	"auction-service/internal/notify"
	"auction-service/internal/repository"
	"auction-service/internal/validation"
	"auction-service/utils"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
)

// Deps are the collaborators the bidding service is wired with.
// Catalog, Directory and Writer are optional.
type Deps struct {
	Store     repository.AuctionStore
	Ledger    repository.BidLedger
	Publisher notify.Publisher
	Lifecycle *lifecycle.Manager
	Catalog   catalog.Catalog
	Directory identity.Directory
	Writer    *LedgerWriter
}

// Options tunes bid submission
type Options struct {
	MaxBidAttempts     uint
	BaseDelay          time.Duration
	MaxDelay           time.Duration
	StoreTimeout       time.Duration
	RecordRejectedBids bool
	Clock              func() time.Time
}

// BiddingService defines the business logic for auction bidding
type BiddingService struct {
	Deps
	opts   Options
	events *notify.Sequencer
}

// NewBiddingService creates a new BiddingService instance
func NewBiddingService(deps Deps, opts Options) *BiddingService {
	if opts.MaxBidAttempts == 0 {
		opts.MaxBidAttempts = 5
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 10 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 100 * opts.BaseDelay
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 2 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = utils.Now
	}
	var events *notify.Sequencer
	if deps.Publisher != nil {
		events = notify.Sequence(deps.Publisher)
		deps.Publisher = events
	}
	if deps.Lifecycle == nil {
		deps.Lifecycle = lifecycle.NewManager(deps.Store, deps.Publisher, lifecycle.Options{
			MaxAttempts:  opts.MaxBidAttempts,
			BaseDelay:    opts.BaseDelay,
			StoreTimeout: opts.StoreTimeout,
			Clock:        opts.Clock,
		})
	}
	return &BiddingService{Deps: deps, opts: opts, events: events}
}

func (s *BiddingService) now() time.Time {
	return s.opts.Clock().UTC().Truncate(time.Millisecond)
}

// CreateAuction opens a new auction for a product. Without an explicit
// window the product's release and expiry dates are used.
func (s *BiddingService) CreateAuction(ctx context.Context, params model.AuctionParams) (model.Auction, error) {
	if params.ProductID == "" {
		return model.Auction{}, fmt.Errorf("service: %w - missing product_id", biddingerrors.ErrInvalidAuction)
	}

	start, end := params.StartTime, params.EndTime
	switch {
	case start.IsZero() && end.IsZero():
		if s.Catalog == nil {
			return model.Auction{}, fmt.Errorf("service: %w - no window given and no catalog configured", biddingerrors.ErrInvalidWindow)
		}
		product, err := s.lookupProduct(ctx, params.ProductID)
		if err != nil {
			return model.Auction{}, err
		}
		start, end = product.ReleaseDate, product.ExpiryDate
	case start.IsZero() || end.IsZero():
		return model.Auction{}, fmt.Errorf("service: %w - start_time and end_time must be given together", biddingerrors.ErrInvalidWindow)
	}

	now := s.now()
	start = start.UTC().Truncate(time.Millisecond)
	end = end.UTC().Truncate(time.Millisecond)
	if !start.Before(end) {
		return model.Auction{}, fmt.Errorf("service: %w - start_time must be before end_time", biddingerrors.ErrInvalidWindow)
	}
	if !end.After(now) {
		return model.Auction{}, fmt.Errorf("service: %w - end_time is in the past", biddingerrors.ErrInvalidWindow)
	}

	status := model.AuctionPending
	if !now.Before(start) {
		status = model.AuctionActive
	}
	auction := model.Auction{
		AuctionID: utils.GenerateID(),
		ProductID: params.ProductID,
		SellerID:  params.SellerID,
		StartTime: start,
		EndTime:   end,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	if err := s.Store.CreateAuction(storeCtx, auction); err != nil {
		return model.Auction{}, fmt.Errorf("service: failed to create auction for product %s: %w", params.ProductID, unavailable(err))
	}

	utils.Info("service: auction created", map[string]any{
		"auction_id": auction.AuctionID,
		"product_id": auction.ProductID,
		"status":     auction.Status,
	})
	return auction, nil
}

func (s *BiddingService) lookupProduct(ctx context.Context, productID string) (model.Product, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	product, err := s.Catalog.GetProduct(lookupCtx, productID)
	if err != nil {
		return model.Product{}, fmt.Errorf("service: failed to look up product %s: %w", productID, err)
	}
	return product, nil
}

// GetAuction returns an auction with its bid history
func (s *BiddingService) GetAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	if auctionID == "" {
		return model.Auction{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	auction, err := s.Store.GetAuction(storeCtx, auctionID)
	if err != nil {
		return model.Auction{}, fmt.Errorf("service: failed to get auction %s: %w", auctionID, unavailable(err))
	}
	bids, err := s.Ledger.ListByAuction(storeCtx, auctionID)
	if err != nil {
		return model.Auction{}, fmt.Errorf("service: failed to get bids for auction %s: %w", auctionID, unavailable(err))
	}
	auction.Bids = bids
	return auction, nil
}

// ListAuctions returns auctions matching filter
func (s *BiddingService) ListAuctions(ctx context.Context, filter model.AuctionFilter) ([]model.Auction, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	auctions, err := s.Store.ListAuctions(storeCtx, filter)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list auctions: %w", unavailable(err))
	}
	return auctions, nil
}

// PlaceBid validates a bid against a snapshot of the auction and commits it
// with a compare-and-update on the current bid. A lost race re-reads and
// re-validates, up to MaxBidAttempts.
func (s *BiddingService) PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (model.Bid, error) {
	if auctionID == "" || bidderID == "" {
		return model.Bid{}, fmt.Errorf("service: %w - missing auctionID or bidderID", biddingerrors.ErrInvalidBid)
	}
	if amount.IsNegative() {
		return model.Bid{}, fmt.Errorf("service: %w - negative bid amount", biddingerrors.ErrInvalidBid)
	}

	known, err := s.bidderKnown(ctx, bidderID)
	if err != nil {
		return model.Bid{}, err
	}

	bidID := utils.GenerateID()
	var candidate model.Bid
	var held *notify.Ticket

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.BaseDelay
	b.MaxInterval = s.opts.MaxDelay

	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
		defer cancel()

		auction, err := s.Store.GetAuction(storeCtx, auctionID)
		if err != nil {
			if errors.Is(err, biddingerrors.ErrStorageUnavailable) {
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(err)
		}

		// accepted bids never go back in time
		createdAt := s.now()
		if auction.CurrentBid != nil && createdAt.Before(auction.CurrentBid.CreatedAt) {
			createdAt = auction.CurrentBid.CreatedAt
		}
		candidate = model.Bid{
			BidID:     bidID,
			AuctionID: auctionID,
			BidderID:  bidderID,
			Amount:    amount,
			CreatedAt: createdAt,
			Status:    model.BidAccepted,
		}

		if err := validation.Validate(&auction, candidate, createdAt, known); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}

		// held before the commit so later bids queue behind this one
		ticket := s.hold(candidate)
		err = s.Store.CompareAndUpdateCurrentBid(storeCtx, auctionID, auction.CurrentBidID(), candidate)
		if err != nil {
			s.discard(ticket)
		}
		switch {
		case err == nil:
			held = ticket
			return struct{}{}, nil
		case errors.Is(err, biddingerrors.ErrConflict), errors.Is(err, biddingerrors.ErrStorageUnavailable):
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.opts.MaxBidAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			utils.Debug("service: retrying bid", map[string]any{
				"auction_id": auctionID,
				"bid_id":     bidID,
				"attempt":    attempt,
				"retry_in":   next.String(),
				"error":      err.Error(),
			})
		}),
	)
	if err != nil {
		return model.Bid{}, s.bidFailed(ctx, candidate, attempt, err)
	}

	s.recordAccepted(ctx, candidate, held)

	utils.Info("service: bid accepted", map[string]any{
		"auction_id": auctionID,
		"bid_id":     bidID,
		"bidder_id":  bidderID,
		"amount":     amount.String(),
		"attempts":   attempt,
	})
	return candidate, nil
}

func (s *BiddingService) bidderKnown(ctx context.Context, bidderID string) (bool, error) {
	if s.Directory == nil {
		return true, nil
	}
	lookupCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	known, err := s.Directory.IsActiveBidder(lookupCtx, bidderID)
	if err != nil {
		return false, fmt.Errorf("service: failed to check bidder %s: %w: %w", bidderID, biddingerrors.ErrServiceUnavailable, err)
	}
	return known, nil
}

// bidFailed classifies a failed submission and records rejections when configured
func (s *BiddingService) bidFailed(ctx context.Context, candidate model.Bid, attempts int, err error) error {
	if reason, ok := biddingerrors.ReasonOf(err); ok {
		utils.Info("service: bid rejected", map[string]any{
			"auction_id": candidate.AuctionID,
			"bidder_id":  candidate.BidderID,
			"amount":     candidate.Amount.String(),
			"reason":     reason,
		})
		if s.opts.RecordRejectedBids {
			rejected := candidate
			rejected.Status = model.BidRejected
			rejected.RejectReason = string(reason)
			s.appendLedger(ctx, rejected)
		}
		return fmt.Errorf("service: bid on auction %s rejected: %w", candidate.AuctionID, err)
	}

	switch {
	case errors.Is(err, biddingerrors.ErrConflict):
		err = fmt.Errorf("%w: %w", biddingerrors.ErrTooManyConflicts, err)
	case errors.Is(err, biddingerrors.ErrStorageUnavailable):
		err = fmt.Errorf("%w: %w", biddingerrors.ErrServiceUnavailable, err)
	}
	utils.Warn("service: bid not committed", map[string]any{
		"auction_id": candidate.AuctionID,
		"bidder_id":  candidate.BidderID,
		"attempts":   attempts,
		"error":      err.Error(),
	})
	return fmt.Errorf("service: failed to place bid: %w", err)
}

// recordAccepted appends a committed bid to the ledger, deferring to the
// ledger writer when the append fails. The bid stays accepted either way;
// its notification is released once the ledger holds it.
func (s *BiddingService) recordAccepted(ctx context.Context, bid model.Bid, ticket *notify.Ticket) {
	if s.appendLedger(ctx, bid) {
		s.release(ticket)
		return
	}
	if s.Writer == nil {
		utils.Error("service: accepted bid missing from ledger", map[string]any{"bid_id": bid.BidID, "auction_id": bid.AuctionID})
		s.discard(ticket)
		return
	}
	// the request context may already be gone; the writer owns the bid now
	enqueueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.StoreTimeout)
	defer cancel()
	err := s.Writer.Enqueue(enqueueCtx, bid, func(recorded bool) {
		if recorded {
			s.release(ticket)
			return
		}
		s.discard(ticket)
	})
	if err != nil {
		utils.Error("service: accepted bid missing from ledger", map[string]any{
			"bid_id":     bid.BidID,
			"auction_id": bid.AuctionID,
			"error":      err.Error(),
		})
		s.discard(ticket)
	}
}

func (s *BiddingService) hold(bid model.Bid) *notify.Ticket {
	if s.events == nil {
		return nil
	}
	return s.events.Hold(notify.BidAccepted(bid))
}

func (s *BiddingService) release(t *notify.Ticket) {
	if t != nil {
		s.events.Release(t)
	}
}

func (s *BiddingService) discard(t *notify.Ticket) {
	if t != nil {
		s.events.Discard(t)
	}
}

func (s *BiddingService) appendLedger(ctx context.Context, bid model.Bid) bool {
	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.StoreTimeout)
	defer cancel()
	if err := s.Ledger.Append(appendCtx, bid); err != nil {
		utils.Warn("service: ledger append failed", map[string]any{
			"bid_id":     bid.BidID,
			"auction_id": bid.AuctionID,
			"status":     bid.Status,
			"error":      err.Error(),
		})
		return false
	}
	return true
}

// GetBidsForAuction returns all bids recorded for an auction
func (s *BiddingService) GetBidsForAuction(ctx context.Context, auctionID string) ([]model.Bid, error) {
	if auctionID == "" {
		return nil, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	if _, err := s.Store.GetAuction(storeCtx, auctionID); err != nil {
		return nil, fmt.Errorf("service: failed to get auction %s: %w", auctionID, unavailable(err))
	}
	bids, err := s.Ledger.ListByAuction(storeCtx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get bids for auction %s: %w", auctionID, unavailable(err))
	}
	return bids, nil
}

// GetWinningBid returns the current highest bid for an auction
func (s *BiddingService) GetWinningBid(ctx context.Context, auctionID string) (model.Bid, error) {
	if auctionID == "" {
		return model.Bid{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	auction, err := s.Store.GetAuction(storeCtx, auctionID)
	if err != nil {
		return model.Bid{}, fmt.Errorf("service: failed to get winning bid for auction %s: %w", auctionID, unavailable(err))
	}
	if auction.CurrentBid == nil {
		return model.Bid{}, fmt.Errorf("service: auction %s: %w", auctionID, biddingerrors.ErrNoBids)
	}
	return *auction.CurrentBid, nil
}

// GetBidsByBidder returns all bids a bidder has placed
func (s *BiddingService) GetBidsByBidder(ctx context.Context, bidderID string) ([]model.Bid, error) {
	if bidderID == "" {
		return nil, fmt.Errorf("service: %w - empty bidder ID", biddingerrors.ErrInvalidBid)
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	bids, err := s.Ledger.ListByBidder(storeCtx, bidderID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get bids for bidder %s: %w", bidderID, unavailable(err))
	}
	return bids, nil
}

// ListAllBids returns every recorded bid
func (s *BiddingService) ListAllBids(ctx context.Context) ([]model.Bid, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	bids, err := s.Ledger.ListAll(storeCtx)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list bids: %w", unavailable(err))
	}
	return bids, nil
}

// CloseAuction completes an active auction now and awards it to the current bidder
func (s *BiddingService) CloseAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	auction, err := s.Lifecycle.Close(ctx, auctionID, true)
	if err != nil {
		return model.Auction{}, fmt.Errorf("service: %w", err)
	}
	return auction, nil
}

// CancelAuction cancels a pending or active auction
func (s *BiddingService) CancelAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	auction, err := s.Lifecycle.Cancel(ctx, auctionID)
	if err != nil {
		return model.Auction{}, fmt.Errorf("service: %w", err)
	}
	return auction, nil
}

// unavailable tags storage failures as ServiceUnavailable for callers
func unavailable(err error) error {
	if errors.Is(err, biddingerrors.ErrStorageUnavailable) {
		return fmt.Errorf("%w: %w", biddingerrors.ErrServiceUnavailable, err)
	}
	return err
}
