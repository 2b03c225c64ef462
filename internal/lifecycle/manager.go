// Package lifecycle drives auctions through pending, active and their
// terminal states. Every transition is a compare-and-update on the state
// store, so a closing auction and a late bid can never both win.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-service/internal/biddingerrors"
	model "auction-service/internal/models"
	"auction-service/internal/notify"
	"auction-service/internal/repository"
	"auction-service/utils"

	"github.com/cenkalti/backoff/v5"
)

// Options tunes transition retries
type Options struct {
	MaxAttempts  uint
	BaseDelay    time.Duration
	StoreTimeout time.Duration
	// Clock overrides time.Now, mostly for tests.
	Clock func() time.Time
}

// SweepResult counts the transitions performed by one sweep
type SweepResult struct {
	Activated int
	Completed int
	Failed    int
}

// Manager owns auction status transitions
type Manager struct {
	store     repository.AuctionStore
	publisher notify.Publisher
	opts      Options
}

// NewManager creates a lifecycle manager
func NewManager(store repository.AuctionStore, publisher notify.Publisher, opts Options) *Manager {
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 5
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 10 * time.Millisecond
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 2 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = utils.Now
	}
	return &Manager{store: store, publisher: publisher, opts: opts}
}

// Activate moves a pending auction to active once its start time has passed
func (m *Manager) Activate(ctx context.Context, auctionID string) (model.Auction, error) {
	return m.transition(ctx, auctionID, "activate", func(a model.Auction, now time.Time) (model.AuctionStatus, string, error) {
		if a.Status != model.AuctionPending {
			return "", "", fmt.Errorf("%w - auction is %s", biddingerrors.ErrInvalidTransition, a.Status)
		}
		if now.Before(a.StartTime) {
			return "", "", fmt.Errorf("%w - auction starts at %s", biddingerrors.ErrInvalidTransition, a.StartTime.Format(time.RFC3339))
		}
		return model.AuctionActive, "", nil
	})
}

// Close completes an active auction whose end time has passed, awarding it to
// the holder of the current bid. force closes it regardless of the end time.
// An auction without bids completes with no winner.
func (m *Manager) Close(ctx context.Context, auctionID string, force bool) (model.Auction, error) {
	return m.transition(ctx, auctionID, "close", func(a model.Auction, now time.Time) (model.AuctionStatus, string, error) {
		if a.Status != model.AuctionActive {
			return "", "", fmt.Errorf("%w - auction is %s", biddingerrors.ErrInvalidTransition, a.Status)
		}
		if !force && now.Before(a.EndTime) {
			return "", "", fmt.Errorf("%w - auction ends at %s", biddingerrors.ErrInvalidTransition, a.EndTime.Format(time.RFC3339))
		}
		winner := ""
		if a.CurrentBid != nil {
			winner = a.CurrentBid.BidderID
		}
		return model.AuctionCompleted, winner, nil
	})
}

// Cancel moves a pending or active auction to cancelled
func (m *Manager) Cancel(ctx context.Context, auctionID string) (model.Auction, error) {
	return m.transition(ctx, auctionID, "cancel", func(a model.Auction, _ time.Time) (model.AuctionStatus, string, error) {
		if a.Status.Terminal() {
			return "", "", fmt.Errorf("%w - auction is already %s", biddingerrors.ErrInvalidTransition, a.Status)
		}
		return model.AuctionCancelled, "", nil
	})
}

// decideFunc picks the target status for a snapshot, or returns a permanent error
type decideFunc func(a model.Auction, now time.Time) (model.AuctionStatus, string, error)

func (m *Manager) transition(ctx context.Context, auctionID, op string, decide decideFunc) (model.Auction, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.BaseDelay

	result, err := backoff.Retry(ctx, func() (model.Auction, error) {
		storeCtx, cancel := context.WithTimeout(ctx, m.opts.StoreTimeout)
		defer cancel()

		a, err := m.store.GetAuction(storeCtx, auctionID)
		if err != nil {
			if errors.Is(err, biddingerrors.ErrStorageUnavailable) {
				return model.Auction{}, err
			}
			return model.Auction{}, backoff.Permanent(err)
		}

		now := m.opts.Clock().UTC().Truncate(time.Millisecond)
		to, winner, err := decide(a, now)
		if err != nil {
			return model.Auction{}, backoff.Permanent(err)
		}

		err = m.store.CompareAndUpdateStatus(storeCtx, auctionID, a.Status, a.CurrentBidID(), to, winner, now)
		switch {
		case err == nil:
		case errors.Is(err, biddingerrors.ErrConflict), errors.Is(err, biddingerrors.ErrStorageUnavailable):
			return model.Auction{}, err
		default:
			return model.Auction{}, backoff.Permanent(err)
		}

		a.Status = to
		a.WinnerID = winner
		a.UpdatedAt = now
		return a, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(m.opts.MaxAttempts),
	)
	if err != nil {
		switch {
		case errors.Is(err, biddingerrors.ErrConflict):
			err = fmt.Errorf("%w: %w", biddingerrors.ErrTooManyConflicts, err)
		case errors.Is(err, biddingerrors.ErrStorageUnavailable):
			err = fmt.Errorf("%w: %w", biddingerrors.ErrServiceUnavailable, err)
		}
		return model.Auction{}, fmt.Errorf("lifecycle: %s auction %s: %w", op, auctionID, err)
	}

	utils.Info("lifecycle: auction "+string(result.Status), map[string]any{
		"auction_id": auctionID,
		"winner_id":  result.WinnerID,
	})
	if result.Status.Terminal() {
		m.publish(ctx, notify.AuctionClosed(result, result.UpdatedAt))
	}
	return result, nil
}

func (m *Manager) publish(ctx context.Context, event notify.Event) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(ctx, event); err != nil {
		utils.Warn("lifecycle: failed to publish event", map[string]any{
			"auction_id": event.AuctionID,
			"type":       event.Type,
			"error":      err.Error(),
		})
	}
}

// Sweep activates due pending auctions and closes expired active ones.
// Failures on individual auctions are logged and counted; the sweep goes on.
func (m *Manager) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := m.opts.Clock()

	due, err := m.list(ctx, model.AuctionFilter{Statuses: []model.AuctionStatus{model.AuctionPending}, StartsBefore: now})
	if err != nil {
		return res, err
	}
	for _, a := range due {
		if _, err := m.Activate(ctx, a.AuctionID); err != nil {
			m.sweepFailed(&res, a.AuctionID, "activate", err)
			continue
		}
		res.Activated++
	}

	expired, err := m.list(ctx, model.AuctionFilter{Statuses: []model.AuctionStatus{model.AuctionActive}, EndsBefore: now})
	if err != nil {
		return res, err
	}
	for _, a := range expired {
		if _, err := m.Close(ctx, a.AuctionID, false); err != nil {
			m.sweepFailed(&res, a.AuctionID, "close", err)
			continue
		}
		res.Completed++
	}
	return res, nil
}

func (m *Manager) sweepFailed(res *SweepResult, auctionID, op string, err error) {
	// another actor already moved it on
	if errors.Is(err, biddingerrors.ErrInvalidTransition) {
		return
	}
	res.Failed++
	utils.Error("lifecycle: sweep failed to "+op+" auction", map[string]any{
		"auction_id": auctionID,
		"error":      err.Error(),
	})
}

func (m *Manager) list(ctx context.Context, filter model.AuctionFilter) ([]model.Auction, error) {
	storeCtx, cancel := context.WithTimeout(ctx, m.opts.StoreTimeout)
	defer cancel()
	auctions, err := m.store.ListAuctions(storeCtx, filter)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: sweep: %w", err)
	}
	return auctions, nil
}

// Run sweeps every interval until ctx is done
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			res, err := m.Sweep(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				utils.Error("lifecycle: sweep failed", map[string]any{"error": err.Error()})
				continue
			}
			if res.Activated+res.Completed+res.Failed > 0 {
				utils.Info("lifecycle: sweep finished", map[string]any{
					"activated": res.Activated,
					"completed": res.Completed,
					"failed":    res.Failed,
				})
			}
		}
	}
}
