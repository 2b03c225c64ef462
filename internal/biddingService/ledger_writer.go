package bidding

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"auction-service/internal/biddingerrors"
	model "auction-service/internal/models"
	"auction-service/internal/repository"
	"auction-service/utils"

	"github.com/cenkalti/backoff/v5"
)

// LedgerWriter re-appends bids whose ledger write failed after the state
// store had already committed them. It keeps retrying each bid until the
// ledger accepts it or the writer is stopped.
type LedgerWriter struct {
	ledger   repository.BidLedger
	queue    chan deferredBid
	timeout  time.Duration
	baseWait time.Duration
	maxWait  time.Duration
	grace    time.Duration

	pending atomic.Int64
	written atomic.Int64
}

// NewLedgerWriter creates a writer with a bounded queue; call Run to start it
func NewLedgerWriter(ledger repository.BidLedger, queueSize int, timeout time.Duration) *LedgerWriter {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &LedgerWriter{
		ledger:   ledger,
		queue:    make(chan deferredBid, queueSize),
		timeout:  timeout,
		baseWait: 50 * time.Millisecond,
		maxWait:  5 * time.Second,
		grace:    5 * time.Second,
	}
}

type deferredBid struct {
	bid  model.Bid
	done func(recorded bool)
}

// Enqueue hands a committed bid to the writer. It blocks while the queue is
// full, until ctx is done. done, if set, is called once the bid is durable
// (true) or the writer gives up on it (false).
func (w *LedgerWriter) Enqueue(ctx context.Context, bid model.Bid, done func(recorded bool)) error {
	select {
	case w.queue <- deferredBid{bid: bid, done: done}:
		w.pending.Add(1)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ledger writer: enqueue bid %s: %w", bid.BidID, ctx.Err())
	}
}

// Pending returns the number of bids not yet durable in the ledger
func (w *LedgerWriter) Pending() int64 {
	return w.pending.Load()
}

// Written returns the number of bids the writer has made durable
func (w *LedgerWriter) Written() int64 {
	return w.written.Load()
}

// Run drains the queue until ctx is done, then keeps writing what is already
// queued for up to the grace period
func (w *LedgerWriter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain(nil)
			return nil
		case item := <-w.queue:
			if !w.write(ctx, item) {
				w.drain(&item)
				return nil
			}
		}
	}
}

// drain writes the interrupted bid and whatever is queued under a fresh
// deadline
func (w *LedgerWriter) drain(interrupted *deferredBid) {
	graceCtx, cancel := context.WithTimeout(context.Background(), w.grace)
	defer cancel()

	if interrupted != nil && !w.write(graceCtx, *interrupted) {
		utils.Error("ledger writer: shutdown grace period expired", map[string]any{"pending": w.pending.Load()})
		return
	}
	for {
		select {
		case item := <-w.queue:
			if !w.write(graceCtx, item) {
				utils.Error("ledger writer: shutdown grace period expired", map[string]any{"pending": w.pending.Load()})
				return
			}
		default:
			if n := w.pending.Load(); n > 0 {
				utils.Error("ledger writer: stopping with bids not yet recorded", map[string]any{"pending": n})
			}
			return
		}
	}
}

// write appends one bid, retrying until it is durable. It returns false
// only when ctx ended first.
func (w *LedgerWriter) write(ctx context.Context, item deferredBid) bool {
	bid := item.bid
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.baseWait
	b.MaxInterval = w.maxWait

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		appendCtx, cancel := context.WithTimeout(ctx, w.timeout)
		defer cancel()
		err := w.ledger.Append(appendCtx, bid)
		if errors.Is(err, biddingerrors.ErrDuplicateBidID) || errors.Is(err, biddingerrors.ErrInvalidBid) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			utils.Warn("ledger writer: append failed, retrying", map[string]any{
				"bid_id":     bid.BidID,
				"auction_id": bid.AuctionID,
				"retry_in":   next.String(),
				"error":      err.Error(),
			})
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		w.pending.Add(-1)
		utils.Error("ledger writer: giving up on bid", map[string]any{
			"bid_id":     bid.BidID,
			"auction_id": bid.AuctionID,
			"error":      err.Error(),
		})
		item.finish(false)
		return true
	}
	w.pending.Add(-1)
	w.written.Add(1)
	item.finish(true)
	return true
}

func (d deferredBid) finish(recorded bool) {
	if d.done != nil {
		d.done(recorded)
	}
}
