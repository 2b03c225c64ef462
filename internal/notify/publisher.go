package notify

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"auction-service/internal/biddingerrors"
	"auction-service/utils"

	"github.com/cenkalti/backoff/v5"
)

// Publisher enqueues events for asynchronous delivery
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Sink delivers one event to the external channel
type Sink interface {
	Send(ctx context.Context, event Event) error
	Close() error
}

// Options tunes the asynchronous publisher
type Options struct {
	Workers     int
	QueueSize   int
	MaxAttempts uint
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	SendTimeout time.Duration
	// DrainTimeout bounds delivery of already queued events after Run's
	// context is done.
	DrainTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 5
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 50 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 2 * time.Second
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 5 * time.Second
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = 5 * time.Second
	}
	return o
}

// Stats counts publisher outcomes
type Stats struct {
	Enqueued  int64
	Delivered int64
	Dropped   int64
}

// AsyncPublisher shards events by auction id onto a fixed set of workers.
// One worker owns a shard, so events for a single auction are delivered in
// the order they were published.
type AsyncPublisher struct {
	sink   Sink
	opts   Options
	shards []chan Event

	enqueued  atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
}

// NewAsyncPublisher creates a publisher; call Run to start delivery
func NewAsyncPublisher(sink Sink, opts Options) *AsyncPublisher {
	opts = opts.withDefaults()
	shards := make([]chan Event, opts.Workers)
	perShard := opts.QueueSize / opts.Workers
	if perShard < 1 {
		perShard = 1
	}
	for i := range shards {
		shards[i] = make(chan Event, perShard)
	}
	return &AsyncPublisher{sink: sink, opts: opts, shards: shards}
}

// Publish enqueues event without blocking. A full shard drops the event and
// returns ErrPublishFailed; the committed state it describes is unaffected.
func (p *AsyncPublisher) Publish(ctx context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("publish %s: %w: %v", event.Type, biddingerrors.ErrPublishFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publish %s: %w: %w", event.Type, biddingerrors.ErrPublishFailed, err)
	}

	select {
	case p.shardFor(event.AuctionID) <- event:
		p.enqueued.Add(1)
		return nil
	default:
		p.dropped.Add(1)
		utils.Warn("notify: queue full, dropping event", map[string]any{
			"event_id":   event.EventID,
			"type":       event.Type,
			"auction_id": event.AuctionID,
		})
		return fmt.Errorf("publish %s for auction %s: %w - queue full", event.Type, event.AuctionID, biddingerrors.ErrPublishFailed)
	}
}

// Run delivers queued events until ctx is done, then drains what is already
// queued for up to DrainTimeout
func (p *AsyncPublisher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := range p.shards {
		wg.Add(1)
		go func(ch <-chan Event) {
			defer wg.Done()
			p.work(ctx, ch)
		}(p.shards[i])
	}
	wg.Wait()
	return nil
}

// Stats returns a snapshot of the publisher counters
func (p *AsyncPublisher) Stats() Stats {
	return Stats{
		Enqueued:  p.enqueued.Load(),
		Delivered: p.delivered.Load(),
		Dropped:   p.dropped.Load(),
	}
}

func (p *AsyncPublisher) work(ctx context.Context, ch <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			p.drain(ch, nil)
			return
		case event := <-ch:
			if !p.deliver(ctx, event) {
				p.drain(ch, &event)
				return
			}
		}
	}
}

// drain delivers the interrupted event and the rest of the shard under a
// fresh deadline, dropping whatever is left when it expires
func (p *AsyncPublisher) drain(ch <-chan Event, interrupted *Event) {
	graceCtx, cancel := context.WithTimeout(context.Background(), p.opts.DrainTimeout)
	defer cancel()

	if interrupted != nil && !p.deliver(graceCtx, *interrupted) {
		p.abandon(*interrupted)
	}
	for {
		select {
		case event := <-ch:
			if graceCtx.Err() != nil || !p.deliver(graceCtx, event) {
				p.abandon(event)
			}
		default:
			return
		}
	}
}

func (p *AsyncPublisher) abandon(event Event) {
	p.dropped.Add(1)
	utils.Error("notify: dropping undelivered event at shutdown", map[string]any{
		"event_id":   event.EventID,
		"type":       event.Type,
		"auction_id": event.AuctionID,
	})
}

// deliver sends event with retries. It returns false only when ctx ended
// before the event was delivered or dropped.
func (p *AsyncPublisher) deliver(ctx context.Context, event Event) bool {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.opts.BaseDelay
	b.MaxInterval = p.opts.MaxDelay

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		sendCtx, cancel := context.WithTimeout(ctx, p.opts.SendTimeout)
		defer cancel()
		return struct{}{}, p.sink.Send(sendCtx, event)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.opts.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			utils.Warn("notify: delivery failed, retrying", map[string]any{
				"event_id":   event.EventID,
				"auction_id": event.AuctionID,
				"attempt":    attempt,
				"retry_in":   next.String(),
				"error":      err.Error(),
			})
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.dropped.Add(1)
		utils.Error("notify: dropping event after retries", map[string]any{
			"event_id":   event.EventID,
			"type":       event.Type,
			"auction_id": event.AuctionID,
			"attempts":   attempt,
			"error":      fmt.Errorf("%w: %w", biddingerrors.ErrPublishFailed, err).Error(),
		})
		return true
	}
	p.delivered.Add(1)
	return true
}

func (p *AsyncPublisher) shardFor(auctionID string) chan Event {
	h := fnv.New32a()
	_, _ = h.Write([]byte(auctionID))
	return p.shards[h.Sum32()%uint32(len(p.shards))]
}
