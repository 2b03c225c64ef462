package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"auction-service/internal/biddingerrors"
	model "auction-service/internal/models"

	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// recordingSink records deliveries and fails the first failures sends per event
type recordingSink struct {
	mu       sync.Mutex
	failures int
	attempts map[string]int
	sent     []Event
}

func newRecordingSink(failures int) *recordingSink {
	return &recordingSink{failures: failures, attempts: make(map[string]int)}
}

func (s *recordingSink) Send(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[event.EventID]++
	if s.attempts[event.EventID] <= s.failures {
		return errors.New("broker unavailable")
	}
	s.sent = append(s.sent, event)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) delivered() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.sent...)
}

func bidEvent(auctionID string, amount int64) Event {
	return BidAccepted(model.Bid{
		BidID:     fmt.Sprintf("%s-bid-%d", auctionID, amount),
		AuctionID: auctionID,
		BidderID:  "user1",
		Amount:    decimal.NewFromInt(amount),
		CreatedAt: time.Now().UTC(),
		Status:    model.BidAccepted,
	})
}

func fastOptions() Options {
	return Options{Workers: 4, QueueSize: 256, MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, SendTimeout: time.Second}
}

func startPublisher(t *testing.T, p *AsyncPublisher) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestAsyncPublisher_DeliversInOrderPerAuction(t *testing.T) {
	t.Parallel()

	sink := newRecordingSink(0)
	p := NewAsyncPublisher(sink, fastOptions())
	startPublisher(t, p)

	ctx := context.Background()
	for i := int64(1); i <= 50; i++ {
		require.NoError(t, p.Publish(ctx, bidEvent("a1", i)))
		require.NoError(t, p.Publish(ctx, bidEvent("a2", i)))
	}

	require.Eventually(t, func() bool { return len(sink.delivered()) == 100 }, 2*time.Second, 5*time.Millisecond)

	last := map[string]int64{}
	for _, e := range sink.delivered() {
		amount := e.Bid.Amount.IntPart()
		require.Greater(t, amount, last[e.AuctionID], "events for %s out of order", e.AuctionID)
		last[e.AuctionID] = amount
	}
	require.Equal(t, int64(100), p.Stats().Delivered)
}

func TestAsyncPublisher_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	sink := newRecordingSink(2)
	p := NewAsyncPublisher(sink, fastOptions())
	startPublisher(t, p)

	e := bidEvent("a1", 100)
	require.NoError(t, p.Publish(context.Background(), e))

	require.Eventually(t, func() bool { return len(sink.delivered()) == 1 }, 2*time.Second, 5*time.Millisecond)
	sink.mu.Lock()
	require.Equal(t, 3, sink.attempts[e.EventID])
	sink.mu.Unlock()
}

func TestAsyncPublisher_DropsAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	sink := NewMockSink(ctrl)
	sink.EXPECT().Send(gomock.Any(), gomock.Any()).Return(errors.New("broker down")).Times(3)

	p := NewAsyncPublisher(sink, fastOptions())
	startPublisher(t, p)

	require.NoError(t, p.Publish(context.Background(), bidEvent("a1", 100)))
	require.Eventually(t, func() bool { return p.Stats().Dropped == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, int64(0), p.Stats().Delivered)
}

func TestAsyncPublisher_FullQueueDoesNotBlock(t *testing.T) {
	t.Parallel()

	// no Run: nothing drains the single-slot shard
	p := NewAsyncPublisher(newRecordingSink(0), Options{Workers: 1, QueueSize: 1})
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx, bidEvent("a1", 1)))

	done := make(chan error, 1)
	go func() { done <- p.Publish(ctx, bidEvent("a1", 2)) }()

	select {
	case err := <-done:
		require.ErrorIs(t, err, biddingerrors.ErrPublishFailed)
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
	require.Equal(t, Stats{Enqueued: 1, Dropped: 1}, p.Stats())
}

func TestAsyncPublisher_RejectsInvalidEvents(t *testing.T) {
	t.Parallel()

	p := NewAsyncPublisher(newRecordingSink(0), fastOptions())

	tests := []struct {
		name  string
		event Event
	}{
		{name: "missing_event_id", event: Event{Type: EventAuctionCompleted, AuctionID: "a1"}},
		{name: "missing_auction_id", event: Event{EventID: "e1", Type: EventAuctionCompleted}},
		{name: "bid_event_without_bid", event: Event{EventID: "e1", Type: EventBidAccepted, AuctionID: "a1"}},
		{name: "unknown_type", event: Event{EventID: "e1", Type: "auction.reopened", AuctionID: "a1"}},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.ErrorIs(t, p.Publish(context.Background(), tc.event), biddingerrors.ErrPublishFailed)
		})
	}
}

func TestAuctionClosedEvent(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	current := model.Bid{BidID: "b1", AuctionID: "a1", BidderID: "user1", Amount: decimal.NewFromInt(150)}

	completed := AuctionClosed(model.Auction{AuctionID: "a1", Status: model.AuctionCompleted, WinnerID: "user1", CurrentBid: &current}, now)
	require.Equal(t, EventAuctionCompleted, completed.Type)
	require.Equal(t, "user1", completed.WinnerID)
	require.Equal(t, "b1", completed.Bid.BidID)
	require.NoError(t, completed.Validate())

	cancelled := AuctionClosed(model.Auction{AuctionID: "a2", Status: model.AuctionCancelled}, now)
	require.Equal(t, EventAuctionCancelled, cancelled.Type)
	require.Nil(t, cancelled.Bid)
	require.NoError(t, cancelled.Validate())
}

func TestSinkEncoding(t *testing.T) {
	t.Parallel()

	e := bidEvent("a1", 150)

	msg, err := kafkaMessage(e)
	require.NoError(t, err)
	require.Equal(t, "a1", string(msg.Key))
	require.Len(t, msg.Headers, 2)

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	require.Equal(t, e.EventID, decoded.EventID)
	require.True(t, decoded.Bid.Amount.Equal(decimal.NewFromInt(150)))

	args, err := streamArgs("auction:events", 1000, e)
	require.NoError(t, err)
	require.Equal(t, "auction:events", args.Stream)
	require.True(t, args.Approx)
	values := args.Values.(map[string]any)
	require.Equal(t, "a1", values["auction_id"])
	require.Equal(t, string(EventBidAccepted), values["type"])

	require.NoError(t, LogSink{}.Send(context.Background(), e))
}

func TestAsyncPublisher_DrainsQueueOnShutdown(t *testing.T) {
	t.Parallel()

	sink := newRecordingSink(1)
	p := NewAsyncPublisher(sink, fastOptions())
	for i := int64(1); i <= 10; i++ {
		require.NoError(t, p.Publish(context.Background(), bidEvent("a1", i)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.Run(ctx))

	require.Len(t, sink.delivered(), 10)
	require.Equal(t, Stats{Enqueued: 10, Delivered: 10}, p.Stats())
	require.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, amountsOf(sink.delivered()))
}
