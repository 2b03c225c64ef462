package repository

import (
	"auction-service/internal/biddingerrors"
	model "auction-service/internal/models"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type store interface {
	AuctionStore
	BidLedger
}

// Each test runs against every implementation.
func implementations(t *testing.T) map[string]func(t *testing.T) store {
	return map[string]func(t *testing.T) store{
		"memory": func(t *testing.T) store { return NewMemoryRepo() },
		"sqlite": func(t *testing.T) store {
			repo, err := OpenSQLite(filepath.Join(t.TempDir(), "auctions.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = repo.Close() })
			return repo
		},
	}
}

var base = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

// Helper to create a new Auction
func newAuction(auctionID string, status model.AuctionStatus) model.Auction {
	return model.Auction{
		AuctionID: auctionID,
		ProductID: "product-" + auctionID,
		StartTime: base.Add(-time.Hour),
		EndTime:   base.Add(time.Hour),
		Status:    status,
		CreatedAt: base.Add(-2 * time.Hour),
		UpdatedAt: base.Add(-2 * time.Hour),
	}
}

// Helper to create a new Bid
func newBid(bidID, auctionID, bidderID string, amount int64, createdAt time.Time) model.Bid {
	return model.Bid{
		BidID:     bidID,
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    decimal.NewFromInt(amount),
		CreatedAt: createdAt,
		Status:    model.BidAccepted,
	}
}

func TestRepo_CreateAndGetAuction(t *testing.T) {
	t.Parallel()

	for name, open := range implementations(t) {
		open := open
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			repo := open(t)
			ctx := context.Background()

			a := newAuction("a1", model.AuctionActive)
			require.NoError(t, repo.CreateAuction(ctx, a))

			got, err := repo.GetAuction(ctx, "a1")
			require.NoError(t, err)
			require.Equal(t, a.AuctionID, got.AuctionID)
			require.Equal(t, a.ProductID, got.ProductID)
			require.True(t, a.StartTime.Equal(got.StartTime))
			require.True(t, a.EndTime.Equal(got.EndTime))
			require.Equal(t, model.AuctionActive, got.Status)
			require.Nil(t, got.CurrentBid)

			_, err = repo.GetAuction(ctx, "missing")
			require.ErrorIs(t, err, biddingerrors.ErrAuctionNotFound)

			err = repo.CreateAuction(ctx, a)
			require.ErrorIs(t, err, biddingerrors.ErrInvalidAuction)

			bad := newAuction("a2", model.AuctionPending)
			bad.EndTime = bad.StartTime
			require.ErrorIs(t, repo.CreateAuction(ctx, bad), biddingerrors.ErrInvalidWindow)

			bad.EndTime = bad.StartTime.Add(-time.Minute)
			require.ErrorIs(t, repo.CreateAuction(ctx, bad), biddingerrors.ErrInvalidWindow)
		})
	}
}

func TestRepo_ListAuctions(t *testing.T) {
	t.Parallel()

	for name, open := range implementations(t) {
		open := open
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			repo := open(t)
			ctx := context.Background()

			pending := newAuction("p1", model.AuctionPending)
			pending.StartTime = base.Add(time.Hour)
			pending.EndTime = base.Add(2 * time.Hour)
			active := newAuction("a1", model.AuctionActive)
			expired := newAuction("a2", model.AuctionActive)
			expired.StartTime = base.Add(-3 * time.Hour)
			expired.EndTime = base.Add(-time.Minute)
			expired.ProductID = "shared"
			done := newAuction("c1", model.AuctionCompleted)
			done.ProductID = "shared"

			for _, a := range []model.Auction{pending, active, expired, done} {
				require.NoError(t, repo.CreateAuction(ctx, a))
			}

			tests := []struct {
				name    string
				filter  model.AuctionFilter
				wantIDs []string
			}{
				{name: "all", filter: model.AuctionFilter{}, wantIDs: []string{"a2", "a1", "c1", "p1"}},
				{name: "by_status", filter: model.AuctionFilter{Statuses: []model.AuctionStatus{model.AuctionActive}}, wantIDs: []string{"a2", "a1"}},
				{name: "by_product", filter: model.AuctionFilter{ProductID: "shared"}, wantIDs: []string{"a2", "c1"}},
				{name: "expired_active", filter: model.AuctionFilter{Statuses: []model.AuctionStatus{model.AuctionActive}, EndsBefore: base}, wantIDs: []string{"a2"}},
				{name: "due_pending", filter: model.AuctionFilter{Statuses: []model.AuctionStatus{model.AuctionPending}, StartsBefore: base}, wantIDs: []string{}},
				{name: "no_match", filter: model.AuctionFilter{ProductID: "none"}, wantIDs: []string{}},
			}

			for _, tc := range tests {
				auctions, err := repo.ListAuctions(ctx, tc.filter)
				require.NoError(t, err, tc.name)
				ids := make([]string, 0, len(auctions))
				for _, a := range auctions {
					ids = append(ids, a.AuctionID)
				}
				require.Equal(t, tc.wantIDs, ids, tc.name)
			}
		})
	}
}

func TestRepo_CompareAndUpdateCurrentBid(t *testing.T) {
	t.Parallel()

	for name, open := range implementations(t) {
		open := open
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			repo := open(t)
			ctx := context.Background()

			require.NoError(t, repo.CreateAuction(ctx, newAuction("a1", model.AuctionActive)))
			require.NoError(t, repo.CreateAuction(ctx, newAuction("p1", model.AuctionPending)))

			first := newBid("b1", "a1", "user1", 100, base)
			require.NoError(t, repo.CompareAndUpdateCurrentBid(ctx, "a1", "", first))

			// stale expectation
			stale := newBid("b2", "a1", "user2", 150, base.Add(time.Second))
			require.ErrorIs(t, repo.CompareAndUpdateCurrentBid(ctx, "a1", "", stale), biddingerrors.ErrConflict)

			require.NoError(t, repo.CompareAndUpdateCurrentBid(ctx, "a1", "b1", stale))

			got, err := repo.GetAuction(ctx, "a1")
			require.NoError(t, err)
			require.NotNil(t, got.CurrentBid)
			require.Equal(t, "b2", got.CurrentBid.BidID)
			require.Equal(t, "user2", got.CurrentBid.BidderID)
			require.True(t, decimal.NewFromInt(150).Equal(got.CurrentBid.Amount))

			// at or after end time
			late := newBid("b3", "a1", "user3", 200, base.Add(time.Hour))
			require.ErrorIs(t, repo.CompareAndUpdateCurrentBid(ctx, "a1", "b2", late), biddingerrors.ErrConflict)

			// not active
			require.ErrorIs(t, repo.CompareAndUpdateCurrentBid(ctx, "p1", "", newBid("b4", "p1", "user1", 10, base)), biddingerrors.ErrConflict)

			require.ErrorIs(t, repo.CompareAndUpdateCurrentBid(ctx, "missing", "", newBid("b5", "missing", "user1", 10, base)), biddingerrors.ErrAuctionNotFound)
		})
	}
}

func TestRepo_CompareAndUpdateStatus(t *testing.T) {
	t.Parallel()

	for name, open := range implementations(t) {
		open := open
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			repo := open(t)
			ctx := context.Background()

			require.NoError(t, repo.CreateAuction(ctx, newAuction("a1", model.AuctionActive)))
			require.NoError(t, repo.CompareAndUpdateCurrentBid(ctx, "a1", "", newBid("b1", "a1", "user1", 100, base)))

			// closer observed no bid; a bid landed since
			err := repo.CompareAndUpdateStatus(ctx, "a1", model.AuctionActive, "", model.AuctionCompleted, "", base)
			require.ErrorIs(t, err, biddingerrors.ErrConflict)

			closedAt := base.Add(time.Minute + 1500*time.Microsecond)
			require.NoError(t, repo.CompareAndUpdateStatus(ctx, "a1", model.AuctionActive, "b1", model.AuctionCompleted, "user1", closedAt))

			got, err := repo.GetAuction(ctx, "a1")
			require.NoError(t, err)
			require.Equal(t, model.AuctionCompleted, got.Status)
			require.Equal(t, "user1", got.WinnerID)
			require.True(t, closedAt.Truncate(time.Millisecond).Equal(got.UpdatedAt), "updated_at %s", got.UpdatedAt)

			// closing landed first; the late bid cannot commit
			err = repo.CompareAndUpdateCurrentBid(ctx, "a1", "b1", newBid("b2", "a1", "user2", 500, base.Add(time.Second)))
			require.ErrorIs(t, err, biddingerrors.ErrConflict)

			// second closer loses
			err = repo.CompareAndUpdateStatus(ctx, "a1", model.AuctionActive, "b1", model.AuctionCompleted, "user1", base)
			require.ErrorIs(t, err, biddingerrors.ErrConflict)

			err = repo.CompareAndUpdateStatus(ctx, "missing", model.AuctionActive, "", model.AuctionCompleted, "", base)
			require.ErrorIs(t, err, biddingerrors.ErrAuctionNotFound)
		})
	}
}

func TestRepo_ConcurrentCompareAndUpdate(t *testing.T) {
	t.Parallel()

	for name, open := range implementations(t) {
		open := open
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			repo := open(t)
			ctx := context.Background()
			require.NoError(t, repo.CreateAuction(ctx, newAuction("a1", model.AuctionActive)))

			var wg sync.WaitGroup
			var wins int64
			concurrentCount := 20

			for i := 0; i < concurrentCount; i++ {
				wg.Add(1)
				i := i
				go func() {
					defer wg.Done()
					b := newBid(fmt.Sprintf("bid-%d", i), "a1", fmt.Sprintf("user-%d", i), int64(100+i), base)
					err := repo.CompareAndUpdateCurrentBid(ctx, "a1", "", b)
					if err == nil {
						atomic.AddInt64(&wins, 1)
						return
					}
					require.True(t, errors.Is(err, biddingerrors.ErrConflict), "unexpected error: %v", err)
				}()
			}
			wg.Wait()

			require.Equal(t, int64(1), wins)
		})
	}
}

func TestRepo_Append(t *testing.T) {
	t.Parallel()

	for name, open := range implementations(t) {
		open := open
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			repo := open(t)
			ctx := context.Background()

			bid := newBid("b1", "a1", "user1", 100, base)
			require.NoError(t, repo.Append(ctx, bid))

			// identical re-delivery is a no-op
			require.NoError(t, repo.Append(ctx, bid))

			bids, err := repo.ListByAuction(ctx, "a1")
			require.NoError(t, err)
			require.Len(t, bids, 1)

			changed := bid
			changed.Amount = decimal.NewFromInt(999)
			require.ErrorIs(t, repo.Append(ctx, changed), biddingerrors.ErrDuplicateBidID)

			require.ErrorIs(t, repo.Append(ctx, newBid("", "a1", "user1", 1, base)), biddingerrors.ErrInvalidBid)
			require.ErrorIs(t, repo.Append(ctx, newBid("b9", "", "user1", 1, base)), biddingerrors.ErrInvalidBid)
		})
	}
}

func TestRepo_ListBids(t *testing.T) {
	t.Parallel()

	for name, open := range implementations(t) {
		open := open
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			repo := open(t)
			ctx := context.Background()

			b1 := newBid("b1", "a1", "user1", 100, base)
			b2 := newBid("b2", "a1", "user2", 150, base.Add(time.Second))
			b3 := newBid("b3", "a2", "user1", 50, base.Add(2*time.Second))
			rejected := newBid("b4", "a1", "user3", 90, base.Add(3*time.Second))
			rejected.Status = model.BidRejected
			rejected.RejectReason = string(biddingerrors.ReasonBidTooLow)

			// out of order arrival from the write-behind path
			for _, b := range []model.Bid{b2, b1, b3, rejected} {
				require.NoError(t, repo.Append(ctx, b))
			}

			byAuction, err := repo.ListByAuction(ctx, "a1")
			require.NoError(t, err)
			require.Equal(t, []string{"b1", "b2", "b4"}, bidIDs(byAuction))
			require.Equal(t, model.BidRejected, byAuction[2].Status)
			require.Equal(t, "BidTooLow", byAuction[2].RejectReason)

			byBidder, err := repo.ListByBidder(ctx, "user1")
			require.NoError(t, err)
			require.Equal(t, []string{"b1", "b3"}, bidIDs(byBidder))

			none, err := repo.ListByBidder(ctx, "nobody")
			require.NoError(t, err)
			require.Empty(t, none)

			all, err := repo.ListAll(ctx)
			require.NoError(t, err)
			require.Equal(t, []string{"b1", "b2", "b3", "b4"}, bidIDs(all))
		})
	}
}

func TestMemoryRepo_ConcurrentAppend(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepo()
	ctx := context.Background()

	var wg sync.WaitGroup
	concurrentCount := 50

	for i := 0; i < concurrentCount; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			b := newBid(fmt.Sprintf("bid-%d", i%25), "a1", fmt.Sprintf("user-%d", i%25), int64(100+i%25), base)
			require.NoError(t, repo.Append(ctx, b))
		}()
	}
	wg.Wait()

	bids, err := repo.ListByAuction(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, bids, 25)
}

func TestMemoryRepo_SnapshotsAreCopies(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepo()
	ctx := context.Background()
	require.NoError(t, repo.CreateAuction(ctx, newAuction("a1", model.AuctionActive)))
	require.NoError(t, repo.CompareAndUpdateCurrentBid(ctx, "a1", "", newBid("b1", "a1", "user1", 100, base)))

	snap, err := repo.GetAuction(ctx, "a1")
	require.NoError(t, err)
	snap.CurrentBid.Amount = decimal.NewFromInt(1)

	again, err := repo.GetAuction(ctx, "a1")
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(100).Equal(again.CurrentBid.Amount))
}

func TestMemoryRepo_CanceledContext(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepo()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.GetAuction(ctx, "a1")
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, repo.Append(ctx, newBid("b1", "a1", "u", 1, base)), context.Canceled)
}

func bidIDs(bids []model.Bid) []string {
	ids := make([]string, 0, len(bids))
	for _, b := range bids {
		ids = append(ids, b.BidID)
	}
	return ids
}
