package repository

import (
	"auction-service/internal/biddingerrors"
	model "auction-service/internal/models"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// auctionRecord is the persisted row of an auction. Times are unix millis so
// range predicates compare numerically.
type auctionRecord struct {
	ID              string          `gorm:"primaryKey;size:64"`
	ProductID       string          `gorm:"size:64;not null;index"`
	SellerID        string          `gorm:"size:64"`
	StartAt         int64           `gorm:"not null;index"`
	EndAt           int64           `gorm:"not null;index"`
	Status          string          `gorm:"size:16;not null;index"`
	CurrentBidID    string          `gorm:"size:64;not null;default:''"`
	CurrentBidderID string          `gorm:"size:64"`
	CurrentAmount   decimal.Decimal `gorm:"type:text"`
	CurrentBidAt    int64
	WinnerID        string `gorm:"size:64"`
	CreatedAtMs     int64  `gorm:"not null"`
	UpdatedAtMs     int64  `gorm:"not null"`
}

func (auctionRecord) TableName() string { return "auctions" }

// bidRecord is the persisted row of a ledger entry
type bidRecord struct {
	ID           string          `gorm:"primaryKey;size:64"`
	AuctionID    string          `gorm:"size:64;not null;index"`
	BidderID     string          `gorm:"size:64;not null;index"`
	Amount       decimal.Decimal `gorm:"type:text;not null"`
	CreatedAtMs  int64           `gorm:"not null;index"`
	Status       string          `gorm:"size:16;not null"`
	RejectReason string          `gorm:"size:32"`
}

func (bidRecord) TableName() string { return "bids" }

// SQLRepo is a gorm-backed implementation of AuctionStore and BidLedger
type SQLRepo struct {
	db *gorm.DB
}

// NewSQLRepo wraps an open gorm handle and migrates the schema
func NewSQLRepo(db *gorm.DB) (*SQLRepo, error) {
	if err := db.AutoMigrate(&auctionRecord{}, &bidRecord{}); err != nil {
		return nil, fmt.Errorf("migrate auction schema: %w", err)
	}
	return &SQLRepo{db: db}, nil
}

// OpenSQLite opens (creating if needed) a SQLite database at path
func OpenSQLite(path string) (*SQLRepo, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := path + "?_busy_timeout=5000&_journal_mode=WAL"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY churn.
	sqlDB.SetMaxOpenConns(1)
	return NewSQLRepo(db)
}

// Close releases the underlying connection pool
func (r *SQLRepo) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateAuction inserts a new auction row
func (r *SQLRepo) CreateAuction(ctx context.Context, auction model.Auction) error {
	if auction.AuctionID == "" {
		return fmt.Errorf("create auction: %w - empty auction id", biddingerrors.ErrInvalidAuction)
	}
	if !auction.StartTime.Before(auction.EndTime) {
		return fmt.Errorf("create auction %s: %w", auction.AuctionID, biddingerrors.ErrInvalidWindow)
	}

	rec := toAuctionRecord(auction)
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if res.Error != nil {
		return storageErr("create auction "+auction.AuctionID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("create auction %s: %w - duplicate id", auction.AuctionID, biddingerrors.ErrInvalidAuction)
	}
	return nil
}

// GetAuction loads one auction row
func (r *SQLRepo) GetAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	var rec auctionRecord
	err := r.db.WithContext(ctx).Where("id = ?", auctionID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	if err != nil {
		return model.Auction{}, storageErr("get auction "+auctionID, err)
	}
	return rec.toModel(), nil
}

// ListAuctions returns auctions matching filter ordered by start time
func (r *SQLRepo) ListAuctions(ctx context.Context, filter model.AuctionFilter) ([]model.Auction, error) {
	q := r.db.WithContext(ctx).Model(&auctionRecord{})
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		q = q.Where("status IN ?", statuses)
	}
	if filter.ProductID != "" {
		q = q.Where("product_id = ?", filter.ProductID)
	}
	if !filter.EndsBefore.IsZero() {
		q = q.Where("end_at <= ?", toMillis(filter.EndsBefore))
	}
	if !filter.StartsBefore.IsZero() {
		q = q.Where("start_at <= ?", toMillis(filter.StartsBefore))
	}

	var recs []auctionRecord
	if err := q.Order("start_at, id").Find(&recs).Error; err != nil {
		return nil, storageErr("list auctions", err)
	}
	out := make([]model.Auction, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.toModel())
	}
	return out, nil
}

// CompareAndUpdateCurrentBid is a single conditional UPDATE; RowsAffected
// tells whether the caller's snapshot was still current.
func (r *SQLRepo) CompareAndUpdateCurrentBid(ctx context.Context, auctionID, expectedCurrentBidID string, newBid model.Bid) error {
	at := toMillis(newBid.CreatedAt)
	res := r.db.WithContext(ctx).Model(&auctionRecord{}).
		Where("id = ? AND current_bid_id = ? AND status = ? AND end_at > ?",
			auctionID, expectedCurrentBidID, string(model.AuctionActive), at).
		Updates(map[string]any{
			"current_bid_id":    newBid.BidID,
			"current_bidder_id": newBid.BidderID,
			"current_amount":    newBid.Amount,
			"current_bid_at":    at,
			"updated_at_ms":     at,
		})
	if res.Error != nil {
		return storageErr("update current bid for auction "+auctionID, res.Error)
	}
	if res.RowsAffected == 0 {
		return r.missOrConflict(ctx, "update current bid for auction "+auctionID, auctionID)
	}
	return nil
}

// CompareAndUpdateStatus is a single conditional UPDATE on status and current bid id
func (r *SQLRepo) CompareAndUpdateStatus(ctx context.Context, auctionID string, from model.AuctionStatus, expectedCurrentBidID string, to model.AuctionStatus, winnerID string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&auctionRecord{}).
		Where("id = ? AND status = ? AND current_bid_id = ?", auctionID, string(from), expectedCurrentBidID).
		Updates(map[string]any{
			"status":        string(to),
			"winner_id":     winnerID,
			"updated_at_ms": toMillis(at),
		})
	if res.Error != nil {
		return storageErr("update status for auction "+auctionID, res.Error)
	}
	if res.RowsAffected == 0 {
		return r.missOrConflict(ctx, "update status for auction "+auctionID, auctionID)
	}
	return nil
}

func (r *SQLRepo) missOrConflict(ctx context.Context, op, auctionID string) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&auctionRecord{}).Where("id = ?", auctionID).Count(&count).Error; err != nil {
		return storageErr(op, err)
	}
	if count == 0 {
		return fmt.Errorf("%s: %w", op, biddingerrors.ErrAuctionNotFound)
	}
	return fmt.Errorf("%s: %w", op, biddingerrors.ErrConflict)
}

// Append inserts a ledger row, ignoring an identical duplicate
func (r *SQLRepo) Append(ctx context.Context, bid model.Bid) error {
	if bid.BidID == "" || bid.AuctionID == "" {
		return fmt.Errorf("append bid: %w - missing bid or auction id", biddingerrors.ErrInvalidBid)
	}

	rec := toBidRecord(bid)
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if res.Error != nil {
		return storageErr("append bid "+bid.BidID, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var existing bidRecord
	if err := r.db.WithContext(ctx).Where("id = ?", bid.BidID).Take(&existing).Error; err != nil {
		return storageErr("append bid "+bid.BidID, err)
	}
	if !sameBid(existing.toModel(), rec.toModel()) {
		return fmt.Errorf("append bid %s: %w", bid.BidID, biddingerrors.ErrDuplicateBidID)
	}
	return nil
}

// ListByAuction returns ledger rows for an auction in acceptance order
func (r *SQLRepo) ListByAuction(ctx context.Context, auctionID string) ([]model.Bid, error) {
	return r.listBids(ctx, "list bids for auction "+auctionID, "auction_id = ?", auctionID)
}

// ListByBidder returns ledger rows placed by a bidder
func (r *SQLRepo) ListByBidder(ctx context.Context, bidderID string) ([]model.Bid, error) {
	return r.listBids(ctx, "list bids for bidder "+bidderID, "bidder_id = ?", bidderID)
}

// ListAll returns every ledger row
func (r *SQLRepo) ListAll(ctx context.Context) ([]model.Bid, error) {
	return r.listBids(ctx, "list all bids", "1 = 1")
}

func (r *SQLRepo) listBids(ctx context.Context, op, where string, args ...any) ([]model.Bid, error) {
	var recs []bidRecord
	if err := r.db.WithContext(ctx).Where(where, args...).Order("created_at_ms, rowid").Find(&recs).Error; err != nil {
		return nil, storageErr(op, err)
	}
	out := make([]model.Bid, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.toModel())
	}
	return out, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, biddingerrors.ErrStorageUnavailable, err)
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func toAuctionRecord(a model.Auction) auctionRecord {
	rec := auctionRecord{
		ID:          a.AuctionID,
		ProductID:   a.ProductID,
		SellerID:    a.SellerID,
		StartAt:     toMillis(a.StartTime),
		EndAt:       toMillis(a.EndTime),
		Status:      string(a.Status),
		WinnerID:    a.WinnerID,
		CreatedAtMs: toMillis(a.CreatedAt),
		UpdatedAtMs: toMillis(a.UpdatedAt),
	}
	if a.CurrentBid != nil {
		rec.CurrentBidID = a.CurrentBid.BidID
		rec.CurrentBidderID = a.CurrentBid.BidderID
		rec.CurrentAmount = a.CurrentBid.Amount
		rec.CurrentBidAt = toMillis(a.CurrentBid.CreatedAt)
	}
	return rec
}

func (rec auctionRecord) toModel() model.Auction {
	a := model.Auction{
		AuctionID: rec.ID,
		ProductID: rec.ProductID,
		SellerID:  rec.SellerID,
		StartTime: fromMillis(rec.StartAt),
		EndTime:   fromMillis(rec.EndAt),
		Status:    model.AuctionStatus(rec.Status),
		WinnerID:  rec.WinnerID,
		CreatedAt: fromMillis(rec.CreatedAtMs),
		UpdatedAt: fromMillis(rec.UpdatedAtMs),
	}
	if rec.CurrentBidID != "" {
		a.CurrentBid = &model.Bid{
			BidID:     rec.CurrentBidID,
			AuctionID: rec.ID,
			BidderID:  rec.CurrentBidderID,
			Amount:    rec.CurrentAmount,
			CreatedAt: fromMillis(rec.CurrentBidAt),
			Status:    model.BidAccepted,
		}
	}
	return a
}

func toBidRecord(b model.Bid) bidRecord {
	return bidRecord{
		ID:           b.BidID,
		AuctionID:    b.AuctionID,
		BidderID:     b.BidderID,
		Amount:       b.Amount,
		CreatedAtMs:  toMillis(b.CreatedAt),
		Status:       string(b.Status),
		RejectReason: b.RejectReason,
	}
}

func (rec bidRecord) toModel() model.Bid {
	return model.Bid{
		BidID:        rec.ID,
		AuctionID:    rec.AuctionID,
		BidderID:     rec.BidderID,
		Amount:       rec.Amount,
		CreatedAt:    fromMillis(rec.CreatedAtMs),
		Status:       model.BidStatus(rec.Status),
		RejectReason: rec.RejectReason,
	}
}
