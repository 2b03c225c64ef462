package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuctionStatus is the lifecycle state of an auction
type AuctionStatus string

const (
	AuctionPending   AuctionStatus = "pending"
	AuctionActive    AuctionStatus = "active"
	AuctionCompleted AuctionStatus = "completed"
	AuctionCancelled AuctionStatus = "cancelled"
)

// Terminal reports whether no further transition is possible from s.
func (s AuctionStatus) Terminal() bool {
	return s == AuctionCompleted || s == AuctionCancelled
}

// Valid reports whether s is one of the known statuses.
func (s AuctionStatus) Valid() bool {
	switch s {
	case AuctionPending, AuctionActive, AuctionCompleted, AuctionCancelled:
		return true
	}
	return false
}

// BidStatus records whether a bid was accepted by the validator
type BidStatus string

const (
	BidAccepted BidStatus = "accepted"
	BidRejected BidStatus = "rejected"
)

// Product is the catalog's view of a sellable product
type Product struct {
	ProductID   string    `json:"product_id"`
	ReleaseDate time.Time `json:"release_date"`
	ExpiryDate  time.Time `json:"expiry_date"`
}

// Auction represents a time-boxed competition for a single product
type Auction struct {
	AuctionID string        `json:"auction_id"`
	ProductID string        `json:"product_id"`
	SellerID  string        `json:"seller_id,omitempty"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Status    AuctionStatus `json:"status"`
	// CurrentBid is the highest accepted bid, nil until the first acceptance.
	CurrentBid *Bid      `json:"current_bid"`
	WinnerID   string    `json:"winner_id,omitempty"`
	Bids       []Bid     `json:"bids,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CurrentBidID returns the id of the current bid or "" when there is none.
func (a Auction) CurrentBidID() string {
	if a.CurrentBid == nil {
		return ""
	}
	return a.CurrentBid.BidID
}

// OpenAt reports whether a is accepting bids at t.
func (a Auction) OpenAt(t time.Time) bool {
	return a.Status == AuctionActive && !t.Before(a.StartTime) && t.Before(a.EndTime)
}

// AuctionParams describes an auction to create. A zero StartTime and
// EndTime take the window from the product's release and expiry dates.
type AuctionParams struct {
	ProductID string
	SellerID  string
	StartTime time.Time
	EndTime   time.Time
}

// Bid represents a bidder's offer on an auction
type Bid struct {
	BidID        string          `json:"bid_id"`
	AuctionID    string          `json:"auction_id"`
	BidderID     string          `json:"bidder_id"`
	Amount       decimal.Decimal `json:"amount"`
	CreatedAt    time.Time       `json:"created_at"`
	Status       BidStatus       `json:"status"`
	RejectReason string          `json:"reject_reason,omitempty"`
}

// AuctionFilter narrows ListAuctions. Zero values match everything.
type AuctionFilter struct {
	Statuses   []AuctionStatus
	ProductID  string
	EndsBefore time.Time
	// StartsBefore matches auctions whose StartTime is at or before the given instant.
	StartsBefore time.Time
}

// Match reports whether a satisfies f.
func (f AuctionFilter) Match(a Auction) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if a.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ProductID != "" && a.ProductID != f.ProductID {
		return false
	}
	if !f.EndsBefore.IsZero() && a.EndTime.After(f.EndsBefore) {
		return false
	}
	if !f.StartsBefore.IsZero() && a.StartTime.After(f.StartsBefore) {
		return false
	}
	return true
}
