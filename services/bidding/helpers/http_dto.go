package helpers

import (
	"time"

	model "auction-service/internal/models"

	"github.com/shopspring/decimal"
)

// TimeFormat renders timestamps at the millisecond precision they are stored with
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Request/Response DTOs
type CreateAuctionRequest struct {
	ProductID string     `json:"product_id" binding:"required"`
	StartTime *time.Time `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
}

type PlaceBidRequest struct {
	Amount *decimal.Decimal `json:"amount" binding:"required"`
}

type BidResponse struct {
	BidID        string `json:"bid_id"`
	AuctionID    string `json:"auction_id"`
	BidderID     string `json:"bidder_id"`
	Amount       string `json:"amount"`
	CreatedAt    string `json:"created_at"`
	Status       string `json:"status"`
	RejectReason string `json:"reject_reason,omitempty"`
}

type AuctionResponse struct {
	AuctionID  string        `json:"auction_id"`
	ProductID  string        `json:"product_id"`
	SellerID   string        `json:"seller_id,omitempty"`
	StartTime  string        `json:"start_time"`
	EndTime    string        `json:"end_time"`
	Status     string        `json:"status"`
	CurrentBid *BidResponse  `json:"current_bid"`
	WinnerID   string        `json:"winner_id,omitempty"`
	Bids       []BidResponse `json:"bids,omitempty"`
	CreatedAt  string        `json:"created_at"`
	UpdatedAt  string        `json:"updated_at"`
}

// ToAuctionParams converts the request into service input
func (r CreateAuctionRequest) ToAuctionParams(sellerID string) model.AuctionParams {
	p := model.AuctionParams{ProductID: r.ProductID, SellerID: sellerID}
	if r.StartTime != nil {
		p.StartTime = *r.StartTime
	}
	if r.EndTime != nil {
		p.EndTime = *r.EndTime
	}
	return p
}

func NewBidResponse(b model.Bid) BidResponse {
	return BidResponse{
		BidID:        b.BidID,
		AuctionID:    b.AuctionID,
		BidderID:     b.BidderID,
		Amount:       b.Amount.String(),
		CreatedAt:    b.CreatedAt.UTC().Format(TimeFormat),
		Status:       string(b.Status),
		RejectReason: b.RejectReason,
	}
}

func NewBidResponses(bids []model.Bid) []BidResponse {
	out := make([]BidResponse, 0, len(bids))
	for _, b := range bids {
		out = append(out, NewBidResponse(b))
	}
	return out
}

func NewAuctionResponse(a model.Auction) AuctionResponse {
	resp := AuctionResponse{
		AuctionID: a.AuctionID,
		ProductID: a.ProductID,
		SellerID:  a.SellerID,
		StartTime: a.StartTime.UTC().Format(TimeFormat),
		EndTime:   a.EndTime.UTC().Format(TimeFormat),
		Status:    string(a.Status),
		WinnerID:  a.WinnerID,
		CreatedAt: a.CreatedAt.UTC().Format(TimeFormat),
		UpdatedAt: a.UpdatedAt.UTC().Format(TimeFormat),
	}
	if a.CurrentBid != nil {
		cb := NewBidResponse(*a.CurrentBid)
		resp.CurrentBid = &cb
	}
	if len(a.Bids) > 0 {
		resp.Bids = NewBidResponses(a.Bids)
	}
	return resp
}

func NewAuctionResponses(auctions []model.Auction) []AuctionResponse {
	out := make([]AuctionResponse, 0, len(auctions))
	for _, a := range auctions {
		out = append(out, NewAuctionResponse(a))
	}
	return out
}
