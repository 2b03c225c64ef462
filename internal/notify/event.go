// Package notify announces auction events to downstream consumers without
// blocking the caller on their delivery.
package notify

import (
	"fmt"
	"time"

	model "auction-service/internal/models"
	"auction-service/utils"
)

// EventType names the kind of notification
type EventType string

const (
	EventBidAccepted      EventType = "bid.accepted"
	EventAuctionCompleted EventType = "auction.completed"
	EventAuctionCancelled EventType = "auction.cancelled"
)

// Event is the message produced to the notification channel. Delivery is
// at-least-once; consumers dedupe on EventID.
type Event struct {
	EventID    string              `json:"event_id"`
	Type       EventType           `json:"type"`
	AuctionID  string              `json:"auction_id"`
	Bid        *model.Bid          `json:"bid,omitempty"`
	Status     model.AuctionStatus `json:"status,omitempty"`
	WinnerID   string              `json:"winner_id,omitempty"`
	OccurredAt time.Time           `json:"occurred_at"`
}

// BidAccepted builds the event for a committed bid acceptance
func BidAccepted(bid model.Bid) Event {
	b := bid
	return Event{
		EventID:    utils.GenerateID(),
		Type:       EventBidAccepted,
		AuctionID:  bid.AuctionID,
		Bid:        &b,
		OccurredAt: bid.CreatedAt,
	}
}

// AuctionClosed builds the event for a terminal transition
func AuctionClosed(auction model.Auction, at time.Time) Event {
	e := Event{
		EventID:    utils.GenerateID(),
		Type:       EventAuctionCompleted,
		AuctionID:  auction.AuctionID,
		Status:     auction.Status,
		WinnerID:   auction.WinnerID,
		OccurredAt: at,
	}
	if auction.Status == model.AuctionCancelled {
		e.Type = EventAuctionCancelled
	}
	if auction.CurrentBid != nil {
		b := *auction.CurrentBid
		e.Bid = &b
	}
	return e
}

// Validate rejects events a consumer could not process
func (e Event) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.AuctionID == "" {
		return fmt.Errorf("auction_id is required")
	}
	switch e.Type {
	case EventBidAccepted:
		if e.Bid == nil {
			return fmt.Errorf("bid is required for %s", e.Type)
		}
	case EventAuctionCompleted, EventAuctionCancelled:
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}
