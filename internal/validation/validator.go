// Package validation decides whether a candidate bid may replace an auction's
// current bid. It performs no I/O; callers pass the snapshot they read and
// must commit the decision with a compare-and-update against that snapshot.
package validation

import (
	"auction-service/internal/biddingerrors"
	"auction-service/internal/models"
	"time"
)

// Validate accepts (nil) or rejects (*biddingerrors.ValidationError) candidate
// against the auction snapshot at now. bidderKnown reports whether the
// bidder directory recognises the candidate's bidder.
func Validate(auction *models.Auction, candidate models.Bid, now time.Time, bidderKnown bool) error {
	if auction == nil {
		return biddingerrors.Reject(biddingerrors.ReasonAuctionNotOpen, "auction does not exist")
	}
	if auction.Status != models.AuctionActive {
		return biddingerrors.Reject(biddingerrors.ReasonAuctionNotOpen, "auction status is %s", auction.Status)
	}
	if now.Before(auction.StartTime) {
		return biddingerrors.Reject(biddingerrors.ReasonAuctionNotOpen, "auction opens at %s", auction.StartTime.Format(time.RFC3339))
	}
	if !now.Before(auction.EndTime) {
		return biddingerrors.Reject(biddingerrors.ReasonAuctionNotOpen, "auction ended at %s", auction.EndTime.Format(time.RFC3339))
	}

	if auction.CurrentBid != nil {
		if candidate.Amount.LessThanOrEqual(auction.CurrentBid.Amount) {
			return biddingerrors.Reject(biddingerrors.ReasonBidTooLow, "current highest bid is %s", auction.CurrentBid.Amount.String())
		}
	} else if !candidate.Amount.IsPositive() {
		return biddingerrors.Reject(biddingerrors.ReasonBidTooLow, "bid must be greater than zero")
	}

	if !bidderKnown {
		return biddingerrors.Reject(biddingerrors.ReasonUnknownBidder, "bidder %s is not an active bidder", candidate.BidderID)
	}
	return nil
}
