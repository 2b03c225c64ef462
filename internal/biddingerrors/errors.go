package biddingerrors

import (
	"errors"
	"fmt"
)

// Repository-level errors
var (
	ErrAuctionNotFound    = errors.New("auction not found")
	ErrProductNotFound    = errors.New("product not found")
	ErrDuplicateBidID     = errors.New("bid id already recorded with different content")
	ErrConflict           = errors.New("concurrent update conflict")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrNoBids             = errors.New("no bids found for auction")
)

// business logic errors
var (
	ErrInvalidBid         = errors.New("invalid bid")
	ErrInvalidAuction     = errors.New("invalid auction")
	ErrInvalidWindow      = errors.New("invalid auction window")
	ErrInvalidTransition  = errors.New("invalid auction status transition")
	ErrTooManyConflicts   = errors.New("too many concurrent bid conflicts")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrPublishFailed      = errors.New("notification publish failed")
	ErrMissingIdentity    = errors.New("missing caller identity")
)

// Bid rejection reasons
var (
	ErrValidationFailed = errors.New("bid validation failed")
	ErrAuctionNotOpen   = errors.New("auction not open")
	ErrBidTooLow        = errors.New("bid amount too low")
	ErrUnknownBidder    = errors.New("unknown bidder")
)

// RejectReason names why the validator refused a bid.
type RejectReason string

const (
	ReasonAuctionNotOpen RejectReason = "AuctionNotOpen"
	ReasonBidTooLow      RejectReason = "BidTooLow"
	ReasonUnknownBidder  RejectReason = "UnknownBidder"
)

// ValidationError is returned for a rejected bid. It matches both
// ErrValidationFailed and the sentinel of its reason.
type ValidationError struct {
	Reason RejectReason
	Detail string
}

// Reject builds a ValidationError for reason with an optional formatted detail.
func Reject(reason RejectReason, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", ErrValidationFailed, e.Reason)
	}
	return fmt.Sprintf("%s: %s - %s", ErrValidationFailed, e.Reason, e.Detail)
}

func (e *ValidationError) Unwrap() []error {
	return []error{ErrValidationFailed, reasonSentinel(e.Reason)}
}

func reasonSentinel(r RejectReason) error {
	switch r {
	case ReasonAuctionNotOpen:
		return ErrAuctionNotOpen
	case ReasonBidTooLow:
		return ErrBidTooLow
	case ReasonUnknownBidder:
		return ErrUnknownBidder
	default:
		return ErrValidationFailed
	}
}

// ReasonOf extracts the rejection reason from err, if any.
func ReasonOf(err error) (RejectReason, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason, true
	}
	return "", false
}
