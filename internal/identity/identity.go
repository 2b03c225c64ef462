// Package identity answers questions about callers authenticated upstream.
// Credentials are verified by the gateway; this service trusts the identifier
// it is handed.
package identity

import (
	"context"
	"strings"
)

// Directory reports whether a bidder may place bids
type Directory interface {
	IsActiveBidder(ctx context.Context, bidderID string) (bool, error)
}

// OpenDirectory treats every non-empty identifier as an active bidder
type OpenDirectory struct{}

func (OpenDirectory) IsActiveBidder(_ context.Context, bidderID string) (bool, error) {
	return strings.TrimSpace(bidderID) != "", nil
}

// StaticDirectory knows a fixed set of active bidders
type StaticDirectory struct {
	bidders map[string]bool
}

// NewStaticDirectory creates a directory of active bidder ids
func NewStaticDirectory(bidderIDs ...string) *StaticDirectory {
	d := &StaticDirectory{bidders: make(map[string]bool, len(bidderIDs))}
	for _, id := range bidderIDs {
		if id = strings.TrimSpace(id); id != "" {
			d.bidders[id] = true
		}
	}
	return d
}

func (d *StaticDirectory) IsActiveBidder(ctx context.Context, bidderID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return d.bidders[bidderID], nil
}
