package notify

import (
	"context"
	"sync"

	"auction-service/utils"
)

// Sequencer forwards each auction's events to the next publisher in the
// order they were committed. A bid event is held from just before its
// compare-and-update until its acceptance is durable; later events for the
// same auction wait behind it.
//
// A bid whose compare-and-update succeeds read a state in which its
// predecessor had already committed, and the predecessor was held before
// that commit, so queue order matches commit order.
type Sequencer struct {
	next Publisher

	mu       sync.Mutex
	auctions map[string][]*Ticket
}

// Ticket is a held event slot in an auction's queue
type Ticket struct {
	event   Event
	settled bool
	publish bool
}

// Sequence wraps next in a Sequencer unless it already is one
func Sequence(next Publisher) *Sequencer {
	if s, ok := next.(*Sequencer); ok {
		return s
	}
	return &Sequencer{next: next, auctions: make(map[string][]*Ticket)}
}

// Hold reserves event's place in its auction's queue
func (s *Sequencer) Hold(event Event) *Ticket {
	t := &Ticket{event: event}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auctions[event.AuctionID] = append(s.auctions[event.AuctionID], t)
	return t
}

// Release marks a held event publishable and flushes the auction's queue
func (s *Sequencer) Release(t *Ticket) {
	s.settle(t, true)
}

// Discard drops a held event without publishing it. Events queued behind
// it are no longer blocked.
func (s *Sequencer) Discard(t *Ticket) {
	s.settle(t, false)
}

// Publish queues an event that is ready now, behind any held events for
// the same auction
func (s *Sequencer) Publish(_ context.Context, event Event) error {
	s.settle(s.Hold(event), true)
	return nil
}

// Held returns the number of events still waiting across all auctions
func (s *Sequencer) Held() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, queue := range s.auctions {
		n += len(queue)
	}
	return n
}

func (s *Sequencer) settle(t *Ticket, publish bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.settled {
		return
	}
	t.settled, t.publish = true, publish

	auctionID := t.event.AuctionID
	queue := s.auctions[auctionID]
	for len(queue) > 0 && queue[0].settled {
		head := queue[0]
		queue[0] = nil
		queue = queue[1:]
		if head.publish {
			s.forward(head.event)
		}
	}
	if len(queue) == 0 {
		delete(s.auctions, auctionID)
		return
	}
	s.auctions[auctionID] = queue
}

// forward runs under s.mu; the next publisher must not block
func (s *Sequencer) forward(event Event) {
	if s.next == nil {
		return
	}
	// the event describes committed state; the caller's context may be gone
	if err := s.next.Publish(context.Background(), event); err != nil {
		utils.Warn("notify: failed to publish event", map[string]any{
			"event_id":   event.EventID,
			"type":       event.Type,
			"auction_id": event.AuctionID,
			"error":      err.Error(),
		})
	}
}
