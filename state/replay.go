package state

import "fmt"

// EventIterator is a lazy, finite sequence of events in log order.
type EventIterator interface {
	Next() bool
	Event() Event
	Seq() uint64
	Err() error
}

// Replay folds every event of it into an empty state. It stops at the first
// event that does not decode or validate; the caller must not serve anything
// on a partial state.
func Replay(it EventIterator) (*State, uint64, error) {
	s := NewState()
	var n uint64
	for it.Next() {
		ev := it.Event()
		if err := s.Validate(ev); err != nil {
			return nil, n, fmt.Errorf("replay event %d (%s): %w", it.Seq(), ev.Kind(), err)
		}
		s.mutate(ev)
		n++
	}
	if err := it.Err(); err != nil {
		return nil, n, fmt.Errorf("replay after %d events: %w", n, err)
	}
	return s, n, nil
}

// Fold applies events in order to s.
func Fold(s *State, events ...Event) error {
	for i, ev := range events {
		if err := s.Validate(ev); err != nil {
			return fmt.Errorf("fold event %d (%s): %w", i, ev.Kind(), err)
		}
		s.mutate(ev)
	}
	return nil
}

// Prefix stops it after the event with sequence number last.
func Prefix(it EventIterator, last uint64) EventIterator {
	return &prefixIterator{EventIterator: it, last: last}
}

type prefixIterator struct {
	EventIterator
	last uint64
	done bool
}

func (it *prefixIterator) Next() bool {
	if it.done || !it.EventIterator.Next() {
		return false
	}
	if it.Seq() > it.last {
		it.done = true
		return false
	}
	return true
}
