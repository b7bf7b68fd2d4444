// Package matching holds the waiting queue for connections that have asked
// for a partner and the random pairing algorithm that drains it.
package matching

import (
	"log"
	"math/rand/v2"
)

// Entry is a queued connection as seen by the matcher. The queue keeps the
// entry by reference; liveness and partner state are read at match time.
type Entry interface {
	ID() string
	Connected() bool
	PartnerID() string
}

// Queue is the ordered waiting list of unpaired connections. Membership is
// unique by ID and order is insertion order.
//
// Queue is not safe for concurrent use. The hub serializes every call under
// the same mutex that guards partner links.
type Queue struct {
	entries []Entry
	index   map[string]struct{}
	intn    func(n int) int
}

// NewQueue creates an empty queue that picks matches with math/rand.
func NewQueue() *Queue {
	return NewQueueWithRand(rand.IntN)
}

// NewQueueWithRand creates an empty queue that uses intn to pick among
// eligible candidates. intn must return a value in [0, n).
func NewQueueWithRand(intn func(n int) int) *Queue {
	return &Queue{
		index: make(map[string]struct{}),
		intn:  intn,
	}
}

// Add appends e at the tail. Adding an already-queued ID is a no-op.
func (q *Queue) Add(e Entry) {
	if _, ok := q.index[e.ID()]; ok {
		return
	}
	q.entries = append(q.entries, e)
	q.index[e.ID()] = struct{}{}
	log.Printf("[matcher] queued %s (queue size: %d)", e.ID(), len(q.entries))
}

// Remove deletes the entry with the given ID. It reports whether an entry
// was removed.
func (q *Queue) Remove(id string) bool {
	if _, ok := q.index[id]; !ok {
		return false
	}
	for i, e := range q.entries {
		if e.ID() == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
	delete(q.index, id)
	log.Printf("[matcher] dequeued %s (queue size: %d)", id, len(q.entries))
	return true
}

// FindMatch picks a partner for e uniformly at random among the eligible
// queued entries and removes it from the queue. Eligible entries are not e,
// still connected, and carry no partner. e itself is never touched. Returns
// nil when nobody is eligible.
func (q *Queue) FindMatch(e Entry) Entry {
	eligible := make([]Entry, 0, len(q.entries))
	for _, candidate := range q.entries {
		if candidate.ID() == e.ID() {
			continue
		}
		if !candidate.Connected() || candidate.PartnerID() != "" {
			continue
		}
		eligible = append(eligible, candidate)
	}

	if len(eligible) == 0 {
		return nil
	}

	match := eligible[q.intn(len(eligible))]
	q.Remove(match.ID())
	return match
}

// Contains reports whether id is queued.
func (q *Queue) Contains(id string) bool {
	_, ok := q.index[id]
	return ok
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	return len(q.entries)
}

// IDs returns the queued IDs in insertion order.
func (q *Queue) IDs() []string {
	ids := make([]string, len(q.entries))
	for i, e := range q.entries {
		ids[i] = e.ID()
	}
	return ids
}
