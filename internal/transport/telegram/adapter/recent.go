package adapter

import "sync"

// recentIDs remembers the last n update ids in insertion order. Id 0 is
// never recorded and marks a forgotten slot.
type recentIDs struct {
	mu   sync.Mutex
	ring []int64
	next int
	seen map[int64]struct{}
}

func newRecentIDs(n int) *recentIDs {
	return &recentIDs{ring: make([]int64, 0, n), seen: make(map[int64]struct{}, n)}
}

// add records id and reports whether it was new.
func (r *recentIDs) add(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[id]; ok {
		return false
	}
	if len(r.ring) < cap(r.ring) {
		r.ring = append(r.ring, id)
	} else {
		delete(r.seen, r.ring[r.next])
		r.ring[r.next] = id
		r.next = (r.next + 1) % len(r.ring)
	}
	r.seen[id] = struct{}{}
	return true
}

// forget drops id so a redelivery is accepted again.
func (r *recentIDs) forget(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[id]; !ok {
		return
	}
	delete(r.seen, id)
	for i, v := range r.ring {
		if v == id {
			r.ring[i] = 0
			return
		}
	}
}
