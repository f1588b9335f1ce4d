package memory

import (
	"sync"

	"github.com/poiesic/ragchat/core"
)

// ring is a fixed-capacity FIFO of turns guarded by its own mutex.
type ring struct {
	mu    sync.Mutex
	turns []core.SessionTurn
	head  int // index of the oldest turn
	count int
}

func newRing(capacity int) *ring {
	return &ring{turns: make([]core.SessionTurn, capacity)}
}

func (r *ring) push(turn core.SessionTurn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := len(r.turns)
	if r.count < capacity {
		r.turns[(r.head+r.count)%capacity] = turn
		r.count++
		return
	}
	// Full: overwrite the oldest and advance head
	r.turns[r.head] = turn
	r.head = (r.head + 1) % capacity
}

func (r *ring) snapshot() []core.SessionTurn {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]core.SessionTurn, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.turns[(r.head+i)%len(r.turns)]
	}
	return out
}

func (r *ring) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
