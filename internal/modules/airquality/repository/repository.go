package repository

import (
	"sync"

	"airdetect/internal/modules/airquality/types"
)

// DefaultCapacity is the number of readings kept when no size is configured.
const DefaultCapacity = 100

// HistoryRepository keeps the most recent readings in arrival order.
type HistoryRepository interface {
	// Append adds r at the tail, evicting the oldest reading when full.
	Append(r types.Reading)
	// Snapshot returns a copy of all readings, oldest first. Never nil.
	Snapshot() []types.Reading
	// Recent returns a copy of the last n readings, oldest first.
	Recent(n int) []types.Reading
	// Latest returns the newest reading, false when empty.
	Latest() (types.Reading, bool)
	Len() int
	Capacity() int
}

// repositoryImpl is a fixed-size ring. head is the index of the oldest entry.
type repositoryImpl struct {
	mu    sync.RWMutex
	items []types.Reading
	head  int
	size  int
}

// NewRepository returns an in-memory history holding at most capacity readings.
// A capacity below 1 falls back to DefaultCapacity.
func NewRepository(capacity int) HistoryRepository {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &repositoryImpl{items: make([]types.Reading, capacity)}
}

func (r *repositoryImpl) Append(reading types.Reading) {
	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := len(r.items)
	if r.size == capacity {
		// overwrite the oldest slot and advance
		r.items[r.head] = reading
		r.head = (r.head + 1) % capacity
		return
	}
	r.items[(r.head+r.size)%capacity] = reading
	r.size++
}

func (r *repositoryImpl) Snapshot() []types.Reading {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.copyLastLocked(r.size)
}

func (r *repositoryImpl) Recent(n int) []types.Reading {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n > r.size {
		n = r.size
	}
	if n < 0 {
		n = 0
	}
	return r.copyLastLocked(n)
}

func (r *repositoryImpl) Latest() (types.Reading, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.size == 0 {
		return types.Reading{}, false
	}
	return r.items[(r.head+r.size-1)%len(r.items)], true
}

func (r *repositoryImpl) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

func (r *repositoryImpl) Capacity() int {
	return len(r.items)
}

func (r *repositoryImpl) copyLastLocked(n int) []types.Reading {
	out := make([]types.Reading, n)
	capacity := len(r.items)
	start := r.head + r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.items[(start+i)%capacity]
	}
	return out
}
