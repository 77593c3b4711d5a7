package history

import (
	"sync"

	"github.com/web4389/Qubic-MarketView/internal/model"
)

// DefaultCapacity is the number of raw points retained by default.
const DefaultCapacity = 5000

// Buffer is a bounded, append-only store of raw points.
//
// Only the poll loop writes to it. Readers always receive copies, so an aggregation
// never observes a half-applied push or eviction.
type Buffer struct {
	mu       sync.RWMutex
	points   []model.RawPoint
	capacity int
}

// NewBuffer creates an empty buffer. Non-positive capacities use DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		points:   make([]model.RawPoint, 0, capacity+1),
		capacity: capacity,
	}
}

// Push appends p and evicts the single oldest point if the capacity is exceeded.
func (b *Buffer) Push(p model.RawPoint) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.points = append(b.points, p)
	if len(b.points) > b.capacity {
		// Shift in place so the backing array does not creep forward
		copy(b.points, b.points[1:])
		b.points[len(b.points)-1] = model.RawPoint{}
		b.points = b.points[:len(b.points)-1]
	}
}

// Replace installs a whole series, keeping only the newest capacity points.
func (b *Buffer) Replace(series []model.RawPoint) {
	if len(series) > b.capacity {
		series = series[len(series)-b.capacity:]
	}

	points := make([]model.RawPoint, len(series), b.capacity+1)
	copy(points, series)

	b.mu.Lock()
	b.points = points
	b.mu.Unlock()
}

// Points returns a copy of the retained series, oldest first.
func (b *Buffer) Points() []model.RawPoint {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]model.RawPoint, len(b.points))
	copy(out, b.points)
	return out
}

// Last returns the newest point, if any.
func (b *Buffer) Last() (model.RawPoint, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.points) == 0 {
		return model.RawPoint{}, false
	}
	return b.points[len(b.points)-1], true
}

// Len returns the number of retained points.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.points)
}

// Capacity returns the maximum number of retained points.
func (b *Buffer) Capacity() int {
	return b.capacity
}
