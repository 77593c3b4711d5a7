package history

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web4389/Qubic-MarketView/internal/model"
)

// createSequence builds n points at consecutive seconds starting at from.
func createSequence(from, n int) []model.RawPoint {
	points := make([]model.RawPoint, n)
	for i := range points {
		v := decimal.NewFromInt(int64(from + i))
		points[i] = model.RawPoint{Time: time.Unix(int64(from+i), 0), Open: v, High: v, Low: v, Close: v}
	}
	return points
}

// Test_NewBuffer tests the buffer constructor.
func Test_NewBuffer(t *testing.T) {
	tests := []struct {
		name             string
		capacity         int
		expectedCapacity int
	}{
		{name: "Explicit capacity", capacity: 10, expectedCapacity: 10},
		{name: "Zero falls back to default", capacity: 0, expectedCapacity: DefaultCapacity},
		{name: "Negative falls back to default", capacity: -5, expectedCapacity: DefaultCapacity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuffer(tt.capacity)
			assert.Equal(t, tt.expectedCapacity, b.Capacity())
			assert.Equal(t, 0, b.Len())

			_, ok := b.Last()
			assert.False(t, ok, "Empty buffer has no tail")
		})
	}
}

// Test_Buffer_Eviction tests FIFO eviction one point at a time.
func Test_Buffer_Eviction(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		pushes   int
	}{
		{name: "Below capacity", capacity: 10, pushes: 7},
		{name: "At capacity", capacity: 10, pushes: 10},
		{name: "One over capacity", capacity: 10, pushes: 11},
		{name: "Far over capacity", capacity: 10, pushes: 137},
		{name: "Reference capacity", capacity: DefaultCapacity, pushes: DefaultCapacity + 250},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuffer(tt.capacity)
			for _, p := range createSequence(0, tt.pushes) {
				b.Push(p)
			}

			expectedLen := tt.pushes
			if expectedLen > tt.capacity {
				expectedLen = tt.capacity
			}
			require.Equal(t, expectedLen, b.Len())

			// Oldest pushes-capacity points are gone, the rest keep their order
			points := b.Points()
			firstKept := tt.pushes - expectedLen
			for i, p := range points {
				assert.Equal(t, int64(firstKept+i), p.Time.Unix(), "Point %d out of order", i)
			}

			last, ok := b.Last()
			require.True(t, ok)
			assert.Equal(t, int64(tt.pushes-1), last.Time.Unix())
		})
	}
}

// Test_Buffer_Replace tests wholesale installation of history.
func Test_Buffer_Replace(t *testing.T) {
	b := NewBuffer(5)
	b.Push(createSequence(1000, 1)[0])

	b.Replace(createSequence(0, 3))
	require.Equal(t, 3, b.Len(), "Replace discards previous content")
	assert.Equal(t, int64(0), b.Points()[0].Time.Unix())

	b.Replace(createSequence(0, 8))
	require.Equal(t, 5, b.Len(), "Replace keeps only the newest capacity points")
	assert.Equal(t, int64(3), b.Points()[0].Time.Unix())

	b.Replace(nil)
	assert.Equal(t, 0, b.Len(), "Replace with nothing empties the buffer")
}

// Test_Buffer_PointsIsACopy tests that callers cannot mutate retained points.
func Test_Buffer_PointsIsACopy(t *testing.T) {
	b := NewBuffer(3)
	source := createSequence(0, 2)
	b.Replace(source)

	source[0].Close = decimal.NewFromInt(999)
	points := b.Points()
	points[1].Close = decimal.NewFromInt(999)

	again := b.Points()
	assert.True(t, again[0].Close.Equal(decimal.Zero), "Replace must copy its input")
	assert.True(t, again[1].Close.Equal(decimal.NewFromInt(1)), "Points must return a copy")
}

// Test_Buffer_ConcurrentReaders tests one writer racing with readers.
func Test_Buffer_ConcurrentReaders(t *testing.T) {
	b := NewBuffer(50)
	done := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					points := b.Points()
					for j := 1; j < len(points); j++ {
						assert.False(t, points[j].Time.Before(points[j-1].Time), "Readers must see ordered snapshots")
					}
				}
			}
		}()
	}

	for _, p := range createSequence(0, 500) {
		b.Push(p)
	}
	close(done)
	wg.Wait()

	assert.Equal(t, 50, b.Len())
}
