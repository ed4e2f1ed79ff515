package monitoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWindow_EvictsOldestWhenFull(t *testing.T) {
	w := NewWindow(100)

	for i := 1; i <= 101; i++ {
		w.Push(float64(i))
	}

	values := w.Values()
	assert.Equal(t, 100, w.Len())
	assert.Len(t, values, 100)
	assert.NotContains(t, values, 1.0)
	assert.Equal(t, 2.0, values[0])
	assert.Equal(t, 101.0, values[99])
}

func TestWindow_PartiallyFilled(t *testing.T) {
	w := NewWindow(5)
	w.Push(10)
	w.Push(20)

	assert.Equal(t, 2, w.Len())
	assert.Equal(t, 5, w.Cap())
	assert.Equal(t, []float64{10, 20}, w.Values())
}

func TestWindow_WrapsRepeatedly(t *testing.T) {
	w := NewWindow(3)
	for i := 1; i <= 10; i++ {
		w.Push(float64(i))
	}

	assert.Equal(t, []float64{8, 9, 10}, w.Values())
}

func TestWindow_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultWindowSize, NewWindow(0).Cap())
}

func TestWindow_Summarize(t *testing.T) {
	w := NewWindow(100)
	assert.Equal(t, Summary{}, w.Summarize())

	for i := 100; i >= 1; i-- {
		w.Push(float64(i))
	}

	summary := w.Summarize()
	assert.Equal(t, 100, summary.Count)
	assert.Equal(t, 50.5, summary.Average)
	assert.Equal(t, 50.0, summary.P50)
	assert.Equal(t, 95.0, summary.P95)
	assert.Equal(t, 99.0, summary.P99)
	assert.Equal(t, 100.0, summary.Max)

	// Summarize must not reorder the stored samples
	assert.Equal(t, 100.0, w.Values()[0])
}

func TestPercentile_SmallSets(t *testing.T) {
	assert.Equal(t, 7.0, percentile([]float64{7}, 50))
	assert.Equal(t, 7.0, percentile([]float64{7}, 99))
	assert.Equal(t, 1.0, percentile([]float64{1, 2}, 50))
	assert.Equal(t, 2.0, percentile([]float64{1, 2}, 95))
}
