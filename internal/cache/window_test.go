package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tranqh/urbanair-hub/internal/domain"
)

func point(i int) domain.ChartPoint {
	ts := time.Date(2026, 8, 29, 10, 0, i, 0, time.UTC)
	return domain.ChartPoint{Time: ts.Format("15:04:05"), Timestamp: ts, StationAQI: map[string]float64{"s1": float64(i)}}
}

func TestWindow(t *testing.T) {
	t.Run("append beyond cap drops oldest", func(t *testing.T) {
		w := NewWindow(20)
		for i := 0; i < 25; i++ {
			w.Append(point(i))
		}

		points := w.Points()
		require.Len(t, points, 20)
		assert.Equal(t, point(5), points[0])
		assert.Equal(t, point(24), points[19])
		for i := 1; i < len(points); i++ {
			assert.True(t, points[i].Timestamp.After(points[i-1].Timestamp), fmt.Sprintf("points out of order at %d", i))
		}
	})

	t.Run("from existing points keeps most recent cap", func(t *testing.T) {
		seed := make([]domain.ChartPoint, 30)
		for i := range seed {
			seed[i] = point(i)
		}

		w := NewWindowFrom(20, seed)

		require.Equal(t, 20, w.Len())
		assert.Equal(t, point(10), w.Points()[0])
		assert.Equal(t, point(29), w.Points()[19])
	})

	t.Run("points returns a copy", func(t *testing.T) {
		w := NewWindow(5)
		w.Append(point(0))

		got := w.Points()
		got[0].Time = "mutated"

		assert.Equal(t, point(0).Time, w.Points()[0].Time)
	})

	t.Run("non positive cap falls back to default", func(t *testing.T) {
		w := NewWindow(0)
		for i := 0; i < DefaultWindowCap+5; i++ {
			w.Append(point(i))
		}
		assert.Equal(t, DefaultWindowCap, w.Len())
	})
}
