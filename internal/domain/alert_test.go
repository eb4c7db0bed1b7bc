package domain

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityFor(t *testing.T) {
	th := DefaultAlertThresholds

	assert.Equal(t, SeverityGood, SeverityFor(0, th))
	assert.Equal(t, SeverityGood, SeverityFor(50, th))
	assert.Equal(t, SeverityModerate, SeverityFor(51, th))
	assert.Equal(t, SeverityModerate, SeverityFor(100, th))
	assert.Equal(t, SeverityUnhealthySensitive, SeverityFor(101, th))
	assert.Equal(t, SeverityUnhealthySensitive, SeverityFor(150, th))
	assert.Equal(t, SeverityUnhealthy, SeverityFor(151, th))
}

func TestAlertEvaluator(t *testing.T) {
	base := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	t.Run("band jump alerts once per cycle and keeps alerting above moderate", func(t *testing.T) {
		e := NewAlertEvaluator(3, DefaultAlertThresholds)

		first := e.Evaluate([]StationReading{reading("hanoi-01", 21.0285, 105.8542, base, 80)})
		assert.Empty(t, first)

		second := e.Evaluate([]StationReading{reading("hanoi-01", 21.0285, 105.8542, base.Add(time.Minute), 160)})
		require.Len(t, second, 1)
		assert.Equal(t, "unhealthy", second[0].Severity)
		assert.Equal(t, 160.0, second[0].AQI)
		assert.Contains(t, second[0].Message, "hanoi-01")

		// Holding above moderate keeps alerting on each changed reading; the
		// log cap bounds the noise, there is no further dedup.
		third := e.Evaluate([]StationReading{reading("hanoi-01", 21.0285, 105.8542, base.Add(2*time.Minute), 155)})
		require.Len(t, third, 1)
		assert.Equal(t, "unhealthy", third[0].Severity)
		assert.Equal(t, 155.0, third[0].AQI)
	})

	t.Run("above moderate alerts even on first sight", func(t *testing.T) {
		e := NewAlertEvaluator(3, DefaultAlertThresholds)

		alerts := e.Evaluate([]StationReading{reading("s1", 1, 1, base, 120)})

		require.Len(t, alerts, 1)
		assert.Equal(t, "unhealthy-sensitive", alerts[0].Severity)
	})

	t.Run("rise into moderate alerts only as an increase", func(t *testing.T) {
		e := NewAlertEvaluator(3, DefaultAlertThresholds)

		assert.Empty(t, e.Evaluate([]StationReading{reading("s1", 1, 1, base, 30)}))
		alerts := e.Evaluate([]StationReading{reading("s1", 1, 1, base.Add(time.Minute), 70)})
		require.Len(t, alerts, 1)
		assert.Equal(t, "moderate", alerts[0].Severity)

		// First-ever moderate reading with no history is not an increase.
		e2 := NewAlertEvaluator(3, DefaultAlertThresholds)
		assert.Empty(t, e2.Evaluate([]StationReading{reading("s1", 1, 1, base, 70)}))
	})

	t.Run("missing aqi is skipped", func(t *testing.T) {
		e := NewAlertEvaluator(3, DefaultAlertThresholds)
		r := StationReading{StationID: "s1", Coordinate: Coordinate{Lat: 1, Lng: 1}, ObservedAt: base}

		assert.Empty(t, e.Evaluate([]StationReading{r}))
		assert.Empty(t, e.Alerts())
	})

	t.Run("log is capped newest first", func(t *testing.T) {
		SetClock(clockwork.NewFakeClockAt(base))
		defer SetClock(nil)

		e := NewAlertEvaluator(3, DefaultAlertThresholds)
		stations := []string{"s1", "s2", "s3", "s4", "s5"}
		for i, id := range stations {
			e.Evaluate([]StationReading{reading(id, float64(i), float64(i), base, 200)})
		}

		log := e.Alerts()
		require.Len(t, log, 3)
		assert.Equal(t, "s5", log[0].StationID)
		assert.Equal(t, "s4", log[1].StationID)
		assert.Equal(t, "s3", log[2].StationID)
	})

	t.Run("alerts returns a copy", func(t *testing.T) {
		SetClock(clockwork.NewFakeClockAt(base))
		defer SetClock(nil)

		e := NewAlertEvaluator(3, DefaultAlertThresholds)
		e.Evaluate([]StationReading{reading("s1", 1, 1, base, 200)})

		first := e.Alerts()
		first[0].StationID = "mutated"

		diff := cmp.Diff(e.Alerts(), first, cmpopts.IgnoreFields(Alert{}, "StationID"))
		assert.Empty(t, diff)
		assert.Equal(t, "s1", e.Alerts()[0].StationID)
	})
}
