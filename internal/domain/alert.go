package domain

import (
	"fmt"
	"time"
)

// Severity is an AQI band index; higher is worse.
type Severity int

const (
	SeverityGood Severity = iota
	SeverityModerate
	SeverityUnhealthySensitive
	SeverityUnhealthy
)

func (s Severity) String() string {
	switch s {
	case SeverityGood:
		return "good"
	case SeverityModerate:
		return "moderate"
	case SeverityUnhealthySensitive:
		return "unhealthy-sensitive"
	case SeverityUnhealthy:
		return "unhealthy"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// DefaultAlertThresholds are the AQI cut points between bands, ascending.
var DefaultAlertThresholds = [3]float64{50, 100, 150}

// SeverityFor buckets an AQI value using ascending thresholds: good up to the
// first cut point, then moderate, unhealthy-sensitive, unhealthy.
func SeverityFor(aqi float64, thresholds [3]float64) Severity {
	switch {
	case aqi > thresholds[2]:
		return SeverityUnhealthy
	case aqi > thresholds[1]:
		return SeverityUnhealthySensitive
	case aqi > thresholds[0]:
		return SeverityModerate
	default:
		return SeverityGood
	}
}

// Alert is one entry in the hub's rolling alert log.
type Alert struct {
	StationID  string     `json:"station_id"`
	Coordinate Coordinate `json:"coordinate"`
	AQI        float64    `json:"aqi"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Timestamp  time.Time  `json:"timestamp"`
}

// AlertEvaluator derives alerts from merged readings and keeps a bounded
// newest-first log. The cap is a banner-display decision, not a correctness
// requirement: evicted alerts are simply gone. Not safe for concurrent use;
// the hub loop owns it.
type AlertEvaluator struct {
	cap        int
	thresholds [3]float64
	previous   map[string]Severity // coordinate key -> last observed band
	log        []Alert             // newest first
}

// NewAlertEvaluator creates an evaluator with the given log cap and AQI band
// thresholds. A non-positive cap falls back to 3.
func NewAlertEvaluator(logCap int, thresholds [3]float64) *AlertEvaluator {
	if logCap <= 0 {
		logCap = 3
	}
	return &AlertEvaluator{
		cap:        logCap,
		thresholds: thresholds,
		previous:   make(map[string]Severity),
	}
}

// Evaluate inspects the readings changed by one merge cycle and returns the
// alerts it appended, oldest first. A reading alerts when its band exceeds
// moderate, or when its band rose relative to the previous reading at the same
// coordinate. Readings without an AQI are skipped but anything with one
// updates the per-coordinate band history.
func (e *AlertEvaluator) Evaluate(changed []StationReading) []Alert {
	var emitted []Alert
	for _, r := range changed {
		if r.AQI == nil {
			continue
		}
		key := r.Coordinate.Key()
		sev := SeverityFor(*r.AQI, e.thresholds)
		prev, seen := e.previous[key]
		e.previous[key] = sev

		if sev <= SeverityModerate && (!seen || sev <= prev) {
			continue
		}
		emitted = append(emitted, Alert{
			StationID:  r.StationID,
			Coordinate: r.Coordinate,
			AQI:        *r.AQI,
			Severity:   sev.String(),
			Message:    fmt.Sprintf("%s air quality at %s (AQI %.0f)", sev, r.StationID, *r.AQI),
			Timestamp:  clock.Now(),
		})
	}

	for _, a := range emitted {
		e.log = append([]Alert{a}, e.log...)
	}
	if len(e.log) > e.cap {
		e.log = e.log[:e.cap]
	}
	return emitted
}

// Alerts returns a copy of the log, newest first.
func (e *AlertEvaluator) Alerts() []Alert {
	out := make([]Alert, len(e.log))
	copy(out, e.log)
	return out
}
