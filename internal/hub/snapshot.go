package hub

import (
	"sort"
	"sync"
	"time"

	"github.com/tranqh/urbanair-hub/internal/domain"
)

// Snapshot is the immutable view published after each completed merge cycle.
// All subscribers of a given cycle share the same Snapshot reference;
// consumers must never mutate its contents and must copy before deriving
// their own transforms.
type Snapshot struct {
	Readings  domain.MergedState  `json:"readings"`
	Alerts    []domain.Alert      `json:"alerts"`
	Window    []domain.ChartPoint `json:"window"`
	Connected bool                `json:"connected"`
	LastError string              `json:"last_error,omitempty"`
	CycleSeq  uint64              `json:"cycle_seq"`
	UpdatedAt time.Time           `json:"updated_at"`

	thresholds  [3]float64
	markersOnce sync.Once
	markers     []Marker
}

// Marker is the deduplicated map-marker projection of a reading.
type Marker struct {
	StationID  string            `json:"station_id"`
	Coordinate domain.Coordinate `json:"coordinate"`
	AQI        *float64          `json:"aqi,omitempty"`
	Severity   string            `json:"severity"`
	SourceType domain.SourceType `json:"source_type"`
}

// Markers returns the marker projection of the merged state, sorted by dedup
// key. It is computed once per snapshot no matter how many subscribers ask,
// so fan-out cost stays O(readings), not O(subscribers x readings).
func (s *Snapshot) Markers() []Marker {
	s.markersOnce.Do(func() {
		keys := make([]string, 0, len(s.Readings))
		for k := range s.Readings {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		markers := make([]Marker, 0, len(keys))
		for _, k := range keys {
			r := s.Readings[k]
			m := Marker{
				StationID:  r.StationID,
				Coordinate: r.Coordinate,
				AQI:        r.AQI,
				SourceType: r.SourceType,
			}
			if r.AQI != nil {
				m.Severity = domain.SeverityFor(*r.AQI, s.thresholds).String()
			}
			markers = append(markers, m)
		}
		s.markers = markers
	})
	return s.markers
}
