package domain

import (
	"encoding/json"
	"strconv"
	"time"
)

// SourceType tags the provenance of a reading.
type SourceType string

const (
	// SourceOfficial marks readings from the city's fixed sensor network.
	SourceOfficial SourceType = "official"
	// SourceBroker marks readings from contributor-operated message-broker feeds.
	SourceBroker SourceType = "broker-fed"
	// SourceExternal marks readings from contributor-operated external HTTP feeds.
	SourceExternal SourceType = "external-api-fed"
	// SourceUnknown marks readings no classification rule recognizes. The
	// platform historically defaulted these to official, which fabricates
	// provenance; unknown keeps the gap visible.
	SourceUnknown SourceType = "unknown"
)

// KnownSourceType reports whether s is an explicit provenance tag the backend
// may send. unknown is assigned internally and never accepted from payloads.
func KnownSourceType(s SourceType) bool {
	switch s {
	case SourceOfficial, SourceBroker, SourceExternal:
		return true
	}
	return false
}

// Coordinate is a WGS-84 latitude/longitude pair.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Key returns the dedup key identifying "the same physical location" across
// station identifiers and sources: both components in shortest round-trip
// decimal form, joined by a comma.
func (c Coordinate) Key() string {
	return strconv.FormatFloat(c.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(c.Lng, 'f', -1, 64)
}

// StationReading is one observation for one location at one instant.
type StationReading struct {
	StationID  string     `json:"station_id"`
	SensorID   string     `json:"sensor_id,omitempty"`
	Coordinate Coordinate `json:"coordinate"`
	ObservedAt time.Time  `json:"observed_at"`

	AQI  *float64 `json:"aqi"`
	PM25 *float64 `json:"pm25"`
	PM10 *float64 `json:"pm10"`
	O3   *float64 `json:"o3"`
	NO2  *float64 `json:"no2"`
	SO2  *float64 `json:"so2"`
	CO   *float64 `json:"co"`

	SourceType SourceType `json:"source_type"`

	// Raw is the original payload, retained for audit and display.
	// Merge logic never reads it.
	Raw json.RawMessage `json:"-"`
}

// MergedState maps a coordinate dedup key to the latest reading seen there.
// State size is bounded by the number of distinct physical coordinates, not by
// history length.
type MergedState map[string]StationReading
