package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// rawReading mirrors the backend reading shape loosely. Numeric fields decode
// through json.RawMessage because old feeds send numbers as strings, and the
// timestamp fields accept both RFC 3339 strings and epoch numbers.
type rawReading struct {
	StationID  string `json:"station_id"`
	SensorID   string `json:"sensor_id"`
	DeviceID   string `json:"device_id"`
	SourceType string `json:"source_type"`

	Lat      json.RawMessage `json:"lat"`
	Lng      json.RawMessage `json:"lng"`
	Location *rawLocation    `json:"location"`

	ObservedAt json.RawMessage `json:"observed_at"`
	Timestamp  json.RawMessage `json:"timestamp"`

	AQI  json.RawMessage `json:"aqi"`
	PM25 json.RawMessage `json:"pm25"`
	PM10 json.RawMessage `json:"pm10"`
	O3   json.RawMessage `json:"o3"`
	NO2  json.RawMessage `json:"no2"`
	SO2  json.RawMessage `json:"so2"`
	CO   json.RawMessage `json:"co"`
}

// rawLocation is a GeoJSON-style point. Coordinates are [lng, lat].
type rawLocation struct {
	Type        string            `json:"type"`
	Coordinates []json.RawMessage `json:"coordinates"`
}

// NormalizeStats counts data-quality events observed while normalizing one
// snapshot. Callers log and count them; none of them fail the batch.
type NormalizeStats struct {
	Total          int // entries in the payload
	Dropped        int // undecodable, or no resolvable coordinate
	ClockFallbacks int // readings stamped with ingestion time
}

// NormalizeSnapshot converts one backend snapshot payload into canonical
// readings. Both historical payload shapes are accepted transparently: a JSON
// array of readings, or an object keyed by station id. Downstream stages never
// branch on the shape again.
//
// Individual malformed readings are dropped and counted; only an undecodable
// payload as a whole is an error.
func NormalizeSnapshot(payload []byte) ([]StationReading, NormalizeStats, error) {
	entries, err := splitSnapshot(payload)
	if err != nil {
		return nil, NormalizeStats{}, err
	}

	stats := NormalizeStats{Total: len(entries)}
	readings := make([]StationReading, 0, len(entries))
	for _, e := range entries {
		r, err := normalizeEntry(e, &stats)
		if err != nil {
			stats.Dropped++
			continue
		}
		readings = append(readings, r)
	}
	return readings, stats, nil
}

// NormalizeReading converts a single raw reading payload (one broker message)
// into a canonical StationReading.
func NormalizeReading(data []byte) (StationReading, error) {
	var stats NormalizeStats
	return normalizeEntry(snapshotEntry{data: data}, &stats)
}

// snapshotEntry is one reading plus the object key it arrived under, if the
// snapshot used the keyed shape.
type snapshotEntry struct {
	key  string
	data json.RawMessage
}

// splitSnapshot dispatches on the payload's first significant byte to handle
// both documented response shapes. Keyed entries come back in sorted key order
// so normalization is deterministic.
func splitSnapshot(payload []byte) ([]snapshotEntry, error) {
	trimmed := bytes.TrimLeft(payload, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, errors.New("empty snapshot payload")
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode snapshot array: %w", err)
		}
		entries := make([]snapshotEntry, len(items))
		for i, item := range items {
			entries[i] = snapshotEntry{data: item}
		}
		return entries, nil
	case '{':
		var items map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode snapshot object: %w", err)
		}
		keys := make([]string, 0, len(items))
		for k := range items {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		entries := make([]snapshotEntry, 0, len(items))
		for _, k := range keys {
			entries = append(entries, snapshotEntry{key: k, data: items[k]})
		}
		return entries, nil
	default:
		return nil, fmt.Errorf("snapshot payload is neither array nor object (starts with %q)", trimmed[0])
	}
}

func normalizeEntry(e snapshotEntry, stats *NormalizeStats) (StationReading, error) {
	var rec rawReading
	if err := json.Unmarshal(e.data, &rec); err != nil {
		return StationReading{}, fmt.Errorf("decode reading: %w", err)
	}

	coord, ok := resolveCoordinate(rec)
	if !ok {
		return StationReading{}, errors.New("reading has no resolvable coordinate")
	}

	observed, fellBack := resolveObservedAt(rec)
	if fellBack {
		stats.ClockFallbacks++
	}

	r := StationReading{
		StationID:  firstNonEmpty(rec.StationID, e.key, "station-"+coord.Key()),
		SensorID:   firstNonEmpty(rec.SensorID, rec.DeviceID),
		Coordinate: coord,
		ObservedAt: observed,
		AQI:        parseOptionalFloat(rec.AQI),
		PM25:       parseOptionalFloat(rec.PM25),
		PM10:       parseOptionalFloat(rec.PM10),
		O3:         parseOptionalFloat(rec.O3),
		NO2:        parseOptionalFloat(rec.NO2),
		SO2:        parseOptionalFloat(rec.SO2),
		CO:         parseOptionalFloat(rec.CO),
		Raw:        e.data,
	}
	if tag := SourceType(strings.TrimSpace(rec.SourceType)); KnownSourceType(tag) {
		r.SourceType = tag
	}
	return r, nil
}

// resolveCoordinate tries explicit lat/lng first, then a GeoJSON point.
func resolveCoordinate(rec rawReading) (Coordinate, bool) {
	lat := parseOptionalFloat(rec.Lat)
	lng := parseOptionalFloat(rec.Lng)
	if lat != nil && lng != nil {
		return Coordinate{Lat: *lat, Lng: *lng}, true
	}

	if rec.Location != nil && len(rec.Location.Coordinates) == 2 {
		// GeoJSON order is [lng, lat].
		glng := parseOptionalFloat(rec.Location.Coordinates[0])
		glat := parseOptionalFloat(rec.Location.Coordinates[1])
		if glat != nil && glng != nil {
			return Coordinate{Lat: *glat, Lng: *glng}, true
		}
	}
	return Coordinate{}, false
}

// resolveObservedAt walks the timestamp fallback chain. The second return is
// true when the reading had to be stamped with ingestion time.
func resolveObservedAt(rec rawReading) (time.Time, bool) {
	for _, raw := range []json.RawMessage{rec.ObservedAt, rec.Timestamp} {
		if t, ok := parseTimestamp(raw); ok {
			return t, false
		}
	}
	return clock.Now(), true
}

// parseTimestamp accepts RFC 3339 strings and epoch seconds or milliseconds,
// as either JSON strings or numbers. The millisecond heuristic: values above
// 1e12 are milliseconds (1e12 seconds is the year 33658).
func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return time.Time{}, false
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return time.Time{}, false
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, true
		}
		if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
			return epochToTime(epoch)
		}
		return time.Time{}, false
	}

	var epoch int64
	if err := json.Unmarshal(trimmed, &epoch); err == nil {
		return epochToTime(epoch)
	}
	return time.Time{}, false
}

func epochToTime(epoch int64) (time.Time, bool) {
	if epoch <= 0 {
		return time.Time{}, false
	}
	if epoch > 1e12 {
		return time.UnixMilli(epoch).UTC(), true
	}
	return time.Unix(epoch, 0).UTC(), true
}

// parseOptionalFloat reads a numeric field that may be a JSON number, a
// numeric string, or garbage. Unparseable values become nil, never NaN.
func parseOptionalFloat(raw json.RawMessage) *float64 {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	var n float64
	if err := json.Unmarshal(trimmed, &n); err == nil {
		return finiteOrNil(n)
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return finiteOrNil(v)
		}
	}
	return nil
}

func finiteOrNil(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
