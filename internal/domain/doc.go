// Package domain models live air-quality readings for the urban monitoring
// platform and implements the hub's pure pipeline stages: normalization,
// provenance classification, merge/dedup, and alert evaluation.
//
// # Data Sources
//
// Readings reach the hub along two paths. The primary path is the backend
// snapshot API, polled on a fixed interval, which returns every station's most
// recent reading. The secondary path is direct ingest from contributor message
// brokers (Kafka or MQTT), where each message carries one reading. Both paths
// converge on the same canonical [StationReading] and the same merge rules.
//
// # Snapshot Shapes
//
// The backend has served two response shapes over its lifetime and both remain
// in the wild:
//
//	[ {reading}, {reading}, ... ]                 // ordered array
//	{ "station-1": {reading}, "station-2": ... }  // object keyed by station id
//
// [NormalizeSnapshot] accepts either and downstream stages never see the shape
// again. For the keyed shape, the key doubles as the station id when the
// reading omits one.
//
// # Field Conventions
//
// Pollutant fields (aqi, pm25, pm10, o3, no2, so2, co) may arrive as JSON
// numbers or as numeric strings depending on feed age. Anything unparseable
// becomes nil, never NaN and never an error for the batch.
//
// Observation time resolves in order: the observed_at field, the generic
// timestamp field (RFC 3339 or epoch seconds/milliseconds), then ingestion
// time as a logged last resort.
//
// Coordinates resolve in order: explicit lat/lng fields, then a GeoJSON-style
// location point (coordinates are [lng, lat] there). A reading with no
// resolvable coordinate is dropped and counted; it can never enter the merge
// engine because the coordinate is the dedup key.
//
// # Provenance
//
// Every reading carries a [SourceType]: official fixed sensors, contributor
// broker feeds, or contributor external-API feeds. When the backend does not
// tag a reading explicitly, an ordered rule chain classifies it from its
// sensor and station identifiers; see classify.go for the rules and why their
// order matters. Unrecognized readings are tagged unknown rather than presumed
// official.
//
// # Dedup Key
//
// Two readings describe the same physical location when their coordinates
// format to the same "lat,lng" string (shortest round-trip decimal form, see
// [Coordinate.Key]). Merge keeps the most recently observed reading per key,
// and first-seen wins on timestamp ties so near-simultaneous reports from
// different sources do not flicker.
//
// # Severity
//
// Alert severity buckets AQI into four bands (good, moderate,
// unhealthy-sensitive, unhealthy) at ascending cut points, 50/100/150 by
// default. The bands are a platform simplification of the EPA AQI categories
// for banner display, not a regulatory mapping.
package domain
