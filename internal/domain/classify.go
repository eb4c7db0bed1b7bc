package domain

import "strings"

// A classifierRule pairs a predicate with the provenance it implies. Rules are
// evaluated top to bottom and the first match wins. Order matters because the
// patterns overlap: a contributor bridge id like "mqtt-mq135-03" contains an
// official device-class prefix and must be caught by the broker rule first.
type classifierRule struct {
	name   string
	match  func(StationReading) bool
	source SourceType
}

var classifierRules = []classifierRule{
	{name: "broker-device", match: matchBrokerDevice, source: SourceBroker},
	{name: "official-device", match: matchOfficialDevice, source: SourceOfficial},
	{name: "external-station", match: matchExternalStation, source: SourceExternal},
}

// brokerDevicePrefixes are the naming conventions contributor broker bridges
// use for their sensor ids.
var brokerDevicePrefixes = []string{"mqtt-", "broker-", "amqp-"}

// officialDeviceURN prefixes NGSI-LD device ids assigned to the city's fixed
// stations.
const officialDeviceURN = "urn:ngsi-ld:device:"

// officialDeviceClasses are the sensor hardware classes deployed on fixed
// stations; bare device ids start with the class name.
var officialDeviceClasses = []string{"mq135", "sds011", "pms7003", "bme280"}

// externalStationPrefixes mark stations registered through the external-API
// contributor flow. Those have a station record but no device behind it.
var externalStationPrefixes = []string{"ext-", "openaq-", "api-"}

// Classify returns the reading with SourceType always populated. An explicit
// backend tag wins; otherwise the rule chain decides; readings nothing
// recognizes are tagged unknown rather than presumed official.
func Classify(r StationReading) StationReading {
	if KnownSourceType(r.SourceType) {
		return r
	}
	for _, rule := range classifierRules {
		if rule.match(r) {
			r.SourceType = rule.source
			return r
		}
	}
	r.SourceType = SourceUnknown
	return r
}

// ClassifyAll classifies a batch in place and returns it.
func ClassifyAll(readings []StationReading) []StationReading {
	for i := range readings {
		readings[i] = Classify(readings[i])
	}
	return readings
}

func matchBrokerDevice(r StationReading) bool {
	id := strings.ToLower(r.SensorID)
	for _, p := range brokerDevicePrefixes {
		if strings.HasPrefix(id, p) {
			return true
		}
	}
	return false
}

func matchOfficialDevice(r StationReading) bool {
	id := strings.ToLower(r.SensorID)
	if id == "" {
		return false
	}
	if strings.HasPrefix(id, officialDeviceURN) {
		return true
	}
	for _, class := range officialDeviceClasses {
		if strings.HasPrefix(id, class) {
			return true
		}
	}
	return false
}

func matchExternalStation(r StationReading) bool {
	if r.SensorID != "" {
		// Device-backed stations are never external registrations.
		return false
	}
	id := strings.ToLower(r.StationID)
	for _, p := range externalStationPrefixes {
		if strings.HasPrefix(id, p) {
			return true
		}
	}
	return false
}
