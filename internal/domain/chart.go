package domain

import "time"

// ChartPoint summarizes the merged state after one fetch cycle for trend
// charts: per-station AQI keyed by station id plus batch averages, all sharing
// one timestamp.
type ChartPoint struct {
	Time       string             `json:"time"` // display label, HH:MM:SS
	Timestamp  time.Time          `json:"timestamp"`
	StationAQI map[string]float64 `json:"aqi"`
	AvgAQI     *float64           `json:"avg_aqi,omitempty"`
	AvgPM25    *float64           `json:"avg_pm25,omitempty"`
}

// DerivePoint condenses the merged state into one chart point stamped with the
// current time.
func DerivePoint(state MergedState) ChartPoint {
	now := clock.Now()
	p := ChartPoint{
		Time:       now.Format("15:04:05"),
		Timestamp:  now,
		StationAQI: make(map[string]float64, len(state)),
	}

	var aqiSum, pm25Sum float64
	var aqiN, pm25N int
	for _, r := range state {
		if r.AQI != nil {
			p.StationAQI[r.StationID] = *r.AQI
			aqiSum += *r.AQI
			aqiN++
		}
		if r.PM25 != nil {
			pm25Sum += *r.PM25
			pm25N++
		}
	}
	if aqiN > 0 {
		avg := aqiSum / float64(aqiN)
		p.AvgAQI = &avg
	}
	if pm25N > 0 {
		avg := pm25Sum / float64(pm25N)
		p.AvgPM25 = &avg
	}
	return p
}
