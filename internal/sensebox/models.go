package sensebox

import (
	"strings"
	"time"
)

// Phenomenon is a measured quantity as named by the openSenseMap API.
type Phenomenon string

// AllowedPhenomena lists the phenomenon names the downloader accepts.
var AllowedPhenomena = []Phenomenon{
	"Temperatur",
	"Temperature",
	"temperature",
	"PM2.5",
	"Luftdruck",
}

// Valid reports whether p belongs to AllowedPhenomena.
func (p Phenomenon) Valid() bool {
	for _, a := range AllowedPhenomena {
		if p == a {
			return true
		}
	}
	return false
}

// BoundingBox is a rectangular region in the order used by openSenseMap:
// min_lon, min_lat, max_lon, max_lat. Values are kept as the decimal strings
// returned by the geocoder.
type BoundingBox struct {
	MinLon string `json:"minLon" validate:"required,numeric"`
	MinLat string `json:"minLat" validate:"required,numeric"`
	MaxLon string `json:"maxLon" validate:"required,numeric"`
	MaxLat string `json:"maxLat" validate:"required,numeric"`
}

// String returns the comma-joined form expected by the bbox query parameter.
func (b BoundingBox) String() string {
	return strings.Join([]string{b.MinLon, b.MinLat, b.MaxLon, b.MaxLat}, ",")
}

// TimeWindow bounds a data request. Zero values are filled in with the last 24h.
type TimeWindow struct {
	From time.Time
	To   time.Time
}

// PhenomenonRequest is a single openSenseMap data query.
type PhenomenonRequest struct {
	Phenomenon Phenomenon `validate:"required"`
	BBox       BoundingBox
	From       time.Time `validate:"required"`
	To         time.Time `validate:"required,gtfield=From"`
	Limit      int       `validate:"min=1,max=10000"`
}

// SensorFrequencyRecord is the mean reporting interval of one sensor.
// MeanMinutes is nil when the sensor has a single reading.
type SensorFrequencyRecord struct {
	SensorID    string   `json:"sensorId"`
	MeanMinutes *float64 `json:"meanIntervalMinutes"`
}

// RunRequest configures one pipeline run.
type RunRequest struct {
	City      string
	Phenomena []Phenomenon
	Window    TimeWindow
	Limit     int
	OutputDir string
}

// Report is the outcome of one pipeline run.
type Report struct {
	RunID       string                  `json:"runId"`
	City        string                  `json:"city"`
	BBox        string                  `json:"bbox"`
	From        time.Time               `json:"from"`
	To          time.Time               `json:"to"`
	StartedAt   time.Time               `json:"startedAt"` // always UTC
	FinishedAt  time.Time               `json:"finishedAt"`
	Files       []string                `json:"files"`
	MergedFile  string                  `json:"mergedFile"`
	OutputFile  string                  `json:"outputFile"`
	MergedRows  int                     `json:"mergedRows"`
	SensorCount int                     `json:"sensorCount"`
	Frequencies []SensorFrequencyRecord `json:"frequencies"`
}
