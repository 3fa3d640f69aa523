package sensebox

import (
	"errors"
	"fmt"
)

// ErrGeocodingNotFound is returned when the geocoder has no match for a place name.
var ErrGeocodingNotFound = errors.New("geocoding: no match for place")

// GeocodingHTTPError carries a non-200 answer from the geocoding provider.
type GeocodingHTTPError struct {
	Status int
	Body   string
}

func (e *GeocodingHTTPError) Error() string {
	return fmt.Sprintf("geocoding: unexpected status %d: %s", e.Status, e.Body)
}

// GeocodingMalformedError is returned when the first match has an unusable boundingbox field.
type GeocodingMalformedError struct {
	Place  string
	Reason string
}

func (e *GeocodingMalformedError) Error() string {
	return fmt.Sprintf("geocoding: malformed bounding box for %q: %s", e.Place, e.Reason)
}

// InvalidPhenomenonError is returned before any request is made for a phenomenon
// outside AllowedPhenomena.
type InvalidPhenomenonError struct {
	Name string
}

func (e *InvalidPhenomenonError) Error() string {
	return fmt.Sprintf("invalid phenomenon %q: must be one of %v", e.Name, AllowedPhenomena)
}

// SensorAPIHTTPError carries a non-200 answer from the sensor data API.
type SensorAPIHTTPError struct {
	Phenomenon Phenomenon
	Status     int
	Body       string
}

func (e *SensorAPIHTTPError) Error() string {
	return fmt.Sprintf("sensor api: phenomenon %s: unexpected status %d: %s", e.Phenomenon, e.Status, e.Body)
}

// ConnectionError wraps a transport-level failure talking to an upstream API.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// FileIOError wraps a filesystem or CSV failure on a given path.
type FileIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileIOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileIOError) Unwrap() error {
	return e.Err
}

// TimestampParseError is returned when a createdAt value cannot be parsed.
// Row is 1-based and excludes the header; it is 0 when the column itself is missing.
type TimestampParseError struct {
	Row   int
	Value string
	Err   error
}

func (e *TimestampParseError) Error() string {
	if e.Row == 0 {
		return fmt.Sprintf("parse createdAt: %v", e.Err)
	}
	return fmt.Sprintf("parse createdAt at row %d (%q): %v", e.Row, e.Value, e.Err)
}

func (e *TimestampParseError) Unwrap() error {
	return e.Err
}
