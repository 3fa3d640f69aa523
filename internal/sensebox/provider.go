package sensebox

import (
	"context"
	"time"
)

// Geocoder resolves a place name into a bounding box.
type Geocoder interface {
	Lookup(ctx context.Context, place string) (BoundingBox, error)
}

// DataSource fetches the raw body for one phenomenon request.
// Implementations return *SensorAPIHTTPError on non-200 answers.
type DataSource interface {
	FetchBoxData(ctx context.Context, req PhenomenonRequest) ([]byte, error)
}

// Store is the contract the report stores must satisfy.
type Store interface {
	SaveReport(report Report) error
	GetLatest(city string) (Report, error)
	GetRange(city string, from, to time.Time) ([]Report, error)
}

// Publisher forwards finished reports to an external sink.
type Publisher interface {
	PublishReport(ctx context.Context, report Report) error
}
