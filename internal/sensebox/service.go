package sensebox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// Service runs the geocode, download, merge and frequency stages in sequence.
type Service struct {
	geocoder   Geocoder
	downloader *Downloader
	aggregator *Aggregator
	store      Store
	publisher  Publisher
	logger     *slog.Logger
	now        func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithStore saves every successful report to store.
func WithStore(store Store) Option {
	return func(s *Service) { s.store = store }
}

// WithPublisher forwards every successful report to p.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithClock replaces time.Now; used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new Service. All files go through fs.
func NewService(geocoder Geocoder, source DataSource, fs afero.Fs, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		geocoder:   geocoder,
		downloader: NewDownloader(source, fs, logger),
		aggregator: NewAggregator(fs, logger),
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.downloader.now = s.now
	return s
}

// Run executes one pipeline run. Any stage error aborts the run; files written
// before the failure are left in place.
func (s *Service) Run(ctx context.Context, req RunRequest) (Report, error) {
	if req.City == "" {
		return Report{}, errors.New("city is required")
	}
	if len(req.Phenomena) == 0 {
		return Report{}, errors.New("at least one phenomenon is required")
	}
	if req.OutputDir == "" {
		return Report{}, errors.New("output directory is required")
	}
	// Reject bad names before the geocoder is contacted.
	if err := ValidatePhenomena(req.Phenomena); err != nil {
		return Report{}, err
	}

	started := s.now().UTC()
	window := ResolveWindow(req.Window, started)
	if !window.To.After(window.From) {
		return Report{}, fmt.Errorf("invalid time window: to (%s) must be after from (%s)",
			window.To.Format(APITimeLayout), window.From.Format(APITimeLayout))
	}

	report := Report{
		RunID:     uuid.NewString(),
		City:      req.City,
		From:      window.From,
		To:        window.To,
		StartedAt: started,
	}
	logger := s.logger.With("run", report.RunID, "city", req.City)

	bbox, err := s.geocoder.Lookup(ctx, req.City)
	if err != nil {
		return report, fmt.Errorf("geocode %q: %w", req.City, err)
	}
	report.BBox = bbox.String()
	logger.Info("bounding box retrieved", "bbox", report.BBox)

	files, err := s.downloader.Download(ctx, req.OutputDir, bbox, req.Phenomena, window, req.Limit)
	report.Files = files
	if err != nil {
		return report, fmt.Errorf("download: %w", err)
	}

	merged, err := s.aggregator.Merge(req.OutputDir)
	if err != nil {
		return report, fmt.Errorf("merge: %w", err)
	}
	report.MergedFile = merged.Path
	report.MergedRows = len(merged.Table.Rows)

	freq, err := s.aggregator.Frequencies(req.OutputDir)
	if err != nil {
		return report, fmt.Errorf("frequency: %w", err)
	}
	report.OutputFile = freq.Path
	report.SensorCount = freq.SensorCount
	report.Frequencies = freq.Records
	report.FinishedAt = s.now().UTC()

	logger.Info("number of sensors", "count", report.SensorCount)

	if s.store != nil {
		if err := s.store.SaveReport(report); err != nil {
			return report, fmt.Errorf("save report: %w", err)
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishReport(ctx, report); err != nil {
			// The files and stored report are already in place.
			logger.Warn("publish report failed", "error", err)
		}
	}

	return report, nil
}

// LookupBBox geocodes place without running the rest of the pipeline.
func (s *Service) LookupBBox(ctx context.Context, place string) (BoundingBox, error) {
	return s.geocoder.Lookup(ctx, place)
}

// GetLatest delegates to the underlying store.
func (s *Service) GetLatest(city string) (Report, error) {
	if s.store == nil {
		return Report{}, errors.New("no report store configured")
	}
	return s.store.GetLatest(city)
}

// GetRange delegates to the underlying store.
func (s *Service) GetRange(city string, from, to time.Time) ([]Report, error) {
	if s.store == nil {
		return nil, errors.New("no report store configured")
	}
	return s.store.GetRange(city, from, to)
}
