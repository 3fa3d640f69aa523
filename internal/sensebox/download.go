package sensebox

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
)

const (
	// DefaultLimit is the result limit used when none is given.
	DefaultLimit = 100

	// DefaultWindow is how far back a request reaches when no start is given.
	DefaultWindow = 24 * time.Hour

	// APITimeLayout is the timestamp format for from-date / to-date.
	APITimeLayout = "2006-01-02T15:04:05Z"

	fileDateLayout = "2006-01-02"
)

var validate = validator.New()

// Downloader fetches one file per phenomenon and writes it into an output directory.
type Downloader struct {
	source DataSource
	fs     afero.Fs
	logger *slog.Logger
	now    func() time.Time
}

// NewDownloader creates a Downloader writing through fs.
func NewDownloader(source DataSource, fs afero.Fs, logger *slog.Logger) *Downloader {
	return &Downloader{
		source: source,
		fs:     fs,
		logger: logger,
		now:    time.Now,
	}
}

// ResolveWindow fills zero bounds with [now-24h, now] in UTC, truncated to whole seconds.
func ResolveWindow(w TimeWindow, now time.Time) TimeWindow {
	now = now.UTC().Truncate(time.Second)
	if w.To.IsZero() {
		w.To = now
	}
	if w.From.IsZero() {
		w.From = now.Add(-DefaultWindow)
	}
	w.From = w.From.UTC()
	w.To = w.To.UTC()
	return w
}

// ValidatePhenomena fails with *InvalidPhenomenonError on the first name outside AllowedPhenomena.
func ValidatePhenomena(phenomena []Phenomenon) error {
	for _, p := range phenomena {
		if !p.Valid() {
			return &InvalidPhenomenonError{Name: string(p)}
		}
	}
	return nil
}

// SlotLabel returns the file slot for the i-th phenomenon: A..Z, then AA, AB, ...
func SlotLabel(i int) string {
	label := ""
	for n := i + 1; n > 0; n = (n - 1) / 26 {
		label = string(rune('A'+(n-1)%26)) + label
	}
	return label
}

// PhenomenonFileName is the file a phenomenon response is written to.
func PhenomenonFileName(slot int, p Phenomenon, day time.Time) string {
	return fmt.Sprintf("%s_%s_%s.csv", SlotLabel(slot), p, day.UTC().Format(fileDateLayout))
}

// Download validates every phenomenon, then requests them in order and writes each
// body verbatim to dir. The first failed request aborts the batch; files written
// before it stay on disk and are returned along with the error.
func (d *Downloader) Download(ctx context.Context, dir string, bbox BoundingBox, phenomena []Phenomenon, window TimeWindow, limit int) ([]string, error) {
	if err := ValidatePhenomena(phenomena); err != nil {
		return nil, err
	}
	if limit == 0 {
		limit = DefaultLimit
	}

	now := d.now()
	window = ResolveWindow(window, now)

	requests := make([]PhenomenonRequest, 0, len(phenomena))
	for _, p := range phenomena {
		req := PhenomenonRequest{
			Phenomenon: p,
			BBox:       bbox,
			From:       window.From,
			To:         window.To,
			Limit:      limit,
		}
		if err := validate.Struct(req); err != nil {
			return nil, fmt.Errorf("invalid request for %s: %w", p, err)
		}
		requests = append(requests, req)
	}

	if err := d.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, &FileIOError{Op: "mkdir", Path: dir, Err: err}
	}

	var written []string
	for i, req := range requests {
		d.logger.Info("downloading data for phenomenon", "phenomenon", req.Phenomenon, "bbox", req.BBox.String())

		body, err := d.source.FetchBoxData(ctx, req)
		if err != nil {
			return written, err
		}

		path := filepath.Join(dir, PhenomenonFileName(i, req.Phenomenon, now))
		if err := afero.WriteFile(d.fs, path, body, 0o644); err != nil {
			return written, &FileIOError{Op: "write", Path: path, Err: err}
		}
		d.logger.Info("saved phenomenon data", "path", path, "bytes", len(body))
		written = append(written, path)
	}

	return written, nil
}
