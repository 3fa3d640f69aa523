package sensebox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
)

// fakeSource records requests and answers from a per-phenomenon table.
type fakeSource struct {
	bodies   map[Phenomenon]string
	failures map[Phenomenon]error
	requests []PhenomenonRequest
}

func (f *fakeSource) FetchBoxData(_ context.Context, req PhenomenonRequest) ([]byte, error) {
	f.requests = append(f.requests, req)
	if err, ok := f.failures[req.Phenomenon]; ok {
		return nil, err
	}
	return []byte(f.bodies[req.Phenomenon]), nil
}

var testBBox = BoundingBox{MinLon: "18.9", MinLat: "47.3", MaxLon: "19.3", MaxLat: "47.6"}

func newTestDownloader(src DataSource, now time.Time) (*Downloader, afero.Fs) {
	fs := afero.NewMemMapFs()
	d := NewDownloader(src, fs, slog.New(slog.NewTextHandler(io.Discard, nil)))
	d.now = func() time.Time { return now }
	return d, fs
}

func TestDownloadInvalidPhenomenonBeforeNetwork(t *testing.T) {
	src := &fakeSource{}
	d, _ := newTestDownloader(src, time.Now())

	_, err := d.Download(context.Background(), "out", testBBox, []Phenomenon{"Temperatur", "Humidity"}, TimeWindow{}, 0)

	var ip *InvalidPhenomenonError
	if !errors.As(err, &ip) {
		t.Fatalf("expected InvalidPhenomenonError, got %v", err)
	}
	if ip.Name != "Humidity" {
		t.Errorf("expected name Humidity, got %q", ip.Name)
	}
	if len(src.requests) != 0 {
		t.Fatalf("expected no requests, got %d", len(src.requests))
	}
}

func TestDownloadWritesFilesPerSlot(t *testing.T) {
	now := time.Date(2023, 3, 1, 15, 30, 45, 500, time.UTC)
	src := &fakeSource{bodies: map[Phenomenon]string{
		"Temperatur":  "sensorId,createdAt\na,2023-03-01T12:00:00Z\n",
		"Temperature": "sensorId,createdAt\nb,2023-03-01T12:00:00Z\n",
		"temperature": "raw body kept verbatim",
	}}
	d, fs := newTestDownloader(src, now)

	files, err := d.Download(context.Background(), "out", testBBox,
		[]Phenomenon{"Temperatur", "Temperature", "temperature"}, TimeWindow{}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{
		filepath.Join("out", "A_Temperatur_2023-03-01.csv"),
		filepath.Join("out", "B_Temperature_2023-03-01.csv"),
		filepath.Join("out", "C_temperature_2023-03-01.csv"),
	}
	if len(files) != len(want) {
		t.Fatalf("expected %d files, got %v", len(want), files)
	}
	for i, f := range files {
		if f != want[i] {
			t.Errorf("file %d: expected %s, got %s", i, want[i], f)
		}
	}

	got, err := afero.ReadFile(fs, want[2])
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "raw body kept verbatim" {
		t.Errorf("expected verbatim body, got %q", string(got))
	}

	// Default window and limit.
	req := src.requests[0]
	if req.Limit != DefaultLimit {
		t.Errorf("expected limit %d, got %d", DefaultLimit, req.Limit)
	}
	wantTo := now.Truncate(time.Second)
	if !req.To.Equal(wantTo) || !req.From.Equal(wantTo.Add(-24*time.Hour)) {
		t.Errorf("expected window [%v, %v], got [%v, %v]", wantTo.Add(-24*time.Hour), wantTo, req.From, req.To)
	}
}

func TestDownloadAbortsOnFirstFailure(t *testing.T) {
	apiErr := &SensorAPIHTTPError{Phenomenon: "Temperature", Status: 500, Body: "boom"}
	src := &fakeSource{
		bodies:   map[Phenomenon]string{"Temperatur": "x\n", "temperature": "y\n"},
		failures: map[Phenomenon]error{"Temperature": apiErr},
	}
	d, fs := newTestDownloader(src, time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC))

	files, err := d.Download(context.Background(), "out", testBBox,
		[]Phenomenon{"Temperatur", "Temperature", "temperature"}, TimeWindow{}, 0)

	var he *SensorAPIHTTPError
	if !errors.As(err, &he) || he.Status != 500 || he.Body != "boom" {
		t.Fatalf("expected SensorAPIHTTPError 500, got %v", err)
	}
	if len(src.requests) != 2 {
		t.Fatalf("expected the batch to stop after 2 requests, got %d", len(src.requests))
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 written file, got %v", files)
	}
	if ok, _ := afero.Exists(fs, files[0]); !ok {
		t.Errorf("expected %s to stay on disk", files[0])
	}
	if ok, _ := afero.Exists(fs, filepath.Join("out", "C_temperature_2023-03-01.csv")); ok {
		t.Error("expected no file for the abandoned phenomenon")
	}
}

func TestDownloadRejectsBadRequest(t *testing.T) {
	src := &fakeSource{}
	d, _ := newTestDownloader(src, time.Now())

	cases := map[string]struct {
		bbox   BoundingBox
		window TimeWindow
		limit  int
	}{
		"limit too large":  {bbox: testBBox, limit: 20000},
		"non-numeric bbox": {bbox: BoundingBox{MinLon: "west", MinLat: "1", MaxLon: "2", MaxLat: "3"}},
		"inverted window": {
			bbox: testBBox,
			window: TimeWindow{
				From: time.Date(2023, 3, 2, 0, 0, 0, 0, time.UTC),
				To:   time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC),
			},
		},
	}
	for name, tc := range cases {
		_, err := d.Download(context.Background(), "out", tc.bbox, []Phenomenon{"Temperatur"}, tc.window, tc.limit)
		if err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if len(src.requests) != 0 {
		t.Fatalf("expected no requests, got %d", len(src.requests))
	}
}

func TestSlotLabel(t *testing.T) {
	cases := map[int]string{0: "A", 1: "B", 2: "C", 25: "Z", 26: "AA", 27: "AB", 51: "AZ", 52: "BA", 701: "ZZ", 702: "AAA"}
	for i, want := range cases {
		if got := SlotLabel(i); got != want {
			t.Errorf("SlotLabel(%d): expected %s, got %s", i, want, got)
		}
	}
}

func TestBoundingBoxString(t *testing.T) {
	if got := testBBox.String(); got != "18.9,47.3,19.3,47.6" {
		t.Fatalf("unexpected bbox string %q", got)
	}
}
