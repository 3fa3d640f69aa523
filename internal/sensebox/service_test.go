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

type fakeGeocoder struct {
	box   BoundingBox
	err   error
	calls int
}

func (f *fakeGeocoder) Lookup(_ context.Context, _ string) (BoundingBox, error) {
	f.calls++
	return f.box, f.err
}

type fakeStore struct {
	saved []Report
}

func (f *fakeStore) SaveReport(r Report) error {
	f.saved = append(f.saved, r)
	return nil
}

func (f *fakeStore) GetLatest(string) (Report, error) {
	return f.saved[len(f.saved)-1], nil
}

func (f *fakeStore) GetRange(string, time.Time, time.Time) ([]Report, error) {
	return f.saved, nil
}

type fakePublisher struct {
	err       error
	published []Report
}

func (f *fakePublisher) PublishReport(_ context.Context, r Report) error {
	f.published = append(f.published, r)
	return f.err
}

func TestServiceRunEndToEnd(t *testing.T) {
	now := time.Date(2023, 3, 1, 15, 0, 0, 0, time.UTC)
	geo := &fakeGeocoder{box: testBBox}
	src := &fakeSource{bodies: map[Phenomenon]string{
		"Temperatur": "sensorId,createdAt,value\n" +
			"X,2023-03-01T12:10:00.000Z,4.0\n" +
			"Y,2023-03-01T12:00:00.000Z,3.0\n",
		"Temperature": "createdAt,sensorId,unit\n" +
			"2023-03-01T12:00:00.000Z,X,°C\n",
	}}
	fs := afero.NewMemMapFs()
	st := &fakeStore{}
	pub := &fakePublisher{err: errors.New("broker down")}

	svc := NewService(geo, src, fs, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithStore(st), WithPublisher(pub), WithClock(func() time.Time { return now }))

	report, err := svc.Run(context.Background(), RunRequest{
		City:      "Budapest",
		Phenomena: []Phenomenon{"Temperatur", "Temperature"},
		OutputDir: "out",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.RunID == "" {
		t.Error("expected a run id")
	}
	if report.BBox != testBBox.String() {
		t.Errorf("expected bbox %s, got %s", testBBox.String(), report.BBox)
	}
	if len(report.Files) != 2 {
		t.Errorf("expected 2 files, got %v", report.Files)
	}
	if report.MergedRows != 3 {
		t.Errorf("expected 3 merged rows, got %d", report.MergedRows)
	}
	if report.SensorCount != 2 {
		t.Errorf("expected 2 sensors, got %d", report.SensorCount)
	}
	if !report.To.Equal(now) || !report.From.Equal(now.Add(-24*time.Hour)) {
		t.Errorf("unexpected window [%v, %v]", report.From, report.To)
	}

	got, err := afero.ReadFile(fs, filepath.Join("out", FrequencyFileName))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	want := "sensorId,acquisition_frequency(min)\nX,10.0\nY,\n"
	if string(got) != want {
		t.Errorf("expected %q, got %q", want, string(got))
	}

	// A failing publisher does not fail the run.
	if len(st.saved) != 1 || len(pub.published) != 1 {
		t.Errorf("expected report stored and published once, got %d/%d", len(st.saved), len(pub.published))
	}
}

func TestServiceRunValidatesBeforeGeocoding(t *testing.T) {
	geo := &fakeGeocoder{box: testBBox}
	svc := NewService(geo, &fakeSource{}, afero.NewMemMapFs(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := svc.Run(context.Background(), RunRequest{
		City:      "Budapest",
		Phenomena: []Phenomenon{"Humidity"},
		OutputDir: "out",
	})

	var ip *InvalidPhenomenonError
	if !errors.As(err, &ip) {
		t.Fatalf("expected InvalidPhenomenonError, got %v", err)
	}
	if geo.calls != 0 {
		t.Fatalf("expected no geocoding call, got %d", geo.calls)
	}
}

func TestServiceRunGeocodingNotFound(t *testing.T) {
	geo := &fakeGeocoder{err: ErrGeocodingNotFound}
	src := &fakeSource{}
	svc := NewService(geo, src, afero.NewMemMapFs(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := svc.Run(context.Background(), RunRequest{
		City:      "Atlantis",
		Phenomena: []Phenomenon{"Temperatur"},
		OutputDir: "out",
	})
	if !errors.Is(err, ErrGeocodingNotFound) {
		t.Fatalf("expected ErrGeocodingNotFound, got %v", err)
	}
	if len(src.requests) != 0 {
		t.Fatalf("expected no downloads, got %d", len(src.requests))
	}
}

func TestServiceRunRequiresInputs(t *testing.T) {
	svc := NewService(&fakeGeocoder{}, &fakeSource{}, afero.NewMemMapFs(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	cases := []RunRequest{
		{Phenomena: []Phenomenon{"Temperatur"}, OutputDir: "out"},
		{City: "Budapest", OutputDir: "out"},
		{City: "Budapest", Phenomena: []Phenomenon{"Temperatur"}},
	}
	for i, req := range cases {
		if _, err := svc.Run(context.Background(), req); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}
