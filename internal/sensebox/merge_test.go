package sensebox

import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
)

func newTestAggregator(t *testing.T, files map[string]string) (*Aggregator, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	if err := fs.MkdirAll("data", 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for name, content := range files {
		if err := afero.WriteFile(fs, filepath.Join("data", name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return NewAggregator(fs, slog.New(slog.NewTextHandler(io.Discard, nil))), fs
}

func TestMergeZeroFiles(t *testing.T) {
	agg, fs := newTestAggregator(t, nil)

	res, err := agg.Merge("data")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Table.Empty() {
		t.Fatalf("expected empty table, got %+v", res.Table)
	}

	got, err := afero.ReadFile(fs, filepath.Join("data", MergedFileName))
	if err != nil {
		t.Fatalf("expected merged file to exist: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty merged file, got %q", string(got))
	}
}

func TestMergeUnionOfColumns(t *testing.T) {
	agg, fs := newTestAggregator(t, map[string]string{
		"A_Temperatur_2023-03-01.csv":  "sensorId,createdAt,value\ns1,2023-03-01T12:00:00Z,4.2\n",
		"B_Temperature_2023-03-01.csv": "sensorId,createdAt,unit\ns2,2023-03-01T12:05:00Z,°C\n",
	})

	res, err := agg.Merge("data")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantHeader := []string{"sensorId", "createdAt", "value", "unit"}
	if len(res.Table.Header) != len(wantHeader) {
		t.Fatalf("expected header %v, got %v", wantHeader, res.Table.Header)
	}
	for i, h := range wantHeader {
		if res.Table.Header[i] != h {
			t.Fatalf("expected header %v, got %v", wantHeader, res.Table.Header)
		}
	}
	if len(res.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(res.Sources))
	}

	got, err := afero.ReadFile(fs, filepath.Join("data", MergedFileName))
	if err != nil {
		t.Fatalf("read merged: %v", err)
	}
	want := "sensorId,createdAt,value,unit\n" +
		"s1,2023-03-01T12:00:00Z,4.2,\n" +
		"s2,2023-03-01T12:05:00Z,,°C\n"
	if string(got) != want {
		t.Fatalf("expected merged file %q, got %q", want, string(got))
	}
}

func TestMergeSkipsOwnOutputs(t *testing.T) {
	agg, _ := newTestAggregator(t, map[string]string{
		"A_Temperatur_2023-03-01.csv": "sensorId,createdAt\ns1,2023-03-01T12:00:00Z\n",
		MergedFileName:                "sensorId,createdAt\nold,2020-01-01T00:00:00Z\n",
		FrequencyFileName:             "sensorId,acquisition_frequency(min)\nold,1.0\n",
		"notes.txt":                   "not a csv",
	})

	res, err := agg.Merge("data")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Sources) != 1 {
		t.Fatalf("expected 1 source, got %v", res.Sources)
	}
	if len(res.Table.Rows) != 1 || res.Table.Rows[0][0] != "s1" {
		t.Fatalf("expected only the s1 row, got %v", res.Table.Rows)
	}
}

func TestMergeHeaderOnlyAndEmptyFiles(t *testing.T) {
	agg, _ := newTestAggregator(t, map[string]string{
		"A_PM2.5_2023-03-01.csv":     "sensorId,createdAt,value\n",
		"B_Luftdruck_2023-03-01.csv": "",
	})

	res, err := agg.Merge("data")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Table.Header) != 3 {
		t.Errorf("expected 3 columns, got %v", res.Table.Header)
	}
	if len(res.Table.Rows) != 0 {
		t.Errorf("expected no rows, got %d", len(res.Table.Rows))
	}
}

func TestMergeRejectsLongRows(t *testing.T) {
	agg, _ := newTestAggregator(t, map[string]string{
		"A_Temperatur_2023-03-01.csv": "sensorId,createdAt\ns1,2023-03-01T12:00:00Z,extra\n",
	})

	_, err := agg.Merge("data")
	var fe *FileIOError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FileIOError, got %v", err)
	}
}

func TestReadTablePadsShortRows(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "short.csv", []byte("a,b,c\n1,2\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	tbl, err := ReadTable(fs, "short.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tbl.Rows) != 1 || len(tbl.Rows[0]) != 3 || tbl.Rows[0][2] != "" {
		t.Fatalf("expected padded row, got %v", tbl.Rows)
	}
}

func TestConcatKeepsFirstSeenOrder(t *testing.T) {
	out := Concat(
		Table{Header: []string{"b", "a"}, Rows: [][]string{{"1", "2"}}},
		Table{Header: []string{"c", "a"}, Rows: [][]string{{"3", "4"}}},
	)

	if got := out.Header; len(got) != 3 || got[0] != "b" || got[1] != "a" || got[2] != "c" {
		t.Fatalf("expected header [b a c], got %v", got)
	}
	if out.Rows[0][0] != "1" || out.Rows[0][1] != "2" || out.Rows[0][2] != "" {
		t.Errorf("unexpected first row %v", out.Rows[0])
	}
	if out.Rows[1][0] != "" || out.Rows[1][1] != "4" || out.Rows[1][2] != "3" {
		t.Errorf("unexpected second row %v", out.Rows[1])
	}
}

func TestConcatDropsCellsBeyondHeader(t *testing.T) {
	out := Concat(Table{Header: []string{"sensorId"}, Rows: [][]string{{"X", "extra"}}})

	if len(out.Header) != 1 || len(out.Rows) != 1 {
		t.Fatalf("unexpected table %+v", out)
	}
	if len(out.Rows[0]) != 1 || out.Rows[0][0] != "X" {
		t.Errorf("expected row [X], got %v", out.Rows[0])
	}
}
