package sensebox

import (
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
)

const (
	// MergedFileName is the aggregate of every per-phenomenon file.
	MergedFileName = "merged_temperature_data.csv"

	// FrequencyFileName holds one mean reporting interval per sensor.
	FrequencyFileName = "update_frequency.csv"
)

// MergeResult describes a finished merge.
type MergeResult struct {
	Sources []string
	Path    string
	Table   Table
}

// Aggregator merges CSV files and derives frequency statistics from the merge.
type Aggregator struct {
	fs     afero.Fs
	logger *slog.Logger
}

// NewAggregator creates an Aggregator working on fs.
func NewAggregator(fs afero.Fs, logger *slog.Logger) *Aggregator {
	return &Aggregator{fs: fs, logger: logger}
}

// Sources lists the CSV files in dir that take part in a merge, sorted by name.
// The pipeline's own outputs are skipped.
func (a *Aggregator) Sources(dir string) ([]string, error) {
	matches, err := afero.Glob(a.fs, filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, &FileIOError{Op: "glob", Path: dir, Err: err}
	}

	var out []string
	for _, m := range matches {
		switch filepath.Base(m) {
		case MergedFileName, FrequencyFileName:
			continue
		}
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

// Merge concatenates every source CSV in dir and writes MergedFileName,
// overwriting a previous merge. No sources yields an empty file.
func (a *Aggregator) Merge(dir string) (MergeResult, error) {
	sources, err := a.Sources(dir)
	if err != nil {
		return MergeResult{}, err
	}

	tables := make([]Table, 0, len(sources))
	for _, src := range sources {
		t, err := ReadTable(a.fs, src)
		if err != nil {
			return MergeResult{}, err
		}
		tables = append(tables, t)
	}

	merged := Concat(tables...)
	path := filepath.Join(dir, MergedFileName)
	if err := WriteTable(a.fs, path, merged); err != nil {
		return MergeResult{}, err
	}

	a.logger.Info("merged data saved", "path", path, "sources", len(sources), "rows", len(merged.Rows))
	return MergeResult{Sources: sources, Path: path, Table: merged}, nil
}
