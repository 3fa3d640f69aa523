package sensebox

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	sensorIDColumn  = "sensorId"
	createdAtColumn = "createdAt"
)

// FrequencyHeader is the header row of the frequency output file.
var FrequencyHeader = []string{"sensorId", "acquisition_frequency(min)"}

var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseCreatedAt parses a createdAt cell. Values without a zone are taken as UTC.
func ParseCreatedAt(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range createdAtLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format")
}

// ComputeFrequencies groups rows by sensorId, orders each group by createdAt
// and returns the mean gap between consecutive readings in minutes, sorted by
// sensor id. Rows with an empty sensorId are ignored; an empty createdAt is a
// missing reading and does not count towards the mean.
func ComputeFrequencies(t Table) ([]SensorFrequencyRecord, error) {
	idCol := t.Column(sensorIDColumn)
	tsCol := t.Column(createdAtColumn)
	if len(t.Rows) == 0 && (idCol < 0 || tsCol < 0) {
		return nil, nil
	}
	if idCol < 0 {
		return nil, &TimestampParseError{Err: fmt.Errorf("missing %q column", sensorIDColumn)}
	}
	if tsCol < 0 {
		return nil, &TimestampParseError{Err: fmt.Errorf("missing %q column", createdAtColumn)}
	}

	groups := make(map[string][]time.Time)
	for i, row := range t.Rows {
		id := row[idCol]
		if id == "" {
			continue
		}
		if _, ok := groups[id]; !ok {
			groups[id] = nil
		}
		// Merged files leave createdAt empty for sources without the column.
		if strings.TrimSpace(row[tsCol]) == "" {
			continue
		}
		ts, err := ParseCreatedAt(row[tsCol])
		if err != nil {
			return nil, &TimestampParseError{Row: i + 1, Value: row[tsCol], Err: err}
		}
		groups[id] = append(groups[id], ts)
	}

	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	records := make([]SensorFrequencyRecord, 0, len(ids))
	for _, id := range ids {
		times := groups[id]
		sort.SliceStable(times, func(i, j int) bool { return times[i].Before(times[j]) })

		rec := SensorFrequencyRecord{SensorID: id}
		if n := len(times); n > 1 {
			// The mean of consecutive gaps telescopes to the total span over n-1.
			mean := float64(times[n-1].Sub(times[0])) / float64(n-1) / float64(time.Minute)
			rec.MeanMinutes = &mean
		}
		records = append(records, rec)
	}
	return records, nil
}

// FrequencyTable renders records in the output file layout. A missing mean is an empty cell.
func FrequencyTable(records []SensorFrequencyRecord) Table {
	t := Table{Header: append([]string(nil), FrequencyHeader...)}
	for _, r := range records {
		cell := ""
		if r.MeanMinutes != nil {
			cell = formatMinutes(*r.MeanMinutes)
		}
		t.Rows = append(t.Rows, []string{r.SensorID, cell})
	}
	return t
}

func formatMinutes(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// FrequencyResult describes a finished frequency computation.
type FrequencyResult struct {
	Path        string
	SensorCount int
	Records     []SensorFrequencyRecord
}

// Frequencies loads MergedFileName from dir, computes per-sensor intervals and
// writes FrequencyFileName next to it.
func (a *Aggregator) Frequencies(dir string) (FrequencyResult, error) {
	merged, err := ReadTable(a.fs, filepath.Join(dir, MergedFileName))
	if err != nil {
		return FrequencyResult{}, err
	}

	records, err := ComputeFrequencies(merged)
	if err != nil {
		return FrequencyResult{}, err
	}

	path := filepath.Join(dir, FrequencyFileName)
	if err := WriteTable(a.fs, path, FrequencyTable(records)); err != nil {
		return FrequencyResult{}, err
	}

	a.logger.Info("data acquisition frequency saved", "path", path, "sensors", len(records))
	return FrequencyResult{Path: path, SensorCount: len(records), Records: records}, nil
}
