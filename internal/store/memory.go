package store

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/i474232898/sensebox-frequency/internal/sensebox"
)

var (
	// ErrNotFound is returned when no report is available for a given city.
	ErrNotFound = errors.New("no frequency report for city")
)

// ReportHistory holds a time-ordered list of reports for a city.
type ReportHistory struct {
	Reports []sensebox.Report
}

// MemoryStore is a concurrency-safe in-memory implementation of a report store.
type MemoryStore struct {
	mu sync.RWMutex

	// key: normalized city, value: history
	data map[string]*ReportHistory

	// retention configuration
	maxHistory int           // max number of reports per city
	maxAge     time.Duration // optional max age for reports
	now        func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		data:       make(map[string]*ReportHistory),
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// CityKey is the canonical key a city's reports are indexed under.
func CityKey(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}

// SaveReport appends a report for its city and enforces retention.
func (s *MemoryStore) SaveReport(report sensebox.Report) error {
	key := CityKey(report.City)

	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.data[key]
	if !ok {
		history = &ReportHistory{}
		s.data[key] = history
	}

	history.Reports = append(history.Reports, report)

	// Enforce retention by count.
	if s.maxHistory > 0 && len(history.Reports) > s.maxHistory {
		over := len(history.Reports) - s.maxHistory
		history.Reports = history.Reports[over:]
	}

	// Enforce retention by age; the newest report is always kept.
	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		i := 0
		for ; i < len(history.Reports)-1; i++ {
			if !history.Reports[i].StartedAt.Before(cutoff) {
				break
			}
		}
		history.Reports = history.Reports[i:]
	}
	return nil
}

// GetLatest returns the most recent report for a city.
func (s *MemoryStore) GetLatest(city string) (sensebox.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[CityKey(city)]
	if !ok || len(history.Reports) == 0 {
		return sensebox.Report{}, ErrNotFound
	}
	return history.Reports[len(history.Reports)-1], nil
}

// GetRange returns all reports for a city started between from and to (inclusive).
func (s *MemoryStore) GetRange(city string, from, to time.Time) ([]sensebox.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[CityKey(city)]
	if !ok || len(history.Reports) == 0 {
		return nil, ErrNotFound
	}

	var result []sensebox.Report
	for _, r := range history.Reports {
		if !r.StartedAt.Before(from) && !r.StartedAt.After(to) {
			result = append(result, r)
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}

	return result, nil
}
