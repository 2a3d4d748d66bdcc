package shard

import (
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/xtxerr/tickstore/internal/logging"
)

// Manager caches one open Shard per date for the process lifetime.
// Shards are created lazily on first write for a date and closed only
// during final shutdown. All writes go through the single owning writer;
// the mutex only covers the cache map itself.
type Manager struct {
	mu sync.Mutex

	dir    string
	shards map[string]*Shard

	log *slog.Logger
}

// NewManager creates a manager rooted at dir, creating dir if needed.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Manager{
		dir:    dir,
		shards: make(map[string]*Shard),
		log:    logging.Component("shard"),
	}, nil
}

// Dir returns the shard directory.
func (m *Manager) Dir() string {
	return m.dir
}

// GetOrCreate returns the cached shard for date, opening and caching it
// on first use.
func (m *Manager) GetOrCreate(date string) (*Shard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.shards[date]; ok {
		return s, nil
	}

	s, err := Open(m.dir, date)
	if err != nil {
		return nil, err
	}

	m.shards[date] = s
	m.log.Info("shard opened", "date", date, "path", s.Path)
	return s, nil
}

// OpenDates returns the dates with cached handles, sorted ascending.
func (m *Manager) OpenDates() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	dates := make([]string, 0, len(m.shards))
	for d := range m.shards {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

// CloseAll closes every cached handle, best-effort. Close failures are
// logged, not returned; shutdown proceeds regardless.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for date, s := range m.shards {
		if err := s.Close(); err != nil {
			m.log.Warn("shard close failed", "date", date, "error", err)
			continue
		}
		m.log.Info("shard closed", "date", date)
	}
	m.shards = make(map[string]*Shard)
}

// ValidDate reports whether s parses as a shard date.
func ValidDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}
