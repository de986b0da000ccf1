// Package cache implements the file-backed response cache. Each entry is one
// JSON file named by a deterministic key hash; writes go to a temp file in
// the same directory and are made visible with an atomic rename, so readers
// never observe a partially written entry. Staleness past the expiry is
// masked by the freshness check in Get; Sweep only reclaims disk space.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// envelope is the on-disk entry format. CreatedAt is authoritative for
// freshness and carries full nanosecond precision so ages compare exactly
// against the clock; the file mtime is only used by Sweep.
type envelope struct {
	CreatedAt int64           `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Store is a file-backed cache with TTL semantics.
type Store struct {
	dir    string
	clock  clockwork.Clock
	logger *slog.Logger

	mu     sync.RWMutex
	expiry time.Duration

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New creates a Store rooted at dir, creating the directory if needed.
// Entries older than expiry are treated as absent by Get.
func New(dir string, expiry time.Duration, clock clockwork.Clock, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{dir: dir, expiry: expiry, clock: clock, logger: logger}, nil
}

// Key derives the deterministic cache key for an endpoint and parameter set.
// Parameters are serialized sorted by name, so semantically identical
// requests collide to one entry regardless of client parameter order.
func Key(endpointID string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(endpointID))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(params[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached payload and its age if the entry exists and is
// younger than the expiry. Expired or unreadable entries are reported as
// absent; the physical file is left for Sweep to reclaim.
func (s *Store) Get(key string) ([]byte, time.Duration, bool) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		s.misses.Add(1)
		return nil, 0, false
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Warn("discarding corrupt cache entry", "key", key, "error", err)
		s.misses.Add(1)
		return nil, 0, false
	}

	s.mu.RLock()
	expiry := s.expiry
	s.mu.RUnlock()

	age := s.clock.Now().Sub(time.Unix(0, env.CreatedAt))
	if age < 0 || age >= expiry {
		s.misses.Add(1)
		return nil, 0, false
	}

	s.hits.Add(1)
	return env.Payload, age, true
}

// Put stores a payload under key. The envelope is fully written to a temp
// file in the cache directory, then renamed into place.
func (s *Store) Put(key string, payload []byte) error {
	env := envelope{
		CreatedAt: s.clock.Now().UnixNano(),
		Payload:   json.RawMessage(payload),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, key+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating cache temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("writing cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("closing cache temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path(key)); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("publishing cache entry: %w", err)
	}
	return nil
}

// UpdateExpiry replaces the freshness bound used by Get. Called on config
// reload; existing entries are re-judged against the new bound.
func (s *Store) UpdateExpiry(expiry time.Duration) {
	s.mu.Lock()
	s.expiry = expiry
	s.mu.Unlock()
	s.logger.Info("cache expiry updated", "expiry", expiry)
}

// Sweep removes cache files older than maxAge (by mtime) plus any orphaned
// temp files. Errors on individual files are logged and skipped; a sweep
// must never fail a request.
func (s *Store) Sweep(maxAge time.Duration) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("cache sweep failed", "error", err)
		return
	}

	// File mtimes come from the wall clock, so the cutoff must too; the
	// injected clock only governs entry freshness in Get.
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".tmp") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			s.logger.Warn("cache sweep: remove failed", "file", name, "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Debug("cache sweep complete", "removed", removed)
	}
}

// Stats describes the store for the admin API.
type Stats struct {
	Entries int    `json:"entries"`
	Bytes   int64  `json:"bytes"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

// Stats walks the cache directory and returns entry count, total size, and
// the in-process hit/miss counters.
func (s *Store) Stats() Stats {
	st := Stats{Hits: s.hits.Load(), Misses: s.misses.Load()}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return st
	}
	for _, e := range entries {
		// Rate-limit windows share the directory under a "rate_" prefix
		// and are not response cache entries.
		if !strings.HasSuffix(e.Name(), ".json") || strings.HasPrefix(e.Name(), "rate_") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		st.Entries++
		st.Bytes += info.Size()
	}
	return st
}

// Purge removes every cache entry. Returns the number of files removed.
func (s *Store) Purge() int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "rate_") {
			continue
		}
		if !strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".tmp") {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err == nil {
			removed++
		}
	}
	return removed
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}
