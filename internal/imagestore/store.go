// Package imagestore persists screenshot bytes to disk and tracks a ledger
// of written files for the retention sweeper to consume.
package imagestore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Image is one entry in the ledger: a file on disk and when it was written.
type Image struct {
	Path      string
	CreatedAt time.Time
}

// Store writes received JPEG bytes under a request/agent/monitor-scoped
// filename and serves them back under a stable "/images/<basename>" URL
// prefix. It also maintains the in-memory ledger of (path, created_at)
// consumed by the retention sweeper (internal/retention).
type Store struct {
	dir string

	mu     sync.Mutex
	images []Image
}

// New creates a Store rooted at dir. dir must already exist — the caller
// (cmd/remoshotd) is responsible for creating it at startup so a disk-init
// failure surfaces before the server starts accepting connections.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the root directory images are written under, for wiring the
// static file server in internal/api.
func (s *Store) Dir() string {
	return s.dir
}

// Write persists data under a filename derived from requestID, agentName and
// monitor, and appends a ledger entry on success. Returns the on-disk path
// and the public URL path clients should use to fetch it.
//
// A write failure returns an error and registers no ledger entry — the
// caller (internal/session) is expected to log and skip this image while
// continuing with any siblings, per spec.md §4.3/§7.
func (s *Store) Write(requestID, agentName string, monitor uint32, data []byte) (path, url string, err error) {
	filename := fmt.Sprintf("%s_%s_%d_%d.jpg", requestID, agentName, monitor, time.Now().UnixMilli())
	path = filepath.Join(s.dir, filename)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", "", fmt.Errorf("imagestore: writing %s: %w", filename, err)
	}

	s.mu.Lock()
	s.images = append(s.images, Image{Path: path, CreatedAt: time.Now()})
	s.mu.Unlock()

	return path, "/images/" + filename, nil
}

// Sweep removes every ledger entry with CreatedAt older than cutoff,
// deleting the backing file for each. File-deletion failures are reported
// to onDeleteErr but the ledger entry is evicted regardless — a stale file
// left behind is tolerated (spec.md §4.7, §7).
//
// Sweep uses swap-remove-during-indexed-walk rather than a range loop so it
// stays correct while mutating the slice it iterates, mirroring the
// original Rust sweeper (original_source/remoshot-server/src/cleanup.rs).
func (s *Store) Sweep(cutoff time.Time, onDeleteErr func(path string, err error)) (evicted int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := 0
	for i < len(s.images) {
		img := s.images[i]
		if img.CreatedAt.Before(cutoff) {
			if err := os.Remove(img.Path); err != nil && onDeleteErr != nil {
				onDeleteErr(img.Path, err)
			}
			last := len(s.images) - 1
			s.images[i] = s.images[last]
			s.images = s.images[:last]
			evicted++
			continue
		}
		i++
	}
	return evicted
}

// Count returns the number of images currently tracked in the ledger.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images)
}
