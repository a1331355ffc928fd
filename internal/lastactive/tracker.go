// Package lastactive implements the Last-Active Tracker: a single
// persisted destination recording the most recent user-originated
// conversation, used to route "lastActive" pulse responses.
package lastactive

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"alfred-ai/internal/domain"
)

// Tracker holds an optional destination in memory, persisted to a JSON
// state file. Safe for concurrent use.
type Tracker struct {
	mu        sync.RWMutex
	dest      *domain.Destination
	updatedAt time.Time

	path   string
	logger *slog.Logger
}

// NewTracker creates a Tracker backed by the state file at path.
func NewTracker(path string, logger *slog.Logger) *Tracker {
	return &Tracker{path: path, logger: logger}
}

// Update overwrites the current destination. Only the Router calls this,
// and only for user-originated inbound activity — pulse-generated turns
// must never call it.
func (t *Tracker) Update(destination domain.Destination) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dest = &destination
	t.updatedAt = time.Now()
}

// Get returns the current destination, or false if none has been recorded.
func (t *Tracker) Get() (domain.Destination, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.dest == nil {
		return domain.Destination{}, false
	}
	return *t.dest, true
}

type stateFile struct {
	Destination *domain.Destination `json:"destination"`
	UpdatedAt   string              `json:"updatedAt"`
}

// Load reads the state file. A missing file is tolerated silently; a
// malformed one is tolerated with a warning. Either way the tracker starts
// with no destination set.
func (t *Tracker) Load() error {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("last-active: read %s: %w", t.path, err)
	}

	var sf stateFile
	if err := json.Unmarshal(data, &sf); err != nil {
		t.logger.Warn("last-active: malformed state file, starting empty", "error", err)
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.dest = sf.Destination
	if ts, err := time.Parse(time.RFC3339, sf.UpdatedAt); err == nil {
		t.updatedAt = ts
	}
	return nil
}

// Save atomically persists the current state via write-then-rename,
// creating the parent directory if needed. A no-op when no destination is
// set.
func (t *Tracker) Save() error {
	t.mu.RLock()
	dest := t.dest
	updatedAt := t.updatedAt
	t.mu.RUnlock()

	if dest == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("last-active: mkdir: %w", err)
	}

	sf := stateFile{Destination: dest, UpdatedAt: updatedAt.UTC().Format(time.RFC3339)}
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("last-active: marshal: %w", err)
	}

	tmp := fmt.Sprintf("%s.tmp.%d", t.path, time.Now().UnixMilli())
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("last-active: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("last-active: rename %s to %s: %w", tmp, t.path, err)
	}
	return nil
}
