package conversation

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"alfred-ai/internal/domain"
)

// FileStore persists the binding set as a JSON array at a fixed path,
// writing atomically via write-to-temp-then-rename.
type FileStore struct {
	path   string
	logger *slog.Logger
}

// NewFileStore creates a FileStore writing to path.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	return &FileStore{path: path, logger: logger}
}

type storedBinding struct {
	Destination    domain.Destination    `json:"destination"`
	AgentID        domain.AgentSessionID `json:"agentId,omitempty"`
	CreatedAt      string                `json:"createdAt"`
	LastActivityAt string                `json:"lastActivityAt"`
}

// Load returns the persisted bindings, or an empty slice if the file is
// missing. Malformed content is logged at warn and treated as empty.
func (s *FileStore) Load() ([]domain.ConversationBinding, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("conversation store: read %s: %w", s.path, err)
	}

	var stored []storedBinding
	if err := json.Unmarshal(data, &stored); err != nil {
		s.logger.Warn("conversation store: malformed conversations.json, starting empty", "error", err)
		return nil, nil
	}

	bindings := make([]domain.ConversationBinding, 0, len(stored))
	for _, sb := range stored {
		b := domain.ConversationBinding{
			Destination: sb.Destination,
			AgentID:     sb.AgentID,
		}
		if t, err := time.Parse(time.RFC3339, sb.CreatedAt); err == nil {
			b.CreatedAt = t
		}
		if t, err := time.Parse(time.RFC3339, sb.LastActivityAt); err == nil {
			b.LastActivityAt = t
		}
		bindings = append(bindings, b)
	}
	return bindings, nil
}

// Save atomically persists bindings: write to "<path>.tmp.<unix-ms>", then
// rename over path. The temp file is best-effort unlinked on any failure
// before the error is returned.
func (s *FileStore) Save(bindings []domain.ConversationBinding) error {
	stored := make([]storedBinding, 0, len(bindings))
	for _, b := range bindings {
		stored = append(stored, storedBinding{
			Destination:    b.Destination,
			AgentID:        b.AgentID,
			CreatedAt:      b.CreatedAt.UTC().Format(time.RFC3339),
			LastActivityAt: b.LastActivityAt.UTC().Format(time.RFC3339),
		})
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("conversation store: marshal: %w", err)
	}

	tmp := fmt.Sprintf("%s.tmp.%d", s.path, time.Now().UnixMilli())
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("conversation store: write %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("conversation store: rename %s to %s: %w", tmp, s.path, err)
	}
	return nil
}
