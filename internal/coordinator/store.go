package coordinator

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"alfred-ai/internal/domain"
)

// FileCheckpointStore persists checkpoints as a JSON array at a fixed
// path, writing atomically via write-to-temp-then-rename, mirroring the
// Conversation Manager's store.
type FileCheckpointStore struct {
	path   string
	logger *slog.Logger
}

// NewFileCheckpointStore creates a FileCheckpointStore writing to path.
func NewFileCheckpointStore(path string, logger *slog.Logger) *FileCheckpointStore {
	return &FileCheckpointStore{path: path, logger: logger}
}

type storedCheckpoint struct {
	SessionID domain.AgentSessionID `json:"sessionId"`
	Adapter   domain.AdapterConfig  `json:"adapter"`
	Timestamp string                `json:"timestamp"`
}

// Load returns the persisted checkpoints, or an empty map if the file is
// missing. Malformed content is logged at warn and treated as empty.
func (s *FileCheckpointStore) Load() (map[domain.AgentSessionID]domain.AgentCheckpoint, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[domain.AgentSessionID]domain.AgentCheckpoint), nil
		}
		return nil, fmt.Errorf("coordinator store: read %s: %w", s.path, err)
	}

	var stored []storedCheckpoint
	if err := json.Unmarshal(data, &stored); err != nil {
		s.logger.Warn("coordinator store: malformed checkpoints.json, starting empty", "error", err)
		return make(map[domain.AgentSessionID]domain.AgentCheckpoint), nil
	}

	checkpoints := make(map[domain.AgentSessionID]domain.AgentCheckpoint, len(stored))
	for _, sc := range stored {
		checkpoint := domain.AgentCheckpoint{SessionID: sc.SessionID, Adapter: sc.Adapter}
		if t, err := time.Parse(time.RFC3339, sc.Timestamp); err == nil {
			checkpoint.Timestamp = t
		}
		checkpoints[sc.SessionID] = checkpoint
	}
	return checkpoints, nil
}

// Save atomically persists checkpoints: write to "<path>.tmp.<unix-ms>",
// then rename over path.
func (s *FileCheckpointStore) Save(checkpoints map[domain.AgentSessionID]domain.AgentCheckpoint) error {
	stored := make([]storedCheckpoint, 0, len(checkpoints))
	for _, checkpoint := range checkpoints {
		stored = append(stored, storedCheckpoint{
			SessionID: checkpoint.SessionID,
			Adapter:   checkpoint.Adapter,
			Timestamp: checkpoint.Timestamp.UTC().Format(time.RFC3339),
		})
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("coordinator store: marshal: %w", err)
	}

	tmp := fmt.Sprintf("%s.tmp.%d", s.path, time.Now().UnixMilli())
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("coordinator store: write %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("coordinator store: rename %s to %s: %w", tmp, s.path, err)
	}
	return nil
}
