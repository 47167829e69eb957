// Package checkpoint persists per-turn snapshots of agent state under a
// retention policy, and maintains an append-only trajectory log of
// turn-level events. It is the on-disk counterpart to internal/sessions:
// sessions hold the live conversation, checkpoint holds point-in-time
// recovery snapshots and an audit trail of what happened each turn.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vtcode/vtcode/pkg/models"
)

// TurnState is the snapshot persisted after a successful turn. It mirrors
// the subset of runtime state needed to resume or audit a session:
// transient cancellation flags and in-flight tool state are deliberately
// excluded, matching the turn engine's rule that checkpoints capture
// completed turns only.
type TurnState struct {
	SessionID     string            `json:"session_id"`
	Turn          int               `json:"turn"`
	Timestamp     time.Time         `json:"timestamp"`
	Model         string            `json:"model"`
	History       []*models.Message `json:"history"`
	ModifiedFiles []string          `json:"modified_files,omitempty"`
}

// Config controls checkpoint retention and trajectory log placement.
type Config struct {
	// StorageDir holds checkpoint-<turn>-<unix>.json files.
	StorageDir string

	// MaxSnapshots caps the number of checkpoint files retained per
	// session; the oldest are evicted first. Zero means no cap.
	MaxSnapshots int

	// MaxAgeDays evicts checkpoint files older than this many days,
	// independent of MaxSnapshots. Zero means no age-based eviction.
	MaxAgeDays int
}

// Manager writes checkpoints and trajectory entries to disk and enforces
// the configured retention policy.
type Manager struct {
	cfg Config
}

// NewManager creates a checkpoint manager. StorageDir is created lazily on
// first write.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// Save writes state to <storage_dir>/checkpoint-<turn>-<unix>.json and then
// enforces retention for that session's checkpoint files.
func (m *Manager) Save(state TurnState) error {
	if m.cfg.StorageDir == "" {
		return fmt.Errorf("checkpoint: storage dir not configured")
	}
	if err := os.MkdirAll(m.cfg.StorageDir, 0o755); err != nil {
		return fmt.Errorf("checkpoint: create storage dir: %w", err)
	}

	if state.Timestamp.IsZero() {
		state.Timestamp = time.Now()
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal state: %w", err)
	}

	name := fmt.Sprintf("checkpoint-%d-%d.json", state.Turn, state.Timestamp.Unix())
	path := filepath.Join(m.cfg.StorageDir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("checkpoint: write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("checkpoint: finalize %s: %w", name, err)
	}

	return m.enforceRetention(state.SessionID)
}

// checkpointFile describes one discovered checkpoint file on disk.
type checkpointFile struct {
	path      string
	turn      int
	epochSecs int64
}

// enforceRetention evicts checkpoint files beyond MaxSnapshots (oldest
// first) and any older than MaxAgeDays, scanning only files for the given
// session (checkpoints for other sessions in the same dir are untouched).
func (m *Manager) enforceRetention(sessionID string) error {
	if m.cfg.MaxSnapshots <= 0 && m.cfg.MaxAgeDays <= 0 {
		return nil
	}

	entries, err := os.ReadDir(m.cfg.StorageDir)
	if err != nil {
		return fmt.Errorf("checkpoint: list storage dir: %w", err)
	}

	var files []checkpointFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		cf, ok := parseCheckpointName(entry.Name())
		if !ok {
			continue
		}
		if !belongsToSession(m.cfg.StorageDir, entry.Name(), sessionID) {
			continue
		}
		files = append(files, cf)
	}

	if m.cfg.MaxAgeDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -m.cfg.MaxAgeDays).Unix()
		var kept []checkpointFile
		for _, cf := range files {
			if cf.epochSecs < cutoff {
				_ = os.Remove(cf.path)
				continue
			}
			kept = append(kept, cf)
		}
		files = kept
	}

	if m.cfg.MaxSnapshots > 0 && len(files) > m.cfg.MaxSnapshots {
		sort.Slice(files, func(i, j int) bool { return files[i].epochSecs < files[j].epochSecs })
		excess := len(files) - m.cfg.MaxSnapshots
		for _, cf := range files[:excess] {
			_ = os.Remove(cf.path)
		}
	}

	return nil
}

// parseCheckpointName extracts the turn number and unix timestamp from a
// checkpoint-<turn>-<unix>.json filename.
func parseCheckpointName(name string) (checkpointFile, bool) {
	if !strings.HasPrefix(name, "checkpoint-") || !strings.HasSuffix(name, ".json") {
		return checkpointFile{}, false
	}
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, "checkpoint-"), ".json")
	parts := strings.SplitN(trimmed, "-", 2)
	if len(parts) != 2 {
		return checkpointFile{}, false
	}
	turn, err := strconv.Atoi(parts[0])
	if err != nil {
		return checkpointFile{}, false
	}
	epoch, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return checkpointFile{}, false
	}
	return checkpointFile{turn: turn, epochSecs: epoch}, true
}

// belongsToSession peeks at a checkpoint file's session_id field without
// fully decoding it, so retention sweeps in a shared directory only ever
// touch the triggering session's own files.
func belongsToSession(dir, name, sessionID string) bool {
	path := filepath.Join(dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var probe struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.SessionID == sessionID
}
