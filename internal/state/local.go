package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BTreeMap/VoterBot/internal/models"
)

// LocalBackend stores the state in a file.
type LocalBackend struct {
	path string
}

// NewLocalBackend creates a backend for the file at path.
func NewLocalBackend(path string) *LocalBackend {
	return &LocalBackend{path: path}
}

// Location returns the file path.
func (b *LocalBackend) Location() string {
	return b.path
}

// Load reads the state file. A missing file yields the default state.
func (b *LocalBackend) Load(ctx context.Context) (*models.ScheduleState, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("LocalBackend.Load: no state file, using defaults", "path", b.path)
		return models.DefaultScheduleState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state %s: %w", b.path, err)
	}
	st, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.path, err)
	}
	return st, nil
}

// Save writes the state atomically: the document goes to a temporary file in
// the same directory, is synced, then renamed over the target.
func (b *LocalBackend) Save(ctx context.Context, st *models.ScheduleState) error {
	data, err := Encode(st)
	if err != nil {
		return err
	}
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("failed to set state file mode: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	tmpName = ""

	slog.Debug("LocalBackend.Save: state written", "path", b.path, "used", len(st.UsedIDs), "queue_index", st.QueueIndex)
	return nil
}
