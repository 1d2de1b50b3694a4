package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Backend persists the flat key/value namespace.
type Backend interface {
	LoadKeys(ctx context.Context) (map[string]json.RawMessage, error)
	SaveKeys(ctx context.Context, values map[string]json.RawMessage) error
	Close() error
}

type InMemoryBackend struct {
	mu     sync.Mutex
	values map[string]json.RawMessage
}

func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{values: map[string]json.RawMessage{}}
}

func (b *InMemoryBackend) LoadKeys(_ context.Context) (map[string]json.RawMessage, error) {
	if b == nil {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return cloneValues(b.values), nil
}

func (b *InMemoryBackend) SaveKeys(_ context.Context, values map[string]json.RawMessage) error {
	if b == nil || len(values) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.values == nil {
		b.values = map[string]json.RawMessage{}
	}
	for key, value := range cloneValues(values) {
		b.values[key] = value
	}
	return nil
}

func (b *InMemoryBackend) Close() error {
	return nil
}

var errCorruptFile = errors.New("state file is not a JSON object")

// JSONFileBackend keeps every key in a single JSON object on disk. A file
// that no longer parses is moved aside on load and the store starts from
// defaults.
type JSONFileBackend struct {
	Path   string
	Logger *slog.Logger

	mu sync.Mutex
}

func NewJSONFileBackend(path string) *JSONFileBackend {
	return &JSONFileBackend{Path: strings.TrimSpace(path)}
}

func (b *JSONFileBackend) LoadKeys(_ context.Context) (map[string]json.RawMessage, error) {
	if b == nil || strings.TrimSpace(b.Path) == "" {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	values, err := b.readLocked()
	if errors.Is(err, errCorruptFile) {
		aside := b.Path + ".corrupt"
		logger := b.Logger
		if logger == nil {
			logger = slog.Default()
		}
		if renameErr := os.Rename(b.Path, aside); renameErr != nil {
			logger.Warn("unreadable state file ignored", "path", b.Path, "error", err, "rename_error", renameErr)
		} else {
			logger.Warn("unreadable state file moved aside", "path", b.Path, "moved_to", aside, "error", err)
		}
		return nil, nil
	}
	return values, err
}

func (b *JSONFileBackend) SaveKeys(_ context.Context, values map[string]json.RawMessage) error {
	if b == nil || strings.TrimSpace(b.Path) == "" || len(values) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	current, err := b.readLocked()
	if err != nil {
		// An unreadable file is overwritten with the new keys.
		current = nil
	}
	if current == nil {
		current = map[string]json.RawMessage{}
	}
	for key, value := range values {
		current[key] = value
	}
	data, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(b.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return writeFileAtomic(b.Path, data, 0o644)
}

func (b *JSONFileBackend) Close() error {
	return nil
}

func (b *JSONFileBackend) readLocked() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(b.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var values map[string]json.RawMessage
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruptFile, err)
	}
	return values, nil
}

func cloneValues(values map[string]json.RawMessage) map[string]json.RawMessage {
	if values == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(values))
	for key, value := range values {
		out[key] = append(json.RawMessage(nil), value...)
	}
	return out
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
