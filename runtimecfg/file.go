package runtimecfg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"
)

// FileBackend stores the configuration as a small JSON document. Reads
// accept comments and trailing commas so operators can annotate the file.
type FileBackend struct {
	path string
}

// NewFileBackend returns a backend for the given path. The file need not exist.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (b *FileBackend) Name() string { return "file" }

// Path returns the file location.
func (b *FileBackend) Path() string { return b.path }

// fileDocument uses pointers so absent fields keep their defaults.
type fileDocument struct {
	TestPeriodMs    *int64 `json:"testPeriodMs"`
	TestFailAfterMs *int64 `json:"testFailAfterMs"`
}

func (b *FileBackend) Load(ctx context.Context) (Config, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, ErrNotFound
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read %s: %w", b.path, err)
	}

	var doc fileDocument
	if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
		return Config{}, fmt.Errorf("failed to parse %s: %w", b.path, err)
	}
	return Default().merge(Partial(doc)), nil
}

// Save writes the document to a temporary file and renames it into place so
// a crash never leaves a truncated file behind.
func (b *FileBackend) Save(ctx context.Context, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode runtime config: %w", err)
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), b.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", b.path, err)
	}
	return nil
}

func (b *FileBackend) Close() error { return nil }
