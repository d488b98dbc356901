// Package spool holds probe images between an async check-in request and the
// worker that processes it.
package spool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound means no probe is stored under the key.
var ErrNotFound = errors.New("spooled probe not found")

// Spool stores probe images by key.
type Spool interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Dir spools probes as files in a local directory shared by API and worker.
type Dir struct {
	root string
}

// NewDir creates the directory if needed.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	return &Dir{root: root}, nil
}

func newKey() string {
	return "probes/" + uuid.NewString() + ".img"
}

func (d *Dir) path(key string) (string, error) {
	name := strings.TrimPrefix(key, "probes/")
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("invalid spool key %q", key)
	}
	return filepath.Join(d.root, name), nil
}

// Put stores data under a fresh key.
func (d *Dir) Put(_ context.Context, data []byte) (string, error) {
	key := newKey()
	path, _ := d.path(key)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("spool probe: %w", err)
	}
	return key, nil
}

// Get returns the probe stored under key.
func (d *Dir) Get(_ context.Context, key string) ([]byte, error) {
	path, err := d.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read spooled probe: %w", err)
	}
	return data, nil
}

// Delete removes the probe; a missing key is not an error.
func (d *Dir) Delete(_ context.Context, key string) error {
	path, err := d.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete spooled probe: %w", err)
	}
	return nil
}
