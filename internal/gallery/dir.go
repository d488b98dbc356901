package gallery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const manifestFile = "index.yaml"

// ErrKeyCollision means another (name, service) pair already owns the hashed
// reference of the identity being saved.
var ErrKeyCollision = errors.New("face reference already used by another identity")

var imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// Entry is one known face as served to recognition.
type Entry struct {
	Ref      string
	Path     string
	Identity Identity
	// Decoded is false when the reference maps to no identity.
	Decoded bool
}

// Source loads the full gallery.
type Source interface {
	Load(ctx context.Context) ([]Entry, error)
}

// Dir is a face gallery in a directory: one image per identity plus a YAML
// manifest naming the identity behind each hashed file.
type Dir struct {
	root string
	mu   sync.Mutex
}

// OpenDir creates the directory if needed.
func OpenDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create faces dir: %w", err)
	}
	return &Dir{root: root}, nil
}

// Path resolves a reference to its file path.
func (d *Dir) Path(ref string) string {
	return filepath.Join(d.root, filepath.Base(ref))
}

// Save writes the image for id, replacing any earlier enrollment of the same
// (name, service), and records id in the manifest. A reference held by a
// different pair is left untouched and ErrKeyCollision is returned.
func (d *Dir) Save(id Identity, jpeg []byte) (string, error) {
	ref := Ref(id.Name, id.Service)

	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.readManifest()
	if err != nil {
		return "", err
	}
	if prev, ok := m[ref]; ok && (prev.Name != id.Name || prev.Service != id.Service) {
		return "", fmt.Errorf("%w: %s is enrolled as %s (%s)", ErrKeyCollision, ref, prev.Name, prev.Service)
	}

	if err := writeAtomic(d.Path(ref), jpeg); err != nil {
		return "", fmt.Errorf("write face image: %w", err)
	}
	m[ref] = id
	if err := d.writeManifest(m); err != nil {
		return "", err
	}
	return ref, nil
}

// SetArchiveURL records where the off-site copy of ref lives.
func (d *Dir) SetArchiveURL(ref, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.readManifest()
	if err != nil {
		return err
	}
	id, ok := m[ref]
	if !ok {
		return fmt.Errorf("no manifest entry for %s", ref)
	}
	id.ArchiveURL = url
	m[ref] = id
	return d.writeManifest(m)
}

// Manifest returns the current manifest.
func (d *Dir) Manifest() (Manifest, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readManifest()
}

// List returns the image file names in lexicographic order.
func (d *Dir) List() ([]string, error) {
	dirEntries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("list faces dir: %w", err)
	}
	refs := make([]string, 0, len(dirEntries))
	for _, e := range dirEntries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			refs = append(refs, e.Name())
		}
	}
	sort.Strings(refs)
	return refs, nil
}

// Load lists the gallery and decodes every entry.
func (d *Dir) Load(_ context.Context) ([]Entry, error) {
	refs, err := d.List()
	if err != nil {
		return nil, err
	}
	m, err := d.Manifest()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(refs))
	for _, ref := range refs {
		id, ok := Decode(ref, m)
		entries = append(entries, Entry{Ref: ref, Path: d.Path(ref), Identity: id, Decoded: ok})
	}
	return entries, nil
}

func (d *Dir) readManifest() (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(d.root, manifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return Manifest{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m := Manifest{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return m, nil
}

func (d *Dir) writeManifest(m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := writeAtomic(filepath.Join(d.root, manifestFile), data); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
