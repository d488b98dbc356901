// Package gallery stores enrolled face images and serves the cached list of
// known faces to recognition.
package gallery

import (
	"crypto/md5"
	"encoding/hex"
	"path/filepath"
	"strings"
	"time"
)

// Identity is an enrolled employee face.
type Identity struct {
	Name    string `yaml:"name" json:"name"`
	Service string `yaml:"service" json:"service"`
	// Optional per-identity official times ("HH:MM"); empty means the defaults.
	Arrival    string    `yaml:"arrival,omitempty" json:"arrival,omitempty"`
	Departure  string    `yaml:"departure,omitempty" json:"departure,omitempty"`
	EnrolledAt time.Time `yaml:"enrolled_at,omitempty" json:"enrolled_at,omitempty"`
	ArchiveURL string    `yaml:"archive_url,omitempty" json:"archive_url,omitempty"`
}

// Manifest maps gallery references (file names) to identities.
type Manifest map[string]Identity

// Key derives the storage key for a (name, service) pair: md5(name+service).
func Key(name, service string) string {
	sum := md5.Sum([]byte(name + service))
	return hex.EncodeToString(sum[:])
}

// Ref is the gallery file name for a (name, service) pair.
func Ref(name, service string) string {
	return Key(name, service) + ".jpg"
}

// Decode resolves the identity behind a gallery reference. Hashed references
// are looked up in the manifest; legacy "name_service.ext" references are
// split on underscores. Anything else is undecodable.
func Decode(ref string, m Manifest) (Identity, bool) {
	if id, ok := m[ref]; ok && id.Name != "" {
		return id, true
	}

	base := strings.TrimSuffix(ref, filepath.Ext(ref))
	parts := strings.Split(base, "_")
	if len(parts) < 2 || parts[0] == "" {
		return Identity{}, false
	}
	return Identity{
		Name:    parts[0],
		Service: strings.Join(parts[1:], " "),
	}, true
}
