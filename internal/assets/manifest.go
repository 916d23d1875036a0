// Package assets loads files listed in a YAML manifest off the scheduler
// goroutine: workers read and verify, the render goroutine uploads, and the
// scheduler learns the result through a main-queue continuation.
package assets

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"
	"gopkg.in/yaml.v3"
)

// ErrChecksum means a file does not match its manifest digest.
var ErrChecksum = errors.New("assets: checksum mismatch")

// Kinds.
const (
	KindSprite = "sprite" // uploaded to the graphics device
	KindData   = "data"   // kept in memory for the simulation
)

// Entry is one manifest line.
type Entry struct {
	Name     string `yaml:"name"`
	Path     string `yaml:"path"`
	Kind     string `yaml:"kind"`
	Checksum string `yaml:"blake2b"` // hex BLAKE2b-256; empty skips verification
}

// Manifest lists the assets of a data directory.
type Manifest struct {
	Assets []Entry `yaml:"assets"`

	dir    string
	byName map[string]Entry
}

// LoadManifest reads a manifest. Relative asset paths resolve against the
// manifest's directory.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	m.dir = filepath.Dir(path)
	m.byName = make(map[string]Entry, len(m.Assets))
	for i, e := range m.Assets {
		if e.Name == "" || e.Path == "" {
			return nil, fmt.Errorf("manifest %s: entry %d needs name and path", path, i)
		}
		if e.Kind == "" {
			e.Kind = KindData
			m.Assets[i] = e
		}
		if e.Kind != KindSprite && e.Kind != KindData {
			return nil, fmt.Errorf("manifest %s: %s: unknown kind %q", path, e.Name, e.Kind)
		}
		if _, dup := m.byName[e.Name]; dup {
			return nil, fmt.Errorf("manifest %s: duplicate asset %q", path, e.Name)
		}
		m.byName[e.Name] = e
	}
	return &m, nil
}

// Lookup returns the entry named name.
func (m *Manifest) Lookup(name string) (Entry, bool) {
	e, ok := m.byName[name]
	return e, ok
}

// Resolve returns the on-disk path of e.
func (m *Manifest) Resolve(e Entry) string {
	if filepath.IsAbs(e.Path) {
		return e.Path
	}
	return filepath.Join(m.dir, e.Path)
}

// Sum returns the hex BLAKE2b-256 digest of data.
func Sum(data []byte) string {
	d := blake2b.Sum256(data)
	return hex.EncodeToString(d[:])
}

// Verify checks data against a hex digest. An empty digest always passes.
func Verify(data []byte, want string) error {
	if want == "" {
		return nil
	}
	if got := Sum(data); got != want {
		return fmt.Errorf("%w: got %s, want %s", ErrChecksum, got, want)
	}
	return nil
}
