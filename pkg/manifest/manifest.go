// Package manifest exports the ledger's content inventory: every live,
// hashed path with its content hash. Two manifests taken before and after a
// destructive job show whether any content was lost.
package manifest

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"gitlab.com/tozd/go/errors"

	"fsledger/pkg/store"
)

// Version is the manifest format version.
const Version = 1

// Entry is one file in the manifest.
type Entry struct {
	Path      string `json:"path"`
	Hash      string `json:"hash"`
	Duplicate string `json:"duplicate"`
}

// Manifest is a content inventory of a ledger.
type Manifest struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Ledger    string    `json:"ledger"`
	Entries   []Entry   `json:"entries"`
}

// Build reads the ledger's live, hashed records. Entries are sorted by path.
func Build(ctx context.Context, s *store.Store) (*Manifest, error) {
	records, err := s.Identities(ctx)
	if err != nil {
		return nil, errors.Errorf("build manifest: %w", err)
	}

	m := &Manifest{
		Version:   Version,
		CreatedAt: time.Now().UTC(),
		Ledger:    s.Path(),
		Entries:   make([]Entry, 0, len(records)),
	}
	for _, r := range records {
		if !r.Active() || r.Hash == "" {
			continue
		}
		m.Entries = append(m.Entries, Entry{Path: r.Path, Hash: r.Hash, Duplicate: r.Duplicate.String()})
	}

	sort.Slice(m.Entries, func(i, j int) bool {
		return m.Entries[i].Path < m.Entries[j].Path
	})
	return m, nil
}

// Encode writes the manifest as indented JSON.
func (m *Manifest) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return errors.Errorf("encode manifest: %w", err)
	}
	return nil
}

// Save writes the manifest to path. The file is replaced atomically.
func (m *Manifest) Save(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*.tmp")
	if err != nil {
		return errors.Errorf("save manifest: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := m.Encode(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return errors.Errorf("save manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Errorf("save manifest: %w", err)
	}
	return nil
}

// Load reads a manifest from a JSON file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Errorf("parse manifest %s: %w", path, err)
	}
	if m.Version != Version {
		return nil, errors.Errorf("manifest %s: unsupported version %d", path, m.Version)
	}
	return &m, nil
}

// UniqueHashes returns the set of content hashes in the manifest.
func (m *Manifest) UniqueHashes() map[string]struct{} {
	hashes := make(map[string]struct{}, len(m.Entries))
	for _, e := range m.Entries {
		hashes[e.Hash] = struct{}{}
	}
	return hashes
}

// HashIndex maps each hash to the paths carrying it.
func (m *Manifest) HashIndex() map[string][]string {
	index := make(map[string][]string)
	for _, e := range m.Entries {
		index[e.Hash] = append(index[e.Hash], e.Path)
	}
	return index
}

// FileCount returns the number of entries.
func (m *Manifest) FileCount() int {
	return len(m.Entries)
}

// UniqueFileCount returns the number of distinct contents.
func (m *Manifest) UniqueFileCount() int {
	return len(m.UniqueHashes())
}

// MissingFrom returns the hashes of m that other does not carry, sorted.
func (m *Manifest) MissingFrom(other *Manifest) []string {
	have := other.UniqueHashes()

	var missing []string
	for hash := range m.UniqueHashes() {
		if _, ok := have[hash]; !ok {
			missing = append(missing, hash)
		}
	}
	slices.Sort(missing)
	return missing
}
