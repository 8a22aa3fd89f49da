// Package registry maintains the shared dashboard registry document: one
// entry per active module, keyed by slug. It is the only writer of that
// document.
package registry

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/PKmac78/paddisense-hacs/internal/catalog"
	"github.com/PKmac78/paddisense-hacs/internal/yamldoc"
)

// ModeYAML marks an entry whose dashboard is defined by a descriptor file.
const ModeYAML = "yaml"

var (
	// ErrCorrupt is returned when an existing registry cannot be parsed as a
	// mapping.
	ErrCorrupt = errors.New("registry document corrupt")

	// ErrWrite is returned when the registry cannot be persisted.
	ErrWrite = errors.New("registry write failed")
)

// Entry is one dashboard registration.
type Entry struct {
	Mode          string `yaml:"mode"`
	Title         string `yaml:"title"`
	Icon          string `yaml:"icon"`
	ShowInSidebar bool   `yaml:"show_in_sidebar"`
	Filename      string `yaml:"filename"`
}

// DeriveEntry computes the slug and entry a module registers. It is a pure
// function of the catalog entry; prefix is prepended to the descriptor path.
func DeriveEntry(e catalog.Entry, prefix string) (string, Entry) {
	return e.DashboardSlug(), Entry{
		Mode:          ModeYAML,
		Title:         e.DashboardTitle(),
		Icon:          e.DashboardIcon(),
		ShowInSidebar: true,
		Filename:      prefix + e.DescriptorPath(),
	}
}

// Document is an in-memory registry. Entries not written by this process
// are kept as parsed so unrelated registrations survive a rewrite intact.
type Document struct {
	entries map[string]any
}

// NewDocument returns an empty registry.
func NewDocument() *Document {
	return &Document{entries: make(map[string]any)}
}

// Load reads the registry at path. A missing, blank, comment-only or null
// document is an empty registry.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewDocument(), nil
		}
		return nil, fmt.Errorf("read registry: %w", err)
	}
	return Parse(data)
}

// Parse parses registry bytes.
func Parse(data []byte) (*Document, error) {
	if strings.TrimSpace(string(data)) == "" {
		return NewDocument(), nil
	}
	doc, err := yamldoc.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if doc.Value == nil {
		return NewDocument(), nil
	}
	m, ok := doc.Value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: top level is %s, want mapping", ErrCorrupt, yamldoc.TypeName(doc.Value))
	}
	return &Document{entries: m}, nil
}

// Len returns the number of entries.
func (d *Document) Len() int { return len(d.entries) }

// Slugs returns all slugs, sorted.
func (d *Document) Slugs() []string {
	out := make([]string, 0, len(d.entries))
	for s := range d.entries {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Has reports whether slug is registered.
func (d *Document) Has(slug string) bool {
	_, ok := d.entries[slug]
	return ok
}

// Get returns the entry at slug decoded into Entry. Fields the entry does
// not carry are zero.
func (d *Document) Get(slug string) (Entry, bool, error) {
	raw, ok := d.entries[slug]
	if !ok {
		return Entry{}, false, nil
	}
	if e, ok := raw.(Entry); ok {
		return e, true, nil
	}
	b, err := yaml.Marshal(raw)
	if err != nil {
		return Entry{}, true, err
	}
	var e Entry
	if err := yaml.Unmarshal(b, &e); err != nil {
		return Entry{}, true, fmt.Errorf("entry %q: %w", slug, err)
	}
	return e, true, nil
}

// Set replaces the whole entry at slug. Nothing of a previous entry is kept.
func (d *Document) Set(slug string, e Entry) {
	d.entries[slug] = e
}

// Delete removes slug and reports whether it existed.
func (d *Document) Delete(slug string) bool {
	_, ok := d.entries[slug]
	delete(d.entries, slug)
	return ok
}

// Marshal renders the document with two-space indentation and sorted keys.
func (d *Document) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d.entries); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes the document to path via a temporary file in the same
// directory renamed into place, so readers see either the old or the new
// document and never a partial one.
func (d *Document) Save(path string) error {
	data, err := d.Marshal()
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrWrite, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	tmpName := tmp.Name()
	cleanup := func(cause error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrWrite, cause)
	}

	if _, err := tmp.Write(data); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		return cleanup(err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}
