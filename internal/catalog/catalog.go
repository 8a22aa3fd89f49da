// Package catalog describes the installable modules: where each one lives on
// disk and the dashboard metadata it declares. The catalog document is
// authored externally and is read-only here.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/PKmac78/paddisense-hacs/internal/yamldoc"
)

// Fixed module layout.
const (
	ManifestFile     = "package.yaml"
	DashboardSubpath = "dashboards/views.yaml"
	DefaultIcon      = "mdi:package"
)

var (
	// ErrInvalidID is returned for identifiers that cannot name a directory
	// entry safely.
	ErrInvalidID = errors.New("invalid module identifier")

	// ErrInvalidCatalog is returned when the catalog document has the wrong shape.
	ErrInvalidCatalog = errors.New("invalid catalog document")
)

// Entry is one module's catalog record. Every dashboard field is optional;
// the accessor methods apply the defaults.
type Entry struct {
	ID  string
	Dir string

	Name          string
	Version       string
	Title         string // dashboard_title
	Icon          string // icon
	DashboardFile string // dashboard_file, relative to the module root
	Slug          string // dashboard_slug
}

// DefaultSlug derives a registry slug from a module identifier.
func DefaultSlug(id string) string {
	return id + "-dashboard"
}

// DefaultDashboardFile derives the descriptor path, relative to the module
// root, from a module identifier.
func DefaultDashboardFile(id string) string {
	return id + "/" + DashboardSubpath
}

// DashboardSlug returns the declared slug or the default.
func (e Entry) DashboardSlug() string {
	if e.Slug != "" {
		return e.Slug
	}
	return DefaultSlug(e.ID)
}

// DashboardTitle returns the declared title or the raw identifier.
func (e Entry) DashboardTitle() string {
	if e.Title != "" {
		return e.Title
	}
	return e.ID
}

// DashboardIcon returns the declared icon or DefaultIcon.
func (e Entry) DashboardIcon() string {
	if e.Icon != "" {
		return e.Icon
	}
	return DefaultIcon
}

// DescriptorPath returns the dashboard descriptor path relative to the
// module root, using forward slashes.
func (e Entry) DescriptorPath() string {
	if e.DashboardFile != "" {
		return filepath.ToSlash(e.DashboardFile)
	}
	return DefaultDashboardFile(e.ID)
}

// ManifestPath returns the absolute path of the package manifest.
func (e Entry) ManifestPath() string {
	return filepath.Join(e.Dir, ManifestFile)
}

// Catalog is the set of known modules under one module root.
type Catalog struct {
	Root    string
	entries map[string]Entry
}

// New builds a catalog from explicit entries. Entry.ID and Entry.Dir are
// filled from the map key and root when empty.
func New(root string, entries map[string]Entry) *Catalog {
	c := &Catalog{Root: root, entries: make(map[string]Entry, len(entries))}
	for id, e := range entries {
		e.ID = id
		if e.Dir == "" {
			e.Dir = filepath.Join(root, id)
		}
		c.entries[id] = e
	}
	return c
}

// Load reads a catalog document. The document may be YAML or JSON, either as
// a bare map of id to metadata or wrapped in a top-level "modules" key. A
// missing document yields an empty catalog.
func Load(path, moduleRoot string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(moduleRoot, nil), nil
		}
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data, moduleRoot)
}

// Parse parses catalog document bytes.
func Parse(data []byte, moduleRoot string) (*Catalog, error) {
	doc, err := yamldoc.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if doc.Value == nil {
		return New(moduleRoot, nil), nil
	}
	root, ok := doc.Value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: top level is %s, want mapping", ErrInvalidCatalog, yamldoc.TypeName(doc.Value))
	}
	if wrapped, ok := root["modules"].(map[string]any); ok {
		root = wrapped
	}

	entries := make(map[string]Entry, len(root))
	for id, raw := range root {
		if err := ValidID(id); err != nil {
			return nil, err
		}
		e, err := entryFrom(id, raw)
		if err != nil {
			return nil, err
		}
		entries[id] = e
	}
	return New(moduleRoot, entries), nil
}

func entryFrom(id string, raw any) (Entry, error) {
	e := Entry{ID: id}
	if raw == nil {
		return e, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return e, fmt.Errorf("%w: module %q is %s, want mapping", ErrInvalidCatalog, id, yamldoc.TypeName(raw))
	}

	fields := map[string]*string{
		"name":            &e.Name,
		"version":         &e.Version,
		"dashboard_title": &e.Title,
		"icon":            &e.Icon,
		"dashboard_file":  &e.DashboardFile,
		"dashboard_slug":  &e.Slug,
	}
	for key, dst := range fields {
		v, present := m[key]
		if !present || v == nil {
			continue
		}
		switch v.(type) {
		case map[string]any, []any:
			return e, fmt.Errorf("%w: module %q field %s must be a scalar", ErrInvalidCatalog, id, key)
		}
		*dst = fmt.Sprint(v)
	}
	return e, nil
}

// ValidID checks that id can be used as a single path element.
func ValidID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Lookup returns the declared entry for id.
func (c *Catalog) Lookup(id string) (Entry, bool) {
	e, ok := c.entries[id]
	return e, ok
}

// Entry returns the entry for id, falling back to an undeclared entry with
// all defaults so modules missing from the catalog can still be activated.
func (c *Catalog) Entry(id string) Entry {
	if e, ok := c.entries[id]; ok {
		return e
	}
	return Entry{ID: id, Dir: filepath.Join(c.Root, id)}
}

// IDs returns the declared identifiers in sorted order.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of declared modules.
func (c *Catalog) Len() int { return len(c.entries) }

// Discover lists the subdirectories of moduleRoot that contain a package
// manifest, in sorted order. Hidden directories and names in skip are ignored.
func Discover(moduleRoot string, skip ...string) ([]string, error) {
	dirents, err := os.ReadDir(moduleRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to scan module root: %w", err)
	}
	skipped := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipped[s] = true
	}

	var ids []string
	for _, d := range dirents {
		name := d.Name()
		if !d.IsDir() || strings.HasPrefix(name, ".") || skipped[name] {
			continue
		}
		if _, err := os.Stat(filepath.Join(moduleRoot, name, ManifestFile)); err == nil {
			ids = append(ids, name)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
