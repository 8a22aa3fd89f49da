// Package activation owns the activation directory: a flat table of links,
// one per active module, each pointing at that module's package manifest.
package activation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrLinkNotFound is returned when no entry exists under a link name.
	ErrLinkNotFound = errors.New("link not found")

	// ErrOccupiedByDir is returned when a directory sits at a link name.
	// Directories are never removed to make room for a link.
	ErrOccupiedByDir = errors.New("link name occupied by a directory")
)

// Kind describes how an entry is stored.
type Kind string

const (
	KindSymlink Kind = "symlink"
	KindPointer Kind = "pointer"
	KindPlain   Kind = "plain" // a regular file where a link was expected
)

// Link is one entry of the activation table.
type Link struct {
	Name   string // table key, e.g. "rtr.yaml"
	Path   string // on-disk location of the entry
	Target string // as stored; relative targets are relative to the table directory
	Kind   Kind
}

// Resolved returns the absolute target path. Plain entries resolve to
// themselves.
func (l Link) Resolved(dir string) string {
	if l.Kind == KindPlain {
		return l.Path
	}
	if filepath.IsAbs(l.Target) {
		return filepath.Clean(l.Target)
	}
	return filepath.Join(dir, l.Target)
}

// LinkTable is an indirection table of name to target path. Set must replace
// atomically so readers never observe a missing entry during re-activation.
type LinkTable interface {
	Dir() string
	Set(name, target string) (replaced bool, err error)
	Remove(name string) (existed bool, err error)
	Resolve(name string) (Link, error)
	List() ([]Link, error)
}

func tempName(dir, name string) string {
	return filepath.Join(dir, "."+name+".tmp-"+uuid.NewString()[:8])
}

func isTemp(name string) bool {
	return strings.HasPrefix(name, ".")
}

// checkSlot reports whether path currently holds an entry, refusing
// directories.
func checkSlot(path string) (bool, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if fi.IsDir() {
		return true, fmt.Errorf("%w: %s", ErrOccupiedByDir, path)
	}
	return true, nil
}

// SymlinkTable stores links as symbolic links.
type SymlinkTable struct {
	dir string
}

// NewSymlinkTable creates a symlink-backed table rooted at dir.
func NewSymlinkTable(dir string) *SymlinkTable {
	return &SymlinkTable{dir: dir}
}

func (t *SymlinkTable) Dir() string { return t.dir }

// Set creates a temporary symlink and renames it over name.
func (t *SymlinkTable) Set(name, target string) (bool, error) {
	if err := os.MkdirAll(t.dir, 0755); err != nil {
		return false, fmt.Errorf("create activation dir: %w", err)
	}
	path := filepath.Join(t.dir, name)
	existed, err := checkSlot(path)
	if err != nil {
		return existed, err
	}

	tmp := tempName(t.dir, name)
	if err := os.Symlink(target, tmp); err != nil {
		return existed, fmt.Errorf("create symlink: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return existed, fmt.Errorf("replace %s: %w", name, err)
	}
	return existed, nil
}

func (t *SymlinkTable) Remove(name string) (bool, error) {
	return removeEntry(filepath.Join(t.dir, name))
}

func (t *SymlinkTable) Resolve(name string) (Link, error) {
	path := filepath.Join(t.dir, name)
	fi, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Link{}, fmt.Errorf("%w: %s", ErrLinkNotFound, name)
		}
		return Link{}, err
	}
	switch {
	case fi.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(path)
		if err != nil {
			return Link{}, err
		}
		return Link{Name: name, Path: path, Target: target, Kind: KindSymlink}, nil
	case fi.IsDir():
		return Link{}, fmt.Errorf("%w: %s", ErrOccupiedByDir, path)
	default:
		return Link{Name: name, Path: path, Kind: KindPlain}, nil
	}
}

// List returns symlinks and plain files in the table directory, sorted by
// name. Hidden entries are skipped.
func (t *SymlinkTable) List() ([]Link, error) {
	return listEntries(t.dir, func(name string) (string, bool) { return name, true }, t.Resolve)
}

// PointerTable stores each link as a small file holding the target path, for
// filesystems without symbolic links. The entry for name lives at
// name + PointerSuffix.
type PointerTable struct {
	dir string
}

// PointerSuffix is appended to pointer file names.
const PointerSuffix = ".link"

// NewPointerTable creates a pointer-file table rooted at dir.
func NewPointerTable(dir string) *PointerTable {
	return &PointerTable{dir: dir}
}

func (t *PointerTable) Dir() string { return t.dir }

func (t *PointerTable) Set(name, target string) (bool, error) {
	if err := os.MkdirAll(t.dir, 0755); err != nil {
		return false, fmt.Errorf("create activation dir: %w", err)
	}
	path := filepath.Join(t.dir, name+PointerSuffix)
	existed, err := checkSlot(path)
	if err != nil {
		return existed, err
	}

	tmp := tempName(t.dir, name)
	if err := os.WriteFile(tmp, []byte(target+"\n"), 0644); err != nil {
		return existed, fmt.Errorf("write pointer: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return existed, fmt.Errorf("replace %s: %w", name, err)
	}
	return existed, nil
}

func (t *PointerTable) Remove(name string) (bool, error) {
	return removeEntry(filepath.Join(t.dir, name+PointerSuffix))
}

func (t *PointerTable) Resolve(name string) (Link, error) {
	path := filepath.Join(t.dir, name+PointerSuffix)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Link{}, fmt.Errorf("%w: %s", ErrLinkNotFound, name)
		}
		return Link{}, err
	}
	target := strings.TrimSpace(string(data))
	if target == "" {
		return Link{}, fmt.Errorf("empty pointer file %s", path)
	}
	return Link{Name: name, Path: path, Target: target, Kind: KindPointer}, nil
}

func (t *PointerTable) List() ([]Link, error) {
	return listEntries(t.dir, func(file string) (string, bool) {
		return strings.TrimSuffix(file, PointerSuffix), strings.HasSuffix(file, PointerSuffix)
	}, t.Resolve)
}

func removeEntry(path string) (bool, error) {
	existed, err := checkSlot(path)
	if err != nil || !existed {
		return existed, err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return true, err
	}
	return true, nil
}

func listEntries(dir string, nameOf func(file string) (string, bool), resolve func(string) (Link, error)) ([]Link, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var links []Link
	for _, d := range dirents {
		if isTemp(d.Name()) || d.IsDir() {
			continue
		}
		name, ok := nameOf(d.Name())
		if !ok {
			continue
		}
		l, err := resolve(name)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	sort.Slice(links, func(i, j int) bool { return links[i].Name < links[j].Name })
	return links, nil
}
