package registry

import (
	"go.uber.org/zap"

	"github.com/PKmac78/paddisense-hacs/internal/catalog"
	"github.com/PKmac78/paddisense-hacs/internal/types"
)

// Session is an open registry: load once, mutate, then Commit. Nothing is
// written until Commit succeeds.
type Session struct {
	path string
	Doc  *Document
}

// Open loads the registry at path for mutation. A corrupt registry returns
// an error wrapping ErrCorrupt.
func Open(path string) (*Session, error) {
	doc, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Session{path: path, Doc: doc}, nil
}

// Commit persists the document atomically.
func (s *Session) Commit() error {
	return s.Doc.Save(s.path)
}

// MergeResult reports the effect of one merge or removal.
type MergeResult struct {
	Module string
	Slug   string
	Entry  Entry

	// Replaced is true when the slug was already taken.
	Replaced bool
	// PreviousFilename is the replaced entry's filename, if any.
	PreviousFilename string

	Findings types.Findings
}

// OK reports whether the merge succeeded.
func (r *MergeResult) OK() bool {
	_, fatal := r.Findings.Fatal()
	return !fatal
}

// Merger writes module dashboard entries into one registry document.
type Merger struct {
	path   string
	prefix string
	logger *zap.Logger
}

// NewMerger creates a merger for the registry at path. prefix is prepended
// to each entry's filename.
func NewMerger(path, prefix string, logger *zap.Logger) *Merger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merger{path: path, prefix: prefix, logger: logger}
}

// Path returns the registry document path.
func (m *Merger) Path() string { return m.path }

// Prefix returns the filename prefix.
func (m *Merger) Prefix() string { return m.prefix }

// MergeDashboardEntry registers the module's dashboard, replacing whatever
// entry held its slug, and persists the registry before returning. Entries
// belonging to other slugs are carried through unchanged.
func (m *Merger) MergeDashboardEntry(moduleID string, e catalog.Entry) *MergeResult {
	slug, entry := DeriveEntry(e, m.prefix)
	r := &MergeResult{Module: moduleID, Slug: slug, Entry: entry}

	s, err := Open(m.path)
	if err != nil {
		return m.fail(r, types.CodeRegistryCorrupt, err)
	}
	if prev, existed, err := s.Doc.Get(slug); existed {
		r.Replaced = true
		if err == nil {
			r.PreviousFilename = prev.Filename
		}
	}
	s.Doc.Set(slug, entry)
	if err := s.Commit(); err != nil {
		return m.fail(r, types.CodeRegistryWriteFailed, err)
	}

	if r.Replaced && r.PreviousFilename != entry.Filename {
		r.Findings = append(r.Findings, types.NewFinding(types.CodeSlugCollision, moduleID,
			"slug %s previously pointed at %q, now %q", slug, r.PreviousFilename, entry.Filename))
		m.logger.Warn("dashboard slug taken over",
			zap.String("module", moduleID),
			zap.String("slug", slug),
			zap.String("previous", r.PreviousFilename))
	}
	m.logger.Info("dashboard registered",
		zap.String("module", moduleID),
		zap.String("slug", slug),
		zap.String("filename", entry.Filename),
		zap.Bool("replaced", r.Replaced))
	return r
}

// RemoveEntry deletes slug from the registry. Removing an absent slug
// succeeds without rewriting the document.
func (m *Merger) RemoveEntry(moduleID, slug string) *MergeResult {
	r := &MergeResult{Module: moduleID, Slug: slug}
	s, err := Open(m.path)
	if err != nil {
		return m.fail(r, types.CodeRegistryCorrupt, err)
	}
	if prev, existed, _ := s.Doc.Get(slug); existed {
		r.Replaced = true
		r.PreviousFilename = prev.Filename
	}
	if !s.Doc.Delete(slug) {
		return r
	}
	if err := s.Commit(); err != nil {
		return m.fail(r, types.CodeRegistryWriteFailed, err)
	}
	m.logger.Info("dashboard unregistered", zap.String("module", moduleID), zap.String("slug", slug))
	return r
}

// Lookup reads the current entry at slug without opening a session.
func (m *Merger) Lookup(slug string) (Entry, bool, error) {
	doc, err := Load(m.path)
	if err != nil {
		return Entry{}, false, err
	}
	return doc.Get(slug)
}

// fail records a fatal-to-batch finding. An unreadable registry counts as
// corrupt.
func (m *Merger) fail(r *MergeResult, code types.Code, err error) *MergeResult {
	f := types.NewFinding(code, r.Module, "registry %s", m.path).WithErr(err)
	r.Findings = append(r.Findings, f)
	m.logger.Error("registry update failed", zap.String("module", r.Module), zap.Error(f))
	return r
}
