package activation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/PKmac78/paddisense-hacs/internal/catalog"
	"github.com/PKmac78/paddisense-hacs/internal/types"
)

// LinkExt is the extension of every activation link name.
const LinkExt = ".yaml"

// LinkName derives the activation link name for a module.
func LinkName(moduleID string) string {
	return moduleID + LinkExt
}

// ModuleID inverts LinkName. ok is false for names that are not link names.
func ModuleID(linkName string) (string, bool) {
	id := strings.TrimSuffix(linkName, LinkExt)
	if id == linkName || id == "" {
		return "", false
	}
	return id, true
}

// Result is the outcome of one activation or deactivation.
type Result struct {
	Module   string
	Link     Link
	Replaced bool // an entry already occupied the link name
	Findings types.Findings
}

// OK reports whether the operation succeeded.
func (r *Result) OK() bool {
	_, fatal := r.Findings.Fatal()
	return !fatal
}

// Manager mutates the activation table. It is the only writer of the
// activation directory.
type Manager struct {
	table  LinkTable
	logger *zap.Logger
}

// NewManager creates a manager over table.
func NewManager(table LinkTable, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{table: table, logger: logger}
}

// Table exposes the underlying link table for read-only inspection.
func (m *Manager) Table() LinkTable { return m.table }

// Activate points the module's link at manifestPath. The manifest must
// already have passed validation; only its existence is checked here.
// Re-activating with the same inputs is a no-op in effect.
func (m *Manager) Activate(moduleID, manifestPath string) *Result {
	r := &Result{Module: moduleID}
	fail := func(code types.Code, err error, format string, args ...any) *Result {
		f := types.NewFinding(code, moduleID, format, args...).WithErr(err)
		r.Findings = append(r.Findings, f)
		m.logger.Warn("activation failed", zap.String("module", moduleID), zap.Error(f))
		return r
	}

	if err := catalog.ValidID(moduleID); err != nil {
		return fail(types.CodeLinkCreationFailed, err, "cannot derive link name")
	}
	if _, err := os.Stat(manifestPath); err != nil {
		if os.IsNotExist(err) {
			return fail(types.CodeMissingManifest, err, "%s not found", manifestPath)
		}
		return fail(types.CodeLinkCreationFailed, err, "cannot stat %s", manifestPath)
	}

	target, err := relativeTarget(m.table.Dir(), manifestPath)
	if err != nil {
		return fail(types.CodeLinkCreationFailed, err, "cannot compute relative target")
	}

	name := LinkName(moduleID)
	replaced, err := m.table.Set(name, target)
	r.Replaced = replaced
	if err != nil {
		return fail(types.CodeLinkCreationFailed, err, "cannot link %s", name)
	}

	r.Link, err = m.table.Resolve(name)
	if err != nil {
		return fail(types.CodeLinkCreationFailed, err, "link %s unreadable after creation", name)
	}
	m.logger.Info("module linked",
		zap.String("module", moduleID),
		zap.String("link", name),
		zap.String("target", target),
		zap.Bool("replaced", replaced))
	return r
}

// Deactivate removes the module's link. Removing an absent link succeeds.
func (m *Manager) Deactivate(moduleID string) *Result {
	r := &Result{Module: moduleID}
	if err := catalog.ValidID(moduleID); err != nil {
		r.Findings = append(r.Findings, types.NewFinding(types.CodeLinkRemovalFailed, moduleID, "invalid identifier").WithErr(err))
		return r
	}

	name := LinkName(moduleID)
	existed, err := m.table.Remove(name)
	r.Replaced = existed
	if err != nil {
		f := types.NewFinding(types.CodeLinkRemovalFailed, moduleID, "cannot remove %s", name).WithErr(err)
		r.Findings = append(r.Findings, f)
		m.logger.Warn("deactivation failed", zap.String("module", moduleID), zap.Error(f))
		return r
	}
	m.logger.Info("module unlinked", zap.String("module", moduleID), zap.Bool("existed", existed))
	return r
}

// Active returns the identifiers of all linked modules, sorted.
func (m *Manager) Active() ([]string, error) {
	links, err := m.table.List()
	if err != nil {
		return nil, fmt.Errorf("list activation dir: %w", err)
	}
	var ids []string
	for _, l := range links {
		if id, ok := ModuleID(l.Name); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Lookup resolves the module's link. It returns ErrLinkNotFound when the
// module is not active.
func (m *Manager) Lookup(moduleID string) (Link, error) {
	return m.table.Resolve(LinkName(moduleID))
}

// IsNotFound reports whether err means a link is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLinkNotFound)
}

func relativeTarget(dir, manifestPath string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	absManifest, err := filepath.Abs(manifestPath)
	if err != nil {
		return "", err
	}
	return filepath.Rel(absDir, absManifest)
}
