// Package verify checks that an activation left the expected artifacts
// behind. It never writes.
package verify

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/PKmac78/paddisense-hacs/internal/activation"
	"github.com/PKmac78/paddisense-hacs/internal/catalog"
	"github.com/PKmac78/paddisense-hacs/internal/registry"
)

// Status is the verdict of one check.
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
	StatusWarn Status = "warn" // suspicious, never counted as a failure
)

// CheckResult is one assertion about the installation.
type CheckResult struct {
	ID     string // e.g. "rtr/link"
	Module string
	Status Status
	Detail string
}

func (c CheckResult) String() string {
	return fmt.Sprintf("[%s] %s: %s", c.Status, c.ID, c.Detail)
}

// Options configures a Verifier. HostConfig is the host configuration.yaml;
// when it is empty or absent the host include checks are skipped.
type Options struct {
	Catalog        *catalog.Catalog
	Table          activation.LinkTable
	RegistryPath   string
	FilenamePrefix string
	StateRoot      string
	HostConfig     string
	Logger         *zap.Logger
}

// Verifier asserts link, dashboard and state checks for a set of modules.
type Verifier struct {
	opts Options
}

// New creates a verifier.
func New(opts Options) *Verifier {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Catalog == nil {
		opts.Catalog = catalog.New("", nil)
	}
	return &Verifier{opts: opts}
}

// Verify runs every check for ids. It does not stop at the first failure.
func (v *Verifier) Verify(ids []string) []CheckResult {
	var results []CheckResult

	reg, err := registry.Load(v.opts.RegistryPath)
	if err != nil {
		results = append(results, CheckResult{
			ID:     "registry",
			Status: StatusFail,
			Detail: err.Error(),
		})
	}

	asserted := make(map[string]bool, len(ids))
	slugs := make(map[string][]string)
	for _, id := range ids {
		asserted[id] = true
		e := v.opts.Catalog.Entry(id)
		results = append(results, v.checkLink(e))
		if r, ok := v.checkDashboard(e, reg); ok {
			results = append(results, r)
			slugs[e.DashboardSlug()] = append(slugs[e.DashboardSlug()], id)
		}
		results = append(results, v.checkState(e)...)
	}

	results = append(results, collisions(slugs)...)
	results = append(results, v.orphans(asserted)...)
	results = append(results, v.checkHost()...)

	for _, r := range results {
		v.opts.Logger.Debug("check",
			zap.String("id", r.ID),
			zap.String("status", string(r.Status)),
			zap.String("detail", r.Detail))
	}
	return results
}

func (v *Verifier) checkLink(e catalog.Entry) CheckResult {
	r := CheckResult{ID: e.ID + "/link", Module: e.ID}
	table := v.opts.Table
	if table == nil {
		r.Status, r.Detail = StatusFail, "no activation table configured"
		return r
	}

	l, err := table.Resolve(activation.LinkName(e.ID))
	switch {
	case activation.IsNotFound(err):
		r.Status, r.Detail = StatusFail, "module is not linked"
		return r
	case errors.Is(err, activation.ErrOccupiedByDir):
		r.Status, r.Detail = StatusFail, "a directory occupies the link name"
		return r
	case err != nil:
		r.Status, r.Detail = StatusFail, err.Error()
		return r
	}

	if l.Kind == activation.KindPlain {
		r.Status, r.Detail = StatusWarn, "plain file at link name, not a link"
		return r
	}

	resolved := l.Resolved(table.Dir())
	if _, err := os.Stat(resolved); err != nil {
		r.Status, r.Detail = StatusFail, fmt.Sprintf("dangling link to %s", l.Target)
		return r
	}
	if !samePath(resolved, e.ManifestPath()) {
		r.Status, r.Detail = StatusWarn, fmt.Sprintf("links to %s, expected %s", resolved, e.ManifestPath())
		return r
	}
	r.Status, r.Detail = StatusPass, l.Target
	return r
}

// checkDashboard is asserted only when the registry is readable and either
// the module ships a descriptor or the registry still carries its slug.
func (v *Verifier) checkDashboard(e catalog.Entry, reg *registry.Document) (CheckResult, bool) {
	if reg == nil {
		return CheckResult{}, false
	}
	slug, want := registry.DeriveEntry(e, v.opts.FilenamePrefix)
	r := CheckResult{ID: e.ID + "/dashboard", Module: e.ID}

	descriptor := filepath.Join(v.opts.Catalog.Root, filepath.FromSlash(e.DescriptorPath()))
	if _, err := os.Stat(descriptor); err != nil {
		return v.staleEntry(r, slug, reg)
	}

	got, ok, err := reg.Get(slug)
	switch {
	case !ok:
		r.Status, r.Detail = StatusFail, fmt.Sprintf("no registry entry %s", slug)
	case err != nil:
		r.Status, r.Detail = StatusFail, fmt.Sprintf("registry entry %s unreadable: %v", slug, err)
	case got.Filename != want.Filename:
		r.Status, r.Detail = StatusWarn, fmt.Sprintf("entry %s points at %q, expected %q", slug, got.Filename, want.Filename)
	default:
		r.Status, r.Detail = StatusPass, slug
	}
	return r, true
}

// staleEntry warns about a registry entry whose descriptor no longer exists
// under the module root.
func (v *Verifier) staleEntry(r CheckResult, slug string, reg *registry.Document) (CheckResult, bool) {
	got, ok, err := reg.Get(slug)
	if !ok || err != nil || got.Filename == "" {
		return CheckResult{}, false
	}
	if _, err := os.Stat(v.descriptorFile(got.Filename)); err == nil {
		return CheckResult{}, false
	}
	r.Status, r.Detail = StatusWarn, fmt.Sprintf("entry %s points at missing descriptor %q", slug, got.Filename)
	return r, true
}

// descriptorFile maps a registry filename back onto the module root.
func (v *Verifier) descriptorFile(name string) string {
	name = filepath.FromSlash(strings.TrimPrefix(name, v.opts.FilenamePrefix))
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(v.opts.Catalog.Root, name)
}

func (v *Verifier) checkState(e catalog.Entry) []CheckResult {
	dir := activation.StateDir(v.opts.StateRoot, e.ID)
	return []CheckResult{
		dirCheck(e.ID, e.ID+"/state", dir),
		dirCheck(e.ID, e.ID+"/backups", filepath.Join(dir, activation.BackupsDir)),
	}
}

func dirCheck(module, id, path string) CheckResult {
	r := CheckResult{ID: id, Module: module}
	fi, err := os.Stat(path)
	switch {
	case err != nil:
		r.Status, r.Detail = StatusFail, fmt.Sprintf("%s missing", path)
	case !fi.IsDir():
		r.Status, r.Detail = StatusFail, fmt.Sprintf("%s is not a directory", path)
	default:
		r.Status, r.Detail = StatusPass, path
	}
	return r
}

func collisions(slugs map[string][]string) []CheckResult {
	var out []CheckResult
	for slug, ids := range slugs {
		if len(ids) < 2 {
			continue
		}
		out = append(out, CheckResult{
			ID:     slug + "/collision",
			Status: StatusWarn,
			Detail: fmt.Sprintf("modules %v share slug %s; the last merged wins", ids, slug),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v *Verifier) orphans(asserted map[string]bool) []CheckResult {
	if v.opts.Table == nil {
		return nil
	}
	links, err := v.opts.Table.List()
	if err != nil {
		return []CheckResult{{ID: "activation", Status: StatusFail, Detail: err.Error()}}
	}
	var out []CheckResult
	for _, l := range links {
		id, ok := activation.ModuleID(l.Name)
		if !ok || asserted[id] {
			continue
		}
		out = append(out, CheckResult{
			ID:     l.Name + "/orphan",
			Module: id,
			Status: StatusWarn,
			Detail: "linked but not verified",
		})
	}
	return out
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}

// Failed returns the failing checks.
func Failed(results []CheckResult) []CheckResult {
	var out []CheckResult
	for _, r := range results {
		if r.Status == StatusFail {
			out = append(out, r)
		}
	}
	return out
}

// Warnings returns the warning checks.
func Warnings(results []CheckResult) []CheckResult {
	var out []CheckResult
	for _, r := range results {
		if r.Status == StatusWarn {
			out = append(out, r)
		}
	}
	return out
}

// Passed reports whether no check failed.
func Passed(results []CheckResult) bool {
	return len(Failed(results)) == 0
}
