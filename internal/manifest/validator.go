// Package manifest validates module package manifests and dashboard
// descriptors. Validation is a pure function of file content: nothing is
// cached between calls because the module tree may change between runs.
package manifest

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/PKmac78/paddisense-hacs/internal/catalog"
	"github.com/PKmac78/paddisense-hacs/internal/types"
	"github.com/PKmac78/paddisense-hacs/internal/yamldoc"
)

// KnownSections lists the top-level package keys the host configuration
// loader understands. Anything else is reported as an UnknownKey advisory.
var KnownSections = []string{
	"automation", "binary_sensor", "command_line", "counter",
	"group", "homeassistant", "input_boolean", "input_datetime",
	"input_number", "input_select", "input_text", "light",
	"logger", "media_player", "mqtt", "notify", "recorder",
	"scene", "script", "sensor", "shell_command", "switch",
	"template", "timer", "utility_meter", "zone",
}

// Result is the verdict for one manifest.
type Result struct {
	Module   string
	Path     string
	Document map[string]any // nil unless valid
	Keys     []string       // top-level keys in document order
	Findings types.Findings
}

// Valid reports whether the manifest carries no fatal finding.
func (r *Result) Valid() bool {
	_, fatal := r.Findings.Fatal()
	return !fatal
}

// Fatal returns the fatal finding, if any.
func (r *Result) Fatal() (types.Finding, bool) {
	return r.Findings.Fatal()
}

// Advisories returns the non-fatal findings.
func (r *Result) Advisories() types.Findings {
	return r.Findings.Advisories()
}

// Validator checks manifests against the known-sections whitelist.
type Validator struct {
	known  map[string]bool
	logger *zap.Logger
}

// NewValidator creates a validator. extraSections extends KnownSections.
func NewValidator(logger *zap.Logger, extraSections ...string) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	known := make(map[string]bool, len(KnownSections)+len(extraSections))
	for _, s := range KnownSections {
		known[s] = true
	}
	for _, s := range extraSections {
		known[s] = true
	}
	return &Validator{known: known, logger: logger}
}

// Validate validates <moduleDir>/package.yaml. The module identifier is the
// directory's base name.
func (v *Validator) Validate(moduleDir string) *Result {
	module := filepath.Base(moduleDir)
	path := filepath.Join(moduleDir, catalog.ManifestFile)

	data, err := os.ReadFile(path)
	if err != nil {
		r := &Result{Module: module, Path: path}
		if os.IsNotExist(err) {
			r.Findings = append(r.Findings, types.NewFinding(types.CodeMissingManifest, module, "%s not found", path))
		} else {
			r.Findings = append(r.Findings, types.NewFinding(types.CodeReadFailed, module, "cannot read %s", path).WithErr(err))
		}
		v.log(r)
		return r
	}

	r := v.ValidateContent(module, data)
	r.Path = path
	v.log(r)
	return r
}

// ValidateContent validates manifest bytes.
func (v *Validator) ValidateContent(module string, content []byte) *Result {
	r := &Result{Module: module}
	fail := func(code types.Code, format string, args ...any) *Result {
		r.Findings = append(r.Findings, types.NewFinding(code, module, format, args...))
		return r
	}

	if strings.TrimSpace(string(content)) == "" {
		return fail(types.CodeEmptyManifest, "manifest has no content")
	}

	doc, err := yamldoc.Parse(content)
	if err != nil {
		r.Findings = append(r.Findings, types.NewFinding(types.CodeSyntaxError, module, "invalid YAML").WithErr(err))
		return r
	}
	if doc.Value == nil {
		return fail(types.CodeNullDocument, "manifest parsed as null")
	}
	m, ok := doc.Value.(map[string]any)
	if !ok {
		return fail(types.CodeWrongShape, "manifest must be a mapping, got %s", yamldoc.TypeName(doc.Value))
	}
	if len(m) == 0 {
		return fail(types.CodeNullDocument, "manifest is an empty mapping")
	}

	r.Document = m
	r.Keys = doc.Keys
	for _, k := range doc.Keys {
		if !v.known[k] {
			r.Findings = append(r.Findings, types.NewFinding(types.CodeUnknownKey, module, "unusual key %q", k))
		}
	}
	return r
}

// ValidateDashboard lints a dashboard descriptor: it must exist and be a
// mapping with a "views" key. Every finding is advisory.
func (v *Validator) ValidateDashboard(module, path string) types.Findings {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.Findings{types.NewFinding(types.CodeDashboardMissing, module, "%s not found", path)}
		}
		return types.Findings{types.NewFinding(types.CodeDashboardMalformed, module, "cannot read %s", path).WithErr(err)}
	}

	doc, err := yamldoc.Parse(data)
	if err != nil {
		return types.Findings{types.NewFinding(types.CodeDashboardMalformed, module, "invalid YAML in %s", path).WithErr(err)}
	}
	m, ok := doc.Value.(map[string]any)
	if !ok {
		return types.Findings{types.NewFinding(types.CodeDashboardMalformed, module, "descriptor must be a mapping, got %s", yamldoc.TypeName(doc.Value))}
	}
	if _, ok := m["views"]; !ok {
		return types.Findings{types.NewFinding(types.CodeDashboardMalformed, module, "descriptor has no views")}
	}
	return nil
}

// ValidateAll validates module directories concurrently and returns results
// in input order. It returns an error only when ctx is done.
func (v *Validator) ValidateAll(ctx context.Context, moduleDirs []string, workers int) ([]*Result, error) {
	if workers < 1 {
		workers = 1
	}
	results := make([]*Result, len(moduleDirs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, dir := range moduleDirs {
		i, dir := i, dir
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = v.Validate(dir)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Sections returns the whitelist in sorted order.
func (v *Validator) Sections() []string {
	out := make([]string, 0, len(v.known))
	for k := range v.known {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (v *Validator) log(r *Result) {
	if f, bad := r.Fatal(); bad {
		v.logger.Warn("manifest rejected",
			zap.String("module", r.Module),
			zap.String("code", string(f.Code)),
			zap.Error(f))
		return
	}
	for _, a := range r.Advisories() {
		v.logger.Info("manifest advisory",
			zap.String("module", r.Module),
			zap.String("code", string(a.Code)),
			zap.String("detail", a.Message))
	}
	v.logger.Debug("manifest valid", zap.String("module", r.Module), zap.Strings("keys", r.Keys))
}
