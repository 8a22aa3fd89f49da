// Package engine runs activation batches: validate, link, prepare state,
// and register dashboards for each module in caller order.
package engine

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/PKmac78/paddisense-hacs/internal/activation"
	"github.com/PKmac78/paddisense-hacs/internal/catalog"
	"github.com/PKmac78/paddisense-hacs/internal/config"
	"github.com/PKmac78/paddisense-hacs/internal/logging"
	"github.com/PKmac78/paddisense-hacs/internal/manifest"
	"github.com/PKmac78/paddisense-hacs/internal/registry"
	"github.com/PKmac78/paddisense-hacs/internal/types"
	"github.com/PKmac78/paddisense-hacs/internal/verify"
)

// Options wires an Engine. Catalog, Manager and Merger are required.
type Options struct {
	Catalog    *catalog.Catalog
	Validator  *manifest.Validator
	Manager    *activation.Manager
	Merger     *registry.Merger
	StateRoot  string
	HostConfig string
	Workers    int
	Metrics    *Metrics
	Logger     *zap.Logger
}

// Engine owns the activation directory and the dashboard registry for the
// duration of a batch. Batches are serialized by a lock file.
type Engine struct {
	catalog    *catalog.Catalog
	validator  *manifest.Validator
	manager    *activation.Manager
	merger     *registry.Merger
	stateRoot  string
	hostConfig string
	workers    int
	metrics    *Metrics
	logger     *zap.Logger
}

// New creates an engine.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Validator == nil {
		opts.Validator = manifest.NewValidator(logging.Named(opts.Logger, logging.CategoryValidate))
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Engine{
		catalog:    opts.Catalog,
		validator:  opts.Validator,
		manager:    opts.Manager,
		merger:     opts.Merger,
		stateRoot:  opts.StateRoot,
		hostConfig: opts.HostConfig,
		workers:    opts.Workers,
		metrics:    opts.Metrics,
		logger:     logging.Named(opts.Logger, logging.CategoryBatch),
	}
}

// FromConfig builds an engine over the paths in cfg.
func FromConfig(cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cat, err := catalog.Load(cfg.CatalogPath(), cfg.ModuleRoot())
	if err != nil {
		return nil, err
	}
	logging.Named(logger, logging.CategoryCatalog).Debug("catalog loaded",
		zap.String("path", cfg.CatalogPath()),
		zap.Int("modules", cat.Len()))

	var table activation.LinkTable
	switch cfg.Activation.LinkMode {
	case config.LinkModePointer:
		table = activation.NewPointerTable(cfg.ActivationDir())
	default:
		table = activation.NewSymlinkTable(cfg.ActivationDir())
	}

	return New(Options{
		Catalog:    cat,
		Validator:  manifest.NewValidator(logging.Named(logger, logging.CategoryValidate), cfg.Validation.ExtraSections...),
		Manager:    activation.NewManager(table, logging.Named(logger, logging.CategoryActivation)),
		Merger:     registry.NewMerger(cfg.RegistryPath(), cfg.Registry.FilenamePrefix, logging.Named(logger, logging.CategoryRegistry)),
		StateRoot:  cfg.StateRoot(),
		HostConfig: cfg.HostConfigPath(),
		Workers:    cfg.Validation.Workers,
		Metrics:    NewMetrics(),
		Logger:     logger,
	}), nil
}

// Catalog returns the engine's catalog.
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

// Manager returns the activation manager.
func (e *Engine) Manager() *activation.Manager { return e.manager }

// Metrics returns the engine's metrics, possibly nil.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// Verifier returns a verifier over the same paths the engine writes.
func (e *Engine) Verifier(logger *zap.Logger) *verify.Verifier {
	return verify.New(verify.Options{
		Catalog:        e.catalog,
		Table:          e.manager.Table(),
		RegistryPath:   e.merger.Path(),
		FilenamePrefix: e.merger.Prefix(),
		StateRoot:      e.stateRoot,
		HostConfig:     e.hostConfig,
		Logger:         logger,
	})
}

// Verify runs the verifier and records its checks in the engine metrics.
func (e *Engine) Verify(ids []string) []verify.CheckResult {
	results := e.Verifier(logging.Named(e.logger, logging.CategoryVerify)).Verify(ids)
	e.metrics.ObserveChecks(results)
	return results
}

// Validate validates the given modules without changing anything.
func (e *Engine) Validate(ctx context.Context, ids []string) ([]*manifest.Result, error) {
	dirs := make([]string, len(ids))
	for i, id := range ids {
		dirs[i] = e.catalog.Entry(id).Dir
	}
	return e.validator.ValidateAll(ctx, dirs, e.workers)
}

// Activate runs an activation batch. Modules are processed in the given
// order; a fatal-to-module finding stops only that module and a
// fatal-to-batch finding stops the batch. Nothing is rolled back. The error
// is non-nil only when the batch could not start.
func (e *Engine) Activate(ctx context.Context, ids []string) (*Report, error) {
	report, lock, err := e.begin("activate", ids)
	if err != nil {
		return nil, err
	}
	defer e.end(report, lock)

	known := make([]int, 0, len(ids))
	for i, id := range ids {
		if f := e.checkKnown(id); f != nil {
			report.Outcomes[i].Findings = append(report.Outcomes[i].Findings, *f)
			continue
		}
		known = append(known, i)
	}

	dirs := make([]string, len(known))
	for j, i := range known {
		dirs[j] = e.catalog.Entry(ids[i]).Dir
	}
	validated, err := e.validator.ValidateAll(ctx, dirs, e.workers)
	if err != nil {
		e.cancelFrom(report, 0, err)
		return report, nil
	}
	results := make(map[int]*manifest.Result, len(known))
	for j, i := range known {
		results[i] = validated[j]
	}

	for i := range report.Outcomes {
		o := &report.Outcomes[i]
		if report.Aborted {
			o.Skipped = true
			continue
		}
		if err := ctx.Err(); err != nil {
			e.cancelFrom(report, i, err)
			break
		}
		vr, ok := results[i]
		if !ok {
			continue
		}
		e.activateOne(o, vr)
		e.abortOnBatchFatal(report, o)
	}
	return report, nil
}

// Deactivate removes each module's link and its registry entry. The entry
// is only removed while it still points at this module's descriptor, so a
// slug taken over by another module survives. State directories are kept.
func (e *Engine) Deactivate(ctx context.Context, ids []string) (*Report, error) {
	report, lock, err := e.begin("deactivate", ids)
	if err != nil {
		return nil, err
	}
	defer e.end(report, lock)

	for i := range report.Outcomes {
		o := &report.Outcomes[i]
		if report.Aborted {
			o.Skipped = true
			continue
		}
		if err := ctx.Err(); err != nil {
			e.cancelFrom(report, i, err)
			break
		}
		e.deactivateOne(o)
		e.abortOnBatchFatal(report, o)
	}
	return report, nil
}

func (e *Engine) begin(op string, ids []string) (*Report, *Lock, error) {
	report := &Report{
		Operation: op,
		BatchID:   uuid.NewString(),
		Started:   time.Now(),
		Outcomes:  make([]ModuleOutcome, len(ids)),
	}
	for i, id := range ids {
		report.Outcomes[i] = ModuleOutcome{Module: id, Stage: StageValidate}
	}

	lock, err := AcquireLock(e.manager.Table().Dir(), report.BatchID)
	if err != nil {
		return nil, nil, err
	}
	e.logger.Info("batch started",
		zap.String("operation", op),
		zap.String("batch", report.BatchID),
		zap.Strings("modules", ids))
	return report, lock, nil
}

func (e *Engine) end(report *Report, lock *Lock) {
	report.finish()
	if err := lock.Release(); err != nil {
		e.logger.Warn("lock release failed", zap.String("batch", report.BatchID), zap.Error(err))
	}
	e.metrics.ObserveReport(report)

	fields := []zap.Field{
		zap.String("operation", report.Operation),
		zap.String("batch", report.BatchID),
		zap.Int("modules", len(report.Outcomes)),
		zap.Int("succeeded", report.Succeeded),
		zap.Bool("aborted", report.Aborted),
		zap.Duration("duration", report.Duration),
	}
	if report.OK() {
		e.logger.Info("batch finished", fields...)
	} else {
		e.logger.Warn("batch finished with failures", fields...)
	}
}

// checkKnown rejects identifiers that are not declared in the catalog and
// have no module directory.
func (e *Engine) checkKnown(id string) *types.Finding {
	if err := catalog.ValidID(id); err != nil {
		f := types.NewFinding(types.CodeUnknownModule, id, "invalid identifier").WithErr(err)
		return &f
	}
	if _, declared := e.catalog.Lookup(id); declared {
		return nil
	}
	if fi, err := os.Stat(e.catalog.Entry(id).Dir); err == nil && fi.IsDir() {
		return nil
	}
	f := types.NewFinding(types.CodeUnknownModule, id, "not in catalog and no directory under %s", e.catalog.Root)
	return &f
}

func (e *Engine) activateOne(o *ModuleOutcome, vr *manifest.Result) {
	entry := e.catalog.Entry(o.Module)

	o.Findings = append(o.Findings, vr.Findings...)
	if !vr.Valid() {
		return
	}

	o.Stage = StageLink
	res := e.manager.Activate(o.Module, entry.ManifestPath())
	o.Findings = append(o.Findings, res.Findings...)
	if !res.OK() {
		return
	}
	o.Link = res.Link

	o.Stage = StageState
	if _, f := activation.EnsureStateDir(e.stateRoot, o.Module); f != nil {
		o.Findings = append(o.Findings, *f)
		return
	}

	o.Stage = StageDashboard
	descriptor := filepath.Join(e.catalog.Root, filepath.FromSlash(entry.DescriptorPath()))
	lint := e.validator.ValidateDashboard(o.Module, descriptor)
	o.Findings = append(o.Findings, lint...)
	if lint.Has(types.CodeDashboardMissing) {
		o.Stage = StageDone
		return
	}

	o.Stage = StageRegistry
	mr := e.merger.MergeDashboardEntry(o.Module, entry)
	o.Findings = append(o.Findings, mr.Findings...)
	if !mr.OK() {
		return
	}
	o.Slug = mr.Slug
	o.Stage = StageDone
}

func (e *Engine) deactivateOne(o *ModuleOutcome) {
	entry := e.catalog.Entry(o.Module)

	o.Stage = StageLink
	res := e.manager.Deactivate(o.Module)
	o.Findings = append(o.Findings, res.Findings...)
	if !res.OK() {
		return
	}

	o.Stage = StageRegistry
	slug, want := registry.DeriveEntry(entry, e.merger.Prefix())
	got, registered, err := e.merger.Lookup(slug)
	if err != nil {
		o.Findings = append(o.Findings, types.NewFinding(types.CodeRegistryCorrupt, o.Module, "registry %s", e.merger.Path()).WithErr(err))
		return
	}
	if registered && got.Filename == want.Filename {
		mr := e.merger.RemoveEntry(o.Module, slug)
		o.Findings = append(o.Findings, mr.Findings...)
		if !mr.OK() {
			return
		}
		o.Slug = slug
	}
	o.Stage = StageDone
}

func (e *Engine) abortOnBatchFatal(report *Report, o *ModuleOutcome) {
	for _, f := range o.Findings {
		if f.Severity() == types.SeverityBatch {
			report.Aborted = true
			report.Cause = &f
			e.logger.Error("batch aborted",
				zap.String("batch", report.BatchID),
				zap.String("module", o.Module),
				zap.Error(f))
			return
		}
	}
}

// cancelFrom marks every outcome from index start on as cancelled.
func (e *Engine) cancelFrom(report *Report, start int, cause error) {
	for i := start; i < len(report.Outcomes); i++ {
		o := &report.Outcomes[i]
		if _, fatal := o.Fatal(); fatal {
			continue
		}
		o.Findings = append(o.Findings, types.NewFinding(types.CodeCancelled, o.Module, "batch cancelled").WithErr(cause))
	}
	e.logger.Warn("batch cancelled",
		zap.String("batch", report.BatchID),
		zap.Int("remaining", len(report.Outcomes)-start),
		zap.Error(cause))
}
