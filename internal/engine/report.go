package engine

import (
	"time"

	"github.com/PKmac78/paddisense-hacs/internal/activation"
	"github.com/PKmac78/paddisense-hacs/internal/types"
)

// Stage is the last pipeline stage a module reached.
type Stage string

const (
	StageValidate  Stage = "validate"
	StageLink      Stage = "link"
	StageState     Stage = "state"
	StageDashboard Stage = "dashboard"
	StageRegistry  Stage = "registry"
	StageDone      Stage = "done"
)

// ModuleOutcome is the per-module result of a batch.
type ModuleOutcome struct {
	Module string
	Stage  Stage

	// Skipped is set for modules never attempted because the batch aborted.
	Skipped bool

	Link     activation.Link
	Slug     string // empty when no dashboard was registered
	Findings types.Findings
}

// Succeeded reports whether the module went through every stage.
func (o *ModuleOutcome) Succeeded() bool {
	if o.Skipped {
		return false
	}
	_, fatal := o.Findings.Fatal()
	return !fatal
}

// Fatal returns the finding that stopped the module, if any.
func (o *ModuleOutcome) Fatal() (types.Finding, bool) {
	return o.Findings.Fatal()
}

// Result is a short outcome label: succeeded, failed, skipped, cancelled.
func (o *ModuleOutcome) Result() string {
	switch {
	case o.Skipped:
		return "skipped"
	case o.Findings.Has(types.CodeCancelled):
		return "cancelled"
	case o.Succeeded():
		return "succeeded"
	default:
		return "failed"
	}
}

// Report is the result of one batch.
type Report struct {
	Operation string // activate, deactivate
	BatchID   string
	Started   time.Time
	Duration  time.Duration

	Outcomes  []ModuleOutcome
	Succeeded int

	// Aborted is set when a fatal-to-batch finding stopped the batch. Cause
	// holds that finding.
	Aborted bool
	Cause   *types.Finding
}

// OK reports whether every module succeeded.
func (r *Report) OK() bool {
	return !r.Aborted && r.Succeeded == len(r.Outcomes)
}

// Failed returns the outcomes that did not succeed.
func (r *Report) Failed() []ModuleOutcome {
	var out []ModuleOutcome
	for _, o := range r.Outcomes {
		if !o.Succeeded() {
			out = append(out, o)
		}
	}
	return out
}

// Outcome returns the outcome for module.
func (r *Report) Outcome(module string) (ModuleOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.Module == module {
			return o, true
		}
	}
	return ModuleOutcome{}, false
}

// Advisories returns every advisory finding in the batch.
func (r *Report) Advisories() types.Findings {
	var out types.Findings
	for _, o := range r.Outcomes {
		out = append(out, o.Findings.Advisories()...)
	}
	return out
}

func (r *Report) finish() {
	r.Duration = time.Since(r.Started)
	r.Succeeded = 0
	for i := range r.Outcomes {
		if r.Outcomes[i].Succeeded() {
			r.Succeeded++
		}
	}
}
