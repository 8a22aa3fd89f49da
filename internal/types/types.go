// Package types defines the finding taxonomy shared by every stage of module
// activation: validation, linking, registry merge and verification.
package types

import (
	"fmt"
	"strings"
)

// Severity classifies how far a finding propagates.
type Severity int

const (
	// SeverityAdvisory never blocks anything; it is surfaced for operator awareness.
	SeverityAdvisory Severity = iota
	// SeverityModule aborts the activation of one module; the batch continues.
	SeverityModule
	// SeverityBatch aborts the remaining batch.
	SeverityBatch
)

func (s Severity) String() string {
	switch s {
	case SeverityAdvisory:
		return "advisory"
	case SeverityModule:
		return "fatal-to-module"
	case SeverityBatch:
		return "fatal-to-batch"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Code identifies a finding kind.
type Code string

// Fatal-to-module codes.
const (
	CodeMissingManifest    Code = "MissingManifest"
	CodeEmptyManifest      Code = "EmptyManifest"
	CodeSyntaxError        Code = "SyntaxError"
	CodeNullDocument       Code = "NullDocument"
	CodeWrongShape         Code = "WrongShape"
	CodeReadFailed         Code = "ReadFailed"
	CodeLinkCreationFailed Code = "LinkCreationFailed"
	CodeLinkRemovalFailed  Code = "LinkRemovalFailed"
	CodeStateDirFailed     Code = "StateDirFailed"
	CodeUnknownModule      Code = "UnknownModule"
	CodeCancelled          Code = "Cancelled"
)

// Fatal-to-batch codes.
const (
	CodeRegistryCorrupt     Code = "RegistryCorrupt"
	CodeRegistryWriteFailed Code = "RegistryWriteFailed"
)

// Advisory codes.
const (
	CodeUnknownKey         Code = "UnknownKey"
	CodeDashboardMissing   Code = "DashboardMissing"
	CodeDashboardMalformed Code = "DashboardMalformed"
	CodeSlugCollision      Code = "SlugCollision"
)

var severities = map[Code]Severity{
	CodeMissingManifest:    SeverityModule,
	CodeEmptyManifest:      SeverityModule,
	CodeSyntaxError:        SeverityModule,
	CodeNullDocument:       SeverityModule,
	CodeWrongShape:         SeverityModule,
	CodeReadFailed:         SeverityModule,
	CodeLinkCreationFailed: SeverityModule,
	CodeLinkRemovalFailed:  SeverityModule,
	CodeStateDirFailed:     SeverityModule,
	CodeUnknownModule:      SeverityModule,
	CodeCancelled:          SeverityModule,

	CodeRegistryCorrupt:     SeverityBatch,
	CodeRegistryWriteFailed: SeverityBatch,

	CodeUnknownKey:         SeverityAdvisory,
	CodeDashboardMissing:   SeverityAdvisory,
	CodeDashboardMalformed: SeverityAdvisory,
	CodeSlugCollision:      SeverityAdvisory,
}

// Severity returns the severity class of a code. Unregistered codes are
// treated as fatal-to-module so they are never silently ignored.
func (c Code) Severity() Severity {
	if s, ok := severities[c]; ok {
		return s
	}
	return SeverityModule
}

// Error makes a Code usable as an errors.Is target.
func (c Code) Error() string { return string(c) }

// Finding is a structured result produced by any stage.
type Finding struct {
	Code    Code
	Module  string
	Message string
	Err     error // underlying cause, e.g. the parser diagnostic
}

// NewFinding builds a Finding with a formatted message.
func NewFinding(code Code, module, format string, args ...any) Finding {
	return Finding{Code: code, Module: module, Message: fmt.Sprintf(format, args...)}
}

// WithErr attaches an underlying cause.
func (f Finding) WithErr(err error) Finding {
	f.Err = err
	return f
}

// Severity returns the severity of the finding's code.
func (f Finding) Severity() Severity { return f.Code.Severity() }

// Fatal reports whether the finding blocks at least one module.
func (f Finding) Fatal() bool { return f.Code.Severity() != SeverityAdvisory }

func (f Finding) Error() string {
	var b strings.Builder
	if f.Module != "" {
		b.WriteString(f.Module)
		b.WriteString(": ")
	}
	b.WriteString(string(f.Code))
	if f.Message != "" {
		b.WriteString(": ")
		b.WriteString(f.Message)
	}
	if f.Err != nil {
		b.WriteString(": ")
		b.WriteString(f.Err.Error())
	}
	return b.String()
}

// Is matches a Finding against its Code.
func (f Finding) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == f.Code
}

func (f Finding) Unwrap() error { return f.Err }

// Findings is an ordered list of findings.
type Findings []Finding

// Fatal returns the first fatal finding, if any.
func (fs Findings) Fatal() (Finding, bool) {
	for _, f := range fs {
		if f.Fatal() {
			return f, true
		}
	}
	return Finding{}, false
}

// Advisories returns only the advisory findings.
func (fs Findings) Advisories() Findings {
	var out Findings
	for _, f := range fs {
		if !f.Fatal() {
			out = append(out, f)
		}
	}
	return out
}

// Has reports whether any finding carries the given code.
func (fs Findings) Has(code Code) bool {
	for _, f := range fs {
		if f.Code == code {
			return true
		}
	}
	return false
}
