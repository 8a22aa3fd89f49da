package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/PKmac78/paddisense-hacs/internal/engine"
)

var allModules bool

// activateCmd runs an activation batch
var activateCmd = &cobra.Command{
	Use:   "activate [module-id...]",
	Short: "Validate, link and register modules",
	Long: `Activates modules in the order given. For each module the manifest is
validated, linked into the packages directory, its state directory is
created, and its dashboard is merged into the registry.

A failing module does not stop the others. A corrupt registry stops the
batch. Nothing is rolled back.

Examples:
  paddisense activate rtr str
  paddisense activate --all`,
	RunE: runActivate,
}

// deactivateCmd removes modules
var deactivateCmd = &cobra.Command{
	Use:   "deactivate module-id...",
	Short: "Unlink modules and remove their dashboards",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDeactivate,
}

// validateCmd validates manifests without changing anything
var validateCmd = &cobra.Command{
	Use:   "validate [module-id...]",
	Short: "Validate module manifests",
	RunE:  runValidate,
}

func runActivate(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	e, err := buildEngine()
	if err != nil {
		return err
	}
	ids := args
	if allModules {
		if ids, err = knownModules(e); err != nil {
			return err
		}
	}
	if len(ids) == 0 {
		return fmt.Errorf("no modules given; pass module ids or --all")
	}

	report, err := e.Activate(ctx, ids)
	if err != nil {
		return err
	}
	writeMetrics(e)
	printReport(cmd.OutOrStdout(), report)
	if !report.OK() {
		return errFailures
	}
	return nil
}

func runDeactivate(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	e, err := buildEngine()
	if err != nil {
		return err
	}
	report, err := e.Deactivate(ctx, args)
	if err != nil {
		return err
	}
	writeMetrics(e)
	printReport(cmd.OutOrStdout(), report)
	if !report.OK() {
		return errFailures
	}
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	e, err := buildEngine()
	if err != nil {
		return err
	}
	ids := args
	if len(ids) == 0 || allModules {
		if ids, err = knownModules(e); err != nil {
			return err
		}
	}

	results, err := e.Validate(ctx, ids)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	invalid := 0
	for _, r := range results {
		if f, bad := r.Fatal(); bad {
			invalid++
			fmt.Fprintf(out, "FAIL  %-12s %s\n", r.Module, f.Error())
			continue
		}
		fmt.Fprintf(out, "ok    %-12s %d sections\n", r.Module, len(r.Keys))
		for _, a := range r.Advisories() {
			fmt.Fprintf(out, "      note: %s\n", a.Error())
		}
	}
	fmt.Fprintf(out, "\n%d/%d manifests valid\n", len(results)-invalid, len(results))
	if invalid > 0 {
		return errFailures
	}
	return nil
}

func printReport(out io.Writer, report *engine.Report) {
	for _, o := range report.Outcomes {
		switch {
		case o.Skipped:
			fmt.Fprintf(out, "SKIP  %-12s batch aborted\n", o.Module)
		case o.Succeeded():
			detail := "no dashboard"
			if o.Slug != "" {
				detail = o.Slug
			}
			fmt.Fprintf(out, "ok    %-12s %s\n", o.Module, detail)
		default:
			f, _ := o.Fatal()
			fmt.Fprintf(out, "FAIL  %-12s [%s] %s\n", o.Module, o.Stage, f.Error())
		}
		for _, a := range o.Findings.Advisories() {
			fmt.Fprintf(out, "      note: %s\n", a.Error())
		}
	}

	fmt.Fprintf(out, "\n%d/%d modules %sd (batch %s)\n", report.Succeeded, len(report.Outcomes), report.Operation, report.BatchID)
	if report.Aborted && report.Cause != nil {
		fmt.Fprintf(out, "batch aborted: %s\n", report.Cause.Error())
	}
}
