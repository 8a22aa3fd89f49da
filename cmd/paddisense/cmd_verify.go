package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/PKmac78/paddisense-hacs/internal/activation"
	"github.com/PKmac78/paddisense-hacs/internal/engine"
	"github.com/PKmac78/paddisense-hacs/internal/logging"
	"github.com/PKmac78/paddisense-hacs/internal/registry"
	"github.com/PKmac78/paddisense-hacs/internal/verify"
	"github.com/PKmac78/paddisense-hacs/internal/watch"
)

// verifyCmd checks the installed state
var verifyCmd = &cobra.Command{
	Use:   "verify [module-id...]",
	Short: "Check links, dashboards and state directories",
	Long: `Runs every installation check and reports each one. Nothing is changed.
Without ids, the currently linked modules are verified.`,
	RunE: runVerify,
}

// watchCmd re-verifies on change
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-verify linked modules whenever the module tree changes",
	RunE:  runWatch,
}

// listCmd shows known modules
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List known modules and whether they are active",
	RunE:  runList,
}

func runVerify(cmd *cobra.Command, args []string) error {
	e, err := buildEngine()
	if err != nil {
		return err
	}
	ids := args
	if len(ids) == 0 {
		if ids, err = e.Manager().Active(); err != nil {
			return err
		}
	}

	results := e.Verify(ids)
	writeMetrics(e)
	printChecks(cmd.OutOrStdout(), results)
	if !verify.Passed(results) {
		return errFailures
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	log := logging.Named(logger, logging.CategoryWatch)
	out := cmd.OutOrStdout()

	check := func(ctx context.Context, changed []string) {
		// The catalog may have changed too, so rebuild on every run.
		e, err := buildEngine()
		if err != nil {
			log.Error("reload failed", zap.Error(err))
			return
		}
		ids, err := e.Manager().Active()
		if err != nil {
			log.Error("list active modules", zap.Error(err))
			return
		}
		results := e.Verify(ids)
		writeMetrics(e)
		log.Info("re-verified",
			zap.Strings("changed", changed),
			zap.Int("modules", len(ids)),
			zap.Int("failed", len(verify.Failed(results))))
		printChecks(out, results)
	}

	w, err := watch.New(watch.Options{
		Dirs:    []string{cfg.ModuleRoot(), cfg.ActivationDir()},
		Depth:   2,
		Files:   []string{cfg.CatalogPath(), cfg.RegistryPath()},
		Handler: check,
		Logger:  log,
	})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

	w.Trigger(ctx, nil)
	log.Info("watching", zap.String("module_root", cfg.ModuleRoot()))
	<-ctx.Done()
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	e, err := buildEngine()
	if err != nil {
		return err
	}
	ids, err := knownModules(e)
	if err != nil {
		return err
	}
	active, err := e.Manager().Active()
	if err != nil {
		return err
	}
	linked := make(map[string]bool, len(active))
	for _, id := range active {
		linked[id] = true
	}

	out := cmd.OutOrStdout()
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
		printModule(out, e, id, linked[id])
	}
	// Linked modules the catalog no longer knows about.
	for _, id := range active {
		if !seen[id] {
			printModule(out, e, id, true)
		}
	}
	return nil
}

func printModule(out io.Writer, e *engine.Engine, id string, active bool) {
	state := "inactive"
	if active {
		state = "active"
	}
	entry := e.Catalog().Entry(id)
	slug, _ := registry.DeriveEntry(entry, cfg.Registry.FilenamePrefix)
	version := entry.Version
	if version == "" {
		version = "-"
	}
	fmt.Fprintf(out, "%-12s %-8s %-9s %s -> %s\n", id, version, state, slug, activation.LinkName(id))
}

func printChecks(out io.Writer, results []verify.CheckResult) {
	for _, r := range results {
		fmt.Fprintln(out, r.String())
	}
	failed := len(verify.Failed(results))
	warned := len(verify.Warnings(results))
	fmt.Fprintf(out, "\n%d checks, %d failed, %d warnings\n", len(results), failed, warned)
}
