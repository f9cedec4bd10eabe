package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yairfalse/driftwatch/types"
)

var (
	scanJSON   bool
	scanFailOn string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one drift scan and exit",
	Long: `Run a single scan, persist it and update alerts exactly as the daemon would.

With --fail-on the command exits non-zero when drift at or above the given
severity was found, which makes it usable as a CI gate.`,
	Example: `  driftwatch scan -c driftwatch.toml
  driftwatch scan --json
  driftwatch scan --fail-on high`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "Print the sealed scan run as JSON")
	scanCmd.Flags().StringVar(&scanFailOn, "fail-on", "", "Exit 2 when drift at or above this severity is found")
}

func runScan(cmd *cobra.Command, _ []string) error {
	var failOn types.Severity
	if scanFailOn != "" {
		sev, err := types.ParseSeverity(scanFailOn)
		if err != nil {
			return err
		}
		failOn = sev
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	run := types.NewScanRun(uuid.NewString(), types.TriggerManual, a.now())
	runErr := a.coordinator.Run(cmd.Context(), run)

	out := cmd.OutOrStdout()
	if scanJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(run); err != nil {
			return err
		}
	} else {
		printRun(out, *run)
	}

	if runErr != nil {
		return runErr
	}
	if failOn != "" && driftAtLeast(*run, failOn) {
		_ = a.Close()
		os.Exit(2)
	}
	return nil
}

func driftAtLeast(run types.ScanRun, min types.Severity) bool {
	for sev, n := range run.DriftBySeverity {
		if n > 0 && sev.AtLeast(min) {
			return true
		}
	}
	return false
}

func printRun(w io.Writer, run types.ScanRun) {
	fmt.Fprintf(w, "Scan %s: %s in %s\n", run.ID, run.Status, run.Duration().Round(time.Millisecond))
	if run.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", run.Error)
		return
	}
	fmt.Fprintf(w, "  resources: %d declared, %d observed, %d skipped\n",
		run.DeclaredResourceCount, run.ObservedResourceCount, run.SkippedResourceCount)
	if len(run.FailedRegions) > 0 {
		fmt.Fprintf(w, "  unavailable regions: %s\n", strings.Join(run.FailedRegions, ", "))
	}

	fmt.Fprintf(w, "  drift: %d", run.DriftCount)
	if run.DriftCount > 0 {
		var parts []string
		for _, sev := range types.Severities {
			if n := run.DriftBySeverity[sev]; n > 0 {
				parts = append(parts, fmt.Sprintf("%d %s", n, sev))
			}
		}
		fmt.Fprintf(w, " (%s)", strings.Join(parts, ", "))
	}
	fmt.Fprintln(w)

	if len(run.DriftByResourceType) > 0 {
		resourceTypes := make([]string, 0, len(run.DriftByResourceType))
		for t := range run.DriftByResourceType {
			resourceTypes = append(resourceTypes, t)
		}
		slices.Sort(resourceTypes)
		for _, t := range resourceTypes {
			fmt.Fprintf(w, "    %-32s %d\n", t, run.DriftByResourceType[t])
		}
	}

	fmt.Fprintf(w, "  alerts: %d opened, %d updated, %d resolved\n",
		run.AlertsOpened, run.AlertsUpdated, run.AlertsResolved)
}
