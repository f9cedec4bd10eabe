package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yairfalse/driftwatch/alert"
	"github.com/yairfalse/driftwatch/storage"
	"github.com/yairfalse/driftwatch/types"
)

var (
	alertsStatus   []string
	alertsSeverity []string
	alertsType     string
	alertsLimit    int
	alertsJSON     bool
	alertActor     string
	alertNote      string
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List and act on drift alerts",
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts",
	Example: `  driftwatch alerts list
  driftwatch alerts list --status resolved --severity critical,high
  driftwatch alerts list --type aws_security_group --json`,
	RunE: runAlertsList,
}

func init() {
	rootCmd.AddCommand(alertsCmd)
	alertsCmd.AddCommand(alertsListCmd)

	alertsListCmd.Flags().StringSliceVar(&alertsStatus, "status", []string{"open"}, "Statuses to show (open, new, acknowledged, in_progress, resolved, suppressed)")
	alertsListCmd.Flags().StringSliceVar(&alertsSeverity, "severity", nil, "Severities to show")
	alertsListCmd.Flags().StringVar(&alertsType, "type", "", "Terraform resource type")
	alertsListCmd.Flags().IntVar(&alertsLimit, "limit", 100, "Maximum alerts to show")
	alertsListCmd.Flags().BoolVar(&alertsJSON, "json", false, "Print JSON")

	for _, action := range []struct {
		use    string
		short  string
		action types.Action
	}{
		{"ack ID", "Acknowledge a NEW alert", types.ActionAcknowledge},
		{"start ID", "Mark an acknowledged alert as in progress", types.ActionStartProgress},
		{"resolve ID", "Resolve an acknowledged or in-progress alert", types.ActionResolve},
		{"suppress ID", "Suppress an open alert", types.ActionSuppress},
	} {
		c := &cobra.Command{
			Use:   action.use,
			Short: action.short,
			Args:  cobra.ExactArgs(1),
			RunE:  alertAction(action.action),
		}
		c.Flags().StringVar(&alertActor, "actor", "", "Who is taking the action (required)")
		c.Flags().StringVar(&alertNote, "note", "", "Free-form note")
		_ = c.MarkFlagRequired("actor")
		alertsCmd.AddCommand(c)
	}
}

// openAlerts opens storage and an alert manager without the scan pipeline.
func openAlerts(ctx context.Context) (*alert.Manager, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.Open(ctx, cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: %w", err)
	}
	return alert.NewManager(store, alert.Config{}), func() { _ = store.Close() }, nil
}

func runAlertsList(cmd *cobra.Command, _ []string) error {
	filter := types.AlertFilter{ResourceType: alertsType, Limit: alertsLimit}
	for _, s := range alertsStatus {
		st := types.AlertStatus(strings.ToUpper(s))
		if st == "OPEN" {
			filter.Statuses = append(filter.Statuses, types.OpenStatuses...)
			continue
		}
		if !st.Open() && !st.Terminal() {
			return fmt.Errorf("unknown status %q", s)
		}
		filter.Statuses = append(filter.Statuses, st)
	}
	for _, s := range alertsSeverity {
		sev, err := types.ParseSeverity(s)
		if err != nil {
			return err
		}
		filter.Severities = append(filter.Severities, sev)
	}

	manager, closeStore, err := openAlerts(cmd.Context())
	if err != nil {
		return err
	}
	defer closeStore()

	alerts, err := manager.List(cmd.Context(), filter)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if alertsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(alerts)
	}
	printAlerts(out, alerts)
	return nil
}

func printAlerts(w io.Writer, alerts []types.Alert) {
	if len(alerts) == 0 {
		fmt.Fprintln(w, "No alerts.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSEVERITY\tSTATUS\tKIND\tTYPE\tRESOURCE\tREGION\tSEEN\tLAST SEEN")
	for _, a := range alerts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			a.ID, a.Severity, a.Status, a.ChangeKind, a.ResourceType, a.ResourceID, a.Region,
			a.OccurrenceCount, a.LastSeen.Format("2006-01-02 15:04"))
	}
	_ = tw.Flush()
}

func alertAction(action types.Action) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		manager, closeStore, err := openAlerts(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		a, err := manager.Do(cmd.Context(), args[0], action, alertActor, alertNote)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Alert %s is now %s\n", a.ID, a.Status)
		return nil
	}
}
