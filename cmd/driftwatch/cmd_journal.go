package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/driftwatch/internal/journal"
)

var (
	journalDir   string
	journalSince time.Duration
)

var alertsJournalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Replay the notification journal",
	Long: `Print notifications recorded by the journal sink (notify.journal.dir),
oldest first.`,
	Example: `  driftwatch alerts journal --since 24h
  driftwatch alerts journal --dir /var/lib/driftwatch/journal`,
	RunE: runAlertsJournal,
}

func init() {
	alertsCmd.AddCommand(alertsJournalCmd)
	alertsJournalCmd.Flags().StringVar(&journalDir, "dir", "", "Journal directory (overrides notify.journal.dir)")
	alertsJournalCmd.Flags().DurationVar(&journalSince, "since", 0, "Only show entries newer than this")
}

func runAlertsJournal(cmd *cobra.Command, _ []string) error {
	dir := journalDir
	if dir == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dir = cfg.Notify.Journal.Dir
	}
	if dir == "" {
		return errors.New("no journal directory: set notify.journal.dir or --dir")
	}

	var since time.Time
	if journalSince > 0 {
		since = time.Now().Add(-journalSince)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIME\tEVENT\tSEVERITY\tALERT\tTYPE\tRESOURCE\tREGION")
	err := journal.Replay(dir, "", since, func(e journal.Entry) error {
		a := e.Alert
		_, err := fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Sequence, e.Timestamp.Format(time.RFC3339), e.Event, a.Severity,
			a.ID, a.ResourceType, a.ResourceID, a.Region)
		return err
	})
	if err != nil {
		return err
	}
	return tw.Flush()
}
