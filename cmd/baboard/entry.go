package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"baboard/internal/core"
)

func parsePressure(s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("pressure %q is not a whole number of bar", s)
	}
	return p, nil
}

func newEntryCmd(open appOpener) *cobra.Command {
	entry := &cobra.Command{Use: "entry", Short: "BA entry lifecycle commands"}
	entry.AddCommand(
		newEntryCreateCmd(open),
		newEntryReadingCmd(open),
		newEntryConfirmCmd(open),
		newEntryListCmd(open),
		newEntryUpdateCmd(open),
		newEntryTrendCmd(open),
	)
	return entry
}

func newEntryCreateCmd(open appOpener) *cobra.Command {
	var location, remarks string
	cmd := &cobra.Command{
		Use:   "create <firefighter-id> <initial-pressure>",
		Short: "Start a BA entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pressure, err := parsePressure(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd, open, func(ctx context.Context, a *app) error {
				created, _, err := a.svc.CreateEntry(ctx, core.CreateEntryInput{
					FirefighterID:   args[0],
					InitialPressure: pressure,
					Location:        location,
					Remarks:         remarks,
				})
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "entry %s started at %d bar, estimated %d min\n",
					created.ID, created.InitialPressure, created.EstimatedTime)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&location, "location", "", "entry location")
	cmd.Flags().StringVar(&remarks, "remarks", "", "free-text remarks")
	return cmd
}

func newEntryReadingCmd(open appOpener) *cobra.Command {
	var ack, correction bool
	cmd := &cobra.Command{
		Use:   "reading <entry-id> <pressure>",
		Short: "Record a pressure reading",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pressure, err := parsePressure(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd, open, func(ctx context.Context, a *app) error {
				outcome, err := a.svc.RecordReading(ctx, args[0], core.Reading{
					Pressure:     pressure,
					Acknowledged: ack,
					Correction:   correction,
				})
				if err != nil {
					return err
				}
				return printOutcome(cmd.OutOrStdout(), outcome)
			})
		},
	}
	cmd.Flags().BoolVar(&ack, "ack", false, "acknowledge a reading at or below the closure threshold")
	cmd.Flags().BoolVar(&correction, "correction", false, "allow a reading above the previous one")
	return cmd
}

func newEntryConfirmCmd(open appOpener) *cobra.Command {
	var (
		correction bool
		current    int
		updated    string
	)
	cmd := &cobra.Command{
		Use:   "confirm <entry-id> <pressure>",
		Short: "Confirm closure of an entry at a low pressure reading",
		Long: `Confirm closure of an entry at a low pressure reading.

Pass --current and --updated with the values printed by "entry reading" to
refuse the closure when the entry changed in between. Without them the entry
is re-read and the confirmation applies to its latest state.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pressure, err := parsePressure(args[1])
			if err != nil {
				return err
			}
			pinned := cmd.Flags().Changed("current") || cmd.Flags().Changed("updated")
			var pinnedAt time.Time
			if pinned {
				if !cmd.Flags().Changed("current") || !cmd.Flags().Changed("updated") {
					return fmt.Errorf("--current and --updated must be given together")
				}
				if pinnedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
					return fmt.Errorf("--updated %q is not an RFC 3339 timestamp", updated)
				}
			}
			return withApp(cmd, open, func(ctx context.Context, a *app) error {
				pending := core.PendingClosure{
					EntryID:         args[0],
					Pressure:        pressure,
					Correction:      correction,
					CurrentPressure: current,
					UpdatedTime:     pinnedAt,
				}
				if !pinned {
					latest, err := a.svc.GetEntry(ctx, args[0])
					if err != nil {
						return err
					}
					pending.CurrentPressure = latest.CurrentPressure
					pending.UpdatedTime = latest.UpdatedTime
				}
				outcome, err := a.svc.ConfirmClosure(ctx, pending)
				if err != nil {
					return err
				}
				return printOutcome(cmd.OutOrStdout(), outcome)
			})
		},
	}
	cmd.Flags().BoolVar(&correction, "correction", false, "the closing reading corrects a lower previous one")
	cmd.Flags().IntVar(&current, "current", 0, "pressure the entry held when the closure was proposed")
	cmd.Flags().StringVar(&updated, "updated", "", "entry update time when the closure was proposed (RFC 3339)")
	return cmd
}

func printOutcome(w io.Writer, outcome core.ReadingOutcome) error {
	switch {
	case outcome.Pending != nil:
		p := outcome.Pending
		_, _ = fmt.Fprintf(w, "entry %s: %d bar is at or below the closure threshold, confirm to close\n", p.EntryID, p.Pressure)
		_, _ = fmt.Fprintf(w, "  entry confirm %s %d --current %d --updated %s\n",
			p.EntryID, p.Pressure, p.CurrentPressure, p.UpdatedTime.Format(time.RFC3339Nano))
		return json.NewEncoder(w).Encode(p)
	case outcome.Closed:
		_, _ = fmt.Fprintf(w, "entry %s closed at %d bar after %d min\n",
			outcome.Entry.ID, outcome.Historical.FinalPressure, outcome.Historical.Duration)
	default:
		_, _ = fmt.Fprintf(w, "entry %s at %d bar, estimated %d min\n",
			outcome.Entry.ID, outcome.Entry.CurrentPressure, outcome.Entry.EstimatedTime)
	}
	for _, v := range outcome.Warnings {
		_, _ = fmt.Fprintf(w, "warning: %s\n", v.Message)
	}
	return nil
}

func newEntryListCmd(open appOpener) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List BA entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, open, func(ctx context.Context, a *app) error {
				entries, err := a.svc.ListEntries(ctx, !all)
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no entries")
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "ID\tFIREFIGHTER\tSTATE\tINITIAL\tCURRENT\tEST MIN\tENTERED\tLOCATION")
				for _, e := range entries {
					_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
						e.ID, e.FirefighterID, e.State(), e.InitialPressure, e.CurrentPressure,
						e.EstimatedTime, e.EntryTime.Format(time.RFC3339), e.Location)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include closed entries")
	return cmd
}

func newEntryUpdateCmd(open appOpener) *cobra.Command {
	var location, remarks string
	cmd := &cobra.Command{
		Use:   "update <entry-id>",
		Short: "Change the location or remarks of an active entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var details core.EntryDetails
			if cmd.Flags().Changed("location") {
				details.Location = &location
			}
			if cmd.Flags().Changed("remarks") {
				details.Remarks = &remarks
			}
			if details.Location == nil && details.Remarks == nil {
				return fmt.Errorf("nothing to update: pass --location or --remarks")
			}
			return withApp(cmd, open, func(ctx context.Context, a *app) error {
				updated, _, err := a.svc.UpdateEntryDetails(ctx, args[0], details)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "entry %s at %s\n", updated.ID, updated.Location)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&location, "location", "", "new location")
	cmd.Flags().StringVar(&remarks, "remarks", "", "new remarks")
	return cmd
}

func newEntryTrendCmd(open appOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "trend <entry-id>",
		Short: "Show the consumption trend of an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(ctx context.Context, a *app) error {
				trend, ok, err := a.svc.EntryTrend(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "entry %s: no elapsed time yet\n", args[0])
					return nil
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(trend)
			})
		},
	}
}
