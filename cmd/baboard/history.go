package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd(open appOpener) *cobra.Command {
	history := &cobra.Command{Use: "history", Short: "Closed session records"}

	var listFF string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List historical BA sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, open, func(ctx context.Context, a *app) error {
				records, err := a.svc.ListHistorical(ctx, listFF)
				if err != nil {
					return err
				}
				if len(records) == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no historical entries")
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "ID\tENTRY\tFIREFIGHTER\tDATE\tINITIAL\tFINAL\tMIN\tLOCATION")
				for _, h := range records {
					_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
						h.ID, h.EntryID, h.FirefighterID, h.SessionDate.Format(time.RFC3339),
						h.InitialPressure, h.FinalPressure, h.Duration, h.Location)
				}
				return tw.Flush()
			})
		},
	}
	listCmd.Flags().StringVar(&listFF, "firefighter", "", "only sessions of this firefighter id")

	var exportFF string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write a CSV roll-up of historical sessions to the archive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, open, func(ctx context.Context, a *app) error {
				key, err := a.svc.ExportHistorical(ctx, exportFF)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "exported %s\n", key)
				return nil
			})
		},
	}
	exportCmd.Flags().StringVar(&exportFF, "firefighter", "", "only sessions of this firefighter id")

	archivedCmd := &cobra.Command{
		Use:   "archived [firefighter-id]",
		Short: "List sessions stored in the archive",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ffID := ""
			if len(args) == 1 {
				ffID = args[0]
			}
			return withApp(cmd, open, func(ctx context.Context, a *app) error {
				records, err := a.archiver.LoadArchived(ctx, ffID)
				if err != nil {
					return err
				}
				for _, h := range records {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d->%d bar\t%d min\n",
						h.ID, h.FirefighterID, h.InitialPressure, h.FinalPressure, h.Duration)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d archived sessions\n", len(records))
				return nil
			})
		},
	}

	history.AddCommand(listCmd, exportCmd, archivedCmd)
	return history
}
