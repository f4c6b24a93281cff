package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"baboard/internal/core"
)

func newFirefighterCmd(open appOpener) *cobra.Command {
	ff := &cobra.Command{Use: "firefighter", Short: "Firefighter registry commands"}

	var first, last string
	addCmd := &cobra.Command{
		Use:   "add <badge>",
		Short: "Register a firefighter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(ctx context.Context, a *app) error {
				created, _, err := a.svc.CreateFirefighter(ctx, core.Firefighter{
					BadgeNumber: args[0],
					FirstName:   first,
					LastName:    last,
					Active:      true,
				})
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "registered %s (%s)\n", created.BadgeNumber, created.ID)
				return nil
			})
		},
	}
	addCmd.Flags().StringVar(&first, "first", "", "first name")
	addCmd.Flags().StringVar(&last, "last", "", "last name")

	var all bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List firefighters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, open, func(ctx context.Context, a *app) error {
				ffs, err := a.svc.ListFirefighters(ctx, !all)
				if err != nil {
					return err
				}
				if len(ffs) == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no firefighters")
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "ID\tBADGE\tNAME\tACTIVE\tCUSTOM MODEL")
				for _, f := range ffs {
					custom := "-"
					if f.CustomModelID != nil {
						custom = *f.CustomModelID
					}
					_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", f.ID, f.BadgeNumber, f.FullName(), f.Active, custom)
				}
				return tw.Flush()
			})
		},
	}
	listCmd.Flags().BoolVar(&all, "all", false, "include inactive firefighters")

	var clearModel bool
	assignCmd := &cobra.Command{
		Use:   "assign-model <firefighter-id> [model-id]",
		Short: "Assign or clear a firefighter's custom model",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if clearModel == (len(args) == 2) {
				return fmt.Errorf("pass a model id or --clear")
			}
			var modelID *string
			if len(args) == 2 {
				modelID = &args[1]
			}
			return withApp(cmd, open, func(ctx context.Context, a *app) error {
				updated, _, err := a.svc.AssignCustomModel(ctx, args[0], modelID)
				if err != nil {
					return err
				}
				if updated.CustomModelID == nil {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s now uses the default model\n", updated.BadgeNumber)
					return nil
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s now uses model %s\n", updated.BadgeNumber, *updated.CustomModelID)
				return nil
			})
		},
	}
	assignCmd.Flags().BoolVar(&clearModel, "clear", false, "clear the custom model")

	ff.AddCommand(addCmd, listCmd, assignCmd)
	return ff
}
