package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"baboard/internal/modelcatalog"
)

func newPredictCmd(open appOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "predict <firefighter-id> <pressure>",
		Short: "Estimate remaining minutes at a pressure",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pressure, err := parsePressure(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd, open, func(ctx context.Context, a *app) error {
				est, err := a.svc.EstimateForFirefighter(ctx, args[0], pressure)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "default model: %d min\n", est.Default)
				if est.Custom != nil {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "custom model: %d min\n", *est.Custom)
				}
				return nil
			})
		},
	}
}

func newModelsCmd(open appOpener) *cobra.Command {
	models := &cobra.Command{Use: "models", Short: "Pressure calculation models"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List models",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, open, func(ctx context.Context, a *app) error {
				ms, err := a.svc.ListModels(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "ID\tNAME\tSLOPE\tINTERCEPT\tRANGE\tDEFAULT")
				for _, m := range ms {
					_, _ = fmt.Fprintf(tw, "%s\t%s\t%.4f\t%.4f\t%d-%d\t%t\n",
						m.ID, m.Name, m.Slope, m.Intercept, m.MinPressure, m.MaxPressure, m.IsDefault)
				}
				return tw.Flush()
			})
		},
	}

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Compare every model against the standard chart",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, open, func(ctx context.Context, a *app) error {
				reports, err := a.svc.VerifyModels(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "NAME\t300 BAR\t200 BAR\t150 BAR\tBAR/MIN\tMAX CHART DEVIATION")
				for _, r := range reports {
					_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.2f\t%.1f\n",
						r.Name, r.AtFull, r.AtMid, r.AtThreshold, r.AverageRate, r.MaxChartDeviation)
				}
				return tw.Flush()
			})
		},
	}

	loadCmd := &cobra.Command{
		Use:   "load <catalog.yaml>",
		Short: "Create models from a YAML catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := modelcatalog.LoadFile(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, open, func(ctx context.Context, a *app) error {
				report, err := modelcatalog.Apply(ctx, a.svc, cat)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "created %d, skipped %d, assigned %d\n",
					len(report.Created), len(report.Skipped), len(report.Assigned))
				return nil
			})
		},
	}

	models.AddCommand(listCmd, verifyCmd, loadCmd)
	return models
}
