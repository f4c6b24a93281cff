package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"baboard/internal/core"
)

const demoFirefighters = 5

// seedDemo ensures a default model and the demo crew FF001..FF005 exist.
// Existing badges are left untouched.
func seedDemo(ctx context.Context, svc *core.Service) (created int, err error) {
	if _, _, err := svc.EnsureDefaultModel(ctx); err != nil {
		return 0, err
	}
	existing, err := svc.ListFirefighters(ctx, false)
	if err != nil {
		return 0, err
	}
	badges := make(map[string]struct{}, len(existing))
	for _, ff := range existing {
		badges[ff.BadgeNumber] = struct{}{}
	}
	for i := 1; i <= demoFirefighters; i++ {
		badge := fmt.Sprintf("FF%03d", i)
		if _, ok := badges[badge]; ok {
			continue
		}
		if _, _, err := svc.CreateFirefighter(ctx, core.Firefighter{
			BadgeNumber: badge,
			FirstName:   fmt.Sprintf("Test%d", i),
			LastName:    fmt.Sprintf("Firefighter%d", i),
			Active:      true,
		}); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

func newSeedCmd(open appOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the default model and demo firefighters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, open, func(ctx context.Context, a *app) error {
				created, err := seedDemo(ctx, a.svc)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "seeded %d firefighters\n", created)
				return nil
			})
		},
	}
}
