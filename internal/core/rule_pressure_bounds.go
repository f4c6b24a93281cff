package core

import (
	"context"
	"fmt"

	"baboard/pkg/domain"
)

// PressureBoundsRule blocks entries whose pressures leave the absolute safety
// envelope or whose current pressure exceeds the initial pressure.
func PressureBoundsRule() domain.Rule {
	return pressureBoundsRule{}
}

type pressureBoundsRule struct{}

func (pressureBoundsRule) Name() string { return "pressure_bounds" }

func (pressureBoundsRule) Evaluate(_ context.Context, _ domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityEntry {
			continue
		}
		entry, ok := domain.DecodeChangePayload[domain.BAEntry](change.After)
		if !ok {
			continue
		}
		var problem string
		switch {
		case entry.InitialPressure > domain.PressureCeiling:
			problem = fmt.Sprintf("initial pressure %d exceeds %d bar", entry.InitialPressure, domain.PressureCeiling)
		case entry.CurrentPressure < domain.SafetyFloor:
			problem = fmt.Sprintf("current pressure %d is below the %d bar safety floor", entry.CurrentPressure, domain.SafetyFloor)
		case entry.CurrentPressure > entry.InitialPressure:
			problem = fmt.Sprintf("current pressure %d exceeds initial pressure %d", entry.CurrentPressure, entry.InitialPressure)
		default:
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "pressure_bounds",
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("ba entry %s: %s", entry.ID, problem),
			Entity:   domain.EntityEntry,
			EntityID: entry.ID,
		})
	}
	return res, nil
}
