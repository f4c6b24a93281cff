package core

import (
	"context"
	"fmt"

	"baboard/internal/prediction"
	"baboard/pkg/domain"
)

// HighConsumptionRule warns when an active entry's observed consumption runs
// more than 20% above the rate implied by its governing model.
func HighConsumptionRule() domain.Rule {
	return highConsumptionRule{}
}

type highConsumptionRule struct{}

func (highConsumptionRule) Name() string { return "high_consumption" }

func (highConsumptionRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityEntry || change.Action != domain.ActionUpdate {
			continue
		}
		entry, ok := domain.DecodeChangePayload[domain.BAEntry](change.After)
		if !ok || !entry.Active {
			continue
		}
		model, ok := view.FindModel(entry.ModelID)
		if !ok {
			continue
		}
		trend, ok := prediction.ConsumptionTrend(entry, model)
		if !ok || !trend.IsHigh {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "high_consumption",
			Severity: domain.SeverityWarn,
			Message:  fmt.Sprintf("ba entry %s consuming %.1f bar/min against %.1f bar/min expected", entry.ID, trend.RatePerMinute, trend.ImpliedRate),
			Entity:   domain.EntityEntry,
			EntityID: entry.ID,
		})
	}
	return res, nil
}
