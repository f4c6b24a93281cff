package core

import (
	"context"
	"fmt"

	"baboard/pkg/domain"
)

// HistoricalUniquenessRule blocks a second historical record for the same
// entry and records for entries that are still active.
func HistoricalUniquenessRule() domain.Rule {
	return historicalUniquenessRule{}
}

type historicalUniquenessRule struct{}

func (historicalUniquenessRule) Name() string { return "historical_uniqueness" }

func (historicalUniquenessRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityHistoricalEntry || change.Action != domain.ActionCreate {
			continue
		}
		created, ok := domain.DecodeChangePayload[domain.HistoricalBAEntry](change.After)
		if !ok {
			continue
		}
		count := 0
		for _, h := range view.ListHistoricalEntries() {
			if h.EntryID == created.EntryID {
				count++
			}
		}
		if count > 1 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "historical_uniqueness",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("ba entry %s already has a historical record", created.EntryID),
				Entity:   domain.EntityHistoricalEntry,
				EntityID: created.ID,
			})
			continue
		}
		if entry, ok := view.FindEntry(created.EntryID); ok && entry.Active {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "historical_uniqueness",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("ba entry %s is still active", created.EntryID),
				Entity:   domain.EntityHistoricalEntry,
				EntityID: created.ID,
			})
		}
	}
	return res, nil
}
