package core

import (
	"context"
	"fmt"

	"baboard/pkg/domain"
)

// LifecycleTransitionRule blocks any change to a closed BA entry, including
// reopening it.
func LifecycleTransitionRule() domain.Rule {
	return lifecycleTransitionRule{}
}

type lifecycleTransitionRule struct{}

var entryTerminalStates = toSet(string(domain.EntryStateClosed))

func (lifecycleTransitionRule) Name() string { return "lifecycle_transition" }

func (lifecycleTransitionRule) Evaluate(_ context.Context, _ domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityEntry || change.Action != domain.ActionUpdate {
			continue
		}
		before, ok := domain.DecodeChangePayload[domain.BAEntry](change.Before)
		if !ok {
			continue
		}
		if _, terminal := entryTerminalStates[string(before.State())]; !terminal {
			continue
		}
		after, ok := domain.DecodeChangePayload[domain.BAEntry](change.After)
		if !ok {
			continue
		}
		msg := fmt.Sprintf("ba entry %s is closed and cannot be modified", before.ID)
		if after.State() != before.State() {
			msg = fmt.Sprintf("cannot move ba entry %s from terminal state %s to %s", before.ID, before.State(), after.State())
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "lifecycle_transition",
			Severity: domain.SeverityBlock,
			Message:  msg,
			Entity:   domain.EntityEntry,
			EntityID: before.ID,
		})
	}
	return res, nil
}

func toSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
