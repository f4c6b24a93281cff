package core

import (
	"context"
	"fmt"
	"strings"

	"baboard/pkg/domain"
)

// DefaultModelCardinalityRule blocks any transaction that leaves more than one
// default pressure calculation model.
func DefaultModelCardinalityRule() domain.Rule {
	return defaultModelCardinalityRule{}
}

type defaultModelCardinalityRule struct{}

func (defaultModelCardinalityRule) Name() string { return "default_model_cardinality" }

func (defaultModelCardinalityRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	touched := false
	for _, change := range changes {
		if change.Entity == domain.EntityModel {
			touched = true
			break
		}
	}
	if !touched {
		return domain.Result{}, nil
	}
	var ids []string
	for _, m := range view.ListModels() {
		if m.IsDefault {
			ids = append(ids, m.ID)
		}
	}
	if len(ids) <= 1 {
		return domain.Result{}, nil
	}
	return domain.Result{Violations: []domain.Violation{{
		Rule:     "default_model_cardinality",
		Severity: domain.SeverityBlock,
		Message:  fmt.Sprintf("exactly one default model is allowed, found %d (%s)", len(ids), strings.Join(ids, ", ")),
		Entity:   domain.EntityModel,
		EntityID: ids[len(ids)-1],
	}}}, nil
}
