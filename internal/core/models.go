package core

import (
	"fmt"

	"baboard/pkg/domain"
)

// ResolveDefaultModel returns the single default model visible in view. It
// fails with ConfigurationError when there is none or more than one.
func ResolveDefaultModel(view domain.TransactionView) (domain.PressureCalculationModel, error) {
	var found []domain.PressureCalculationModel
	for _, m := range view.ListModels() {
		if m.IsDefault {
			found = append(found, m)
		}
	}
	switch len(found) {
	case 0:
		return domain.PressureCalculationModel{}, domain.ConfigurationError{Reason: "no default pressure calculation model exists"}
	case 1:
		return found[0], nil
	default:
		return domain.PressureCalculationModel{}, domain.ConfigurationError{
			Reason: fmt.Sprintf("%d default pressure calculation models exist, expected exactly one", len(found)),
		}
	}
}

// resolveGoverningModel picks the firefighter's custom model when assigned,
// otherwise the default model.
func resolveGoverningModel(view domain.TransactionView, ff domain.Firefighter) (domain.PressureCalculationModel, error) {
	if ff.CustomModelID != nil {
		m, ok := view.FindModel(*ff.CustomModelID)
		if !ok {
			return domain.PressureCalculationModel{}, domain.ErrNotFound{Entity: domain.EntityModel, ID: *ff.CustomModelID}
		}
		return m, nil
	}
	return ResolveDefaultModel(view)
}
