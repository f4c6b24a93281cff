package core

import "baboard/pkg/domain"

// NewRulesEngine constructs an empty engine.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(LifecycleTransitionRule())
	engine.Register(PressureBoundsRule())
	engine.Register(DefaultModelCardinalityRule())
	engine.Register(HistoricalUniquenessRule())
	engine.Register(HighConsumptionRule())
	return engine
}
