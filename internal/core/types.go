package core

import "baboard/pkg/domain"

type (
	Firefighter     = domain.Firefighter
	Model           = domain.PressureCalculationModel
	Entry           = domain.BAEntry
	HistoricalEntry = domain.HistoricalBAEntry
	Change          = domain.Change
	Result          = domain.Result
	Violation       = domain.Violation
	Rule            = domain.Rule
	RulesEngine     = domain.RulesEngine
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
	PersistentStore = domain.PersistentStore
)
