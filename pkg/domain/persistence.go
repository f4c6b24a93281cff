package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateFirefighter(Firefighter) (Firefighter, error)
	UpdateFirefighter(id string, mutator func(*Firefighter) error) (Firefighter, error)
	CreateModel(PressureCalculationModel) (PressureCalculationModel, error)
	CreateEntry(BAEntry) (BAEntry, error)
	UpdateEntry(id string, mutator func(*BAEntry) error) (BAEntry, error)
	CreateHistoricalEntry(HistoricalBAEntry) (HistoricalBAEntry, error)
	FindFirefighter(id string) (Firefighter, bool)
	FindModel(id string) (PressureCalculationModel, bool)
	FindEntry(id string) (BAEntry, bool)
}

// TransactionView provides read-only access to snapshot data for rules and lookups.
type TransactionView interface {
	ListFirefighters() []Firefighter
	ListModels() []PressureCalculationModel
	ListEntries() []BAEntry
	ListHistoricalEntries() []HistoricalBAEntry
	FindFirefighter(id string) (Firefighter, bool)
	FindModel(id string) (PressureCalculationModel, bool)
	FindEntry(id string) (BAEntry, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetEntry(id string) (BAEntry, bool)
	ListFirefighters() []Firefighter
	ListModels() []PressureCalculationModel
	ListEntries() []BAEntry
	ListHistoricalEntries() []HistoricalBAEntry
}
