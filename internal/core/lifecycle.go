package core

import (
	"fmt"
	"time"

	"baboard/internal/prediction"
	"baboard/pkg/domain"
)

// CreateEntryInput carries the caller-supplied fields of a new BA entry.
type CreateEntryInput struct {
	FirefighterID   string
	InitialPressure int
	Location        string
	Remarks         string
}

// Reading is a pressure reading submitted for an active entry.
//
// Acknowledged confirms a reading at or below the closure threshold up front.
// Correction allows a reading above the previous one, never above the
// initial pressure.
type Reading struct {
	Pressure     int
	Acknowledged bool
	Correction   bool
}

// PendingClosure describes a closure that will happen once confirmed. It pins
// the entry state it was planned against so a stale confirmation is rejected.
type PendingClosure struct {
	EntryID         string    `json:"entry_id"`
	Pressure        int       `json:"pressure"`
	Correction      bool      `json:"correction,omitempty"`
	CurrentPressure int       `json:"current_pressure"`
	UpdatedTime     time.Time `json:"updated_time"`
}

// PlanKind enumerates the outcomes of planning a reading.
type PlanKind string

// Reading plan kinds.
const (
	PlanUpdate  PlanKind = "update"
	PlanPending PlanKind = "pending_closure"
	PlanClose   PlanKind = "close"
)

// ReadingPlan is the result of PlanReading. For PlanUpdate and PlanClose,
// Entry holds the entry as it should be persisted; for PlanClose, Historical
// holds the record to create. For PlanPending nothing is to be written.
type ReadingPlan struct {
	Kind       PlanKind
	Entry      domain.BAEntry
	Historical *domain.HistoricalBAEntry
	Pending    *PendingClosure
}

// ReadingOutcome is returned to callers of RecordReading and ConfirmClosure.
type ReadingOutcome struct {
	Entry      domain.BAEntry
	Closed     bool
	Historical *domain.HistoricalBAEntry
	Pending    *PendingClosure
	Warnings   []domain.Violation
}

// ValidatePressure enforces the absolute safety floor and ceiling.
func ValidatePressure(field string, pressure int) error {
	if pressure < domain.SafetyFloor || pressure > domain.PressureCeiling {
		return domain.ValidationError{
			Field:      field,
			Value:      pressure,
			Constraint: fmt.Sprintf("must be between %d and %d bar", domain.SafetyFloor, domain.PressureCeiling),
		}
	}
	return nil
}

// NewEntry builds an active entry governed by model. It does not persist.
func NewEntry(in CreateEntryInput, model domain.PressureCalculationModel, now time.Time) (domain.BAEntry, error) {
	if err := ValidatePressure("initial_pressure", in.InitialPressure); err != nil {
		return domain.BAEntry{}, err
	}
	return domain.BAEntry{
		FirefighterID:   in.FirefighterID,
		ModelID:         model.ID,
		InitialPressure: in.InitialPressure,
		CurrentPressure: in.InitialPressure,
		EntryTime:       now,
		UpdatedTime:     now,
		Location:        in.Location,
		Remarks:         in.Remarks,
		EstimatedTime:   estimate(model, in.InitialPressure),
		Active:          true,
	}, nil
}

// PlanReading decides how reading applies to entry under its governing model
// without mutating anything. Validation failures leave no plan.
func PlanReading(entry domain.BAEntry, model domain.PressureCalculationModel, reading Reading, now time.Time) (ReadingPlan, error) {
	if !entry.Active {
		return ReadingPlan{}, domain.StateError{EntryID: entry.ID, State: entry.State(), Operation: "record reading on"}
	}
	p := reading.Pressure
	if err := ValidatePressure("pressure", p); err != nil {
		return ReadingPlan{}, err
	}
	if p > entry.InitialPressure {
		return ReadingPlan{}, domain.ValidationError{
			Field:      "pressure",
			Value:      p,
			Constraint: fmt.Sprintf("must not exceed initial pressure %d bar", entry.InitialPressure),
		}
	}
	if p > entry.CurrentPressure && !reading.Correction {
		return ReadingPlan{}, domain.ValidationError{
			Field:      "pressure",
			Value:      p,
			Constraint: fmt.Sprintf("must not exceed previous reading %d bar unless marked as a correction", entry.CurrentPressure),
		}
	}

	if p <= domain.ClosureThreshold && !reading.Acknowledged {
		return ReadingPlan{
			Kind: PlanPending,
			Pending: &PendingClosure{
				EntryID:         entry.ID,
				Pressure:        p,
				Correction:      reading.Correction,
				CurrentPressure: entry.CurrentPressure,
				UpdatedTime:     entry.UpdatedTime,
			},
		}, nil
	}

	next := entry
	next.CurrentPressure = p
	next.UpdatedTime = now
	next.EstimatedTime = estimate(model, p)
	if p > domain.ClosureThreshold {
		return ReadingPlan{Kind: PlanUpdate, Entry: next}, nil
	}

	next.Active = false
	historical := domain.HistoricalBAEntry{
		EntryID:         entry.ID,
		FirefighterID:   entry.FirefighterID,
		ModelID:         entry.ModelID,
		SessionDate:     entry.EntryTime,
		InitialPressure: entry.InitialPressure,
		FinalPressure:   p,
		Duration:        wholeMinutes(next.UpdatedTime.Sub(entry.EntryTime)),
		Location:        entry.Location,
	}
	return ReadingPlan{Kind: PlanClose, Entry: next, Historical: &historical}, nil
}

// PlanConfirmation re-plans a pending closure against the entry's current
// state. It fails with StateError when the entry moved on since the pending
// descriptor was issued.
func PlanConfirmation(entry domain.BAEntry, model domain.PressureCalculationModel, pending PendingClosure, now time.Time) (ReadingPlan, error) {
	if !entry.Active {
		return ReadingPlan{}, domain.StateError{EntryID: entry.ID, State: entry.State(), Operation: "confirm closure of"}
	}
	if entry.CurrentPressure != pending.CurrentPressure || !entry.UpdatedTime.Equal(pending.UpdatedTime) {
		return ReadingPlan{}, domain.StateError{EntryID: entry.ID, State: entry.State(), Operation: "confirm stale closure of"}
	}
	if pending.Pressure > domain.ClosureThreshold {
		return ReadingPlan{}, domain.ValidationError{
			Field:      "pressure",
			Value:      pending.Pressure,
			Constraint: fmt.Sprintf("closure requires a reading at or below %d bar", domain.ClosureThreshold),
		}
	}
	return PlanReading(entry, model, Reading{Pressure: pending.Pressure, Acknowledged: true, Correction: pending.Correction}, now)
}

// estimate clamps pressure into the model's bounds before evaluating it.
func estimate(model domain.PressureCalculationModel, pressure int) int {
	return prediction.EstimateTime(model, model.Clamp(pressure))
}

func wholeMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(d / time.Minute)
}
