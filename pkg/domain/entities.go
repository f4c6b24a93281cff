// Package domain defines the persistent entities, value types, and rule
// evaluation primitives used by baboard.
package domain

import "time"

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityFirefighter identifies a firefighter record.
	EntityFirefighter EntityType = "firefighter"
	// EntityModel identifies a pressure calculation model record.
	EntityModel EntityType = "pressure_model"
	// EntityEntry identifies a live BA entry.
	EntityEntry EntityType = "ba_entry"
	// EntityHistoricalEntry identifies a closed BA session record.
	EntityHistoricalEntry EntityType = "historical_ba_entry"
)

// Pressure limits in bar. They hold for every entry regardless of the
// bounds declared by its governing model.
const (
	// SafetyFloor is the lowest pressure ever accepted as a reading.
	SafetyFloor = 120
	// PressureCeiling is the highest pressure ever accepted as a reading.
	PressureCeiling = 300
	// ClosureThreshold is the pressure at or below which a session must end.
	ClosureThreshold = 150
)

// Default model bounds applied when a model is created without them.
const (
	DefaultModelMinPressure = 150
	DefaultModelMaxPressure = 300
)

// EntryState is the lifecycle state of a BA entry.
type EntryState string

// BA entry lifecycle states. Closed is terminal.
const (
	EntryStateActive EntryState = "active"
	EntryStateClosed EntryState = "closed"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Firefighter is a crew member who can be assigned a BA entry.
type Firefighter struct {
	Base
	BadgeNumber   string  `json:"badge_number"`
	FirstName     string  `json:"first_name"`
	LastName      string  `json:"last_name"`
	Active        bool    `json:"active"`
	CustomModelID *string `json:"custom_model_id,omitempty"`
}

// FullName joins the first and last name.
func (f Firefighter) FullName() string {
	switch {
	case f.FirstName == "":
		return f.LastName
	case f.LastName == "":
		return f.FirstName
	}
	return f.FirstName + " " + f.LastName
}

// PressureCalculationModel holds the parameters of a linear consumption model
// mapping cylinder pressure (bar) to remaining minutes.
type PressureCalculationModel struct {
	Base
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	Slope         float64 `json:"slope"`
	Intercept     float64 `json:"intercept"`
	MinPressure   int     `json:"min_pressure"`
	MaxPressure   int     `json:"max_pressure"`
	IsDefault     bool    `json:"is_default"`
	FirefighterID *string `json:"firefighter_id,omitempty"`
}

// Clamp limits pressure to the model's declared bounds.
func (m PressureCalculationModel) Clamp(pressure int) int {
	if m.MaxPressure > 0 && pressure > m.MaxPressure {
		return m.MaxPressure
	}
	if pressure < m.MinPressure {
		return m.MinPressure
	}
	return pressure
}

// BAEntry is a live breathing apparatus session.
type BAEntry struct {
	Base
	FirefighterID   string    `json:"firefighter_id"`
	ModelID         string    `json:"calculation_model_id"`
	InitialPressure int       `json:"initial_pressure"`
	CurrentPressure int       `json:"current_pressure"`
	EntryTime       time.Time `json:"entry_time"`
	UpdatedTime     time.Time `json:"updated_time"`
	Location        string    `json:"location"`
	Remarks         string    `json:"remarks,omitempty"`
	EstimatedTime   int       `json:"estimated_time"`
	Active          bool      `json:"active"`
}

// State reports the lifecycle state derived from the Active flag.
func (e BAEntry) State() EntryState {
	if e.Active {
		return EntryStateActive
	}
	return EntryStateClosed
}

// HistoricalBAEntry is the immutable record of a closed session.
type HistoricalBAEntry struct {
	Base
	EntryID         string    `json:"entry_id"`
	FirefighterID   string    `json:"firefighter_id"`
	ModelID         string    `json:"calculation_model_id"`
	SessionDate     time.Time `json:"session_date"`
	InitialPressure int       `json:"initial_pressure"`
	FinalPressure   int       `json:"final_pressure"`
	Duration        int       `json:"duration"`
	Location        string    `json:"location"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before ChangePayload
	After  ChangePayload
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported mutations captured in the audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Warnings returns the non-blocking violations.
func (r Result) Warnings() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityWarn {
			out = append(out, v)
		}
	}
	return out
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return "transaction blocked by rules: " + v.Message
		}
	}
	return "transaction blocked by rules"
}
