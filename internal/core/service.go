package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"baboard/internal/infra/persistence/memory"
	"baboard/internal/prediction"
	"baboard/pkg/domain"
)

// Service exposes the transactional BA board operations: firefighter and
// model registry, entry lifecycle transitions, and predictions.
type Service struct {
	store    PersistentStore
	logger   Logger
	clock    Clock
	audit    AuditRecorder
	metrics  MetricsRecorder
	tracer   Tracer
	archiver HistoryArchiver
	locks    entryLocks
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source used for entry timestamps.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithAuditRecorder sets the audit sink.
func WithAuditRecorder(recorder AuditRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.audit = recorder
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithTracer sets the tracer wrapping each operation.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithArchiver sets the sink that receives historical records after closure.
func WithArchiver(archiver HistoryArchiver) Option {
	return func(s *Service) {
		if archiver != nil {
			s.archiver = archiver
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:   store,
		logger:  noopLogger{},
		clock:   ClockFunc(func() time.Time { return time.Now().UTC() }),
		audit:   noopAuditRecorder{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service and in-memory store with the given rules engine.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

// run wraps an operation with tracing, metrics, audit and logging.
func (s *Service) run(ctx context.Context, op string, fn func(context.Context) (string, Result, error)) (Result, error) {
	ctx, span := s.tracer.Start(ctx, op)
	started := time.Now()
	entityID, res, err := fn(ctx)
	elapsed := time.Since(started)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, elapsed)
	if err != nil {
		s.recordAuditError(ctx, op, entityID, elapsed, err)
		s.logger.Error("operation failed", "operation", op, "entity_id", entityID, "error", err)
		return res, err
	}
	s.recordAuditSuccess(ctx, op, entityID, elapsed)
	for _, v := range res.Warnings() {
		s.logger.Warn("rule warning", "operation", op, "rule", v.Rule, "entity_id", v.EntityID, "message", v.Message)
	}
	s.logger.Debug("operation completed", "operation", op, "entity_id", entityID, "duration", elapsed)
	return res, nil
}

func (s *Service) recordAuditSuccess(ctx context.Context, op, entityID string, duration time.Duration) {
	s.recordAudit(ctx, op, entityID, duration, AuditStatusSuccess, "")
}

func (s *Service) recordAuditError(ctx context.Context, op, entityID string, duration time.Duration, err error) {
	s.recordAudit(ctx, op, entityID, duration, AuditStatusError, err.Error())
}

func (s *Service) recordAudit(ctx context.Context, op, entityID string, duration time.Duration, status AuditStatus, errMsg string) {
	meta, ok := operationMetadata[op]
	if !ok {
		return
	}
	s.audit.Record(ctx, AuditEntry{
		Operation: op,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		Status:    status,
		Error:     errMsg,
		Duration:  duration,
		Timestamp: s.now(),
	})
}

// CreateFirefighter registers a firefighter. Badge numbers must be unique.
func (s *Service) CreateFirefighter(ctx context.Context, ff Firefighter) (Firefighter, Result, error) {
	var created Firefighter
	res, err := s.run(ctx, "create_firefighter", func(ctx context.Context) (string, Result, error) {
		if strings.TrimSpace(ff.BadgeNumber) == "" {
			return "", Result{}, fmt.Errorf("badge number is required")
		}
		res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			created, err = tx.CreateFirefighter(ff)
			return err
		})
		return created.ID, res, err
	})
	return created, res, err
}

// ListFirefighters returns firefighters ordered by badge number.
func (s *Service) ListFirefighters(ctx context.Context, activeOnly bool) ([]Firefighter, error) {
	var out []Firefighter
	err := s.store.View(ctx, func(view TransactionView) error {
		for _, ff := range view.ListFirefighters() {
			if activeOnly && !ff.Active {
				continue
			}
			out = append(out, ff)
		}
		return nil
	})
	return out, err
}

// CreateModel stores a new pressure calculation model.
func (s *Service) CreateModel(ctx context.Context, model Model) (Model, Result, error) {
	var created Model
	res, err := s.run(ctx, "create_model", func(ctx context.Context) (string, Result, error) {
		res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			created, err = tx.CreateModel(model)
			return err
		})
		return created.ID, res, err
	})
	return created, res, err
}

// ListModels returns every pressure calculation model in creation order.
func (s *Service) ListModels(ctx context.Context) ([]Model, error) {
	var out []Model
	err := s.store.View(ctx, func(view TransactionView) error {
		out = view.ListModels()
		return nil
	})
	return out, err
}

// EnsureDefaultModel returns the default model, creating the standard linear
// model when none exists. The boolean reports whether it was created.
func (s *Service) EnsureDefaultModel(ctx context.Context) (Model, bool, error) {
	var model Model
	var created bool
	_, err := s.run(ctx, "ensure_default_model", func(ctx context.Context) (string, Result, error) {
		res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			existing, err := ResolveDefaultModel(tx.Snapshot())
			if err == nil {
				model = existing
				return nil
			}
			var cfgErr domain.ConfigurationError
			if !errors.As(err, &cfgErr) || hasDefault(tx.Snapshot()) {
				return err
			}
			model, err = tx.CreateModel(prediction.DefaultModel())
			created = err == nil
			return err
		})
		return model.ID, res, err
	})
	return model, created, err
}

func hasDefault(view TransactionView) bool {
	for _, m := range view.ListModels() {
		if m.IsDefault {
			return true
		}
	}
	return false
}

// AssignCustomModel sets or, when modelID is nil, clears the firefighter's
// custom model. Existing entries keep the model they were created under.
func (s *Service) AssignCustomModel(ctx context.Context, firefighterID string, modelID *string) (Firefighter, Result, error) {
	var updated Firefighter
	res, err := s.run(ctx, "assign_custom_model", func(ctx context.Context) (string, Result, error) {
		res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			updated, err = tx.UpdateFirefighter(firefighterID, func(f *Firefighter) error {
				f.CustomModelID = modelID
				return nil
			})
			return err
		})
		return firefighterID, res, err
	})
	return updated, res, err
}

// CreateEntry starts an active BA entry for a firefighter, snapshotting the
// governing model and computing the initial estimate.
func (s *Service) CreateEntry(ctx context.Context, in CreateEntryInput) (Entry, Result, error) {
	var created Entry
	res, err := s.run(ctx, "create_entry", func(ctx context.Context) (string, Result, error) {
		if err := ValidatePressure("initial_pressure", in.InitialPressure); err != nil {
			return "", Result{}, err
		}
		res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			ff, ok := tx.FindFirefighter(in.FirefighterID)
			if !ok {
				return domain.ErrNotFound{Entity: domain.EntityFirefighter, ID: in.FirefighterID}
			}
			model, err := resolveGoverningModel(tx.Snapshot(), ff)
			if err != nil {
				return err
			}
			entry, err := NewEntry(in, model, s.now())
			if err != nil {
				return err
			}
			created, err = tx.CreateEntry(entry)
			return err
		})
		return created.ID, res, err
	})
	return created, res, err
}

// RecordReading applies a pressure reading to an active entry. Readings at or
// below the closure threshold that are not acknowledged return a pending
// closure and change nothing.
func (s *Service) RecordReading(ctx context.Context, entryID string, reading Reading) (ReadingOutcome, error) {
	unlock := s.locks.lock(entryID)
	defer unlock()

	var outcome ReadingOutcome
	res, err := s.run(ctx, "record_reading", func(ctx context.Context) (string, Result, error) {
		res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			entry, model, err := loadEntry(tx, entryID)
			if err != nil {
				return err
			}
			plan, err := PlanReading(entry, model, reading, s.now())
			if err != nil {
				return err
			}
			outcome, err = applyPlan(tx, entry, plan)
			return err
		})
		return entryID, res, err
	})
	if err != nil {
		return ReadingOutcome{}, err
	}
	outcome.Warnings = res.Warnings()
	s.archive(ctx, outcome)
	return outcome, nil
}

// ConfirmClosure performs a closure previously reported as pending. It fails
// with StateError when the entry is closed or changed since then.
func (s *Service) ConfirmClosure(ctx context.Context, pending PendingClosure) (ReadingOutcome, error) {
	unlock := s.locks.lock(pending.EntryID)
	defer unlock()

	var outcome ReadingOutcome
	res, err := s.run(ctx, "confirm_closure", func(ctx context.Context) (string, Result, error) {
		res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			entry, model, err := loadEntry(tx, pending.EntryID)
			if err != nil {
				return err
			}
			plan, err := PlanConfirmation(entry, model, pending, s.now())
			if err != nil {
				return err
			}
			outcome, err = applyPlan(tx, entry, plan)
			return err
		})
		return pending.EntryID, res, err
	})
	if err != nil {
		return ReadingOutcome{}, err
	}
	outcome.Warnings = res.Warnings()
	s.archive(ctx, outcome)
	return outcome, nil
}

func loadEntry(tx Transaction, entryID string) (Entry, Model, error) {
	entry, ok := tx.FindEntry(entryID)
	if !ok {
		return Entry{}, Model{}, domain.ErrNotFound{Entity: domain.EntityEntry, ID: entryID}
	}
	model, ok := tx.FindModel(entry.ModelID)
	if !ok {
		return Entry{}, Model{}, domain.ErrNotFound{Entity: domain.EntityModel, ID: entry.ModelID}
	}
	return entry, model, nil
}

func applyPlan(tx Transaction, entry Entry, plan ReadingPlan) (ReadingOutcome, error) {
	if plan.Kind == PlanPending {
		return ReadingOutcome{Entry: entry, Pending: plan.Pending}, nil
	}
	updated, err := tx.UpdateEntry(entry.ID, func(e *Entry) error {
		*e = plan.Entry
		return nil
	})
	if err != nil {
		return ReadingOutcome{}, err
	}
	outcome := ReadingOutcome{Entry: updated}
	if plan.Kind == PlanClose {
		historical, err := tx.CreateHistoricalEntry(*plan.Historical)
		if err != nil {
			return ReadingOutcome{}, err
		}
		outcome.Closed = true
		outcome.Historical = &historical
	}
	return outcome, nil
}

func (s *Service) archive(ctx context.Context, outcome ReadingOutcome) {
	if s.archiver == nil || outcome.Historical == nil {
		return
	}
	if err := s.archiver.ArchiveHistorical(ctx, *outcome.Historical); err != nil {
		s.logger.Warn("archive historical entry failed", "entry_id", outcome.Historical.EntryID, "error", err)
	}
}

// EntryDetails carries optional location and remarks updates.
type EntryDetails struct {
	Location *string
	Remarks  *string
}

// UpdateEntryDetails changes the location or remarks of an active entry.
func (s *Service) UpdateEntryDetails(ctx context.Context, entryID string, details EntryDetails) (Entry, Result, error) {
	unlock := s.locks.lock(entryID)
	defer unlock()

	var updated Entry
	res, err := s.run(ctx, "update_entry_details", func(ctx context.Context) (string, Result, error) {
		res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			entry, ok := tx.FindEntry(entryID)
			if !ok {
				return domain.ErrNotFound{Entity: domain.EntityEntry, ID: entryID}
			}
			if !entry.Active {
				return domain.StateError{EntryID: entryID, State: entry.State(), Operation: "update"}
			}
			var err error
			updated, err = tx.UpdateEntry(entryID, func(e *Entry) error {
				if details.Location != nil {
					e.Location = *details.Location
				}
				if details.Remarks != nil {
					e.Remarks = *details.Remarks
				}
				return nil
			})
			return err
		})
		return entryID, res, err
	})
	return updated, res, err
}

// GetEntry returns a BA entry by id.
func (s *Service) GetEntry(ctx context.Context, entryID string) (Entry, error) {
	var entry Entry
	err := s.store.View(ctx, func(view TransactionView) error {
		var ok bool
		entry, ok = view.FindEntry(entryID)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityEntry, ID: entryID}
		}
		return nil
	})
	return entry, err
}

// ListEntries returns entries ordered by entry time, only active ones when
// activeOnly is set.
func (s *Service) ListEntries(ctx context.Context, activeOnly bool) ([]Entry, error) {
	var out []Entry
	err := s.store.View(ctx, func(view TransactionView) error {
		for _, e := range view.ListEntries() {
			if activeOnly && !e.Active {
				continue
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// ListHistorical returns historical records, filtered to one firefighter when
// firefighterID is non-empty.
func (s *Service) ListHistorical(ctx context.Context, firefighterID string) ([]HistoricalEntry, error) {
	var out []HistoricalEntry
	err := s.store.View(ctx, func(view TransactionView) error {
		for _, h := range view.ListHistoricalEntries() {
			if firefighterID != "" && h.FirefighterID != firefighterID {
				continue
			}
			out = append(out, h)
		}
		return nil
	})
	return out, err
}

// EstimateForFirefighter estimates remaining time at pressure under the
// default model and, when assigned, the firefighter's custom model.
func (s *Service) EstimateForFirefighter(ctx context.Context, firefighterID string, pressure int) (prediction.Estimates, error) {
	var out prediction.Estimates
	err := s.store.View(ctx, func(view TransactionView) error {
		ff, ok := view.FindFirefighter(firefighterID)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityFirefighter, ID: firefighterID}
		}
		def, err := ResolveDefaultModel(view)
		if err != nil {
			return err
		}
		var custom *Model
		if ff.CustomModelID != nil {
			m, ok := view.FindModel(*ff.CustomModelID)
			if !ok {
				return domain.ErrNotFound{Entity: domain.EntityModel, ID: *ff.CustomModelID}
			}
			custom = &m
		}
		out = prediction.EstimateBoth(def, custom, pressure)
		return nil
	})
	return out, err
}

// EntryTrend computes the consumption trend of an entry against its governing
// model. The boolean is false when no time has elapsed since entry.
func (s *Service) EntryTrend(ctx context.Context, entryID string) (prediction.Trend, bool, error) {
	var trend prediction.Trend
	var ok bool
	err := s.store.View(ctx, func(view TransactionView) error {
		entry, found := view.FindEntry(entryID)
		if !found {
			return domain.ErrNotFound{Entity: domain.EntityEntry, ID: entryID}
		}
		model, found := view.FindModel(entry.ModelID)
		if !found {
			return domain.ErrNotFound{Entity: domain.EntityModel, ID: entry.ModelID}
		}
		trend, ok = prediction.ConsumptionTrend(entry, model)
		return nil
	})
	return trend, ok, err
}

// VerifyModels reports predictions at full, mid and threshold pressure for
// every stored model.
func (s *Service) VerifyModels(ctx context.Context) ([]prediction.Report, error) {
	models, err := s.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]prediction.Report, 0, len(models))
	for _, m := range models {
		out = append(out, prediction.Verify(m))
	}
	return out, nil
}

// entryLocks serializes transitions per entry id.
type entryLocks struct {
	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (l *entryLocks) lock(id string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*entryLock)
	}
	el, ok := l.locks[id]
	if !ok {
		el = &entryLock{}
		l.locks[id] = el
	}
	el.refs++
	l.mu.Unlock()

	el.mu.Lock()
	return func() {
		el.mu.Unlock()
		l.mu.Lock()
		el.refs--
		if el.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
