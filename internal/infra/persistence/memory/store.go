// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"baboard/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Firefighter aliases domain.Firefighter.
	Firefighter = domain.Firefighter
	// Model aliases domain.PressureCalculationModel.
	Model = domain.PressureCalculationModel
	// Entry aliases domain.BAEntry.
	Entry = domain.BAEntry
	// HistoricalEntry aliases domain.HistoricalBAEntry.
	HistoricalEntry = domain.HistoricalBAEntry
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	firefighters map[string]Firefighter
	models       map[string]Model
	entries      map[string]Entry
	historical   map[string]HistoricalEntry
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Firefighters map[string]Firefighter     `json:"firefighters"`
	Models       map[string]Model           `json:"models"`
	Entries      map[string]Entry           `json:"entries"`
	Historical   map[string]HistoricalEntry `json:"historical"`
}

func newMemoryState() memoryState {
	return memoryState{
		firefighters: make(map[string]Firefighter),
		models:       make(map[string]Model),
		entries:      make(map[string]Entry),
		historical:   make(map[string]HistoricalEntry),
	}
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		firefighters: make(map[string]Firefighter, len(s.firefighters)),
		models:       make(map[string]Model, len(s.models)),
		entries:      make(map[string]Entry, len(s.entries)),
		historical:   make(map[string]HistoricalEntry, len(s.historical)),
	}
	for k, v := range s.firefighters {
		out.firefighters[k] = cloneFirefighter(v)
	}
	for k, v := range s.models {
		out.models[k] = cloneModel(v)
	}
	for k, v := range s.entries {
		out.entries[k] = v
	}
	for k, v := range s.historical {
		out.historical[k] = v
	}
	return out
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	c := state.clone()
	return Snapshot{
		Firefighters: c.firefighters,
		Models:       c.models,
		Entries:      c.entries,
		Historical:   c.historical,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	return memoryState{
		firefighters: s.Firefighters,
		models:       s.Models,
		entries:      s.Entries,
		historical:   s.Historical,
	}.clone()
}

// migrateSnapshot fills missing buckets and drops references that no longer
// resolve so a partially written snapshot still loads.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Firefighters == nil {
		snapshot.Firefighters = map[string]Firefighter{}
	}
	if snapshot.Models == nil {
		snapshot.Models = map[string]Model{}
	}
	if snapshot.Entries == nil {
		snapshot.Entries = map[string]Entry{}
	}
	if snapshot.Historical == nil {
		snapshot.Historical = map[string]HistoricalEntry{}
	}
	for id, ff := range snapshot.Firefighters {
		if ff.CustomModelID == nil {
			continue
		}
		if _, ok := snapshot.Models[*ff.CustomModelID]; !ok {
			ff.CustomModelID = nil
			snapshot.Firefighters[id] = ff
		}
	}
	for id, m := range snapshot.Models {
		if m.MinPressure == 0 && m.MaxPressure == 0 {
			m.MinPressure = domain.DefaultModelMinPressure
			m.MaxPressure = domain.DefaultModelMaxPressure
			snapshot.Models[id] = m
		}
	}
	return snapshot
}

func cloneFirefighter(f Firefighter) Firefighter {
	if f.CustomModelID != nil {
		id := *f.CustomModelID
		f.CustomModelID = &id
	}
	return f
}

func cloneModel(m Model) Model {
	if m.FirefighterID != nil {
		id := *m.FirefighterID
		m.FirefighterID = &id
	}
	return m
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// SetNowFunc overrides the time source used to stamp record timestamps.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

func (v transactionView) ListFirefighters() []Firefighter {
	out := make([]Firefighter, 0, len(v.state.firefighters))
	for _, f := range v.state.firefighters {
		out = append(out, cloneFirefighter(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BadgeNumber < out[j].BadgeNumber })
	return out
}

func (v transactionView) ListModels() []Model {
	out := make([]Model, 0, len(v.state.models))
	for _, m := range v.state.models {
		out = append(out, cloneModel(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v transactionView) ListEntries() []Entry {
	out := make([]Entry, 0, len(v.state.entries))
	for _, e := range v.state.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].EntryTime.Before(out[j].EntryTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v transactionView) ListHistoricalEntries() []HistoricalEntry {
	out := make([]HistoricalEntry, 0, len(v.state.historical))
	for _, h := range v.state.historical {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SessionDate.Equal(out[j].SessionDate) {
			return out[i].SessionDate.Before(out[j].SessionDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v transactionView) FindFirefighter(id string) (Firefighter, bool) {
	f, ok := v.state.firefighters[id]
	if !ok {
		return Firefighter{}, false
	}
	return cloneFirefighter(f), true
}

func (v transactionView) FindModel(id string) (Model, bool) {
	m, ok := v.state.models[id]
	if !ok {
		return Model{}, false
	}
	return cloneModel(m), true
}

func (v transactionView) FindEntry(id string) (Entry, bool) {
	e, ok := v.state.entries[id]
	return e, ok
}

// CommitFunc receives the prospective state of a transaction before it
// replaces the live state. A non-nil error aborts the transaction.
type CommitFunc func(ctx context.Context, snapshot Snapshot) error

// RunInTransaction executes fn within a transactional copy of the store state.
// The copy replaces the live state only when fn succeeds and no rule blocks.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	return s.RunInTransactionWithCommit(ctx, fn, nil)
}

// RunInTransactionWithCommit behaves like RunInTransaction but hands the
// prospective state to commit while the store lock is held. The live state is
// swapped only after commit succeeds, so durable backends never diverge from
// memory.
func (s *Store) RunInTransactionWithCommit(ctx context.Context, fn func(tx Transaction) error, commit CommitFunc) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if commit != nil {
		if err := commit(ctx, snapshotFromMemoryState(tx.state)); err != nil {
			return result, err
		}
	}
	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	return fn(newTransactionView(&snapshot))
}

// GetEntry returns a BA entry by id.
func (s *Store) GetEntry(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.state.entries[id]
	return e, ok
}

// ListFirefighters returns every firefighter ordered by badge number.
func (s *Store) ListFirefighters() []Firefighter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionView{state: &s.state}.ListFirefighters()
}

// ListModels returns every calculation model in creation order.
func (s *Store) ListModels() []Model {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionView{state: &s.state}.ListModels()
}

// ListEntries returns every BA entry, active or closed, ordered by entry time.
func (s *Store) ListEntries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionView{state: &s.state}.ListEntries()
}

// ListHistoricalEntries returns closed session records ordered by session date.
func (s *Store) ListHistoricalEntries() []HistoricalEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionView{state: &s.state}.ListHistoricalEntries()
}

func (tx *transaction) recordChange(entity domain.EntityType, action domain.Action, before, after any) {
	change := Change{Entity: entity, Action: action}
	if before != nil {
		payload, err := domain.NewChangePayloadFromValue(before)
		if err != nil {
			panic(fmt.Errorf("memory store encode %s before: %w", entity, err))
		}
		change.Before = payload
	}
	if after != nil {
		payload, err := domain.NewChangePayloadFromValue(after)
		if err != nil {
			panic(fmt.Errorf("memory store encode %s after: %w", entity, err))
		}
		change.After = payload
	}
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

func (tx *transaction) FindFirefighter(id string) (Firefighter, bool) {
	return newTransactionView(&tx.state).FindFirefighter(id)
}

func (tx *transaction) FindModel(id string) (Model, bool) {
	return newTransactionView(&tx.state).FindModel(id)
}

func (tx *transaction) FindEntry(id string) (Entry, bool) {
	return newTransactionView(&tx.state).FindEntry(id)
}

// CreateFirefighter stores a new firefighter. Badge numbers are unique.
func (tx *transaction) CreateFirefighter(f Firefighter) (Firefighter, error) {
	if f.ID == "" {
		f.ID = tx.store.newID()
	}
	if _, exists := tx.state.firefighters[f.ID]; exists {
		return Firefighter{}, fmt.Errorf("firefighter %q already exists", f.ID)
	}
	for _, existing := range tx.state.firefighters {
		if f.BadgeNumber != "" && existing.BadgeNumber == f.BadgeNumber {
			return Firefighter{}, fmt.Errorf("badge number %q already assigned to firefighter %q", f.BadgeNumber, existing.ID)
		}
	}
	if f.CustomModelID != nil {
		if _, ok := tx.state.models[*f.CustomModelID]; !ok {
			return Firefighter{}, domain.ErrNotFound{Entity: domain.EntityModel, ID: *f.CustomModelID}
		}
	}
	f.CreatedAt = tx.now
	f.UpdatedAt = tx.now
	tx.state.firefighters[f.ID] = cloneFirefighter(f)
	tx.recordChange(domain.EntityFirefighter, domain.ActionCreate, nil, f)
	return cloneFirefighter(f), nil
}

// UpdateFirefighter mutates a firefighter using the provided mutator function.
func (tx *transaction) UpdateFirefighter(id string, mutator func(*Firefighter) error) (Firefighter, error) {
	current, ok := tx.state.firefighters[id]
	if !ok {
		return Firefighter{}, domain.ErrNotFound{Entity: domain.EntityFirefighter, ID: id}
	}
	before := cloneFirefighter(current)
	if err := mutator(&current); err != nil {
		return Firefighter{}, err
	}
	if current.CustomModelID != nil {
		if _, ok := tx.state.models[*current.CustomModelID]; !ok {
			return Firefighter{}, domain.ErrNotFound{Entity: domain.EntityModel, ID: *current.CustomModelID}
		}
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.firefighters[id] = cloneFirefighter(current)
	tx.recordChange(domain.EntityFirefighter, domain.ActionUpdate, before, current)
	return cloneFirefighter(current), nil
}

// CreateModel stores a new calculation model. Models are never updated.
func (tx *transaction) CreateModel(m Model) (Model, error) {
	if m.ID == "" {
		m.ID = tx.store.newID()
	}
	if _, exists := tx.state.models[m.ID]; exists {
		return Model{}, fmt.Errorf("pressure model %q already exists", m.ID)
	}
	if m.MinPressure == 0 && m.MaxPressure == 0 {
		m.MinPressure = domain.DefaultModelMinPressure
		m.MaxPressure = domain.DefaultModelMaxPressure
	}
	if m.MinPressure > m.MaxPressure {
		return Model{}, fmt.Errorf("pressure model %q: min pressure %d exceeds max pressure %d", m.Name, m.MinPressure, m.MaxPressure)
	}
	m.CreatedAt = tx.now
	m.UpdatedAt = tx.now
	tx.state.models[m.ID] = cloneModel(m)
	tx.recordChange(domain.EntityModel, domain.ActionCreate, nil, m)
	return cloneModel(m), nil
}

// CreateEntry stores a new BA entry.
func (tx *transaction) CreateEntry(e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = tx.store.newID()
	}
	if _, exists := tx.state.entries[e.ID]; exists {
		return Entry{}, fmt.Errorf("ba entry %q already exists", e.ID)
	}
	if _, ok := tx.state.firefighters[e.FirefighterID]; !ok {
		return Entry{}, domain.ErrNotFound{Entity: domain.EntityFirefighter, ID: e.FirefighterID}
	}
	if _, ok := tx.state.models[e.ModelID]; !ok {
		return Entry{}, domain.ErrNotFound{Entity: domain.EntityModel, ID: e.ModelID}
	}
	e.CreatedAt = tx.now
	e.UpdatedAt = tx.now
	tx.state.entries[e.ID] = e
	tx.recordChange(domain.EntityEntry, domain.ActionCreate, nil, e)
	return e, nil
}

// UpdateEntry mutates a BA entry. Identity, owner and governing model are fixed.
func (tx *transaction) UpdateEntry(id string, mutator func(*Entry) error) (Entry, error) {
	current, ok := tx.state.entries[id]
	if !ok {
		return Entry{}, domain.ErrNotFound{Entity: domain.EntityEntry, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return Entry{}, err
	}
	current.ID = id
	current.FirefighterID = before.FirefighterID
	current.ModelID = before.ModelID
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.entries[id] = current
	tx.recordChange(domain.EntityEntry, domain.ActionUpdate, before, current)
	return current, nil
}

// CreateHistoricalEntry stores the record of a closed session.
func (tx *transaction) CreateHistoricalEntry(h HistoricalEntry) (HistoricalEntry, error) {
	if h.ID == "" {
		h.ID = tx.store.newID()
	}
	if _, exists := tx.state.historical[h.ID]; exists {
		return HistoricalEntry{}, fmt.Errorf("historical entry %q already exists", h.ID)
	}
	if _, ok := tx.state.entries[h.EntryID]; !ok {
		return HistoricalEntry{}, domain.ErrNotFound{Entity: domain.EntityEntry, ID: h.EntryID}
	}
	h.CreatedAt = tx.now
	h.UpdatedAt = tx.now
	tx.state.historical[h.ID] = h
	tx.recordChange(domain.EntityHistoricalEntry, domain.ActionCreate, nil, h)
	return h, nil
}
