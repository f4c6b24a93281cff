package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"baboard/pkg/domain"
)

func seed(t *testing.T, store *Store) (Firefighter, Model) {
	t.Helper()
	var ff Firefighter
	var model Model
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		model, err = tx.CreateModel(Model{Name: "Default", Slope: 0.14, Intercept: -4, IsDefault: true})
		if err != nil {
			return err
		}
		ff, err = tx.CreateFirefighter(Firefighter{BadgeNumber: "FF001", FirstName: "Test", LastName: "One", Active: true})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return ff, model
}

func TestStoreRunInTransactionAndSnapshots(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	ff, model := seed(t, store)
	if model.MinPressure != domain.DefaultModelMinPressure || model.MaxPressure != domain.DefaultModelMaxPressure {
		t.Fatalf("expected default bounds, got %d..%d", model.MinPressure, model.MaxPressure)
	}
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, ok := tx.FindEntry("missing"); ok {
			t.Fatalf("expected missing entry lookup")
		}
		created, err := tx.CreateEntry(Entry{FirefighterID: ff.ID, ModelID: model.ID, InitialPressure: 280, CurrentPressure: 280, Active: true})
		if err != nil {
			return err
		}
		if created.ID == "" {
			t.Fatalf("expected generated ID")
		}
		if len(tx.Snapshot().ListEntries()) != 1 {
			t.Fatalf("snapshot mismatch")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run transaction: %v", err)
	}
	if len(store.ListEntries()) != 1 {
		t.Fatalf("expected persisted entry")
	}
	snapshot := store.ExportState()
	store.ImportState(Snapshot{})
	if len(store.ListEntries()) != 0 || len(store.ListModels()) != 0 {
		t.Fatalf("expected cleared state")
	}
	store.ImportState(snapshot)
	if len(store.ListEntries()) != 1 || len(store.ListFirefighters()) != 1 {
		t.Fatalf("expected restored state")
	}
	if store.RulesEngine() == nil {
		t.Fatalf("expected rules engine")
	}
}

func TestStoreRollsBackOnError(t *testing.T) {
	store := NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateFirefighter(Firefighter{BadgeNumber: "FF009"}); err != nil {
			return err
		}
		return fmt.Errorf("boom")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(store.ListFirefighters()) != 0 {
		t.Fatalf("expected rollback of partial writes")
	}
}

func TestStoreRuleViolation(t *testing.T) {
	store := NewStore(domain.NewRulesEngine())
	store.RulesEngine().Register(blockingRule{})
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateFirefighter(Firefighter{BadgeNumber: "FF002"})
		return e
	})
	var rv domain.RuleViolationError
	if !errors.As(err, &rv) {
		t.Fatalf("expected rule violation error, got %v", err)
	}
	if len(store.ListFirefighters()) != 0 {
		t.Fatalf("blocked transaction must not commit")
	}
}

type blockingRule struct{}

func (blockingRule) Name() string { return "block" }

func (blockingRule) Evaluate(context.Context, domain.TransactionView, []domain.Change) (domain.Result, error) {
	return domain.Result{Violations: []domain.Violation{{Rule: "block", Severity: domain.SeverityBlock, Message: "no"}}}, nil
}

func TestCreateFirefighterRejectsDuplicateBadge(t *testing.T) {
	store := NewStore(nil)
	seed(t, store)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateFirefighter(Firefighter{BadgeNumber: "FF001"})
		return e
	})
	if err == nil {
		t.Fatalf("expected duplicate badge error")
	}
}

func TestUpdateEntryKeepsIdentityFields(t *testing.T) {
	store := NewStore(nil)
	ff, model := seed(t, store)
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.SetNowFunc(func() time.Time { return fixed })
	var entry Entry
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		entry, err = tx.CreateEntry(Entry{FirefighterID: ff.ID, ModelID: model.ID, InitialPressure: 280, CurrentPressure: 280, Active: true})
		if err != nil {
			return err
		}
		_, err = tx.UpdateEntry(entry.ID, func(e *Entry) error {
			e.ModelID = "other"
			e.FirefighterID = "other"
			e.CurrentPressure = 250
			return nil
		})
		return err
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	got, ok := store.GetEntry(entry.ID)
	if !ok {
		t.Fatalf("entry missing")
	}
	if got.ModelID != model.ID || got.FirefighterID != ff.ID {
		t.Fatalf("identity fields changed: %+v", got)
	}
	if got.CurrentPressure != 250 || !got.UpdatedAt.Equal(fixed) {
		t.Fatalf("expected pressure update stamped at fixed time: %+v", got)
	}
}

func TestReferencesMustResolve(t *testing.T) {
	store := NewStore(nil)
	ff, _ := seed(t, store)
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, e := tx.CreateEntry(Entry{FirefighterID: ff.ID, ModelID: "missing"})
		return e
	})
	var nf domain.ErrNotFound
	if !errors.As(err, &nf) || nf.Entity != domain.EntityModel {
		t.Fatalf("expected missing model error, got %v", err)
	}
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		missing := "missing"
		_, e := tx.UpdateFirefighter(ff.ID, func(f *Firefighter) error {
			f.CustomModelID = &missing
			return nil
		})
		return e
	})
	if !errors.As(err, &nf) {
		t.Fatalf("expected missing custom model error, got %v", err)
	}
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, e := tx.CreateHistoricalEntry(HistoricalEntry{EntryID: "missing"})
		return e
	})
	if !errors.As(err, &nf) || nf.Entity != domain.EntityEntry {
		t.Fatalf("expected missing entry error, got %v", err)
	}
}

func TestMigrateSnapshotDropsDanglingCustomModel(t *testing.T) {
	missing := "gone"
	store := NewStore(nil)
	store.ImportState(Snapshot{
		Firefighters: map[string]Firefighter{"f1": {Base: domain.Base{ID: "f1"}, CustomModelID: &missing}},
		Models:       map[string]Model{"m1": {Base: domain.Base{ID: "m1"}}},
	})
	ffs := store.ListFirefighters()
	if len(ffs) != 1 || ffs[0].CustomModelID != nil {
		t.Fatalf("expected dangling custom model cleared: %+v", ffs)
	}
	models := store.ListModels()
	if models[0].MinPressure != 150 || models[0].MaxPressure != 300 {
		t.Fatalf("expected default bounds on migrated model: %+v", models[0])
	}
}

func TestRecordedChangesCarryPayloads(t *testing.T) {
	engine := domain.NewRulesEngine()
	capture := &captureRule{}
	engine.Register(capture)
	store := NewStore(engine)
	ff, model := seed(t, store)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		e, err := tx.CreateEntry(Entry{FirefighterID: ff.ID, ModelID: model.ID, InitialPressure: 280, CurrentPressure: 280, Active: true})
		if err != nil {
			return err
		}
		_, err = tx.UpdateEntry(e.ID, func(e *Entry) error { e.CurrentPressure = 270; return nil })
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if len(capture.changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(capture.changes))
	}
	update := capture.changes[1]
	before, ok := domain.DecodeChangePayload[Entry](update.Before)
	if !ok || before.CurrentPressure != 280 {
		t.Fatalf("expected before payload with 280 bar, got %+v", before)
	}
	after, ok := domain.DecodeChangePayload[Entry](update.After)
	if !ok || after.CurrentPressure != 270 {
		t.Fatalf("expected after payload with 270 bar, got %+v", after)
	}
}

type captureRule struct{ changes []domain.Change }

func (*captureRule) Name() string { return "capture" }

func (c *captureRule) Evaluate(_ context.Context, _ domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	c.changes = append([]domain.Change(nil), changes...)
	return domain.Result{}, nil
}

func TestStoreCommitHookGatesSwap(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	ff, model := seed(t, store)

	var committed Snapshot
	if _, err := store.RunInTransactionWithCommit(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateEntry(Entry{FirefighterID: ff.ID, ModelID: model.ID, InitialPressure: 280, CurrentPressure: 280, Active: true})
		return err
	}, func(_ context.Context, snap Snapshot) error {
		if len(store.state.entries) != 0 {
			t.Fatalf("live state changed before commit")
		}
		committed = snap
		return nil
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(committed.Entries) != 1 || len(store.ListEntries()) != 1 {
		t.Fatalf("expected committed entry, snapshot=%d live=%d", len(committed.Entries), len(store.ListEntries()))
	}

	writeFailed := errors.New("disk full")
	entry := store.ListEntries()[0]
	_, err := store.RunInTransactionWithCommit(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateEntry(entry.ID, func(e *Entry) error {
			e.CurrentPressure = 150
			e.Active = false
			return nil
		})
		return err
	}, func(context.Context, Snapshot) error { return writeFailed })
	if !errors.Is(err, writeFailed) {
		t.Fatalf("expected commit error, got %v", err)
	}
	after, ok := store.GetEntry(entry.ID)
	if !ok || !after.Active || after.CurrentPressure != 280 {
		t.Fatalf("failed commit must leave state untouched, got %+v", after)
	}
}
