package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"baboard/pkg/domain"
)

func TestSQLiteStorePersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	store, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	var entryID string
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		model, err := tx.CreateModel(domain.PressureCalculationModel{Name: "Default", Slope: 0.14, Intercept: -4, IsDefault: true})
		if err != nil {
			return err
		}
		ff, err := tx.CreateFirefighter(domain.Firefighter{BadgeNumber: "FF001", FirstName: "Persist", Active: true})
		if err != nil {
			return err
		}
		entry, err := tx.CreateEntry(domain.BAEntry{FirefighterID: ff.ID, ModelID: model.ID, InitialPressure: 280, CurrentPressure: 280, Location: "Stairwell", Active: true})
		entryID = entry.ID
		return err
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if store.Path() != path {
		t.Fatalf("unexpected path %s", store.Path())
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	t.Cleanup(func() { _ = reloaded.Close() })
	if got := len(reloaded.ListFirefighters()); got != 1 {
		t.Fatalf("expected 1 firefighter, got %d", got)
	}
	entry, ok := reloaded.GetEntry(entryID)
	if !ok || entry.Location != "Stairwell" || entry.CurrentPressure != 280 {
		t.Fatalf("expected reloaded entry, got %+v (found=%v)", entry, ok)
	}
}

func TestSQLiteStoreSkipsPersistOnError(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "state.db"), domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	sentinel := errors.New("abort")
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateFirefighter(domain.Firefighter{BadgeNumber: "FF002"}); err != nil {
			return err
		}
		return sentinel
	}); !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	var count int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM state`).Scan(&count); err != nil {
		t.Fatalf("count state rows: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no persisted buckets, got %d", count)
	}
}

func TestSQLiteStoreWritesEveryBucket(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "state.db"), nil)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateModel(domain.PressureCalculationModel{Name: "Only"})
		return e
	}); err != nil {
		t.Fatalf("create model: %v", err)
	}
	for _, bucket := range buckets {
		var payload []byte
		if err := store.DB().QueryRow(`SELECT payload FROM state WHERE bucket = ?`, bucket).Scan(&payload); err != nil {
			t.Fatalf("bucket %s missing: %v", bucket, err)
		}
	}
}

func TestSQLiteStoreKeepsMemoryWhenWriteFails(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "state.db"), domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	ctx := context.Background()
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateFirefighter(domain.Firefighter{BadgeNumber: "FF003", Active: true})
		return err
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.DB().Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateFirefighter(domain.Firefighter{BadgeNumber: "FF004", Active: true})
		return err
	}); err == nil {
		t.Fatal("expected write to a closed database to fail")
	}
	if got := len(store.ListFirefighters()); got != 1 {
		t.Fatalf("failed write must not reach memory, got %d firefighters", got)
	}
}
