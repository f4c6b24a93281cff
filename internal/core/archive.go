package core

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"time"

	blobcore "baboard/internal/blob/core"
	"baboard/pkg/domain"
)

// HistoryArchiver receives historical records once a session closes and
// produces roll-up exports of them.
type HistoryArchiver interface {
	ArchiveHistorical(ctx context.Context, h HistoricalEntry) error
	ExportHistorical(ctx context.Context, records []HistoricalEntry, firefighters []Firefighter) (string, error)
}

const (
	historicalPrefix = "historical/"
	exportPrefix     = "exports/"
)

// Archiver writes historical records and exports to a blob store.
type Archiver struct {
	store blobcore.Store
	clock Clock
}

// NewArchiver returns an archiver writing to store.
func NewArchiver(store blobcore.Store) *Archiver {
	return &Archiver{store: store, clock: ClockFunc(func() time.Time { return time.Now().UTC() })}
}

// HistoricalKey is the blob key a historical record is archived under.
func HistoricalKey(h HistoricalEntry) string {
	return path.Join("historical", h.FirefighterID, h.ID+".json")
}

// ArchiveHistorical stores h as JSON. Re-archiving the same record is a no-op.
func (a *Archiver) ArchiveHistorical(ctx context.Context, h HistoricalEntry) error {
	payload, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode historical entry %s: %w", h.ID, err)
	}
	_, err = a.store.Put(ctx, HistoricalKey(h), bytes.NewReader(payload), blobcore.PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"entry_id":       h.EntryID,
			"firefighter_id": h.FirefighterID,
		},
	})
	if errors.Is(err, blobcore.ErrExists) {
		return nil
	}
	return err
}

// LoadArchived reads archived records back, restricted to one firefighter
// when firefighterID is non-empty.
func (a *Archiver) LoadArchived(ctx context.Context, firefighterID string) ([]HistoricalEntry, error) {
	prefix := historicalPrefix
	if firefighterID != "" {
		prefix += firefighterID + "/"
	}
	infos, err := a.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]HistoricalEntry, 0, len(infos))
	for _, info := range infos {
		h, err := a.readHistorical(ctx, info.Key)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func (a *Archiver) readHistorical(ctx context.Context, key string) (HistoricalEntry, error) {
	_, rc, err := a.store.Get(ctx, key)
	if err != nil {
		return HistoricalEntry{}, err
	}
	defer func() { _ = rc.Close() }()
	body, err := io.ReadAll(rc)
	if err != nil {
		return HistoricalEntry{}, fmt.Errorf("read %s: %w", key, err)
	}
	var h HistoricalEntry
	if err := json.Unmarshal(body, &h); err != nil {
		return HistoricalEntry{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return h, nil
}

var exportHeader = []string{
	"id", "entry_id", "firefighter_id", "badge_number", "firefighter_name",
	"model_id", "session_date", "initial_pressure", "final_pressure",
	"pressure_used", "duration_minutes", "location",
}

// ExportHistorical writes records as a CSV roll-up and returns its key.
func (a *Archiver) ExportHistorical(ctx context.Context, records []HistoricalEntry, firefighters []Firefighter) (string, error) {
	byID := make(map[string]Firefighter, len(firefighters))
	for _, ff := range firefighters {
		byID[ff.ID] = ff
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(exportHeader); err != nil {
		return "", err
	}
	for _, h := range records {
		ff := byID[h.FirefighterID]
		row := []string{
			h.ID,
			h.EntryID,
			h.FirefighterID,
			ff.BadgeNumber,
			ff.FullName(),
			h.ModelID,
			h.SessionDate.UTC().Format(time.RFC3339),
			strconv.Itoa(h.InitialPressure),
			strconv.Itoa(h.FinalPressure),
			strconv.Itoa(h.InitialPressure - h.FinalPressure),
			strconv.Itoa(h.Duration),
			h.Location,
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("encode export: %w", err)
	}
	key := exportPrefix + "historical-" + a.clock.Now().UTC().Format("20060102T150405.000000000Z") + ".csv"
	if _, err := a.store.Put(ctx, key, &buf, blobcore.PutOptions{
		ContentType: "text/csv",
		Metadata:    map[string]string{"records": strconv.Itoa(len(records))},
	}); err != nil {
		return "", err
	}
	return key, nil
}

// ExportHistorical writes the stored historical records, optionally for one
// firefighter, through the configured archiver and returns the export key.
func (s *Service) ExportHistorical(ctx context.Context, firefighterID string) (string, error) {
	if s.archiver == nil {
		return "", domain.ConfigurationError{Reason: "no history archiver configured"}
	}
	var key string
	_, err := s.run(ctx, "export_historical", func(ctx context.Context) (string, Result, error) {
		records, err := s.ListHistorical(ctx, firefighterID)
		if err != nil {
			return firefighterID, Result{}, err
		}
		firefighters, err := s.ListFirefighters(ctx, false)
		if err != nil {
			return firefighterID, Result{}, err
		}
		key, err = s.archiver.ExportHistorical(ctx, records, firefighters)
		return key, Result{}, err
	})
	return key, err
}
