package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"baboard/internal/core"
	"baboard/internal/infra/blob/memory"
)

func newTestApp(t *testing.T) (*app, appOpener) {
	t.Helper()
	archiver := core.NewArchiver(memory.New())
	metrics := core.NewPrometheusMetricsRecorder()
	a := &app{
		svc: core.NewInMemoryService(core.NewDefaultRulesEngine(),
			core.WithMetricsRecorder(metrics),
			core.WithArchiver(archiver),
		),
		archiver: archiver,
		metrics:  metrics,
		logger:   newLogger(io.Discard, "error"),
	}
	return a, func(context.Context) (*app, error) { return a, nil }
}

func run(t *testing.T, open appOpener, args ...string) string {
	t.Helper()
	out, err := runErr(open, args...)
	if err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return out
}

func runErr(open appOpener, args ...string) (string, error) {
	root := newRootCmd(open)
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestSessionLifecycleThroughCLI(t *testing.T) {
	a, open := newTestApp(t)
	if out := run(t, open, "seed"); !strings.Contains(out, "seeded 5 firefighters") {
		t.Fatalf("unexpected seed output %q", out)
	}
	if out := run(t, open, "seed"); !strings.Contains(out, "seeded 0 firefighters") {
		t.Fatalf("expected idempotent seed, got %q", out)
	}
	ffs, err := a.svc.ListFirefighters(context.Background(), true)
	if err != nil || len(ffs) != 5 {
		t.Fatalf("expected 5 firefighters, got %d (%v)", len(ffs), err)
	}
	ffID := ffs[0].ID

	out := run(t, open, "entry", "create", ffID, "300", "--location", "Stairwell B")
	if !strings.Contains(out, "estimated 38 min") {
		t.Fatalf("unexpected create output %q", out)
	}
	entries, _ := a.svc.ListEntries(context.Background(), true)
	if len(entries) != 1 {
		t.Fatalf("expected one active entry, got %d", len(entries))
	}
	entryID := entries[0].ID

	if out := run(t, open, "entry", "reading", entryID, "200"); !strings.Contains(out, "at 200 bar, estimated 24 min") {
		t.Fatalf("unexpected reading output %q", out)
	}
	out = run(t, open, "entry", "reading", entryID, "150")
	if !strings.Contains(out, "confirm to close") {
		t.Fatalf("expected pending closure, got %q", out)
	}
	var pending core.PendingClosure
	if err := json.Unmarshal([]byte(out[strings.Index(out, "{"):]), &pending); err != nil {
		t.Fatalf("decode pending: %v", err)
	}
	if pending.EntryID != entryID || pending.Pressure != 150 || pending.CurrentPressure != 200 {
		t.Fatalf("unexpected pending %+v", pending)
	}
	if out := run(t, open, "entry", "confirm", entryID, "150"); !strings.Contains(out, "closed at 150 bar") {
		t.Fatalf("unexpected confirm output %q", out)
	}
	if _, err := runErr(open, "entry", "reading", entryID, "140", "--ack"); err == nil {
		t.Fatal("expected reading on closed entry to fail")
	}

	if out := run(t, open, "history", "list"); !strings.Contains(out, entryID) {
		t.Fatalf("expected history to list entry, got %q", out)
	}
	if out := run(t, open, "history", "archived"); !strings.Contains(out, "1 archived sessions") {
		t.Fatalf("unexpected archived output %q", out)
	}
	if out := run(t, open, "history", "export"); !strings.Contains(out, "exported exports/historical-") {
		t.Fatalf("unexpected export output %q", out)
	}
	if out := run(t, open, "entry", "list"); !strings.Contains(out, "no entries") {
		t.Fatalf("expected no active entries, got %q", out)
	}
	if out := run(t, open, "entry", "list", "--all"); !strings.Contains(out, "closed") {
		t.Fatalf("expected closed entry in full listing, got %q", out)
	}
}

func TestPredictAndModels(t *testing.T) {
	a, open := newTestApp(t)
	run(t, open, "seed")
	ffs, _ := a.svc.ListFirefighters(context.Background(), true)
	if out := run(t, open, "predict", ffs[0].ID, "300"); !strings.Contains(out, "default model: 38 min") || strings.Contains(out, "custom") {
		t.Fatalf("unexpected predict output %q", out)
	}
	custom, _, err := a.svc.CreateModel(context.Background(), core.Model{Name: "Slow", Slope: 0.1, Intercept: 0})
	if err != nil {
		t.Fatalf("create model: %v", err)
	}
	run(t, open, "firefighter", "assign-model", ffs[0].ID, custom.ID)
	if out := run(t, open, "predict", ffs[0].ID, "300"); !strings.Contains(out, "custom model: 30 min") {
		t.Fatalf("expected custom estimate, got %q", out)
	}
	if out := run(t, open, "firefighter", "assign-model", ffs[0].ID, "--clear"); !strings.Contains(out, "default model") {
		t.Fatalf("unexpected clear output %q", out)
	}
	if _, err := runErr(open, "firefighter", "assign-model", ffs[0].ID); err == nil {
		t.Fatal("expected assign-model without model or --clear to fail")
	}
	if out := run(t, open, "models", "verify"); !strings.Contains(out, "Standard Linear Model") || !strings.Contains(out, "Slow") {
		t.Fatalf("unexpected verify output %q", out)
	}
	if out := run(t, open, "models", "list"); !strings.Contains(out, "true") {
		t.Fatalf("expected default flag in list, got %q", out)
	}
}

func TestEntryValidationErrors(t *testing.T) {
	a, open := newTestApp(t)
	run(t, open, "seed")
	ffs, _ := a.svc.ListFirefighters(context.Background(), true)
	if _, err := runErr(open, "entry", "create", ffs[0].ID, "abc"); err == nil {
		t.Fatal("expected non-numeric pressure error")
	}
	if _, err := runErr(open, "entry", "create", ffs[0].ID, "310"); err == nil {
		t.Fatal("expected out-of-range pressure error")
	}
	run(t, open, "entry", "create", ffs[1].ID, "280")
	entries, _ := a.svc.ListEntries(context.Background(), true)
	if _, err := runErr(open, "entry", "update", entries[0].ID); err == nil {
		t.Fatal("expected update without flags to fail")
	}
	if out := run(t, open, "entry", "update", entries[0].ID, "--location", "Roof"); !strings.Contains(out, "at Roof") {
		t.Fatalf("unexpected update output %q", out)
	}
	if out := run(t, open, "entry", "trend", entries[0].ID); !strings.Contains(out, "no elapsed time") {
		t.Fatalf("unexpected trend output %q", out)
	}
}

func TestMetricsMux(t *testing.T) {
	a, open := newTestApp(t)
	run(t, open, "seed")
	srv := httptest.NewServer(metricsMux(a))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if !strings.Contains(string(body), `baboard_service_operations_total{operation="create_firefighter",status="success"} 5`) {
		t.Fatalf("expected firefighter counter in metrics, got %s", body)
	}
	resp, err = srv.Client().Get(srv.URL + "/healthz")
	if err != nil || resp.StatusCode != 200 {
		t.Fatalf("healthz: %v %v", resp, err)
	}
	_ = resp.Body.Close()
}

func TestConfirmWithPinnedValuesRejectsStaleClosure(t *testing.T) {
	a, open := newTestApp(t)
	run(t, open, "seed")
	ffs, _ := a.svc.ListFirefighters(context.Background(), true)
	run(t, open, "entry", "create", ffs[0].ID, "280")
	entries, _ := a.svc.ListEntries(context.Background(), true)
	entryID := entries[0].ID

	out := run(t, open, "entry", "reading", entryID, "150")
	var pending core.PendingClosure
	if err := json.Unmarshal([]byte(out[strings.Index(out, "{"):]), &pending); err != nil {
		t.Fatalf("decode pending: %v", err)
	}
	if !strings.Contains(out, "--current 280 --updated ") {
		t.Fatalf("expected confirm hint with pinned values, got %q", out)
	}
	current := "280"
	updated := pending.UpdatedTime.Format("2006-01-02T15:04:05.999999999Z07:00")

	run(t, open, "entry", "reading", entryID, "200")
	if _, err := runErr(open, "entry", "confirm", entryID, "150", "--current", current, "--updated", updated); err == nil {
		t.Fatal("expected stale pinned confirmation to fail")
	}
	if e, err := a.svc.GetEntry(context.Background(), entryID); err != nil || !e.Active || e.CurrentPressure != 200 {
		t.Fatalf("stale confirm must leave the entry untouched, got %+v (%v)", e, err)
	}

	if _, err := runErr(open, "entry", "confirm", entryID, "150", "--current", "200"); err == nil {
		t.Fatal("expected --current without --updated to fail")
	}
	if _, err := runErr(open, "entry", "confirm", entryID, "150", "--current", "200", "--updated", "yesterday"); err == nil {
		t.Fatal("expected malformed --updated to fail")
	}

	out = run(t, open, "entry", "reading", entryID, "150")
	if err := json.Unmarshal([]byte(out[strings.Index(out, "{"):]), &pending); err != nil {
		t.Fatalf("decode pending: %v", err)
	}
	if out := run(t, open, "entry", "confirm", entryID, "150",
		"--current", "200", "--updated", pending.UpdatedTime.Format("2006-01-02T15:04:05.999999999Z07:00")); !strings.Contains(out, "closed at 150 bar") {
		t.Fatalf("expected fresh pinned confirm to close, got %q", out)
	}
}
