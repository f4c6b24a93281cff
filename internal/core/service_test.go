package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"baboard/pkg/domain"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc   *Service
	clock *stepClock
	ff    Firefighter
	model Model
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	ctx := context.Background()
	clock := &stepClock{now: t0}
	svc := NewInMemoryService(NewDefaultRulesEngine(), append([]Option{WithClock(clock)}, opts...)...)
	model, created, err := svc.EnsureDefaultModel(ctx)
	if err != nil || !created {
		t.Fatalf("ensure default model: %v (created=%v)", err, created)
	}
	ff, _, err := svc.CreateFirefighter(ctx, Firefighter{BadgeNumber: "FF001", FirstName: "Test1", Active: true})
	if err != nil {
		t.Fatalf("create firefighter: %v", err)
	}
	return fixture{svc: svc, clock: clock, ff: ff, model: model}
}

func (f fixture) entry(t *testing.T, pressure int) Entry {
	t.Helper()
	e, _, err := f.svc.CreateEntry(context.Background(), CreateEntryInput{FirefighterID: f.ff.ID, InitialPressure: pressure, Location: "Basement"})
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	return e
}

func TestEnsureDefaultModelIsIdempotent(t *testing.T) {
	f := newFixture(t)
	again, created, err := f.svc.EnsureDefaultModel(context.Background())
	if err != nil || created || again.ID != f.model.ID {
		t.Fatalf("expected existing default, got %+v created=%v err=%v", again, created, err)
	}
	if _, _, err := f.svc.CreateModel(context.Background(), Model{Name: "second default", Slope: 0.1, IsDefault: true}); err == nil {
		t.Fatal("expected second default model to be blocked")
	} else {
		var rv domain.RuleViolationError
		if !errors.As(err, &rv) {
			t.Fatalf("expected RuleViolationError, got %v", err)
		}
	}
}

func TestCreateEntryErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	var nf domain.ErrNotFound
	if _, _, err := f.svc.CreateEntry(ctx, CreateEntryInput{FirefighterID: "ghost", InitialPressure: 300}); !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var verr domain.ValidationError
	if _, _, err := f.svc.CreateEntry(ctx, CreateEntryInput{FirefighterID: f.ff.ID, InitialPressure: 110}); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	bare := NewInMemoryService(NewDefaultRulesEngine())
	ff, _, err := bare.CreateFirefighter(ctx, Firefighter{BadgeNumber: "X1", Active: true})
	if err != nil {
		t.Fatalf("create firefighter: %v", err)
	}
	var cerr domain.ConfigurationError
	if _, _, err := bare.CreateEntry(ctx, CreateEntryInput{FirefighterID: ff.ID, InitialPressure: 300}); !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigurationError without default model, got %v", err)
	}
	if _, _, err := bare.CreateFirefighter(ctx, Firefighter{}); err == nil {
		t.Fatal("expected missing badge error")
	}
	if _, _, err := f.svc.CreateFirefighter(ctx, Firefighter{BadgeNumber: "FF001"}); err == nil {
		t.Fatal("expected duplicate badge error")
	}
}

func TestEntryKeepsGoverningModelSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	custom, _, err := f.svc.CreateModel(ctx, Model{Name: "slow", Slope: 0.1, Intercept: 5})
	if err != nil {
		t.Fatalf("create model: %v", err)
	}
	if _, _, err := f.svc.AssignCustomModel(ctx, f.ff.ID, &custom.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	e := f.entry(t, 300)
	if e.ModelID != custom.ID || e.EstimatedTime != 35 {
		t.Fatalf("expected custom model estimate 35, got %+v", e)
	}
	if _, _, err := f.svc.AssignCustomModel(ctx, f.ff.ID, nil); err != nil {
		t.Fatalf("clear: %v", err)
	}
	f.clock.advance(time.Minute)
	out, err := f.svc.RecordReading(ctx, e.ID, Reading{Pressure: 290})
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	if out.Entry.ModelID != custom.ID || out.Entry.EstimatedTime != 34 {
		t.Fatalf("expected estimate under snapshot model, got %+v", out.Entry)
	}
	est, err := f.svc.EstimateForFirefighter(ctx, f.ff.ID, 300)
	if err != nil || est.Custom != nil || est.Default != 38 {
		t.Fatalf("unexpected estimates %+v (%v)", est, err)
	}
}

func TestRecordReadingBelowFloorLeavesEntryUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.entry(t, 280)
	f.clock.advance(time.Minute)
	var verr domain.ValidationError
	if _, err := f.svc.RecordReading(ctx, e.ID, Reading{Pressure: 100}); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	after, err := f.svc.GetEntry(ctx, e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if after.CurrentPressure != 280 || !after.UpdatedTime.Equal(e.UpdatedTime) || !after.Active {
		t.Fatalf("entry changed after rejected reading: %+v", after)
	}
}

func TestThresholdReadingRequiresConfirmation(t *testing.T) {
	ctx := context.Background()
	archive := &captureArchiver{}
	f := newFixture(t, WithArchiver(archive))
	e := f.entry(t, 280)
	f.clock.advance(12*time.Minute + 30*time.Second)

	out, err := f.svc.RecordReading(ctx, e.ID, Reading{Pressure: 150})
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	if out.Pending == nil || out.Closed {
		t.Fatalf("expected pending closure, got %+v", out)
	}
	unchanged, _ := f.svc.GetEntry(ctx, e.ID)
	if !unchanged.Active || unchanged.CurrentPressure != 280 {
		t.Fatalf("pending closure must not change the entry: %+v", unchanged)
	}

	closed, err := f.svc.ConfirmClosure(ctx, *out.Pending)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !closed.Closed || closed.Entry.Active || closed.Historical == nil {
		t.Fatalf("expected closed outcome, got %+v", closed)
	}
	if closed.Historical.Duration != 12 || closed.Historical.FinalPressure != 150 {
		t.Fatalf("unexpected historical record %+v", closed.Historical)
	}
	history, _ := f.svc.ListHistorical(ctx, f.ff.ID)
	if len(history) != 1 {
		t.Fatalf("expected one historical record, got %d", len(history))
	}
	if len(archive.records) != 1 || archive.records[0].ID != closed.Historical.ID {
		t.Fatalf("expected closure to be archived, got %+v", archive.records)
	}

	var serr domain.StateError
	if _, err := f.svc.ConfirmClosure(ctx, *out.Pending); !errors.As(err, &serr) {
		t.Fatalf("expected StateError on repeated confirmation, got %v", err)
	}
	for _, p := range []int{100, 140, 200, 400} {
		if _, err := f.svc.RecordReading(ctx, e.ID, Reading{Pressure: p, Acknowledged: true}); !errors.As(err, &serr) {
			t.Fatalf("pressure %d on closed entry: expected StateError, got %v", p, err)
		}
	}
	loc := "Roof"
	if _, _, err := f.svc.UpdateEntryDetails(ctx, e.ID, EntryDetails{Location: &loc}); !errors.As(err, &serr) {
		t.Fatalf("expected StateError updating closed entry, got %v", err)
	}
}

func TestConfirmClosureRejectsStalePending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.entry(t, 280)
	f.clock.advance(time.Minute)
	out, err := f.svc.RecordReading(ctx, e.ID, Reading{Pressure: 145})
	if err != nil || out.Pending == nil {
		t.Fatalf("expected pending closure, got %+v (%v)", out, err)
	}
	f.clock.advance(time.Minute)
	if _, err := f.svc.RecordReading(ctx, e.ID, Reading{Pressure: 200}); err != nil {
		t.Fatalf("intermediate reading: %v", err)
	}
	var serr domain.StateError
	if _, err := f.svc.ConfirmClosure(ctx, *out.Pending); !errors.As(err, &serr) {
		t.Fatalf("expected StateError for stale pending closure, got %v", err)
	}
	still, _ := f.svc.GetEntry(ctx, e.ID)
	if !still.Active || still.CurrentPressure != 200 {
		t.Fatalf("stale confirmation must not change the entry: %+v", still)
	}
}

func TestConcurrentClosuresProduceOneHistoricalRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.entry(t, 300)
	f.clock.advance(20 * time.Minute)

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RecordReading(ctx, e.ID, Reading{Pressure: 140, Acknowledged: true})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, stateErrs int
	for err := range results {
		var serr domain.StateError
		switch {
		case err == nil:
			ok++
		case errors.As(err, &serr):
			stateErrs++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || stateErrs != workers-1 {
		t.Fatalf("expected exactly one closure, got %d successes and %d state errors", ok, stateErrs)
	}
	history, _ := f.svc.ListHistorical(ctx, "")
	if len(history) != 1 {
		t.Fatalf("expected one historical record, got %d", len(history))
	}
}

func TestHighConsumptionWarning(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.entry(t, 300)
	f.clock.advance(2 * time.Minute)
	out, err := f.svc.RecordReading(ctx, e.ID, Reading{Pressure: 250})
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	if len(out.Warnings) != 1 || out.Warnings[0].Rule != "high_consumption" {
		t.Fatalf("expected high consumption warning, got %+v", out.Warnings)
	}
	trend, ok, err := f.svc.EntryTrend(ctx, e.ID)
	if err != nil || !ok {
		t.Fatalf("trend: %v %v", ok, err)
	}
	if trend.RatePerMinute != 25 || !trend.IsHigh {
		t.Fatalf("unexpected trend %+v", trend)
	}

	f.clock.advance(30 * time.Minute)
	calm, err := f.svc.RecordReading(ctx, e.ID, Reading{Pressure: 240})
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	if len(calm.Warnings) != 0 {
		t.Fatalf("expected no warning at a normal rate, got %+v", calm.Warnings)
	}
}

func TestUpdateEntryDetailsAndListing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.entry(t, 300)
	loc, remarks := "Stairwell A", "second crew"
	updated, _, err := f.svc.UpdateEntryDetails(ctx, e.ID, EntryDetails{Location: &loc, Remarks: &remarks})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Location != loc || updated.Remarks != remarks || updated.CurrentPressure != 300 {
		t.Fatalf("unexpected update %+v", updated)
	}
	other := f.entry(t, 250)
	f.clock.advance(time.Minute)
	if _, err := f.svc.RecordReading(ctx, other.ID, Reading{Pressure: 140, Acknowledged: true}); err != nil {
		t.Fatalf("close other: %v", err)
	}
	active, _ := f.svc.ListEntries(ctx, true)
	all, _ := f.svc.ListEntries(ctx, false)
	if len(active) != 1 || active[0].ID != e.ID || len(all) != 2 {
		t.Fatalf("unexpected listings active=%d all=%d", len(active), len(all))
	}
	var nf domain.ErrNotFound
	if _, err := f.svc.GetEntry(ctx, "missing"); !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := f.svc.EntryTrend(ctx, "missing"); !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound from trend, got %v", err)
	}
	reports, err := f.svc.VerifyModels(ctx)
	if err != nil || len(reports) != 1 || reports[0].AtFull != 38 {
		t.Fatalf("unexpected verify reports %+v (%v)", reports, err)
	}
}

type captureArchiver struct {
	mu      sync.Mutex
	records []HistoricalEntry
	fail    error
	exports int
}

func (c *captureArchiver) ArchiveHistorical(_ context.Context, h HistoricalEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.records = append(c.records, h)
	return nil
}

func (c *captureArchiver) ExportHistorical(_ context.Context, records []HistoricalEntry, _ []Firefighter) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exports++
	return "exports/test.csv", nil
}

type captureLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *captureLogger) Debug(string, ...any) {}
func (l *captureLogger) Info(string, ...any)  {}
func (l *captureLogger) Error(string, ...any) {}
func (l *captureLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func TestArchiveFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	logger := &captureLogger{}
	f := newFixture(t, WithArchiver(&captureArchiver{fail: errors.New("bucket offline")}), WithLogger(logger))
	e := f.entry(t, 300)
	f.clock.advance(30 * time.Minute)
	out, err := f.svc.RecordReading(ctx, e.ID, Reading{Pressure: 150, Acknowledged: true})
	if err != nil || !out.Closed {
		t.Fatalf("expected closure despite archive failure, got %+v (%v)", out, err)
	}
	found := false
	for _, w := range logger.warns {
		if w == "archive historical entry failed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected archive warning, got %v", logger.warns)
	}
}

func TestExportHistorical(t *testing.T) {
	ctx := context.Background()
	var cerr domain.ConfigurationError
	if _, err := newFixture(t).svc.ExportHistorical(ctx, ""); !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigurationError without archiver, got %v", err)
	}
	archive := &captureArchiver{}
	f := newFixture(t, WithArchiver(archive))
	key, err := f.svc.ExportHistorical(ctx, f.ff.ID)
	if err != nil || key != "exports/test.csv" || archive.exports != 1 {
		t.Fatalf("unexpected export %q %v", key, err)
	}
}

type observed struct {
	mu      sync.Mutex
	audits  []AuditEntry
	metrics map[string][]bool
	spans   map[string]error
}

func (o *observed) Record(_ context.Context, e AuditEntry) {
	o.mu.Lock()
	o.audits = append(o.audits, e)
	o.mu.Unlock()
}

func (o *observed) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	o.mu.Lock()
	o.metrics[op] = append(o.metrics[op], success)
	o.mu.Unlock()
}

func (o *observed) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	return ctx, observedSpan{o: o, op: op}
}

type observedSpan struct {
	o  *observed
	op string
}

func (s observedSpan) End(err error) {
	s.o.mu.Lock()
	s.o.spans[s.op] = err
	s.o.mu.Unlock()
}

func TestServiceObservability(t *testing.T) {
	ctx := context.Background()
	obs := &observed{metrics: map[string][]bool{}, spans: map[string]error{}}
	f := newFixture(t, WithAuditRecorder(obs), WithMetricsRecorder(obs), WithTracer(obs))
	e := f.entry(t, 300)
	if _, err := f.svc.RecordReading(ctx, e.ID, Reading{Pressure: 100}); err == nil {
		t.Fatal("expected validation error")
	}

	if got := obs.metrics["create_entry"]; len(got) != 1 || !got[0] {
		t.Fatalf("expected successful create_entry metric, got %v", got)
	}
	if got := obs.metrics["record_reading"]; len(got) != 1 || got[0] {
		t.Fatalf("expected failed record_reading metric, got %v", got)
	}
	if err, ok := obs.spans["record_reading"]; !ok || err == nil {
		t.Fatalf("expected record_reading span to end with error")
	}
	var sawCreate, sawFailure bool
	for _, a := range obs.audits {
		if a.Operation == "create_entry" && a.Status == AuditStatusSuccess && a.EntityID == e.ID && a.Entity == domain.EntityEntry {
			sawCreate = true
		}
		if a.Operation == "record_reading" && a.Status == AuditStatusError && a.Error != "" && a.Timestamp.Equal(t0) {
			sawFailure = true
		}
	}
	if !sawCreate || !sawFailure {
		t.Fatalf("missing audit entries: %+v", obs.audits)
	}
}
