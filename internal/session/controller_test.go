package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"candle-quiz/internal/agents"
	"candle-quiz/internal/analysis/patterns"
	qerrors "candle-quiz/internal/errors"
	"candle-quiz/internal/models"
	"candle-quiz/internal/notify"
	"candle-quiz/internal/store"
	"candle-quiz/internal/stream"
	"candle-quiz/internal/synth"
)

var easyShort = models.Settings{Difficulty: models.DifficultyEasy, Candles: 3, Horizon: 1}

// fakeGenerator stands in for the external model.
type fakeGenerator struct {
	mu          sync.Mutex
	batch       []models.RawCandidate
	batchErr    error
	single      []models.RawCandidate
	singleErr   error
	batchCalls  int
	singleCalls int
	lastParams  agents.Params
}

func (f *fakeGenerator) RequestBatch(_ context.Context, p agents.Params) ([]models.RawCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	f.lastParams = p
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	return f.batch, nil
}

func (f *fakeGenerator) RequestSingle(_ context.Context, p agents.Params, accept func(models.RawCandidate) error) (models.RawCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.singleCalls++
	f.lastParams = p
	if f.singleErr != nil {
		return models.RawCandidate{}, f.singleErr
	}
	var last error
	for _, rc := range f.single {
		if accept == nil {
			return rc, nil
		}
		if last = accept(rc); last == nil {
			return rc, nil
		}
	}
	return models.RawCandidate{}, qerrors.NewExternalError("single", len(f.single), last)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recordingNotifier) Send(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	for i, n := range r.sent {
		out[i] = n.Message
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []stream.Event
}

func (r *recordingPublisher) Publish(ev stream.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingPublisher) count(t stream.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

type harness struct {
	ctrl     *Controller
	kv       *store.MemoryStore
	external *fakeGenerator
	notes    *recordingNotifier
	events   *recordingPublisher
}

func newHarness(t *testing.T, external *fakeGenerator, opts Options) *harness {
	t.Helper()
	h := &harness{
		kv:       store.NewMemoryStore(),
		external: external,
		notes:    &recordingNotifier{},
		events:   &recordingPublisher{},
	}
	h.ctrl = h.controller(opts)
	return h
}

// controller builds another controller over the same storage.
func (h *harness) controller(opts Options) *Controller {
	deps := Deps{
		Store:     h.kv,
		Generator: synth.NewGenerator(synth.DefaultVariants),
		Notifier:  h.notes,
		Events:    h.events,
		Logger:    zerolog.Nop(),
	}
	if h.external != nil {
		deps.External = h.external
	}
	return NewController(context.Background(), deps, opts)
}

func validCandidate(t *testing.T, id string, variant int) models.RawCandidate {
	t.Helper()
	g := synth.NewGenerator(synth.DefaultVariants)
	it, err := g.ForVariant(3, 1, models.DifficultyEasy, patterns.BearishHarami, variant)
	if err != nil {
		t.Fatalf("ForVariant: %v", err)
	}
	rc := models.CandidateFromItem(it)
	rc.ID = &id
	rc.Source = ""
	return rc
}

func TestOfflineSessionServesLocalItems(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeGenerator{batchErr: errors.New("http 503: overloaded")}, DefaultOptions())

	first, err := h.ctrl.Start(ctx, easyShort)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.ctrl.WaitBatch()

	items := []models.Item{first}
	for i := 0; i < 4; i++ {
		it, err := h.ctrl.Next(ctx)
		if err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		items = append(items, it)
	}

	ids := make(map[string]bool)
	for i, it := range items {
		if it.Source != models.SourceLocal {
			t.Errorf("item %d source = %s, want local", i, it.Source)
		}
		if len(it.Candles) != 3 {
			t.Errorf("item %d has %d candles, want 3", i, len(it.Candles))
		}
		if ids[it.ID] {
			t.Errorf("item %d repeats id %s", i, it.ID)
		}
		ids[it.ID] = true
		if def, _ := patterns.Lookup(it.PatternHint); def.Tier != models.DifficultyEasy {
			t.Errorf("item %d pattern %q is not an easy pattern", i, it.PatternHint)
		}
	}

	// The queue is empty now; rotation keeps serving.
	if _, err := h.ctrl.Next(ctx); err != nil {
		t.Fatalf("Next after seed: %v", err)
	}

	if got := h.notes.messages(); len(got) != 1 || got[0] != MsgOffline {
		t.Errorf("notifications = %v, want one offline notice", got)
	}

	stats, err := h.ctrl.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if !stats.Offline || !stats.BatchFired || stats.BatchPending {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Served != 6 || stats.Telemetry.ExternalFailures != 1 {
		t.Errorf("served %d failures %d", stats.Served, stats.Telemetry.ExternalFailures)
	}

	// Resuming the same settings neither refires nor renotifies.
	if _, err := h.ctrl.Start(ctx, easyShort); err != nil {
		t.Fatalf("Start again: %v", err)
	}
	h.ctrl.WaitBatch()
	if h.external.batchCalls != 1 {
		t.Errorf("batch calls = %d, want 1", h.external.batchCalls)
	}
	if len(h.notes.messages()) != 1 {
		t.Errorf("offline notice repeated")
	}
}

func TestBatchIngestion(t *testing.T) {
	ctx := context.Background()

	good := validCandidate(t, "ai-good", 0)
	dup := validCandidate(t, "ai-dup", 0)
	badGeom := validCandidate(t, "ai-geom", 1)
	badGeom.Candles[0].L = 1000.0
	noLabel := validCandidate(t, "ai-nolabel", 2)
	noLabel.Label = nil

	ext := &fakeGenerator{batch: []models.RawCandidate{good, badGeom, dup, noLabel}}
	h := newHarness(t, ext, DefaultOptions())

	first, err := h.ctrl.Start(ctx, easyShort)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if first.Source != models.SourceLocal {
		t.Errorf("first item should come from the local queue, got %s", first.Source)
	}
	h.ctrl.WaitBatch()

	stats, err := h.ctrl.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.ExternalQueued != 1 || stats.Discarded != 2 || stats.Duplicates != 1 {
		t.Errorf("queued %d discarded %d duplicates %d, want 1/2/1", stats.ExternalQueued, stats.Discarded, stats.Duplicates)
	}
	if ext.lastParams.Count != DefaultOptions().BatchSize || ext.lastParams.Bars != 3 {
		t.Errorf("batch params = %+v", ext.lastParams)
	}

	next, err := h.ctrl.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if next.Source != models.SourceExternal || next.ID != "ai-good" {
		t.Errorf("next = %s from %s, want ai-good from external", next.ID, next.Source)
	}
	if h.events.count(stream.EventBatchIngested) != 1 {
		t.Error("batch event not published")
	}
	if h.events.count(stream.EventItemServed) != 2 {
		t.Errorf("item events = %d, want 2", h.events.count(stream.EventItemServed))
	}
	if len(h.notes.messages()) != 0 {
		t.Errorf("unexpected notifications %v", h.notes.messages())
	}
}

func TestSessionResumesFromStorage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, DefaultOptions())

	if _, err := h.ctrl.Start(ctx, easyShort); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := h.ctrl.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}

	restarted := h.controller(DefaultOptions())
	stats, err := restarted.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats after restart: %v", err)
	}
	if stats.Served != 2 || stats.LocalQueued != 3 {
		t.Fatalf("restored served %d local %d, want 2/3", stats.Served, stats.LocalQueued)
	}

	if _, err := restarted.Next(ctx); err != nil {
		t.Fatalf("Next after restart: %v", err)
	}
	if _, err := restarted.Start(ctx, easyShort); err != nil {
		t.Fatalf("Start after restart: %v", err)
	}
	stats, _ = restarted.Stats(ctx)
	if stats.Served != 4 || stats.LocalQueued != 1 {
		t.Errorf("served %d local %d, want 4/1", stats.Served, stats.LocalQueued)
	}
}

func TestSettingsChangeStartsFreshSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, DefaultOptions())

	if _, err := h.ctrl.Start(ctx, easyShort); err != nil {
		t.Fatalf("Start: %v", err)
	}
	before, _ := h.ctrl.Stats(ctx)

	hard := models.Settings{Difficulty: models.DifficultyHard, Candles: 4, Horizon: 3}
	it, err := h.ctrl.Start(ctx, hard)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	after, _ := h.ctrl.Stats(ctx)

	if before.Hash == after.Hash {
		t.Fatal("hash should change with settings")
	}
	if after.Served != 1 || after.Settings != hard {
		t.Errorf("fresh session served %d settings %+v", after.Served, after.Settings)
	}
	// Seeded items use the easy tier and at most three candles.
	if len(it.Candles) != 3 {
		t.Errorf("seed item has %d candles, want 3", len(it.Candles))
	}
}

func TestNoSessionAndReset(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, DefaultOptions())

	if _, err := h.ctrl.Next(ctx); !errors.Is(err, qerrors.ErrNoSession) {
		t.Fatalf("Next before start err = %v", err)
	}
	if _, err := h.ctrl.Stats(ctx); !errors.Is(err, qerrors.ErrNoSession) {
		t.Fatalf("Stats before start err = %v", err)
	}

	if _, err := h.ctrl.Start(ctx, easyShort); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.ctrl.Reset(ctx)

	if _, ok := h.kv.Read(ctx, StateKey); ok {
		t.Error("reset should delete the stored state")
	}
	if _, err := h.ctrl.Next(ctx); !errors.Is(err, qerrors.ErrNoSession) {
		t.Errorf("Next after reset err = %v", err)
	}
	if h.events.count(stream.EventReset) != 1 {
		t.Error("reset event not published")
	}
	if _, ok := h.kv.Read(ctx, RecentKey); !ok {
		t.Error("reset should keep the recent pattern history")
	}
}

func TestNextRejectsOverlappingPull(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, DefaultOptions())
	if _, err := h.ctrl.Start(ctx, easyShort); err != nil {
		t.Fatalf("Start: %v", err)
	}
	before, _ := h.ctrl.Stats(ctx)

	h.ctrl.pulling.Store(true)
	if _, err := h.ctrl.Next(ctx); !errors.Is(err, qerrors.ErrPullInProgress) {
		t.Fatalf("err = %v, want ErrPullInProgress", err)
	}
	h.ctrl.pulling.Store(false)

	after, _ := h.ctrl.Stats(ctx)
	if after.LocalQueued != before.LocalQueued || after.Served != before.Served {
		t.Error("a rejected pull must not touch the queues")
	}
}

func TestFetchSingle(t *testing.T) {
	ctx := context.Background()

	t.Run("external item", func(t *testing.T) {
		bad := validCandidate(t, "ai-bad", 3)
		bad.Candles[1].H = -5.0
		ext := &fakeGenerator{single: []models.RawCandidate{bad, validCandidate(t, "ai-one", 4)}}
		h := newHarness(t, ext, DefaultOptions())

		it, err := h.ctrl.FetchSingle(ctx, easyShort)
		if err != nil {
			t.Fatalf("FetchSingle: %v", err)
		}
		if it.ID != "ai-one" || it.Source != models.SourceExternal {
			t.Errorf("got %s from %s", it.ID, it.Source)
		}
		if len(h.notes.messages()) != 0 {
			t.Error("success should not notify")
		}
	})

	t.Run("overloaded falls back", func(t *testing.T) {
		ext := &fakeGenerator{singleErr: qerrors.NewExternalError("single", 3, &qerrors.HTTPStatusError{Status: 503, Message: "busy"})}
		h := newHarness(t, ext, DefaultOptions())

		it, err := h.ctrl.FetchSingle(ctx, easyShort)
		if err != nil {
			t.Fatalf("FetchSingle: %v", err)
		}
		if it.Source != models.SourceLocal {
			t.Errorf("source = %s, want local", it.Source)
		}
		if got := h.notes.messages(); len(got) != 1 || got[0] != MsgOverloaded {
			t.Errorf("notifications = %v", got)
		}
	})

	t.Run("no generator falls back", func(t *testing.T) {
		h := newHarness(t, nil, DefaultOptions())
		it, err := h.ctrl.FetchSingle(ctx, easyShort)
		if err != nil {
			t.Fatalf("FetchSingle: %v", err)
		}
		if it.Source != models.SourceLocal || len(it.Candles) != 3 {
			t.Errorf("fallback item %+v", it)
		}
		if got := h.notes.messages(); len(got) != 1 || got[0] != MsgFailed {
			t.Errorf("notifications = %v", got)
		}
	})

	t.Run("fallback disabled", func(t *testing.T) {
		opts := DefaultOptions()
		opts.UseLocalOnFail = false
		h := newHarness(t, nil, opts)
		if _, err := h.ctrl.FetchSingle(ctx, easyShort); !errors.Is(err, qerrors.ErrMissingAPIKey) {
			t.Errorf("err = %v, want ErrMissingAPIKey", err)
		}
	})
}

func TestSupersededBatchIsDiscarded(t *testing.T) {
	ctx := context.Background()
	block := make(chan struct{})
	ext := &blockingGenerator{release: block, batch: []models.RawCandidate{validCandidate(t, "ai-late", 5)}}

	kv := store.NewMemoryStore()
	ctrl := NewController(ctx, Deps{Store: kv, External: ext, Logger: zerolog.Nop()}, DefaultOptions())

	if _, err := ctrl.Start(ctx, easyShort); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctrl.Reset(ctx)
	close(block)
	ctrl.WaitBatch()

	if _, err := ctrl.Stats(ctx); !errors.Is(err, qerrors.ErrNoSession) {
		t.Errorf("late batch revived the session: %v", err)
	}
}

// blockingGenerator holds its batch until release is closed.
type blockingGenerator struct {
	release chan struct{}
	batch   []models.RawCandidate
}

func (b *blockingGenerator) RequestBatch(ctx context.Context, _ agents.Params) ([]models.RawCandidate, error) {
	<-b.release
	return b.batch, nil
}

func (b *blockingGenerator) RequestSingle(context.Context, agents.Params, func(models.RawCandidate) error) (models.RawCandidate, error) {
	return models.RawCandidate{}, fmt.Errorf("not used")
}

func TestSessionWithoutGeneratorAnnouncesOffline(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, DefaultOptions())

	if _, err := h.ctrl.Start(ctx, easyShort); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := h.notes.messages(); len(got) != 1 || got[0] != MsgOffline {
		t.Fatalf("notifications = %v, want one offline notice", got)
	}
	stats, _ := h.ctrl.Stats(ctx)
	if !stats.Offline || stats.BatchFired {
		t.Errorf("stats = %+v", stats)
	}

	// The flag is persisted, so a resumed session stays quiet.
	restarted := h.controller(DefaultOptions())
	if _, err := restarted.Start(ctx, easyShort); err != nil {
		t.Fatalf("Start after restart: %v", err)
	}
	if len(h.notes.messages()) != 1 {
		t.Errorf("offline notice repeated: %v", h.notes.messages())
	}
}

func TestCancelledBatchDoesNotMarkNewSessionOffline(t *testing.T) {
	ctx := context.Background()
	hold := make(chan struct{})
	release := make(chan struct{})
	ext := &cancellableGenerator{hold: hold, release: release, batch: []models.RawCandidate{validCandidate(t, "ai-new", 5)}}

	notes := &recordingNotifier{}
	ctrl := NewController(ctx, Deps{Store: store.NewMemoryStore(), External: ext, Notifier: notes, Logger: zerolog.Nop()}, DefaultOptions())

	if _, err := ctrl.Start(ctx, easyShort); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctrl.Reset(ctx)
	if _, err := ctrl.Start(ctx, easyShort); err != nil {
		t.Fatalf("Start after reset: %v", err)
	}

	// The first request now returns context.Canceled into the new session.
	close(hold)
	waitFor(t, func() bool { return ext.cancelled() == 1 })

	stats, err := ctrl.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Offline || !stats.BatchPending || stats.Telemetry.ExternalFailures != 0 {
		t.Errorf("stats after cancelled batch = %+v", stats)
	}
	if got := notes.messages(); len(got) != 0 {
		t.Errorf("notifications = %v, want none", got)
	}

	close(release)
	ctrl.WaitBatch()
	stats, _ = ctrl.Stats(ctx)
	if stats.ExternalQueued != 1 || stats.Offline {
		t.Errorf("current batch not ingested: %+v", stats)
	}
}

func TestNotificationsAreSentWithoutTheLock(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	notes := &lockCheckingNotifier{}
	ext := &fakeGenerator{batchErr: fmt.Errorf("connection refused")}
	ctrl := NewController(ctx, Deps{Store: kv, External: ext, Notifier: notes, Logger: zerolog.Nop()}, DefaultOptions())
	notes.ctrl = ctrl

	if _, err := ctrl.Start(ctx, easyShort); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctrl.WaitBatch()

	idle := NewController(ctx, Deps{Store: store.NewMemoryStore(), Notifier: notes, Logger: zerolog.Nop()}, DefaultOptions())
	notes.ctrl = idle
	if _, err := idle.Start(ctx, easyShort); err != nil {
		t.Fatalf("Start without generator: %v", err)
	}

	if notes.sent != 2 || notes.blocked != 0 {
		t.Errorf("sent %d, blocked %d", notes.sent, notes.blocked)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
	// Let the goroutine finish ingesting after the generator returns.
	time.Sleep(20 * time.Millisecond)
}

// cancellableGenerator blocks until release, or returns ctx.Err() once
// hold is closed after its context is cancelled.
type cancellableGenerator struct {
	hold    chan struct{}
	release chan struct{}
	batch   []models.RawCandidate

	mu       sync.Mutex
	nCancels int
}

func (g *cancellableGenerator) RequestBatch(ctx context.Context, _ agents.Params) ([]models.RawCandidate, error) {
	select {
	case <-g.release:
		return g.batch, nil
	case <-ctx.Done():
		<-g.hold
		g.mu.Lock()
		g.nCancels++
		g.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (g *cancellableGenerator) RequestSingle(context.Context, agents.Params, func(models.RawCandidate) error) (models.RawCandidate, error) {
	return models.RawCandidate{}, fmt.Errorf("not used")
}

func (g *cancellableGenerator) cancelled() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nCancels
}

// lockCheckingNotifier reads controller stats from inside Send; that
// only returns if the controller released its lock first.
type lockCheckingNotifier struct {
	ctrl    *Controller
	sent    int
	blocked int
}

func (n *lockCheckingNotifier) Send(ctx context.Context, _ notify.Notification) error {
	n.sent++
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.ctrl.Stats(ctx)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		n.blocked++
	}
	return nil
}
