package session

import (
	"context"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"candle-quiz/internal/agents"
	"candle-quiz/internal/analysis/patterns"
	qerrors "candle-quiz/internal/errors"
	"candle-quiz/internal/logging"
	"candle-quiz/internal/models"
	"candle-quiz/internal/notify"
	"candle-quiz/internal/store"
	"candle-quiz/internal/stream"
	"candle-quiz/internal/synth"
	"candle-quiz/internal/telemetry"
	"candle-quiz/internal/validate"
)

// Notification texts.
const (
	MsgOffline    = "External generator unavailable. Operating offline with local items."
	MsgOverloaded = "Model is overloaded. Using local generator."
	MsgFailed     = "External generation failed. Using local generator."
)

var overloadedRe = regexp.MustCompile(`(?i)503|unavailable|overloaded`)

// Options tunes a Controller.
type Options struct {
	InitialLocal   int           // local items seeded on a fresh start
	InitialMaxBars int           // bar cap for the seeded items
	BatchSize      int           // items requested from the external batch
	BatchTimeout   time.Duration // upper bound on the batch call
	UseLocalOnFail bool          // FetchSingle falls back to local synthesis
}

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	return Options{
		InitialLocal:   5,
		InitialMaxBars: 3,
		BatchSize:      agents.MaxBatch,
		BatchTimeout:   2 * time.Minute,
		UseLocalOnFail: true,
	}
}

// EventPublisher receives session events.
type EventPublisher interface {
	Publish(ev stream.Event)
}

// Deps are the collaborators a Controller needs. External, Telemetry,
// Notifier and Events may be nil.
type Deps struct {
	Store     store.KV
	Generator *synth.Generator
	Validator *validate.Validator
	External  agents.Generator
	Telemetry *telemetry.Recorder
	Notifier  notify.Notifier
	Events    EventPublisher
	Logger    zerolog.Logger
}

// Stats summarizes the active session.
type Stats struct {
	Hash           string             `json:"hash"`
	Settings       models.Settings    `json:"settings"`
	ExternalQueued int                `json:"external_queued"`
	LocalQueued    int                `json:"local_queued"`
	Served         int                `json:"served"`
	Discarded      int                `json:"discarded"`
	Duplicates     int                `json:"duplicates"`
	UsedVariants   int                `json:"used_variants"`
	BatchFired     bool               `json:"batch_fired"`
	BatchPending   bool               `json:"batch_pending"`
	Offline        bool               `json:"offline"`
	RecentPatterns []string           `json:"recent_patterns"`
	Telemetry      telemetry.Counters `json:"telemetry"`
}

type batchTicket struct {
	hash      string
	requestID string
	cancel    context.CancelFunc
}

// Controller owns one quiz session at a time.
type Controller struct {
	mu        sync.Mutex
	kv        store.KV
	gen       *synth.Generator
	validator *validate.Validator
	external  agents.Generator
	telemetry *telemetry.Recorder
	notifier  notify.Notifier
	events    EventPublisher
	dedup     *Deduper
	recent    *RecentPatterns
	opts      Options
	logger    zerolog.Logger

	state   *State
	batch   *batchTicket
	pulling atomic.Bool
	wg      sync.WaitGroup
}

// NewController wires a controller from deps.
func NewController(ctx context.Context, deps Deps, opts Options) *Controller {
	if deps.Store == nil {
		deps.Store = store.NewMemoryStore()
	}
	if deps.Generator == nil {
		deps.Generator = synth.NewGenerator(synth.DefaultVariants)
	}
	if deps.Validator == nil {
		deps.Validator = validate.New(deps.Logger)
	}
	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.NewRecorder(ctx, deps.Store, nil)
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewNoOpNotifier()
	}
	if opts.InitialMaxBars <= 0 {
		opts.InitialMaxBars = 3
	}
	if opts.BatchSize <= 0 || opts.BatchSize > agents.MaxBatch {
		opts.BatchSize = agents.MaxBatch
	}

	return &Controller{
		kv:        deps.Store,
		gen:       deps.Generator,
		validator: deps.Validator,
		external:  deps.External,
		telemetry: deps.Telemetry,
		notifier:  deps.Notifier,
		events:    deps.Events,
		dedup:     NewDeduper(ctx, deps.Store),
		recent:    NewRecentPatterns(ctx, deps.Store),
		opts:      opts,
		logger:    deps.Logger.With().Str("component", "session").Logger(),
	}
}

// Start opens the session for settings and serves its first item. A
// persisted session with the same settings is resumed as it was left.
func (c *Controller) Start(ctx context.Context, settings models.Settings) (models.Item, error) {
	c.mu.Lock()
	it, notice := c.startLocked(ctx, settings)
	c.mu.Unlock()

	c.notify(ctx, notice)
	return it, nil
}

func (c *Controller) startLocked(ctx context.Context, settings models.Settings) (models.Item, string) {
	settings = settings.Normalized()
	hash := SettingsHash(settings)

	if c.batch != nil && c.batch.hash != hash {
		c.batch.cancel()
		c.batch = nil
	}

	logger := logging.WithSession(c.logger, hash)
	if s, ok := loadState(ctx, c.kv); ok && s.Hash == hash {
		c.state = s
		logger.Info().
			Int("external_queued", len(s.ExternalQueue)).
			Int("local_queued", len(s.LocalQueue)).
			Msg("Resumed session")
	} else {
		c.state = newState(settings)
		c.seedLocalLocked(ctx)
		logger.Info().Int("local_queued", len(c.state.LocalQueue)).Msg("Started session")
	}

	var notice string
	switch {
	case c.external != nil && !c.state.BatchFired:
		c.fireBatchLocked(settings)
	case c.external == nil && !c.state.OfflineNotified:
		c.state.OfflineNotified = true
		notice = MsgOffline
	}
	saveState(ctx, c.kv, c.state)

	return c.serveLocked(ctx), notice
}

// Next serves the next item. A call that overlaps another pull returns
// ErrPullInProgress and leaves the queues untouched.
func (c *Controller) Next(ctx context.Context) (models.Item, error) {
	if !c.pulling.CompareAndSwap(false, true) {
		return models.Item{}, qerrors.ErrPullInProgress
	}
	defer c.pulling.Store(false)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == nil {
		s, ok := loadState(ctx, c.kv)
		if !ok {
			return models.Item{}, qerrors.ErrNoSession
		}
		c.state = s
	}
	return c.serveLocked(ctx), nil
}

// Reset drops the active session and its persisted state. Fingerprint
// and recent-pattern history are kept.
func (c *Controller) Reset(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.batch != nil {
		c.batch.cancel()
		c.batch = nil
	}
	c.state = nil
	c.kv.Delete(ctx, StateKey)
	c.publish(stream.Event{Type: stream.EventReset})
	c.logger.Info().Msg("Session reset")
}

// Stats reports the active session, loading it from storage if needed.
func (c *Controller) Stats(ctx context.Context) (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == nil {
		s, ok := loadState(ctx, c.kv)
		if !ok {
			return Stats{}, qerrors.ErrNoSession
		}
		c.state = s
	}
	s := c.state
	return Stats{
		Hash:           s.Hash,
		Settings:       s.Settings,
		ExternalQueued: len(s.ExternalQueue),
		LocalQueued:    len(s.LocalQueue),
		Served:         s.Served,
		Discarded:      s.Discarded,
		Duplicates:     s.Duplicates,
		UsedVariants:   len(s.UsedVariants),
		BatchFired:     s.BatchFired,
		BatchPending:   c.batch != nil && c.batch.hash == s.Hash,
		Offline:        s.OfflineNotified,
		RecentPatterns: c.recent.List(),
		Telemetry:      c.telemetry.Snapshot(),
	}, nil
}

// WaitBatch blocks until no batch request is in flight.
func (c *Controller) WaitBatch() {
	c.wg.Wait()
}

// FetchSingle asks the external generator for one validated item. When
// that fails and local fallback is enabled, a local item is returned and
// the reason is announced.
func (c *Controller) FetchSingle(ctx context.Context, settings models.Settings) (models.Item, error) {
	settings = settings.Normalized()

	var item models.Item
	err := qerrors.ErrMissingAPIKey
	if c.external != nil {
		params := agents.Params{
			Bars:       settings.Candles,
			Horizon:    settings.Horizon,
			Difficulty: settings.Difficulty,
			Avoid:      c.recent.Avoid(),
		}
		_, err = c.external.RequestSingle(ctx, params, func(rc models.RawCandidate) error {
			it, verr := c.validator.Validate(rc, settings)
			if verr == nil {
				item = it
			}
			return verr
		})
	}
	if err == nil {
		c.recent.Push(ctx, item.PatternHint)
		return item, nil
	}

	c.telemetry.ExternalFailure(ctx, "single")
	c.logger.Warn().Err(err).Msg("External single generation failed")
	if !c.opts.UseLocalOnFail {
		return models.Item{}, err
	}

	msg := MsgFailed
	if overloadedRe.MatchString(err.Error()) {
		msg = MsgOverloaded
	}
	c.notify(ctx, msg)

	item = c.validateLocal(c.gen.Random(settings.Candles, settings.Horizon, settings.Difficulty), settings)
	c.recent.Push(ctx, item.PatternHint)
	return item, nil
}

// seedLocalLocked fills the local queue with deterministic easy items.
func (c *Controller) seedLocalLocked(ctx context.Context) {
	s := c.state
	seedSettings := models.Settings{
		Difficulty: models.DifficultyEasy,
		Candles:    min(s.Settings.Candles, c.opts.InitialMaxBars),
		Horizon:    s.Settings.Horizon,
	}.Normalized()

	for i := 0; i < c.opts.InitialLocal; i++ {
		it, ok := c.rotateLocked(seedSettings)
		if !ok {
			c.telemetry.PoolExhausted(ctx)
			it = c.validateLocal(c.gen.Random(seedSettings.Candles, seedSettings.Horizon, seedSettings.Difficulty), seedSettings)
		}
		c.enqueueLocalLocked(it)
	}
}

// rotateLocked synthesizes the next deterministic variant for settings.
func (c *Controller) rotateLocked(settings models.Settings) (models.Item, bool) {
	pool := patterns.PoolFor(settings.Difficulty, settings.Candles)
	for {
		pattern, variant, ok := c.state.nextVariant(string(settings.Difficulty), pool, c.gen.Variants())
		if !ok {
			return models.Item{}, false
		}
		it, err := c.gen.ForVariant(settings.Candles, settings.Horizon, settings.Difficulty, pattern, variant)
		if err != nil {
			c.logger.Warn().Err(err).Str("pattern", pattern).Int("variant", variant).Msg("Variant generation failed")
			continue
		}
		return c.validateLocal(it, settings), true
	}
}

// validateLocal runs a synthesized item through the validator. Local
// construction guarantees geometry, so a rejection keeps the original.
func (c *Controller) validateLocal(it models.Item, settings models.Settings) models.Item {
	out, err := c.validator.Validate(models.CandidateFromItem(it), settings)
	if err != nil {
		c.logger.Warn().Err(err).Str("id", it.ID).Msg("Local item failed validation")
		return it
	}
	out.Source = models.SourceLocal
	return out
}

func (c *Controller) enqueueLocalLocked(it models.Item) {
	it.ID = c.uniqueIDLocked(it.ID)
	c.state.LocalQueue = append(c.state.LocalQueue, it)
}

func (c *Controller) uniqueIDLocked(id string) string {
	if id == "" {
		id = uuid.NewString()
	}
	if c.state.IDs[id] {
		id = id + "-" + uuid.NewString()[:8]
	}
	c.state.IDs[id] = true
	return id
}

// serveLocked pops the next item: external queue, then local queue,
// then deterministic rotation, then free random synthesis.
func (c *Controller) serveLocked(ctx context.Context) models.Item {
	s := c.state
	var it models.Item

	switch {
	case len(s.ExternalQueue) > 0:
		it, s.ExternalQueue = s.ExternalQueue[0], s.ExternalQueue[1:]
	case len(s.LocalQueue) > 0:
		it, s.LocalQueue = s.LocalQueue[0], s.LocalQueue[1:]
	default:
		var ok bool
		it, ok = c.rotateLocked(s.Settings)
		if !ok {
			c.telemetry.PoolExhausted(ctx)
			c.logger.Info().Msg("Variant pool exhausted, generating freely")
			it = c.validateLocal(c.gen.Random(s.Settings.Candles, s.Settings.Horizon, s.Settings.Difficulty), s.Settings)
		}
		it.ID = c.uniqueIDLocked(it.ID)
	}

	s.Served++
	saveState(ctx, c.kv, s)

	c.telemetry.Served(ctx, it)
	c.telemetry.QueueDepth(len(s.ExternalQueue), len(s.LocalQueue))
	c.recent.Push(ctx, it.PatternHint)
	served := it.Clone()
	c.publish(stream.Event{Type: stream.EventItemServed, Session: s.Hash, Item: &served})
	logging.LogItemServed(logging.WithSession(c.logger, s.Hash), it.ID, it.PatternHint, string(it.Source), string(it.Label), it.Ambiguous)
	return it
}

// fireBatchLocked issues the one external batch request for the session.
func (c *Controller) fireBatchLocked(settings models.Settings) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if c.opts.BatchTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), c.opts.BatchTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	ticket := &batchTicket{
		hash:      c.state.Hash,
		requestID: uuid.NewString(),
		cancel:    cancel,
	}
	c.batch = ticket
	c.state.BatchFired = true
	c.state.BatchRequestID = ticket.requestID

	params := agents.Params{
		Bars:       settings.Candles,
		Horizon:    settings.Horizon,
		Difficulty: settings.Difficulty,
		Avoid:      c.recent.Avoid(),
		Count:      c.opts.BatchSize,
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		raws, err := c.external.RequestBatch(ctx, params)
		c.ingest(context.WithoutCancel(ctx), ticket, raws, err)
	}()
}

// ingest merges a batch response into the session it was issued for.
func (c *Controller) ingest(ctx context.Context, ticket *batchTicket, raws []models.RawCandidate, err error) {
	c.mu.Lock()
	notice := c.ingestLocked(ctx, ticket, raws, err)
	c.mu.Unlock()

	c.notify(ctx, notice)
}

// ingestLocked returns the notice to send once the lock is released.
func (c *Controller) ingestLocked(ctx context.Context, ticket *batchTicket, raws []models.RawCandidate, err error) string {
	if c.batch == ticket {
		c.batch = nil
	}
	logger := logging.WithSession(c.logger, ticket.hash).With().Str("request_id", ticket.requestID).Logger()

	// A reset or a settings round trip gives the session a new request
	// id, so a late or cancelled response must not touch it.
	s := c.state
	if s == nil || s.Hash != ticket.hash || s.BatchRequestID != ticket.requestID {
		logger.Info().Msg("Discarding batch for a superseded session")
		return ""
	}

	if err != nil {
		c.telemetry.ExternalFailure(ctx, "batch")
		logger.Warn().Err(err).Msg("Batch request failed")
		var notice string
		if !s.OfflineNotified {
			s.OfflineNotified = true
			notice = MsgOffline
		}
		saveState(ctx, c.kv, s)
		return notice
	}

	var accepted, discarded, duplicates int
	for _, raw := range raws {
		it, report, verr := c.validator.ValidateWithReport(raw, s.Settings)
		if verr != nil {
			discarded++
			s.Discarded++
			c.telemetry.Discarded(ctx, discardReason(verr))
			logger.Debug().Err(verr).Msg("Discarded candidate")
			continue
		}
		if derr := c.dedup.Check(ctx, it); derr != nil {
			duplicates++
			s.Duplicates++
			c.telemetry.Discarded(ctx, telemetry.ReasonDuplicate)
			continue
		}

		it.Source = models.SourceExternal
		it.ID = c.uniqueIDLocked(it.ID)
		c.telemetry.Repaired(ctx, report.Renormalized, it.Ambiguous)
		s.ExternalQueue = append(s.ExternalQueue, it)
		accepted++
	}

	saveState(ctx, c.kv, s)
	c.telemetry.QueueDepth(len(s.ExternalQueue), len(s.LocalQueue))
	c.publish(stream.Event{Type: stream.EventBatchIngested, Session: s.Hash, Count: accepted})
	logging.LogBatchIngested(logger, ticket.requestID, len(raws), accepted, discarded, duplicates)
	return ""
}

// notify must be called without c.mu held. An empty msg is a no-op.
func (c *Controller) notify(ctx context.Context, msg string) {
	if msg == "" {
		return
	}
	if err := c.notifier.Send(ctx, notify.Info(msg)); err != nil {
		c.logger.Warn().Err(err).Msg("Notification failed")
	}
}

func (c *Controller) publish(ev stream.Event) {
	if c.events != nil {
		c.events.Publish(ev)
	}
}

func discardReason(err error) string {
	var geom *qerrors.GeometryError
	if qerrors.As(err, &geom) {
		return telemetry.ReasonGeometry
	}
	return telemetry.ReasonSchema
}
