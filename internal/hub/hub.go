// Package hub owns the live environmental data pipeline: it polls the backend
// snapshot, normalizes, classifies, merges and alert-annotates readings, and
// fans immutable state snapshots out to any number of subscribers. It is the
// single process-wide instance every display surface consumes, so no consumer
// re-implements merge, dedup, or alerting.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tranqh/urbanair-hub/internal/cache"
	"github.com/tranqh/urbanair-hub/internal/domain"
	"github.com/tranqh/urbanair-hub/internal/observability"
)

// SnapshotFetcher fetches one full current-state payload from the backend.
// This is the pipeline's only suspension point; everything downstream of it
// runs synchronously inside one cycle.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context) ([]byte, error)
}

// AlertSink receives newly emitted alerts, e.g. a Kafka topic. Optional.
type AlertSink interface {
	PublishAlerts(ctx context.Context, alerts []domain.Alert) error
}

// WindowStore persists the chart window across restarts. Optional.
type WindowStore interface {
	Load(ctx context.Context) []domain.ChartPoint
	Save(ctx context.Context, points []domain.ChartPoint) error
}

// Config carries the hub's tunables.
type Config struct {
	Interval        time.Duration
	FetchTimeout    time.Duration
	AlertLogCap     int
	AlertThresholds [3]float64
	WindowCap       int
}

// Hub is the distribution hub. One instance per process; create with New,
// drive with Run, and read through Current, Subscribe, and Refresh.
type Hub struct {
	fetcher SnapshotFetcher
	store   WindowStore
	sink    AlertSink
	logger  *slog.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock

	interval   time.Duration
	timeout    time.Duration
	windowCap  int
	thresholds [3]float64

	// Owned exclusively by the Run loop once it starts.
	state      domain.MergedState
	evaluator  *domain.AlertEvaluator
	window     *cache.Window
	failures   int
	attempted  bool
	issuedSeq  uint64
	appliedSeq uint64

	ingestCh  chan []domain.StationReading
	refreshCh chan chan error
	ready     atomic.Bool

	mu          sync.RWMutex
	current     *Snapshot
	subscribers []*subscriber
	nextSubID   uint64
}

type subscriber struct {
	id uint64
	ch chan *Snapshot
}

type fetchResult struct {
	seq     uint64
	payload []byte
	err     error
}

// New creates a Hub polling fetcher on cfg.Interval. The store, alert sink,
// and clock are optional collaborators set afterwards.
func New(fetcher SnapshotFetcher, cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Hub {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	if cfg.AlertThresholds == ([3]float64{}) {
		cfg.AlertThresholds = domain.DefaultAlertThresholds
	}
	if cfg.WindowCap <= 0 {
		cfg.WindowCap = cache.DefaultWindowCap
	}

	h := &Hub{
		fetcher:    fetcher,
		logger:     logger,
		metrics:    metrics,
		clock:      clockwork.NewRealClock(),
		interval:   cfg.Interval,
		timeout:    cfg.FetchTimeout,
		windowCap:  cfg.WindowCap,
		thresholds: cfg.AlertThresholds,
		state:      domain.MergedState{},
		evaluator:  domain.NewAlertEvaluator(cfg.AlertLogCap, cfg.AlertThresholds),
		window:     cache.NewWindow(cfg.WindowCap),
		ingestCh:   make(chan []domain.StationReading, 16),
		refreshCh:  make(chan chan error),
	}
	// Subscribers attached before the first cycle still get a coherent view.
	h.current = h.buildSnapshot(0, nil)
	return h
}

// SetStore attaches a persisted chart-window store.
func (h *Hub) SetStore(s WindowStore) { h.store = s }

// SetAlertSink attaches a sink for newly emitted alerts.
func (h *Hub) SetAlertSink(s AlertSink) { h.sink = s }

// SetClock swaps the time source driving the poll ticker. Pass nil to reset
// to real time.
func (h *Hub) SetClock(c clockwork.Clock) {
	if c == nil {
		c = clockwork.NewRealClock()
	}
	h.clock = c
}

// CheckReadiness returns nil once the hub has applied at least one successful
// fetch cycle.
func (h *Hub) CheckReadiness(_ context.Context) error {
	if !h.ready.Load() {
		return errors.New("hub has not completed a fetch cycle yet")
	}
	return nil
}

// Current returns the latest published snapshot. Never nil.
func (h *Hub) Current() *Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Subscribe registers a display consumer. The channel immediately carries the
// current snapshot, then every published one; when the consumer lags, the
// pending snapshot is replaced rather than queued (capacity 1, latest wins).
// The returned cancel func unregisters without affecting other subscribers
// and is safe to call more than once.
func (h *Hub) Subscribe() (<-chan *Snapshot, func()) {
	ch := make(chan *Snapshot, 1)

	h.mu.Lock()
	h.nextSubID++
	id := h.nextSubID
	h.subscribers = append(h.subscribers, &subscriber{id: id, ch: ch})
	cur := h.current
	h.mu.Unlock()

	h.metrics.Subscribers.Inc()
	// A publish may already have filled the channel between Unlock and here;
	// that snapshot is at least as new, so keep it.
	select {
	case ch <- cur:
	default:
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			for i, s := range h.subscribers {
				if s.id == id {
					h.subscribers = append(h.subscribers[:i], h.subscribers[i+1:]...)
					break
				}
			}
			h.mu.Unlock()
			h.metrics.Subscribers.Dec()
		})
	}
	return ch, cancel
}

// Refresh forces an out-of-band fetch cycle and blocks until that cycle's
// merge has been applied, so a freshly attached subscriber can force
// freshness. The returned error is the fetch error of that cycle, nil on a
// clean merge.
func (h *Hub) Refresh(ctx context.Context) error {
	done := make(chan error, 1)
	select {
	case h.refreshCh <- done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ingest hands broker-fed readings to the hub's loop. Safe from any
// goroutine; blocks only while the loop's intake buffer is full.
func (h *Hub) Ingest(ctx context.Context, readings []domain.StationReading) error {
	if len(readings) == 0 {
		return nil
	}
	select {
	case h.ingestCh <- readings:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the fetch loop until ctx is cancelled. One cycle is in flight at
// a time: ticks during a fetch are skipped, and a completion that lost the
// race to a later cycle is discarded by sequence number. On cancellation the
// ticker stops and any in-flight fetch's result is ignored on arrival.
func (h *Hub) Run(ctx context.Context) error {
	if h.store != nil {
		if points := h.store.Load(ctx); len(points) > 0 {
			h.window = cache.NewWindowFrom(h.windowCap, points)
			h.logger.Info("restored cached chart window", "points", h.window.Len())
		}
	}

	results := make(chan fetchResult, 1)
	inFlight := false
	var waiters []chan error

	startFetch := func() {
		inFlight = true
		h.issuedSeq++
		seq := h.issuedSeq
		fetchCtx, cancel := context.WithTimeout(ctx, h.timeout)
		go func() {
			defer cancel()
			payload, err := h.fetcher.FetchSnapshot(fetchCtx)
			select {
			case results <- fetchResult{seq: seq, payload: payload, err: err}:
			case <-ctx.Done():
			}
		}()
	}

	ticker := h.clock.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.Info("hub started", "interval", h.interval)
	h.metrics.Connected.Set(0)
	startFetch()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hub stopping", "reason", ctx.Err())
			for _, w := range waiters {
				w <- ctx.Err()
			}
			return nil

		case <-ticker.Chan():
			if inFlight {
				h.metrics.CyclesSkipped.Inc()
				continue
			}
			startFetch()

		case res := <-results:
			inFlight = false
			if res.seq <= h.appliedSeq {
				// A stale completion must not overwrite newer state.
				continue
			}
			h.applyFetch(ctx, res)
			for _, w := range waiters {
				w <- res.err
			}
			waiters = nil

		case done := <-h.refreshCh:
			waiters = append(waiters, done)
			if !inFlight {
				startFetch()
			}

		case batch := <-h.ingestCh:
			h.applyIngest(ctx, batch)
		}
	}
}

// applyFetch runs the synchronous half of one cycle: normalize, classify,
// merge, evaluate alerts, extend the window, persist, publish.
func (h *Hub) applyFetch(ctx context.Context, res fetchResult) {
	started := time.Now()
	h.metrics.FetchCycles.Inc()
	h.appliedSeq = res.seq
	h.attempted = true

	if res.err != nil {
		h.recordFailure(res.seq, res.err)
		return
	}

	readings, stats, err := domain.NormalizeSnapshot(res.payload)
	if err != nil {
		// An undecodable body is a fetch failure: state stays untouched.
		h.recordFailure(res.seq, err)
		return
	}

	h.failures = 0
	h.metrics.ConsecutiveFailures.Set(0)
	h.metrics.Connected.Set(1)
	h.metrics.ReadingsNormalized.Add(float64(len(readings)))
	if stats.Dropped > 0 {
		h.metrics.ReadingsDropped.Add(float64(stats.Dropped))
		h.logger.Warn("dropped readings without coordinates", "count", stats.Dropped, "total", stats.Total)
	}
	if stats.ClockFallbacks > 0 {
		h.metrics.ClockFallbacks.Add(float64(stats.ClockFallbacks))
		h.logger.Warn("readings stamped with ingestion time", "count", stats.ClockFallbacks)
	}

	changed := h.applyReadings(ctx, readings)
	h.logger.Debug("fetch cycle applied", "seq", res.seq, "readings", len(readings), "changed", changed)

	h.window.Append(domain.DerivePoint(h.state))
	h.persistWindow(ctx)

	h.ready.Store(true)
	h.publish(res.seq, nil)
	h.metrics.CycleDuration.Observe(time.Since(started).Seconds())
}

// applyIngest merges out-of-band broker readings. They follow the same
// strictly-newer rule as polled snapshots, so replays and races with the
// poller cannot regress state. No chart point is derived here: the trend
// window keeps the poll cadence.
func (h *Hub) applyIngest(ctx context.Context, batch []domain.StationReading) {
	changed := h.applyReadings(ctx, batch)
	if changed == 0 {
		return
	}
	h.publish(h.appliedSeq, nil)
}

// applyReadings classifies and merges a batch, evaluates alerts, and returns
// how many readings landed.
func (h *Hub) applyReadings(ctx context.Context, readings []domain.StationReading) int {
	readings = domain.ClassifyAll(readings)
	next, changed := domain.Merge(h.state, readings)
	h.state = next
	if len(changed) == 0 {
		return 0
	}
	h.metrics.ReadingsMerged.Add(float64(len(changed)))

	if alerts := h.evaluator.Evaluate(changed); len(alerts) > 0 {
		h.metrics.AlertsEmitted.Add(float64(len(alerts)))
		h.forwardAlerts(ctx, alerts)
	}
	return len(changed)
}

func (h *Hub) recordFailure(seq uint64, err error) {
	h.failures++
	h.metrics.FetchFailures.Inc()
	h.metrics.ConsecutiveFailures.Set(float64(h.failures))
	h.metrics.Connected.Set(0)
	h.logger.Warn("snapshot fetch failed", "seq", seq, "consecutive_failures", h.failures, "error", err)
	// State stays as-is; only the connectivity surface changes.
	h.publish(seq, err)
}

func (h *Hub) forwardAlerts(ctx context.Context, alerts []domain.Alert) {
	if h.sink == nil {
		return
	}
	if err := h.sink.PublishAlerts(ctx, alerts); err != nil {
		h.logger.Warn("alert sink publish failed", "error", err, "alerts", len(alerts))
	}
}

func (h *Hub) persistWindow(ctx context.Context) {
	if h.store == nil {
		return
	}
	if err := h.store.Save(ctx, h.window.Points()); err != nil {
		h.metrics.CachePersistError.Inc()
		h.logger.Warn("chart window persist failed", "error", err)
	}
}

func (h *Hub) buildSnapshot(seq uint64, fetchErr error) *Snapshot {
	snap := &Snapshot{
		Readings:   h.state,
		Alerts:     h.evaluator.Alerts(),
		Window:     h.window.Points(),
		Connected:  h.attempted && h.failures == 0,
		CycleSeq:   seq,
		UpdatedAt:  h.clock.Now(),
		thresholds: h.thresholds,
	}
	if fetchErr != nil {
		snap.LastError = fetchErr.Error()
	}
	return snap
}

// publish installs a fresh snapshot and notifies subscribers in registration
// order. A subscriber that has not consumed the previous snapshot gets it
// replaced, never queued behind.
func (h *Hub) publish(seq uint64, fetchErr error) {
	snap := h.buildSnapshot(seq, fetchErr)

	h.mu.Lock()
	h.current = snap
	subs := make([]*subscriber, len(h.subscribers))
	copy(subs, h.subscribers)
	h.mu.Unlock()

	for _, sub := range subs {
		deliverSnapshot(sub.ch, snap)
	}
}

// deliverSnapshot places snap in a subscriber's capacity-1 channel, replacing
// an unconsumed older snapshot. Draining can lose a race with the consumer
// taking the old snapshot at the same moment, so the send is retried; with a
// single publishing goroutine the channel cannot refill between a drain and
// the next send, so the loop terminates after at most two rounds.
func deliverSnapshot(ch chan *Snapshot, snap *Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
