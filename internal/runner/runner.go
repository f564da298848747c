// Package runner drives the integrity engine once per epoch and commits
// its results.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/araim-monitor/core"
	"github.com/signalsfoundry/araim-monitor/internal/feed"
	"github.com/signalsfoundry/araim-monitor/internal/logging"
	"github.com/signalsfoundry/araim-monitor/internal/measurement"
	"github.com/signalsfoundry/araim-monitor/internal/observability"
	"github.com/signalsfoundry/araim-monitor/internal/store"
	"github.com/signalsfoundry/araim-monitor/timectrl"
)

// Publisher receives every committed epoch.
type Publisher interface {
	Publish(out *core.EpochOutput, state *core.ExclusionState)
}

// Archiver records committed epoch summaries.
type Archiver interface {
	Write(runID string, s core.EpochSummary)
}

// Runner owns the per-epoch pipeline: snapshot, ISM, engine, commit,
// then metrics, publishers and archive.
type Runner struct {
	engine  *core.Engine
	source  measurement.Source
	feed    feed.Feed
	store   store.ExclusionStore
	log     logging.Logger
	metrics *observability.FDECollector
	archive Archiver
	pubs    []Publisher
	runID   string

	mu       sync.Mutex
	cancel   context.CancelFunc
	inFlight chan struct{}
	wg       sync.WaitGroup
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger attaches a logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// WithMetrics records epoch metrics.
func WithMetrics(m *observability.FDECollector) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithArchive writes committed summaries to a.
func WithArchive(a Archiver) Option {
	return func(r *Runner) { r.archive = a }
}

// WithPublisher adds a publisher.
func WithPublisher(p Publisher) Option {
	return func(r *Runner) {
		if p != nil {
			r.pubs = append(r.pubs, p)
		}
	}
}

// WithRunID sets the session identifier; a fresh one is generated otherwise.
func WithRunID(id string) Option {
	return func(r *Runner) {
		if id != "" {
			r.runID = id
		}
	}
}

// New builds a runner.
func New(engine *core.Engine, source measurement.Source, f feed.Feed, st store.ExclusionStore, opts ...Option) (*Runner, error) {
	if engine == nil || source == nil || f == nil || st == nil {
		return nil, fmt.Errorf("%w: runner needs an engine, a source, a feed and a store", core.ErrConfig)
	}
	r := &Runner{
		engine: engine,
		source: source,
		feed:   f,
		store:  st,
		log:    logging.Noop(),
		runID:  logging.NewRunID(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RunID returns the session identifier.
func (r *Runner) RunID() string { return r.runID }

// Run drives the runner from ctrl until duration elapses or ctx is done.
// Real-time epochs are processed asynchronously and a newer epoch cancels
// one still in flight; accelerated epochs are processed inline.
func (r *Runner) Run(ctx context.Context, ctrl *timectrl.EpochController, duration time.Duration) error {
	if ctrl.Mode == timectrl.Accelerated {
		ctrl.AddListener(func(ctx context.Context, epoch time.Time) {
			_ = r.ProcessEpoch(ctx, epoch)
		})
	} else {
		ctrl.AddListener(r.OnEpoch)
	}
	err := ctrl.Run(ctx, duration)
	r.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// OnEpoch starts processing epoch in the background, superseding any
// epoch still in flight. Commits stay in epoch order.
func (r *Runner) OnEpoch(ctx context.Context, epoch time.Time) {
	r.mu.Lock()
	prev := r.inFlight
	if r.cancel != nil {
		select {
		case <-prev:
		default:
			r.metrics.IncSuperseded()
			r.log.Debug(ctx, "epoch superseded", logging.Time("by", epoch))
		}
		r.cancel()
	}
	ectx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel, r.inFlight = cancel, done
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(done)
		defer cancel()
		if prev != nil {
			<-prev
		}
		_ = r.ProcessEpoch(ectx, epoch)
	}()
}

// Wait blocks until every started epoch has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// ProcessEpoch runs the pipeline for one epoch. Nothing is committed when
// ctx is cancelled before the commit. Stale epochs are skipped silently.
func (r *Runner) ProcessEpoch(ctx context.Context, epoch time.Time) (err error) {
	start := time.Now()
	ctx, span := observability.StartEpochSpan(ctx, r.runID, epoch)
	defer func() { observability.EndEpochSpan(span, err) }()
	ctx, log := logging.WithEpochLogger(ctx, r.log, r.runID, epoch)

	snap, err := r.source.Snapshot(ctx, epoch)
	if err != nil {
		return r.skip(ctx, log, "measurement snapshot unavailable", err)
	}
	ism, err := r.feed.ISM(ctx, epoch)
	if err != nil {
		return r.skip(ctx, log, "integrity support message unavailable", err)
	}
	prev, err := r.store.Load(ctx)
	if err != nil {
		return r.skip(ctx, log, "load exclusion state", err)
	}

	out, next, err := r.engine.ProcessEpoch(ctx, snap, ism, prev)
	if err != nil {
		return r.skip(ctx, log, "epoch not processed", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err = r.store.Commit(ctx, next)
	r.metrics.ObserveCommit(err)
	if err != nil {
		return r.skip(ctx, log, "commit exclusion state", err)
	}

	r.metrics.RecordEpoch(out, len(next.Excluded()), time.Since(start))
	for _, p := range r.pubs {
		p.Publish(out, next)
	}
	summary := out.Summary()
	if r.archive != nil {
		r.archive.Write(r.runID, summary)
	}

	fields := []logging.Field{
		logging.String("state", summary.State),
		logging.Int("active", len(summary.Active)),
		logging.Duration("took", time.Since(start)),
	}
	if summary.Available {
		fields = append(fields, logging.Float("vpl", summary.VPL), logging.Float("hpl", summary.HPL))
	} else {
		fields = append(fields, logging.String("reason", summary.Reason))
	}
	log.Info(ctx, "epoch processed", fields...)
	return nil
}

// skip logs why an epoch produced no commit. Cancellation and stale
// snapshots are routine and logged at debug.
func (r *Runner) skip(ctx context.Context, log logging.Logger, msg string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, core.ErrStaleEpoch), errors.Is(err, measurement.ErrNoSnapshot):
		log.Debug(ctx, msg, logging.Err(err))
	default:
		log.Warn(ctx, msg, logging.Err(err))
	}
	return err
}
