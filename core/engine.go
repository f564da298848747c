package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/araim-monitor/internal/logging"
	"github.com/signalsfoundry/araim-monitor/model"
)

const tracerName = "github.com/signalsfoundry/araim-monitor/core"

// Engine runs solution separation FDE and protection level computation for
// one epoch at a time. It holds no mutable state; the only cross-epoch
// state is the ExclusionState passed in and returned by ProcessEpoch.
type Engine struct {
	cfg    *Config
	log    logging.Logger
	tracer trace.Tracer
}

// EngineOption customises Engine construction.
type EngineOption func(*Engine)

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEngine validates cfg and returns an engine that shares it read-only.
func NewEngine(cfg *Config, opts ...EngineOption) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:    cfg,
		log:    logging.Noop(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine configuration. Callers must not modify it.
func (e *Engine) Config() *Config { return e.cfg }

// ProcessEpoch runs the FDE state machine over one snapshot. It returns the
// epoch output and the exclusion state to commit. prev is never modified.
// A cancelled ctx abandons the epoch and returns ctx.Err() with no state.
func (e *Engine) ProcessEpoch(ctx context.Context, snap *model.MeasurementSnapshot, ism *model.IntegritySupportMessage, prev *ExclusionState) (*EpochOutput, *ExclusionState, error) {
	if snap == nil || ism == nil {
		return nil, nil, fmt.Errorf("%w: snapshot and ISM are required", ErrConfig)
	}
	if prev != nil && !prev.LastEpoch.IsZero() && !snap.Epoch.After(prev.LastEpoch) {
		return nil, nil, fmt.Errorf("%w: %s not after %s", ErrStaleEpoch, snap.Epoch.Format(time.RFC3339Nano), prev.LastEpoch.Format(time.RFC3339Nano))
	}

	ctx, span := e.tracer.Start(ctx, "araim.ProcessEpoch", trace.WithAttributes(
		attribute.String("epoch", snap.Epoch.UTC().Format(time.RFC3339Nano)),
		attribute.Int("observations", len(snap.Observations)),
	))
	defer span.End()

	log := logging.FromContext(ctx, e.log.With(logging.Time("epoch", snap.Epoch)))
	next := prev.Clone()
	next.LastEpoch = snap.Epoch

	out := &EpochOutput{Epoch: snap.Epoch}
	out.enter(StateNominal)

	usable := e.screen(ctx, log, snap, ism, out)

	if err := e.monitorExcluded(ctx, log, snap.Epoch, usable, ism, next, out); err != nil {
		return nil, nil, err
	}

	active := activeObservations(usable, next, nil)
	set, sep, pl, err := e.evaluate(ctx, log, active, ism)
	if err != nil {
		return e.finish(ctx, span, log, out, next, err)
	}
	out.Solution, out.ProtectionLevels, out.Separation = sep.AllInView, pl, sep
	out.ActiveSatellites = append(out.ActiveSatellites[:0], set.ids...)

	if !sep.Detected() {
		return e.finish(ctx, span, log, out, next, nil)
	}

	out.enter(StateFaultDetected)
	log.Warn(ctx, "fault detected",
		logging.Int("tripped_modes", len(sep.Tripped())),
		logging.Bool("chi_squared_tripped", sep.ChiSquaredTripped),
		logging.Float("chi_squared", sep.ChiSquared),
	)
	if e.cfg.EMTLimit > 0 && pl.EMT > e.cfg.EMTLimit {
		return e.finish(ctx, span, log, out, next, &Unavailability{
			Reason: ReasonEffectiveMonitorTooHigh,
			Err:    fmt.Errorf("effective monitor threshold %.2f m exceeds %.2f m", pl.EMT, e.cfg.EMTLimit),
		})
	}

	out.enter(StateCandidateSelection)
	candidates := exclusionCandidates(sep)

	out.enter(StateCandidateTesting)
	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		reduced := activeObservations(usable, next, cand.Mode.Satellites)
		rset, rsep, rpl, err := e.evaluate(ctx, log, reduced, ism)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, nil, ctxErr
			}
			log.Debug(ctx, "exclusion candidate rejected", logging.String("mode", cand.Mode.Name()), logging.Err(err))
			continue
		}
		if rsep.Detected() {
			log.Debug(ctx, "exclusion candidate failed regular test", logging.String("mode", cand.Mode.Name()))
			continue
		}
		if err := rpl.withinLimits(e.cfg); err != nil {
			log.Debug(ctx, "exclusion candidate failed wrong-exclusion test", logging.String("mode", cand.Mode.Name()), logging.Err(err))
			continue
		}

		for _, id := range cand.Mode.Satellites {
			next.exclude(id, snap.Epoch)
		}
		out.Excluded = append(out.Excluded, cand.Mode.Satellites...)
		out.Solution, out.ProtectionLevels, out.Separation = rsep.AllInView, rpl, rsep
		out.ActiveSatellites = append([]model.SatelliteID(nil), rset.ids...)
		out.enter(StateExcluded)
		log.Warn(ctx, "satellites excluded",
			logging.String("mode", cand.Mode.Name()),
			logging.Any("satellites", cand.Mode.Satellites),
			logging.Float("vpl", rpl.Vertical),
			logging.Float("hpl", rpl.Horizontal),
		)
		return e.finish(ctx, span, log, out, next, nil)
	}

	return e.finish(ctx, span, log, out, next, &Unavailability{
		Reason: ReasonNoExclusionCandidate,
		Err:    fmt.Errorf("none of %d candidates passed exclusion tests", len(candidates)),
	})
}

// finish records the outcome. Context errors abandon the epoch; any other
// error becomes an IntegrityUnavailable outcome.
func (e *Engine) finish(ctx context.Context, span trace.Span, log logging.Logger, out *EpochOutput, next *ExclusionState, err error) (*EpochOutput, *ExclusionState, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, nil, ctxErr
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, err
		}
		var u *Unavailability
		if !errors.As(err, &u) {
			u = &Unavailability{Reason: ReasonNumerical, Err: err}
		}
		out.Unavailable = u
		out.Solution = nil
		out.ProtectionLevels = nil
		out.enter(StateIntegrityUnavailable)
		span.SetStatus(codes.Error, string(u.Reason))
		log.Warn(ctx, "integrity unavailable", logging.String("reason", string(u.Reason)), logging.Err(u.Err))
	}
	out.Exclusions = next.Clone().Records
	span.SetAttributes(
		attribute.String("fde.state", out.State.String()),
		attribute.Int("satellites.active", len(out.ActiveSatellites)),
		attribute.Int("satellites.excluded", len(next.Excluded())),
	)
	return out, next, nil
}

// evaluate builds the measurement set for obs and runs solution separation
// and protection levels over it.
func (e *Engine) evaluate(ctx context.Context, log logging.Logger, obs []model.SatelliteObservation, ism *model.IntegritySupportMessage) (*measurementSet, *SeparationResult, *ProtectionLevels, error) {
	set, err := e.buildSet(obs, ism)
	if err != nil {
		return nil, nil, nil, err
	}
	sep, err := e.separate(ctx, set)
	if err != nil {
		return nil, nil, nil, err
	}
	for _, d := range sep.Dropped {
		log.Info(ctx, "fault mode dropped", logging.String("mode", d.Mode.Name()), logging.Float("prior", d.Mode.Prior), logging.Err(d.Err))
	}
	pl, err := ComputeProtectionLevels(sep, e.cfg)
	if err != nil {
		reason := ReasonNumerical
		if errors.Is(err, ErrNonConvergence) {
			reason = ReasonNoPLRoot
		}
		return nil, nil, nil, &Unavailability{Reason: reason, Err: err}
	}
	return set, sep, pl, nil
}

func (e *Engine) buildSet(obs []model.SatelliteObservation, ism *model.IntegritySupportMessage) (*measurementSet, error) {
	if len(obs) == 0 {
		return nil, &Unavailability{Reason: ReasonInsufficientSatellites, Err: fmt.Errorf("%w: no usable satellites", ErrGeometry)}
	}
	tropo, user, rejected := ErrorTermsFromElevation(obs)
	if len(rejected) > 0 {
		return nil, fmt.Errorf("%w: %d observations failed the error model after screening", ErrNumerical, len(rejected))
	}
	ids := make([]model.SatelliteID, len(obs))
	for i, o := range obs {
		ids[i] = o.ID
	}
	cov, err := BuildCovariance(ism, ids, PerSatellite(tropo), PerSatellite(user))
	if err != nil {
		return nil, err
	}
	return newMeasurementSet(obs, ism, cov)
}

// screen drops observations that cannot be monitored: elevations outside
// the error model, missing or invalid ISM entries, duplicates. Each is
// rejected individually without aborting the epoch.
func (e *Engine) screen(ctx context.Context, log logging.Logger, snap *model.MeasurementSnapshot, ism *model.IntegritySupportMessage, out *EpochOutput) []model.SatelliteObservation {
	seen := make(map[model.SatelliteID]struct{}, len(snap.Observations))
	usable := make([]model.SatelliteObservation, 0, len(snap.Observations))
	for _, o := range snap.Observations {
		err := screenObservation(o, ism)
		if err == nil {
			if _, dup := seen[o.ID]; dup {
				err = fmt.Errorf("%w: duplicate observation of %s", ErrDomain, o.ID)
			}
		}
		if err != nil {
			out.Rejected = append(out.Rejected, RejectedSatellite{ID: o.ID, Err: err})
			log.Info(ctx, "observation rejected", logging.String("satellite", string(o.ID)), logging.Err(err))
			continue
		}
		seen[o.ID] = struct{}{}
		usable = append(usable, o)
	}
	return usable
}

func screenObservation(o model.SatelliteObservation, ism *model.IntegritySupportMessage) error {
	if _, err := TropoError(o.Elevation); err != nil {
		return err
	}
	if _, err := UserError(o.Elevation); err != nil {
		return err
	}
	u := o.LineOfSight
	if n := math.Sqrt(u[0]*u[0] + u[1]*u[1] + u[2]*u[2]); n < 0.5 || math.IsNaN(n) {
		return fmt.Errorf("%w: line of sight for %s is not a unit vector", ErrDomain, o.ID)
	}
	if math.IsNaN(o.Residual) || math.IsInf(o.Residual, 0) {
		return fmt.Errorf("%w: residual for %s is not finite", ErrDomain, o.ID)
	}
	entry, ok := ism.Satellite(o.ID)
	if !ok {
		return fmt.Errorf("%w: satellite %s missing from ISM", ErrDomain, o.ID)
	}
	if err := ValidateSatelliteIntegrity(entry); err != nil {
		return fmt.Errorf("satellite %s: %w", o.ID, err)
	}
	p, ok := ism.ConstellationFault(o.Constellation)
	if !ok {
		return fmt.Errorf("%w: constellation %s missing from ISM", ErrDomain, o.Constellation)
	}
	if err := checkProbability(p); err != nil {
		return fmt.Errorf("constellation %s: %w", o.Constellation, err)
	}
	return nil
}

// ValidateSatelliteIntegrity checks one ISM entry: non-negative sigmas and
// bias, fault probability within [0, 1].
func ValidateSatelliteIntegrity(s model.SatelliteIntegrity) error {
	for _, v := range []float64{s.SigmaURA, s.SigmaURE, s.MaxBias} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: ISM term %g must be finite and non-negative", ErrDomain, v)
		}
	}
	return checkProbability(s.PSat)
}

func checkProbability(p float64) error {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return fmt.Errorf("%w: probability %g not in [0, 1]", ErrDomain, p)
	}
	return nil
}

// activeObservations filters usable by the exclusion state and drops the
// satellites listed in without.
func activeObservations(usable []model.SatelliteObservation, state *ExclusionState, without []model.SatelliteID) []model.SatelliteObservation {
	skip := make(map[model.SatelliteID]struct{}, len(without))
	for _, id := range without {
		skip[id] = struct{}{}
	}
	out := make([]model.SatelliteObservation, 0, len(usable))
	for _, o := range usable {
		if state.IsExcluded(o.ID) {
			continue
		}
		if _, ok := skip[o.ID]; ok {
			continue
		}
		out = append(out, o)
	}
	return out
}

// exclusionCandidates ranks the tripped modes. When only the chi-squared
// test tripped, every single-satellite mode is a candidate.
func exclusionCandidates(sep *SeparationResult) []ModeStatistic {
	if tripped := sep.Tripped(); len(tripped) > 0 {
		return tripped
	}
	var out []ModeStatistic
	for _, m := range sep.Modes {
		if len(m.Mode.Satellites) == 1 {
			out = append(out, m)
		}
	}
	rankCandidates(out)
	return out
}

// monitorExcluded runs consistency checks for excluded satellites whose
// recovery period has elapsed. A satellite is restored when re-including it
// trips neither the chi-squared test nor any mode that contains it. Only a
// check that trips counts toward MaxRecoveryAttempts.
func (e *Engine) monitorExcluded(ctx context.Context, log logging.Logger, epoch time.Time, usable []model.SatelliteObservation, ism *model.IntegritySupportMessage, state *ExclusionState, out *EpochOutput) error {
	inView := make(map[model.SatelliteID]struct{}, len(usable))
	for _, o := range usable {
		inView[o.ID] = struct{}{}
	}
	for _, id := range state.Excluded() {
		if !state.recoveryDue(id, epoch, e.cfg) {
			continue
		}
		if _, ok := inView[id]; !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		obs := make([]model.SatelliteObservation, 0, len(usable))
		for _, o := range usable {
			if o.ID == id || !state.IsExcluded(o.ID) {
				obs = append(obs, o)
			}
		}
		passed, err := e.consistencyCheck(ctx, obs, ism, id)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			// No evidence either way; retry after the next check period.
			state.deferCheck(id, epoch)
			log.Debug(ctx, "consistency check unavailable", logging.String("satellite", string(id)), logging.Err(err))
			continue
		}
		if passed {
			state.restore(id)
			out.Recovered = append(out.Recovered, id)
			log.Info(ctx, "satellite restored", logging.String("satellite", string(id)))
			continue
		}
		if state.failCheck(id, epoch, e.cfg.MaxRecoveryAttempts) {
			log.Warn(ctx, "satellite excluded permanently", logging.String("satellite", string(id)), logging.Int("failed_checks", state.Records[id].FailedChecks))
		}
	}
	return nil
}

func (e *Engine) consistencyCheck(ctx context.Context, obs []model.SatelliteObservation, ism *model.IntegritySupportMessage, id model.SatelliteID) (bool, error) {
	set, err := e.buildSet(obs, ism)
	if err != nil {
		return false, err
	}
	sep, err := e.separate(ctx, set)
	if err != nil {
		return false, err
	}
	if sep.ChiSquaredTripped {
		return false, nil
	}
	for _, m := range sep.Tripped() {
		for _, s := range m.Mode.Satellites {
			if s == id {
				return false, nil
			}
		}
	}
	return true, nil
}
