package observability

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/araim-monitor/core"
)

// FDECollector exposes per-epoch integrity monitoring metrics.
type FDECollector struct {
	gatherer prometheus.Gatherer

	Epochs            *prometheus.CounterVec
	Unavailable       *prometheus.CounterVec
	Exclusions        prometheus.Counter
	Recoveries        prometheus.Counter
	Rejected          prometheus.Counter
	Superseded        prometheus.Counter
	ProtectionLevel   *prometheus.GaugeVec
	EMT               prometheus.Gauge
	ActiveSatellites  prometheus.Gauge
	ExcludedSatellite prometheus.Gauge
	MonitoredModes    prometheus.Gauge
	Unmonitored       prometheus.Gauge
	EpochDuration     prometheus.Histogram
	FeedMessages      *prometheus.CounterVec
	FeedReconnects    prometheus.Counter
	StoreCommits      *prometheus.CounterVec
}

// NewFDECollector registers FDE metrics against the provided registerer.
func NewFDECollector(reg prometheus.Registerer) (*FDECollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &FDECollector{gatherer: gathererFor(reg)}

	var err error
	if c.Epochs, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "araim_epochs_total",
		Help: "Processed epochs, labeled by final FDE state.",
	}, []string{"state"}), "araim_epochs_total"); err != nil {
		return nil, err
	}
	if c.Unavailable, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "araim_integrity_unavailable_total",
		Help: "Epochs without a certified solution, labeled by reason.",
	}, []string{"reason"}), "araim_integrity_unavailable_total"); err != nil {
		return nil, err
	}
	if c.FeedMessages, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "araim_ism_messages_total",
		Help: "Integrity support messages received, labeled by result.",
	}, []string{"result"}), "araim_ism_messages_total"); err != nil {
		return nil, err
	}
	if c.StoreCommits, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "araim_exclusion_commits_total",
		Help: "Exclusion state commits, labeled by result (committed, stale or error).",
	}, []string{"result"}), "araim_exclusion_commits_total"); err != nil {
		return nil, err
	}
	if c.ProtectionLevel, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "araim_protection_level_meters",
		Help: "Most recent protection level, labeled by axis (vertical or horizontal).",
	}, []string{"axis"}), "araim_protection_level_meters"); err != nil {
		return nil, err
	}

	counters := []struct {
		dst  *prometheus.Counter
		name string
		help string
	}{
		{&c.Exclusions, "araim_exclusions_total", "Satellites excluded after a detected fault."},
		{&c.Recoveries, "araim_recoveries_total", "Excluded satellites restored after a passing consistency check."},
		{&c.Rejected, "araim_rejected_observations_total", "Observations rejected before monitoring."},
		{&c.Superseded, "araim_superseded_epochs_total", "Epochs abandoned because a newer snapshot arrived."},
		{&c.FeedReconnects, "araim_ism_feed_reconnects_total", "Reconnections made by the integrity support message feed."},
	}
	for _, ct := range counters {
		if *ct.dst, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{Name: ct.name, Help: ct.help}), ct.name); err != nil {
			return nil, err
		}
	}

	gauges := []struct {
		dst  *prometheus.Gauge
		name string
		help string
	}{
		{&c.EMT, "araim_effective_monitor_threshold_meters", "Most recent effective monitor threshold."},
		{&c.ActiveSatellites, "araim_active_satellites", "Satellites in the active set of the last epoch."},
		{&c.ExcludedSatellite, "araim_excluded_satellites", "Satellites currently excluded."},
		{&c.MonitoredModes, "araim_monitored_fault_modes", "Fault modes monitored in the last epoch."},
		{&c.Unmonitored, "araim_unmonitored_probability", "Unmonitored fault probability of the last epoch."},
	}
	for _, g := range gauges {
		if *g.dst, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{Name: g.name, Help: g.help}), g.name); err != nil {
			return nil, err
		}
	}

	if c.EpochDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "araim_epoch_duration_seconds",
		Help:    "Wall-clock duration of one FDE epoch.",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}), "araim_epoch_duration_seconds"); err != nil {
		return nil, err
	}
	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *FDECollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// RecordEpoch updates every epoch-level metric from out. excluded is the
// number of satellites excluded after the epoch was committed.
func (c *FDECollector) RecordEpoch(out *core.EpochOutput, excluded int, d time.Duration) {
	if c == nil || out == nil {
		return
	}
	c.Epochs.WithLabelValues(out.State.String()).Inc()
	c.EpochDuration.Observe(d.Seconds())
	c.Exclusions.Add(float64(len(out.Excluded)))
	c.Recoveries.Add(float64(len(out.Recovered)))
	c.Rejected.Add(float64(len(out.Rejected)))
	c.ActiveSatellites.Set(float64(len(out.ActiveSatellites)))
	c.ExcludedSatellite.Set(float64(excluded))

	if sep := out.Separation; sep != nil {
		c.MonitoredModes.Set(float64(len(sep.Modes)))
		c.Unmonitored.Set(sep.UnmonitoredProbability)
	}
	if out.Unavailable != nil {
		c.Unavailable.WithLabelValues(string(out.Unavailable.Reason)).Inc()
		return
	}
	if pl := out.ProtectionLevels; pl != nil {
		c.ProtectionLevel.WithLabelValues("vertical").Set(pl.Vertical)
		c.ProtectionLevel.WithLabelValues("horizontal").Set(pl.Horizontal)
		c.EMT.Set(pl.EMT)
	}
}

// ObserveCommit counts one exclusion state commit attempt.
func (c *FDECollector) ObserveCommit(err error) {
	if c == nil || c.StoreCommits == nil {
		return
	}
	switch {
	case err == nil:
		c.StoreCommits.WithLabelValues("committed").Inc()
	case errors.Is(err, core.ErrStaleEpoch):
		c.StoreCommits.WithLabelValues("stale").Inc()
	default:
		c.StoreCommits.WithLabelValues("error").Inc()
	}
}

// IncSuperseded counts an abandoned epoch.
func (c *FDECollector) IncSuperseded() {
	if c == nil || c.Superseded == nil {
		return
	}
	c.Superseded.Inc()
}

// ObserveFeedMessage counts one ISM message as "accepted" or "rejected".
func (c *FDECollector) ObserveFeedMessage(accepted bool) {
	if c == nil || c.FeedMessages == nil {
		return
	}
	result := "accepted"
	if !accepted {
		result = "rejected"
	}
	c.FeedMessages.WithLabelValues(result).Inc()
}

// IncFeedReconnects counts a feed reconnection.
func (c *FDECollector) IncFeedReconnects() {
	if c == nil || c.FeedReconnects == nil {
		return
	}
	c.FeedReconnects.Inc()
}
