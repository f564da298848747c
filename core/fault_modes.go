package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/signalsfoundry/araim-monitor/model"
)

// FaultMode is a hypothesis that a set of satellites and/or constellations
// is faulted. The all-in-view hypothesis is the zero value.
type FaultMode struct {
	// Satellites lists every satellite removed under this hypothesis,
	// including members of faulted constellations.
	Satellites []model.SatelliteID
	// Constellations lists the constellations hypothesised faulted.
	Constellations []model.ConstellationID
	// Prior is the prior probability of the hypothesis.
	Prior float64

	sources []string
	rows    []int
}

// AllInView reports whether m is the fault-free hypothesis.
func (m FaultMode) AllInView() bool { return len(m.rows) == 0 }

// Order is the number of independent fault sources combined in m.
func (m FaultMode) Order() int {
	if len(m.sources) == 0 {
		return 0
	}
	return strings.Count(m.sources[0], "+") + 1
}

// Name is a stable human-readable label.
func (m FaultMode) Name() string {
	if m.AllInView() {
		return "all-in-view"
	}
	return strings.Join(m.sources, "|")
}

// FaultModeSet is the enumerator output for one epoch.
type FaultModeSet struct {
	// Modes excludes the all-in-view hypothesis.
	Modes []FaultMode
	// MonitoredProbability is the summed prior of Modes.
	MonitoredProbability float64
	// UnmonitoredProbability is the pruned prior mass plus an upper bound
	// on fault combinations above the configured order.
	UnmonitoredProbability float64
}

type faultSource struct {
	name          string
	sat           model.SatelliteID
	constellation model.ConstellationID
	isConst       bool
	p             float64
	rows          []int
}

func rowsKey(rows []int) string {
	var b strings.Builder
	for i, r := range rows {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(r))
	}
	return b.String()
}

// enumerateFaultModes builds every combination of up to cfg.MaxFaultOrder
// fault sources (satellites and constellations), prunes those whose prior
// is below cfg.NegligibleProbability and merges hypotheses that remove the
// same satellites.
func enumerateFaultModes(set *measurementSet, cfg *Config) (*FaultModeSet, error) {
	sources := make([]faultSource, 0, set.size()+len(set.constellations))
	for i, id := range set.ids {
		sources = append(sources, faultSource{name: "sat:" + string(id), sat: id, p: set.pSat[i], rows: []int{i}})
	}
	for c, id := range set.constellations {
		var rows []int
		for i, ci := range set.constOf {
			if ci == c {
				rows = append(rows, i)
			}
		}
		sources = append(sources, faultSource{name: "const:" + string(id), constellation: id, isConst: true, p: set.pConst[c], rows: rows})
	}

	out := &FaultModeSet{}
	byKey := make(map[string]int)

	add := func(chosen []int, prior float64) {
		removed := make(map[int]struct{})
		names := make([]string, 0, len(chosen))
		var consts []model.ConstellationID
		for _, i := range chosen {
			src := sources[i]
			names = append(names, src.name)
			if src.isConst {
				consts = append(consts, src.constellation)
			}
			for _, r := range src.rows {
				removed[r] = struct{}{}
			}
		}
		rows := make([]int, 0, len(removed))
		for r := range removed {
			rows = append(rows, r)
		}
		sort.Ints(rows)
		key := rowsKey(rows)
		label := strings.Join(names, "+")

		if idx, ok := byKey[key]; ok {
			m := &out.Modes[idx]
			m.Prior += prior
			m.sources = append(m.sources, label)
			m.Constellations = mergeConstellations(m.Constellations, consts)
			return
		}
		sats := make([]model.SatelliteID, len(rows))
		for i, r := range rows {
			sats[i] = set.ids[r]
		}
		byKey[key] = len(out.Modes)
		out.Modes = append(out.Modes, FaultMode{
			Satellites:     sats,
			Constellations: consts,
			Prior:          prior,
			sources:        []string{label},
			rows:           rows,
		})
	}

	var pruned float64
	var walk func(start int, chosen []int, prior float64)
	walk = func(start int, chosen []int, prior float64) {
		for i := start; i < len(sources); i++ {
			p := prior * sources[i].p
			next := append(chosen[:len(chosen):len(chosen)], i)
			if p <= 0 || p < cfg.NegligibleProbability {
				pruned += p
			} else {
				add(next, p)
			}
			if len(next) < cfg.MaxFaultOrder {
				walk(i+1, next, p)
			}
		}
	}
	walk(0, nil, 1)

	for _, m := range out.Modes {
		out.MonitoredProbability += m.Prior
	}
	out.UnmonitoredProbability = pruned + higherOrderBound(sources, cfg.MaxFaultOrder)

	if total := out.MonitoredProbability + out.UnmonitoredProbability; total > 1+1e-12 {
		return nil, fmt.Errorf("%w: fault mode probabilities sum to %g", ErrNumerical, total)
	}
	return out, nil
}

// higherOrderBound returns the elementary symmetric polynomial of degree
// order+1 over the source probabilities, an upper bound on the probability
// that more than order sources fault simultaneously.
func higherOrderBound(sources []faultSource, order int) float64 {
	e := make([]float64, order+2)
	e[0] = 1
	for _, s := range sources {
		for j := order + 1; j >= 1; j-- {
			e[j] += s.p * e[j-1]
		}
	}
	return e[order+1]
}

func mergeConstellations(a, b []model.ConstellationID) []model.ConstellationID {
	seen := make(map[model.ConstellationID]struct{}, len(a))
	for _, c := range a {
		seen[c] = struct{}{}
	}
	for _, c := range b {
		if _, ok := seen[c]; !ok {
			a = append(a, c)
			seen[c] = struct{}{}
		}
	}
	return a
}
