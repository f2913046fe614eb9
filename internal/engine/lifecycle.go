// Package engine implements the unit lifecycle: calcification scoring,
// decay eligibility, the challenge loop, destructive-batch safety, and
// surfacing. The store persists; the engine decides.
package engine

import (
	"fmt"
	"time"

	"github.com/lazypower/reef/internal/config"
	"github.com/lazypower/reef/internal/store"
)

const msPerDay = 24 * 60 * 60 * 1000

// Signals is the calcification score broken into its weighted components.
type Signals struct {
	Time      float64 `json:"time"`
	Usage     float64 `json:"usage"`
	Ceremony  float64 `json:"ceremony"`
	Consensus float64 `json:"consensus"`
}

// CalcSignals computes the four calcification signals for a unit, each
// normalized to [0, 1]. inbound is the unit's inbound link count.
func CalcSignals(u *store.Unit, inbound int, now time.Time, cfg config.LifecycleConfig) (Signals, error) {
	if u == nil {
		return Signals{}, &store.ValidationError{Field: "unit", Msg: "nil"}
	}
	if u.AccessCount < 0 {
		return Signals{}, &store.ValidationError{Field: "access_count", Msg: fmt.Sprintf("negative: %d", u.AccessCount)}
	}
	if inbound < 0 {
		return Signals{}, &store.ValidationError{Field: "inbound", Msg: fmt.Sprintf("negative: %d", inbound)}
	}
	if cfg.MaturityDays <= 0 || cfg.UsageThreshold <= 0 || cfg.ConsensusThreshold <= 0 {
		return Signals{}, fmt.Errorf("lifecycle thresholds must be positive")
	}

	ageDays := float64(now.UnixMilli()-u.CreatedAt) / msPerDay
	if ageDays < 0 {
		ageDays = 0
	}

	s := Signals{
		Time:      clamp01(ageDays / float64(cfg.MaturityDays)),
		Usage:     clamp01(float64(u.AccessCount) / float64(cfg.UsageThreshold)),
		Consensus: clamp01(float64(inbound) / float64(cfg.ConsensusThreshold)),
	}
	if u.Blessed {
		s.Ceremony = 1
	}
	return s, nil
}

// CalcScore returns the weighted calcification score in [0, 1].
func CalcScore(u *store.Unit, inbound int, now time.Time, cfg config.LifecycleConfig) (float64, error) {
	s, err := CalcSignals(u, inbound, now, cfg)
	if err != nil {
		return 0, err
	}
	return cfg.WeightTime*s.Time +
		cfg.WeightUsage*s.Usage +
		cfg.WeightCeremony*s.Ceremony +
		cfg.WeightConsensus*s.Consensus, nil
}

// transitions is the legal state graph. Challenged resolutions may land in
// any prior stage (defend), in calcified (defend with a clearing score), or
// in a decomposed form. Fossils revive to attached when accessed enough.
var transitions = map[string]map[string]bool{
	store.StateDrifting:   {store.StateAttached: true, store.StateGrowing: true, store.StateCalcified: true, store.StateChallenged: true},
	store.StateAttached:   {store.StateGrowing: true, store.StateCalcified: true, store.StateChallenged: true},
	store.StateGrowing:    {store.StateCalcified: true, store.StateChallenged: true},
	store.StateCalcified:  {store.StateChallenged: true},
	store.StateChallenged: {store.StateDrifting: true, store.StateAttached: true, store.StateGrowing: true, store.StateCalcified: true, store.StateFossil: true, store.StateSkeleton: true, store.StateDeleted: true},
	store.StateFossil:     {store.StateAttached: true, store.StateDeleted: true},
	store.StateSkeleton:   {store.StateDeleted: true},
	store.StateDeleted:    {},
}

// CanTransition reports whether the state graph permits from → to.
func CanTransition(from, to string) bool {
	return transitions[from][to]
}

// stageRank orders the maturation stages. States outside this map do not
// mature through scoring.
var stageRank = map[string]int{
	store.StateDrifting:  0,
	store.StateAttached:  1,
	store.StateGrowing:   2,
	store.StateCalcified: 3,
}

// StageFor maps a calcification score to its maturation stage.
func StageFor(score float64, cfg config.LifecycleConfig) string {
	switch {
	case score >= cfg.CalcifyThreshold:
		return store.StateCalcified
	case score >= cfg.GrowThreshold:
		return store.StateGrowing
	case score >= cfg.AttachThreshold:
		return store.StateAttached
	default:
		return store.StateDrifting
	}
}

// Advance returns the next stage for a unit given its score. Movement is
// forward-only: a score that drops below a stage threshold never demotes
// the unit, and calcification in particular is permanent outside of a
// challenge verdict.
func Advance(u *store.Unit, score float64, cfg config.LifecycleConfig) (string, bool) {
	cur, ok := stageRank[u.State]
	if !ok {
		return "", false
	}
	target := StageFor(score, cfg)
	if stageRank[target] <= cur {
		return "", false
	}
	return target, true
}

// Maturate runs one scoring pass over every stage-ranked unit and, when
// apply is set, persists the forward transitions. Returns the number of
// units advanced (or that would advance).
func Maturate(db *store.DB, cfg config.Config, now time.Time, apply bool) (int, error) {
	units, err := db.ListUnits()
	if err != nil {
		return 0, err
	}
	inbound, err := db.InboundCounts()
	if err != nil {
		return 0, err
	}

	advanced := 0
	for i := range units {
		u := &units[i]
		if _, ok := stageRank[u.State]; !ok {
			continue
		}
		score, err := CalcScore(u, inbound[u.ID], now, cfg.Lifecycle)
		if err != nil {
			return advanced, fmt.Errorf("score unit %s: %w", u.ID, err)
		}
		next, ok := Advance(u, score, cfg.Lifecycle)
		if !ok {
			continue
		}
		advanced++
		if !apply {
			continue
		}
		if err := db.SetState(u.ID, next, false); err != nil {
			return advanced, err
		}
		if err := db.AppendAudit(&store.AuditEntry{
			Op:          store.AuditOpTransition,
			UnitID:      u.ID,
			Actor:       "automatic",
			Reason:      fmt.Sprintf("calcification score %.2f", score),
			BeforeState: u.State,
			AfterState:  next,
		}); err != nil {
			return advanced, err
		}
	}
	return advanced, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
