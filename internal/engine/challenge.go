package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/lazypower/reef/internal/config"
	"github.com/lazypower/reef/internal/judge"
	"github.com/lazypower/reef/internal/metrics"
	"github.com/lazypower/reef/internal/store"
)

// Candidate is a unit selected for challenge, with its eligibility score.
type Candidate struct {
	Unit      store.Unit     `json:"unit"`
	Score     float64        `json:"score"`
	Breakdown DecayBreakdown `json:"breakdown"`
	Inbound   int            `json:"inbound"`
}

// Outcome records how one challenge resolved.
type Outcome struct {
	UnitID    string `json:"unit_id"`
	Verdict   string `json:"verdict,omitempty"`
	Result    string `json:"result"` // candidate, defended, calcified, merged, fossil, skeleton, deleted, skipped
	Rationale string `json:"rationale,omitempty"`
}

// Report summarizes one decay run.
type Report struct {
	Considered int       `json:"considered"`
	DryRun     bool      `json:"dry_run"`
	Halted     bool      `json:"halted"`
	Outcomes   []Outcome `json:"outcomes"`
}

// Challenger drives the decay loop: select eligible units, put each before
// the judge, and apply the verdicts through the guard.
type Challenger struct {
	DB      *store.DB
	Guard   *Guard
	Judge   judge.Judge
	Cfg     config.Config
	Metrics metrics.Collector
	Actor   string           // "human" or "automatic", recorded in the audit trail
	Now     func() time.Time // overridable for tests
}

// NewChallenger wires a challenger with the no-op collector unless one is
// given.
func NewChallenger(db *store.DB, g *Guard, j judge.Judge, cfg config.Config, m metrics.Collector, actor string) *Challenger {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Challenger{DB: db, Guard: g, Judge: j, Cfg: cfg, Metrics: m, Actor: actor, Now: time.Now}
}

func (c *Challenger) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Candidates returns the units eligible for challenge this run, ordered
// most-eligible first. Ties break toward lower access counts, then id, so
// repeated runs are deterministic. The batch is capped so one run can never
// put the whole store on trial.
func (c *Challenger) Candidates() ([]Candidate, error) {
	units, err := c.DB.ListDecayable()
	if err != nil {
		return nil, err
	}
	inbound, err := c.DB.InboundCounts()
	if err != nil {
		return nil, err
	}

	now := c.now()
	var cands []Candidate
	for _, u := range units {
		score, breakdown := DecayEligibility(&u, inbound[u.ID], now, c.Cfg.Decay)
		if score < c.Cfg.Decay.Threshold {
			continue
		}
		cands = append(cands, Candidate{Unit: u, Score: score, Breakdown: breakdown, Inbound: inbound[u.ID]})
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		if cands[i].Unit.AccessCount != cands[j].Unit.AccessCount {
			return cands[i].Unit.AccessCount < cands[j].Unit.AccessCount
		}
		return cands[i].Unit.ID < cands[j].Unit.ID
	})

	if len(cands) > c.Cfg.Decay.BatchSize {
		cands = cands[:c.Cfg.Decay.BatchSize]
	}
	return cands, nil
}

// ruling pairs a candidate with its verdict and the disposition derived
// from it.
type ruling struct {
	cand        Candidate
	verdict     *judge.Verdict
	action      string // "" means defend
	mergeInto   string
	targetIndex int // index into the guard batch, -1 for defends
}

// Run executes one decay pass. With dryRun the candidates are reported and
// nothing is judged or mutated. A halted batch leaves every candidate
// exactly as it was.
func (c *Challenger) Run(ctx context.Context, dryRun bool) (*Report, error) {
	cands, err := c.Candidates()
	if err != nil {
		return nil, err
	}
	rep := &Report{Considered: len(cands), DryRun: dryRun}

	if dryRun {
		for _, cand := range cands {
			rep.Outcomes = append(rep.Outcomes, Outcome{
				UnitID:    cand.Unit.ID,
				Result:    "candidate",
				Rationale: fmt.Sprintf("eligibility %.2f (stale %.2f, orphan %.2f)", cand.Score, cand.Breakdown.Staleness, cand.Breakdown.Orphanhood),
			})
		}
		return rep, nil
	}

	rulings, err := c.judgeAll(ctx, cands)
	if err != nil {
		return rep, err
	}

	var targets []Target
	for i := range rulings {
		r := &rulings[i]
		r.targetIndex = -1
		if r.action == "" {
			continue
		}
		r.targetIndex = len(targets)
		reason := r.verdict.Rationale
		if reason == "" {
			reason = "decay verdict: " + r.verdict.Action
		}
		targets = append(targets, Target{
			Unit:      &r.cand.Unit,
			Action:    r.action,
			Reason:    reason,
			MergeInto: r.mergeInto,
		})
	}

	plan, err := c.Guard.Execute("decay", targets, len(cands), c.Actor)
	if err != nil {
		var halt *PolicyHaltError
		if errors.As(err, &halt) {
			for _, cand := range cands {
				if rerr := c.DB.RevertChallenge(cand.Unit.ID); rerr != nil {
					return rep, rerr
				}
			}
			rep.Halted = true
			return rep, err
		}
		return rep, err
	}

	for _, r := range rulings {
		out := Outcome{UnitID: r.cand.Unit.ID, Verdict: r.verdict.Action, Rationale: r.verdict.Rationale}
		if r.action == "" {
			result, err := c.applyDefend(r.cand)
			if err != nil {
				return rep, err
			}
			out.Result = result
			c.Metrics.ChallengeResolved(judge.ActionDefend)
		} else {
			d := plan.Decisions[r.targetIndex]
			if d.Outcome == "skip" {
				out.Result = "skipped"
			} else {
				switch r.action {
				case ActionDelete:
					if r.mergeInto != "" {
						out.Result = "merged"
					} else {
						out.Result = "deleted"
					}
				case ActionFossil:
					out.Result = "fossil"
				case ActionSkeleton:
					out.Result = "skeleton"
				}
			}
			c.Metrics.ChallengeResolved(r.verdict.Action)
		}
		rep.Outcomes = append(rep.Outcomes, out)
	}
	return rep, nil
}

// judgeAll marks each candidate challenged and collects verdicts. Judge
// failure or timeout never kills a unit: the verdict falls back to defend.
func (c *Challenger) judgeAll(ctx context.Context, cands []Candidate) ([]ruling, error) {
	timeout := time.Duration(c.Cfg.Decay.JudgeTimeoutSecs) * time.Second
	rulings := make([]ruling, 0, len(cands))

	for _, cand := range cands {
		if err := c.DB.SetState(cand.Unit.ID, store.StateChallenged, true); err != nil {
			return nil, err
		}
		if err := c.DB.AppendAudit(&store.AuditEntry{
			Op:          store.AuditOpChallenge,
			UnitID:      cand.Unit.ID,
			Actor:       c.Actor,
			Reason:      fmt.Sprintf("eligibility %.2f", cand.Score),
			BeforeState: cand.Unit.State,
			AfterState:  store.StateChallenged,
		}); err != nil {
			return nil, err
		}

		jctx, cancel := context.WithTimeout(ctx, timeout)
		v, err := c.Judge.Judge(jctx, c.subject(cand))
		cancel()
		if err != nil {
			log.Printf("judge %s unavailable for %s: %v; defending", c.Judge.Name(), cand.Unit.ID, err)
			v = &judge.Verdict{Action: judge.ActionDefend, Rationale: "judge unavailable"}
		}

		r := ruling{cand: cand, verdict: v}
		switch v.Action {
		case judge.ActionMerge:
			target, err := c.mergeTarget(cand)
			if err != nil {
				return nil, err
			}
			if target == "" {
				// Nothing to fold into; preserving beats guessing.
				r.verdict = &judge.Verdict{Action: judge.ActionDefend, Rationale: "merge verdict with no viable target"}
			} else {
				r.action = ActionDelete
				r.mergeInto = target
			}
		case judge.ActionDecompose:
			r.action = c.disposal(cand, v)
		}
		rulings = append(rulings, r)
	}
	return rulings, nil
}

// disposal picks the decomposed form. A superseded unit keeps its place in
// the graph as a skeleton; an explicit disposal from the judge is honored;
// otherwise trusted or well-used units are archived and the rest discarded.
func (c *Challenger) disposal(cand Candidate, v *judge.Verdict) string {
	if v.Superseded {
		return ActionSkeleton
	}
	switch v.Disposal {
	case "fossil":
		return ActionFossil
	case "delete":
		return ActionDelete
	}
	if cand.Unit.TrustScore >= 0.5 || cand.Unit.AccessCount >= c.Cfg.Lifecycle.UsageThreshold {
		return ActionFossil
	}
	return ActionDelete
}

// applyDefend reverts a challenged unit with the access baseline, then
// promotes it to calcified if its refreshed score clears the bar. A unit
// that survives its trial has earned standing.
func (c *Challenger) applyDefend(cand Candidate) (string, error) {
	if err := c.DB.SetDefended(cand.Unit.ID, c.Cfg.Decay.DefendBaseline); err != nil {
		return "", err
	}
	if err := c.DB.AppendAudit(&store.AuditEntry{
		Op:          store.AuditOpDefend,
		UnitID:      cand.Unit.ID,
		Actor:       c.Actor,
		Reason:      "survived challenge",
		BeforeState: store.StateChallenged,
		AfterState:  cand.Unit.State,
	}); err != nil {
		return "", err
	}

	u, err := c.DB.GetUnit(cand.Unit.ID)
	if err != nil || u == nil {
		return "defended", err
	}
	score, err := CalcScore(u, cand.Inbound, c.now(), c.Cfg.Lifecycle)
	if err != nil {
		return "defended", err
	}
	if score >= c.Cfg.Lifecycle.CalcifyThreshold && u.State != store.StateCalcified {
		if err := c.DB.SetState(u.ID, store.StateCalcified, false); err != nil {
			return "defended", err
		}
		if err := c.DB.AppendAudit(&store.AuditEntry{
			Op:          store.AuditOpTransition,
			UnitID:      u.ID,
			Actor:       c.Actor,
			Reason:      fmt.Sprintf("calcified on defense, score %.2f", score),
			BeforeState: u.State,
			AfterState:  store.StateCalcified,
		}); err != nil {
			return "defended", err
		}
		return "calcified", nil
	}
	return "defended", nil
}

// mergeTarget picks the unit to absorb a merge candidate: the live unit
// sharing the most graph edges with it, falling back to the most recent
// unit of the same kind. Returns "" when no viable target exists.
func (c *Challenger) mergeTarget(cand Candidate) (string, error) {
	neighbors := make(map[string]int)
	for _, to := range cand.Unit.Links {
		neighbors[to] += 2 // direct edge outweighs a shared neighbor
	}
	inbound, err := c.DB.InboundLinks(cand.Unit.ID)
	if err != nil {
		return "", err
	}
	for _, from := range inbound {
		neighbors[from] += 2
	}

	units, err := c.DB.ListUnits()
	if err != nil {
		return "", err
	}
	linkSet := make(map[string]bool, len(cand.Unit.Links))
	for _, to := range cand.Unit.Links {
		linkSet[to] = true
	}

	live := func(u *store.Unit) bool {
		_, staged := stageRank[u.State]
		return staged && u.ID != cand.Unit.ID
	}

	bestID, bestScore := "", 0
	var newestSameKind *store.Unit
	for i := range units {
		u := &units[i]
		if !live(u) {
			continue
		}
		overlap := neighbors[u.ID]
		for _, to := range u.Links {
			if linkSet[to] {
				overlap++
			}
		}
		if overlap > bestScore || (overlap == bestScore && overlap > 0 && u.ID < bestID) {
			bestID, bestScore = u.ID, overlap
		}
		if u.Kind == cand.Unit.Kind {
			if newestSameKind == nil || u.CreatedAt > newestSameKind.CreatedAt {
				newestSameKind = u
			}
		}
	}

	if bestID != "" {
		return bestID, nil
	}
	if newestSameKind != nil {
		return newestSameKind.ID, nil
	}
	return "", nil
}

// subject flattens a candidate into what the judge sees.
func (c *Challenger) subject(cand Candidate) judge.Subject {
	now := c.now().UnixMilli()
	u := cand.Unit

	ref := u.UpdatedAt
	if u.LastAccess != nil && *u.LastAccess > ref {
		ref = *u.LastAccess
	}
	return judge.Subject{
		ID:           u.ID,
		Kind:         u.Kind,
		Scope:        u.Scope,
		Summary:      u.Summary,
		Content:      u.Content,
		AgeDays:      int((now - u.CreatedAt) / msPerDay),
		StaleDays:    int((now - ref) / msPerDay),
		AccessCount:  u.AccessCount,
		InboundLinks: cand.Inbound,
		TrustScore:   u.TrustScore,
	}
}
