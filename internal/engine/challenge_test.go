package engine

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/lazypower/reef/internal/config"
	"github.com/lazypower/reef/internal/judge"
	"github.com/lazypower/reef/internal/store"
)

func newChallenger(db *store.DB, cfg config.Config, j judge.Judge) *Challenger {
	g := NewGuard(db, cfg.Safety, nil)
	return NewChallenger(db, g, j, cfg, nil, "automatic")
}

// staleUnit creates a unit well past both decay windows.
func staleUnit(t *testing.T, db *store.DB, u store.Unit) store.Unit {
	t.Helper()
	created := mkUnit(t, db, u)
	backdate(t, db, created.ID, 90)
	got, err := db.GetUnit(created.ID)
	if err != nil {
		t.Fatalf("reload %s: %v", created.ID, err)
	}
	return *got
}

func TestCandidatesOrderedAndCapped(t *testing.T) {
	db := testDB(t)
	cfg := testCfg()

	older := mkUnit(t, db, store.Unit{ID: "cand-older"})
	backdate(t, db, older.ID, 150)
	staleUnit(t, db, store.Unit{ID: "cand-b"})
	staleUnit(t, db, store.Unit{ID: "cand-a"})

	c := newChallenger(db, cfg, &judge.Mock{})
	cands, err := c.Candidates()
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(cands) != 3 {
		t.Fatalf("candidates = %d, want 3", len(cands))
	}
	if cands[0].Unit.ID != "cand-older" {
		t.Errorf("first candidate = %s, want the most eligible", cands[0].Unit.ID)
	}
	// Equal scores break toward lexically smaller id.
	if cands[1].Unit.ID != "cand-a" || cands[2].Unit.ID != "cand-b" {
		t.Errorf("tie order = %s, %s; want cand-a then cand-b", cands[1].Unit.ID, cands[2].Unit.ID)
	}

	cfg.Decay.BatchSize = 2
	c = newChallenger(db, cfg, &judge.Mock{})
	cands, err = c.Candidates()
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(cands) != 2 {
		t.Errorf("capped candidates = %d, want 2", len(cands))
	}
}

func TestAlwaysScopeNeverChallenged(t *testing.T) {
	db := testDB(t)
	protected := mkUnit(t, db, store.Unit{ID: "eternal", Scope: store.ScopeAlways})
	backdate(t, db, protected.ID, 300)

	c := newChallenger(db, testCfg(), &judge.Mock{})
	cands, err := c.Candidates()
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(cands) != 0 {
		t.Errorf("candidates = %d, always-scoped unit selected", len(cands))
	}
}

func TestDryRunTouchesNothing(t *testing.T) {
	db := testDB(t)
	staleUnit(t, db, store.Unit{ID: "dry-1"})
	staleUnit(t, db, store.Unit{ID: "dry-2"})

	mock := &judge.Mock{}
	c := newChallenger(db, testCfg(), mock)
	rep, err := c.Run(context.Background(), true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Considered != 2 || !rep.DryRun {
		t.Errorf("report = %+v, want 2 considered dry-run", rep)
	}
	for _, out := range rep.Outcomes {
		if out.Result != "candidate" {
			t.Errorf("dry-run outcome = %+v", out)
		}
	}
	if len(mock.Calls) != 0 {
		t.Error("dry run consulted the judge")
	}
	for _, id := range []string{"dry-1", "dry-2"} {
		u, _ := db.GetUnit(id)
		if u.State != store.StateDrifting {
			t.Errorf("unit %s state = %s, dry run mutated it", id, u.State)
		}
	}
}

func TestJudgeFailureDefends(t *testing.T) {
	db := testDB(t)
	u := staleUnit(t, db, store.Unit{ID: "survivor"})

	c := newChallenger(db, testCfg(), &judge.Mock{Err: errors.New("model fell over")})
	rep, err := c.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Outcomes[0].Result != "defended" {
		t.Errorf("outcome = %+v, want defended", rep.Outcomes[0])
	}

	got, _ := db.GetUnit(u.ID)
	if got.State != store.StateDrifting {
		t.Errorf("state = %s, want prior state restored", got.State)
	}
	if got.AccessCount != testCfg().Decay.DefendBaseline {
		t.Errorf("access count = %d, want defend baseline %d", got.AccessCount, testCfg().Decay.DefendBaseline)
	}
	if got.PriorState != "" {
		t.Errorf("prior state = %q, want cleared", got.PriorState)
	}
}

func TestJudgeTimeoutDefends(t *testing.T) {
	db := testDB(t)
	u := staleUnit(t, db, store.Unit{ID: "slow-judged"})

	// A cancelled context makes the per-unit deadline fire immediately.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newChallenger(db, testCfg(), &judge.Mock{Delay: 10 * time.Millisecond})
	rep, err := c.Run(ctx, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Outcomes[0].Result != "defended" {
		t.Errorf("outcome = %+v, want fail-safe defend", rep.Outcomes[0])
	}
	got, _ := db.GetUnit(u.ID)
	if got.State != store.StateDrifting {
		t.Errorf("state = %s, want prior state", got.State)
	}
}

func TestDecomposeUntrustedIsDeleted(t *testing.T) {
	db := testDB(t)
	cfg := testCfg()
	cfg.Safety.DeletionRateCeiling = 1.0
	u := staleUnit(t, db, store.Unit{ID: "discard-me", TrustScore: 0.3})

	c := newChallenger(db, cfg, &judge.Mock{Verdict: &judge.Verdict{Action: judge.ActionDecompose}})
	rep, err := c.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Outcomes[0].Result != "deleted" {
		t.Errorf("outcome = %+v, want deleted", rep.Outcomes[0])
	}
	if live, _ := db.GetUnit(u.ID); live != nil {
		t.Error("decomposed unit still live")
	}
	if rec, _ := db.GetQuarantine(u.ID); rec == nil {
		t.Error("decomposed unit not quarantined")
	}
}

func TestDecomposeTrustedBecomesFossil(t *testing.T) {
	db := testDB(t)
	cfg := testCfg()
	cfg.Safety.DeletionRateCeiling = 1.0
	u := staleUnit(t, db, store.Unit{ID: "archive-me", Content: "hard-won context"})

	c := newChallenger(db, cfg, &judge.Mock{Verdict: &judge.Verdict{Action: judge.ActionDecompose}})
	rep, err := c.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Outcomes[0].Result != "fossil" {
		t.Errorf("outcome = %+v, want fossil", rep.Outcomes[0])
	}
	got, _ := db.GetUnit(u.ID)
	if got.State != store.StateFossil {
		t.Errorf("state = %s, want fossil", got.State)
	}
	if got.Content != "hard-won context" {
		t.Errorf("fossil lost its content: %q", got.Content)
	}
}

func TestDecomposeSupersededBecomesSkeleton(t *testing.T) {
	db := testDB(t)
	cfg := testCfg()
	cfg.Safety.DeletionRateCeiling = 1.0
	neighbor := mkUnit(t, db, store.Unit{ID: "replacement"})
	u := staleUnit(t, db, store.Unit{ID: "superseded-one", Content: "old ruling", Links: []string{neighbor.ID}})

	c := newChallenger(db, cfg, &judge.Mock{Verdict: &judge.Verdict{Action: judge.ActionDecompose, Superseded: true}})
	rep, err := c.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Outcomes[0].Result != "skeleton" {
		t.Errorf("outcome = %+v, want skeleton", rep.Outcomes[0])
	}
	got, _ := db.GetUnit(u.ID)
	if got.State != store.StateSkeleton || got.Content != "" {
		t.Errorf("unit = state %s content %q, want empty skeleton", got.State, got.Content)
	}
	if len(got.Links) != 1 {
		t.Errorf("links = %v, skeleton lost its edges", got.Links)
	}
}

func TestMergeVerdictAbsorbsIntoLinkedUnit(t *testing.T) {
	db := testDB(t)
	cfg := testCfg()
	cfg.Safety.DeletionRateCeiling = 1.0
	target := mkUnit(t, db, store.Unit{ID: "merge-target", Content: "canonical notes"})
	src := staleUnit(t, db, store.Unit{ID: "merge-source", Content: "duplicate notes", Links: []string{target.ID}})

	c := newChallenger(db, cfg, &judge.Mock{Verdict: &judge.Verdict{Action: judge.ActionMerge}})
	rep, err := c.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Outcomes[0].Result != "merged" {
		t.Errorf("outcome = %+v, want merged", rep.Outcomes[0])
	}

	got, _ := db.GetUnit(target.ID)
	if len(got.Lineage) != 1 || got.Lineage[0] != src.ID {
		t.Errorf("target lineage = %v, want [%s]", got.Lineage, src.ID)
	}
	if live, _ := db.GetUnit(src.ID); live != nil {
		t.Error("merged source still live")
	}
}

func TestMergeWithoutTargetDefends(t *testing.T) {
	db := testDB(t)
	cfg := testCfg()
	cfg.Safety.DeletionRateCeiling = 1.0
	// Sole unit of its kind with no graph edges: nothing to merge into.
	u := staleUnit(t, db, store.Unit{ID: "lonely", Kind: store.KindThread})

	c := newChallenger(db, cfg, &judge.Mock{Verdict: &judge.Verdict{Action: judge.ActionMerge}})
	rep, err := c.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Outcomes[0].Result != "defended" {
		t.Errorf("outcome = %+v, want defend fallback", rep.Outcomes[0])
	}
	if live, _ := db.GetUnit(u.ID); live == nil {
		t.Error("unit deleted despite having no merge target")
	}
}

func TestHaltLeavesStoreUntouched(t *testing.T) {
	db := testDB(t)
	cfg := testCfg() // ceiling 0.25
	for _, id := range []string{"doomed-a", "doomed-b", "doomed-c", "doomed-d"} {
		staleUnit(t, db, store.Unit{ID: id, TrustScore: 0.3})
	}

	before, err := db.ListUnits()
	if err != nil {
		t.Fatalf("ListUnits: %v", err)
	}

	c := newChallenger(db, cfg, &judge.Mock{Verdict: &judge.Verdict{Action: judge.ActionDecompose}})
	rep, err := c.Run(context.Background(), false)
	var halt *PolicyHaltError
	if !errors.As(err, &halt) {
		t.Fatalf("err = %v, want PolicyHaltError", err)
	}
	if !rep.Halted {
		t.Error("report not marked halted")
	}

	after, err := db.ListUnits()
	if err != nil {
		t.Fatalf("ListUnits: %v", err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Error("halted run left the units changed")
	}
	if n, _ := db.QuarantineCount(); n != 0 {
		t.Errorf("quarantine occupancy = %d after halt", n)
	}
}

func TestDefendPromotesHighScorers(t *testing.T) {
	db := testDB(t)
	cfg := testCfg()

	// Old, blessed, and well-linked: defending it should calcify it.
	u := mkUnit(t, db, store.Unit{ID: "bedrock", Blessed: true})
	for _, id := range []string{"fan-1", "fan-2", "fan-3"} {
		mkUnit(t, db, store.Unit{ID: id, Links: []string{u.ID}})
	}
	backdate(t, db, u.ID, 90)
	if err := db.SetState(u.ID, store.StateGrowing, false); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	c := newChallenger(db, cfg, &judge.Mock{Verdict: &judge.Verdict{Action: judge.ActionDefend}})
	rep, err := c.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Considered != 1 {
		t.Fatalf("considered = %d, want 1", rep.Considered)
	}
	if rep.Outcomes[0].Result != "calcified" {
		t.Errorf("outcome = %+v, want calcified", rep.Outcomes[0])
	}
	got, _ := db.GetUnit(u.ID)
	if got.State != store.StateCalcified {
		t.Errorf("state = %s, want calcified", got.State)
	}
}

func TestChallengedUnitReturnsToPriorState(t *testing.T) {
	db := testDB(t)
	cfg := testCfg()

	u := staleUnit(t, db, store.Unit{ID: "once-calcified"})
	if err := db.SetState(u.ID, store.StateCalcified, false); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	c := newChallenger(db, cfg, &judge.Mock{Verdict: &judge.Verdict{Action: judge.ActionDefend}})
	if _, err := c.Run(context.Background(), false); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, _ := db.GetUnit(u.ID)
	if got.State != store.StateCalcified {
		t.Errorf("state = %s, want calcified preserved through the challenge", got.State)
	}
}
