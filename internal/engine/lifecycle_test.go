package engine

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/lazypower/reef/internal/store"
)

func TestCalcScoreWeightedSignals(t *testing.T) {
	cfg := testCfg().Lifecycle
	u := &store.Unit{
		CreatedAt:   daysAgoMillis(45), // past maturity, time signal saturates
		AccessCount: 5,                 // half the usage threshold
	}

	score, err := CalcScore(u, 2, time.Now(), cfg)
	if err != nil {
		t.Fatalf("CalcScore: %v", err)
	}

	// 0.2*1.0 + 0.3*0.5 + 0.2*0 + 0.3*(2/3)
	want := 0.2 + 0.15 + 0.0 + 0.2
	if math.Abs(score-want) > 0.001 {
		t.Errorf("score = %.4f, want %.4f", score, want)
	}
}

func TestCalcScoreCeremony(t *testing.T) {
	cfg := testCfg().Lifecycle
	u := &store.Unit{CreatedAt: time.Now().UnixMilli(), Blessed: true}

	score, err := CalcScore(u, 0, time.Now(), cfg)
	if err != nil {
		t.Fatalf("CalcScore: %v", err)
	}
	if math.Abs(score-0.2) > 0.001 {
		t.Errorf("blessed fresh unit score = %.4f, want 0.2", score)
	}
}

func TestCalcScoreRejectsMalformedInput(t *testing.T) {
	cfg := testCfg().Lifecycle
	u := &store.Unit{CreatedAt: time.Now().UnixMilli()}

	_, err := CalcScore(u, -1, time.Now(), cfg)
	var verr *store.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("negative inbound: got %v, want ValidationError", err)
	}

	u.AccessCount = -5
	_, err = CalcScore(u, 0, time.Now(), cfg)
	if !errors.As(err, &verr) {
		t.Errorf("negative access count: got %v, want ValidationError", err)
	}
}

func TestStageFor(t *testing.T) {
	cfg := testCfg().Lifecycle
	cases := []struct {
		score float64
		want  string
	}{
		{0.0, store.StateDrifting},
		{0.14, store.StateDrifting},
		{0.15, store.StateAttached},
		{0.39, store.StateAttached},
		{0.5, store.StateGrowing},
		{0.69, store.StateGrowing},
		{0.7, store.StateCalcified},
		{1.0, store.StateCalcified},
	}
	for _, tc := range cases {
		if got := StageFor(tc.score, cfg); got != tc.want {
			t.Errorf("StageFor(%.2f) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestAdvanceIsForwardOnly(t *testing.T) {
	cfg := testCfg().Lifecycle

	// A score below the current stage never demotes.
	u := &store.Unit{State: store.StateGrowing}
	if next, ok := Advance(u, 0.1, cfg); ok {
		t.Errorf("growing unit demoted to %s on low score", next)
	}

	// A score clearing a higher stage advances.
	u.State = store.StateAttached
	next, ok := Advance(u, 0.72, cfg)
	if !ok || next != store.StateCalcified {
		t.Errorf("Advance = %q/%v, want calcified", next, ok)
	}

	// A score of 0.5 leaves a growing unit where it is.
	u.State = store.StateGrowing
	if next, ok := Advance(u, 0.5, cfg); ok {
		t.Errorf("growing unit moved to %s on score 0.5", next)
	}
}

func TestCalcificationIsSticky(t *testing.T) {
	cfg := testCfg().Lifecycle
	u := &store.Unit{State: store.StateCalcified}
	if next, ok := Advance(u, 0.0, cfg); ok {
		t.Errorf("calcified unit demoted to %s", next)
	}
}

func TestAdvanceSkipsNonStagedStates(t *testing.T) {
	cfg := testCfg().Lifecycle
	for _, state := range []string{store.StateChallenged, store.StateFossil, store.StateSkeleton} {
		u := &store.Unit{State: state}
		if next, ok := Advance(u, 1.0, cfg); ok {
			t.Errorf("%s unit advanced to %s through scoring", state, next)
		}
	}
}

func TestCanTransition(t *testing.T) {
	if !CanTransition(store.StateChallenged, store.StateFossil) {
		t.Error("challenged -> fossil must be legal")
	}
	if !CanTransition(store.StateFossil, store.StateAttached) {
		t.Error("fossil -> attached (revival) must be legal")
	}
	if CanTransition(store.StateCalcified, store.StateDrifting) {
		t.Error("calcified -> drifting must be illegal")
	}
	if CanTransition(store.StateDeleted, store.StateAttached) {
		t.Error("deleted is terminal")
	}
}

func TestMaturatePersistsTransitions(t *testing.T) {
	db := testDB(t)
	cfg := testCfg()

	target := mkUnit(t, db, store.Unit{ID: "mature-me", Blessed: true, AccessCount: 10})
	backdate(t, db, target.ID, 40)
	for _, id := range []string{"linker-1", "linker-2", "linker-3"} {
		mkUnit(t, db, store.Unit{ID: id, Links: []string{target.ID}})
	}

	advanced, err := Maturate(db, cfg, time.Now(), true)
	if err != nil {
		t.Fatalf("Maturate: %v", err)
	}
	if advanced != 1 {
		t.Errorf("advanced = %d, want 1", advanced)
	}

	u, err := db.GetUnit(target.ID)
	if err != nil {
		t.Fatalf("GetUnit: %v", err)
	}
	if u.State != store.StateCalcified {
		t.Errorf("state = %s, want calcified", u.State)
	}

	entries, err := db.ListAudit(0)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	found := false
	for _, e := range entries {
		if e.Op == store.AuditOpTransition && e.UnitID == target.ID && e.AfterState == store.StateCalcified {
			found = true
		}
	}
	if !found {
		t.Error("no transition audit entry for the matured unit")
	}
}

func TestMaturateDryCountDoesNotMutate(t *testing.T) {
	db := testDB(t)
	cfg := testCfg()

	u := mkUnit(t, db, store.Unit{ID: "would-mature", Blessed: true, AccessCount: 10})
	backdate(t, db, u.ID, 40)

	advanced, err := Maturate(db, cfg, time.Now(), false)
	if err != nil {
		t.Fatalf("Maturate: %v", err)
	}
	if advanced != 1 {
		t.Errorf("advanced = %d, want 1", advanced)
	}
	got, _ := db.GetUnit(u.ID)
	if got.State != store.StateDrifting {
		t.Errorf("state = %s, want drifting untouched", got.State)
	}
}
