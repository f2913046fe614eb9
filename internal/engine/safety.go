package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/lazypower/reef/internal/config"
	"github.com/lazypower/reef/internal/metrics"
	"github.com/lazypower/reef/internal/store"
)

// Destructive batch actions.
const (
	ActionDelete   = "delete"   // quarantine the unit
	ActionSkeleton = "skeleton" // empty the body, keep links
	ActionFossil   = "fossil"   // archive in place
)

// PolicyHaltError reports a destructive batch rejected by the deletion-rate
// ceiling. Nothing from the batch is applied.
type PolicyHaltError struct {
	Rate       float64
	Ceiling    float64
	Deletions  int
	Considered int
}

func (e *PolicyHaltError) Error() string {
	return fmt.Sprintf("rate-ceiling-exceeded: %.2f > %.2f (%d of %d marked for deletion)",
		e.Rate, e.Ceiling, e.Deletions, e.Considered)
}

// Target is one unit in a destructive batch.
type Target struct {
	Unit   *store.Unit
	Action string
	Reason string

	// MergeInto names the unit that absorbs this one's content and
	// lineage before deletion. Only meaningful with ActionDelete.
	MergeInto string
}

// Decision is the guard's ruling on one target.
type Decision struct {
	UnitID  string `json:"unit_id"`
	Action  string `json:"action"`
	Outcome string `json:"outcome"` // "apply" or "skip"
	Note    string `json:"note,omitempty"`
}

// Plan is the classified batch: what would (or did) happen.
type Plan struct {
	Op         string     `json:"op"`
	Considered int        `json:"considered"`
	Deletions  int        `json:"deletions"`
	Rate       float64    `json:"rate"`
	Halted     bool       `json:"halted"`
	Decisions  []Decision `json:"decisions"`
}

// Guard is the sole gate for destructive operations. Every deletion,
// skeletonization, and archival goes through Execute, which enforces the
// scope protections and the batch deletion-rate ceiling before any row is
// touched.
type Guard struct {
	DB      *store.DB
	Cfg     config.SafetyConfig
	Metrics metrics.Collector
	Now     func() time.Time // overridable for expiry tests
}

// NewGuard wires a guard with the no-op collector unless one is given.
func NewGuard(db *store.DB, cfg config.SafetyConfig, m metrics.Collector) *Guard {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Guard{DB: db, Cfg: cfg, Metrics: m, Now: time.Now}
}

func (g *Guard) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// classify is the single decision procedure shared by Preview and Execute,
// so a dry run reports exactly what a live run would do. considered is the
// full candidate population of the operation, which may exceed the
// destructive targets; the deletion rate is deletions / considered.
func (g *Guard) classify(op string, targets []Target, considered int) *Plan {
	plan := &Plan{Op: op, Considered: considered}
	for _, t := range targets {
		d := Decision{UnitID: t.Unit.ID, Action: t.Action, Outcome: "apply"}
		if t.Unit.Scope == store.ScopeAlways {
			d.Outcome = "skip"
			d.Note = "protected scope"
		} else if t.Action == ActionDelete {
			plan.Deletions++
		}
		plan.Decisions = append(plan.Decisions, d)
	}
	if considered > 0 {
		plan.Rate = float64(plan.Deletions) / float64(considered)
		plan.Halted = plan.Rate > g.Cfg.DeletionRateCeiling
	}
	return plan
}

// Preview classifies a batch without mutating anything.
func (g *Guard) Preview(op string, targets []Target, considered int) *Plan {
	return g.classify(op, targets, considered)
}

// Execute applies a destructive batch. A rate-ceiling breach halts the
// whole batch before any mutation and is itself audited; otherwise each
// target is applied and audited individually.
func (g *Guard) Execute(op string, targets []Target, considered int, actor string) (*Plan, error) {
	plan := g.classify(op, targets, considered)

	if plan.Halted {
		halt := &PolicyHaltError{
			Rate:       plan.Rate,
			Ceiling:    g.Cfg.DeletionRateCeiling,
			Deletions:  plan.Deletions,
			Considered: considered,
		}
		if err := g.DB.AppendAudit(&store.AuditEntry{
			Op:     store.AuditOpHalt,
			UnitID: "",
			Actor:  actor,
			Reason: halt.Error(),
		}); err != nil {
			return plan, err
		}
		g.Metrics.PolicyHalt()
		return plan, halt
	}

	expires := g.now().Add(time.Duration(g.Cfg.QuarantineDays) * 24 * time.Hour).UnixMilli()
	for i, t := range targets {
		if plan.Decisions[i].Outcome == "skip" {
			if err := g.DB.AppendAudit(&store.AuditEntry{
				Op:     store.AuditOpSkip,
				UnitID: t.Unit.ID,
				Actor:  actor,
				Reason: plan.Decisions[i].Note,
			}); err != nil {
				return plan, err
			}
			continue
		}

		switch t.Action {
		case ActionFossil:
			if err := g.DB.SetState(t.Unit.ID, store.StateFossil, false); err != nil {
				return plan, err
			}
			if err := g.DB.AppendAudit(&store.AuditEntry{
				Op:          store.AuditOpTransition,
				UnitID:      t.Unit.ID,
				Actor:       actor,
				Reason:      t.Reason,
				BeforeState: t.Unit.State,
				AfterState:  store.StateFossil,
			}); err != nil {
				return plan, err
			}

		case ActionSkeleton:
			if err := g.DB.EmptyContent(t.Unit.ID); err != nil {
				return plan, err
			}
			if err := g.DB.SetState(t.Unit.ID, store.StateSkeleton, false); err != nil {
				return plan, err
			}
			if err := g.DB.AppendAudit(&store.AuditEntry{
				Op:          store.AuditOpTransition,
				UnitID:      t.Unit.ID,
				Actor:       actor,
				Reason:      t.Reason,
				BeforeState: t.Unit.State,
				AfterState:  store.StateSkeleton,
			}); err != nil {
				return plan, err
			}

		case ActionDelete:
			if t.MergeInto != "" {
				if err := g.absorb(t.Unit, t.MergeInto, actor); err != nil {
					return plan, err
				}
			}
			if err := g.DB.QuarantineUnit(t.Unit, t.Reason, expires); err != nil {
				return plan, err
			}
			if err := g.DB.AppendAudit(&store.AuditEntry{
				Op:          store.AuditOpDelete,
				UnitID:      t.Unit.ID,
				Actor:       actor,
				Reason:      t.Reason,
				BeforeState: t.Unit.State,
				AfterState:  store.StateDeleted,
			}); err != nil {
				return plan, err
			}
			g.Metrics.UnitDeleted()

		default:
			return plan, fmt.Errorf("unknown guard action %q for %s", t.Action, t.Unit.ID)
		}
	}

	if n, err := g.DB.QuarantineCount(); err == nil {
		g.Metrics.SetQuarantineOccupancy(n)
	}
	return plan, nil
}

// absorb folds a unit's content and lineage into a surviving target before
// the source is quarantined.
func (g *Guard) absorb(src *store.Unit, intoID, actor string) error {
	dst, err := g.DB.GetUnit(intoID)
	if err != nil {
		return err
	}
	if dst == nil {
		return fmt.Errorf("merge target %s: %w", intoID, store.ErrNotFound)
	}

	merged := strings.TrimRight(dst.Content, "\n")
	if merged != "" {
		merged += "\n\n"
	}
	merged += "[absorbed " + src.ID + "] " + src.Content
	if len(merged) > store.MaxContentChars {
		merged = merged[:store.MaxContentChars]
	}
	dst.Content = merged
	dst.Lineage = append(dst.Lineage, src.ID)

	if err := g.DB.UpdateUnit(dst, dst.Checksum); err != nil {
		return fmt.Errorf("absorb %s into %s: %w", src.ID, intoID, err)
	}
	return g.DB.AppendAudit(&store.AuditEntry{
		Op:     store.AuditOpMerge,
		UnitID: intoID,
		Actor:  actor,
		Reason: "absorbed " + src.ID,
	})
}

// Restore brings a quarantined unit back to its pre-deletion state. A
// missing or expired record is ErrNotFound: past the undo window, the
// deletion is final.
func (g *Guard) Restore(id, actor string) (*store.Unit, error) {
	rec, err := g.DB.GetQuarantine(id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("restore %s: %w", id, store.ErrNotFound)
	}
	if rec.ExpiresAt <= g.now().UnixMilli() {
		return nil, fmt.Errorf("restore %s: undo window elapsed: %w", id, store.ErrNotFound)
	}

	if err := g.DB.ReinsertUnit(rec); err != nil {
		return nil, err
	}
	if err := g.DB.AppendAudit(&store.AuditEntry{
		Op:          store.AuditOpRestore,
		UnitID:      id,
		Actor:       actor,
		Reason:      "restored from quarantine",
		BeforeState: store.StateDeleted,
		AfterState:  rec.Snapshot.State,
	}); err != nil {
		return nil, err
	}

	if n, err := g.DB.QuarantineCount(); err == nil {
		g.Metrics.SetQuarantineOccupancy(n)
	}
	return g.DB.GetUnit(id)
}

// ExpireQuarantine permanently purges records past their undo window and
// returns the number purged.
func (g *Guard) ExpireQuarantine(actor string) (int, error) {
	recs, err := g.DB.ExpiredQuarantine(g.now().UnixMilli())
	if err != nil {
		return 0, err
	}
	for _, rec := range recs {
		if err := g.DB.DeleteQuarantine(rec.UnitID); err != nil {
			return 0, err
		}
		if err := g.DB.AppendAudit(&store.AuditEntry{
			Op:     store.AuditOpPurge,
			UnitID: rec.UnitID,
			Actor:  actor,
			Reason: "quarantine window elapsed",
		}); err != nil {
			return 0, err
		}
	}
	if n, err := g.DB.QuarantineCount(); err == nil {
		g.Metrics.SetQuarantineOccupancy(n)
	}
	return len(recs), nil
}
