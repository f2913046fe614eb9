package engine

import (
	"math"
	"sort"
	"time"

	"github.com/lazypower/reef/internal/config"
	"github.com/lazypower/reef/internal/metrics"
	"github.com/lazypower/reef/internal/store"
)

// Surfacing tiers.
const (
	TierSummary = 1 // id, summary, state
	TierContent = 2 // + full content
	TierLinked  = 3 // + linked neighbors
)

// SurfaceQuery describes one retrieval request.
type SurfaceQuery struct {
	Text   string
	Budget int      // max units returned; 0 means the default
	Tier   int      // 0 or 1..3
	Expand []string // tier >= 2: restrict content expansion to these ids; empty expands all returned
	Fresh  bool     // rebuild the index before searching
}

// DefaultBudget bounds an unspecified surfacing budget.
const DefaultBudget = 10

// LinkedRef is a tier-3 neighbor of a surfaced unit.
type LinkedRef struct {
	ID      string `json:"id"`
	Summary string `json:"summary"`
	Content string `json:"content,omitempty"`
}

// SurfaceResult is one surfaced unit at the requested tier.
type SurfaceResult struct {
	ID          string      `json:"id"`
	Kind        string      `json:"kind"`
	Scope       string      `json:"scope"`
	State       string      `json:"state"`
	Summary     string      `json:"summary"`
	Score       float64     `json:"score"`
	AccessCount int         `json:"access_count"`
	Content     string      `json:"content,omitempty"`
	Linked      []LinkedRef `json:"linked,omitempty"`
}

// Surfacer ranks units against a query and feeds accesses back into the
// lifecycle signals.
type Surfacer struct {
	DB      *store.DB
	Cfg     config.Config
	Metrics metrics.Collector
	Now     func() time.Time
}

// NewSurfacer wires a surfacer with the no-op collector unless one is
// given.
func NewSurfacer(db *store.DB, cfg config.Config, m metrics.Collector) *Surfacer {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Surfacer{DB: db, Cfg: cfg, Metrics: m, Now: time.Now}
}

func (s *Surfacer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Surface returns the best units for the query within the budget, ordered
// by score descending with id as the tiebreak, so identical queries over an
// unchanged store return identical results. Every returned unit is touched,
// which is the feedback loop the lifecycle scores later.
func (s *Surfacer) Surface(q SurfaceQuery) ([]SurfaceResult, error) {
	if q.Fresh {
		if err := s.DB.RebuildIndex(); err != nil {
			return nil, err
		}
	} else if err := s.DB.MaybeRebuildIndex(s.Cfg.Index.RebuildAfterWrites); err != nil {
		return nil, err
	}

	budget := q.Budget
	if budget <= 0 {
		budget = DefaultBudget
	}

	terms := store.Tokenize(q.Text)
	postings, err := s.DB.Postings(terms)
	if err != nil {
		return nil, err
	}
	units, err := s.DB.ListUnits()
	if err != nil {
		return nil, err
	}

	now := s.now().UnixMilli()
	type scored struct {
		unit  *store.Unit
		score float64
	}
	var ranked []scored
	for i := range units {
		u := &units[i]

		lex := 0.0
		for _, term := range terms {
			tf := postings[term][u.ID]
			if tf == 0 {
				continue
			}
			df := len(postings[term])
			lex += float64(tf) * math.Log(1+float64(len(units))/float64(df))
		}

		priority := 0.0
		if u.Kind == store.KindConstraint || u.Scope == store.ScopeAlways {
			priority = 1
		}
		if len(terms) > 0 && lex == 0 && priority == 0 {
			continue
		}

		ref := u.UpdatedAt
		if u.LastAccess != nil && *u.LastAccess > ref {
			ref = *u.LastAccess
		}
		ageDays := float64(now-ref) / msPerDay
		if ageDays < 0 {
			ageDays = 0
		}
		recency := math.Exp(-ageDays / 30)
		usage := clamp01(math.Log1p(float64(u.AccessCount)) / math.Log1p(float64(s.Cfg.Lifecycle.UsageThreshold)))

		score := 0.55*(lex/(lex+1)) + 0.2*recency + 0.15*usage + 0.1*priority
		// Constraints and always-scoped units keep a floor so they are
		// never starved out by fresher material.
		if priority == 1 && score < 0.3 {
			score = 0.3
		}
		ranked = append(ranked, scored{unit: u, score: score})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].unit.ID < ranked[j].unit.ID
	})
	if len(ranked) > budget {
		ranked = ranked[:budget]
	}

	tier := q.Tier
	if tier <= 0 {
		tier = TierSummary
	}
	expand := make(map[string]bool, len(q.Expand))
	for _, id := range q.Expand {
		expand[id] = true
	}

	results := make([]SurfaceResult, 0, len(ranked))
	for _, r := range ranked {
		u := r.unit
		res := SurfaceResult{
			ID:          u.ID,
			Kind:        u.Kind,
			Scope:       u.Scope,
			State:       u.State,
			Summary:     u.Summary,
			Score:       r.score,
			AccessCount: u.AccessCount + 1,
		}
		if tier >= TierContent && (len(expand) == 0 || expand[u.ID]) {
			res.Content = u.Content
		}
		if tier >= TierLinked {
			linked, err := s.resolveLinks(u)
			if err != nil {
				return nil, err
			}
			res.Linked = linked
		}

		if err := s.DB.TouchUnit(u.ID); err != nil {
			return nil, err
		}
		if err := s.maybeRevive(u); err != nil {
			return nil, err
		}
		s.Metrics.UnitSurfaced()
		results = append(results, res)
	}
	return results, nil
}

// maybeRevive reattaches a fossil whose accesses have climbed back to the
// usage threshold. Being read again is what un-archives it.
func (s *Surfacer) maybeRevive(u *store.Unit) error {
	if u.State != store.StateFossil || u.AccessCount+1 < s.Cfg.Lifecycle.UsageThreshold {
		return nil
	}
	if err := s.DB.SetState(u.ID, store.StateAttached, false); err != nil {
		return err
	}
	return s.DB.AppendAudit(&store.AuditEntry{
		Op:          store.AuditOpTransition,
		UnitID:      u.ID,
		Actor:       "automatic",
		Reason:      "fossil revived by access",
		BeforeState: store.StateFossil,
		AfterState:  store.StateAttached,
	})
}

// resolveLinks loads a unit's outbound neighbors for tier-3 results.
func (s *Surfacer) resolveLinks(u *store.Unit) ([]LinkedRef, error) {
	if len(u.Links) == 0 {
		return nil, nil
	}
	linked, err := s.DB.GetUnitsByIDs(u.Links)
	if err != nil {
		return nil, err
	}
	refs := make([]LinkedRef, 0, len(u.Links))
	for _, id := range u.Links {
		if n, ok := linked[id]; ok {
			refs = append(refs, LinkedRef{ID: n.ID, Summary: n.Summary, Content: n.Content})
		}
	}
	return refs, nil
}
