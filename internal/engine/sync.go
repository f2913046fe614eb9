package engine

import (
	"time"

	"github.com/lazypower/reef/internal/config"
	"github.com/lazypower/reef/internal/store"
)

// SyncReport is the outcome of one consistency pass.
type SyncReport struct {
	Advanced         int                 `json:"advanced"`           // units matured this pass
	DanglingLinks    map[string][]string `json:"dangling_links"`     // unit id -> link targets that no longer exist
	MissingFromIndex []string            `json:"missing_from_index"` // unit ids absent from the posting list
	ExpiredHeld      int                 `json:"expired_held"`       // quarantine records past their window
	Repaired         int                 `json:"repaired"`           // units whose links were rewritten
	IndexRebuilt     bool                `json:"index_rebuilt"`
	ExpiredPurged    int                 `json:"expired_purged"`
	Fixed            bool                `json:"fixed"`
}

// SyncOptions selects how much of the maintenance pass mutates the store.
type SyncOptions struct {
	Fix    bool // repair dangling links and purge expired quarantine
	DryRun bool // report only, skipping even maturation and the index rebuild
}

// Sync runs the maintenance pass: mature unit states, rebuild the index,
// detect dangling links and expired quarantine records. Routine upkeep
// (maturation, rebuild) always runs unless DryRun is set; repairs and
// purges additionally require Fix.
//
// Dangling links are expected while their target sits in quarantine; they
// are reported but never repaired before the undo window closes.
func Sync(db *store.DB, g *Guard, cfg config.Config, opts SyncOptions, actor string) (*SyncReport, error) {
	rep := &SyncReport{DanglingLinks: make(map[string][]string)}

	advanced, err := Maturate(db, cfg, time.Now(), !opts.DryRun)
	if err != nil {
		return nil, err
	}
	rep.Advanced = advanced

	units, err := db.ListUnits()
	if err != nil {
		return nil, err
	}
	exists := make(map[string]bool, len(units))
	for _, u := range units {
		exists[u.ID] = true
	}

	for _, u := range units {
		for _, to := range u.Links {
			if !exists[to] {
				rep.DanglingLinks[u.ID] = append(rep.DanglingLinks[u.ID], to)
			}
		}
	}

	indexed, err := db.IndexedUnits()
	if err != nil {
		return nil, err
	}
	for _, u := range units {
		if !indexed[u.ID] && len(store.Tokenize(u.Summary+" "+u.Content)) > 0 {
			rep.MissingFromIndex = append(rep.MissingFromIndex, u.ID)
		}
	}

	expired, err := db.ExpiredQuarantine(time.Now().UnixMilli())
	if err != nil {
		return nil, err
	}
	rep.ExpiredHeld = len(expired)

	if opts.DryRun {
		return rep, nil
	}
	if !opts.Fix {
		if err := db.RebuildIndex(); err != nil {
			return nil, err
		}
		rep.IndexRebuilt = true
		return rep, nil
	}
	rep.Fixed = true

	for id, missing := range rep.DanglingLinks {
		stillQuarantined := false
		for _, to := range missing {
			rec, err := db.GetQuarantine(to)
			if err != nil {
				return nil, err
			}
			if rec != nil {
				stillQuarantined = true
				break
			}
		}
		if stillQuarantined {
			continue
		}

		u, err := db.GetUnit(id)
		if err != nil {
			return nil, err
		}
		if u == nil {
			// The linker itself vanished between the scan and the repair;
			// there is no edge left to rewrite.
			continue
		}
		gone := make(map[string]bool, len(missing))
		for _, to := range missing {
			gone[to] = true
		}
		kept := u.Links[:0]
		for _, to := range u.Links {
			if !gone[to] {
				kept = append(kept, to)
			}
		}
		u.Links = kept
		if err := db.UpdateUnit(u, u.Checksum); err != nil {
			return nil, err
		}
		if err := db.AppendAudit(&store.AuditEntry{
			Op:     store.AuditOpRepair,
			UnitID: id,
			Actor:  actor,
			Reason: "removed links to purged units",
		}); err != nil {
			return nil, err
		}
		rep.Repaired++
	}

	purged, err := g.ExpireQuarantine(actor)
	if err != nil {
		return nil, err
	}
	rep.ExpiredPurged = purged

	if err := db.RebuildIndex(); err != nil {
		return nil, err
	}
	rep.IndexRebuilt = true
	return rep, nil
}
