package engine

import (
	"time"

	"github.com/lazypower/reef/internal/metrics"
	"github.com/lazypower/reef/internal/store"
)

// Health is a point-in-time snapshot of the store's vital signs.
type Health struct {
	SchemaVersion int            `json:"schema_version"`
	Total         int            `json:"total_units"`
	ByState       map[string]int `json:"units_by_state"`
	Quarantined   int            `json:"quarantined"`
	DecayRate7d   float64        `json:"decay_rate_7d"` // deletions / (live + deleted) over the last week
	PendingWrites int            `json:"pending_index_writes"`
}

// HealthSnapshot gathers the health report and pushes the gauges to the
// collector.
func HealthSnapshot(db *store.DB, m metrics.Collector) (*Health, error) {
	if m == nil {
		m = metrics.Nop{}
	}

	counts, err := db.CountsByState()
	if err != nil {
		return nil, err
	}
	total := 0
	for state, n := range counts {
		total += n
		m.SetUnitCount(state, n)
	}

	quarantined, err := db.QuarantineCount()
	if err != nil {
		return nil, err
	}
	m.SetQuarantineOccupancy(quarantined)

	version, err := db.SchemaVersion()
	if err != nil {
		return nil, err
	}

	weekAgo := time.Now().AddDate(0, 0, -7).UnixMilli()
	deletions, err := db.CountAuditOps(store.AuditOpDelete, weekAgo)
	if err != nil {
		return nil, err
	}
	rate := 0.0
	if total+deletions > 0 {
		rate = float64(deletions) / float64(total+deletions)
	}

	return &Health{
		SchemaVersion: version,
		Total:         total,
		ByState:       counts,
		Quarantined:   quarantined,
		DecayRate7d:   rate,
		PendingWrites: db.DirtyWrites(),
	}, nil
}
