package engine

import (
	"time"

	"github.com/lazypower/reef/internal/config"
	"github.com/lazypower/reef/internal/store"
)

// DecayBreakdown is the eligibility score split into its components.
type DecayBreakdown struct {
	Staleness  float64 `json:"staleness"`
	Orphanhood float64 `json:"orphanhood"`
}

// DecayEligibility scores how ready a unit is to be challenged, in [0, 1].
//
// Staleness only registers once the unit has gone unaccessed past the stale
// window AND its access count sits below the minimum; it then grows toward
// 1.0 at twice the window. Orphanhood works the same way against the last
// inbound link. Always-scoped units are excluded upstream and never reach
// this scoring.
func DecayEligibility(u *store.Unit, inbound int, now time.Time, cfg config.DecayConfig) (float64, DecayBreakdown) {
	var b DecayBreakdown

	ref := u.UpdatedAt
	if u.LastAccess != nil && *u.LastAccess > ref {
		ref = *u.LastAccess
	}
	staleDays := float64(now.UnixMilli()-ref) / msPerDay
	if u.AccessCount < cfg.MinAccess && staleDays >= float64(cfg.StaleDays) {
		b.Staleness = clamp01(staleDays / float64(2*cfg.StaleDays))
	}

	if inbound == 0 {
		linkRef := u.CreatedAt
		if u.LastLinkedAt != nil && *u.LastLinkedAt > linkRef {
			linkRef = *u.LastLinkedAt
		}
		orphanDays := float64(now.UnixMilli()-linkRef) / msPerDay
		if orphanDays >= float64(cfg.OrphanDays) {
			b.Orphanhood = clamp01(orphanDays / float64(2*cfg.OrphanDays))
		}
	}

	return 0.6*b.Staleness + 0.4*b.Orphanhood, b
}
