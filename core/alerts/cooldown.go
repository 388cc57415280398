package alerts

import (
	"context"
	"time"

	"hexascan/core/store"
	"hexascan/core/utils"
)

// Gate throttles channel alert dispatch per (site, check) pair. While a pair
// is on cooldown, further alerts for it are suppressed; the window refreshes
// only when a dispatch actually happens.
type Gate struct {
	store  store.CooldownStore
	logger *utils.Logger
}

func NewGate(st store.CooldownStore, logger *utils.Logger) *Gate {
	return &Gate{store: st, logger: logger}
}

// ShouldSuppress reports whether the pair is inside an unexpired cooldown.
// Lookup failures fail open: a dropped alert is worse than a duplicate.
func (g *Gate) ShouldSuppress(ctx context.Context, siteID int64, checkID string) bool {
	cd, err := g.store.GetCooldown(ctx, siteID, checkID)
	if err != nil {
		g.logger.Errorf("cooldown lookup site=%d check=%s: %v", siteID, checkID, err)
		return false
	}
	return cd != nil && time.Now().UTC().Before(cd.ExpiresAt)
}

// Arm starts (or restarts) the cooldown window for the pair.
func (g *Gate) Arm(ctx context.Context, siteID int64, checkID string, window time.Duration) error {
	if window <= 0 {
		window = 30 * time.Minute
	}
	return g.store.ArmCooldown(ctx, siteID, checkID, time.Now().UTC().Add(window))
}

// ClearAll wipes every cooldown row. Admin escape hatch after an incident
// storm or a config mistake.
func (g *Gate) ClearAll(ctx context.Context) (int64, error) {
	return g.store.ClearAllCooldowns(ctx)
}
