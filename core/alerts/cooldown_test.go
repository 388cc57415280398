package alerts

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hexascan/config"
	"hexascan/core/store"
	"hexascan/core/utils"
)

func newTestDB(t *testing.T) *store.DB {
	t.Helper()
	logger := utils.NewTestLogger()
	cfg := &config.AppConfig{
		DBDriver: "sqlite",
		DBURL:    filepath.Join(t.TempDir(), "hexascan.db"),
	}
	db, err := store.NewDB(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.ApplyMigrations(context.Background(), db, logger))
	return db
}

func TestGateSuppressesWithinWindow(t *testing.T) {
	db := newTestDB(t)
	gate := NewGate(store.NewCooldownStore(db), utils.NewTestLogger())
	ctx := context.Background()

	require.False(t, gate.ShouldSuppress(ctx, 1, "uptime"), "no cooldown yet")
	require.NoError(t, gate.Arm(ctx, 1, "uptime", time.Minute))
	require.True(t, gate.ShouldSuppress(ctx, 1, "uptime"))

	// Other pairs are unaffected.
	require.False(t, gate.ShouldSuppress(ctx, 1, "dns"))
	require.False(t, gate.ShouldSuppress(ctx, 2, "uptime"))
}

func TestGateExpiryAndRearm(t *testing.T) {
	db := newTestDB(t)
	gate := NewGate(store.NewCooldownStore(db), utils.NewTestLogger())
	ctx := context.Background()

	require.NoError(t, gate.Arm(ctx, 1, "uptime", time.Millisecond))
	time.Sleep(10 * time.Millisecond)
	require.False(t, gate.ShouldSuppress(ctx, 1, "uptime"), "expired cooldown must not suppress")

	// Re-arming the same pair upserts rather than conflicting.
	require.NoError(t, gate.Arm(ctx, 1, "uptime", time.Minute))
	require.True(t, gate.ShouldSuppress(ctx, 1, "uptime"))
}

func TestGateClearAll(t *testing.T) {
	db := newTestDB(t)
	gate := NewGate(store.NewCooldownStore(db), utils.NewTestLogger())
	ctx := context.Background()

	require.NoError(t, gate.Arm(ctx, 1, "uptime", time.Hour))
	require.NoError(t, gate.Arm(ctx, 2, "dns", time.Hour))
	cleared, err := gate.ClearAll(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, cleared)
	require.False(t, gate.ShouldSuppress(ctx, 1, "uptime"))
	require.False(t, gate.ShouldSuppress(ctx, 2, "dns"))
}
