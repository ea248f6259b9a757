package loyalty_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/loyalty-engine/loyalty"
	"github.com/meridian/loyalty-engine/store/memory"
)

func newTestLedger(t *testing.T) (*loyalty.CashbackLedger, *memory.Store, *loyalty.Calendar) {
	t.Helper()
	store := memory.New()
	cal := loyalty.NewCalendar(testLocation(t))
	return loyalty.NewCashbackLedger(store, cal), store, cal
}

func money(n int64) loyalty.Money { return loyalty.MoneyFromInt(n) }

// =============================================================================
// DELAYED ACTIVATION
// =============================================================================

func TestLedger_EarnActivatesFirstOfNextMonth(t *testing.T) {
	// GIVEN: cashback earned June 15
	// THEN: pending through June 30, usable from July 1 onward

	ledger, _, _ := newTestLedger(t)
	loc := testLocation(t)
	ctx := context.Background()
	id := loyalty.MemberID("m-1")

	earnedAt := time.Date(2025, time.June, 15, 14, 0, 0, 0, loc)
	require.NoError(t, ledger.PostEarn(ctx, id, "p-1", money(2500), earnedAt))

	// Same day: everything is pending.
	usable, err := ledger.UsableBalance(ctx, id, earnedAt)
	require.NoError(t, err)
	assert.True(t, usable.IsZero(), "usable = %s on earn day", usable)

	pending, err := ledger.PendingBalance(ctx, id, earnedAt)
	require.NoError(t, err)
	assert.True(t, pending.Equal(money(2500)))

	// June 30, one minute to midnight: still pending.
	lastInstant := time.Date(2025, time.June, 30, 23, 59, 0, 0, loc)
	usable, err = ledger.UsableBalance(ctx, id, lastInstant)
	require.NoError(t, err)
	assert.True(t, usable.IsZero(), "usable before activation = %s", usable)

	// July 1 midnight exactly: the boundary instant counts as usable.
	activation := time.Date(2025, time.July, 1, 0, 0, 0, 0, loc)
	snap, err := ledger.Snapshot(ctx, id, activation)
	require.NoError(t, err)
	assert.True(t, snap.Usable.Equal(money(2500)), "usable at activation = %s", snap.Usable)
	assert.True(t, snap.Pending.IsZero(), "pending at activation = %s", snap.Pending)
}

func TestLedger_EntriesSplitAcrossMonths(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	loc := testLocation(t)
	ctx := context.Background()
	id := loyalty.MemberID("m-1")

	mayEarn := time.Date(2025, time.May, 20, 10, 0, 0, 0, loc)
	juneEarn := time.Date(2025, time.June, 10, 10, 0, 0, 0, loc)
	require.NoError(t, ledger.PostEarn(ctx, id, "p-may", money(5000), mayEarn))
	require.NoError(t, ledger.PostEarn(ctx, id, "p-june", money(2500), juneEarn))

	// Mid-June: May's earn is active, June's is still pending.
	asOf := time.Date(2025, time.June, 15, 12, 0, 0, 0, loc)
	snap, err := ledger.Snapshot(ctx, id, asOf)
	require.NoError(t, err)
	assert.True(t, snap.Usable.Equal(money(5000)))
	assert.True(t, snap.Pending.Equal(money(2500)))
}

// =============================================================================
// SPENDS AND FLOORS
// =============================================================================

func TestLedger_SpendReducesUsable(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	loc := testLocation(t)
	ctx := context.Background()
	id := loyalty.MemberID("m-1")

	earnedAt := time.Date(2025, time.May, 10, 10, 0, 0, 0, loc)
	require.NoError(t, ledger.PostEarn(ctx, id, "p-1", money(5000), earnedAt))

	spendAt := time.Date(2025, time.June, 5, 10, 0, 0, 0, loc)
	require.NoError(t, ledger.PostSpend(ctx, id, "p-2", money(2000), spendAt))

	usable, err := ledger.UsableBalance(ctx, id, spendAt)
	require.NoError(t, err)
	assert.True(t, usable.Equal(money(3000)), "usable after spend = %s", usable)
}

func TestLedger_UsableFlooredAtZeroForDisplay(t *testing.T) {
	// A drifted stream (spend exceeding earns) must never show a negative
	// balance to callers.
	ledger, store, _ := newTestLedger(t)
	loc := testLocation(t)
	ctx := context.Background()
	id := loyalty.MemberID("m-1")

	at := time.Date(2025, time.June, 5, 10, 0, 0, 0, loc)
	require.NoError(t, store.AppendEntry(ctx, loyalty.LedgerEntry{
		ID:        "e-1",
		MemberID:  id,
		Type:      loyalty.EntryAdjust,
		Amount:    money(1000).Neg(),
		CreatedAt: at,
	}))

	usable, err := ledger.UsableBalance(ctx, id, at)
	require.NoError(t, err)
	assert.True(t, usable.IsZero(), "display balance floors at zero, got %s", usable)

	snap, err := ledger.Snapshot(ctx, id, at)
	require.NoError(t, err)
	assert.True(t, snap.Usable.IsZero())
}

func TestLedger_NonPositiveAmountsAreNoOps(t *testing.T) {
	ledger, store, _ := newTestLedger(t)
	loc := testLocation(t)
	ctx := context.Background()
	id := loyalty.MemberID("m-1")

	at := time.Date(2025, time.June, 5, 10, 0, 0, 0, loc)
	require.NoError(t, ledger.PostEarn(ctx, id, "p-1", money(0), at))
	require.NoError(t, ledger.PostSpend(ctx, id, "p-1", money(0), at))
	require.NoError(t, ledger.PostEarn(ctx, id, "p-1", money(100).Neg(), at))

	entries, err := store.EntriesByMember(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, entries, "zero/negative posts must not write entries")
}

func TestLedger_SpendStoredNegative(t *testing.T) {
	ledger, store, _ := newTestLedger(t)
	loc := testLocation(t)
	ctx := context.Background()
	id := loyalty.MemberID("m-1")

	at := time.Date(2025, time.June, 5, 10, 0, 0, 0, loc)
	require.NoError(t, ledger.PostSpend(ctx, id, "p-1", money(2000), at))

	entries, err := store.EntriesByMember(ctx, id)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, loyalty.EntrySpend, entries[0].Type)
	assert.True(t, entries[0].Amount.Equal(money(2000).Neg()), "spend amount = %s", entries[0].Amount)
	assert.Equal(t, loyalty.PurchaseID("p-1"), entries[0].PurchaseID)
}

// =============================================================================
// CACHE
// =============================================================================

func TestLedger_CacheDroppedOnAppend(t *testing.T) {
	// GIVEN: a balance read (which warms the cache)
	// WHEN: a new entry is appended
	// THEN: the next read reflects the append

	ledger, _, _ := newTestLedger(t)
	loc := testLocation(t)
	ctx := context.Background()
	id := loyalty.MemberID("m-1")

	asOf := time.Date(2025, time.July, 1, 10, 0, 0, 0, loc)

	usable, err := ledger.UsableBalance(ctx, id, asOf)
	require.NoError(t, err)
	assert.True(t, usable.IsZero())

	earnedAt := time.Date(2025, time.June, 10, 10, 0, 0, 0, loc)
	require.NoError(t, ledger.PostEarn(ctx, id, "p-1", money(2500), earnedAt))

	usable, err = ledger.UsableBalance(ctx, id, asOf)
	require.NoError(t, err)
	assert.True(t, usable.Equal(money(2500)), "stale cache served after append: %s", usable)
}
