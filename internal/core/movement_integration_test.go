package core_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"equipment-ledger/internal/core"
	"equipment-ledger/internal/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Seed ids, fixed by RESTART IDENTITY.
const (
	locAlpha   = 1
	locBravo   = 2
	locCharlie = 3
	kindRifle  = 1
	kindAmmo   = 2
	soldierOne = 1
)

var (
	admin      = core.Actor{ID: "admin", Scope: core.AllLocations(), IPAddress: "10.0.0.1", UserAgent: "go-test"}
	alphaCmdr  = core.Actor{ID: "cmdr-alpha", Scope: core.SingleLocation(locAlpha)}
	bravoCmdr  = core.Actor{ID: "cmdr-bravo", Scope: core.SingleLocation(locBravo)}
	migrateOne sync.Once
)

type ledger struct {
	pool         *pgxpool.Pool
	catalog      core.CatalogService
	balances     core.BalanceStore
	audit        core.AuditTrail
	acquisitions core.AcquisitionService
	relocations  core.RelocationService
	issuances    core.IssuanceService
	consumptions core.ConsumptionService
	reporting    core.ReportingService
}

func setupLedgerDB(t *testing.T) (*ledger, context.Context) {
	t.Helper()
	_ = godotenv.Load("../../.env")

	// Use a dedicated TEST database to avoid wiping the live ledger.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test to protect live database")
	}

	var migrateErr error
	migrateOne.Do(func() { migrateErr = db.Migrate(dbURL, zap.NewNop()) })
	require.NoError(t, migrateErr, "migrate test database")

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err, "connect to test database")
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE audit_entries, consumptions, issuances, relocation_legs, relocations,
		               acquisitions, movement_references, balances, personnel,
		               equipment_kinds, locations RESTART IDENTITY CASCADE;

		INSERT INTO locations (name, description) VALUES
		('Base Alpha',   'Northern depot'),
		('Base Bravo',   'Forward operating base'),
		('Base Charlie', 'Training ground');

		INSERT INTO equipment_kinds (name, category, unit_of_measure) VALUES
		('Rifle M4',    'WEAPON',     'Unit'),
		('5.56mm Ball', 'AMMUNITION', 'Round');

		INSERT INTO personnel (full_name, rank, service_number, location_id) VALUES
		('Jordan Reyes', 'SGT', 'SN-1001', 1);
	`)
	require.NoError(t, err, "seed test database")

	audit := core.NewAuditTrail(pool)
	balances := core.NewBalanceStore(pool, audit)
	return &ledger{
		pool:         pool,
		catalog:      core.NewCatalogService(pool),
		balances:     balances,
		audit:        audit,
		acquisitions: core.NewAcquisitionService(pool, balances, audit),
		relocations:  core.NewRelocationService(pool, balances, audit),
		issuances:    core.NewIssuanceService(pool, balances, audit),
		consumptions: core.NewConsumptionService(pool, balances, audit),
		reporting:    core.NewReportingService(pool, balances, audit),
	}, ctx
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ref(prefix string) string { return prefix + "-" + uuid.NewString()[:8] }

// assertReconciled checks the balance formula holds for every balance.
func assertReconciled(t *testing.T, ctx context.Context, l *ledger) {
	t.Helper()
	d, err := l.reporting.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, d, "balances drifted from closing = opening + net - assigned - expended")
}

func assertBalance(t *testing.T, ctx context.Context, l *ledger, id int, closing, assigned, expended string) {
	t.Helper()
	b, err := l.balances.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, b.Closing.Equal(dec(closing)), "closing: want %s got %s", closing, b.Closing)
	assert.True(t, b.Assigned.Equal(dec(assigned)), "assigned: want %s got %s", assigned, b.Assigned)
	assert.True(t, b.Expended.Equal(dec(expended)), "expended: want %s got %s", expended, b.Expended)
}

func countAudit(t *testing.T, ctx context.Context, l *ledger, balanceID int, kind string) int {
	t.Helper()
	entries, err := l.reporting.History(ctx, core.AllLocations(), balanceID, core.HistoryFilter{EventKinds: []string{kind}})
	require.NoError(t, err)
	return len(entries)
}

// openBalance creates (kind, location) with the given opening figure.
func openBalance(t *testing.T, ctx context.Context, l *ledger, kindID, locationID int, opening string) *core.Balance {
	t.Helper()
	b, err := l.balances.GetOrCreate(ctx, kindID, locationID)
	require.NoError(t, err)
	b, err = l.balances.SetOpeningBalance(ctx, admin, b.ID, dec(opening))
	require.NoError(t, err)
	return b
}

// ── Scenarios ─────────────────────────────────────────────────────────────────

func TestLedger_Scenarios(t *testing.T) {
	l, ctx := setupLedgerDB(t)

	x := openBalance(t, ctx, l, kindRifle, locAlpha, "100")
	assertBalance(t, ctx, l, x.ID, "100", "0", "0")
	assertReconciled(t, ctx, l)

	// 1: acquisition of 20 approved at X.
	acq, err := l.acquisitions.Submit(ctx, alphaCmdr, core.AcquisitionInput{
		EquipmentKindID: kindRifle, LocationID: locAlpha, Quantity: dec("20"),
		Supplier: "Acme Arms", ReferenceNumber: ref("PO"), Cost: dec("15000.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, acq.Status)
	assertBalance(t, ctx, l, x.ID, "100", "0", "0")

	acq, err = l.acquisitions.Approve(ctx, admin, acq.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusApproved, acq.Status)
	require.NotNil(t, acq.ApprovedBy)
	assert.Equal(t, "admin", *acq.ApprovedBy)
	assertBalance(t, ctx, l, x.ID, "120", "0", "0")
	assert.Equal(t, 1, countAudit(t, ctx, l, x.ID, core.EventAcquisition))
	assertReconciled(t, ctx, l)

	// 2: relocate 30 from X to Y.
	rel, err := l.relocations.Initiate(ctx, alphaCmdr, core.RelocationInput{
		EquipmentKindID: kindRifle, Quantity: dec("30"),
		FromLocationID: locAlpha, ToLocationID: locBravo, ReferenceNumber: ref("TR"),
	})
	require.NoError(t, err)
	require.Len(t, rel.Legs, 2)
	for _, leg := range rel.Legs {
		assert.Equal(t, core.StatusPending, leg.Status)
	}

	rel, err = l.relocations.Complete(ctx, bravoCmdr, rel.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, rel.Status)
	for _, leg := range rel.Legs {
		assert.Equal(t, core.StatusCompleted, leg.Status)
	}

	y, err := l.balances.GetByKey(ctx, kindRifle, locBravo)
	require.NoError(t, err)
	assertBalance(t, ctx, l, x.ID, "90", "0", "0")
	assertBalance(t, ctx, l, y.ID, "30", "0", "0")
	assert.Equal(t, 1, countAudit(t, ctx, l, x.ID, core.EventRelocationOut))
	assert.Equal(t, 1, countAudit(t, ctx, l, y.ID, core.EventRelocationIn))
	assertReconciled(t, ctx, l)

	// 3: issue 50 at X. Closing nets out assigned, so 40 remain available.
	iss, err := l.issuances.Issue(ctx, alphaCmdr, core.IssuanceInput{
		BalanceID: x.ID, PersonnelID: soldierOne, Quantity: dec("50"),
	})
	require.NoError(t, err)
	assert.True(t, iss.Active())
	assertBalance(t, ctx, l, x.ID, "40", "50", "0")

	_, err = l.issuances.Issue(ctx, alphaCmdr, core.IssuanceInput{
		BalanceID: x.ID, PersonnelID: soldierOne, Quantity: dec("45"),
	})
	assert.ErrorIs(t, err, core.ErrInsufficientBalance)
	assertBalance(t, ctx, l, x.ID, "40", "50", "0")
	assertReconciled(t, ctx, l)

	// 4: return the issuance, then return it again.
	iss, err = l.issuances.Return(ctx, alphaCmdr, iss.ID)
	require.NoError(t, err)
	assert.False(t, iss.Active())
	assertBalance(t, ctx, l, x.ID, "90", "0", "0")

	again, err := l.issuances.Return(ctx, alphaCmdr, iss.ID)
	require.NoError(t, err)
	assert.Equal(t, iss.ReturnedAt, again.ReturnedAt)
	assertBalance(t, ctx, l, x.ID, "90", "0", "0")
	assert.Equal(t, 1, countAudit(t, ctx, l, x.ID, core.EventReturn))
	assertReconciled(t, ctx, l)

	// Net movement matches what the recompute folded in.
	nm, err := l.reporting.NetMovement(ctx, core.AllLocations(), x.ID)
	require.NoError(t, err)
	assert.True(t, nm.Acquisitions.Equal(dec("20")))
	assert.True(t, nm.RelocationsOut.Equal(dec("30")))
	assert.True(t, nm.Net.Equal(dec("-10")))
	assert.Len(t, nm.ApprovedAcquisitions, 1)
	assert.Len(t, nm.CompletedLegs, 1)
}

func TestLedger_ConcurrentRelocationsNeverOverdraw(t *testing.T) {
	l, ctx := setupLedgerDB(t)

	x := openBalance(t, ctx, l, kindRifle, locAlpha, "10")

	var ids []int
	for _, dest := range []int{locBravo, locCharlie} {
		r, err := l.relocations.Initiate(ctx, admin, core.RelocationInput{
			EquipmentKindID: kindRifle, Quantity: dec("8"),
			FromLocationID: locAlpha, ToLocationID: dest, ReferenceNumber: ref("TR"),
		})
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}

	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, id := range ids {
		wg.Add(1)
		go func(i, id int) {
			defer wg.Done()
			<-start
			_, errs[i] = l.relocations.Complete(ctx, admin, id)
		}(i, id)
	}
	close(start)
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		kind := core.KindOf(err)
		assert.True(t, kind == core.KindInsufficientBalance || kind == core.KindConcurrentModification,
			"unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded, "exactly one relocation must complete")
	assertBalance(t, ctx, l, x.ID, "2", "0", "0")
	assert.Equal(t, 1, countAudit(t, ctx, l, x.ID, core.EventRelocationOut))
	assertReconciled(t, ctx, l)
}

func TestLedger_GetOrCreateConcurrentFirstAccess(t *testing.T) {
	l, ctx := setupLedgerDB(t)

	const workers = 8
	ids := make([]int, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			b, err := l.balances.GetOrCreate(ctx, kindAmmo, locCharlie)
			errs[i] = err
			if err == nil {
				ids[i] = b.ID
			}
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i], "every caller must get the same balance")
	}

	var rows int
	err := l.pool.QueryRow(ctx,
		"SELECT count(*) FROM balances WHERE equipment_kind_id = $1 AND location_id = $2",
		kindAmmo, locCharlie).Scan(&rows)
	require.NoError(t, err)
	assert.Equal(t, 1, rows)
}

// Completions run in both directions between the same pair while new
// relocations are initiated against the same balances. Initiate's leg inserts
// hit the balances in source-then-destination order, which is descending for
// Bravo→Alpha.
func TestLedger_OppositeRelocationsDoNotDeadlock(t *testing.T) {
	l, ctx := setupLedgerDB(t)

	x := openBalance(t, ctx, l, kindRifle, locAlpha, "10")
	y := openBalance(t, ctx, l, kindRifle, locBravo, "10")
	require.Less(t, x.ID, y.ID)

	initiate := func(from, to int) (*core.Relocation, error) {
		return l.relocations.Initiate(ctx, admin, core.RelocationInput{
			EquipmentKindID: kindRifle, Quantity: dec("1"),
			FromLocationID: from, ToLocationID: to, ReferenceNumber: ref("TR"),
		})
	}

	const rounds = 5
	var completed []int
	for round := 0; round < rounds; round++ {
		xy, err := initiate(locAlpha, locBravo)
		require.NoError(t, err)
		yx, err := initiate(locBravo, locAlpha)
		require.NoError(t, err)

		var (
			mu   sync.Mutex
			errs []error
			wg   sync.WaitGroup
		)
		record := func(err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
		start := make(chan struct{})
		for _, id := range []int{xy.ID, yx.ID} {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				<-start
				_, err := l.relocations.Complete(ctx, admin, id)
				record(err)
			}(id)
		}
		for _, pair := range [][2]int{{locBravo, locAlpha}, {locAlpha, locBravo}} {
			wg.Add(1)
			go func(from, to int) {
				defer wg.Done()
				<-start
				_, err := initiate(from, to)
				record(err)
			}(pair[0], pair[1])
		}
		close(start)
		wg.Wait()

		for _, err := range errs {
			if err != nil {
				assert.ErrorIs(t, err, core.ErrInsufficientBalance, "unexpected error: %v", err)
			}
		}
		completed = append(completed, xy.ID, yx.ID)
	}

	for _, id := range completed {
		r, err := l.relocations.Get(ctx, core.AllLocations(), id)
		require.NoError(t, err)
		assert.Equal(t, core.StatusCompleted, r.Status)
	}
	assertBalance(t, ctx, l, x.ID, "10", "0", "0")
	assertBalance(t, ctx, l, y.ID, "10", "0", "0")
	assertReconciled(t, ctx, l)
}

func TestLedger_IdempotentTransitions(t *testing.T) {
	l, ctx := setupLedgerDB(t)

	x := openBalance(t, ctx, l, kindAmmo, locAlpha, "0")
	acq, err := l.acquisitions.Submit(ctx, admin, core.AcquisitionInput{
		EquipmentKindID: kindAmmo, LocationID: locAlpha, Quantity: dec("500"), ReferenceNumber: ref("PO"),
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := l.acquisitions.Approve(ctx, admin, acq.ID)
		require.NoError(t, err)
	}
	assertBalance(t, ctx, l, x.ID, "500", "0", "0")
	assert.Equal(t, 1, countAudit(t, ctx, l, x.ID, core.EventAcquisition))

	rel, err := l.relocations.Initiate(ctx, admin, core.RelocationInput{
		EquipmentKindID: kindAmmo, Quantity: dec("200"),
		FromLocationID: locAlpha, ToLocationID: locBravo, ReferenceNumber: ref("TR"),
	})
	require.NoError(t, err)
	rel, err = l.relocations.Advance(ctx, alphaCmdr, rel.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusInTransit, rel.Status)
	assert.NotNil(t, rel.DispatchedAt)
	require.NotNil(t, rel.DispatchedBy)
	assert.Equal(t, "cmdr-alpha", *rel.DispatchedBy)
	assert.Nil(t, rel.ApprovedBy, "dispatch does not approve")

	// The receiving commander completes; repeats by others change nothing.
	for _, actor := range []core.Actor{bravoCmdr, admin, admin} {
		_, err := l.relocations.Complete(ctx, actor, rel.ID)
		require.NoError(t, err)
	}
	rel, err = l.relocations.Get(ctx, core.AllLocations(), rel.ID)
	require.NoError(t, err)
	require.NotNil(t, rel.ApprovedBy)
	assert.Equal(t, "cmdr-bravo", *rel.ApprovedBy)
	assert.Equal(t, "cmdr-alpha", *rel.DispatchedBy)
	assertBalance(t, ctx, l, x.ID, "300", "0", "0")
	assert.Equal(t, 1, countAudit(t, ctx, l, x.ID, core.EventRelocationOut))
	assertReconciled(t, ctx, l)

	// Recompute is a pure function of stored state.
	before, err := l.balances.Get(ctx, x.ID)
	require.NoError(t, err)
	after, err := l.balances.RecomputeClosing(ctx, x.ID)
	require.NoError(t, err)
	assert.True(t, before.Closing.Equal(after.Closing))
	assert.Greater(t, after.Version, before.Version)
}

func TestLedger_NetMovementIsConsistentUnderApprovals(t *testing.T) {
	l, ctx := setupLedgerDB(t)

	x := openBalance(t, ctx, l, kindAmmo, locAlpha, "0")
	const pending = 10
	var ids []int
	for i := 0; i < pending; i++ {
		a, err := l.acquisitions.Submit(ctx, admin, core.AcquisitionInput{
			EquipmentKindID: kindAmmo, LocationID: locAlpha, Quantity: dec("25"), ReferenceNumber: ref("PO"),
		})
		require.NoError(t, err)
		ids = append(ids, a.ID)
	}

	done := make(chan error, 1)
	go func() {
		for _, id := range ids {
			if _, err := l.acquisitions.Approve(ctx, admin, id); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	check := func() {
		nm, err := l.reporting.NetMovement(ctx, core.AllLocations(), x.ID)
		require.NoError(t, err)
		listed := decimal.Zero
		for _, a := range nm.ApprovedAcquisitions {
			listed = listed.Add(a.Quantity)
		}
		assert.True(t, nm.Acquisitions.Equal(listed),
			"totals %s disagree with listed acquisitions %s", nm.Acquisitions, listed)
	}

	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			check()
			assertBalance(t, ctx, l, x.ID, "250", "0", "0")
			return
		default:
			check()
		}
	}
}

func TestLedger_RelocationCompletionIsAtomic(t *testing.T) {
	l, ctx := setupLedgerDB(t)

	x := openBalance(t, ctx, l, kindRifle, locAlpha, "50")
	rel, err := l.relocations.Initiate(ctx, admin, core.RelocationInput{
		EquipmentKindID: kindRifle, Quantity: dec("20"),
		FromLocationID: locAlpha, ToLocationID: locBravo, ReferenceNumber: ref("TR"),
	})
	require.NoError(t, err)
	y, err := l.balances.GetByKey(ctx, kindRifle, locBravo)
	require.NoError(t, err)

	injected := errors.New("injected failure after source write")
	core.SetAfterSourceRecompute(l.relocations, func(context.Context) error { return injected })

	_, err = l.relocations.Complete(ctx, admin, rel.ID)
	require.ErrorIs(t, err, injected)

	assertBalance(t, ctx, l, x.ID, "50", "0", "0")
	assertBalance(t, ctx, l, y.ID, "0", "0", "0")
	got, err := l.relocations.Get(ctx, core.AllLocations(), rel.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, got.Status)
	for _, leg := range got.Legs {
		assert.Equal(t, core.StatusPending, leg.Status)
	}
	assert.Equal(t, 0, countAudit(t, ctx, l, x.ID, core.EventRelocationOut))
	assert.Equal(t, 0, countAudit(t, ctx, l, y.ID, core.EventRelocationIn))
	assertReconciled(t, ctx, l)

	core.SetAfterSourceRecompute(l.relocations, nil)
	_, err = l.relocations.Complete(ctx, admin, rel.ID)
	require.NoError(t, err)
	assertBalance(t, ctx, l, x.ID, "30", "0", "0")
	assertBalance(t, ctx, l, y.ID, "20", "0", "0")
}

func TestLedger_NonNegativity(t *testing.T) {
	l, ctx := setupLedgerDB(t)

	x := openBalance(t, ctx, l, kindAmmo, locAlpha, "100")

	_, err := l.consumptions.Expend(ctx, admin, core.ConsumptionInput{
		BalanceID: x.ID, Quantity: dec("100.01"), Reason: "Live fire exercise", ReferenceNumber: ref("EX"),
	})
	assert.ErrorIs(t, err, core.ErrInsufficientBalance)

	c, err := l.consumptions.Expend(ctx, admin, core.ConsumptionInput{
		BalanceID: x.ID, Quantity: dec("60"), Reason: "Live fire exercise", ReferenceNumber: ref("EX"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Live fire exercise", c.Reason)
	assertBalance(t, ctx, l, x.ID, "40", "0", "60")

	_, err = l.balances.ApplyDelta(ctx, x.ID, dec("-1"), decimal.Zero)
	assert.ErrorIs(t, err, core.ErrInsufficientBalance)

	// Lowering the opening figure below what has already been expended.
	_, err = l.balances.SetOpeningBalance(ctx, admin, x.ID, dec("50"))
	assert.ErrorIs(t, err, core.ErrInsufficientBalance)

	rel, err := l.relocations.Initiate(ctx, admin, core.RelocationInput{
		EquipmentKindID: kindAmmo, Quantity: dec("41"),
		FromLocationID: locAlpha, ToLocationID: locBravo, ReferenceNumber: ref("TR"),
	})
	require.NoError(t, err)
	_, err = l.relocations.Complete(ctx, admin, rel.ID)
	assert.ErrorIs(t, err, core.ErrInsufficientBalance)

	assertBalance(t, ctx, l, x.ID, "40", "0", "60")
	assertReconciled(t, ctx, l)
}

func TestLedger_ApplyDeltaDetectsStaleVersion(t *testing.T) {
	l, ctx := setupLedgerDB(t)

	x := openBalance(t, ctx, l, kindRifle, locAlpha, "10")

	tx, err := l.pool.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	stale := *x
	stale.Version--
	_, err = l.balances.ApplyDeltaTx(ctx, tx, &stale, dec("1"), decimal.Zero)
	assert.ErrorIs(t, err, core.ErrConcurrentModification)
}

func TestLedger_DuplicateReferences(t *testing.T) {
	l, ctx := setupLedgerDB(t)

	x := openBalance(t, ctx, l, kindAmmo, locAlpha, "100")
	shared := ref("REF")

	_, err := l.consumptions.Expend(ctx, admin, core.ConsumptionInput{
		BalanceID: x.ID, Quantity: dec("1"), Reason: "Range qualification", ReferenceNumber: shared,
	})
	require.NoError(t, err)

	_, err = l.consumptions.Expend(ctx, admin, core.ConsumptionInput{
		BalanceID: x.ID, Quantity: dec("1"), Reason: "Range qualification", ReferenceNumber: shared,
	})
	assert.ErrorIs(t, err, core.ErrDuplicateReference)

	// The namespace is shared across movement types.
	_, err = l.acquisitions.Submit(ctx, admin, core.AcquisitionInput{
		EquipmentKindID: kindAmmo, LocationID: locAlpha, Quantity: dec("5"), ReferenceNumber: shared,
	})
	assert.ErrorIs(t, err, core.ErrDuplicateReference)

	_, err = l.relocations.Initiate(ctx, admin, core.RelocationInput{
		EquipmentKindID: kindAmmo, Quantity: dec("5"),
		FromLocationID: locAlpha, ToLocationID: locBravo, ReferenceNumber: shared,
	})
	assert.ErrorIs(t, err, core.ErrDuplicateReference)

	assertBalance(t, ctx, l, x.ID, "99", "0", "1")
}

func TestLedger_InvalidTransitions(t *testing.T) {
	l, ctx := setupLedgerDB(t)

	openBalance(t, ctx, l, kindRifle, locAlpha, "10")

	_, err := l.relocations.Initiate(ctx, admin, core.RelocationInput{
		EquipmentKindID: kindRifle, Quantity: dec("1"),
		FromLocationID: locAlpha, ToLocationID: locAlpha, ReferenceNumber: ref("TR"),
	})
	assert.ErrorIs(t, err, core.ErrInvalidTransfer)

	acq, err := l.acquisitions.Submit(ctx, admin, core.AcquisitionInput{
		EquipmentKindID: kindRifle, LocationID: locAlpha, Quantity: dec("5"), ReferenceNumber: ref("PO"),
	})
	require.NoError(t, err)
	_, err = l.acquisitions.Reject(ctx, admin, acq.ID)
	require.NoError(t, err)
	_, err = l.acquisitions.Reject(ctx, admin, acq.ID)
	assert.NoError(t, err, "rejecting twice is a no-op")
	_, err = l.acquisitions.Approve(ctx, admin, acq.ID)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	approved, err := l.acquisitions.Submit(ctx, admin, core.AcquisitionInput{
		EquipmentKindID: kindRifle, LocationID: locAlpha, Quantity: dec("5"), ReferenceNumber: ref("PO"),
	})
	require.NoError(t, err)
	_, err = l.acquisitions.Approve(ctx, admin, approved.ID)
	require.NoError(t, err)
	_, err = l.acquisitions.Reject(ctx, admin, approved.ID)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	rel, err := l.relocations.Initiate(ctx, admin, core.RelocationInput{
		EquipmentKindID: kindRifle, Quantity: dec("1"),
		FromLocationID: locAlpha, ToLocationID: locBravo, ReferenceNumber: ref("TR"),
	})
	require.NoError(t, err)
	_, err = l.relocations.Advance(ctx, admin, rel.ID)
	require.NoError(t, err)
	_, err = l.relocations.Advance(ctx, admin, rel.ID)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
	rel, err = l.relocations.Reject(ctx, admin, rel.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusRejected, rel.Status)
	for _, leg := range rel.Legs {
		assert.Equal(t, core.StatusRejected, leg.Status)
	}
	_, err = l.relocations.Complete(ctx, admin, rel.ID)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	_, err = l.acquisitions.Approve(ctx, admin, 9999)
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = l.issuances.Issue(ctx, admin, core.IssuanceInput{BalanceID: 9999, PersonnelID: soldierOne, Quantity: dec("1")})
	assert.ErrorIs(t, err, core.ErrNotFound)

	assertReconciled(t, ctx, l)
}

func TestLedger_ScopeEnforcement(t *testing.T) {
	l, ctx := setupLedgerDB(t)

	x := openBalance(t, ctx, l, kindRifle, locAlpha, "10")

	_, err := l.acquisitions.Submit(ctx, bravoCmdr, core.AcquisitionInput{
		EquipmentKindID: kindRifle, LocationID: locAlpha, Quantity: dec("5"), ReferenceNumber: ref("PO"),
	})
	assert.ErrorIs(t, err, core.ErrForbidden)

	_, err = l.issuances.Issue(ctx, bravoCmdr, core.IssuanceInput{BalanceID: x.ID, PersonnelID: soldierOne, Quantity: dec("1")})
	assert.ErrorIs(t, err, core.ErrForbidden)

	_, err = l.relocations.Initiate(ctx, bravoCmdr, core.RelocationInput{
		EquipmentKindID: kindRifle, Quantity: dec("1"),
		FromLocationID: locAlpha, ToLocationID: locBravo, ReferenceNumber: ref("TR"),
	})
	assert.ErrorIs(t, err, core.ErrForbidden)

	visible, err := l.balances.List(ctx, bravoCmdr.Scope, core.BalanceFilter{})
	require.NoError(t, err)
	assert.Empty(t, visible)

	visible, err = l.balances.List(ctx, alphaCmdr.Scope, core.BalanceFilter{})
	require.NoError(t, err)
	assert.Len(t, visible, 1)

	_, err = l.reporting.History(ctx, bravoCmdr.Scope, x.ID, core.HistoryFilter{})
	assert.ErrorIs(t, err, core.ErrForbidden)

	_, err = l.catalog.CreateLocation(ctx, alphaCmdr, core.LocationInput{Name: "Base Delta"})
	assert.ErrorIs(t, err, core.ErrForbidden)
}

func TestLedger_AuditTrail(t *testing.T) {
	l, ctx := setupLedgerDB(t)

	x := openBalance(t, ctx, l, kindAmmo, locAlpha, "100")
	for i := 0; i < 3; i++ {
		_, err := l.consumptions.Expend(ctx, admin, core.ConsumptionInput{
			BalanceID: x.ID, Quantity: dec("1"), Reason: "Training", ReferenceNumber: ref("EX"),
		})
		require.NoError(t, err)
	}

	entries, err := l.reporting.History(ctx, core.AllLocations(), x.ID, core.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 4)
	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1], entries[i]
		assert.True(t, !prev.CreatedAt.Before(cur.CreatedAt), "entries must be newest first")
		if prev.CreatedAt.Equal(cur.CreatedAt) {
			assert.Greater(t, prev.ID, cur.ID)
		}
	}
	assert.Equal(t, core.EventOpeningBalance, entries[len(entries)-1].EventKind)
	require.NotNil(t, entries[0].IPAddress)
	assert.Equal(t, "10.0.0.1", *entries[0].IPAddress)
	assert.Equal(t, "go-test", entries[0].UserAgent)

	limited, err := l.reporting.AuditLog(ctx, core.AllLocations(), core.HistoryFilter{
		EventKinds: []string{core.EventConsumption}, ActorID: "admin", Limit: 2,
	})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	_, err = l.pool.Exec(ctx, "UPDATE audit_entries SET quantity = 0")
	assert.Error(t, err, "audit entries must be immutable")
	_, err = l.pool.Exec(ctx, "DELETE FROM audit_entries")
	assert.Error(t, err, "audit entries must be immutable")

	summary, err := l.reporting.Summary(ctx, core.AllLocations(), core.BalanceFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.BalanceCount)
	assert.True(t, summary.Closing.Equal(dec("97")))
	assert.True(t, summary.Expended.Equal(dec("3")))
}

func TestCatalog_CreateAndLookup(t *testing.T) {
	l, ctx := setupLedgerDB(t)

	loc, err := l.catalog.CreateLocation(ctx, admin, core.LocationInput{Name: "Base Delta", Description: "Coastal"})
	require.NoError(t, err)
	found, err := l.catalog.FindLocationByName(ctx, "base delta")
	require.NoError(t, err)
	assert.Equal(t, loc.ID, found.ID)

	loc, err = l.catalog.SetCommander(ctx, admin, loc.ID, "cmdr-delta")
	require.NoError(t, err)
	require.NotNil(t, loc.CommanderID)
	assert.Equal(t, "cmdr-delta", *loc.CommanderID)

	_, err = l.catalog.CreateEquipmentKind(ctx, admin, core.EquipmentKindInput{Name: "Humvee", Category: "vehicle"})
	require.NoError(t, err)
	_, err = l.catalog.CreateEquipmentKind(ctx, admin, core.EquipmentKindInput{Name: "Drone", Category: "AIRCRAFT"})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	p, err := l.catalog.FindPersonnelByServiceNumber(ctx, "SN-1001")
	require.NoError(t, err)
	assert.Equal(t, "Base Alpha", p.LocationName)

	_, err = l.catalog.CreatePersonnel(ctx, alphaCmdr, core.PersonnelInput{
		FullName: "Sam Ortiz", Rank: "CPL", ServiceNumber: "SN-1001", LocationID: locAlpha,
	})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}
