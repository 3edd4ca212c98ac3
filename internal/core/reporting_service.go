package core

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ReportingService answers read-only questions about balances. It never locks rows.
type ReportingService interface {
	// NetMovement breaks down the inflows and outflows behind a balance's closing figure,
	// using the same query the recompute path uses.
	NetMovement(ctx context.Context, scope LocationScope, balanceID int) (*NetMovement, error)
	// History returns one balance's audit entries, newest first.
	History(ctx context.Context, scope LocationScope, balanceID int, filter HistoryFilter) ([]AuditEntry, error)
	// AuditLog returns audit entries across every balance visible in scope.
	AuditLog(ctx context.Context, scope LocationScope, filter HistoryFilter) ([]AuditEntry, error)
	// Summary totals the balances visible in scope.
	Summary(ctx context.Context, scope LocationScope, filter BalanceFilter) (*BalanceSummary, error)
	// Reconcile lists balances whose stored closing disagrees with the formula.
	// A healthy ledger returns an empty slice.
	Reconcile(ctx context.Context) ([]Discrepancy, error)
}

type reportingService struct {
	pool     *pgxpool.Pool
	balances BalanceStore
	audit    AuditTrail
}

func NewReportingService(pool *pgxpool.Pool, balances BalanceStore, audit AuditTrail) ReportingService {
	return &reportingService{pool: pool, balances: balances, audit: audit}
}

func (s *reportingService) visibleBalance(ctx context.Context, scope LocationScope, balanceID int) (*Balance, error) {
	b, err := s.balances.Get(ctx, balanceID)
	if err != nil {
		return nil, err
	}
	if !scope.Allows(b.LocationID) {
		return nil, newError(KindForbidden, "balance %d is outside the caller's locations", balanceID)
	}
	return b, nil
}

func (s *reportingService) NetMovement(ctx context.Context, scope LocationScope, balanceID int) (*NetMovement, error) {
	if _, err := s.visibleBalance(ctx, scope, balanceID); err != nil {
		return nil, err
	}

	// Totals and contributing records come from one snapshot so they always agree.
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer tx.Rollback(ctx)

	acq, in, out, err := netMovementTotals(ctx, tx, balanceID)
	if err != nil {
		return nil, err
	}
	nm := &NetMovement{
		BalanceID:      balanceID,
		Acquisitions:   acq,
		RelocationsIn:  in,
		RelocationsOut: out,
		Net:            acq.Add(in).Sub(out),
	}

	rows, err := tx.Query(ctx, acquisitionSelect+`
		WHERE a.balance_id = $1 AND a.status = 'APPROVED'
		ORDER BY a.approved_at, a.id`, balanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query approved acquisitions: %w", err)
	}
	for rows.Next() {
		a, err := scanAcquisition(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan acquisition: %w", err)
		}
		nm.ApprovedAcquisitions = append(nm.ApprovedAcquisitions, *a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read approved acquisitions: %w", err)
	}

	legRows, err := tx.Query(ctx, `
		SELECT id, relocation_id, balance_id, direction, quantity, status, created_at, completed_at
		FROM relocation_legs
		WHERE balance_id = $1 AND status = 'COMPLETED'
		ORDER BY completed_at, id
	`, balanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query completed legs: %w", err)
	}
	defer legRows.Close()
	for legRows.Next() {
		var l RelocationLeg
		if err := legRows.Scan(&l.ID, &l.RelocationID, &l.BalanceID, &l.Direction, &l.Quantity,
			&l.Status, &l.CreatedAt, &l.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan relocation leg: %w", err)
		}
		nm.CompletedLegs = append(nm.CompletedLegs, l)
	}
	if err := legRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read completed legs: %w", err)
	}

	return nm, nil
}

func (s *reportingService) History(ctx context.Context, scope LocationScope, balanceID int, filter HistoryFilter) ([]AuditEntry, error) {
	if _, err := s.visibleBalance(ctx, scope, balanceID); err != nil {
		return nil, err
	}
	filter.BalanceID = &balanceID
	return s.audit.History(ctx, scope, filter)
}

func (s *reportingService) AuditLog(ctx context.Context, scope LocationScope, filter HistoryFilter) ([]AuditEntry, error) {
	return s.audit.History(ctx, scope, filter)
}

func (s *reportingService) Summary(ctx context.Context, scope LocationScope, filter BalanceFilter) (*BalanceSummary, error) {
	ds := psql.From(goqu.T("balances").As("b")).
		Select(
			goqu.COUNT("b.id"),
			goqu.COALESCE(goqu.SUM("b.opening_balance"), goqu.L("0")),
			goqu.COALESCE(goqu.SUM("b.closing_balance"), goqu.L("0")),
			goqu.COALESCE(goqu.SUM("b.assigned_count"), goqu.L("0")),
			goqu.COALESCE(goqu.SUM("b.expended_count"), goqu.L("0")),
		)
	ds = whereScope(ds, scope, "b.location_id")
	if filter.LocationID != nil {
		ds = ds.Where(goqu.I("b.location_id").Eq(*filter.LocationID))
	}
	if filter.EquipmentKindID != nil {
		ds = ds.Where(goqu.I("b.equipment_kind_id").Eq(*filter.EquipmentKindID))
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build summary query: %w", err)
	}
	var sum BalanceSummary
	if err := s.pool.QueryRow(ctx, query, args...).Scan(
		&sum.BalanceCount, &sum.Opening, &sum.Closing, &sum.Assigned, &sum.Expended,
	); err != nil {
		return nil, fmt.Errorf("failed to compute balance summary: %w", err)
	}
	return &sum, nil
}

func (s *reportingService) Reconcile(ctx context.Context) ([]Discrepancy, error) {
	// One snapshot for balances and movements so concurrent writers cannot
	// produce false positives.
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, "SELECT"+balanceColumns+balanceFrom+" ORDER BY b.id")
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	var balances []Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		balances = append(balances, *b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read balances: %w", err)
	}

	discrepancies := []Discrepancy{}
	for _, b := range balances {
		net, err := netMovement(ctx, tx, b.ID)
		if err != nil {
			return nil, err
		}
		expected := ComputeClosing(b.Opening, net, b.Assigned, b.Expended)
		if !expected.Equal(b.Closing) {
			discrepancies = append(discrepancies, Discrepancy{Balance: b, ExpectedClosing: expected})
		}
	}
	return discrepancies, nil
}
