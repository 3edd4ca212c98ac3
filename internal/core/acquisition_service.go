package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AcquisitionService runs the purchase workflow:
//
//	PENDING → APPROVED (balance effect, once) | REJECTED
type AcquisitionService interface {
	Submit(ctx context.Context, actor Actor, in AcquisitionInput) (*Acquisition, error)
	// Approve folds the quantity into the balance's net movement. Approving an
	// APPROVED acquisition is a no-op.
	Approve(ctx context.Context, actor Actor, id int) (*Acquisition, error)
	Reject(ctx context.Context, actor Actor, id int) (*Acquisition, error)
	Get(ctx context.Context, scope LocationScope, id int) (*Acquisition, error)
	List(ctx context.Context, scope LocationScope, filter AcquisitionFilter) ([]Acquisition, error)
}

type acquisitionService struct {
	pool     *pgxpool.Pool
	balances BalanceStore
	audit    AuditTrail
}

func NewAcquisitionService(pool *pgxpool.Pool, balances BalanceStore, audit AuditTrail) AcquisitionService {
	return &acquisitionService{pool: pool, balances: balances, audit: audit}
}

const acquisitionSelect = `
	SELECT a.id, a.balance_id, b.equipment_kind_id, k.name, b.location_id, l.name,
	       a.quantity, a.supplier, a.reference_number, a.cost, a.status, a.notes,
	       a.requested_by, a.approved_by, a.requested_at, a.approved_at, a.rejected_at
	FROM acquisitions a
	JOIN balances b        ON b.id = a.balance_id
	JOIN equipment_kinds k ON k.id = b.equipment_kind_id
	JOIN locations l       ON l.id = b.location_id`

func scanAcquisition(row pgx.Row) (*Acquisition, error) {
	var a Acquisition
	err := row.Scan(&a.ID, &a.BalanceID, &a.EquipmentKindID, &a.EquipmentKindName, &a.LocationID, &a.LocationName,
		&a.Quantity, &a.Supplier, &a.ReferenceNumber, &a.Cost, &a.Status, &a.Notes,
		&a.RequestedBy, &a.ApprovedBy, &a.RequestedAt, &a.ApprovedAt, &a.RejectedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func getAcquisition(ctx context.Context, q querier, id int, forUpdate bool) (*Acquisition, error) {
	query := acquisitionSelect + " WHERE a.id = $1"
	if forUpdate {
		query += " FOR UPDATE OF a"
	}
	a, err := scanAcquisition(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, newError(KindNotFound, "acquisition %d not found", id)
		}
		return nil, translateDBError(err, fmt.Sprintf("failed to fetch acquisition %d", id))
	}
	return a, nil
}

func (s *acquisitionService) Submit(ctx context.Context, actor Actor, in AcquisitionInput) (*Acquisition, error) {
	if err := ValidateQuantity(in.Quantity); err != nil {
		return nil, err
	}
	if err := validateAmount("cost", in.Cost); err != nil {
		return nil, err
	}
	ref, err := normalizeReference(in.ReferenceNumber)
	if err != nil {
		return nil, err
	}
	if err := actor.authorize(in.LocationID); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	balance, err := s.balances.GetOrCreateTx(ctx, tx, in.EquipmentKindID, in.LocationID)
	if err != nil {
		return nil, err
	}
	if err := registerReferenceTx(ctx, tx, ref, RecordAcquisition); err != nil {
		return nil, err
	}

	var id int
	err = tx.QueryRow(ctx, `
		INSERT INTO acquisitions (balance_id, quantity, supplier, reference_number, cost, notes, requested_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, balance.ID, in.Quantity, strings.TrimSpace(in.Supplier), ref, in.Cost, strings.TrimSpace(in.Notes), actor.ID).Scan(&id)
	if err != nil {
		return nil, translateDBError(err, "failed to insert acquisition")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, translateDBError(err, "failed to commit acquisition")
	}
	return getAcquisition(ctx, s.pool, id, false)
}

func (s *acquisitionService) Approve(ctx context.Context, actor Actor, id int) (*Acquisition, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	a, err := getAcquisition(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if err := actor.authorize(a.LocationID); err != nil {
		return nil, err
	}
	switch a.Status {
	case StatusApproved:
		return a, nil
	case StatusRejected:
		return nil, newError(KindInvalidTransition, "acquisition %s is REJECTED and cannot be approved", a.ReferenceNumber)
	}

	locked, err := s.balances.LockTx(ctx, tx, a.BalanceID)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE acquisitions
		SET status = 'APPROVED', approved_by = $2, approved_at = now()
		WHERE id = $1
	`, id, actor.ID); err != nil {
		return nil, translateDBError(err, fmt.Sprintf("failed to approve acquisition %d", id))
	}

	if _, err := s.balances.RecomputeClosingTx(ctx, tx, locked[a.BalanceID]); err != nil {
		return nil, err
	}

	if _, err := s.audit.AppendTx(ctx, tx, actor, AuditRecord{
		BalanceID:  a.BalanceID,
		EventKind:  EventAcquisition,
		Quantity:   a.Quantity,
		RecordType: RecordAcquisition,
		RecordID:   a.ID,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, translateDBError(err, "failed to commit acquisition approval")
	}
	return getAcquisition(ctx, s.pool, id, false)
}

func (s *acquisitionService) Reject(ctx context.Context, actor Actor, id int) (*Acquisition, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	a, err := getAcquisition(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if err := actor.authorize(a.LocationID); err != nil {
		return nil, err
	}
	switch a.Status {
	case StatusRejected:
		return a, nil
	case StatusApproved:
		return nil, newError(KindInvalidTransition, "acquisition %s is APPROVED and cannot be rejected", a.ReferenceNumber)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE acquisitions
		SET status = 'REJECTED', approved_by = $2, rejected_at = now()
		WHERE id = $1
	`, id, actor.ID); err != nil {
		return nil, translateDBError(err, fmt.Sprintf("failed to reject acquisition %d", id))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, translateDBError(err, "failed to commit acquisition rejection")
	}
	return getAcquisition(ctx, s.pool, id, false)
}

func (s *acquisitionService) Get(ctx context.Context, scope LocationScope, id int) (*Acquisition, error) {
	a, err := getAcquisition(ctx, s.pool, id, false)
	if err != nil {
		return nil, err
	}
	if !scope.Allows(a.LocationID) {
		return nil, newError(KindForbidden, "acquisition %d is outside the caller's locations", id)
	}
	return a, nil
}

func (s *acquisitionService) List(ctx context.Context, scope LocationScope, filter AcquisitionFilter) ([]Acquisition, error) {
	ds := psql.From(goqu.T("acquisitions").As("a")).
		Join(goqu.T("balances").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("a.balance_id")))).
		Join(goqu.T("equipment_kinds").As("k"), goqu.On(goqu.I("k.id").Eq(goqu.I("b.equipment_kind_id")))).
		Join(goqu.T("locations").As("l"), goqu.On(goqu.I("l.id").Eq(goqu.I("b.location_id")))).
		Select("a.id", "a.balance_id", "b.equipment_kind_id", "k.name", "b.location_id", "l.name",
			"a.quantity", "a.supplier", "a.reference_number", "a.cost", "a.status", "a.notes",
			"a.requested_by", "a.approved_by", "a.requested_at", "a.approved_at", "a.rejected_at").
		Order(goqu.I("a.requested_at").Desc(), goqu.I("a.id").Desc())
	ds = whereScope(ds, scope, "b.location_id")
	if filter.Status != "" {
		ds = ds.Where(goqu.I("a.status").Eq(strings.ToUpper(filter.Status)))
	}
	if filter.LocationID != nil {
		ds = ds.Where(goqu.I("b.location_id").Eq(*filter.LocationID))
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build acquisition query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query acquisitions: %w", err)
	}
	defer rows.Close()

	var out []Acquisition
	for rows.Next() {
		a, err := scanAcquisition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan acquisition: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
