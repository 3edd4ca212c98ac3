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

// RelocationService runs the inter-location transfer workflow:
//
//	PENDING → IN_TRANSIT → COMPLETED
//	PENDING | IN_TRANSIT → REJECTED
//
// Only completion touches balances: both legs are marked COMPLETED and both
// balances recomputed in one transaction.
type RelocationService interface {
	// Initiate creates the relocation and its OUT/IN legs. No balance effect.
	Initiate(ctx context.Context, actor Actor, in RelocationInput) (*Relocation, error)
	// Advance dispatches a PENDING relocation.
	Advance(ctx context.Context, actor Actor, id int) (*Relocation, error)
	// Complete is a no-op for COMPLETED relocations.
	Complete(ctx context.Context, actor Actor, id int) (*Relocation, error)
	Reject(ctx context.Context, actor Actor, id int) (*Relocation, error)
	Get(ctx context.Context, scope LocationScope, id int) (*Relocation, error)
	List(ctx context.Context, scope LocationScope, filter RelocationFilter) ([]Relocation, error)
}

type relocationService struct {
	pool     *pgxpool.Pool
	balances BalanceStore
	audit    AuditTrail

	// afterSourceRecompute runs inside Complete between the source and destination
	// recomputes. A non-nil error aborts the transaction.
	afterSourceRecompute func(ctx context.Context) error
}

func NewRelocationService(pool *pgxpool.Pool, balances BalanceStore, audit AuditTrail) RelocationService {
	return &relocationService{pool: pool, balances: balances, audit: audit}
}

const relocationSelect = `
	SELECT r.id, r.equipment_kind_id, k.name, r.quantity,
	       r.from_location_id, fl.name, r.to_location_id, tl.name,
	       r.reference_number, r.status, r.notes, r.initiated_by, r.dispatched_by, r.approved_by,
	       r.initiated_at, r.dispatched_at, r.completed_at, r.rejected_at
	FROM relocations r
	JOIN equipment_kinds k ON k.id = r.equipment_kind_id
	JOIN locations fl      ON fl.id = r.from_location_id
	JOIN locations tl      ON tl.id = r.to_location_id`

func scanRelocation(row pgx.Row) (*Relocation, error) {
	var r Relocation
	err := row.Scan(&r.ID, &r.EquipmentKindID, &r.EquipmentKindName, &r.Quantity,
		&r.FromLocationID, &r.FromLocationName, &r.ToLocationID, &r.ToLocationName,
		&r.ReferenceNumber, &r.Status, &r.Notes, &r.InitiatedBy, &r.DispatchedBy, &r.ApprovedBy,
		&r.InitiatedAt, &r.DispatchedAt, &r.CompletedAt, &r.RejectedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func getRelocation(ctx context.Context, q querier, id int, forUpdate bool) (*Relocation, error) {
	query := relocationSelect + " WHERE r.id = $1"
	if forUpdate {
		query += " FOR UPDATE OF r"
	}
	r, err := scanRelocation(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, newError(KindNotFound, "relocation %d not found", id)
		}
		return nil, translateDBError(err, fmt.Sprintf("failed to fetch relocation %d", id))
	}

	legs, err := relocationLegs(ctx, q, id, forUpdate)
	if err != nil {
		return nil, err
	}
	r.Legs = legs
	return r, nil
}

func relocationLegs(ctx context.Context, q querier, relocationID int, forUpdate bool) ([]RelocationLeg, error) {
	query := `
		SELECT id, relocation_id, balance_id, direction, quantity, status, created_at, completed_at
		FROM relocation_legs
		WHERE relocation_id = $1
		ORDER BY id`
	if forUpdate {
		query += " FOR UPDATE"
	}
	rows, err := q.Query(ctx, query, relocationID)
	if err != nil {
		return nil, translateDBError(err, fmt.Sprintf("failed to query legs of relocation %d", relocationID))
	}
	defer rows.Close()

	var legs []RelocationLeg
	for rows.Next() {
		var l RelocationLeg
		if err := rows.Scan(&l.ID, &l.RelocationID, &l.BalanceID, &l.Direction, &l.Quantity,
			&l.Status, &l.CreatedAt, &l.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan relocation leg: %w", err)
		}
		legs = append(legs, l)
	}
	return legs, rows.Err()
}

// legs returns the OUT and IN legs of r.
func (r *Relocation) legs() (out, in *RelocationLeg, err error) {
	for i := range r.Legs {
		switch r.Legs[i].Direction {
		case DirectionOut:
			out = &r.Legs[i]
		case DirectionIn:
			in = &r.Legs[i]
		}
	}
	if out == nil || in == nil {
		return nil, nil, fmt.Errorf("relocation %d is missing a leg", r.ID)
	}
	return out, in, nil
}

func (s *relocationService) Initiate(ctx context.Context, actor Actor, in RelocationInput) (*Relocation, error) {
	if in.FromLocationID == in.ToLocationID {
		return nil, newError(KindInvalidTransfer, "source and destination are both location %d", in.FromLocationID)
	}
	if err := ValidateQuantity(in.Quantity); err != nil {
		return nil, err
	}
	ref, err := normalizeReference(in.ReferenceNumber)
	if err != nil {
		return nil, err
	}
	if err := actor.authorize(in.FromLocationID); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lazily create both balances in ascending location order.
	first, second := in.FromLocationID, in.ToLocationID
	if second < first {
		first, second = second, first
	}
	byLocation := make(map[int]*Balance, 2)
	for _, loc := range []int{first, second} {
		b, err := s.balances.GetOrCreateTx(ctx, tx, in.EquipmentKindID, loc)
		if err != nil {
			return nil, err
		}
		byLocation[loc] = b
	}

	if err := registerReferenceTx(ctx, tx, ref, RecordRelocation); err != nil {
		return nil, err
	}

	var id int
	err = tx.QueryRow(ctx, `
		INSERT INTO relocations
		    (equipment_kind_id, quantity, from_location_id, to_location_id, reference_number, notes, initiated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, in.EquipmentKindID, in.Quantity, in.FromLocationID, in.ToLocationID, ref, strings.TrimSpace(in.Notes), actor.ID).Scan(&id)
	if err != nil {
		return nil, translateDBError(err, "failed to insert relocation")
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO relocation_legs (relocation_id, balance_id, direction, quantity)
		VALUES ($1, $2, 'OUT', $4), ($1, $3, 'IN', $4)
	`, id, byLocation[in.FromLocationID].ID, byLocation[in.ToLocationID].ID, in.Quantity)
	if err != nil {
		return nil, translateDBError(err, "failed to insert relocation legs")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, translateDBError(err, "failed to commit relocation")
	}
	return getRelocation(ctx, s.pool, id, false)
}

func (s *relocationService) Advance(ctx context.Context, actor Actor, id int) (*Relocation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	r, err := getRelocation(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if err := actor.authorizeAny(r.FromLocationID, r.ToLocationID); err != nil {
		return nil, err
	}
	if r.Status != StatusPending {
		return nil, newError(KindInvalidTransition, "relocation %s is %s, only PENDING can be dispatched", r.ReferenceNumber, r.Status)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE relocations
		SET status = 'IN_TRANSIT', dispatched_by = $2, dispatched_at = now()
		WHERE id = $1
	`, id, actor.ID); err != nil {
		return nil, translateDBError(err, fmt.Sprintf("failed to dispatch relocation %d", id))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, translateDBError(err, "failed to commit relocation dispatch")
	}
	return getRelocation(ctx, s.pool, id, false)
}

func (s *relocationService) Complete(ctx context.Context, actor Actor, id int) (*Relocation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	r, err := getRelocation(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if err := actor.authorizeAny(r.FromLocationID, r.ToLocationID); err != nil {
		return nil, err
	}
	switch r.Status {
	case StatusCompleted:
		return r, nil
	case StatusRejected:
		return nil, newError(KindInvalidTransition, "relocation %s is REJECTED and cannot be completed", r.ReferenceNumber)
	}

	outLeg, inLeg, err := r.legs()
	if err != nil {
		return nil, err
	}

	// Lock both balances before writing either; LockTx orders by id.
	locked, err := s.balances.LockTx(ctx, tx, outLeg.BalanceID, inLeg.BalanceID)
	if err != nil {
		return nil, err
	}
	source, dest := locked[outLeg.BalanceID], locked[inLeg.BalanceID]
	if source.Closing.LessThan(r.Quantity) {
		return nil, newError(KindInsufficientBalance, "%s at %s has %s available, relocation needs %s",
			source.EquipmentKindName, source.LocationName, source.Closing, r.Quantity)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE relocation_legs
		SET status = 'COMPLETED', completed_at = now()
		WHERE relocation_id = $1
	`, id); err != nil {
		return nil, translateDBError(err, fmt.Sprintf("failed to complete legs of relocation %d", id))
	}

	if _, err := s.balances.RecomputeClosingTx(ctx, tx, source); err != nil {
		return nil, err
	}
	if s.afterSourceRecompute != nil {
		if err := s.afterSourceRecompute(ctx); err != nil {
			return nil, err
		}
	}
	if _, err := s.balances.RecomputeClosingTx(ctx, tx, dest); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE relocations
		SET status = 'COMPLETED', approved_by = $2, completed_at = now()
		WHERE id = $1
	`, id, actor.ID); err != nil {
		return nil, translateDBError(err, fmt.Sprintf("failed to complete relocation %d", id))
	}

	for _, rec := range []AuditRecord{
		{BalanceID: source.ID, EventKind: EventRelocationOut, Quantity: r.Quantity, RecordType: RecordRelocation, RecordID: r.ID},
		{BalanceID: dest.ID, EventKind: EventRelocationIn, Quantity: r.Quantity, RecordType: RecordRelocation, RecordID: r.ID},
	} {
		if _, err := s.audit.AppendTx(ctx, tx, actor, rec); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, translateDBError(err, "failed to commit relocation completion")
	}
	return getRelocation(ctx, s.pool, id, false)
}

func (s *relocationService) Reject(ctx context.Context, actor Actor, id int) (*Relocation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	r, err := getRelocation(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if err := actor.authorizeAny(r.FromLocationID, r.ToLocationID); err != nil {
		return nil, err
	}
	switch r.Status {
	case StatusRejected:
		return r, nil
	case StatusCompleted:
		return nil, newError(KindInvalidTransition, "relocation %s is COMPLETED and cannot be rejected", r.ReferenceNumber)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE relocation_legs SET status = 'REJECTED' WHERE relocation_id = $1
	`, id); err != nil {
		return nil, translateDBError(err, fmt.Sprintf("failed to reject legs of relocation %d", id))
	}
	if _, err := tx.Exec(ctx, `
		UPDATE relocations
		SET status = 'REJECTED', approved_by = $2, rejected_at = now()
		WHERE id = $1
	`, id, actor.ID); err != nil {
		return nil, translateDBError(err, fmt.Sprintf("failed to reject relocation %d", id))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, translateDBError(err, "failed to commit relocation rejection")
	}
	return getRelocation(ctx, s.pool, id, false)
}

func (s *relocationService) Get(ctx context.Context, scope LocationScope, id int) (*Relocation, error) {
	r, err := getRelocation(ctx, s.pool, id, false)
	if err != nil {
		return nil, err
	}
	if !scope.Allows(r.FromLocationID) && !scope.Allows(r.ToLocationID) {
		return nil, newError(KindForbidden, "relocation %d is outside the caller's locations", id)
	}
	return r, nil
}

func (s *relocationService) List(ctx context.Context, scope LocationScope, filter RelocationFilter) ([]Relocation, error) {
	ds := psql.From(goqu.T("relocations").As("r")).
		Join(goqu.T("equipment_kinds").As("k"), goqu.On(goqu.I("k.id").Eq(goqu.I("r.equipment_kind_id")))).
		Join(goqu.T("locations").As("fl"), goqu.On(goqu.I("fl.id").Eq(goqu.I("r.from_location_id")))).
		Join(goqu.T("locations").As("tl"), goqu.On(goqu.I("tl.id").Eq(goqu.I("r.to_location_id")))).
		Select("r.id", "r.equipment_kind_id", "k.name", "r.quantity",
			"r.from_location_id", "fl.name", "r.to_location_id", "tl.name",
			"r.reference_number", "r.status", "r.notes", "r.initiated_by", "r.dispatched_by", "r.approved_by",
			"r.initiated_at", "r.dispatched_at", "r.completed_at", "r.rejected_at").
		Order(goqu.I("r.initiated_at").Desc(), goqu.I("r.id").Desc())
	ds = whereScope(ds, scope, "r.from_location_id", "r.to_location_id")
	if filter.Status != "" {
		ds = ds.Where(goqu.I("r.status").Eq(strings.ToUpper(filter.Status)))
	}
	if filter.LocationID != nil {
		ds = ds.Where(goqu.Or(
			goqu.I("r.from_location_id").Eq(*filter.LocationID),
			goqu.I("r.to_location_id").Eq(*filter.LocationID),
		))
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build relocation query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query relocations: %w", err)
	}
	defer rows.Close()

	var out []Relocation
	for rows.Next() {
		r, err := scanRelocation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan relocation: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
