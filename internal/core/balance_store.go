package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// BalanceStore owns the balances table. Every write keeps
//
//	closing = opening + net movement - assigned - expended
//
// and bumps the row version.
type BalanceStore interface {
	// Standalone operations (manage their own transactions).
	GetOrCreate(ctx context.Context, equipmentKindID, locationID int) (*Balance, error)
	Get(ctx context.Context, id int) (*Balance, error)
	GetByKey(ctx context.Context, equipmentKindID, locationID int) (*Balance, error)
	List(ctx context.Context, scope LocationScope, filter BalanceFilter) ([]Balance, error)
	// RecomputeClosing re-derives closing from stored state. Idempotent.
	RecomputeClosing(ctx context.Context, id int) (*Balance, error)
	// ApplyDelta adjusts assigned/expended counts. The write is rejected with
	// ConcurrentModification if the row changed after it was read.
	ApplyDelta(ctx context.Context, id int, assignedDelta, expendedDelta decimal.Decimal) (*Balance, error)
	// SetOpeningBalance replaces the opening figure and records an OPENING_BALANCE audit entry.
	SetOpeningBalance(ctx context.Context, actor Actor, id int, opening decimal.Decimal) (*Balance, error)

	// TX-scoped operations: work within a caller-provided transaction.
	// Used by the movement workflows to keep balance writes atomic with record transitions.

	GetOrCreateTx(ctx context.Context, tx pgx.Tx, equipmentKindID, locationID int) (*Balance, error)
	// LockTx takes row locks on the given balances in ascending id order. The
	// locks are FOR NO KEY UPDATE so foreign-key checks from concurrent leg or
	// movement inserts (FOR KEY SHARE) never wait on them.
	LockTx(ctx context.Context, tx pgx.Tx, ids ...int) (map[int]*Balance, error)
	RecomputeClosingTx(ctx context.Context, tx pgx.Tx, b *Balance) (*Balance, error)
	ApplyDeltaTx(ctx context.Context, tx pgx.Tx, b *Balance, assignedDelta, expendedDelta decimal.Decimal) (*Balance, error)
}

type balanceStore struct {
	pool  *pgxpool.Pool
	audit AuditTrail
}

func NewBalanceStore(pool *pgxpool.Pool, audit AuditTrail) BalanceStore {
	return &balanceStore{pool: pool, audit: audit}
}

const balanceColumns = `
	b.id, b.equipment_kind_id, k.name, b.location_id, l.name,
	b.opening_balance, b.closing_balance, b.assigned_count, b.expended_count,
	b.version, b.updated_at`

const balanceFrom = `
	FROM balances b
	JOIN equipment_kinds k ON k.id = b.equipment_kind_id
	JOIN locations l       ON l.id = b.location_id`

// netMovementQuery is the single definition of net movement, shared by the
// recompute path and reporting.
const netMovementQuery = `
	SELECT
		COALESCE((SELECT SUM(quantity) FROM acquisitions
		          WHERE balance_id = $1 AND status = 'APPROVED'), 0),
		COALESCE((SELECT SUM(quantity) FROM relocation_legs
		          WHERE balance_id = $1 AND direction = 'IN' AND status = 'COMPLETED'), 0),
		COALESCE((SELECT SUM(quantity) FROM relocation_legs
		          WHERE balance_id = $1 AND direction = 'OUT' AND status = 'COMPLETED'), 0)`

func scanBalance(row pgx.Row) (*Balance, error) {
	var b Balance
	err := row.Scan(&b.ID, &b.EquipmentKindID, &b.EquipmentKindName, &b.LocationID, &b.LocationName,
		&b.Opening, &b.Closing, &b.Assigned, &b.Expended, &b.Version, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// netMovementTotals returns approved acquisitions, completed relocations in and
// completed relocations out for one balance.
func netMovementTotals(ctx context.Context, q querier, balanceID int) (acq, in, out decimal.Decimal, err error) {
	err = q.QueryRow(ctx, netMovementQuery, balanceID).Scan(&acq, &in, &out)
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, fmt.Errorf("failed to compute net movement for balance %d: %w", balanceID, err)
	}
	return acq, in, out, nil
}

func netMovement(ctx context.Context, q querier, balanceID int) (decimal.Decimal, error) {
	acq, in, out, err := netMovementTotals(ctx, q, balanceID)
	if err != nil {
		return decimal.Zero, err
	}
	return acq.Add(in).Sub(out), nil
}

func getBalance(ctx context.Context, q querier, id int) (*Balance, error) {
	b, err := scanBalance(q.QueryRow(ctx, "SELECT"+balanceColumns+balanceFrom+" WHERE b.id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, newError(KindNotFound, "balance %d not found", id)
		}
		return nil, fmt.Errorf("failed to fetch balance %d: %w", id, err)
	}
	return b, nil
}

// ── Standalone operations ─────────────────────────────────────────────────────

func (s *balanceStore) GetOrCreate(ctx context.Context, equipmentKindID, locationID int) (*Balance, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	b, err := s.GetOrCreateTx(ctx, tx, equipmentKindID, locationID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, translateDBError(err, "failed to commit balance creation")
	}
	return b, nil
}

func (s *balanceStore) Get(ctx context.Context, id int) (*Balance, error) {
	return getBalance(ctx, s.pool, id)
}

func (s *balanceStore) GetByKey(ctx context.Context, equipmentKindID, locationID int) (*Balance, error) {
	b, err := scanBalance(s.pool.QueryRow(ctx,
		"SELECT"+balanceColumns+balanceFrom+" WHERE b.equipment_kind_id = $1 AND b.location_id = $2",
		equipmentKindID, locationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, newError(KindNotFound, "no balance for equipment kind %d at location %d", equipmentKindID, locationID)
		}
		return nil, fmt.Errorf("failed to fetch balance: %w", err)
	}
	return b, nil
}

func (s *balanceStore) List(ctx context.Context, scope LocationScope, filter BalanceFilter) ([]Balance, error) {
	ds := psql.From(goqu.T("balances").As("b")).
		Join(goqu.T("equipment_kinds").As("k"), goqu.On(goqu.I("k.id").Eq(goqu.I("b.equipment_kind_id")))).
		Join(goqu.T("locations").As("l"), goqu.On(goqu.I("l.id").Eq(goqu.I("b.location_id")))).
		Select("b.id", "b.equipment_kind_id", "k.name", "b.location_id", "l.name",
			"b.opening_balance", "b.closing_balance", "b.assigned_count", "b.expended_count",
			"b.version", "b.updated_at").
		Order(goqu.I("l.name").Asc(), goqu.I("k.name").Asc())
	ds = whereScope(ds, scope, "b.location_id")
	if filter.LocationID != nil {
		ds = ds.Where(goqu.I("b.location_id").Eq(*filter.LocationID))
	}
	if filter.EquipmentKindID != nil {
		ds = ds.Where(goqu.I("b.equipment_kind_id").Eq(*filter.EquipmentKindID))
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build balance query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var balances []Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		balances = append(balances, *b)
	}
	return balances, rows.Err()
}

func (s *balanceStore) RecomputeClosing(ctx context.Context, id int) (*Balance, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	locked, err := s.LockTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	b, err := s.RecomputeClosingTx(ctx, tx, locked[id])
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, translateDBError(err, "failed to commit recompute")
	}
	return b, nil
}

func (s *balanceStore) ApplyDelta(ctx context.Context, id int, assignedDelta, expendedDelta decimal.Decimal) (*Balance, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Plain read: the version guard in ApplyDeltaTx catches interleaved writers.
	current, err := getBalance(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	b, err := s.ApplyDeltaTx(ctx, tx, current, assignedDelta, expendedDelta)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, translateDBError(err, "failed to commit balance delta")
	}
	return b, nil
}

func (s *balanceStore) SetOpeningBalance(ctx context.Context, actor Actor, id int, opening decimal.Decimal) (*Balance, error) {
	if err := validateAmount("opening balance", opening); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	locked, err := s.LockTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	current := locked[id]
	if err := actor.authorize(current.LocationID); err != nil {
		return nil, err
	}

	withOpening := *current
	withOpening.Opening = opening
	b, err := s.writeClosingTx(ctx, tx, &withOpening)
	if err != nil {
		return nil, err
	}

	if _, err := s.audit.AppendTx(ctx, tx, actor, AuditRecord{
		BalanceID:  id,
		EventKind:  EventOpeningBalance,
		Quantity:   opening,
		RecordType: RecordBalance,
		RecordID:   id,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, translateDBError(err, "failed to commit opening balance")
	}
	return b, nil
}

// ── TX-scoped operations ──────────────────────────────────────────────────────

func (s *balanceStore) GetOrCreateTx(ctx context.Context, tx pgx.Tx, equipmentKindID, locationID int) (*Balance, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO balances (equipment_kind_id, location_id)
		VALUES ($1, $2)
		ON CONFLICT (equipment_kind_id, location_id) DO NOTHING
	`, equipmentKindID, locationID)
	if err != nil {
		return nil, translateDBError(err, fmt.Sprintf("failed to create balance for equipment kind %d at location %d", equipmentKindID, locationID))
	}

	b, err := scanBalance(tx.QueryRow(ctx,
		"SELECT"+balanceColumns+balanceFrom+" WHERE b.equipment_kind_id = $1 AND b.location_id = $2",
		equipmentKindID, locationID))
	if err != nil {
		return nil, fmt.Errorf("failed to read balance after upsert: %w", err)
	}
	return b, nil
}

func (s *balanceStore) LockTx(ctx context.Context, tx pgx.Tx, ids ...int) (map[int]*Balance, error) {
	rows, err := tx.Query(ctx,
		"SELECT"+balanceColumns+balanceFrom+" WHERE b.id = ANY($1) ORDER BY b.id FOR NO KEY UPDATE OF b",
		ids)
	if err != nil {
		return nil, translateDBError(err, "failed to lock balances")
	}
	defer rows.Close()

	locked := make(map[int]*Balance, len(ids))
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan locked balance: %w", err)
		}
		locked[b.ID] = b
	}
	if err := rows.Err(); err != nil {
		return nil, translateDBError(err, "failed to lock balances")
	}
	for _, id := range ids {
		if _, ok := locked[id]; !ok {
			return nil, newError(KindNotFound, "balance %d not found", id)
		}
	}
	return locked, nil
}

func (s *balanceStore) RecomputeClosingTx(ctx context.Context, tx pgx.Tx, b *Balance) (*Balance, error) {
	return s.writeClosingTx(ctx, tx, b)
}

func (s *balanceStore) ApplyDeltaTx(ctx context.Context, tx pgx.Tx, b *Balance, assignedDelta, expendedDelta decimal.Decimal) (*Balance, error) {
	next := *b
	next.Assigned = b.Assigned.Add(assignedDelta)
	next.Expended = b.Expended.Add(expendedDelta)
	if next.Assigned.IsNegative() {
		return nil, newError(KindInsufficientBalance, "assigned count for balance %d would become %s", b.ID, next.Assigned)
	}
	if next.Expended.IsNegative() {
		return nil, newError(KindInsufficientBalance, "expended count for balance %d would become %s", b.ID, next.Expended)
	}
	return s.writeClosingTx(ctx, tx, &next)
}

// writeClosingTx persists opening/assigned/expended from next together with a
// freshly computed closing, guarded by next.Version.
func (s *balanceStore) writeClosingTx(ctx context.Context, tx pgx.Tx, next *Balance) (*Balance, error) {
	net, err := netMovement(ctx, tx, next.ID)
	if err != nil {
		return nil, err
	}
	closing := ComputeClosing(next.Opening, net, next.Assigned, next.Expended)
	if closing.IsNegative() {
		return nil, newError(KindInsufficientBalance, "closing balance for %s at %s would become %s",
			next.EquipmentKindName, next.LocationName, closing)
	}

	out := *next
	err = tx.QueryRow(ctx, `
		UPDATE balances
		SET opening_balance = $2,
		    assigned_count  = $3,
		    expended_count  = $4,
		    closing_balance = $5,
		    version         = version + 1,
		    updated_at      = now()
		WHERE id = $1 AND version = $6
		RETURNING closing_balance, version, updated_at
	`, next.ID, next.Opening, next.Assigned, next.Expended, closing, next.Version).
		Scan(&out.Closing, &out.Version, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, newError(KindConcurrentModification, "balance %d changed since version %d", next.ID, next.Version)
		}
		return nil, translateDBError(err, fmt.Sprintf("failed to update balance %d", next.ID))
	}
	return &out, nil
}
