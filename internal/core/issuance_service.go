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

// IssuanceService hands equipment to personnel and takes it back.
// An issuance raises the balance's assigned count; its return lowers it again.
type IssuanceService interface {
	Issue(ctx context.Context, actor Actor, in IssuanceInput) (*Issuance, error)
	// Return is a no-op for an issuance that is already returned.
	Return(ctx context.Context, actor Actor, id int) (*Issuance, error)
	Get(ctx context.Context, scope LocationScope, id int) (*Issuance, error)
	List(ctx context.Context, scope LocationScope, filter IssuanceFilter) ([]Issuance, error)
}

type issuanceService struct {
	pool     *pgxpool.Pool
	balances BalanceStore
	audit    AuditTrail
}

func NewIssuanceService(pool *pgxpool.Pool, balances BalanceStore, audit AuditTrail) IssuanceService {
	return &issuanceService{pool: pool, balances: balances, audit: audit}
}

const issuanceSelect = `
	SELECT i.id, i.balance_id, k.name, b.location_id, l.name,
	       i.personnel_id, p.full_name, p.service_number,
	       i.quantity, i.notes, i.issued_by, i.issued_at, i.returned_by, i.returned_at
	FROM issuances i
	JOIN balances b        ON b.id = i.balance_id
	JOIN equipment_kinds k ON k.id = b.equipment_kind_id
	JOIN locations l       ON l.id = b.location_id
	JOIN personnel p       ON p.id = i.personnel_id`

func scanIssuance(row pgx.Row) (*Issuance, error) {
	var i Issuance
	err := row.Scan(&i.ID, &i.BalanceID, &i.EquipmentKindName, &i.LocationID, &i.LocationName,
		&i.PersonnelID, &i.PersonnelName, &i.ServiceNumber,
		&i.Quantity, &i.Notes, &i.IssuedBy, &i.IssuedAt, &i.ReturnedBy, &i.ReturnedAt)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func getIssuance(ctx context.Context, q querier, id int, forUpdate bool) (*Issuance, error) {
	query := issuanceSelect + " WHERE i.id = $1"
	if forUpdate {
		query += " FOR UPDATE OF i"
	}
	i, err := scanIssuance(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, newError(KindNotFound, "issuance %d not found", id)
		}
		return nil, translateDBError(err, fmt.Sprintf("failed to fetch issuance %d", id))
	}
	return i, nil
}

func (s *issuanceService) Issue(ctx context.Context, actor Actor, in IssuanceInput) (*Issuance, error) {
	if err := ValidateQuantity(in.Quantity); err != nil {
		return nil, err
	}
	if err := actor.validate(); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	locked, err := s.balances.LockTx(ctx, tx, in.BalanceID)
	if err != nil {
		return nil, err
	}
	balance := locked[in.BalanceID]
	if err := actor.authorize(balance.LocationID); err != nil {
		return nil, err
	}
	if balance.Closing.LessThan(in.Quantity) {
		return nil, newError(KindInsufficientBalance, "%s at %s has %s available, cannot issue %s",
			balance.EquipmentKindName, balance.LocationName, balance.Closing, in.Quantity)
	}

	var id int
	err = tx.QueryRow(ctx, `
		INSERT INTO issuances (balance_id, personnel_id, quantity, notes, issued_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, in.BalanceID, in.PersonnelID, in.Quantity, strings.TrimSpace(in.Notes), actor.ID).Scan(&id)
	if err != nil {
		return nil, translateDBError(err, "failed to insert issuance")
	}

	if _, err := s.balances.ApplyDeltaTx(ctx, tx, balance, in.Quantity, zero); err != nil {
		return nil, err
	}

	if _, err := s.audit.AppendTx(ctx, tx, actor, AuditRecord{
		BalanceID:  in.BalanceID,
		EventKind:  EventIssuance,
		Quantity:   in.Quantity,
		RecordType: RecordIssuance,
		RecordID:   id,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, translateDBError(err, "failed to commit issuance")
	}
	return getIssuance(ctx, s.pool, id, false)
}

func (s *issuanceService) Return(ctx context.Context, actor Actor, id int) (*Issuance, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	i, err := getIssuance(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if err := actor.authorize(i.LocationID); err != nil {
		return nil, err
	}
	if !i.Active() {
		return i, nil
	}

	locked, err := s.balances.LockTx(ctx, tx, i.BalanceID)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE issuances SET returned_by = $2, returned_at = now()
		WHERE id = $1
	`, id, actor.ID); err != nil {
		return nil, translateDBError(err, fmt.Sprintf("failed to return issuance %d", id))
	}

	if _, err := s.balances.ApplyDeltaTx(ctx, tx, locked[i.BalanceID], i.Quantity.Neg(), zero); err != nil {
		return nil, err
	}

	if _, err := s.audit.AppendTx(ctx, tx, actor, AuditRecord{
		BalanceID:  i.BalanceID,
		EventKind:  EventReturn,
		Quantity:   i.Quantity,
		RecordType: RecordIssuance,
		RecordID:   i.ID,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, translateDBError(err, "failed to commit issuance return")
	}
	return getIssuance(ctx, s.pool, id, false)
}

func (s *issuanceService) Get(ctx context.Context, scope LocationScope, id int) (*Issuance, error) {
	i, err := getIssuance(ctx, s.pool, id, false)
	if err != nil {
		return nil, err
	}
	if !scope.Allows(i.LocationID) {
		return nil, newError(KindForbidden, "issuance %d is outside the caller's locations", id)
	}
	return i, nil
}

func (s *issuanceService) List(ctx context.Context, scope LocationScope, filter IssuanceFilter) ([]Issuance, error) {
	ds := psql.From(goqu.T("issuances").As("i")).
		Join(goqu.T("balances").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("i.balance_id")))).
		Join(goqu.T("equipment_kinds").As("k"), goqu.On(goqu.I("k.id").Eq(goqu.I("b.equipment_kind_id")))).
		Join(goqu.T("locations").As("l"), goqu.On(goqu.I("l.id").Eq(goqu.I("b.location_id")))).
		Join(goqu.T("personnel").As("p"), goqu.On(goqu.I("p.id").Eq(goqu.I("i.personnel_id")))).
		Select("i.id", "i.balance_id", "k.name", "b.location_id", "l.name",
			"i.personnel_id", "p.full_name", "p.service_number",
			"i.quantity", "i.notes", "i.issued_by", "i.issued_at", "i.returned_by", "i.returned_at").
		Order(goqu.I("i.issued_at").Desc(), goqu.I("i.id").Desc())
	ds = whereScope(ds, scope, "b.location_id")
	if filter.LocationID != nil {
		ds = ds.Where(goqu.I("b.location_id").Eq(*filter.LocationID))
	}
	if filter.PersonnelID != nil {
		ds = ds.Where(goqu.I("i.personnel_id").Eq(*filter.PersonnelID))
	}
	if filter.ActiveOnly {
		ds = ds.Where(goqu.I("i.returned_at").IsNull())
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build issuance query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query issuances: %w", err)
	}
	defer rows.Close()

	var out []Issuance
	for rows.Next() {
		i, err := scanIssuance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan issuance: %w", err)
		}
		out = append(out, *i)
	}
	return out, rows.Err()
}
