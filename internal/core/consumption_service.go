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

// ConsumptionService records irreversible expenditure against a balance.
type ConsumptionService interface {
	Expend(ctx context.Context, actor Actor, in ConsumptionInput) (*Consumption, error)
	Get(ctx context.Context, scope LocationScope, id int) (*Consumption, error)
	List(ctx context.Context, scope LocationScope, filter ConsumptionFilter) ([]Consumption, error)
}

type consumptionService struct {
	pool     *pgxpool.Pool
	balances BalanceStore
	audit    AuditTrail
}

func NewConsumptionService(pool *pgxpool.Pool, balances BalanceStore, audit AuditTrail) ConsumptionService {
	return &consumptionService{pool: pool, balances: balances, audit: audit}
}

const consumptionSelect = `
	SELECT c.id, c.balance_id, k.name, b.location_id, l.name,
	       c.quantity, c.reason, c.reference_number, c.notes, c.recorded_by, c.recorded_at
	FROM consumptions c
	JOIN balances b        ON b.id = c.balance_id
	JOIN equipment_kinds k ON k.id = b.equipment_kind_id
	JOIN locations l       ON l.id = b.location_id`

func scanConsumption(row pgx.Row) (*Consumption, error) {
	var c Consumption
	err := row.Scan(&c.ID, &c.BalanceID, &c.EquipmentKindName, &c.LocationID, &c.LocationName,
		&c.Quantity, &c.Reason, &c.ReferenceNumber, &c.Notes, &c.RecordedBy, &c.RecordedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func getConsumption(ctx context.Context, q querier, id int) (*Consumption, error) {
	c, err := scanConsumption(q.QueryRow(ctx, consumptionSelect+" WHERE c.id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, newError(KindNotFound, "consumption %d not found", id)
		}
		return nil, fmt.Errorf("failed to fetch consumption %d: %w", id, err)
	}
	return c, nil
}

func (s *consumptionService) Expend(ctx context.Context, actor Actor, in ConsumptionInput) (*Consumption, error) {
	if err := ValidateQuantity(in.Quantity); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, newError(KindInvalidArgument, "a reason is required to expend equipment")
	}
	ref, err := normalizeReference(in.ReferenceNumber)
	if err != nil {
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
		return nil, newError(KindInsufficientBalance, "%s at %s has %s available, cannot expend %s",
			balance.EquipmentKindName, balance.LocationName, balance.Closing, in.Quantity)
	}

	if err := registerReferenceTx(ctx, tx, ref, RecordConsumption); err != nil {
		return nil, err
	}

	var id int
	err = tx.QueryRow(ctx, `
		INSERT INTO consumptions (balance_id, quantity, reason, reference_number, notes, recorded_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, in.BalanceID, in.Quantity, reason, ref, strings.TrimSpace(in.Notes), actor.ID).Scan(&id)
	if err != nil {
		return nil, translateDBError(err, "failed to insert consumption")
	}

	if _, err := s.balances.ApplyDeltaTx(ctx, tx, balance, zero, in.Quantity); err != nil {
		return nil, err
	}

	if _, err := s.audit.AppendTx(ctx, tx, actor, AuditRecord{
		BalanceID:  in.BalanceID,
		EventKind:  EventConsumption,
		Quantity:   in.Quantity,
		RecordType: RecordConsumption,
		RecordID:   id,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, translateDBError(err, "failed to commit consumption")
	}
	return getConsumption(ctx, s.pool, id)
}

func (s *consumptionService) Get(ctx context.Context, scope LocationScope, id int) (*Consumption, error) {
	c, err := getConsumption(ctx, s.pool, id)
	if err != nil {
		return nil, err
	}
	if !scope.Allows(c.LocationID) {
		return nil, newError(KindForbidden, "consumption %d is outside the caller's locations", id)
	}
	return c, nil
}

func (s *consumptionService) List(ctx context.Context, scope LocationScope, filter ConsumptionFilter) ([]Consumption, error) {
	ds := psql.From(goqu.T("consumptions").As("c")).
		Join(goqu.T("balances").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("c.balance_id")))).
		Join(goqu.T("equipment_kinds").As("k"), goqu.On(goqu.I("k.id").Eq(goqu.I("b.equipment_kind_id")))).
		Join(goqu.T("locations").As("l"), goqu.On(goqu.I("l.id").Eq(goqu.I("b.location_id")))).
		Select("c.id", "c.balance_id", "k.name", "b.location_id", "l.name",
			"c.quantity", "c.reason", "c.reference_number", "c.notes", "c.recorded_by", "c.recorded_at").
		Order(goqu.I("c.recorded_at").Desc(), goqu.I("c.id").Desc())
	ds = whereScope(ds, scope, "b.location_id")
	if filter.LocationID != nil {
		ds = ds.Where(goqu.I("b.location_id").Eq(*filter.LocationID))
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build consumption query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query consumptions: %w", err)
	}
	defer rows.Close()

	var out []Consumption
	for rows.Next() {
		c, err := scanConsumption(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan consumption: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
