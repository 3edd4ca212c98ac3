package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// AuditRecord is what a workflow hands to the audit trail. Actor identity and
// request metadata come from the Actor passed alongside it.
type AuditRecord struct {
	BalanceID  int
	EventKind  string
	Quantity   decimal.Decimal
	RecordType string
	RecordID   int
}

// AuditTrail is the append-only log of balance-affecting events. Entries are only
// ever written inside the transaction that performs the balance change; the
// database rejects UPDATE and DELETE on the table.
type AuditTrail interface {
	AppendTx(ctx context.Context, tx pgx.Tx, actor Actor, rec AuditRecord) (*AuditEntry, error)
	// History returns entries visible in scope, newest first (created_at DESC, id DESC).
	History(ctx context.Context, scope LocationScope, filter HistoryFilter) ([]AuditEntry, error)
}

type auditTrail struct {
	pool *pgxpool.Pool
}

func NewAuditTrail(pool *pgxpool.Pool) AuditTrail {
	return &auditTrail{pool: pool}
}

var validEventKinds = map[string]bool{
	EventAcquisition:    true,
	EventRelocationIn:   true,
	EventRelocationOut:  true,
	EventIssuance:       true,
	EventReturn:         true,
	EventConsumption:    true,
	EventOpeningBalance: true,
}

func (a *auditTrail) AppendTx(ctx context.Context, tx pgx.Tx, actor Actor, rec AuditRecord) (*AuditEntry, error) {
	if !validEventKinds[rec.EventKind] {
		return nil, newError(KindInvalidArgument, "unknown audit event kind %q", rec.EventKind)
	}
	if err := actor.validate(); err != nil {
		return nil, err
	}

	var ip *string
	if actor.IPAddress != "" {
		ip = &actor.IPAddress
	}

	e := AuditEntry{
		BalanceID:  rec.BalanceID,
		EventKind:  rec.EventKind,
		Quantity:   rec.Quantity,
		RecordType: rec.RecordType,
		RecordID:   rec.RecordID,
		ActorID:    actor.ID,
		IPAddress:  ip,
		UserAgent:  actor.UserAgent,
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO audit_entries
		    (balance_id, event_kind, quantity, record_type, record_id, actor_id, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, e.BalanceID, e.EventKind, e.Quantity, e.RecordType, e.RecordID, e.ActorID, e.IPAddress, e.UserAgent).
		Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return nil, translateDBError(err, "failed to append audit entry")
	}
	return &e, nil
}

func (a *auditTrail) History(ctx context.Context, scope LocationScope, filter HistoryFilter) ([]AuditEntry, error) {
	for _, k := range filter.EventKinds {
		if !validEventKinds[k] {
			return nil, newError(KindInvalidArgument, "unknown audit event kind %q", k)
		}
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, newError(KindInvalidArgument, "history range ends before it starts")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	ds := psql.From(goqu.T("audit_entries").As("e")).
		Join(goqu.T("balances").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("e.balance_id")))).
		Join(goqu.T("equipment_kinds").As("k"), goqu.On(goqu.I("k.id").Eq(goqu.I("b.equipment_kind_id")))).
		Join(goqu.T("locations").As("l"), goqu.On(goqu.I("l.id").Eq(goqu.I("b.location_id")))).
		Select("e.id", "e.balance_id", "k.name", "b.location_id", "l.name",
			"e.event_kind", "e.quantity", "e.record_type", "e.record_id",
			"e.actor_id", "e.ip_address", "e.user_agent", "e.created_at").
		Order(goqu.I("e.created_at").Desc(), goqu.I("e.id").Desc()).
		Limit(uint(limit))
	ds = whereScope(ds, scope, "b.location_id")
	if filter.BalanceID != nil {
		ds = ds.Where(goqu.I("e.balance_id").Eq(*filter.BalanceID))
	}
	if len(filter.EventKinds) > 0 {
		ds = ds.Where(goqu.I("e.event_kind").In(filter.EventKinds))
	}
	if filter.From != nil {
		ds = ds.Where(goqu.I("e.created_at").Gte(*filter.From))
	}
	if filter.To != nil {
		ds = ds.Where(goqu.I("e.created_at").Lte(*filter.To))
	}
	if actor := strings.TrimSpace(filter.ActorID); actor != "" {
		ds = ds.Where(goqu.I("e.actor_id").Eq(actor))
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build audit query: %w", err)
	}
	rows, err := a.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.BalanceID, &e.EquipmentKindName, &e.LocationID, &e.LocationName,
			&e.EventKind, &e.Quantity, &e.RecordType, &e.RecordID,
			&e.ActorID, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
