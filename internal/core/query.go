package core

import (
	"context"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DefaultHistoryLimit caps audit reads when the caller gives no limit.
const DefaultHistoryLimit = 200

// psql builds the filtered read queries; writes stay hand-written SQL.
var psql = goqu.Dialect("postgres")

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// scopeCondition restricts columns to the locations visible in scope. When more
// than one column is given a row matches if any column is visible. A nil result
// means no restriction.
func scopeCondition(scope LocationScope, columns ...string) exp.Expression {
	switch scope.Kind {
	case ScopeAll:
		return nil
	case ScopeSingle:
		ors := make([]exp.Expression, 0, len(columns))
		for _, c := range columns {
			ors = append(ors, goqu.I(c).Eq(scope.LocationID))
		}
		return goqu.Or(ors...)
	default:
		return goqu.L("FALSE")
	}
}

func whereScope(ds *goqu.SelectDataset, scope LocationScope, columns ...string) *goqu.SelectDataset {
	if cond := scopeCondition(scope, columns...); cond != nil {
		return ds.Where(cond)
	}
	return ds
}
