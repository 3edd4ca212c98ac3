package app

import (
	"equipment-ledger/internal/core"

	"github.com/shopspring/decimal"
)

// BalanceListResult is returned by ListBalances.
type BalanceListResult struct {
	Balances     []core.Balance  `json:"balances"`
	TotalClosing decimal.Decimal `json:"total_closing"`
}

// AuditResult is returned by BalanceHistory and AuditLog. Limit is the cap that
// was applied; Truncated is set when more entries matched than were returned.
type AuditResult struct {
	Entries   []core.AuditEntry `json:"entries"`
	Limit     int               `json:"limit"`
	Truncated bool              `json:"truncated"`
}

// DashboardResult is returned by Dashboard.
type DashboardResult struct {
	Summary core.BalanceSummary `json:"summary"`
	Recent  []core.AuditEntry   `json:"recent"`
}

// ReconcileResult is returned by Reconcile. Healthy is true when nothing drifted.
type ReconcileResult struct {
	Healthy       bool               `json:"healthy"`
	Discrepancies []core.Discrepancy `json:"discrepancies"`
}

// InterpretResult is returned by InterpretMovement.
type InterpretResult struct {
	Proposal *core.MovementProposal `json:"proposal"`
}

// ExecuteResult is returned by ExecuteProposal. Exactly one record is set,
// matching Action.
type ExecuteResult struct {
	Action      string            `json:"action"`
	Acquisition *core.Acquisition `json:"acquisition,omitempty"`
	Relocation  *core.Relocation  `json:"relocation,omitempty"`
	Issuance    *core.Issuance    `json:"issuance,omitempty"`
	Consumption *core.Consumption `json:"consumption,omitempty"`
}

// dashboardRecentLimit is how many audit entries the dashboard shows.
const dashboardRecentLimit = 10

func sumClosing(balances []core.Balance) decimal.Decimal {
	total := decimal.Zero
	for _, b := range balances {
		total = total.Add(b.Closing)
	}
	return total
}

// withLookahead resolves the effective limit and asks for one extra entry so
// newAuditResult can tell whether the cap cut anything off.
func withLookahead(filter *core.HistoryFilter) int {
	limit := filter.Limit
	if limit <= 0 {
		limit = core.DefaultHistoryLimit
	}
	filter.Limit = limit + 1
	return limit
}

func newAuditResult(entries []core.AuditEntry, limit int) *AuditResult {
	res := &AuditResult{Entries: entries, Limit: limit}
	if len(entries) > limit {
		res.Entries = entries[:limit]
		res.Truncated = true
	}
	return res
}
