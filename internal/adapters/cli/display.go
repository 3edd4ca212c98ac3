package cli

import (
	"fmt"
	"io"
	"strings"

	"equipment-ledger/internal/app"
	"equipment-ledger/internal/core"
)

func printBalances(w io.Writer, result *app.BalanceListResult) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("=", 96))
	fmt.Fprintf(w, "  %-92s\n", "EQUIPMENT BALANCES")
	fmt.Fprintln(w, strings.Repeat("=", 96))
	if len(result.Balances) == 0 {
		fmt.Fprintln(w, "  No balances found.")
		fmt.Fprintln(w, strings.Repeat("=", 96))
		return
	}
	fmt.Fprintf(w, "  %-5s %-22s %-20s %11s %11s %11s %11s\n",
		"ID", "EQUIPMENT", "LOCATION", "OPENING", "ASSIGNED", "EXPENDED", "CLOSING")
	fmt.Fprintln(w, strings.Repeat("-", 96))
	for _, b := range result.Balances {
		fmt.Fprintf(w, "  %-5d %-22s %-20s %11s %11s %11s %11s\n",
			b.ID, truncate(b.EquipmentKindName, 22), truncate(b.LocationName, 20),
			b.Opening.StringFixed(2), b.Assigned.StringFixed(2), b.Expended.StringFixed(2), b.Closing.StringFixed(2))
	}
	fmt.Fprintln(w, strings.Repeat("-", 96))
	fmt.Fprintf(w, "  %-83s %11s\n", "TOTAL CLOSING", result.TotalClosing.StringFixed(2))
	fmt.Fprintln(w, strings.Repeat("=", 96))
}

func printHistory(w io.Writer, balanceID int, result *app.AuditResult) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("=", 96))
	fmt.Fprintf(w, "  AUDIT HISTORY: balance %d\n", balanceID)
	fmt.Fprintln(w, strings.Repeat("=", 96))
	if len(result.Entries) == 0 {
		fmt.Fprintln(w, "  No entries.")
		fmt.Fprintln(w, strings.Repeat("=", 96))
		return
	}
	fmt.Fprintf(w, "  %-20s %-16s %11s %-12s %-8s %s\n", "WHEN", "EVENT", "QUANTITY", "RECORD", "ID", "ACTOR")
	fmt.Fprintln(w, strings.Repeat("-", 96))
	for _, e := range result.Entries {
		fmt.Fprintf(w, "  %-20s %-16s %11s %-12s %-8d %s\n",
			e.CreatedAt.UTC().Format("2006-01-02 15:04:05"), e.EventKind, e.Quantity.StringFixed(2),
			e.RecordType, e.RecordID, e.ActorID)
	}
	fmt.Fprintln(w, strings.Repeat("=", 96))
	if result.Truncated {
		fmt.Fprintf(w, "  Showing the newest %d entries; raise --limit to see more.\n", result.Limit)
	}
}

func printReconcile(w io.Writer, result *app.ReconcileResult) {
	if result.Healthy {
		fmt.Fprintln(w, "Ledger is consistent: every closing balance matches its movements.")
		return
	}
	fmt.Fprintf(w, "DRIFT DETECTED in %d balance(s):\n", len(result.Discrepancies))
	for _, d := range result.Discrepancies {
		printDiscrepancy(w, d)
	}
}

func printDiscrepancy(w io.Writer, d core.Discrepancy) {
	fmt.Fprintf(w, "  balance %-5d %-22s %-20s stored %11s  expected %11s\n",
		d.Balance.ID, truncate(d.Balance.EquipmentKindName, 22), truncate(d.Balance.LocationName, 20),
		d.Balance.Closing.StringFixed(2), d.ExpectedClosing.StringFixed(2))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
