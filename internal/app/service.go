package app

import (
	"context"

	"equipment-ledger/internal/core"
)

// ApplicationService is the single interface all adapters (CLI, Web) call.
// It decouples presentation from the ledger engine. Implementations contain no
// display logic. Mutations take the caller's Actor; reads take its LocationScope.
type ApplicationService interface {
	// ── Catalog ──────────────────────────────────────────────────────────────
	ListLocations(ctx context.Context) ([]core.Location, error)
	GetLocation(ctx context.Context, id int) (*core.Location, error)
	CreateLocation(ctx context.Context, actor core.Actor, in core.LocationInput) (*core.Location, error)
	SetCommander(ctx context.Context, actor core.Actor, locationID int, commanderID string) (*core.Location, error)
	ListEquipmentKinds(ctx context.Context) ([]core.EquipmentKind, error)
	CreateEquipmentKind(ctx context.Context, actor core.Actor, in core.EquipmentKindInput) (*core.EquipmentKind, error)
	ListPersonnel(ctx context.Context, scope core.LocationScope, locationID *int) ([]core.Personnel, error)
	CreatePersonnel(ctx context.Context, actor core.Actor, in core.PersonnelInput) (*core.Personnel, error)

	// ── Balances and reporting ───────────────────────────────────────────────
	ListBalances(ctx context.Context, scope core.LocationScope, filter core.BalanceFilter) (*BalanceListResult, error)
	GetBalance(ctx context.Context, scope core.LocationScope, id int) (*core.Balance, error)
	// SetOpeningBalance replaces a balance's opening figure and audits the change.
	SetOpeningBalance(ctx context.Context, actor core.Actor, req OpeningBalanceRequest) (*core.Balance, error)
	NetMovement(ctx context.Context, scope core.LocationScope, balanceID int) (*core.NetMovement, error)
	BalanceHistory(ctx context.Context, scope core.LocationScope, balanceID int, filter core.HistoryFilter) (*AuditResult, error)
	AuditLog(ctx context.Context, scope core.LocationScope, filter core.HistoryFilter) (*AuditResult, error)
	// Dashboard totals the visible balances and returns the latest audit entries.
	Dashboard(ctx context.Context, scope core.LocationScope, filter core.BalanceFilter) (*DashboardResult, error)
	// Reconcile reports balances whose closing figure drifted from the formula.
	Reconcile(ctx context.Context) (*ReconcileResult, error)

	// ── Acquisitions ─────────────────────────────────────────────────────────
	SubmitAcquisition(ctx context.Context, actor core.Actor, in core.AcquisitionInput) (*core.Acquisition, error)
	ApproveAcquisition(ctx context.Context, actor core.Actor, id int) (*core.Acquisition, error)
	RejectAcquisition(ctx context.Context, actor core.Actor, id int) (*core.Acquisition, error)
	GetAcquisition(ctx context.Context, scope core.LocationScope, id int) (*core.Acquisition, error)
	ListAcquisitions(ctx context.Context, scope core.LocationScope, filter core.AcquisitionFilter) ([]core.Acquisition, error)

	// ── Relocations ──────────────────────────────────────────────────────────
	InitiateRelocation(ctx context.Context, actor core.Actor, in core.RelocationInput) (*core.Relocation, error)
	AdvanceRelocation(ctx context.Context, actor core.Actor, id int) (*core.Relocation, error)
	CompleteRelocation(ctx context.Context, actor core.Actor, id int) (*core.Relocation, error)
	RejectRelocation(ctx context.Context, actor core.Actor, id int) (*core.Relocation, error)
	GetRelocation(ctx context.Context, scope core.LocationScope, id int) (*core.Relocation, error)
	ListRelocations(ctx context.Context, scope core.LocationScope, filter core.RelocationFilter) ([]core.Relocation, error)

	// ── Issuances ────────────────────────────────────────────────────────────
	IssueEquipment(ctx context.Context, actor core.Actor, in core.IssuanceInput) (*core.Issuance, error)
	ReturnIssuance(ctx context.Context, actor core.Actor, id int) (*core.Issuance, error)
	GetIssuance(ctx context.Context, scope core.LocationScope, id int) (*core.Issuance, error)
	ListIssuances(ctx context.Context, scope core.LocationScope, filter core.IssuanceFilter) ([]core.Issuance, error)

	// ── Consumptions ─────────────────────────────────────────────────────────
	ExpendEquipment(ctx context.Context, actor core.Actor, in core.ConsumptionInput) (*core.Consumption, error)
	GetConsumption(ctx context.Context, scope core.LocationScope, id int) (*core.Consumption, error)
	ListConsumptions(ctx context.Context, scope core.LocationScope, filter core.ConsumptionFilter) ([]core.Consumption, error)

	// ── Movement assistant ───────────────────────────────────────────────────
	// InterpretMovement asks the AI agent to read a free-text movement. Nothing is
	// written; the caller confirms by passing the proposal to ExecuteProposal.
	InterpretMovement(ctx context.Context, actor core.Actor, req InterpretRequest) (*InterpretResult, error)
	ExecuteProposal(ctx context.Context, actor core.Actor, proposal core.MovementProposal) (*ExecuteResult, error)
}
