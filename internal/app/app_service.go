package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"equipment-ledger/internal/ai"
	"equipment-ledger/internal/core"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Deps are the engine services the application layer composes.
type Deps struct {
	Catalog      core.CatalogService
	Balances     core.BalanceStore
	Reporting    core.ReportingService
	Acquisitions core.AcquisitionService
	Relocations  core.RelocationService
	Issuances    core.IssuanceService
	Consumptions core.ConsumptionService
	Agent        ai.AgentService
}

type appService struct {
	deps    Deps
	log     *zap.Logger
	retries int
}

// NewAppService constructs an appService that satisfies ApplicationService.
// Operations failing with ConcurrentModification are retried up to retries times.
func NewAppService(deps Deps, log *zap.Logger, retries int) ApplicationService {
	if log == nil {
		log = zap.NewNop()
	}
	if retries < 0 {
		retries = 0
	}
	return &appService{deps: deps, log: log, retries: retries}
}

// NewFromPool wires the engine services on pool and wraps them.
func NewFromPool(pool *pgxpool.Pool, agent ai.AgentService, log *zap.Logger, retries int) ApplicationService {
	audit := core.NewAuditTrail(pool)
	balances := core.NewBalanceStore(pool, audit)
	return NewAppService(Deps{
		Catalog:      core.NewCatalogService(pool),
		Balances:     balances,
		Reporting:    core.NewReportingService(pool, balances, audit),
		Acquisitions: core.NewAcquisitionService(pool, balances, audit),
		Relocations:  core.NewRelocationService(pool, balances, audit),
		Issuances:    core.NewIssuanceService(pool, balances, audit),
		Consumptions: core.NewConsumptionService(pool, balances, audit),
		Agent:        agent,
	}, log, retries)
}

// mutate runs fn, retrying on ConcurrentModification. A failed attempt has
// already rolled back, so repeating it is safe for every workflow.
func mutate[T any](ctx context.Context, s *appService, op string, actor core.Actor, fn func() (T, error), fields ...zap.Field) (T, error) {
	fields = append([]zap.Field{zap.String("op", op), zap.String("actor", actor.ID)}, fields...)

	var (
		result T
		err    error
	)
	for attempt := 0; ; attempt++ {
		result, err = fn()
		if err == nil {
			s.log.Info("ledger mutation", fields...)
			return result, nil
		}
		if !errors.Is(err, core.ErrConcurrentModification) || attempt >= s.retries {
			break
		}
		s.log.Warn("concurrent modification, retrying", append(fields, zap.Int("attempt", attempt+1))...)
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}
	s.log.Warn("ledger mutation failed", append(fields, zap.Stringer("kind", core.KindOf(err)), zap.Error(err))...)
	return result, err
}

// ── Catalog ─────────────────────────────────────────────────────────────────

func (s *appService) ListLocations(ctx context.Context) ([]core.Location, error) {
	return s.deps.Catalog.ListLocations(ctx)
}

func (s *appService) GetLocation(ctx context.Context, id int) (*core.Location, error) {
	return s.deps.Catalog.GetLocation(ctx, id)
}

func (s *appService) CreateLocation(ctx context.Context, actor core.Actor, in core.LocationInput) (*core.Location, error) {
	return mutate(ctx, s, "create_location", actor, func() (*core.Location, error) {
		return s.deps.Catalog.CreateLocation(ctx, actor, in)
	}, zap.String("name", in.Name))
}

func (s *appService) SetCommander(ctx context.Context, actor core.Actor, locationID int, commanderID string) (*core.Location, error) {
	return mutate(ctx, s, "set_commander", actor, func() (*core.Location, error) {
		return s.deps.Catalog.SetCommander(ctx, actor, locationID, commanderID)
	}, zap.Int("id", locationID))
}

func (s *appService) ListEquipmentKinds(ctx context.Context) ([]core.EquipmentKind, error) {
	return s.deps.Catalog.ListEquipmentKinds(ctx)
}

func (s *appService) CreateEquipmentKind(ctx context.Context, actor core.Actor, in core.EquipmentKindInput) (*core.EquipmentKind, error) {
	return mutate(ctx, s, "create_equipment_kind", actor, func() (*core.EquipmentKind, error) {
		return s.deps.Catalog.CreateEquipmentKind(ctx, actor, in)
	}, zap.String("name", in.Name))
}

func (s *appService) ListPersonnel(ctx context.Context, scope core.LocationScope, locationID *int) ([]core.Personnel, error) {
	return s.deps.Catalog.ListPersonnel(ctx, scope, locationID)
}

func (s *appService) CreatePersonnel(ctx context.Context, actor core.Actor, in core.PersonnelInput) (*core.Personnel, error) {
	return mutate(ctx, s, "create_personnel", actor, func() (*core.Personnel, error) {
		return s.deps.Catalog.CreatePersonnel(ctx, actor, in)
	}, zap.String("service_number", in.ServiceNumber))
}

// ── Balances and reporting ──────────────────────────────────────────────────

func (s *appService) ListBalances(ctx context.Context, scope core.LocationScope, filter core.BalanceFilter) (*BalanceListResult, error) {
	balances, err := s.deps.Balances.List(ctx, scope, filter)
	if err != nil {
		return nil, err
	}
	return &BalanceListResult{Balances: balances, TotalClosing: sumClosing(balances)}, nil
}

func (s *appService) GetBalance(ctx context.Context, scope core.LocationScope, id int) (*core.Balance, error) {
	b, err := s.deps.Balances.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !scope.Allows(b.LocationID) {
		return nil, core.NewError(core.KindForbidden, "balance %d is outside the caller's locations", id)
	}
	return b, nil
}

func (s *appService) SetOpeningBalance(ctx context.Context, actor core.Actor, req OpeningBalanceRequest) (*core.Balance, error) {
	return mutate(ctx, s, "set_opening_balance", actor, func() (*core.Balance, error) {
		return s.deps.Balances.SetOpeningBalance(ctx, actor, req.BalanceID, req.Opening)
	}, zap.Int("id", req.BalanceID), zap.String("opening", req.Opening.String()))
}

func (s *appService) NetMovement(ctx context.Context, scope core.LocationScope, balanceID int) (*core.NetMovement, error) {
	return s.deps.Reporting.NetMovement(ctx, scope, balanceID)
}

func (s *appService) BalanceHistory(ctx context.Context, scope core.LocationScope, balanceID int, filter core.HistoryFilter) (*AuditResult, error) {
	limit := withLookahead(&filter)
	entries, err := s.deps.Reporting.History(ctx, scope, balanceID, filter)
	if err != nil {
		return nil, err
	}
	return newAuditResult(entries, limit), nil
}

func (s *appService) AuditLog(ctx context.Context, scope core.LocationScope, filter core.HistoryFilter) (*AuditResult, error) {
	limit := withLookahead(&filter)
	entries, err := s.deps.Reporting.AuditLog(ctx, scope, filter)
	if err != nil {
		return nil, err
	}
	return newAuditResult(entries, limit), nil
}

func (s *appService) Dashboard(ctx context.Context, scope core.LocationScope, filter core.BalanceFilter) (*DashboardResult, error) {
	summary, err := s.deps.Reporting.Summary(ctx, scope, filter)
	if err != nil {
		return nil, err
	}
	recent, err := s.deps.Reporting.AuditLog(ctx, scope, core.HistoryFilter{Limit: dashboardRecentLimit})
	if err != nil {
		return nil, err
	}
	return &DashboardResult{Summary: *summary, Recent: recent}, nil
}

func (s *appService) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	discrepancies, err := s.deps.Reporting.Reconcile(ctx)
	if err != nil {
		return nil, err
	}
	if len(discrepancies) > 0 {
		s.log.Error("closing balance drift detected", zap.Int("balances", len(discrepancies)))
	}
	return &ReconcileResult{Healthy: len(discrepancies) == 0, Discrepancies: discrepancies}, nil
}

// ── Acquisitions ────────────────────────────────────────────────────────────

func (s *appService) SubmitAcquisition(ctx context.Context, actor core.Actor, in core.AcquisitionInput) (*core.Acquisition, error) {
	return mutate(ctx, s, "submit_acquisition", actor, func() (*core.Acquisition, error) {
		return s.deps.Acquisitions.Submit(ctx, actor, in)
	}, zap.String("reference", in.ReferenceNumber))
}

func (s *appService) ApproveAcquisition(ctx context.Context, actor core.Actor, id int) (*core.Acquisition, error) {
	return mutate(ctx, s, "approve_acquisition", actor, func() (*core.Acquisition, error) {
		return s.deps.Acquisitions.Approve(ctx, actor, id)
	}, zap.Int("id", id))
}

func (s *appService) RejectAcquisition(ctx context.Context, actor core.Actor, id int) (*core.Acquisition, error) {
	return mutate(ctx, s, "reject_acquisition", actor, func() (*core.Acquisition, error) {
		return s.deps.Acquisitions.Reject(ctx, actor, id)
	}, zap.Int("id", id))
}

func (s *appService) GetAcquisition(ctx context.Context, scope core.LocationScope, id int) (*core.Acquisition, error) {
	return s.deps.Acquisitions.Get(ctx, scope, id)
}

func (s *appService) ListAcquisitions(ctx context.Context, scope core.LocationScope, filter core.AcquisitionFilter) ([]core.Acquisition, error) {
	return s.deps.Acquisitions.List(ctx, scope, filter)
}

// ── Relocations ─────────────────────────────────────────────────────────────

func (s *appService) InitiateRelocation(ctx context.Context, actor core.Actor, in core.RelocationInput) (*core.Relocation, error) {
	return mutate(ctx, s, "initiate_relocation", actor, func() (*core.Relocation, error) {
		return s.deps.Relocations.Initiate(ctx, actor, in)
	}, zap.String("reference", in.ReferenceNumber))
}

func (s *appService) AdvanceRelocation(ctx context.Context, actor core.Actor, id int) (*core.Relocation, error) {
	return mutate(ctx, s, "advance_relocation", actor, func() (*core.Relocation, error) {
		return s.deps.Relocations.Advance(ctx, actor, id)
	}, zap.Int("id", id))
}

func (s *appService) CompleteRelocation(ctx context.Context, actor core.Actor, id int) (*core.Relocation, error) {
	return mutate(ctx, s, "complete_relocation", actor, func() (*core.Relocation, error) {
		return s.deps.Relocations.Complete(ctx, actor, id)
	}, zap.Int("id", id))
}

func (s *appService) RejectRelocation(ctx context.Context, actor core.Actor, id int) (*core.Relocation, error) {
	return mutate(ctx, s, "reject_relocation", actor, func() (*core.Relocation, error) {
		return s.deps.Relocations.Reject(ctx, actor, id)
	}, zap.Int("id", id))
}

func (s *appService) GetRelocation(ctx context.Context, scope core.LocationScope, id int) (*core.Relocation, error) {
	return s.deps.Relocations.Get(ctx, scope, id)
}

func (s *appService) ListRelocations(ctx context.Context, scope core.LocationScope, filter core.RelocationFilter) ([]core.Relocation, error) {
	return s.deps.Relocations.List(ctx, scope, filter)
}

// ── Issuances ───────────────────────────────────────────────────────────────

func (s *appService) IssueEquipment(ctx context.Context, actor core.Actor, in core.IssuanceInput) (*core.Issuance, error) {
	return mutate(ctx, s, "issue_equipment", actor, func() (*core.Issuance, error) {
		return s.deps.Issuances.Issue(ctx, actor, in)
	}, zap.Int("balance_id", in.BalanceID), zap.Int("personnel_id", in.PersonnelID))
}

func (s *appService) ReturnIssuance(ctx context.Context, actor core.Actor, id int) (*core.Issuance, error) {
	return mutate(ctx, s, "return_issuance", actor, func() (*core.Issuance, error) {
		return s.deps.Issuances.Return(ctx, actor, id)
	}, zap.Int("id", id))
}

func (s *appService) GetIssuance(ctx context.Context, scope core.LocationScope, id int) (*core.Issuance, error) {
	return s.deps.Issuances.Get(ctx, scope, id)
}

func (s *appService) ListIssuances(ctx context.Context, scope core.LocationScope, filter core.IssuanceFilter) ([]core.Issuance, error) {
	return s.deps.Issuances.List(ctx, scope, filter)
}

// ── Consumptions ────────────────────────────────────────────────────────────

func (s *appService) ExpendEquipment(ctx context.Context, actor core.Actor, in core.ConsumptionInput) (*core.Consumption, error) {
	return mutate(ctx, s, "expend_equipment", actor, func() (*core.Consumption, error) {
		return s.deps.Consumptions.Expend(ctx, actor, in)
	}, zap.Int("balance_id", in.BalanceID), zap.String("reference", in.ReferenceNumber))
}

func (s *appService) GetConsumption(ctx context.Context, scope core.LocationScope, id int) (*core.Consumption, error) {
	return s.deps.Consumptions.Get(ctx, scope, id)
}

func (s *appService) ListConsumptions(ctx context.Context, scope core.LocationScope, filter core.ConsumptionFilter) ([]core.Consumption, error) {
	return s.deps.Consumptions.List(ctx, scope, filter)
}

// ── Movement assistant ──────────────────────────────────────────────────────

func (s *appService) InterpretMovement(ctx context.Context, actor core.Actor, req InterpretRequest) (*InterpretResult, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, core.NewError(core.KindInvalidArgument, "movement description is required")
	}
	if s.deps.Agent == nil {
		return nil, ai.ErrDisabled
	}

	catalog, err := s.catalogContext(ctx, actor.Scope)
	if err != nil {
		return nil, err
	}

	proposal, err := s.deps.Agent.InterpretMovement(ctx, text, catalog)
	if err != nil {
		return nil, err
	}
	proposal.Normalize()
	if err := proposal.Validate(); err != nil {
		return nil, core.NewError(core.KindInvalidArgument, "assistant returned an unusable proposal: %v", err)
	}

	s.log.Info("movement interpreted",
		zap.String("actor", actor.ID),
		zap.String("action", proposal.Action),
		zap.Float64("confidence", proposal.Confidence),
		zap.Bool("clarification_needed", proposal.ClarificationNeeded),
	)
	return &InterpretResult{Proposal: proposal}, nil
}

// catalogContext renders the reference data the assistant may name.
func (s *appService) catalogContext(ctx context.Context, scope core.LocationScope) (string, error) {
	locations, err := s.deps.Catalog.ListLocations(ctx)
	if err != nil {
		return "", err
	}
	kinds, err := s.deps.Catalog.ListEquipmentKinds(ctx)
	if err != nil {
		return "", err
	}
	personnel, err := s.deps.Catalog.ListPersonnel(ctx, scope, nil)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("Locations:\n")
	for _, l := range locations {
		fmt.Fprintf(&sb, "- %s\n", l.Name)
	}
	sb.WriteString("Equipment kinds:\n")
	for _, k := range kinds {
		fmt.Fprintf(&sb, "- %s (%s, %s)\n", k.Name, k.Category, k.UnitOfMeasure)
	}
	if len(personnel) > 0 {
		sb.WriteString("Personnel:\n")
		for _, p := range personnel {
			fmt.Fprintf(&sb, "- %s %s %s, %s\n", p.ServiceNumber, p.Rank, p.FullName, p.LocationName)
		}
	}
	return sb.String(), nil
}

func (s *appService) ExecuteProposal(ctx context.Context, actor core.Actor, proposal core.MovementProposal) (*ExecuteResult, error) {
	proposal.Normalize()
	if proposal.ClarificationNeeded {
		return nil, core.NewError(core.KindInvalidArgument, "proposal needs clarification: %s", proposal.ClarificationMessage)
	}
	if err := proposal.Validate(); err != nil {
		if core.KindOf(err) != core.KindUnknown {
			return nil, err
		}
		return nil, core.NewError(core.KindInvalidArgument, "%v", err)
	}

	qty, err := proposal.QuantityDecimal()
	if err != nil {
		return nil, core.NewError(core.KindInvalidArgument, "%v", err)
	}
	kind, err := s.deps.Catalog.FindEquipmentKindByName(ctx, proposal.EquipmentKind)
	if err != nil {
		return nil, err
	}
	location, err := s.deps.Catalog.FindLocationByName(ctx, proposal.Location)
	if err != nil {
		return nil, err
	}

	result := &ExecuteResult{Action: proposal.Action}
	switch proposal.Action {
	case core.ActionAcquisition:
		cost, err := proposal.CostDecimal()
		if err != nil {
			return nil, core.NewError(core.KindInvalidArgument, "%v", err)
		}
		result.Acquisition, err = s.SubmitAcquisition(ctx, actor, core.AcquisitionInput{
			EquipmentKindID: kind.ID,
			LocationID:      location.ID,
			Quantity:        qty,
			Supplier:        proposal.Supplier,
			ReferenceNumber: proposal.ReferenceNumber,
			Cost:            cost,
			Notes:           proposal.Reasoning,
		})
		if err != nil {
			return nil, err
		}

	case core.ActionRelocation:
		dest, err := s.deps.Catalog.FindLocationByName(ctx, proposal.DestinationLocation)
		if err != nil {
			return nil, err
		}
		result.Relocation, err = s.InitiateRelocation(ctx, actor, core.RelocationInput{
			EquipmentKindID: kind.ID,
			Quantity:        qty,
			FromLocationID:  location.ID,
			ToLocationID:    dest.ID,
			ReferenceNumber: proposal.ReferenceNumber,
			Notes:           proposal.Reasoning,
		})
		if err != nil {
			return nil, err
		}

	case core.ActionIssuance:
		recipient, err := s.deps.Catalog.FindPersonnelByServiceNumber(ctx, proposal.RecipientServiceNumber)
		if err != nil {
			return nil, err
		}
		balance, err := s.deps.Balances.GetByKey(ctx, kind.ID, location.ID)
		if err != nil {
			return nil, err
		}
		result.Issuance, err = s.IssueEquipment(ctx, actor, core.IssuanceInput{
			BalanceID:   balance.ID,
			PersonnelID: recipient.ID,
			Quantity:    qty,
			Notes:       proposal.Reasoning,
		})
		if err != nil {
			return nil, err
		}

	case core.ActionConsumption:
		balance, err := s.deps.Balances.GetByKey(ctx, kind.ID, location.ID)
		if err != nil {
			return nil, err
		}
		result.Consumption, err = s.ExpendEquipment(ctx, actor, core.ConsumptionInput{
			BalanceID:       balance.ID,
			Quantity:        qty,
			Reason:          proposal.Reason,
			ReferenceNumber: proposal.ReferenceNumber,
			Notes:           proposal.Reasoning,
		})
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}
