package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Equipment categories.
const (
	CategoryVehicle    = "VEHICLE"
	CategoryWeapon     = "WEAPON"
	CategoryAmmunition = "AMMUNITION"
	CategoryOther      = "OTHER"
)

// Movement record statuses. Not every workflow uses every status:
//
//	acquisition: PENDING → APPROVED | REJECTED
//	relocation:  PENDING → IN_TRANSIT → COMPLETED, PENDING | IN_TRANSIT → REJECTED
//	leg:         PENDING → COMPLETED | REJECTED
const (
	StatusPending   = "PENDING"
	StatusApproved  = "APPROVED"
	StatusRejected  = "REJECTED"
	StatusInTransit = "IN_TRANSIT"
	StatusCompleted = "COMPLETED"
)

// Relocation leg directions, relative to the leg's balance.
const (
	DirectionIn  = "IN"
	DirectionOut = "OUT"
)

// Audit event kinds.
const (
	EventAcquisition    = "ACQUISITION"
	EventRelocationIn   = "RELOCATION_IN"
	EventRelocationOut  = "RELOCATION_OUT"
	EventIssuance       = "ISSUANCE"
	EventReturn         = "RETURN"
	EventConsumption    = "CONSUMPTION"
	EventOpeningBalance = "OPENING_BALANCE"
)

// Record types stored on audit entries and in the shared reference registry.
const (
	RecordBalance     = "BALANCE"
	RecordAcquisition = "ACQUISITION"
	RecordRelocation  = "RELOCATION"
	RecordIssuance    = "ISSUANCE"
	RecordConsumption = "CONSUMPTION"
)

// Location is a base or depot that holds equipment.
type Location struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CommanderID *string   `json:"commander_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// EquipmentKind is a catalog entry for a type of equipment.
type EquipmentKind struct {
	ID            int       `json:"id"`
	Name          string    `json:"name"`
	Category      string    `json:"category"`
	UnitOfMeasure string    `json:"unit_of_measure"`
	Description   string    `json:"description"`
	CreatedAt     time.Time `json:"created_at"`
}

// Personnel is a service member who can receive issued equipment.
type Personnel struct {
	ID            int       `json:"id"`
	FullName      string    `json:"full_name"`
	Rank          string    `json:"rank"`
	ServiceNumber string    `json:"service_number"`
	LocationID    int       `json:"location_id"`
	LocationName  string    `json:"location_name"` // joined from locations
	CreatedAt     time.Time `json:"created_at"`
}

// Balance is the running position of one equipment kind at one location.
//
//	Closing = Opening + net movement - Assigned - Expended
type Balance struct {
	ID                int             `json:"id"`
	EquipmentKindID   int             `json:"equipment_kind_id"`
	EquipmentKindName string          `json:"equipment_kind_name"` // joined from equipment_kinds
	LocationID        int             `json:"location_id"`
	LocationName      string          `json:"location_name"` // joined from locations
	Opening           decimal.Decimal `json:"opening_balance"`
	Closing           decimal.Decimal `json:"closing_balance"`
	Assigned          decimal.Decimal `json:"assigned_count"`
	Expended          decimal.Decimal `json:"expended_count"`
	Version           int64           `json:"version"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Acquisition is a purchase of equipment into one balance, effective on approval.
type Acquisition struct {
	ID                int             `json:"id"`
	BalanceID         int             `json:"balance_id"`
	EquipmentKindID   int             `json:"equipment_kind_id"`
	EquipmentKindName string          `json:"equipment_kind_name"`
	LocationID        int             `json:"location_id"`
	LocationName      string          `json:"location_name"`
	Quantity          decimal.Decimal `json:"quantity"`
	Supplier          string          `json:"supplier"`
	ReferenceNumber   string          `json:"reference_number"`
	Cost              decimal.Decimal `json:"cost"`
	Status            string          `json:"status"`
	Notes             string          `json:"notes"`
	RequestedBy       string          `json:"requested_by"`
	ApprovedBy        *string         `json:"approved_by,omitempty"`
	RequestedAt       time.Time       `json:"requested_at"`
	ApprovedAt        *time.Time      `json:"approved_at,omitempty"`
	RejectedAt        *time.Time      `json:"rejected_at,omitempty"`
}

// Relocation moves a quantity of one equipment kind between two locations.
type Relocation struct {
	ID                int             `json:"id"`
	EquipmentKindID   int             `json:"equipment_kind_id"`
	EquipmentKindName string          `json:"equipment_kind_name"`
	Quantity          decimal.Decimal `json:"quantity"`
	FromLocationID    int             `json:"from_location_id"`
	FromLocationName  string          `json:"from_location_name"`
	ToLocationID      int             `json:"to_location_id"`
	ToLocationName    string          `json:"to_location_name"`
	ReferenceNumber   string          `json:"reference_number"`
	Status            string          `json:"status"`
	Notes             string          `json:"notes"`
	InitiatedBy       string          `json:"initiated_by"`
	DispatchedBy      *string         `json:"dispatched_by,omitempty"`
	ApprovedBy        *string         `json:"approved_by,omitempty"` // whoever completed or rejected it
	InitiatedAt       time.Time       `json:"initiated_at"`
	DispatchedAt      *time.Time      `json:"dispatched_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	RejectedAt        *time.Time      `json:"rejected_at,omitempty"`
	Legs              []RelocationLeg `json:"legs,omitempty"`
}

// RelocationLeg is the per-balance half of a relocation. Only COMPLETED legs count
// toward net movement.
type RelocationLeg struct {
	ID           int             `json:"id"`
	RelocationID int             `json:"relocation_id"`
	BalanceID    int             `json:"balance_id"`
	Direction    string          `json:"direction"`
	Quantity     decimal.Decimal `json:"quantity"`
	Status       string          `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// Issuance hands equipment from a balance to a person until it is returned.
type Issuance struct {
	ID                int             `json:"id"`
	BalanceID         int             `json:"balance_id"`
	EquipmentKindName string          `json:"equipment_kind_name"`
	LocationID        int             `json:"location_id"`
	LocationName      string          `json:"location_name"`
	PersonnelID       int             `json:"personnel_id"`
	PersonnelName     string          `json:"personnel_name"`
	ServiceNumber     string          `json:"service_number"`
	Quantity          decimal.Decimal `json:"quantity"`
	Notes             string          `json:"notes"`
	IssuedBy          string          `json:"issued_by"`
	IssuedAt          time.Time       `json:"issued_at"`
	ReturnedBy        *string         `json:"returned_by,omitempty"`
	ReturnedAt        *time.Time      `json:"returned_at,omitempty"`
}

// Active reports whether the equipment is still out.
func (i Issuance) Active() bool { return i.ReturnedAt == nil }

// Consumption records irreversible use of equipment from a balance.
type Consumption struct {
	ID                int             `json:"id"`
	BalanceID         int             `json:"balance_id"`
	EquipmentKindName string          `json:"equipment_kind_name"`
	LocationID        int             `json:"location_id"`
	LocationName      string          `json:"location_name"`
	Quantity          decimal.Decimal `json:"quantity"`
	Reason            string          `json:"reason"`
	ReferenceNumber   string          `json:"reference_number"`
	Notes             string          `json:"notes"`
	RecordedBy        string          `json:"recorded_by"`
	RecordedAt        time.Time       `json:"recorded_at"`
}

// AuditEntry is one immutable row of the audit trail.
type AuditEntry struct {
	ID                int64           `json:"id"`
	BalanceID         int             `json:"balance_id"`
	EquipmentKindName string          `json:"equipment_kind_name"`
	LocationID        int             `json:"location_id"`
	LocationName      string          `json:"location_name"`
	EventKind         string          `json:"event_kind"`
	Quantity          decimal.Decimal `json:"quantity"`
	RecordType        string          `json:"record_type"`
	RecordID          int             `json:"record_id"`
	ActorID           string          `json:"actor_id"`
	IPAddress         *string         `json:"ip_address,omitempty"`
	UserAgent         string          `json:"user_agent"`
	CreatedAt         time.Time       `json:"created_at"`
}

// NetMovement is the inflow/outflow breakdown that feeds a balance's closing figure.
type NetMovement struct {
	BalanceID            int             `json:"balance_id"`
	Acquisitions         decimal.Decimal `json:"acquisitions"`
	RelocationsIn        decimal.Decimal `json:"relocations_in"`
	RelocationsOut       decimal.Decimal `json:"relocations_out"`
	Net                  decimal.Decimal `json:"net"`
	ApprovedAcquisitions []Acquisition   `json:"approved_acquisitions"`
	CompletedLegs        []RelocationLeg `json:"completed_legs"`
}

// BalanceSummary totals a set of balances.
type BalanceSummary struct {
	BalanceCount int             `json:"balance_count"`
	Opening      decimal.Decimal `json:"opening_balance"`
	Closing      decimal.Decimal `json:"closing_balance"`
	Assigned     decimal.Decimal `json:"assigned_count"`
	Expended     decimal.Decimal `json:"expended_count"`
}

// Discrepancy is a balance whose stored closing differs from the formula.
type Discrepancy struct {
	Balance         Balance         `json:"balance"`
	ExpectedClosing decimal.Decimal `json:"expected_closing"`
}

// ── Inputs ────────────────────────────────────────────────────────────────────

type LocationInput struct {
	Name        string
	Description string
}

type EquipmentKindInput struct {
	Name          string
	Category      string
	UnitOfMeasure string
	Description   string
}

type PersonnelInput struct {
	FullName      string
	Rank          string
	ServiceNumber string
	LocationID    int
}

type AcquisitionInput struct {
	EquipmentKindID int
	LocationID      int
	Quantity        decimal.Decimal
	Supplier        string
	ReferenceNumber string
	Cost            decimal.Decimal
	Notes           string
}

type RelocationInput struct {
	EquipmentKindID int
	Quantity        decimal.Decimal
	FromLocationID  int
	ToLocationID    int
	ReferenceNumber string
	Notes           string
}

type IssuanceInput struct {
	BalanceID   int
	PersonnelID int
	Quantity    decimal.Decimal
	Notes       string
}

type ConsumptionInput struct {
	BalanceID       int
	Quantity        decimal.Decimal
	Reason          string
	ReferenceNumber string
	Notes           string
}

// ── Filters ───────────────────────────────────────────────────────────────────

type BalanceFilter struct {
	LocationID      *int
	EquipmentKindID *int
}

// HistoryFilter narrows audit trail reads. Zero values mean "no restriction";
// Limit <= 0 uses DefaultHistoryLimit.
type HistoryFilter struct {
	BalanceID  *int
	EventKinds []string
	From       *time.Time
	To         *time.Time
	ActorID    string
	Limit      int
}

type AcquisitionFilter struct {
	Status     string
	LocationID *int
}

// RelocationFilter.LocationID matches either end of the relocation.
type RelocationFilter struct {
	Status     string
	LocationID *int
}

type IssuanceFilter struct {
	LocationID  *int
	PersonnelID *int
	ActiveOnly  bool
}

type ConsumptionFilter struct {
	LocationID *int
}
