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

// CatalogService manages reference data: locations, equipment kinds and personnel.
type CatalogService interface {
	ListLocations(ctx context.Context) ([]Location, error)
	GetLocation(ctx context.Context, id int) (*Location, error)
	FindLocationByName(ctx context.Context, name string) (*Location, error)
	// CreateLocation and CreateEquipmentKind require an all-locations scope.
	CreateLocation(ctx context.Context, actor Actor, in LocationInput) (*Location, error)
	// SetCommander reassigns the commander; the only mutable location field.
	SetCommander(ctx context.Context, actor Actor, locationID int, commanderID string) (*Location, error)

	ListEquipmentKinds(ctx context.Context) ([]EquipmentKind, error)
	GetEquipmentKind(ctx context.Context, id int) (*EquipmentKind, error)
	FindEquipmentKindByName(ctx context.Context, name string) (*EquipmentKind, error)
	CreateEquipmentKind(ctx context.Context, actor Actor, in EquipmentKindInput) (*EquipmentKind, error)

	ListPersonnel(ctx context.Context, scope LocationScope, locationID *int) ([]Personnel, error)
	GetPersonnel(ctx context.Context, id int) (*Personnel, error)
	FindPersonnelByServiceNumber(ctx context.Context, serviceNumber string) (*Personnel, error)
	CreatePersonnel(ctx context.Context, actor Actor, in PersonnelInput) (*Personnel, error)
}

type catalogService struct {
	pool *pgxpool.Pool
}

func NewCatalogService(pool *pgxpool.Pool) CatalogService {
	return &catalogService{pool: pool}
}

var validCategories = map[string]bool{
	CategoryVehicle:    true,
	CategoryWeapon:     true,
	CategoryAmmunition: true,
	CategoryOther:      true,
}

func requireGlobalScope(actor Actor) error {
	if err := actor.validate(); err != nil {
		return err
	}
	if actor.Scope.Kind != ScopeAll {
		return newError(KindForbidden, "actor %s may not change reference data", actor.ID)
	}
	return nil
}

// ── Locations ─────────────────────────────────────────────────────────────────

const locationColumns = "id, name, description, commander_id, created_at"

func scanLocation(row pgx.Row) (*Location, error) {
	var l Location
	if err := row.Scan(&l.ID, &l.Name, &l.Description, &l.CommanderID, &l.CreatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *catalogService) ListLocations(ctx context.Context) ([]Location, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+locationColumns+" FROM locations ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query locations: %w", err)
	}
	defer rows.Close()

	var locations []Location
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		locations = append(locations, *l)
	}
	return locations, rows.Err()
}

func (s *catalogService) GetLocation(ctx context.Context, id int) (*Location, error) {
	l, err := scanLocation(s.pool.QueryRow(ctx, "SELECT "+locationColumns+" FROM locations WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, newError(KindNotFound, "location %d not found", id)
		}
		return nil, fmt.Errorf("failed to fetch location %d: %w", id, err)
	}
	return l, nil
}

func (s *catalogService) FindLocationByName(ctx context.Context, name string) (*Location, error) {
	l, err := scanLocation(s.pool.QueryRow(ctx,
		"SELECT "+locationColumns+" FROM locations WHERE lower(name) = lower($1)", strings.TrimSpace(name)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, newError(KindNotFound, "location %q not found", name)
		}
		return nil, fmt.Errorf("failed to fetch location %q: %w", name, err)
	}
	return l, nil
}

func (s *catalogService) CreateLocation(ctx context.Context, actor Actor, in LocationInput) (*Location, error) {
	if err := requireGlobalScope(actor); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, newError(KindInvalidArgument, "location name is required")
	}

	l, err := scanLocation(s.pool.QueryRow(ctx, `
		INSERT INTO locations (name, description)
		VALUES ($1, $2)
		RETURNING `+locationColumns, name, strings.TrimSpace(in.Description)))
	if err != nil {
		return nil, translateDBError(err, fmt.Sprintf("failed to create location %q", name))
	}
	return l, nil
}

func (s *catalogService) SetCommander(ctx context.Context, actor Actor, locationID int, commanderID string) (*Location, error) {
	if err := requireGlobalScope(actor); err != nil {
		return nil, err
	}
	var commander *string
	if c := strings.TrimSpace(commanderID); c != "" {
		commander = &c
	}

	l, err := scanLocation(s.pool.QueryRow(ctx, `
		UPDATE locations SET commander_id = $2
		WHERE id = $1
		RETURNING `+locationColumns, locationID, commander))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, newError(KindNotFound, "location %d not found", locationID)
		}
		return nil, fmt.Errorf("failed to set commander for location %d: %w", locationID, err)
	}
	return l, nil
}

// ── Equipment kinds ───────────────────────────────────────────────────────────

const equipmentKindColumns = "id, name, category, unit_of_measure, description, created_at"

func scanEquipmentKind(row pgx.Row) (*EquipmentKind, error) {
	var k EquipmentKind
	if err := row.Scan(&k.ID, &k.Name, &k.Category, &k.UnitOfMeasure, &k.Description, &k.CreatedAt); err != nil {
		return nil, err
	}
	return &k, nil
}

func (s *catalogService) ListEquipmentKinds(ctx context.Context) ([]EquipmentKind, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+equipmentKindColumns+" FROM equipment_kinds ORDER BY category, name")
	if err != nil {
		return nil, fmt.Errorf("failed to query equipment kinds: %w", err)
	}
	defer rows.Close()

	var kinds []EquipmentKind
	for rows.Next() {
		k, err := scanEquipmentKind(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan equipment kind: %w", err)
		}
		kinds = append(kinds, *k)
	}
	return kinds, rows.Err()
}

func (s *catalogService) GetEquipmentKind(ctx context.Context, id int) (*EquipmentKind, error) {
	k, err := scanEquipmentKind(s.pool.QueryRow(ctx, "SELECT "+equipmentKindColumns+" FROM equipment_kinds WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, newError(KindNotFound, "equipment kind %d not found", id)
		}
		return nil, fmt.Errorf("failed to fetch equipment kind %d: %w", id, err)
	}
	return k, nil
}

func (s *catalogService) FindEquipmentKindByName(ctx context.Context, name string) (*EquipmentKind, error) {
	k, err := scanEquipmentKind(s.pool.QueryRow(ctx,
		"SELECT "+equipmentKindColumns+" FROM equipment_kinds WHERE lower(name) = lower($1)", strings.TrimSpace(name)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, newError(KindNotFound, "equipment kind %q not found", name)
		}
		return nil, fmt.Errorf("failed to fetch equipment kind %q: %w", name, err)
	}
	return k, nil
}

func (s *catalogService) CreateEquipmentKind(ctx context.Context, actor Actor, in EquipmentKindInput) (*EquipmentKind, error) {
	if err := requireGlobalScope(actor); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, newError(KindInvalidArgument, "equipment kind name is required")
	}
	category := strings.ToUpper(strings.TrimSpace(in.Category))
	if !validCategories[category] {
		return nil, newError(KindInvalidArgument, "unknown equipment category %q", in.Category)
	}
	unit := strings.TrimSpace(in.UnitOfMeasure)
	if unit == "" {
		unit = "Unit"
	}

	k, err := scanEquipmentKind(s.pool.QueryRow(ctx, `
		INSERT INTO equipment_kinds (name, category, unit_of_measure, description)
		VALUES ($1, $2, $3, $4)
		RETURNING `+equipmentKindColumns, name, category, unit, strings.TrimSpace(in.Description)))
	if err != nil {
		return nil, translateDBError(err, fmt.Sprintf("failed to create equipment kind %q", name))
	}
	return k, nil
}

// ── Personnel ─────────────────────────────────────────────────────────────────

const personnelSelect = `
	SELECT p.id, p.full_name, p.rank, p.service_number, p.location_id, l.name, p.created_at
	FROM personnel p
	JOIN locations l ON l.id = p.location_id`

func scanPersonnel(row pgx.Row) (*Personnel, error) {
	var p Personnel
	if err := row.Scan(&p.ID, &p.FullName, &p.Rank, &p.ServiceNumber, &p.LocationID, &p.LocationName, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *catalogService) ListPersonnel(ctx context.Context, scope LocationScope, locationID *int) ([]Personnel, error) {
	ds := psql.From(goqu.T("personnel").As("p")).
		Join(goqu.T("locations").As("l"), goqu.On(goqu.I("l.id").Eq(goqu.I("p.location_id")))).
		Select("p.id", "p.full_name", "p.rank", "p.service_number", "p.location_id", "l.name", "p.created_at").
		Order(goqu.I("p.full_name").Asc())
	ds = whereScope(ds, scope, "p.location_id")
	if locationID != nil {
		ds = ds.Where(goqu.I("p.location_id").Eq(*locationID))
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build personnel query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query personnel: %w", err)
	}
	defer rows.Close()

	var people []Personnel
	for rows.Next() {
		p, err := scanPersonnel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan personnel: %w", err)
		}
		people = append(people, *p)
	}
	return people, rows.Err()
}

func (s *catalogService) GetPersonnel(ctx context.Context, id int) (*Personnel, error) {
	p, err := scanPersonnel(s.pool.QueryRow(ctx, personnelSelect+" WHERE p.id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, newError(KindNotFound, "personnel %d not found", id)
		}
		return nil, fmt.Errorf("failed to fetch personnel %d: %w", id, err)
	}
	return p, nil
}

func (s *catalogService) FindPersonnelByServiceNumber(ctx context.Context, serviceNumber string) (*Personnel, error) {
	p, err := scanPersonnel(s.pool.QueryRow(ctx, personnelSelect+" WHERE p.service_number = $1", strings.TrimSpace(serviceNumber)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, newError(KindNotFound, "no personnel with service number %q", serviceNumber)
		}
		return nil, fmt.Errorf("failed to fetch personnel %q: %w", serviceNumber, err)
	}
	return p, nil
}

func (s *catalogService) CreatePersonnel(ctx context.Context, actor Actor, in PersonnelInput) (*Personnel, error) {
	if err := actor.authorize(in.LocationID); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.FullName)
	serviceNumber := strings.TrimSpace(in.ServiceNumber)
	if name == "" || serviceNumber == "" {
		return nil, newError(KindInvalidArgument, "full name and service number are required")
	}

	var id int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO personnel (full_name, rank, service_number, location_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, name, strings.TrimSpace(in.Rank), serviceNumber, in.LocationID).Scan(&id)
	if err != nil {
		return nil, translateDBError(err, fmt.Sprintf("failed to create personnel %q", serviceNumber))
	}
	return s.GetPersonnel(ctx, id)
}
