package postgres

// Package postgres provides a pgx-backed storage implementation that satisfies
// the repository and writer interfaces used by the HTTP/API and services.
//
// It is intentionally small and explicit. Migrations that create the expected
// schema live under db/migrations. Monthly sheets are persisted as whole jsonb
// documents and replaced on every save; registry entities map to plain rows.

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blocbill/blocbill/internal/billing"
	"github.com/blocbill/blocbill/internal/dictionary"
	"github.com/blocbill/blocbill/internal/errs"
	"github.com/blocbill/blocbill/internal/slug"
)

// Store holds a pgx connection pool and implements the read/write interfaces
// used across the service layer. All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// Open establishes a pgx pool using the provided connection string.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ready pings the pool to verify connectivity.
func (s *Store) Ready(ctx context.Context) error { return s.pool.Ping(ctx) }

// SeedDev inserts a demo association with one block and four apartments plus a
// basic expense configuration for quick local testing.
func (s *Store) SeedDev(ctx context.Context) (uuid.UUID, []billing.Apartment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	assocID := uuid.New()
	block := billing.Block{ID: uuid.New(), AssociationID: assocID, Name: "Bloc A"}
	if _, err := tx.Exec(ctx, `insert into blocks (id, association_id, name) values ($1,$2,$3)`, block.ID, block.AssociationID, block.Name); err != nil {
		return uuid.Nil, nil, err
	}
	apts := make([]billing.Apartment, 0, 4)
	for i := 1; i <= 4; i++ {
		apt := billing.Apartment{ID: uuid.New(), AssociationID: assocID, BlockID: block.ID, Number: i, Owner: "Proprietar", Persons: 2, Surface: 55, CotaParte: 25}
		if _, err := tx.Exec(ctx, `
			insert into apartments (id, association_id, block_id, stair_id, number, owner, persons, surface, cota_parte, apartment_type, initial_balance)
			values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,null)
		`, apt.ID, apt.AssociationID, apt.BlockID, nilUUID(apt.StairID), apt.Number, apt.Owner, apt.Persons, apt.Surface, apt.CotaParte, apt.ApartmentType); err != nil {
			return uuid.Nil, nil, err
		}
		apts = append(apts, apt)
	}
	for _, def := range dictionary.Standard() {
		typeID := uuid.New()
		if _, err := tx.Exec(ctx, `insert into expense_types (id, association_id, name, custom, default_distribution) values ($1,$2,$3,false,$4)`, typeID, assocID, def.Name, string(def.Distribution)); err != nil {
			return uuid.Nil, nil, err
		}
		cfg := billing.ExpenseConfig{
			ExpenseTypeID:    typeID,
			Name:             def.Name,
			DistributionType: def.Distribution,
			ReceptionMode:    billing.ReceptionTotal,
			ConsumptionUnit:  def.ConsumptionUnit,
			DifferenceDistribution: billing.DifferenceDistribution{
				Method:                         billing.DifferenceMethodApartment,
				AdjustmentMode:                 billing.AdjustmentNone,
				IncludeFixedAmountInDifference: true,
			},
		}
		if def.Metered {
			cfg.IndexConfiguration = billing.IndexConfiguration{
				Enabled:    true,
				InputMode:  billing.InputIndexes,
				IndexTypes: []billing.IndexType{{ID: uuid.New(), Name: def.Name}},
			}
		}
		doc, err := json.Marshal(cfg)
		if err != nil {
			return uuid.Nil, nil, err
		}
		if _, err := tx.Exec(ctx, `insert into expense_configs (association_id, expense_type_id, config) values ($1,$2,$3)`, assocID, typeID, doc); err != nil {
			return uuid.Nil, nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, nil, err
	}
	return assocID, apts, nil
}

// --- Sheet reads ---

// SheetByStatus returns the association's sheet with the given status.
func (s *Store) SheetByStatus(ctx context.Context, associationID uuid.UUID, status billing.SheetStatus) (billing.Sheet, error) {
	row := s.pool.QueryRow(ctx, `
		select doc from sheets
		where association_id = $1 and status = $2
		order by month_year desc
		limit 1
	`, associationID, string(status))
	return scanSheet(row)
}

// SheetByID returns one sheet by primary key.
func (s *Store) SheetByID(ctx context.Context, sheetID uuid.UUID) (billing.Sheet, error) {
	row := s.pool.QueryRow(ctx, `select doc from sheets where id = $1`, sheetID)
	return scanSheet(row)
}

// SheetsByAssociation returns the association's sheets, newest first.
func (s *Store) SheetsByAssociation(ctx context.Context, associationID uuid.UUID) ([]billing.Sheet, error) {
	rows, err := s.pool.Query(ctx, `
		select doc from sheets
		where association_id = $1
		order by month_year desc
	`, associationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]billing.Sheet, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var sh billing.Sheet
		if err := json.Unmarshal(doc, &sh); err != nil {
			return nil, err
		}
		out = append(out, sh)
	}
	return out, rows.Err()
}

// --- Sheet writes ---

// SaveSheet replaces the stored document for the sheet.
func (s *Store) SaveSheet(ctx context.Context, sh billing.Sheet) (billing.Sheet, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return billing.Sheet{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := upsertSheet(ctx, tx, sh); err != nil {
		return billing.Sheet{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return billing.Sheet{}, err
	}
	return sh, nil
}

// SaveSheets replaces all given sheets in one transaction. Status transitions
// that must hold together (publish, archive, open next) go through here.
func (s *Store) SaveSheets(ctx context.Context, sheets ...billing.Sheet) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	for _, sh := range sheets {
		if err := upsertSheet(ctx, tx, sh); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ReplaceSheet deletes one sheet and saves another in one transaction.
func (s *Store) ReplaceSheet(ctx context.Context, dropID uuid.UUID, sh billing.Sheet) (billing.Sheet, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return billing.Sheet{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	ct, err := tx.Exec(ctx, `delete from sheets where id = $1`, dropID)
	if err != nil {
		return billing.Sheet{}, err
	}
	if ct.RowsAffected() == 0 {
		return billing.Sheet{}, errs.ErrNotFound
	}
	if err := upsertSheet(ctx, tx, sh); err != nil {
		return billing.Sheet{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return billing.Sheet{}, err
	}
	return sh, nil
}

// DeleteSheet removes a sheet document.
func (s *Store) DeleteSheet(ctx context.Context, sheetID uuid.UUID) error {
	ct, err := s.pool.Exec(ctx, `delete from sheets where id = $1`, sheetID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func upsertSheet(ctx context.Context, tx pgx.Tx, sh billing.Sheet) error {
	doc, err := json.Marshal(sh)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		insert into sheets (id, association_id, month_year, status, doc)
		values ($1,$2,$3,$4,$5)
		on conflict (id) do update set month_year = excluded.month_year, status = excluded.status, doc = excluded.doc
	`, sh.ID, sh.AssociationID, sh.MonthYear, string(sh.Status), doc)
	return err
}

func scanSheet(row pgx.Row) (billing.Sheet, error) {
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return billing.Sheet{}, errs.ErrNotFound
		}
		return billing.Sheet{}, err
	}
	var sh billing.Sheet
	if err := json.Unmarshal(doc, &sh); err != nil {
		return billing.Sheet{}, err
	}
	return sh, nil
}

// --- Registry reads ---

// Apartments returns all apartments of the association ordered by number.
func (s *Store) Apartments(ctx context.Context, associationID uuid.UUID) ([]billing.Apartment, error) {
	rows, err := s.pool.Query(ctx, `
		select id, association_id, block_id, stair_id, number, owner, persons, surface, cota_parte, apartment_type, initial_balance
		from apartments
		where association_id = $1
		order by number
	`, associationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]billing.Apartment, 0)
	for rows.Next() {
		apt, err := scanApartment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, apt)
	}
	return out, rows.Err()
}

// ApartmentByID returns one apartment.
func (s *Store) ApartmentByID(ctx context.Context, apartmentID uuid.UUID) (billing.Apartment, error) {
	row := s.pool.QueryRow(ctx, `
		select id, association_id, block_id, stair_id, number, owner, persons, surface, cota_parte, apartment_type, initial_balance
		from apartments
		where id = $1
	`, apartmentID)
	apt, err := scanApartment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return billing.Apartment{}, errs.ErrNotFound
	}
	return apt, err
}

// Blocks returns the association's blocks ordered by name.
func (s *Store) Blocks(ctx context.Context, associationID uuid.UUID) ([]billing.Block, error) {
	rows, err := s.pool.Query(ctx, `
		select id, association_id, name from blocks
		where association_id = $1
		order by name
	`, associationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]billing.Block, 0)
	for rows.Next() {
		var b billing.Block
		if err := rows.Scan(&b.ID, &b.AssociationID, &b.Name); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanApartment(row pgx.Row) (billing.Apartment, error) {
	var apt billing.Apartment
	var blockID, stairID *uuid.UUID
	var balance []byte
	if err := row.Scan(&apt.ID, &apt.AssociationID, &blockID, &stairID, &apt.Number, &apt.Owner, &apt.Persons, &apt.Surface, &apt.CotaParte, &apt.ApartmentType, &balance); err != nil {
		return billing.Apartment{}, err
	}
	if blockID != nil {
		apt.BlockID = *blockID
	}
	if stairID != nil {
		apt.StairID = *stairID
	}
	if len(balance) > 0 {
		var ib billing.InitialBalance
		if err := json.Unmarshal(balance, &ib); err == nil {
			apt.InitialBalance = &ib
		}
	}
	return apt, nil
}

// --- Configuration ---

// ExpenseConfigs returns all configurations for the association ordered by name.
func (s *Store) ExpenseConfigs(ctx context.Context, associationID uuid.UUID) ([]billing.ExpenseConfig, error) {
	rows, err := s.pool.Query(ctx, `
		select config from expense_configs
		where association_id = $1
		order by config->>'Name'
	`, associationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]billing.ExpenseConfig, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var cfg billing.ExpenseConfig
		if err := json.Unmarshal(doc, &cfg); err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// ExpenseConfigByType returns the configuration for one expense type.
func (s *Store) ExpenseConfigByType(ctx context.Context, associationID, expenseTypeID uuid.UUID) (billing.ExpenseConfig, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `
		select config from expense_configs
		where association_id = $1 and expense_type_id = $2
	`, associationID, expenseTypeID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return billing.ExpenseConfig{}, errs.ErrNotFound
	}
	if err != nil {
		return billing.ExpenseConfig{}, err
	}
	var cfg billing.ExpenseConfig
	if err := json.Unmarshal(doc, &cfg); err != nil {
		return billing.ExpenseConfig{}, err
	}
	return cfg, nil
}

// SaveExpenseConfig replaces the stored configuration for the expense type.
func (s *Store) SaveExpenseConfig(ctx context.Context, associationID uuid.UUID, cfg billing.ExpenseConfig) (billing.ExpenseConfig, error) {
	doc, err := json.Marshal(cfg)
	if err != nil {
		return billing.ExpenseConfig{}, err
	}
	_, err = s.pool.Exec(ctx, `
		insert into expense_configs (association_id, expense_type_id, config)
		values ($1,$2,$3)
		on conflict (association_id, expense_type_id) do update set config = excluded.config
	`, associationID, cfg.ExpenseTypeID, doc)
	if err != nil {
		return billing.ExpenseConfig{}, err
	}
	return cfg, nil
}

// Participation returns all stored overrides for the association.
func (s *Store) Participation(ctx context.Context, associationID uuid.UUID) ([]billing.ParticipationOverride, error) {
	rows, err := s.pool.Query(ctx, `
		select override from participation_overrides
		where association_id = $1
		order by apartment_id, expense_name
	`, associationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]billing.ParticipationOverride, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var p billing.ParticipationOverride
		if err := json.Unmarshal(doc, &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveParticipation stores one override. An integral override deletes the
// stored row, restoring the implicit default. Rows key on the slugified
// expense name so spelling variants replace the same override.
func (s *Store) SaveParticipation(ctx context.Context, associationID uuid.UUID, p billing.ParticipationOverride) error {
	key := slug.Slugify(p.ExpenseName)
	if p.Type == billing.ParticipationIntegral {
		_, err := s.pool.Exec(ctx, `
			delete from participation_overrides
			where association_id = $1 and apartment_id = $2 and expense_name = $3
		`, associationID, p.ApartmentID, key)
		return err
	}
	doc, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		insert into participation_overrides (association_id, apartment_id, expense_name, override)
		values ($1,$2,$3,$4)
		on conflict (association_id, apartment_id, expense_name) do update set override = excluded.override
	`, associationID, p.ApartmentID, key, doc)
	return err
}

// --- Registry writes ---

// SaveBlock upserts a block row.
func (s *Store) SaveBlock(ctx context.Context, b billing.Block) error {
	_, err := s.pool.Exec(ctx, `
		insert into blocks (id, association_id, name) values ($1,$2,$3)
		on conflict (id) do update set name = excluded.name
	`, b.ID, b.AssociationID, b.Name)
	return err
}

// SaveApartment upserts an apartment row.
func (s *Store) SaveApartment(ctx context.Context, apt billing.Apartment) error {
	var balance []byte
	if apt.InitialBalance != nil {
		var err error
		balance, err = json.Marshal(apt.InitialBalance)
		if err != nil {
			return err
		}
	}
	_, err := s.pool.Exec(ctx, `
		insert into apartments (id, association_id, block_id, stair_id, number, owner, persons, surface, cota_parte, apartment_type, initial_balance)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		on conflict (id) do update set
			number = excluded.number, owner = excluded.owner, persons = excluded.persons,
			surface = excluded.surface, cota_parte = excluded.cota_parte,
			apartment_type = excluded.apartment_type, initial_balance = excluded.initial_balance
	`, apt.ID, apt.AssociationID, nilUUID(apt.BlockID), nilUUID(apt.StairID), apt.Number, apt.Owner, apt.Persons, apt.Surface, apt.CotaParte, apt.ApartmentType, balance)
	return err
}

// nilUUID maps the zero uuid to SQL null.
func nilUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
