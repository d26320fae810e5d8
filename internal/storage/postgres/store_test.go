package postgres

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/blocbill/blocbill/internal/billing"
	"github.com/blocbill/blocbill/internal/errs"
)

func getTestDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres store tests")
	}
	return dsn
}

func mustOpen(t *testing.T, dsn string) *Store {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

func applyInitSQL(t *testing.T, dsn string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open for init: %v", err)
	}
	defer s.Close()
	// Resolve init SQL path relative to this test file so CWD doesn't matter
	_, thisFile, _, _ := runtime.Caller(0)
	repoRoot := filepath.Clean(filepath.Join(filepath.Dir(thisFile), "../../../"))
	path := filepath.Join(repoRoot, "db", "migrations", "0001_init.sql")
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read init sql: %v", err)
	}
	if _, err := s.pool.Exec(ctx, string(b)); err != nil {
		t.Fatalf("apply init sql: %v", err)
	}
}

func truncateAll(t *testing.T, dsn string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open for truncate: %v", err)
	}
	defer s.Close()
	if _, err := s.pool.Exec(ctx, `truncate sheets, participation_overrides, expense_configs, expense_types, apartments, stairs, blocks`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
}

func TestSheetRoundTrip(t *testing.T) {
	dsn := getTestDSN(t)
	applyInitSQL(t, dsn)
	truncateAll(t, dsn)
	s := mustOpen(t, dsn)
	defer s.Close()
	ctx := context.Background()

	assocID := uuid.New()
	aptID := uuid.New()
	sh := billing.Sheet{
		ID:            uuid.New(),
		AssociationID: assocID,
		MonthYear:     "2025-01",
		Status:        billing.SheetInProgress,
		MaintenanceTable: []billing.MaintenanceRow{
			{ApartmentID: aptID, CurrentMaintenance: 25, TotalDatorat: 25},
		},
		OpeningBalances: map[uuid.UUID]billing.OpeningBalance{
			aptID: {Restante: 10, Penalitati: 0.5},
		},
	}
	if _, err := s.SaveSheet(ctx, sh); err != nil {
		t.Fatalf("save sheet: %v", err)
	}

	got, err := s.SheetByStatus(ctx, assocID, billing.SheetInProgress)
	if err != nil {
		t.Fatalf("sheet by status: %v", err)
	}
	if got.ID != sh.ID || got.MonthYear != "2025-01" {
		t.Fatalf("unexpected sheet: %+v", got)
	}
	if ob := got.OpeningBalances[aptID]; ob.Restante != 10 || ob.Penalitati != 0.5 {
		t.Fatalf("opening balances lost: %+v", ob)
	}
	row, ok := got.Row(aptID)
	if !ok || row.CurrentMaintenance != 25 {
		t.Fatalf("row lost: %+v ok=%v", row, ok)
	}

	if _, err := s.SheetByStatus(ctx, assocID, billing.SheetPublished); err != errs.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveSheetsTransition(t *testing.T) {
	dsn := getTestDSN(t)
	applyInitSQL(t, dsn)
	truncateAll(t, dsn)
	s := mustOpen(t, dsn)
	defer s.Close()
	ctx := context.Background()

	assocID := uuid.New()
	now := time.Now().UTC()
	cur := billing.Sheet{ID: uuid.New(), AssociationID: assocID, MonthYear: "2025-01", Status: billing.SheetInProgress}
	if _, err := s.SaveSheet(ctx, cur); err != nil {
		t.Fatalf("save: %v", err)
	}
	cur.Status = billing.SheetPublished
	cur.PublishedAt = &now
	next := billing.Sheet{ID: uuid.New(), AssociationID: assocID, MonthYear: "2025-02", Status: billing.SheetInProgress}
	if err := s.SaveSheets(ctx, cur, next); err != nil {
		t.Fatalf("save sheets: %v", err)
	}

	pub, err := s.SheetByStatus(ctx, assocID, billing.SheetPublished)
	if err != nil || pub.ID != cur.ID {
		t.Fatalf("published: %v %+v", err, pub)
	}
	working, err := s.SheetByStatus(ctx, assocID, billing.SheetInProgress)
	if err != nil || working.ID != next.ID {
		t.Fatalf("working: %v %+v", err, working)
	}

	all, err := s.SheetsByAssociation(ctx, assocID)
	if err != nil || len(all) != 2 {
		t.Fatalf("expected 2 sheets, got %d (%v)", len(all), err)
	}
	if all[0].MonthYear != "2025-02" {
		t.Fatalf("expected newest first, got %s", all[0].MonthYear)
	}
}

func TestReplaceSheet(t *testing.T) {
	dsn := getTestDSN(t)
	applyInitSQL(t, dsn)
	truncateAll(t, dsn)
	s := mustOpen(t, dsn)
	defer s.Close()
	ctx := context.Background()

	assocID := uuid.New()
	now := time.Now().UTC()
	pub := billing.Sheet{ID: uuid.New(), AssociationID: assocID, MonthYear: "2025-01", Status: billing.SheetPublished, PublishedAt: &now}
	next := billing.Sheet{ID: uuid.New(), AssociationID: assocID, MonthYear: "2025-02", Status: billing.SheetInProgress}
	if err := s.SaveSheets(ctx, pub, next); err != nil {
		t.Fatalf("save sheets: %v", err)
	}

	// An unknown drop ID aborts the whole commit.
	pub.Status = billing.SheetInProgress
	pub.PublishedAt = nil
	if _, err := s.ReplaceSheet(ctx, uuid.New(), pub); err != errs.ErrNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	got, err := s.SheetByStatus(ctx, assocID, billing.SheetPublished)
	if err != nil || got.ID != pub.ID {
		t.Fatalf("published sheet must survive aborted replace: %v %+v", err, got)
	}

	if _, err := s.ReplaceSheet(ctx, next.ID, pub); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if _, err := s.SheetByID(ctx, next.ID); err != errs.ErrNotFound {
		t.Fatalf("expected dropped sheet gone, got %v", err)
	}
	all, err := s.SheetsByAssociation(ctx, assocID)
	if err != nil || len(all) != 1 {
		t.Fatalf("expected 1 sheet, got %d (%v)", len(all), err)
	}
	if all[0].Status != billing.SheetInProgress || all[0].MonthYear != "2025-01" {
		t.Fatalf("expected reverted working sheet, got %+v", all[0])
	}
}

func TestExpenseConfigAndParticipation(t *testing.T) {
	dsn := getTestDSN(t)
	applyInitSQL(t, dsn)
	truncateAll(t, dsn)
	s := mustOpen(t, dsn)
	defer s.Close()
	ctx := context.Background()

	assocID := uuid.New()
	cfg := billing.ExpenseConfig{
		ExpenseTypeID:    uuid.New(),
		Name:             "Apa rece",
		DistributionType: billing.DistributionConsumption,
		ReceptionMode:    billing.ReceptionTotal,
		ConsumptionUnit:  "mc",
	}
	if _, err := s.SaveExpenseConfig(ctx, assocID, cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}
	cfg.ConsumptionUnit = "litri"
	if _, err := s.SaveExpenseConfig(ctx, assocID, cfg); err != nil {
		t.Fatalf("upsert config: %v", err)
	}
	got, err := s.ExpenseConfigByType(ctx, assocID, cfg.ExpenseTypeID)
	if err != nil {
		t.Fatalf("config by type: %v", err)
	}
	if got.ConsumptionUnit != "litri" {
		t.Fatalf("upsert did not replace: %+v", got)
	}

	p := billing.ParticipationOverride{
		ApartmentID: uuid.New(),
		ExpenseName: "Apa rece",
		Type:        billing.ParticipationPercentage,
		Value:       50,
	}
	if err := s.SaveParticipation(ctx, assocID, p); err != nil {
		t.Fatalf("save participation: %v", err)
	}
	list, err := s.Participation(ctx, assocID)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected 1 override, got %d (%v)", len(list), err)
	}

	p.Type = billing.ParticipationIntegral
	if err := s.SaveParticipation(ctx, assocID, p); err != nil {
		t.Fatalf("clear participation: %v", err)
	}
	list, err = s.Participation(ctx, assocID)
	if err != nil || len(list) != 0 {
		t.Fatalf("expected integral to clear, got %d (%v)", len(list), err)
	}
}

func TestApartments(t *testing.T) {
	dsn := getTestDSN(t)
	applyInitSQL(t, dsn)
	truncateAll(t, dsn)
	s := mustOpen(t, dsn)
	defer s.Close()
	ctx := context.Background()

	assocID, seeded, err := s.SeedDev(ctx)
	if err != nil {
		t.Fatalf("seed dev: %v", err)
	}
	apts, err := s.Apartments(ctx, assocID)
	if err != nil {
		t.Fatalf("apartments: %v", err)
	}
	if len(apts) != len(seeded) {
		t.Fatalf("expected %d apartments, got %d", len(seeded), len(apts))
	}
	for i, apt := range apts {
		if apt.Number != i+1 {
			t.Fatalf("expected ordering by number, got %d at %d", apt.Number, i)
		}
	}
	one, err := s.ApartmentByID(ctx, seeded[0].ID)
	if err != nil || one.Owner != "Proprietar" {
		t.Fatalf("apartment by id: %v %+v", err, one)
	}
	if _, err := s.ApartmentByID(ctx, uuid.New()); err != errs.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
