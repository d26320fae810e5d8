package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/blocbill/blocbill/internal/billing"
	"github.com/blocbill/blocbill/internal/storage/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type errResp struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func setup(t *testing.T) (*memory.Store, http.Handler, uuid.UUID, []billing.Apartment) {
	t.Helper()
	store := memory.New()
	assocID := uuid.New()
	block := billing.Block{ID: uuid.New(), Name: "A", AssociationID: assocID}
	store.SeedBlock(block)
	apts := make([]billing.Apartment, 0, 4)
	for i := 1; i <= 4; i++ {
		apt := billing.Apartment{
			ID:            uuid.New(),
			AssociationID: assocID,
			BlockID:       block.ID,
			Number:        i,
			Owner:         "Owner",
			Persons:       2,
			Surface:       50,
		}
		store.SeedApartment(apt)
		apts = append(apts, apt)
	}
	h := New(store, store, store, store, store, nil, testLogger()).Handler()
	return store, h, assocID, apts
}

func seedConfig(t *testing.T, store *memory.Store, assocID uuid.UUID, typeID uuid.UUID, name string) {
	t.Helper()
	_, err := store.SaveExpenseConfig(context.Background(), assocID, billing.ExpenseConfig{
		ExpenseTypeID:    typeID,
		Name:             name,
		DistributionType: billing.DistributionApartment,
		ReceptionMode:    billing.ReceptionTotal,
		DifferenceDistribution: billing.DifferenceDistribution{
			Method:                         billing.DifferenceMethodApartment,
			AdjustmentMode:                 billing.AdjustmentNone,
			IncludeFixedAmountInDifference: true,
		},
	})
	if err != nil {
		t.Fatalf("seed config: %v", err)
	}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSheetLifecycle(t *testing.T) {
	store, h, assocID, apts := setup(t)
	typeID := uuid.New()
	seedConfig(t, store, assocID, typeID, "Curatenie")

	rec := doJSON(t, h, http.MethodPost, "/v1/sheets", map[string]any{
		"association_id": assocID.String(),
		"month_year":     "2025-01",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/expenses", map[string]any{
		"association_id":  assocID.String(),
		"expense_type_id": typeID.String(),
		"name":            "Curatenie",
		"amount":          100,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var sr sheetResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &sr); err != nil {
		t.Fatalf("decode sheet: %v", err)
	}
	if len(sr.Expenses) != 1 {
		t.Fatalf("expected 1 expense, got %d", len(sr.Expenses))
	}
	expenseID := sr.Expenses[0].ID

	rec = doJSON(t, h, http.MethodPost, "/v1/expenses/"+expenseID.String()+"/distribute?association_id="+assocID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &sr); err != nil {
		t.Fatalf("decode sheet: %v", err)
	}
	if len(sr.Rows) != len(apts) {
		t.Fatalf("expected %d rows, got %d", len(apts), len(sr.Rows))
	}
	for _, row := range sr.Rows {
		if row.CurrentMaintenance != 25 {
			t.Fatalf("expected 25 per apartment, got %v", row.CurrentMaintenance)
		}
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/sheets/publish?association_id="+assocID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var pub struct {
		Published sheetResponse `json:"published"`
		Next      sheetResponse `json:"next"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &pub); err != nil {
		t.Fatalf("decode publish: %v", err)
	}
	if pub.Published.Status != string(billing.SheetPublished) {
		t.Fatalf("expected published status, got %s", pub.Published.Status)
	}
	if pub.Next.MonthYear != "2025-02" {
		t.Fatalf("expected next period 2025-02, got %s", pub.Next.MonthYear)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/sheets/published?association_id="+assocID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func publishSimpleSheet(t *testing.T, h http.Handler, store *memory.Store, assocID uuid.UUID) {
	t.Helper()
	typeID := uuid.New()
	seedConfig(t, store, assocID, typeID, "Curatenie")
	rec := doJSON(t, h, http.MethodPost, "/v1/sheets", map[string]any{
		"association_id": assocID.String(), "month_year": "2025-01",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("ensure sheet: %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, h, http.MethodPost, "/v1/expenses", map[string]any{
		"association_id": assocID.String(), "expense_type_id": typeID.String(), "name": "Curatenie", "amount": 100,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add expense: %d %s", rec.Code, rec.Body.String())
	}
	var sr sheetResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &sr); err != nil {
		t.Fatalf("decode sheet: %v", err)
	}
	rec = doJSON(t, h, http.MethodPost, "/v1/expenses/"+sr.Expenses[0].ID.String()+"/distribute?association_id="+assocID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("distribute: %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, h, http.MethodPost, "/v1/sheets/publish?association_id="+assocID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("publish: %d %s", rec.Code, rec.Body.String())
	}
}

func TestPostPayment_LumpSum(t *testing.T) {
	store, h, assocID, apts := setup(t)
	publishSimpleSheet(t, h, store, assocID)

	rec := doJSON(t, h, http.MethodPost, "/v1/payments", map[string]any{
		"association_id": assocID.String(),
		"apartment_id":   apts[0].ID.String(),
		"amount":         25,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var pr paymentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &pr); err != nil {
		t.Fatalf("decode payment: %v", err)
	}
	if pr.Intretinere != 25 || pr.Total != 25 {
		t.Fatalf("expected 25 allocated to intretinere, got %+v", pr)
	}
	if pr.TotalMinor != 2500 {
		t.Fatalf("expected 2500 minor units, got %d", pr.TotalMinor)
	}
	if pr.Remaining.Intretinere != 0 {
		t.Fatalf("expected nothing remaining, got %+v", pr.Remaining)
	}
}

func TestPostPayment_MaintenanceBeforeArrears(t *testing.T) {
	store, h, assocID, apts := setup(t)
	apt := apts[0]
	apt.InitialBalance = &billing.InitialBalance{Restante: 30}
	store.SeedApartment(apt)
	publishSimpleSheet(t, h, store, assocID)

	rec := doJSON(t, h, http.MethodPost, "/v1/payments", map[string]any{
		"association_id": assocID.String(),
		"apartment_id":   apt.ID.String(),
		"intretinere":    25,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	var er errResp
	if err := json.Unmarshal(rec.Body.Bytes(), &er); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if er.Code != "arrears_first" {
		t.Fatalf("expected arrears_first, got %s", er.Code)
	}
}

func TestPutExpenseConfig(t *testing.T) {
	_, h, assocID, _ := setup(t)
	typeID := uuid.New()

	rec := doJSON(t, h, http.MethodPut, "/v1/expense-configs/"+typeID.String(), map[string]any{
		"association_id":    assocID.String(),
		"name":              "Apa rece",
		"distribution_type": "consumption",
		"reception_mode":    "total",
		"consumption_unit":  "mc",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPut, "/v1/expense-configs/"+typeID.String(), map[string]any{
		"association_id":    assocID.String(),
		"name":              "Apa rece",
		"distribution_type": "bogus",
		"reception_mode":    "total",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestValidationAndNotFound(t *testing.T) {
	_, h, assocID, _ := setup(t)

	rec := doJSON(t, h, http.MethodGet, "/v1/sheets/current", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without association_id, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/sheets/current?association_id="+assocID.String(), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing sheet, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/payments", map[string]any{
		"association_id": assocID.String(),
		"apartment_id":   uuid.New().String(),
		"amount":         10,
		"bogus":          true,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	_, h, _, _ := setup(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := doJSON(t, h, http.MethodGet, path, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}
