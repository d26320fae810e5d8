package payment_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blocbill/blocbill/internal/billing"
	"github.com/blocbill/blocbill/internal/errs"
	"github.com/blocbill/blocbill/internal/service/payment"
	"github.com/blocbill/blocbill/internal/storage/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type failingReceipts struct{ err error }

func (f failingReceipts) Generate(context.Context, billing.Payment, billing.Apartment) error {
	return f.err
}

// seedPublished installs a published sheet with one apartment owing
// {restante 30, intretinere 80, penalitati 10} and the next working sheet.
func seedPublished(t *testing.T) (*memory.Store, uuid.UUID, uuid.UUID) {
	t.Helper()
	store := memory.New()
	assocID := uuid.New()
	apt := billing.Apartment{ID: uuid.New(), AssociationID: assocID, Number: 1, Owner: "Popescu", Persons: 2}
	store.SeedApartment(apt)
	ctx := context.Background()

	expID := uuid.New()
	pub := billing.Sheet{
		ID:            uuid.New(),
		AssociationID: assocID,
		MonthYear:     "2026-03",
		Status:        billing.SheetPublished,
		MaintenanceTable: []billing.MaintenanceRow{{
			ApartmentID:        apt.ID,
			Restante:           30,
			CurrentMaintenance: 80,
			Penalitati:         10,
			TotalDatorat:       120,
			ExpenseDetails:     map[uuid.UUID]billing.ExpenseDetail{expID: {Amount: 80, Name: "Curatenie", DistributionType: billing.DistributionApartment}},
		}},
	}
	next := billing.Sheet{
		ID:              uuid.New(),
		AssociationID:   assocID,
		MonthYear:       "2026-04",
		Status:          billing.SheetInProgress,
		OpeningBalances: map[uuid.UUID]billing.OpeningBalance{apt.ID: {Restante: 120, Penalitati: 0.8}},
		MaintenanceTable: []billing.MaintenanceRow{{
			ApartmentID:  apt.ID,
			Restante:     120,
			Penalitati:   0.8,
			TotalDatorat: 120.8,
		}},
	}
	require.NoError(t, store.SaveSheets(ctx, pub, next))
	return store, assocID, apt.ID
}

func TestOutstanding(t *testing.T) {
	store, assocID, aptID := seedPublished(t)
	svc := payment.New(store, store, nil, testLogger())

	out, err := svc.Outstanding(context.Background(), assocID, aptID)
	require.NoError(t, err)
	assert.Equal(t, payment.CategoryAmounts{Restante: 30, Intretinere: 80, Penalitati: 10}, out)
}

func TestRecordExplicitAmounts(t *testing.T) {
	store, assocID, aptID := seedPublished(t)
	svc := payment.New(store, store, nil, testLogger())
	ctx := context.Background()

	res, err := svc.Record(ctx, assocID, aptID, payment.CategoryAmounts{Restante: 30, Intretinere: 50})
	require.NoError(t, err)
	assert.Equal(t, 80.0, res.Payment.Total)
	assert.Equal(t, "2026-03", res.Payment.Month)
	assert.Equal(t, payment.CategoryAmounts{Intretinere: 30, Penalitati: 10}, res.Remaining)

	pub, err := store.SheetByStatus(ctx, assocID, billing.SheetPublished)
	require.NoError(t, err)
	require.Len(t, pub.Payments, 1)
	assert.Equal(t, 80.0, pub.MaintenanceTable[0].TotalPaid)

	// The working sheet's carried-forward balances follow the payment.
	cur, err := store.SheetByStatus(ctx, assocID, billing.SheetInProgress)
	require.NoError(t, err)
	assert.Equal(t, 40.0, cur.OpeningBalances[aptID].Restante)
	assert.Equal(t, 0.8, cur.OpeningBalances[aptID].Penalitati)
}

func TestRecordLumpAutoDistributes(t *testing.T) {
	store, assocID, aptID := seedPublished(t)
	svc := payment.New(store, store, nil, testLogger())

	// Lump 50 against {30, 80, 10}: restante 30, intretinere 20, penalitati 0.
	res, err := svc.RecordLump(context.Background(), assocID, aptID, 50)
	require.NoError(t, err)
	assert.Equal(t, 30.0, res.Payment.Restante)
	assert.Equal(t, 20.0, res.Payment.Intretinere)
	assert.Equal(t, 0.0, res.Payment.Penalitati)
	assert.Equal(t, payment.CategoryAmounts{Intretinere: 60, Penalitati: 10}, res.Remaining)
	assert.Equal(t, 0.0, res.Overpayment)
}

func TestRecordLumpOverpaymentReported(t *testing.T) {
	store, assocID, aptID := seedPublished(t)
	svc := payment.New(store, store, nil, testLogger())

	res, err := svc.RecordLump(context.Background(), assocID, aptID, 150)
	require.NoError(t, err)
	assert.Equal(t, 120.0, res.Payment.Total)
	assert.Equal(t, 30.0, res.Overpayment)
	assert.Equal(t, payment.CategoryAmounts{}, res.Remaining)
}

func TestRecordMaintenanceBeforeArrearsRejected(t *testing.T) {
	store, assocID, aptID := seedPublished(t)
	svc := payment.New(store, store, nil, testLogger())

	_, err := svc.Record(context.Background(), assocID, aptID, payment.CategoryAmounts{Intretinere: 10})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrArrearsFirst)

	// Clearing arrears in the same transaction is allowed.
	_, err = svc.Record(context.Background(), assocID, aptID, payment.CategoryAmounts{Restante: 30, Intretinere: 10})
	require.NoError(t, err)
}

func TestRecordMaintenanceAfterArrearsClearedEarlier(t *testing.T) {
	store, assocID, aptID := seedPublished(t)
	svc := payment.New(store, store, nil, testLogger())
	ctx := context.Background()

	_, err := svc.Record(ctx, assocID, aptID, payment.CategoryAmounts{Restante: 30})
	require.NoError(t, err)
	_, err = svc.Record(ctx, assocID, aptID, payment.CategoryAmounts{Intretinere: 80})
	require.NoError(t, err)

	out, err := svc.Outstanding(ctx, assocID, aptID)
	require.NoError(t, err)
	assert.Equal(t, payment.CategoryAmounts{Penalitati: 10}, out)
}

func TestRecordRejectsAboveMaximum(t *testing.T) {
	store, assocID, aptID := seedPublished(t)
	svc := payment.New(store, store, nil, testLogger())

	_, err := svc.Record(context.Background(), assocID, aptID, payment.CategoryAmounts{Restante: 31})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrExceedsMaximum)
}

func TestRecordRejectsNonPositive(t *testing.T) {
	store, assocID, aptID := seedPublished(t)
	svc := payment.New(store, store, nil, testLogger())

	_, err := svc.Record(context.Background(), assocID, aptID, payment.CategoryAmounts{})
	assert.ErrorIs(t, err, errs.ErrInvalid)
	_, err = svc.Record(context.Background(), assocID, aptID, payment.CategoryAmounts{Restante: -5})
	assert.ErrorIs(t, err, errs.ErrInvalid)
}

func TestReceiptFailureDoesNotRollBack(t *testing.T) {
	store, assocID, aptID := seedPublished(t)
	svc := payment.New(store, store, failingReceipts{err: errors.New("printer on fire")}, testLogger())
	ctx := context.Background()

	res, err := svc.Record(ctx, assocID, aptID, payment.CategoryAmounts{Restante: 30})
	require.NoError(t, err)
	assert.False(t, res.ReceiptIssued)

	pub, err := store.SheetByStatus(ctx, assocID, billing.SheetPublished)
	require.NoError(t, err)
	assert.Len(t, pub.Payments, 1)
}

func TestAutoDistribute(t *testing.T) {
	out := payment.CategoryAmounts{Restante: 30, Intretinere: 80, Penalitati: 10}

	split, over := payment.AutoDistribute(out, 50)
	assert.Equal(t, payment.CategoryAmounts{Restante: 30, Intretinere: 20}, split)
	assert.Equal(t, 0.0, over)

	split, over = payment.AutoDistribute(out, 120)
	assert.Equal(t, out, split)
	assert.Equal(t, 0.0, over)

	split, over = payment.AutoDistribute(out, 125.5)
	assert.Equal(t, out, split)
	assert.Equal(t, 5.5, over)

	split, over = payment.AutoDistribute(payment.CategoryAmounts{}, 40)
	assert.Equal(t, payment.CategoryAmounts{}, split)
	assert.Equal(t, 40.0, over)
}
