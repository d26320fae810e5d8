package payment

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/blocbill/blocbill/internal/billing"
	"github.com/blocbill/blocbill/internal/errs"
)

// Repo defines read operations needed by the allocator.
type Repo interface {
	SheetByStatus(ctx context.Context, associationID uuid.UUID, status billing.SheetStatus) (billing.Sheet, error)
	ApartmentByID(ctx context.Context, apartmentID uuid.UUID) (billing.Apartment, error)
}

// Writer persists the touched sheets atomically.
type Writer interface {
	SaveSheets(ctx context.Context, sheets ...billing.Sheet) error
}

// ReceiptGenerator produces a document for a committed payment. A failure here
// never rolls the payment back.
type ReceiptGenerator interface {
	Generate(ctx context.Context, p billing.Payment, apt billing.Apartment) error
}

// CategoryAmounts holds one value per debt category, in allocation order.
type CategoryAmounts struct {
	Restante    float64
	Intretinere float64
	Penalitati  float64
}

// Total sums the three categories.
func (c CategoryAmounts) Total() float64 { return round2(c.Restante + c.Intretinere + c.Penalitati) }

// Result is the outcome of recording a payment.
type Result struct {
	Payment billing.Payment
	// Remaining is the rest of payment due per category, never negative.
	Remaining CategoryAmounts
	// Overpayment is the part of a lump sum above the total due, reported back
	// to the caller rather than dropped.
	Overpayment float64
	// ReceiptIssued is false when the receipt generator failed after commit.
	ReceiptIssued bool
}

// Service applies received amounts against an apartment's debt categories in
// strict restante, intretinere, penalitati order.
type Service interface {
	Outstanding(ctx context.Context, associationID, apartmentID uuid.UUID) (CategoryAmounts, error)
	Record(ctx context.Context, associationID, apartmentID uuid.UUID, amounts CategoryAmounts) (Result, error)
	RecordLump(ctx context.Context, associationID, apartmentID uuid.UUID, amount float64) (Result, error)
}

type service struct {
	repo     Repo
	writer   Writer
	receipts ReceiptGenerator
	log      *slog.Logger
	now      func() time.Time
}

// New constructs the allocator. The receipt generator may be nil.
func New(repo Repo, writer Writer, receipts ReceiptGenerator, logger *slog.Logger) Service {
	return &service{repo: repo, writer: writer, receipts: receipts, log: logger, now: time.Now}
}

// Outstanding returns what the apartment still owes per category on the
// published sheet, prior payments deducted in allocation order.
func (s *service) Outstanding(ctx context.Context, associationID, apartmentID uuid.UUID) (CategoryAmounts, error) {
	pub, err := s.repo.SheetByStatus(ctx, associationID, billing.SheetPublished)
	if err != nil {
		return CategoryAmounts{}, err
	}
	row, ok := pub.Row(apartmentID)
	if !ok {
		return CategoryAmounts{}, fmt.Errorf("apartment %s on sheet %s: %w", apartmentID, pub.MonthYear, errs.ErrNotFound)
	}
	paid := paidByCategory(pub.PaymentsFor(apartmentID))
	return CategoryAmounts{
		Restante:    remaining(row.Restante, paid.Restante),
		Intretinere: remaining(row.CurrentMaintenance, paid.Intretinere),
		Penalitati:  remaining(row.Penalitati, paid.Penalitati),
	}, nil
}

// Record validates and commits one payment against the published sheet, then
// refreshes the working sheet's carried-forward balances for the apartment.
func (s *service) Record(ctx context.Context, associationID, apartmentID uuid.UUID, amounts CategoryAmounts) (Result, error) {
	if amounts.Restante < 0 || amounts.Intretinere < 0 || amounts.Penalitati < 0 {
		return Result{}, fmt.Errorf("negative category amount: %w", errs.ErrInvalid)
	}
	if amounts.Total() <= 0 {
		return Result{}, fmt.Errorf("payment must be positive: %w", errs.ErrInvalid)
	}
	pub, err := s.repo.SheetByStatus(ctx, associationID, billing.SheetPublished)
	if err != nil {
		return Result{}, err
	}
	row, ok := pub.Row(apartmentID)
	if !ok {
		return Result{}, fmt.Errorf("apartment %s on sheet %s: %w", apartmentID, pub.MonthYear, errs.ErrNotFound)
	}
	paid := paidByCategory(pub.PaymentsFor(apartmentID))
	out := CategoryAmounts{
		Restante:    remaining(row.Restante, paid.Restante),
		Intretinere: remaining(row.CurrentMaintenance, paid.Intretinere),
		Penalitati:  remaining(row.Penalitati, paid.Penalitati),
	}

	if amounts.Restante > out.Restante+0.005 {
		return Result{}, fmt.Errorf("restante %.2f above outstanding %.2f: %w", amounts.Restante, out.Restante, errs.ErrExceedsMaximum)
	}
	if amounts.Intretinere > out.Intretinere+0.005 {
		return Result{}, fmt.Errorf("intretinere %.2f above outstanding %.2f: %w", amounts.Intretinere, out.Intretinere, errs.ErrExceedsMaximum)
	}
	if amounts.Penalitati > out.Penalitati+0.005 {
		return Result{}, fmt.Errorf("penalitati %.2f above outstanding %.2f: %w", amounts.Penalitati, out.Penalitati, errs.ErrExceedsMaximum)
	}
	// Maintenance can only be settled once arrears are cleared, in this
	// transaction or a prior one.
	if amounts.Intretinere > 0 && paid.Restante+amounts.Restante < row.Restante-0.005 {
		return Result{}, fmt.Errorf("restante %.2f still outstanding: %w", out.Restante-amounts.Restante, errs.ErrArrearsFirst)
	}

	p := billing.Payment{
		ID:          uuid.New(),
		ApartmentID: apartmentID,
		Restante:    round2(amounts.Restante),
		Intretinere: round2(amounts.Intretinere),
		Penalitati:  round2(amounts.Penalitati),
		Total:       amounts.Total(),
		Timestamp:   s.now(),
		Month:       pub.MonthYear,
	}
	pub.Payments = append(pub.Payments, p)
	for i := range pub.MaintenanceTable {
		if pub.MaintenanceTable[i].ApartmentID == apartmentID {
			pub.MaintenanceTable[i].TotalPaid = round2(pub.MaintenanceTable[i].TotalPaid + p.Total)
			row = pub.MaintenanceTable[i]
			break
		}
	}

	sheets := []billing.Sheet{pub}
	if cur, err := s.repo.SheetByStatus(ctx, associationID, billing.SheetInProgress); err == nil {
		s.refreshCarryForward(&cur, row)
		sheets = append(sheets, cur)
	} else if err != errs.ErrNotFound {
		return Result{}, err
	}
	if err := s.writer.SaveSheets(ctx, sheets...); err != nil {
		return Result{}, err
	}

	res := Result{
		Payment: p,
		Remaining: CategoryAmounts{
			Restante:    remaining(out.Restante, amounts.Restante),
			Intretinere: remaining(out.Intretinere, amounts.Intretinere),
			Penalitati:  remaining(out.Penalitati, amounts.Penalitati),
		},
		ReceiptIssued: true,
	}
	if s.receipts != nil {
		apt, err := s.repo.ApartmentByID(ctx, apartmentID)
		if err == nil {
			err = s.receipts.Generate(ctx, p, apt)
		}
		if err != nil {
			// The payment is committed; the receipt can be regenerated later.
			s.log.Warn("receipt generation failed", "payment_id", p.ID, "apartment_id", apartmentID, "err", err)
			res.ReceiptIssued = false
		}
	}
	return res, nil
}

// RecordLump splits a lump sum greedily across the categories in order and
// records the result. Anything above the total due comes back as overpayment.
func (s *service) RecordLump(ctx context.Context, associationID, apartmentID uuid.UUID, amount float64) (Result, error) {
	if amount <= 0 {
		return Result{}, fmt.Errorf("payment must be positive: %w", errs.ErrInvalid)
	}
	out, err := s.Outstanding(ctx, associationID, apartmentID)
	if err != nil {
		return Result{}, err
	}
	split, over := AutoDistribute(out, amount)
	if split.Total() <= 0 {
		return Result{Overpayment: over}, fmt.Errorf("nothing outstanding: %w", errs.ErrUnprocessable)
	}
	res, err := s.Record(ctx, associationID, apartmentID, split)
	if err != nil {
		return Result{}, err
	}
	res.Overpayment = over
	return res, nil
}

// AutoDistribute consumes restante first, then intretinere, then penalitati,
// each capped at its outstanding maximum. The leftover is the overpayment.
func AutoDistribute(outstanding CategoryAmounts, amount float64) (CategoryAmounts, float64) {
	var split CategoryAmounts
	rest := amount
	split.Restante = math.Min(rest, outstanding.Restante)
	rest = round2(rest - split.Restante)
	split.Intretinere = math.Min(rest, outstanding.Intretinere)
	rest = round2(rest - split.Intretinere)
	split.Penalitati = math.Min(rest, outstanding.Penalitati)
	rest = round2(rest - split.Penalitati)
	return split, rest
}

// refreshCarryForward updates the working sheet's opening balances for the
// apartment after a payment on the published sheet.
func (s *service) refreshCarryForward(cur *billing.Sheet, row billing.MaintenanceRow) {
	const penaltyRate = 0.01
	restante := round2(row.TotalDatorat - row.TotalPaid)
	var penalitati float64
	if restante > 0 {
		penalitati = round2(row.CurrentMaintenance * penaltyRate)
	} else {
		restante = 0
	}
	if cur.OpeningBalances == nil {
		cur.OpeningBalances = make(map[uuid.UUID]billing.OpeningBalance)
	}
	if restante == 0 && penalitati == 0 {
		delete(cur.OpeningBalances, row.ApartmentID)
	} else {
		cur.OpeningBalances[row.ApartmentID] = billing.OpeningBalance{Restante: restante, Penalitati: penalitati}
	}
	for i := range cur.MaintenanceTable {
		r := &cur.MaintenanceTable[i]
		if r.ApartmentID != row.ApartmentID {
			continue
		}
		r.Restante = restante
		r.Penalitati = penalitati
		r.TotalDatorat = round2(r.Restante + r.CurrentMaintenance + r.Penalitati)
		break
	}
}

func paidByCategory(payments []billing.Payment) CategoryAmounts {
	var out CategoryAmounts
	for _, p := range payments {
		out.Restante += p.Restante
		out.Intretinere += p.Intretinere
		out.Penalitati += p.Penalitati
	}
	out.Restante = round2(out.Restante)
	out.Intretinere = round2(out.Intretinere)
	out.Penalitati = round2(out.Penalitati)
	return out
}

func remaining(max, paid float64) float64 {
	if rem := round2(max - paid); rem > 0 {
		return rem
	}
	return 0
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
