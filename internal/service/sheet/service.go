package sheet

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/blocbill/blocbill/internal/billing"
	"github.com/blocbill/blocbill/internal/distribution"
	"github.com/blocbill/blocbill/internal/errs"
	"github.com/blocbill/blocbill/internal/meter"
)

// penaltyRate is applied to the unpaid current maintenance when a period
// closes with the apartment still in debt.
const penaltyRate = 0.01

// Repo defines read operations needed by the service.
type Repo interface {
	SheetByStatus(ctx context.Context, associationID uuid.UUID, status billing.SheetStatus) (billing.Sheet, error)
	Apartments(ctx context.Context, associationID uuid.UUID) ([]billing.Apartment, error)
	ExpenseConfigs(ctx context.Context, associationID uuid.UUID) ([]billing.ExpenseConfig, error)
	Participation(ctx context.Context, associationID uuid.UUID) ([]billing.ParticipationOverride, error)
}

// Writer defines write operations needed by the service. Sheet writes are
// whole-document replaces; SaveSheets commits all given sheets atomically,
// and ReplaceSheet deletes one sheet and saves another in the same commit.
type Writer interface {
	SaveSheet(ctx context.Context, s billing.Sheet) (billing.Sheet, error)
	SaveSheets(ctx context.Context, sheets ...billing.Sheet) error
	ReplaceSheet(ctx context.Context, dropID uuid.UUID, s billing.Sheet) (billing.Sheet, error)
	DeleteSheet(ctx context.Context, sheetID uuid.UUID) error
}

// Stats summarizes collection state over a published sheet.
type Stats struct {
	MonthYear      string
	TotalDue       float64
	TotalPaid      float64
	CollectionRate float64
	ApartmentsPaid int
	ApartmentCount int
}

// Service owns the sheet lifecycle: the working (in_progress) document, the
// publish transition that freezes it and opens the next period, and the
// administrative unpublish override.
type Service interface {
	Current(ctx context.Context, associationID uuid.UUID) (billing.Sheet, error)
	Published(ctx context.Context, associationID uuid.UUID) (billing.Sheet, error)
	EnsureWorkingSheet(ctx context.Context, associationID uuid.UUID, monthYear string) (billing.Sheet, error)
	AddExpense(ctx context.Context, associationID uuid.UUID, e billing.Expense) (billing.Sheet, error)
	DistributeExpense(ctx context.Context, associationID, expenseID uuid.UUID) (billing.Sheet, error)
	SubmitReading(ctx context.Context, associationID, expenseTypeID, apartmentID, indexTypeID uuid.UUID, newIndex float64) (billing.MeterReading, error)
	Publish(ctx context.Context, associationID uuid.UUID) (billing.Sheet, billing.Sheet, error)
	Unpublish(ctx context.Context, associationID uuid.UUID) (billing.Sheet, error)
	Stats(ctx context.Context, associationID uuid.UUID) (Stats, error)
	ExpenseDistributed(ctx context.Context, associationID, expenseTypeID uuid.UUID) (bool, error)
}

type service struct {
	repo   Repo
	writer Writer
	now    func() time.Time
}

func New(repo Repo, writer Writer) Service {
	return &service{repo: repo, writer: writer, now: time.Now}
}

func (s *service) Current(ctx context.Context, associationID uuid.UUID) (billing.Sheet, error) {
	return s.repo.SheetByStatus(ctx, associationID, billing.SheetInProgress)
}

func (s *service) Published(ctx context.Context, associationID uuid.UUID) (billing.Sheet, error) {
	return s.repo.SheetByStatus(ctx, associationID, billing.SheetPublished)
}

// EnsureWorkingSheet returns the in_progress sheet, creating the first one
// when none exists yet. Opening balances for a brand new association come
// from the apartments' initial balances.
func (s *service) EnsureWorkingSheet(ctx context.Context, associationID uuid.UUID, monthYear string) (billing.Sheet, error) {
	cur, err := s.repo.SheetByStatus(ctx, associationID, billing.SheetInProgress)
	if err == nil {
		return cur, nil
	}
	if err != errs.ErrNotFound {
		return billing.Sheet{}, err
	}
	apts, err := s.repo.Apartments(ctx, associationID)
	if err != nil {
		return billing.Sheet{}, err
	}
	openings := make(map[uuid.UUID]billing.OpeningBalance, len(apts))
	for _, apt := range apts {
		if apt.InitialBalance != nil {
			openings[apt.ID] = billing.OpeningBalance{
				Restante:   apt.InitialBalance.Restante,
				Penalitati: apt.InitialBalance.Penalitati,
			}
		}
	}
	sh := billing.Sheet{
		ID:              uuid.New(),
		AssociationID:   associationID,
		MonthYear:       monthYear,
		Status:          billing.SheetInProgress,
		OpeningBalances: openings,
		ConfigSnapshot: billing.ConfigSnapshot{
			LastKnownIndexes: make(map[uuid.UUID]map[uuid.UUID]float64),
		},
	}
	if err := s.computeTable(ctx, &sh); err != nil {
		return billing.Sheet{}, err
	}
	return s.writer.SaveSheet(ctx, sh)
}

// AddExpense appends one expense instance to the working sheet. One instance
// per expense type per period.
func (s *service) AddExpense(ctx context.Context, associationID uuid.UUID, e billing.Expense) (billing.Sheet, error) {
	cur, err := s.repo.SheetByStatus(ctx, associationID, billing.SheetInProgress)
	if err != nil {
		return billing.Sheet{}, err
	}
	for _, existing := range cur.Expenses {
		if existing.ExpenseTypeID == e.ExpenseTypeID {
			return billing.Sheet{}, fmt.Errorf("expense %s already on sheet %s: %w", e.Name, cur.MonthYear, errs.ErrConflict)
		}
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.Shares = nil
	e.DistributedAt = nil
	cur.Expenses = append(cur.Expenses, e)
	return s.writer.SaveSheet(ctx, cur)
}

// DistributeExpense computes the per-apartment shares for one expense on the
// working sheet, spreads any consumption residual per the difference policy,
// and refreshes the maintenance table. The sheet is saved as a whole.
func (s *service) DistributeExpense(ctx context.Context, associationID, expenseID uuid.UUID) (billing.Sheet, error) {
	cur, err := s.repo.SheetByStatus(ctx, associationID, billing.SheetInProgress)
	if err != nil {
		return billing.Sheet{}, err
	}
	idx := -1
	for i := range cur.Expenses {
		if cur.Expenses[i].ID == expenseID {
			idx = i
			break
		}
	}
	if idx < 0 {
		// A stale ID often points at the sheet that has since been
		// published; its expenses are frozen.
		if pub, err := s.repo.SheetByStatus(ctx, associationID, billing.SheetPublished); err == nil {
			for i := range pub.Expenses {
				if pub.Expenses[i].ID == expenseID {
					return billing.Sheet{}, fmt.Errorf("expense %s belongs to published sheet %s: %w", expenseID, pub.MonthYear, errs.ErrImmutable)
				}
			}
		}
		return billing.Sheet{}, fmt.Errorf("expense %s: %w", expenseID, errs.ErrNotFound)
	}
	exp := cur.Expenses[idx]

	cfg, err := s.configFor(ctx, associationID, exp)
	if err != nil {
		return billing.Sheet{}, err
	}
	apts, err := s.repo.Apartments(ctx, associationID)
	if err != nil {
		return billing.Sheet{}, err
	}
	parts, err := s.repo.Participation(ctx, associationID)
	if err != nil {
		return billing.Sheet{}, err
	}
	overrides := overrideIndex(parts)

	scoped := distribution.ScopeApartments(apts, cfg)
	if cfg.DistributionType == billing.DistributionConsumption && cfg.IndexConfiguration.Enabled {
		s.resolveReadings(&cur, &exp, cfg, scoped)
	}
	consumption := s.consumptionFor(exp, cfg, scoped)

	shares := make(map[uuid.UUID]float64)
	var residual float64
	var unitPrice float64
	var groupPrices map[uuid.UUID]float64
	groups := distribution.GroupByReception(scoped, cfg.ReceptionMode)
	for groupID, group := range groups {
		amount := exp.Amount
		if cfg.ReceptionMode != billing.ReceptionTotal {
			amount = exp.PerReceptionAmounts[groupID]
			if amount == 0 {
				continue
			}
		}
		res, err := distribution.Distribute(distribution.Input{
			Config:            cfg,
			Amount:            amount,
			Apartments:        group,
			Participation:     overrides,
			IndividualAmounts: exp.IndividualAmounts,
			Consumption:       consumption,
			EnteredDifference: exp.EnteredDifference,
		})
		if err != nil {
			return billing.Sheet{}, err
		}
		for id, v := range res.Shares {
			shares[id] = v
		}
		residual += res.Residual
		if cfg.ReceptionMode == billing.ReceptionTotal {
			unitPrice = res.UnitPrice
		} else if res.UnitPrice != 0 {
			if groupPrices == nil {
				groupPrices = make(map[uuid.UUID]float64, len(groups))
			}
			groupPrices[groupID] = res.UnitPrice
		}
	}

	exp.UnassignedDifference = 0
	if cfg.DistributionType == billing.DistributionConsumption && math.Abs(residual) >= 0.01 {
		diff, err := distribution.DistributeDifference(distribution.DifferenceInput{
			ExpenseName:   cfg.Name,
			Residual:      round2(residual),
			Policy:        cfg.DifferenceDistribution,
			Apartments:    scoped,
			Participation: overrides,
			Consumption:   consumption,
		})
		if err != nil {
			return billing.Sheet{}, err
		}
		for id, v := range diff.Shares {
			shares[id] = round2(shares[id] + v)
		}
		exp.UnassignedDifference = diff.Unassigned
	}

	now := s.now()
	exp.Shares = shares
	exp.UnitPrice = unitPrice
	exp.PerReceptionUnitPrices = groupPrices
	exp.DistributedAt = &now
	cur.Expenses[idx] = exp

	if err := s.computeTable(ctx, &cur); err != nil {
		return billing.Sheet{}, err
	}
	return s.writer.SaveSheet(ctx, cur)
}

// SubmitReading records a pending index pair on the working sheet. The old
// index is derived from the resolution chain evaluated before the write.
func (s *service) SubmitReading(ctx context.Context, associationID, expenseTypeID, apartmentID, indexTypeID uuid.UUID, newIndex float64) (billing.MeterReading, error) {
	cur, err := s.repo.SheetByStatus(ctx, associationID, billing.SheetInProgress)
	if err != nil {
		return billing.MeterReading{}, err
	}
	r, err := meter.Submit(apartmentID, indexTypeID, newIndex, s.now(), meter.Chain(&cur, expenseTypeID)...)
	if err != nil {
		return billing.MeterReading{}, err
	}
	// Replace an earlier pending submission for the same pair.
	pending := cur.ConfigSnapshot.PendingReadings[:0]
	for _, p := range cur.ConfigSnapshot.PendingReadings {
		if p.ExpenseTypeID == expenseTypeID && p.Reading.ApartmentID == apartmentID && p.Reading.IndexTypeID == indexTypeID {
			continue
		}
		pending = append(pending, p)
	}
	cur.ConfigSnapshot.PendingReadings = append(pending, billing.PendingReading{ExpenseTypeID: expenseTypeID, Reading: r})
	if _, err := s.writer.SaveSheet(ctx, cur); err != nil {
		return billing.MeterReading{}, err
	}
	return r, nil
}

// Publish freezes the working sheet, archives the previously published one and
// opens the next period with carried-forward balances and transferred indexes.
// All three writes commit together. Returns the published sheet and the new
// working sheet.
func (s *service) Publish(ctx context.Context, associationID uuid.UUID) (billing.Sheet, billing.Sheet, error) {
	cur, err := s.repo.SheetByStatus(ctx, associationID, billing.SheetInProgress)
	if err != nil {
		return billing.Sheet{}, billing.Sheet{}, err
	}

	cfgs, err := s.repo.ExpenseConfigs(ctx, associationID)
	if err != nil {
		return billing.Sheet{}, billing.Sheet{}, err
	}
	parts, err := s.repo.Participation(ctx, associationID)
	if err != nil {
		return billing.Sheet{}, billing.Sheet{}, err
	}
	if err := validateBeforePublish(cfgs, parts, cur); err != nil {
		return billing.Sheet{}, billing.Sheet{}, err
	}

	now := s.now()
	cur.ConfigSnapshot.ExpenseConfigs = cfgs
	cur.ConfigSnapshot.Participation = parts
	cur.ConfigSnapshot.TakenAt = now
	if err := s.computeTable(ctx, &cur); err != nil {
		return billing.Sheet{}, billing.Sheet{}, err
	}
	cur.Status = billing.SheetPublished
	cur.PublishedAt = &now

	batch := []billing.Sheet{cur}

	prev, err := s.repo.SheetByStatus(ctx, associationID, billing.SheetPublished)
	switch err {
	case nil:
		prev.Status = billing.SheetArchived
		prev.ArchivedAt = &now
		batch = append(batch, prev)
	case errs.ErrNotFound:
	default:
		return billing.Sheet{}, billing.Sheet{}, err
	}

	next := s.nextSheet(cur, cfgs)
	batch = append(batch, next)

	if err := s.writer.SaveSheets(ctx, batch...); err != nil {
		return billing.Sheet{}, billing.Sheet{}, err
	}
	return cur, next, nil
}

// Unpublish is the administrative override reverting a published sheet to
// in_progress and dropping the working sheet generated from it. It is refused
// once payments have been recorded against the published sheet.
func (s *service) Unpublish(ctx context.Context, associationID uuid.UUID) (billing.Sheet, error) {
	pub, err := s.repo.SheetByStatus(ctx, associationID, billing.SheetPublished)
	if err != nil {
		return billing.Sheet{}, err
	}
	if len(pub.Payments) > 0 {
		return billing.Sheet{}, fmt.Errorf("sheet %s has %d payments: %w", pub.MonthYear, len(pub.Payments), errs.ErrConflict)
	}
	cur, err := s.repo.SheetByStatus(ctx, associationID, billing.SheetInProgress)
	if err != nil {
		return billing.Sheet{}, err
	}
	pub.Status = billing.SheetInProgress
	pub.PublishedAt = nil
	// One commit: two in_progress sheets must never be observable, even
	// when the write fails midway.
	return s.writer.ReplaceSheet(ctx, cur.ID, pub)
}

// Stats summarizes the published sheet.
func (s *service) Stats(ctx context.Context, associationID uuid.UUID) (Stats, error) {
	pub, err := s.repo.SheetByStatus(ctx, associationID, billing.SheetPublished)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{MonthYear: pub.MonthYear, ApartmentCount: len(pub.MaintenanceTable)}
	for _, row := range pub.MaintenanceTable {
		st.TotalDue += row.TotalDatorat
		st.TotalPaid += row.TotalPaid
		if row.TotalDatorat > 0 && row.Remaining() == 0 {
			st.ApartmentsPaid++
		}
	}
	st.TotalDue = round2(st.TotalDue)
	st.TotalPaid = round2(st.TotalPaid)
	if st.TotalDue > 0 {
		st.CollectionRate = math.Round(st.TotalPaid/st.TotalDue*10000) / 100
	}
	return st, nil
}

// ExpenseDistributed reports whether the working sheet carries a distributed
// expense of the given type with nonzero amounts. Used to refuse reception
// mode changes that would corrupt an already computed period.
func (s *service) ExpenseDistributed(ctx context.Context, associationID, expenseTypeID uuid.UUID) (bool, error) {
	cur, err := s.repo.SheetByStatus(ctx, associationID, billing.SheetInProgress)
	if err != nil {
		if err == errs.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	for _, e := range cur.Expenses {
		if e.ExpenseTypeID != expenseTypeID || !e.Distributed() {
			continue
		}
		for _, v := range e.Shares {
			if v != 0 {
				return true, nil
			}
		}
	}
	return false, nil
}

// configFor finds the live configuration for an expense instance.
func (s *service) configFor(ctx context.Context, associationID uuid.UUID, e billing.Expense) (billing.ExpenseConfig, error) {
	cfgs, err := s.repo.ExpenseConfigs(ctx, associationID)
	if err != nil {
		return billing.ExpenseConfig{}, err
	}
	for _, c := range cfgs {
		if c.ExpenseTypeID == e.ExpenseTypeID {
			return c, nil
		}
	}
	return billing.ExpenseConfig{}, fmt.Errorf("config for expense %s: %w", e.Name, errs.ErrNotFound)
}

// resolveReadings attaches the authoritative index pair per (apartment, meter)
// to the expense and refreshes the last-known cache with the new indexes.
func (s *service) resolveReadings(sheet *billing.Sheet, e *billing.Expense, cfg billing.ExpenseConfig, apts []billing.Apartment) {
	if e.Readings == nil {
		e.Readings = make(map[uuid.UUID][]billing.MeterReading)
	}
	if sheet.ConfigSnapshot.LastKnownIndexes == nil {
		sheet.ConfigSnapshot.LastKnownIndexes = make(map[uuid.UUID]map[uuid.UUID]float64)
	}
	chain := meter.Chain(sheet, e.ExpenseTypeID)
	for _, apt := range apts {
		var readings []billing.MeterReading
		for _, it := range cfg.IndexConfiguration.IndexTypes {
			r, ok := meter.Resolve(apt.ID, it.ID, chain...)
			if !ok {
				continue
			}
			readings = append(readings, r)
			byMeter, ok := sheet.ConfigSnapshot.LastKnownIndexes[apt.ID]
			if !ok {
				byMeter = make(map[uuid.UUID]float64)
				sheet.ConfigSnapshot.LastKnownIndexes[apt.ID] = byMeter
			}
			byMeter[it.ID] = r.NewIndex
		}
		if len(readings) > 0 {
			e.Readings[apt.ID] = readings
		}
	}
}

// consumptionFor builds the effective per-apartment consumption for a
// consumption expense under the configured input mode.
func (s *service) consumptionFor(e billing.Expense, cfg billing.ExpenseConfig, apts []billing.Apartment) map[uuid.UUID]float64 {
	if cfg.DistributionType != billing.DistributionConsumption {
		return nil
	}
	mode := billing.InputManual
	if cfg.IndexConfiguration.Enabled {
		mode = cfg.IndexConfiguration.InputMode
	}
	out := make(map[uuid.UUID]float64, len(apts))
	for _, apt := range apts {
		var manual *float64
		if v, ok := e.Consumption[apt.ID]; ok {
			manual = &v
		}
		if c := meter.Consumption(mode, manual, e.Readings[apt.ID]); c > 0 {
			out[apt.ID] = c
		}
	}
	return out
}

// computeTable rebuilds the maintenance rows from the distributed expenses and
// opening balances, preserving per-apartment paid totals.
func (s *service) computeTable(ctx context.Context, sheet *billing.Sheet) error {
	apts, err := s.repo.Apartments(ctx, sheet.AssociationID)
	if err != nil {
		return err
	}
	sort.Slice(apts, func(i, j int) bool { return apts[i].Number < apts[j].Number })

	paid := make(map[uuid.UUID]float64)
	for _, p := range sheet.Payments {
		paid[p.ApartmentID] += p.Total
	}

	rows := make([]billing.MaintenanceRow, 0, len(apts))
	for _, apt := range apts {
		opening := sheet.OpeningBalances[apt.ID]
		row := billing.MaintenanceRow{
			ApartmentID:    apt.ID,
			Restante:       round2(opening.Restante),
			Penalitati:     round2(opening.Penalitati),
			ExpenseDetails: make(map[uuid.UUID]billing.ExpenseDetail),
			TotalPaid:      round2(paid[apt.ID]),
		}
		for _, e := range sheet.Expenses {
			if !e.Distributed() {
				continue
			}
			amt := e.Shares[apt.ID]
			if amt == 0 {
				continue
			}
			row.CurrentMaintenance += amt
			row.ExpenseDetails[e.ID] = billing.ExpenseDetail{
				Amount:           amt,
				Name:             e.Name,
				DistributionType: e.DistributionType,
			}
		}
		row.CurrentMaintenance = round2(row.CurrentMaintenance)
		row.TotalDatorat = round2(row.Restante + row.CurrentMaintenance + row.Penalitati)
		rows = append(rows, row)
	}
	sheet.MaintenanceTable = rows
	return nil
}

// nextSheet opens the following period: balances carry forward from the just
// published rows, meter indexes transfer, distributions never do.
func (s *service) nextSheet(published billing.Sheet, cfgs []billing.ExpenseConfig) billing.Sheet {
	openings := make(map[uuid.UUID]billing.OpeningBalance, len(published.MaintenanceTable))
	for _, row := range published.MaintenanceTable {
		restante, penalitati := carryForward(row)
		if restante == 0 && penalitati == 0 {
			continue
		}
		openings[row.ApartmentID] = billing.OpeningBalance{Restante: restante, Penalitati: penalitati}
	}
	return billing.Sheet{
		ID:              uuid.New(),
		AssociationID:   published.AssociationID,
		MonthYear:       billing.NextMonthYear(published.MonthYear),
		Status:          billing.SheetInProgress,
		OpeningBalances: openings,
		ConfigSnapshot: billing.ConfigSnapshot{
			LastKnownIndexes: transferIndexes(published, cfgs),
		},
	}
}

// carryForward derives the next period's opening balances for one row.
// A fully settled row carries nothing; an unsettled one carries its remaining
// debt plus a penalty on the unpaid current maintenance.
func carryForward(row billing.MaintenanceRow) (restante, penalitati float64) {
	remaining := round2(row.TotalDatorat - row.TotalPaid)
	if remaining <= 0 {
		return 0, 0
	}
	return remaining, round2(row.CurrentMaintenance * penaltyRate)
}

// transferIndexes carries each meter's newest index into the next period's
// cache, but only for expenses with index input enabled.
func transferIndexes(published billing.Sheet, cfgs []billing.ExpenseConfig) map[uuid.UUID]map[uuid.UUID]float64 {
	enabled := make(map[uuid.UUID]bool, len(cfgs))
	for _, c := range cfgs {
		enabled[c.ExpenseTypeID] = c.IndexConfiguration.Enabled
	}
	out := make(map[uuid.UUID]map[uuid.UUID]float64)
	// Start from the previous cache so meters unread this period keep a value.
	for aptID, byMeter := range published.ConfigSnapshot.LastKnownIndexes {
		cp := make(map[uuid.UUID]float64, len(byMeter))
		for k, v := range byMeter {
			cp[k] = v
		}
		out[aptID] = cp
	}
	for _, e := range published.Expenses {
		if !enabled[e.ExpenseTypeID] {
			continue
		}
		for aptID, readings := range e.Readings {
			byMeter, ok := out[aptID]
			if !ok {
				byMeter = make(map[uuid.UUID]float64)
				out[aptID] = byMeter
			}
			for _, r := range readings {
				byMeter[r.IndexTypeID] = r.NewIndex
			}
		}
	}
	return out
}

// validateBeforePublish runs the configuration checks that must abort the
// publish before any write happens.
func validateBeforePublish(cfgs []billing.ExpenseConfig, parts []billing.ParticipationOverride, cur billing.Sheet) error {
	for _, p := range parts {
		switch p.Type {
		case billing.ParticipationPercentage, billing.ParticipationFixed:
			if p.Value <= 0 {
				return fmt.Errorf("participation for apartment %s on %s needs a positive value: %w",
					p.ApartmentID, p.ExpenseName, errs.ErrUnprocessable)
			}
		}
	}
	for _, e := range cur.Expenses {
		if e.Distributed() && e.UnassignedDifference != 0 {
			return fmt.Errorf("expense %s has %.2f unassigned difference: %w", e.Name, e.UnassignedDifference, errs.ErrUnprocessable)
		}
	}
	return nil
}

// overrideIndex keys participation overrides for calculator lookups.
func overrideIndex(parts []billing.ParticipationOverride) map[string]billing.ParticipationOverride {
	out := make(map[string]billing.ParticipationOverride, len(parts))
	for _, p := range parts {
		out[distribution.OverrideKey(p.ApartmentID, p.ExpenseName)] = p
	}
	return out
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
