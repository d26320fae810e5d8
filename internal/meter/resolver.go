package meter

// Package meter resolves authoritative old/new index pairs for (apartment,
// meter) pairs. Readings can live in three places depending on how far the
// billing period has progressed, so lookups walk an explicit ordered chain
// instead of nested conditionals: the priority order is a single testable unit.

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/blocbill/blocbill/internal/billing"
	"github.com/blocbill/blocbill/internal/errs"
)

// Lookup fetches the reading for an (apartment, meter) pair from one source.
type Lookup func(apartmentID, indexTypeID uuid.UUID) (billing.MeterReading, bool)

// Resolve walks the sources in priority order and returns the first hit.
// Sources are never merged.
func Resolve(apartmentID, indexTypeID uuid.UUID, sources ...Lookup) (billing.MeterReading, bool) {
	for _, src := range sources {
		if r, ok := src(apartmentID, indexTypeID); ok {
			return r, true
		}
	}
	return billing.MeterReading{}, false
}

// Chain builds the standard resolution chain for one expense type on a sheet:
// readings attached to the distributed expense, then pending submissions, then
// the last-known cache from the configuration snapshot.
func Chain(sheet *billing.Sheet, expenseTypeID uuid.UUID) []Lookup {
	return []Lookup{
		FinalizedSource(sheet, expenseTypeID),
		PendingSource(sheet, expenseTypeID),
		CachedSource(sheet),
	}
}

// FinalizedSource reads index pairs attached to an already distributed expense.
func FinalizedSource(sheet *billing.Sheet, expenseTypeID uuid.UUID) Lookup {
	return func(apartmentID, indexTypeID uuid.UUID) (billing.MeterReading, bool) {
		for _, e := range sheet.Expenses {
			if e.ExpenseTypeID != expenseTypeID || !e.Distributed() {
				continue
			}
			for _, r := range e.Readings[apartmentID] {
				if r.IndexTypeID == indexTypeID {
					r.Source = billing.SourceFinalized
					return r, true
				}
			}
		}
		return billing.MeterReading{}, false
	}
}

// PendingSource reads submissions buffered before the expense was distributed.
func PendingSource(sheet *billing.Sheet, expenseTypeID uuid.UUID) Lookup {
	return func(apartmentID, indexTypeID uuid.UUID) (billing.MeterReading, bool) {
		for _, p := range sheet.ConfigSnapshot.PendingReadings {
			if p.ExpenseTypeID != expenseTypeID {
				continue
			}
			if p.Reading.ApartmentID == apartmentID && p.Reading.IndexTypeID == indexTypeID {
				r := p.Reading
				r.Source = billing.SourcePending
				return r, true
			}
		}
		return billing.MeterReading{}, false
	}
}

// CachedSource reads the last-known index cached on the sheet's snapshot. The
// cached value stands in for both ends of the pair so the next submission
// derives its old index from it.
func CachedSource(sheet *billing.Sheet) Lookup {
	return func(apartmentID, indexTypeID uuid.UUID) (billing.MeterReading, bool) {
		byMeter, ok := sheet.ConfigSnapshot.LastKnownIndexes[apartmentID]
		if !ok {
			return billing.MeterReading{}, false
		}
		v, ok := byMeter[indexTypeID]
		if !ok {
			return billing.MeterReading{}, false
		}
		return billing.MeterReading{
			ApartmentID: apartmentID,
			IndexTypeID: indexTypeID,
			OldIndex:    v,
			NewIndex:    v,
			Source:      billing.SourceCached,
		}, true
	}
}

// Submit builds a new reading whose old index comes from the resolution chain
// evaluated before the write, so the difference is computed against the true
// prior state. A new index below the resolved old index is rejected.
func Submit(apartmentID, indexTypeID uuid.UUID, newIndex float64, now time.Time, sources ...Lookup) (billing.MeterReading, error) {
	var old float64
	if prior, ok := Resolve(apartmentID, indexTypeID, sources...); ok {
		old = prior.NewIndex
	}
	if newIndex < old {
		return billing.MeterReading{}, fmt.Errorf("meter %s apartment %s: new index %.3f below old %.3f: %w",
			indexTypeID, apartmentID, newIndex, old, errs.ErrIndexBelowOld)
	}
	return billing.MeterReading{
		ApartmentID: apartmentID,
		IndexTypeID: indexTypeID,
		OldIndex:    old,
		NewIndex:    newIndex,
		Source:      billing.SourcePending,
		SubmittedAt: now,
	}, nil
}

// Consumption derives the billable consumption for one apartment under the
// configured input mode. Mixed prefers a present manual value and falls back
// to index deltas.
func Consumption(mode billing.IndexInputMode, manual *float64, readings []billing.MeterReading) float64 {
	sumDeltas := func() float64 {
		var sum float64
		for _, r := range readings {
			sum += r.Difference()
		}
		return sum
	}
	switch mode {
	case billing.InputIndexes:
		return sumDeltas()
	case billing.InputMixed:
		if manual != nil {
			return *manual
		}
		return sumDeltas()
	default:
		if manual != nil {
			return *manual
		}
		return 0
	}
}
