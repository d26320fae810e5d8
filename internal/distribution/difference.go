package distribution

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/blocbill/blocbill/internal/billing"
	"github.com/blocbill/blocbill/internal/errs"
)

// DifferenceInput carries the residual of a consumption expense and the policy
// for spreading it.
type DifferenceInput struct {
	ExpenseName   string
	Residual      float64
	Policy        billing.DifferenceDistribution
	Apartments    []billing.Apartment
	Participation map[string]billing.ParticipationOverride
	// Consumption is required when the method is proportional to consumption.
	Consumption map[uuid.UUID]float64
}

// DifferenceResult is the outcome of the two-pass spread.
type DifferenceResult struct {
	Shares map[uuid.UUID]float64
	// Distributed is the sum actually assigned. Under the participation
	// adjustment it may fall short of the residual; the shortfall is the
	// association's accepted loss.
	Distributed float64
	// Unassigned reports residual that could not be placed (zero weights).
	Unassigned float64
}

// DistributeDifference spreads the residual in two passes: a base split by the
// policy method, then an adjustment by the policy mode. Only the apartmentType
// mode renormalizes back to the residual; the participation mode intentionally
// does not.
func DistributeDifference(in DifferenceInput) (DifferenceResult, error) {
	base := differenceParticipants(in)
	if len(base) == 0 {
		return DifferenceResult{}, fmt.Errorf("expense %s: %w", in.ExpenseName, errs.ErrEmptyParticipants)
	}

	baseShares, err := baseSplit(in, base)
	if err != nil {
		return DifferenceResult{}, err
	}

	switch in.Policy.AdjustmentMode {
	case billing.AdjustmentParticipation:
		return adjustByParticipation(in, base, baseShares), nil
	case billing.AdjustmentApartmentType:
		return adjustByApartmentType(in, base, baseShares), nil
	default:
		assignRemainder(baseShares, in.Residual)
		return DifferenceResult{Shares: baseShares, Distributed: sumShares(baseShares)}, nil
	}
}

// differenceParticipants builds the qualifying set: fixed and excluded
// apartments join only when the policy says so.
func differenceParticipants(in DifferenceInput) []billing.Apartment {
	out := make([]billing.Apartment, 0, len(in.Apartments))
	for _, apt := range in.Apartments {
		ov, ok := in.Participation[OverrideKey(apt.ID, in.ExpenseName)]
		if ok {
			switch ov.Type {
			case billing.ParticipationFixed:
				if !in.Policy.IncludeFixedAmountInDifference {
					continue
				}
			case billing.ParticipationExcluded:
				if !in.Policy.IncludeExcludedInDifference {
					continue
				}
			}
		}
		out = append(out, apt)
	}
	return out
}

func baseSplit(in DifferenceInput, base []billing.Apartment) (map[uuid.UUID]float64, error) {
	shares := make(map[uuid.UUID]float64, len(base))
	switch in.Policy.Method {
	case billing.DifferenceMethodConsumption:
		var total float64
		for _, apt := range base {
			total += in.Consumption[apt.ID]
		}
		if total <= 0 {
			return nil, fmt.Errorf("expense %s: no consumption to weight by: %w", in.ExpenseName, errs.ErrEmptyParticipants)
		}
		for _, apt := range base {
			shares[apt.ID] = round2(in.Residual * in.Consumption[apt.ID] / total)
		}
	case billing.DifferenceMethodPerson:
		var persons int
		for _, apt := range base {
			persons += apt.Persons
		}
		if persons == 0 {
			return nil, fmt.Errorf("expense %s: no persons to weight by: %w", in.ExpenseName, errs.ErrEmptyParticipants)
		}
		for _, apt := range base {
			shares[apt.ID] = round2(in.Residual * float64(apt.Persons) / float64(persons))
		}
	default: // apartment: equal split
		per := in.Residual / float64(len(base))
		for _, apt := range base {
			shares[apt.ID] = round2(per)
		}
	}
	return shares, nil
}

// adjustByParticipation scales each base share by the apartment's
// participation percentage and does NOT renormalize: the shortfall from
// sub-100% apartments is absorbed by the association, never redistributed.
func adjustByParticipation(in DifferenceInput, base []billing.Apartment, shares map[uuid.UUID]float64) DifferenceResult {
	for _, apt := range base {
		ov, ok := in.Participation[OverrideKey(apt.ID, in.ExpenseName)]
		if !ok || ov.Type != billing.ParticipationPercentage {
			continue
		}
		shares[apt.ID] = round2(shares[apt.ID] * percentFactor(ov.Value))
	}
	return DifferenceResult{Shares: shares, Distributed: sumShares(shares)}
}

// adjustByApartmentType weights base shares by per-type ratios, then
// renormalizes so the residual is preserved exactly. A zero weight sum leaves
// every share at zero and reports the whole residual as unassigned.
func adjustByApartmentType(in DifferenceInput, base []billing.Apartment, shares map[uuid.UUID]float64) DifferenceResult {
	weights := make(map[uuid.UUID]float64, len(base))
	var sumW float64
	for _, apt := range base {
		ratio := 100.0
		if r, ok := in.Policy.ApartmentTypeRatios[apt.ApartmentType]; ok {
			ratio = r
		}
		w := shares[apt.ID] * ratio / 100
		weights[apt.ID] = w
		sumW += w
	}
	out := make(map[uuid.UUID]float64, len(base))
	if sumW == 0 {
		for _, apt := range base {
			out[apt.ID] = 0
		}
		return DifferenceResult{Shares: out, Unassigned: in.Residual}
	}
	for _, apt := range base {
		out[apt.ID] = round2(in.Residual * weights[apt.ID] / sumW)
	}
	assignLargestWeight(out, weights, in.Residual)
	return DifferenceResult{Shares: out, Distributed: sumShares(out)}
}

// assignLargestWeight pushes the rounding drift onto the heaviest weight so
// the renormalized split sums to the residual exactly.
func assignLargestWeight(shares, weights map[uuid.UUID]float64, want float64) {
	rem := round2(want - sumShares(shares))
	if rem == 0 {
		return
	}
	var heaviest uuid.UUID
	max := math.Inf(-1)
	for id, w := range weights {
		if w > max || (w == max && id.String() < heaviest.String()) {
			max = w
			heaviest = id
		}
	}
	shares[heaviest] = round2(shares[heaviest] + rem)
}

func sumShares(shares map[uuid.UUID]float64) float64 {
	var sum float64
	for _, v := range shares {
		sum += v
	}
	return round2(sum)
}
