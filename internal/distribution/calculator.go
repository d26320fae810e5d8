package distribution

// Package distribution computes per-apartment shares of an expense total under
// the configured strategy, and spreads consumption residuals (meter loss)
// according to the difference policy.

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/blocbill/blocbill/internal/billing"
	"github.com/blocbill/blocbill/internal/errs"
	"github.com/blocbill/blocbill/internal/slug"
)

// Input carries everything needed to split one expense amount over one scope.
// Apartments must already be filtered to the expense's reception scope.
type Input struct {
	Config     billing.ExpenseConfig
	Amount     float64
	Apartments []billing.Apartment
	// Participation is keyed by OverrideKey(apartmentID, expense name).
	Participation map[string]billing.ParticipationOverride
	// IndividualAmounts feeds the individual strategy.
	IndividualAmounts map[uuid.UUID]float64
	// Consumption feeds the consumption strategy: resolved metered deltas.
	Consumption map[uuid.UUID]float64
	// EnteredDifference is deducted from the total before unit pricing.
	EnteredDifference float64
}

// Result is the computed split.
type Result struct {
	Shares    map[uuid.UUID]float64
	UnitPrice float64
	// Residual is what remains of a consumption total after the metered shares,
	// owed to the difference distributor. Zero for other strategies.
	Residual float64
}

// Distribute splits the expense total per the configured strategy and applies
// participation overrides post-strategy. For strategies that split a pool, the
// rounding remainder is assigned to the largest share so the total reconciles.
func Distribute(in Input) (Result, error) {
	switch in.Config.DistributionType {
	case billing.DistributionApartment:
		return distributeEqual(in)
	case billing.DistributionIndividual:
		return distributeIndividual(in)
	case billing.DistributionPerson:
		return distributePerson(in)
	case billing.DistributionConsumption:
		return distributeConsumption(in)
	case billing.DistributionCotaParte:
		return distributeCotaParte(in)
	default:
		return Result{}, fmt.Errorf("distribution type %q: %w", in.Config.DistributionType, errs.ErrInvalid)
	}
}

func distributeEqual(in Input) (Result, error) {
	base := participating(in.Apartments, in.Participation, in.Config.Name)
	if len(base) == 0 {
		return Result{}, fmt.Errorf("expense %s: %w", in.Config.Name, errs.ErrEmptyParticipants)
	}
	shares := make(map[uuid.UUID]float64, len(base))
	per := in.Amount / float64(len(base))
	for _, apt := range base {
		shares[apt.ID] = round2(per)
	}
	assignRemainder(shares, in.Amount)
	applyOverrides(shares, base, in.Participation, in.Config.Name)
	return Result{Shares: shares}, nil
}

func distributeIndividual(in Input) (Result, error) {
	// Amounts are entered directly; only excluded/integral overrides apply.
	shares := make(map[uuid.UUID]float64, len(in.Apartments))
	for _, apt := range in.Apartments {
		if ov, ok := in.Participation[OverrideKey(apt.ID, in.Config.Name)]; ok && ov.Type == billing.ParticipationExcluded {
			continue
		}
		if amt, ok := in.IndividualAmounts[apt.ID]; ok && amt != 0 {
			shares[apt.ID] = round2(amt)
		}
	}
	return Result{Shares: shares}, nil
}

func distributePerson(in Input) (Result, error) {
	base := participating(in.Apartments, in.Participation, in.Config.Name)
	if len(base) == 0 {
		return Result{}, fmt.Errorf("expense %s: %w", in.Config.Name, errs.ErrEmptyParticipants)
	}
	shares := make(map[uuid.UUID]float64, len(base))
	if in.Config.FixedAmountMode == billing.FixedPerPerson {
		// Amount is a per-person rate, not a pool; no remainder to conserve.
		for _, apt := range base {
			shares[apt.ID] = round2(in.Amount * float64(apt.Persons))
		}
		applyOverrides(shares, base, in.Participation, in.Config.Name)
		return Result{Shares: shares}, nil
	}
	var persons int
	for _, apt := range base {
		persons += apt.Persons
	}
	if persons == 0 {
		return Result{}, fmt.Errorf("expense %s: no persons in scope: %w", in.Config.Name, errs.ErrUnprocessable)
	}
	perPerson := in.Amount / float64(persons)
	for _, apt := range base {
		shares[apt.ID] = round2(perPerson * float64(apt.Persons))
	}
	assignRemainder(shares, in.Amount)
	applyOverrides(shares, base, in.Participation, in.Config.Name)
	return Result{Shares: shares}, nil
}

func distributeConsumption(in Input) (Result, error) {
	base := participating(in.Apartments, in.Participation, in.Config.Name)
	var totalDelta float64
	for _, apt := range base {
		totalDelta += in.Consumption[apt.ID]
	}
	if totalDelta <= 0 {
		return Result{}, fmt.Errorf("expense %s: no metered consumption: %w", in.Config.Name, errs.ErrUnprocessable)
	}
	unitPrice := (in.Amount - in.EnteredDifference) / totalDelta
	shares := make(map[uuid.UUID]float64, len(base))
	for _, apt := range base {
		if delta := in.Consumption[apt.ID]; delta > 0 {
			shares[apt.ID] = round2(delta * unitPrice)
		}
	}
	applyOverrides(shares, base, in.Participation, in.Config.Name)
	var sum float64
	for _, v := range shares {
		sum += v
	}
	return Result{Shares: shares, UnitPrice: unitPrice, Residual: round2(in.Amount - sum)}, nil
}

func distributeCotaParte(in Input) (Result, error) {
	base := participating(in.Apartments, in.Participation, in.Config.Name)
	if len(base) == 0 {
		return Result{}, fmt.Errorf("expense %s: %w", in.Config.Name, errs.ErrEmptyParticipants)
	}
	var totalCota float64
	for _, apt := range base {
		if apt.Surface <= 0 {
			return Result{}, fmt.Errorf("apartment %d: %w", apt.Number, errs.ErrMissingSurface)
		}
		totalCota += apt.CotaParte
	}
	if totalCota <= 0 {
		return Result{}, fmt.Errorf("expense %s: zero total cota parte: %w", in.Config.Name, errs.ErrUnprocessable)
	}
	shares := make(map[uuid.UUID]float64, len(base))
	for _, apt := range base {
		shares[apt.ID] = round2(in.Amount * apt.CotaParte / totalCota)
	}
	assignRemainder(shares, in.Amount)
	applyOverrides(shares, base, in.Participation, in.Config.Name)
	return Result{Shares: shares}, nil
}

// CotaParte derives an apartment's undivided share percentage from surfaces.
func CotaParte(surface, totalSurface float64) float64 {
	if totalSurface <= 0 {
		return 0
	}
	return math.Round(surface/totalSurface*100*10000) / 10000
}

// ScopeApartments filters the apartment set to the expense's applies-to scope.
func ScopeApartments(apts []billing.Apartment, cfg billing.ExpenseConfig) []billing.Apartment {
	if len(cfg.AppliesTo.Blocks) == 0 && len(cfg.AppliesTo.Stairs) == 0 {
		return apts
	}
	blocks := make(map[uuid.UUID]struct{}, len(cfg.AppliesTo.Blocks))
	for _, id := range cfg.AppliesTo.Blocks {
		blocks[id] = struct{}{}
	}
	stairs := make(map[uuid.UUID]struct{}, len(cfg.AppliesTo.Stairs))
	for _, id := range cfg.AppliesTo.Stairs {
		stairs[id] = struct{}{}
	}
	out := make([]billing.Apartment, 0, len(apts))
	for _, apt := range apts {
		if _, ok := blocks[apt.BlockID]; ok {
			out = append(out, apt)
			continue
		}
		if _, ok := stairs[apt.StairID]; ok {
			out = append(out, apt)
		}
	}
	return out
}

// GroupByReception splits apartments into the groups the expense amount is
// received for: one group per block or per stair, or a single group for total.
func GroupByReception(apts []billing.Apartment, mode billing.ReceptionMode) map[uuid.UUID][]billing.Apartment {
	out := make(map[uuid.UUID][]billing.Apartment)
	switch mode {
	case billing.ReceptionPerBlock:
		for _, apt := range apts {
			out[apt.BlockID] = append(out[apt.BlockID], apt)
		}
	case billing.ReceptionPerStair:
		for _, apt := range apts {
			out[apt.StairID] = append(out[apt.StairID], apt)
		}
	default:
		out[uuid.Nil] = apts
	}
	return out
}

// participating filters out apartments excluded from the expense.
func participating(apts []billing.Apartment, overrides map[string]billing.ParticipationOverride, expense string) []billing.Apartment {
	out := make([]billing.Apartment, 0, len(apts))
	for _, apt := range apts {
		if ov, ok := overrides[OverrideKey(apt.ID, expense)]; ok && ov.Type == billing.ParticipationExcluded {
			continue
		}
		out = append(out, apt)
	}
	return out
}

// applyOverrides rewrites shares for percentage and fixed participation.
// The base total is deliberately not re-balanced afterwards; the difference
// distributor owns any resulting gap for consumption expenses.
func applyOverrides(shares map[uuid.UUID]float64, apts []billing.Apartment, overrides map[string]billing.ParticipationOverride, expense string) {
	for _, apt := range apts {
		ov, ok := overrides[OverrideKey(apt.ID, expense)]
		if !ok {
			continue
		}
		switch ov.Type {
		case billing.ParticipationPercentage:
			shares[apt.ID] = round2(shares[apt.ID] * percentFactor(ov.Value))
		case billing.ParticipationFixed:
			shares[apt.ID] = round2(ov.Value)
		}
	}
}

// OverrideKey builds the participation lookup key for (apartment, expense).
// The expense name is slugified so spelling variants of the same hand-entered
// name resolve to one override.
func OverrideKey(apartmentID uuid.UUID, expense string) string {
	return apartmentID.String() + "|" + slug.Slugify(expense)
}

// percentFactor normalizes a participation value: entries below 1 are already
// fractions, everything else is a percentage.
func percentFactor(v float64) float64 {
	if v < 1 {
		return v
	}
	return v / 100
}

// assignRemainder adds any drift between want and the rounded shares to the
// apartment carrying the largest share, so the split reconciles exactly.
func assignRemainder(shares map[uuid.UUID]float64, want float64) {
	if len(shares) == 0 {
		return
	}
	var sum float64
	for _, v := range shares {
		sum += v
	}
	rem := round2(want - sum)
	if rem == 0 {
		return
	}
	var largest uuid.UUID
	max := math.Inf(-1)
	for id, v := range shares {
		if v > max || (v == max && id.String() < largest.String()) {
			max = v
			largest = id
		}
	}
	shares[largest] = round2(shares[largest] + rem)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
