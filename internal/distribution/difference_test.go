package distribution

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blocbill/blocbill/internal/billing"
	"github.com/blocbill/blocbill/internal/errs"
)

func TestDifferenceEqualSplit(t *testing.T) {
	apts := makeApartments(4)
	res, err := DistributeDifference(DifferenceInput{
		ExpenseName: "Apa rece",
		Residual:    20,
		Policy:      billing.DifferenceDistribution{Method: billing.DifferenceMethodApartment, AdjustmentMode: billing.AdjustmentNone},
		Apartments:  apts,
	})
	require.NoError(t, err)
	for _, apt := range apts {
		assert.Equal(t, 5.00, res.Shares[apt.ID])
	}
	assert.Equal(t, 20.00, res.Distributed)
	assert.Equal(t, 0.00, res.Unassigned)
}

func TestDifferenceProportionalToConsumption(t *testing.T) {
	apts := makeApartments(2)
	res, err := DistributeDifference(DifferenceInput{
		ExpenseName: "Apa rece",
		Residual:    30,
		Policy:      billing.DifferenceDistribution{Method: billing.DifferenceMethodConsumption},
		Apartments:  apts,
		Consumption: map[uuid.UUID]float64{apts[0].ID: 2, apts[1].ID: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 20.00, res.Shares[apts[0].ID])
	assert.Equal(t, 10.00, res.Shares[apts[1].ID])
}

func TestDifferenceProportionalToPersons(t *testing.T) {
	apts := makeApartments(2)
	apts[0].Persons = 3
	apts[1].Persons = 1
	res, err := DistributeDifference(DifferenceInput{
		ExpenseName: "Apa rece",
		Residual:    40,
		Policy:      billing.DifferenceDistribution{Method: billing.DifferenceMethodPerson},
		Apartments:  apts,
	})
	require.NoError(t, err)
	assert.Equal(t, 30.00, res.Shares[apts[0].ID])
	assert.Equal(t, 10.00, res.Shares[apts[1].ID])
}

// Participation adjustment scales shares down and keeps the shortfall with the
// association rather than redistributing it.
func TestDifferenceParticipationShortfall(t *testing.T) {
	apts := makeApartments(2)
	overrides := map[string]billing.ParticipationOverride{
		OverrideKey(apts[1].ID, "Apa rece"): {ApartmentID: apts[1].ID, ExpenseName: "Apa rece", Type: billing.ParticipationPercentage, Value: 50},
	}
	res, err := DistributeDifference(DifferenceInput{
		ExpenseName:   "Apa rece",
		Residual:      100,
		Policy:        billing.DifferenceDistribution{Method: billing.DifferenceMethodApartment, AdjustmentMode: billing.AdjustmentParticipation},
		Apartments:    apts,
		Participation: overrides,
	})
	require.NoError(t, err)
	assert.Equal(t, 50.00, res.Shares[apts[0].ID])
	assert.Equal(t, 25.00, res.Shares[apts[1].ID])
	assert.Equal(t, 75.00, res.Distributed)
}

func TestDifferenceApartmentTypeRenormalizes(t *testing.T) {
	apts := makeApartments(2)
	apts[0].ApartmentType = "standard"
	apts[1].ApartmentType = "studio"
	res, err := DistributeDifference(DifferenceInput{
		ExpenseName: "Apa rece",
		Residual:    100,
		Policy: billing.DifferenceDistribution{
			Method:              billing.DifferenceMethodApartment,
			AdjustmentMode:      billing.AdjustmentApartmentType,
			ApartmentTypeRatios: map[string]float64{"standard": 100, "studio": 50},
		},
		Apartments: apts,
	})
	require.NoError(t, err)
	assert.Equal(t, 66.67, res.Shares[apts[0].ID])
	assert.Equal(t, 33.33, res.Shares[apts[1].ID])
	assert.Equal(t, 100.00, res.Distributed)
}

func TestDifferenceApartmentTypeDefaultRatio(t *testing.T) {
	apts := makeApartments(2)
	apts[0].ApartmentType = "penthouse" // not configured, defaults to 100
	apts[1].ApartmentType = "studio"
	res, err := DistributeDifference(DifferenceInput{
		ExpenseName: "Apa rece",
		Residual:    90,
		Policy: billing.DifferenceDistribution{
			Method:              billing.DifferenceMethodApartment,
			AdjustmentMode:      billing.AdjustmentApartmentType,
			ApartmentTypeRatios: map[string]float64{"studio": 50},
		},
		Apartments: apts,
	})
	require.NoError(t, err)
	assert.Equal(t, 60.00, res.Shares[apts[0].ID])
	assert.Equal(t, 30.00, res.Shares[apts[1].ID])
}

func TestDifferenceApartmentTypeZeroWeights(t *testing.T) {
	apts := makeApartments(2)
	apts[0].ApartmentType = "studio"
	apts[1].ApartmentType = "studio"
	res, err := DistributeDifference(DifferenceInput{
		ExpenseName: "Apa rece",
		Residual:    50,
		Policy: billing.DifferenceDistribution{
			Method:              billing.DifferenceMethodApartment,
			AdjustmentMode:      billing.AdjustmentApartmentType,
			ApartmentTypeRatios: map[string]float64{"studio": 0},
		},
		Apartments: apts,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.00, res.Shares[apts[0].ID])
	assert.Equal(t, 0.00, res.Shares[apts[1].ID])
	assert.Equal(t, 50.00, res.Unassigned)
}

func TestDifferenceFixedAndExcludedMembership(t *testing.T) {
	apts := makeApartments(3)
	overrides := map[string]billing.ParticipationOverride{
		OverrideKey(apts[1].ID, "Apa rece"): {ApartmentID: apts[1].ID, ExpenseName: "Apa rece", Type: billing.ParticipationFixed, Value: 10},
		OverrideKey(apts[2].ID, "Apa rece"): {ApartmentID: apts[2].ID, ExpenseName: "Apa rece", Type: billing.ParticipationExcluded},
	}

	// Defaults: fixed included, excluded not.
	res, err := DistributeDifference(DifferenceInput{
		ExpenseName:   "Apa rece",
		Residual:      20,
		Policy:        billing.DifferenceDistribution{Method: billing.DifferenceMethodApartment, IncludeFixedAmountInDifference: true},
		Apartments:    apts,
		Participation: overrides,
	})
	require.NoError(t, err)
	require.Len(t, res.Shares, 2)
	assert.Equal(t, 10.00, res.Shares[apts[0].ID])
	assert.Equal(t, 10.00, res.Shares[apts[1].ID])

	// Excluded opted in, fixed opted out.
	res, err = DistributeDifference(DifferenceInput{
		ExpenseName:   "Apa rece",
		Residual:      20,
		Policy:        billing.DifferenceDistribution{Method: billing.DifferenceMethodApartment, IncludeExcludedInDifference: true},
		Apartments:    apts,
		Participation: overrides,
	})
	require.NoError(t, err)
	require.Len(t, res.Shares, 2)
	assert.Equal(t, 10.00, res.Shares[apts[0].ID])
	assert.Equal(t, 10.00, res.Shares[apts[2].ID])
}

func TestDifferenceEmptyParticipants(t *testing.T) {
	apts := makeApartments(1)
	overrides := map[string]billing.ParticipationOverride{
		OverrideKey(apts[0].ID, "Apa rece"): {ApartmentID: apts[0].ID, ExpenseName: "Apa rece", Type: billing.ParticipationExcluded},
	}
	_, err := DistributeDifference(DifferenceInput{
		ExpenseName:   "Apa rece",
		Residual:      20,
		Policy:        billing.DifferenceDistribution{Method: billing.DifferenceMethodApartment},
		Apartments:    apts,
		Participation: overrides,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrEmptyParticipants)
}

// The shortfall under participation adjustment equals the sum each percentage
// apartment gave up relative to its base share.
func TestDifferenceParticipationShortfallExact(t *testing.T) {
	apts := makeApartments(4)
	overrides := map[string]billing.ParticipationOverride{
		OverrideKey(apts[0].ID, "Apa rece"): {ApartmentID: apts[0].ID, ExpenseName: "Apa rece", Type: billing.ParticipationPercentage, Value: 25},
		OverrideKey(apts[1].ID, "Apa rece"): {ApartmentID: apts[1].ID, ExpenseName: "Apa rece", Type: billing.ParticipationPercentage, Value: 80},
	}
	residual := 200.0
	res, err := DistributeDifference(DifferenceInput{
		ExpenseName:   "Apa rece",
		Residual:      residual,
		Policy:        billing.DifferenceDistribution{Method: billing.DifferenceMethodApartment, AdjustmentMode: billing.AdjustmentParticipation},
		Apartments:    apts,
		Participation: overrides,
	})
	require.NoError(t, err)
	base := residual / 4
	wantShortfall := base*(1-0.25) + base*(1-0.80)
	assert.InDelta(t, residual-wantShortfall, res.Distributed, 0.01)
	assert.LessOrEqual(t, res.Distributed, residual)
}
