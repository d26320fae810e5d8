package billing

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// DistributionType selects how an expense total is split across apartments.
type DistributionType string

const (
	// DistributionApartment divides the total equally among non-excluded apartments.
	DistributionApartment DistributionType = "apartment"
	// DistributionIndividual uses per-apartment amounts entered directly, no computed split.
	DistributionIndividual DistributionType = "individual"
	// DistributionPerson divides by aggregate person count, or applies a per-person rate.
	DistributionPerson DistributionType = "person"
	// DistributionConsumption bills each apartment its metered delta times the unit price.
	DistributionConsumption DistributionType = "consumption"
	// DistributionCotaParte splits proportionally to each apartment's undivided share.
	DistributionCotaParte DistributionType = "cotaParte"
)

// ReceptionMode scopes how an expense amount is received and distributed.
type ReceptionMode string

const (
	// ReceptionTotal receives a single amount for the whole association.
	ReceptionTotal ReceptionMode = "total"
	// ReceptionPerBlock receives one amount per block.
	ReceptionPerBlock ReceptionMode = "per_block"
	// ReceptionPerStair receives one amount per stair.
	ReceptionPerStair ReceptionMode = "per_stair"
)

// ParticipationType overrides how one apartment takes part in one expense.
type ParticipationType string

const (
	// ParticipationIntegral is the implicit default: the full computed share applies.
	ParticipationIntegral ParticipationType = "integral"
	// ParticipationPercentage scales the computed share by a percentage value.
	ParticipationPercentage ParticipationType = "percentage"
	// ParticipationFixed replaces the computed share with a literal amount.
	ParticipationFixed ParticipationType = "fixed"
	// ParticipationExcluded removes the apartment from the computation entirely.
	ParticipationExcluded ParticipationType = "excluded"
)

// FixedAmountMode qualifies a person-distributed expense entered as a rate.
type FixedAmountMode string

const (
	// FixedPerApartment treats the amount as a pool split across apartments.
	FixedPerApartment FixedAmountMode = "apartment"
	// FixedPerPerson treats the amount as a per-person rate multiplied by occupancy.
	FixedPerPerson FixedAmountMode = "person"
)

// DifferenceMethod selects the base split of a consumption residual.
type DifferenceMethod string

const (
	DifferenceMethodApartment   DifferenceMethod = "apartment"
	DifferenceMethodConsumption DifferenceMethod = "consumption"
	DifferenceMethodPerson      DifferenceMethod = "person"
)

// AdjustmentMode selects the second pass applied after the base difference split.
type AdjustmentMode string

const (
	// AdjustmentNone keeps the base split as final.
	AdjustmentNone AdjustmentMode = "none"
	// AdjustmentParticipation scales each share by the apartment's participation
	// percentage without renormalizing; the shortfall stays with the association.
	AdjustmentParticipation AdjustmentMode = "participation"
	// AdjustmentApartmentType weights shares by per-type ratios and renormalizes,
	// preserving the residual exactly.
	AdjustmentApartmentType AdjustmentMode = "apartmentType"
)

// IndexInputMode selects where metered consumption comes from.
type IndexInputMode string

const (
	// InputManual uses the manually entered consumption value.
	InputManual IndexInputMode = "manual"
	// InputIndexes derives consumption from old/new index pairs.
	InputIndexes IndexInputMode = "indexes"
	// InputMixed prefers a manual value when present, else falls back to indexes.
	InputMixed IndexInputMode = "mixed"
)

// SheetStatus is the lifecycle state of one billing period.
type SheetStatus string

const (
	SheetInProgress SheetStatus = "in_progress"
	SheetPublished  SheetStatus = "published"
	SheetArchived   SheetStatus = "archived"
)

// ReadingSource records which link of the resolution chain produced a reading.
type ReadingSource string

const (
	// SourceFinalized means the reading was attached to a distributed expense.
	SourceFinalized ReadingSource = "finalized"
	// SourcePending means the reading was submitted before the expense was distributed.
	SourcePending ReadingSource = "pending"
	// SourceCached means the reading came from the meter's last-known cache.
	SourceCached ReadingSource = "cached"
	// SourceTransferred marks an old index carried forward from the prior period.
	SourceTransferred ReadingSource = "transferred"
)

// Block is one building of the association.
type Block struct {
	ID            uuid.UUID
	AssociationID uuid.UUID
	Name          string
}

// Stair is one entrance/staircase within a block.
type Stair struct {
	ID      uuid.UUID
	BlockID uuid.UUID
	Name    string
}

// InitialBalance seeds the first sheet's opening balances for an apartment.
type InitialBalance struct {
	Restante   float64
	Penalitati float64
}

// Apartment is one billable unit. Identity is immutable; metadata is edited
// by the external apartment registry.
type Apartment struct {
	ID            uuid.UUID
	AssociationID uuid.UUID
	BlockID       uuid.UUID
	StairID       uuid.UUID
	Number        int
	Owner         string
	Persons       int
	// Surface is the apartment's area in square meters; required positive for cotaParte splits.
	Surface float64
	// CotaParte is the undivided proportional share of the building, in percent.
	CotaParte float64
	// ApartmentType keys into DifferenceDistribution.ApartmentTypeRatios.
	ApartmentType  string
	InitialBalance *InitialBalance
}

// ExpenseType is a configured kind of recurring expense.
type ExpenseType struct {
	ID                  uuid.UUID
	Name                string
	Custom              bool
	DefaultDistribution DistributionType
}

// IndexType identifies one meter per expense (e.g. cold water, hot water).
type IndexType struct {
	ID   uuid.UUID
	Name string
	Unit string
}

// IndexConfiguration enables meter-based consumption for an expense.
type IndexConfiguration struct {
	Enabled    bool
	InputMode  IndexInputMode
	IndexTypes []IndexType
}

// DifferenceDistribution is the policy for spreading a consumption residual.
type DifferenceDistribution struct {
	Method         DifferenceMethod
	AdjustmentMode AdjustmentMode
	// ApartmentTypeRatios maps an apartment type to its percent ratio; missing
	// types default to 100.
	ApartmentTypeRatios            map[string]float64
	IncludeFixedAmountInDifference bool
	IncludeExcludedInDifference    bool
}

// AppliesTo narrows an expense to a subset of blocks or stairs.
type AppliesTo struct {
	Blocks []uuid.UUID
	Stairs []uuid.UUID
}

// ExpenseConfig is the association's standing configuration for one expense type.
// It is snapshotted into each sheet so historical recomputation is reproducible.
type ExpenseConfig struct {
	ExpenseTypeID          uuid.UUID
	Name                   string           `validate:"required"`
	DistributionType       DistributionType `validate:"required,oneof=apartment individual person consumption cotaParte"`
	ReceptionMode          ReceptionMode    `validate:"required,oneof=total per_block per_stair"`
	AppliesTo              AppliesTo
	ConsumptionUnit        string
	FixedAmountMode        FixedAmountMode
	IndexConfiguration     IndexConfiguration
	DifferenceDistribution DifferenceDistribution
}

// ParticipationOverride adjusts one apartment's share of one expense.
// Absence means integral participation.
type ParticipationOverride struct {
	ApartmentID uuid.UUID
	ExpenseName string
	Type        ParticipationType
	// Value is the percentage for percentage overrides and the literal amount
	// for fixed overrides; unused otherwise.
	Value float64
}

// MeterReading is one old/new index pair for an (apartment, meter) pair.
type MeterReading struct {
	ApartmentID uuid.UUID
	IndexTypeID uuid.UUID
	OldIndex    float64
	NewIndex    float64
	Source      ReadingSource
	SubmittedAt time.Time
}

// Difference returns the metered consumption derived from the pair.
func (r MeterReading) Difference() float64 { return r.NewIndex - r.OldIndex }

// Expense is one expense instance on a sheet, carrying the entered amounts and
// meter data for the period.
type Expense struct {
	ID               uuid.UUID
	ExpenseTypeID    uuid.UUID
	Name             string
	DistributionType DistributionType
	// Amount is the invoiced total when ReceptionMode is total.
	Amount float64
	// PerReceptionAmounts holds one amount per block or stair for scoped reception.
	PerReceptionAmounts map[uuid.UUID]float64
	// IndividualAmounts holds directly entered per-apartment amounts.
	IndividualAmounts map[uuid.UUID]float64
	// Consumption holds manually entered consumption per apartment.
	Consumption map[uuid.UUID]float64
	// Readings holds finalized index pairs per apartment for this period.
	Readings map[uuid.UUID][]MeterReading
	// EnteredDifference is a manually declared residual deducted before pricing.
	EnteredDifference float64
	// UnitPrice is the consumption price when the amount is received as a
	// single total; scoped receptions record one price per group instead.
	UnitPrice              float64
	PerReceptionUnitPrices map[uuid.UUID]float64
	// Shares holds the final per-apartment amounts once distributed,
	// difference included.
	Shares map[uuid.UUID]float64
	// UnassignedDifference reports residual the difference policy could not
	// place (zero weights); it is surfaced, never silently dropped.
	UnassignedDifference float64
	DistributedAt        *time.Time
}

// Distributed reports whether this expense has been distributed in the period.
func (e Expense) Distributed() bool { return e.DistributedAt != nil }

// ExpenseDetail is one expense's contribution to a maintenance row.
type ExpenseDetail struct {
	Amount           float64
	Name             string
	DistributionType DistributionType
}

// MaintenanceRow is one apartment's computed dues for a sheet. Rows freeze at
// publish; only TotalPaid accumulates afterwards.
type MaintenanceRow struct {
	ApartmentID        uuid.UUID
	Restante           float64
	CurrentMaintenance float64
	Penalitati         float64
	TotalDatorat       float64
	ExpenseDetails     map[uuid.UUID]ExpenseDetail
	TotalPaid          float64
}

// Remaining returns the unpaid amount on the row in cents precision, never
// negative. Rounding keeps float drift from leaving a settled row a fraction
// of a cent short.
func (m MaintenanceRow) Remaining() float64 {
	if rem := math.Round((m.TotalDatorat-m.TotalPaid)*100) / 100; rem > 0 {
		return rem
	}
	return 0
}

// Payment is an append-only record of a receipt against one apartment.
// Total always equals Restante + Intretinere + Penalitati.
type Payment struct {
	ID          uuid.UUID
	ApartmentID uuid.UUID
	Restante    float64
	Intretinere float64
	Penalitati  float64
	Total       float64
	Timestamp   time.Time
	Month       string
}

// PendingReading is a reading submitted before its expense is distributed.
type PendingReading struct {
	ExpenseTypeID uuid.UUID
	Reading       MeterReading
}

// ConfigSnapshot freezes configuration state into a sheet at publish time.
type ConfigSnapshot struct {
	ExpenseConfigs []ExpenseConfig
	Participation  []ParticipationOverride
	// PendingReadings buffer submissions for not-yet-distributed expenses.
	PendingReadings []PendingReading
	// LastKnownIndexes caches the last resolved index per (apartment, meter).
	LastKnownIndexes map[uuid.UUID]map[uuid.UUID]float64
	TakenAt          time.Time
}

// OpeningBalance is an apartment's carried-forward debt at sheet creation.
type OpeningBalance struct {
	Restante   float64
	Penalitati float64
}

// Sheet is one billing period's ledger document. Exactly one in_progress and
// at most one published sheet exist per association at any time.
type Sheet struct {
	ID            uuid.UUID
	AssociationID uuid.UUID
	// MonthYear is the period in "YYYY-MM" form.
	MonthYear        string
	Status           SheetStatus
	Expenses         []Expense
	MaintenanceTable []MaintenanceRow
	Payments         []Payment
	// OpeningBalances seed each apartment's restante/penalitati for the period.
	OpeningBalances map[uuid.UUID]OpeningBalance
	ConfigSnapshot  ConfigSnapshot
	PublishedAt     *time.Time
	ArchivedAt      *time.Time
}

// Row returns the maintenance row for an apartment, if present.
func (s *Sheet) Row(apartmentID uuid.UUID) (MaintenanceRow, bool) {
	for _, r := range s.MaintenanceTable {
		if r.ApartmentID == apartmentID {
			return r, true
		}
	}
	return MaintenanceRow{}, false
}

// Expense returns the expense with the given ID, if present.
func (s *Sheet) Expense(expenseID uuid.UUID) (Expense, bool) {
	for _, e := range s.Expenses {
		if e.ID == expenseID {
			return e, true
		}
	}
	return Expense{}, false
}

// PaymentsFor returns payments recorded against one apartment on this sheet.
func (s *Sheet) PaymentsFor(apartmentID uuid.UUID) []Payment {
	out := make([]Payment, 0)
	for _, p := range s.Payments {
		if p.ApartmentID == apartmentID {
			out = append(out, p)
		}
	}
	return out
}

// NextMonthYear returns the period following my, e.g. "2025-12" -> "2026-01".
func NextMonthYear(my string) string {
	t, err := time.Parse("2006-01", my)
	if err != nil {
		return my
	}
	return t.AddDate(0, 1, 0).Format("2006-01")
}
