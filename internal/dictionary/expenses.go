package dictionary

import (
	"github.com/blocbill/blocbill/internal/billing"
	"github.com/blocbill/blocbill/internal/slug"
)

// ExpenseDef describes one standard expense type and its customary split.
type ExpenseDef struct {
	Name            string                   `json:"name"`
	Distribution    billing.DistributionType `json:"distribution"`
	ConsumptionUnit string                   `json:"consumption_unit,omitempty"`
	Metered         bool                     `json:"metered,omitempty"`
}

// curated lists the expense types a Romanian residential association
// customarily bills, with the distribution each is normally split by.
var curated = []ExpenseDef{
	{Name: "Apa rece", Distribution: billing.DistributionConsumption, ConsumptionUnit: "mc", Metered: true},
	{Name: "Apa calda", Distribution: billing.DistributionConsumption, ConsumptionUnit: "mc", Metered: true},
	{Name: "Incalzire", Distribution: billing.DistributionConsumption, ConsumptionUnit: "gcal", Metered: true},
	{Name: "Gunoi", Distribution: billing.DistributionPerson},
	{Name: "Salubrizare", Distribution: billing.DistributionPerson},
	{Name: "Lift", Distribution: billing.DistributionPerson},
	{Name: "Curatenie", Distribution: billing.DistributionApartment},
	{Name: "Iluminat scara", Distribution: billing.DistributionApartment},
	{Name: "Administrare", Distribution: billing.DistributionApartment},
	{Name: "Fond rulment", Distribution: billing.DistributionCotaParte},
	{Name: "Fond reparatii", Distribution: billing.DistributionCotaParte},
}

// Standard returns the curated catalog.
func Standard() []ExpenseDef {
	out := make([]ExpenseDef, len(curated))
	copy(out, curated)
	return out
}

// Lookup returns the full catalog entry for a known expense name.
// Matching is by slug, so hand-entered spellings of a catalog name still match.
func Lookup(name string) (ExpenseDef, bool) {
	key := slug.Slugify(name)
	for _, d := range curated {
		if slug.Slugify(d.Name) == key {
			return d, true
		}
	}
	return ExpenseDef{}, false
}
