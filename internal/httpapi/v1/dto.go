package v1

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/blocbill/blocbill/internal/billing"
	"github.com/blocbill/blocbill/internal/service/payment"
	"github.com/blocbill/blocbill/internal/service/sheet"
)

// currency is the single settlement currency of the service.
const currency = "RON"

type ensureSheetRequest struct {
	AssociationID uuid.UUID `json:"association_id"`
	MonthYear     string    `json:"month_year"`
}

type postExpenseRequest struct {
	AssociationID       uuid.UUID             `json:"association_id"`
	ExpenseTypeID       uuid.UUID             `json:"expense_type_id"`
	Name                string                `json:"name"`
	Amount              float64               `json:"amount"`
	PerReceptionAmounts map[uuid.UUID]float64 `json:"per_reception_amounts,omitempty"`
	IndividualAmounts   map[uuid.UUID]float64 `json:"individual_amounts,omitempty"`
	Consumption         map[uuid.UUID]float64 `json:"consumption,omitempty"`
	EnteredDifference   float64               `json:"entered_difference,omitempty"`
}

type postPaymentRequest struct {
	AssociationID uuid.UUID `json:"association_id"`
	ApartmentID   uuid.UUID `json:"apartment_id"`
	// Amount is the lump sum; the allocator splits it across categories.
	// Omit it to pass explicit per-category amounts instead.
	Amount      *float64 `json:"amount,omitempty"`
	Restante    float64  `json:"restante,omitempty"`
	Intretinere float64  `json:"intretinere,omitempty"`
	Penalitati  float64  `json:"penalitati,omitempty"`
}

type postReadingRequest struct {
	AssociationID uuid.UUID `json:"association_id"`
	ExpenseTypeID uuid.UUID `json:"expense_type_id"`
	ApartmentID   uuid.UUID `json:"apartment_id"`
	IndexTypeID   uuid.UUID `json:"index_type_id"`
	NewIndex      float64   `json:"new_index"`
}

type putParticipationRequest struct {
	AssociationID uuid.UUID `json:"association_id"`
	ApartmentID   uuid.UUID `json:"apartment_id"`
	Expense       string    `json:"expense"`
	Type          string    `json:"type"`
	Value         float64   `json:"value,omitempty"`
}

type putExpenseConfigRequest struct {
	AssociationID          uuid.UUID                 `json:"association_id"`
	Name                   string                    `json:"name"`
	DistributionType       string                    `json:"distribution_type"`
	ReceptionMode          string                    `json:"reception_mode"`
	AppliesTo              appliesToDTO              `json:"applies_to,omitempty"`
	ConsumptionUnit        string                    `json:"consumption_unit,omitempty"`
	FixedAmountMode        string                    `json:"fixed_amount_mode,omitempty"`
	IndexConfiguration     indexConfigurationDTO     `json:"index_configuration,omitempty"`
	DifferenceDistribution differenceDistributionDTO `json:"difference_distribution,omitempty"`
}

type appliesToDTO struct {
	Blocks []uuid.UUID `json:"blocks,omitempty"`
	Stairs []uuid.UUID `json:"stairs,omitempty"`
}

type indexConfigurationDTO struct {
	Enabled    bool           `json:"enabled,omitempty"`
	InputMode  string         `json:"input_mode,omitempty"`
	IndexTypes []indexTypeDTO `json:"index_types,omitempty"`
}

type indexTypeDTO struct {
	ID   uuid.UUID `json:"id,omitempty"`
	Name string    `json:"name"`
}

type differenceDistributionDTO struct {
	Method                         string             `json:"method,omitempty"`
	AdjustmentMode                 string             `json:"adjustment_mode,omitempty"`
	ApartmentTypeRatios            map[string]float64 `json:"apartment_type_ratios,omitempty"`
	IncludeFixedAmountInDifference *bool              `json:"include_fixed_amount_in_difference,omitempty"`
	IncludeExcludedInDifference    *bool              `json:"include_excluded_in_difference,omitempty"`
}

type sheetResponse struct {
	ID          uuid.UUID           `json:"id"`
	MonthYear   string              `json:"month_year"`
	Status      string              `json:"status"`
	Rows        []maintenanceRowDTO `json:"rows"`
	Expenses    []expenseResponse   `json:"expenses"`
	TotalDue    float64             `json:"total_due"`
	TotalPaid   float64             `json:"total_paid"`
	PublishedAt *time.Time          `json:"published_at,omitempty"`
}

type maintenanceRowDTO struct {
	ApartmentID        uuid.UUID `json:"apartment_id"`
	Restante           float64   `json:"restante"`
	CurrentMaintenance float64   `json:"intretinere"`
	Penalitati         float64   `json:"penalitati"`
	TotalDatorat       float64   `json:"total_datorat"`
	TotalPaid          float64   `json:"total_paid"`
}

type expenseResponse struct {
	ID                   uuid.UUID             `json:"id"`
	Name                 string                `json:"name"`
	DistributionType     string                `json:"distribution_type"`
	Amount               float64               `json:"amount"`
	UnitPrice            float64               `json:"unit_price,omitempty"`
	GroupUnitPrices      map[uuid.UUID]float64 `json:"group_unit_prices,omitempty"`
	Distributed          bool                  `json:"distributed"`
	Shares               map[uuid.UUID]float64 `json:"shares,omitempty"`
	UnassignedDifference float64               `json:"unassigned_difference,omitempty"`
}

type paymentResponse struct {
	ID            uuid.UUID          `json:"id"`
	ApartmentID   uuid.UUID          `json:"apartment_id"`
	Restante      float64            `json:"restante"`
	Intretinere   float64            `json:"intretinere"`
	Penalitati    float64            `json:"penalitati"`
	Total         float64            `json:"total"`
	TotalMinor    int64              `json:"total_minor"`
	TotalAmount   string             `json:"total_amount"`
	Month         string             `json:"month"`
	Timestamp     time.Time          `json:"timestamp"`
	Overpayment   float64            `json:"overpayment,omitempty"`
	ReceiptIssued bool               `json:"receipt_issued"`
	Remaining     categoryAmountsDTO `json:"remaining"`
}

type categoryAmountsDTO struct {
	Restante    float64 `json:"restante"`
	Intretinere float64 `json:"intretinere"`
	Penalitati  float64 `json:"penalitati"`
}

type readingResponse struct {
	ApartmentID uuid.UUID `json:"apartment_id"`
	IndexTypeID uuid.UUID `json:"index_type_id"`
	OldIndex    float64   `json:"old_index"`
	NewIndex    float64   `json:"new_index"`
	Difference  float64   `json:"difference"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type statsResponse struct {
	MonthYear      string  `json:"month_year"`
	TotalDue       float64 `json:"total_due"`
	TotalPaid      float64 `json:"total_paid"`
	CollectionRate float64 `json:"collection_rate"`
	ApartmentsPaid int     `json:"apartments_paid"`
	ApartmentCount int     `json:"apartment_count"`
}

func toSheetResponse(sh billing.Sheet) sheetResponse {
	resp := sheetResponse{
		ID:          sh.ID,
		MonthYear:   sh.MonthYear,
		Status:      string(sh.Status),
		PublishedAt: sh.PublishedAt,
		Rows:        make([]maintenanceRowDTO, 0, len(sh.MaintenanceTable)),
		Expenses:    make([]expenseResponse, 0, len(sh.Expenses)),
	}
	for _, row := range sh.MaintenanceTable {
		resp.Rows = append(resp.Rows, maintenanceRowDTO{
			ApartmentID:        row.ApartmentID,
			Restante:           row.Restante,
			CurrentMaintenance: row.CurrentMaintenance,
			Penalitati:         row.Penalitati,
			TotalDatorat:       row.TotalDatorat,
			TotalPaid:          row.TotalPaid,
		})
		resp.TotalDue += row.TotalDatorat
		resp.TotalPaid += row.TotalPaid
	}
	for _, e := range sh.Expenses {
		resp.Expenses = append(resp.Expenses, expenseResponse{
			ID:                   e.ID,
			Name:                 e.Name,
			DistributionType:     string(e.DistributionType),
			Amount:               e.Amount,
			UnitPrice:            e.UnitPrice,
			GroupUnitPrices:      e.PerReceptionUnitPrices,
			Distributed:          e.Distributed(),
			Shares:               e.Shares,
			UnassignedDifference: e.UnassignedDifference,
		})
	}
	return resp
}

func toPaymentResponse(res payment.Result) paymentResponse {
	p := res.Payment
	minor := int64(math.Round(p.Total * 100))
	amt, _ := money.NewAmountFromMinorUnits(currency, minor)
	return paymentResponse{
		ID:            p.ID,
		ApartmentID:   p.ApartmentID,
		Restante:      p.Restante,
		Intretinere:   p.Intretinere,
		Penalitati:    p.Penalitati,
		Total:         p.Total,
		TotalMinor:    minor,
		TotalAmount:   amt.String(),
		Month:         p.Month,
		Timestamp:     p.Timestamp,
		Overpayment:   res.Overpayment,
		ReceiptIssued: res.ReceiptIssued,
		Remaining: categoryAmountsDTO{
			Restante:    res.Remaining.Restante,
			Intretinere: res.Remaining.Intretinere,
			Penalitati:  res.Remaining.Penalitati,
		},
	}
}

func toStatsResponse(st sheet.Stats) statsResponse {
	return statsResponse{
		MonthYear:      st.MonthYear,
		TotalDue:       st.TotalDue,
		TotalPaid:      st.TotalPaid,
		CollectionRate: st.CollectionRate,
		ApartmentsPaid: st.ApartmentsPaid,
		ApartmentCount: st.ApartmentCount,
	}
}

func toConfigDomain(typeID uuid.UUID, req putExpenseConfigRequest) billing.ExpenseConfig {
	cfg := billing.ExpenseConfig{
		ExpenseTypeID:    typeID,
		Name:             req.Name,
		DistributionType: billing.DistributionType(req.DistributionType),
		ReceptionMode:    billing.ReceptionMode(req.ReceptionMode),
		AppliesTo: billing.AppliesTo{
			Blocks: req.AppliesTo.Blocks,
			Stairs: req.AppliesTo.Stairs,
		},
		ConsumptionUnit: req.ConsumptionUnit,
		FixedAmountMode: billing.FixedAmountMode(req.FixedAmountMode),
	}
	ic := req.IndexConfiguration
	cfg.IndexConfiguration = billing.IndexConfiguration{
		Enabled:   ic.Enabled,
		InputMode: billing.IndexInputMode(ic.InputMode),
	}
	for _, it := range ic.IndexTypes {
		id := it.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		cfg.IndexConfiguration.IndexTypes = append(cfg.IndexConfiguration.IndexTypes, billing.IndexType{ID: id, Name: it.Name})
	}
	dd := req.DifferenceDistribution
	cfg.DifferenceDistribution = billing.DifferenceDistribution{
		Method:              billing.DifferenceMethod(dd.Method),
		AdjustmentMode:      billing.AdjustmentMode(dd.AdjustmentMode),
		ApartmentTypeRatios: dd.ApartmentTypeRatios,
	}
	if dd.IncludeFixedAmountInDifference != nil {
		cfg.DifferenceDistribution.IncludeFixedAmountInDifference = *dd.IncludeFixedAmountInDifference
	} else if dd.AdjustmentMode != "" {
		cfg.DifferenceDistribution.IncludeFixedAmountInDifference = true
	}
	if dd.IncludeExcludedInDifference != nil {
		cfg.DifferenceDistribution.IncludeExcludedInDifference = *dd.IncludeExcludedInDifference
	}
	return cfg
}

func toExpenseDomain(req postExpenseRequest) billing.Expense {
	return billing.Expense{
		ExpenseTypeID:       req.ExpenseTypeID,
		Name:                req.Name,
		Amount:              req.Amount,
		PerReceptionAmounts: req.PerReceptionAmounts,
		IndividualAmounts:   req.IndividualAmounts,
		Consumption:         req.Consumption,
		EnteredDifference:   req.EnteredDifference,
	}
}
