package expense

// Package expense manages the standing per-expense-type configuration. Edits
// arrive as a whole draft and are validated once and committed atomically, so
// partially updated configurations are never observable.

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/blocbill/blocbill/internal/billing"
	"github.com/blocbill/blocbill/internal/dictionary"
	"github.com/blocbill/blocbill/internal/errs"
)

// Repo defines read operations needed by the service.
type Repo interface {
	ExpenseConfigByType(ctx context.Context, associationID, expenseTypeID uuid.UUID) (billing.ExpenseConfig, error)
	ExpenseConfigs(ctx context.Context, associationID uuid.UUID) ([]billing.ExpenseConfig, error)
}

// Writer defines write operations needed by the service.
type Writer interface {
	SaveExpenseConfig(ctx context.Context, associationID uuid.UUID, cfg billing.ExpenseConfig) (billing.ExpenseConfig, error)
	SaveParticipation(ctx context.Context, associationID uuid.UUID, p billing.ParticipationOverride) error
}

// SheetGuard answers whether an expense type already has distributed amounts
// in the working period.
type SheetGuard interface {
	ExpenseDistributed(ctx context.Context, associationID, expenseTypeID uuid.UUID) (bool, error)
}

// Service validates and commits configuration drafts and participation overrides.
type Service interface {
	Commit(ctx context.Context, associationID uuid.UUID, draft billing.ExpenseConfig) (billing.ExpenseConfig, error)
	List(ctx context.Context, associationID uuid.UUID) ([]billing.ExpenseConfig, error)
	SetParticipation(ctx context.Context, associationID uuid.UUID, p billing.ParticipationOverride) error
}

type service struct {
	repo   Repo
	writer Writer
	guard  SheetGuard
	val    *validator.Validate
}

func New(repo Repo, writer Writer, guard SheetGuard) Service {
	return &service{repo: repo, writer: writer, guard: guard, val: validator.New(validator.WithRequiredStructEnabled())}
}

func (s *service) List(ctx context.Context, associationID uuid.UUID) ([]billing.ExpenseConfig, error) {
	return s.repo.ExpenseConfigs(ctx, associationID)
}

// Commit validates the full draft, refuses reception scope changes on an
// expense already distributed this period, and replaces the stored
// configuration in one write.
func (s *service) Commit(ctx context.Context, associationID uuid.UUID, draft billing.ExpenseConfig) (billing.ExpenseConfig, error) {
	if draft.ExpenseTypeID == uuid.Nil {
		return billing.ExpenseConfig{}, fmt.Errorf("expense_type_id is required: %w", errs.ErrInvalid)
	}
	applyDefaults(&draft)
	if err := s.val.Struct(draft); err != nil {
		return billing.ExpenseConfig{}, fmt.Errorf("%s: %w", err.Error(), errs.ErrUnprocessable)
	}
	if err := validateDraft(draft); err != nil {
		return billing.ExpenseConfig{}, err
	}

	existing, err := s.repo.ExpenseConfigByType(ctx, associationID, draft.ExpenseTypeID)
	switch err {
	case nil:
		if existing.ReceptionMode != draft.ReceptionMode {
			locked, err := s.guard.ExpenseDistributed(ctx, associationID, draft.ExpenseTypeID)
			if err != nil {
				return billing.ExpenseConfig{}, err
			}
			if locked {
				return billing.ExpenseConfig{}, fmt.Errorf("expense %s already distributed this period: %w", draft.Name, errs.ErrScopeLocked)
			}
		}
	case errs.ErrNotFound:
	default:
		return billing.ExpenseConfig{}, err
	}
	return s.writer.SaveExpenseConfig(ctx, associationID, draft)
}

// SetParticipation stores one override. Integral overrides clear the stored
// entry, restoring the implicit default.
func (s *service) SetParticipation(ctx context.Context, associationID uuid.UUID, p billing.ParticipationOverride) error {
	if p.ApartmentID == uuid.Nil || p.ExpenseName == "" {
		return fmt.Errorf("apartment_id and expense are required: %w", errs.ErrInvalid)
	}
	switch p.Type {
	case billing.ParticipationIntegral, billing.ParticipationExcluded:
	case billing.ParticipationPercentage, billing.ParticipationFixed:
		if p.Value <= 0 {
			return fmt.Errorf("%s participation needs a positive value: %w", p.Type, errs.ErrUnprocessable)
		}
	default:
		return fmt.Errorf("participation type %q: %w", p.Type, errs.ErrInvalid)
	}
	return s.writer.SaveParticipation(ctx, associationID, p)
}

// applyDefaults fills the parts of a draft the UI may omit. Known catalog
// expenses fall back to their customary distribution.
func applyDefaults(cfg *billing.ExpenseConfig) {
	if cfg.DistributionType == "" {
		if def, ok := dictionary.Lookup(cfg.Name); ok {
			cfg.DistributionType = def.Distribution
			if cfg.ConsumptionUnit == "" {
				cfg.ConsumptionUnit = def.ConsumptionUnit
			}
		}
	}
	dd := &cfg.DifferenceDistribution
	if dd.Method == "" {
		dd.Method = billing.DifferenceMethodApartment
	}
	if dd.AdjustmentMode == "" {
		dd.AdjustmentMode = billing.AdjustmentNone
		dd.IncludeFixedAmountInDifference = true
	}
	if cfg.IndexConfiguration.Enabled && cfg.IndexConfiguration.InputMode == "" {
		cfg.IndexConfiguration.InputMode = billing.InputIndexes
	}
}

// validateDraft covers what struct tags cannot express.
func validateDraft(cfg billing.ExpenseConfig) error {
	if cfg.FixedAmountMode == billing.FixedPerPerson && cfg.DistributionType != billing.DistributionPerson {
		return fmt.Errorf("per-person fixed amounts need person distribution: %w", errs.ErrUnprocessable)
	}
	switch cfg.DifferenceDistribution.Method {
	case billing.DifferenceMethodApartment, billing.DifferenceMethodConsumption, billing.DifferenceMethodPerson:
	default:
		return fmt.Errorf("difference method %q: %w", cfg.DifferenceDistribution.Method, errs.ErrUnprocessable)
	}
	switch cfg.DifferenceDistribution.AdjustmentMode {
	case billing.AdjustmentNone, billing.AdjustmentParticipation, billing.AdjustmentApartmentType:
	default:
		return fmt.Errorf("adjustment mode %q: %w", cfg.DifferenceDistribution.AdjustmentMode, errs.ErrUnprocessable)
	}
	for typ, ratio := range cfg.DifferenceDistribution.ApartmentTypeRatios {
		if ratio < 0 {
			return fmt.Errorf("ratio for apartment type %q must not be negative: %w", typ, errs.ErrUnprocessable)
		}
	}
	if cfg.IndexConfiguration.Enabled {
		switch cfg.IndexConfiguration.InputMode {
		case billing.InputManual, billing.InputIndexes, billing.InputMixed:
		default:
			return fmt.Errorf("index input mode %q: %w", cfg.IndexConfiguration.InputMode, errs.ErrUnprocessable)
		}
		seen := make(map[string]struct{}, len(cfg.IndexConfiguration.IndexTypes))
		for _, it := range cfg.IndexConfiguration.IndexTypes {
			if it.Name == "" {
				return fmt.Errorf("index type name is required: %w", errs.ErrUnprocessable)
			}
			if _, ok := seen[it.Name]; ok {
				return fmt.Errorf("duplicate index type %q: %w", it.Name, errs.ErrUnprocessable)
			}
			seen[it.Name] = struct{}{}
		}
	}
	return nil
}
