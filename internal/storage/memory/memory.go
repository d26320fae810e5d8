package memory

// Package memory provides a simple in-memory implementation used for development and tests.
// It keeps code paths easy to follow while allowing us to plug in a real DB later.
import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/blocbill/blocbill/internal/billing"
	"github.com/blocbill/blocbill/internal/errs"
	"github.com/blocbill/blocbill/internal/slug"
)

// Store is an in-memory implementation of the repository+writer interfaces
// used by the services and the API. It is guarded by an RWMutex; sheet writes
// replace the whole document, matching the persistence contract.
type Store struct {
	mu           sync.RWMutex
	blocks       map[uuid.UUID]billing.Block
	stairs       map[uuid.UUID]billing.Stair
	apartments   map[uuid.UUID]billing.Apartment
	expenseTypes map[uuid.UUID]billing.ExpenseType
	sheets       map[uuid.UUID]billing.Sheet
	// Per association: expense type id -> standing configuration
	configs map[uuid.UUID]map[uuid.UUID]billing.ExpenseConfig
	// Per association: (apartment|expense) key -> participation override
	participation map[uuid.UUID]map[string]billing.ParticipationOverride
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{
		blocks:        make(map[uuid.UUID]billing.Block),
		stairs:        make(map[uuid.UUID]billing.Stair),
		apartments:    make(map[uuid.UUID]billing.Apartment),
		expenseTypes:  make(map[uuid.UUID]billing.ExpenseType),
		sheets:        make(map[uuid.UUID]billing.Sheet),
		configs:       make(map[uuid.UUID]map[uuid.UUID]billing.ExpenseConfig),
		participation: make(map[uuid.UUID]map[string]billing.ParticipationOverride),
	}
}

// Seed helpers for local dev/tests.
func (s *Store) SeedBlock(b billing.Block)  { s.mu.Lock(); s.blocks[b.ID] = b; s.mu.Unlock() }
func (s *Store) SeedStair(st billing.Stair) { s.mu.Lock(); s.stairs[st.ID] = st; s.mu.Unlock() }
func (s *Store) SeedApartment(a billing.Apartment) {
	s.mu.Lock()
	s.apartments[a.ID] = a
	s.mu.Unlock()
}
func (s *Store) SeedExpenseType(t billing.ExpenseType) {
	s.mu.Lock()
	s.expenseTypes[t.ID] = t
	s.mu.Unlock()
}
func (s *Store) Reset() {
	s.mu.Lock()
	s.blocks = map[uuid.UUID]billing.Block{}
	s.stairs = map[uuid.UUID]billing.Stair{}
	s.apartments = map[uuid.UUID]billing.Apartment{}
	s.expenseTypes = map[uuid.UUID]billing.ExpenseType{}
	s.sheets = map[uuid.UUID]billing.Sheet{}
	s.configs = map[uuid.UUID]map[uuid.UUID]billing.ExpenseConfig{}
	s.participation = map[uuid.UUID]map[string]billing.ParticipationOverride{}
	s.mu.Unlock()
}

// SheetByStatus implements sheet.Repo. Status uniqueness is an invariant of
// the lifecycle service, so the first match is the match.
func (s *Store) SheetByStatus(_ context.Context, associationID uuid.UUID, status billing.SheetStatus) (billing.Sheet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sh := range s.sheets {
		if sh.AssociationID == associationID && sh.Status == status {
			return sh, nil
		}
	}
	return billing.Sheet{}, errs.ErrNotFound
}

// SheetByID returns one sheet by its ID.
func (s *Store) SheetByID(_ context.Context, sheetID uuid.UUID) (billing.Sheet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, ok := s.sheets[sheetID]
	if !ok {
		return billing.Sheet{}, errs.ErrNotFound
	}
	return sh, nil
}

// SheetsByAssociation returns all sheets for an association, newest period first.
func (s *Store) SheetsByAssociation(_ context.Context, associationID uuid.UUID) ([]billing.Sheet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]billing.Sheet, 0)
	for _, sh := range s.sheets {
		if sh.AssociationID == associationID {
			out = append(out, sh)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MonthYear > out[j].MonthYear })
	return out, nil
}

// SaveSheet implements sheet.Writer with whole-document replace semantics.
func (s *Store) SaveSheet(_ context.Context, sh billing.Sheet) (billing.Sheet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sheets[sh.ID] = sh
	return sh, nil
}

// SaveSheets replaces all given sheets under one lock acquisition.
func (s *Store) SaveSheets(_ context.Context, sheets ...billing.Sheet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sh := range sheets {
		s.sheets[sh.ID] = sh
	}
	return nil
}

// ReplaceSheet deletes one sheet and saves another under a single lock
// acquisition, so no reader sees the intermediate state.
func (s *Store) ReplaceSheet(_ context.Context, dropID uuid.UUID, sh billing.Sheet) (billing.Sheet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sheets[dropID]; !ok {
		return billing.Sheet{}, errs.ErrNotFound
	}
	delete(s.sheets, dropID)
	s.sheets[sh.ID] = sh
	return sh, nil
}

// DeleteSheet removes a sheet document.
func (s *Store) DeleteSheet(_ context.Context, sheetID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sheets[sheetID]; !ok {
		return errs.ErrNotFound
	}
	delete(s.sheets, sheetID)
	return nil
}

// Apartments returns the association's apartments ordered by number.
func (s *Store) Apartments(_ context.Context, associationID uuid.UUID) ([]billing.Apartment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]billing.Apartment, 0)
	for _, a := range s.apartments {
		if a.AssociationID == associationID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// ApartmentByID returns one apartment.
func (s *Store) ApartmentByID(_ context.Context, apartmentID uuid.UUID) (billing.Apartment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.apartments[apartmentID]
	if !ok {
		return billing.Apartment{}, errs.ErrNotFound
	}
	return a, nil
}

// Blocks returns the association's blocks.
func (s *Store) Blocks(_ context.Context, associationID uuid.UUID) ([]billing.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]billing.Block, 0)
	for _, b := range s.blocks {
		if b.AssociationID == associationID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ExpenseConfigs implements sheet.Repo.
func (s *Store) ExpenseConfigs(_ context.Context, associationID uuid.UUID) ([]billing.ExpenseConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byType := s.configs[associationID]
	out := make([]billing.ExpenseConfig, 0, len(byType))
	for _, c := range byType {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ExpenseConfigByType returns one standing configuration.
func (s *Store) ExpenseConfigByType(_ context.Context, associationID, expenseTypeID uuid.UUID) (billing.ExpenseConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.configs[associationID][expenseTypeID]
	if !ok {
		return billing.ExpenseConfig{}, errs.ErrNotFound
	}
	return c, nil
}

// SaveExpenseConfig replaces the standing configuration for an expense type.
func (s *Store) SaveExpenseConfig(_ context.Context, associationID uuid.UUID, cfg billing.ExpenseConfig) (billing.ExpenseConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byType, ok := s.configs[associationID]
	if !ok {
		byType = make(map[uuid.UUID]billing.ExpenseConfig)
		s.configs[associationID] = byType
	}
	byType[cfg.ExpenseTypeID] = cfg
	return cfg, nil
}

// Participation implements sheet.Repo.
func (s *Store) Participation(_ context.Context, associationID uuid.UUID) ([]billing.ParticipationOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byKey := s.participation[associationID]
	out := make([]billing.ParticipationOverride, 0, len(byKey))
	for _, p := range byKey {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpenseName != out[j].ExpenseName {
			return out[i].ExpenseName < out[j].ExpenseName
		}
		return out[i].ApartmentID.String() < out[j].ApartmentID.String()
	})
	return out, nil
}

// SaveParticipation replaces one override; an integral override clears it.
func (s *Store) SaveParticipation(_ context.Context, associationID uuid.UUID, p billing.ParticipationOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKey, ok := s.participation[associationID]
	if !ok {
		byKey = make(map[string]billing.ParticipationOverride)
		s.participation[associationID] = byKey
	}
	key := p.ApartmentID.String() + "|" + slug.Slugify(p.ExpenseName)
	if p.Type == billing.ParticipationIntegral {
		delete(byKey, key)
		return nil
	}
	byKey[key] = p
	return nil
}
