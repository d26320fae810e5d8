package v1

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/blocbill/blocbill/internal/billing"
)

type ctxKey string

const ctxKeyAssociation ctxKey = "validatedAssociation"
const ctxKeyEnsureSheet ctxKey = "validatedEnsureSheet"
const ctxKeyPostExpense ctxKey = "validatedPostExpense"
const ctxKeyPostPayment ctxKey = "validatedPostPayment"
const ctxKeyPostReading ctxKey = "validatedPostReading"
const ctxKeyPutConfig ctxKey = "validatedPutConfig"
const ctxKeyPutParticipation ctxKey = "validatedPutParticipation"

// validateAssociation requires an association_id query param on state-less
// routes and stores the parsed id in the request context.
func (s *Server) validateAssociation() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.URL.Query().Get("association_id")
			if raw == "" {
				badRequest(w, "association_id is required")
				return
			}
			id, err := uuid.Parse(raw)
			if err != nil {
				badRequest(w, "invalid association_id")
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyAssociation, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// validateEnsureSheet parses POST /sheets body.
func (s *Server) validateEnsureSheet() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req ensureSheetRequest
			dec := json.NewDecoder(r.Body)
			dec.DisallowUnknownFields()
			if err := dec.Decode(&req); err != nil {
				badRequest(w, "invalid JSON: "+err.Error())
				return
			}
			if req.AssociationID == uuid.Nil || req.MonthYear == "" {
				badRequest(w, "association_id and month_year are required")
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyEnsureSheet, req)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// validatePostExpense parses POST /expenses body and converts it into the
// domain expense the sheet service appends.
func (s *Server) validatePostExpense() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req postExpenseRequest
			dec := json.NewDecoder(r.Body)
			dec.DisallowUnknownFields()
			if err := dec.Decode(&req); err != nil {
				badRequest(w, "invalid JSON: "+err.Error())
				return
			}
			if req.AssociationID == uuid.Nil || req.ExpenseTypeID == uuid.Nil {
				badRequest(w, "association_id and expense_type_id are required")
				return
			}
			if req.Name == "" {
				badRequest(w, "name is required")
				return
			}
			if req.Amount < 0 {
				badRequest(w, "amount must not be negative")
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyPostExpense, req)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// validatePostPayment parses POST /payments body. A payment carries either a
// lump sum amount or explicit per-category values, never both.
func (s *Server) validatePostPayment() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req postPaymentRequest
			dec := json.NewDecoder(r.Body)
			dec.DisallowUnknownFields()
			if err := dec.Decode(&req); err != nil {
				badRequest(w, "invalid JSON: "+err.Error())
				return
			}
			if req.AssociationID == uuid.Nil || req.ApartmentID == uuid.Nil {
				badRequest(w, "association_id and apartment_id are required")
				return
			}
			if req.Amount != nil && (req.Restante != 0 || req.Intretinere != 0 || req.Penalitati != 0) {
				badRequest(w, "amount and per-category values are mutually exclusive")
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyPostPayment, req)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// validatePostReading parses POST /readings body.
func (s *Server) validatePostReading() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req postReadingRequest
			dec := json.NewDecoder(r.Body)
			dec.DisallowUnknownFields()
			if err := dec.Decode(&req); err != nil {
				badRequest(w, "invalid JSON: "+err.Error())
				return
			}
			if req.AssociationID == uuid.Nil || req.ExpenseTypeID == uuid.Nil || req.ApartmentID == uuid.Nil || req.IndexTypeID == uuid.Nil {
				badRequest(w, "association_id, expense_type_id, apartment_id and index_type_id are required")
				return
			}
			if req.NewIndex < 0 {
				badRequest(w, "new_index must not be negative")
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyPostReading, req)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// validatePutExpenseConfig parses PUT /expense-configs/{type} body. Draft
// semantics are validated by the expense service on commit.
func (s *Server) validatePutExpenseConfig() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req putExpenseConfigRequest
			dec := json.NewDecoder(r.Body)
			dec.DisallowUnknownFields()
			if err := dec.Decode(&req); err != nil {
				badRequest(w, "invalid JSON: "+err.Error())
				return
			}
			if req.AssociationID == uuid.Nil {
				badRequest(w, "association_id is required")
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyPutConfig, req)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// validatePutParticipation parses PUT /participation body.
func (s *Server) validatePutParticipation() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req putParticipationRequest
			dec := json.NewDecoder(r.Body)
			dec.DisallowUnknownFields()
			if err := dec.Decode(&req); err != nil {
				badRequest(w, "invalid JSON: "+err.Error())
				return
			}
			if req.AssociationID == uuid.Nil {
				badRequest(w, "association_id is required")
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyPutParticipation, req)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func toParticipationDomain(req putParticipationRequest) billing.ParticipationOverride {
	return billing.ParticipationOverride{
		ApartmentID: req.ApartmentID,
		ExpenseName: req.Expense,
		Type:        billing.ParticipationType(req.Type),
		Value:       req.Value,
	}
}
