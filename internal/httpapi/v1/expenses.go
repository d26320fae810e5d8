package v1

import (
	"net/http"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func (s *Server) postExpense(w http.ResponseWriter, r *http.Request) {
	req := r.Context().Value(ctxKeyPostExpense).(postExpenseRequest)
	sh, err := s.sheetSvc.AddExpense(r.Context(), req.AssociationID, toExpenseDomain(req))
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusCreated, toSheetResponse(sh))
}

func (s *Server) distributeExpense(w http.ResponseWriter, r *http.Request) {
	assocID := r.Context().Value(ctxKeyAssociation).(uuid.UUID)
	expenseID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid expense id")
		return
	}
	sh, err := s.sheetSvc.DistributeExpense(r.Context(), assocID, expenseID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, toSheetResponse(sh))
}
