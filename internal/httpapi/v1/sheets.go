package v1

import (
	"net/http"

	"github.com/google/uuid"
)

func (s *Server) ensureSheet(w http.ResponseWriter, r *http.Request) {
	req := r.Context().Value(ctxKeyEnsureSheet).(ensureSheetRequest)
	sh, err := s.sheetSvc.EnsureWorkingSheet(r.Context(), req.AssociationID, req.MonthYear)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, toSheetResponse(sh))
}

func (s *Server) getCurrentSheet(w http.ResponseWriter, r *http.Request) {
	assocID := r.Context().Value(ctxKeyAssociation).(uuid.UUID)
	sh, err := s.sheetSvc.Current(r.Context(), assocID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, toSheetResponse(sh))
}

func (s *Server) getPublishedSheet(w http.ResponseWriter, r *http.Request) {
	assocID := r.Context().Value(ctxKeyAssociation).(uuid.UUID)
	sh, err := s.sheetSvc.Published(r.Context(), assocID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, toSheetResponse(sh))
}

func (s *Server) getPublishedStats(w http.ResponseWriter, r *http.Request) {
	assocID := r.Context().Value(ctxKeyAssociation).(uuid.UUID)
	st, err := s.sheetSvc.Stats(r.Context(), assocID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, toStatsResponse(st))
}

// publishSheet freezes the working sheet and opens the next period. The
// response carries both documents.
func (s *Server) publishSheet(w http.ResponseWriter, r *http.Request) {
	assocID := r.Context().Value(ctxKeyAssociation).(uuid.UUID)
	published, next, err := s.sheetSvc.Publish(r.Context(), assocID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	resp := struct {
		Published sheetResponse `json:"published"`
		Next      sheetResponse `json:"next"`
	}{toSheetResponse(published), toSheetResponse(next)}
	toJSON(w, http.StatusOK, resp)
}

func (s *Server) unpublishSheet(w http.ResponseWriter, r *http.Request) {
	assocID := r.Context().Value(ctxKeyAssociation).(uuid.UUID)
	sh, err := s.sheetSvc.Unpublish(r.Context(), assocID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, toSheetResponse(sh))
}
