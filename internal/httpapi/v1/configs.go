package v1

import (
	"net/http"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func (s *Server) listExpenseConfigs(w http.ResponseWriter, r *http.Request) {
	assocID := r.Context().Value(ctxKeyAssociation).(uuid.UUID)
	cfgs, err := s.cfgSvc.List(r.Context(), assocID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, cfgs)
}

func (s *Server) putExpenseConfig(w http.ResponseWriter, r *http.Request) {
	req := r.Context().Value(ctxKeyPutConfig).(putExpenseConfigRequest)
	typeID, err := uuid.Parse(chi.URLParam(r, "type"))
	if err != nil {
		badRequest(w, "invalid expense type id")
		return
	}
	cfg, err := s.cfgSvc.Commit(r.Context(), req.AssociationID, toConfigDomain(typeID, req))
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, cfg)
}

func (s *Server) putParticipation(w http.ResponseWriter, r *http.Request) {
	req := r.Context().Value(ctxKeyPutParticipation).(putParticipationRequest)
	if err := s.cfgSvc.SetParticipation(r.Context(), req.AssociationID, toParticipationDomain(req)); err != nil {
		writeDomainErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
