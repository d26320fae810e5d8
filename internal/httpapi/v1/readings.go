package v1

import "net/http"

func (s *Server) postReading(w http.ResponseWriter, r *http.Request) {
	req := r.Context().Value(ctxKeyPostReading).(postReadingRequest)
	reading, err := s.sheetSvc.SubmitReading(r.Context(), req.AssociationID, req.ExpenseTypeID, req.ApartmentID, req.IndexTypeID, req.NewIndex)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusCreated, readingResponse{
		ApartmentID: reading.ApartmentID,
		IndexTypeID: reading.IndexTypeID,
		OldIndex:    reading.OldIndex,
		NewIndex:    reading.NewIndex,
		Difference:  reading.Difference(),
		SubmittedAt: reading.SubmittedAt,
	})
}
