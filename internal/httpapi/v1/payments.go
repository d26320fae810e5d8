package v1

import (
	"net/http"

	"github.com/blocbill/blocbill/internal/service/payment"
)

func (s *Server) postPayment(w http.ResponseWriter, r *http.Request) {
	req := r.Context().Value(ctxKeyPostPayment).(postPaymentRequest)
	var (
		res payment.Result
		err error
	)
	if req.Amount != nil {
		res, err = s.paySvc.RecordLump(r.Context(), req.AssociationID, req.ApartmentID, *req.Amount)
	} else {
		res, err = s.paySvc.Record(r.Context(), req.AssociationID, req.ApartmentID, payment.CategoryAmounts{
			Restante:    req.Restante,
			Intretinere: req.Intretinere,
			Penalitati:  req.Penalitati,
		})
	}
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusCreated, toPaymentResponse(res))
}
