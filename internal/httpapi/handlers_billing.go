package httpapi

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/heymatch/heymatch-api/internal/apperr"
	"github.com/heymatch/heymatch-api/internal/auth"
	"github.com/heymatch/heymatch-api/internal/billing"
)

type orderReq struct {
	Days   int    `json:"days"`
	Method string `json:"method"`
}

func (s *Server) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req orderReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := s.Billing.CreateOrder(r.Context(), auth.UserID(r.Context()), req.Days, req.Method)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.Billing.GetOrder(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.Billing.ListOrders(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if orders == nil {
		orders = []billing.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// maxWebhookBody caps provider notification payloads.
const maxWebhookBody = 64 << 10

// PaymentWebhook settles an order from a provider-signed notification. The
// signature rides the X-Signature header over the raw body.
func (s *Server) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	method := chi.URLParam(r, "method")
	signature := r.Header.Get("X-Signature")
	if signature == "" {
		writeError(w, r, apperr.New(apperr.KindPaymentVerifyFailed, "missing signature"))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, r, apperr.Invalid("unreadable body"))
		return
	}

	o, err := s.Billing.ConfirmPayment(r.Context(), method, payload, signature)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order_id": o.ID, "status": o.Status})
}
