package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/saga"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Sagas is the orchestrator surface the HTTP layer needs.
type Sagas interface {
	StartOrderSaga(ctx context.Context, req saga.StartRequest, token string) (saga.StartResult, error)
	CancelOrderSaga(ctx context.Context, id, token string) (saga.Status, error)
	SagaStatus(ctx context.Context, id, token string) (saga.StatusView, error)
	History(ctx context.Context, id, token string) ([]saga.Transition, error)
}

const maxBodyBytes = 1 << 20

type OrdersHandler struct {
	Sagas  Sagas
	Logger zerolog.Logger
}

type CancelOrderResp struct {
	TransactionID string      `json:"transaction_id"`
	Status        saga.Status `json:"status"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Get("/orders/{id}/history", h.getHistory)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// bearerToken accepts "Bearer <token>" or a bare token.
func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return h
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
		return
	}

	var req saga.StartRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Sagas.StartOrderSaga(ctx, req, token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/orders/"+res.TransactionID)
	writeJSON(w, http.StatusAccepted, res)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	view, err := h.Sagas.SagaStatus(ctx, id, bearerToken(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status, err := h.Sagas.CancelOrderSaga(ctx, id, bearerToken(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, CancelOrderResp{TransactionID: id, Status: status})
}

func (h *OrdersHandler) getHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ts, err := h.Sagas.History(ctx, id, bearerToken(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

func (h *OrdersHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		authErr  *saga.AuthenticationError
		valErr   *saga.ValidationError
		pubErr   *saga.ChannelPublishError
		storeErr *saga.StoreError
	)
	code := http.StatusBadGateway
	switch {
	case errors.As(err, &valErr):
		code = http.StatusBadRequest
	case errors.As(err, &authErr):
		code = http.StatusUnauthorized
	case errors.Is(err, saga.ErrSagaNotFound):
		code = http.StatusNotFound
	case errors.Is(err, saga.ErrSagaTerminal):
		code = http.StatusConflict
	case errors.As(err, &pubErr), errors.As(err, &storeErr), errors.Is(err, saga.ErrLockTimeout):
		code = http.StatusServiceUnavailable
	}
	if code >= http.StatusInternalServerError {
		h.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
