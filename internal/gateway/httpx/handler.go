package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jcmexdev/order-saga/internal/gateway/ports"
	"github.com/jcmexdev/order-saga/internal/order"
	"github.com/jcmexdev/order-saga/internal/pkg/reqctx"
	"github.com/jcmexdev/order-saga/internal/saga"
	"github.com/jcmexdev/order-saga/internal/saga/sagalog"
)

// Handler serves the order API in front of the saga orchestrator.
type Handler struct {
	sagas    ports.SagaService
	orders   ports.OrderReader
	history  sagalog.Reader // nil-safe: /sagas/{id}/history answers 404
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler wires the handler. history may be nil when no saga log is configured.
func NewHandler(sagas ports.SagaService, orders ports.OrderReader, history sagalog.Reader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sagas:    sagas,
		orders:   orders,
		history:  history,
		validate: validator.New(),
		logger:   logger,
	}
}

// CreateOrder validates the request and starts a saga for it. The response is
// 202: the outcome is only known once the saga settles.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	// The idempotency key doubles as the order id, so a retried request maps
	// onto the same saga and is answered with 409.
	orderID := reqctx.IdempotencyKey(r.Context())
	if orderID == "" {
		orderID = uuid.NewString()
	}

	cmd := saga.StartCommand{
		OrderID:    orderID,
		CustomerID: req.CustomerID,
		Items:      make([]order.Item, 0, len(req.Items)),
	}
	for _, it := range req.Items {
		item := order.Item{ProductID: it.ProductID, Quantity: it.Quantity, Price: it.Price}
		cmd.Items = append(cmd.Items, item)
		cmd.TotalAmount += item.Subtotal()
	}

	h.logger.InfoContext(r.Context(), "creating order", "order_id", orderID, "customer_id", req.CustomerID)

	sagaID, err := h.sagas.StartOrderSaga(r.Context(), cmd)
	switch {
	case errors.Is(err, saga.ErrSagaExists):
		writeError(w, http.StatusConflict, "order_exists", err.Error())
		return
	case errors.Is(err, saga.ErrInvalidCommand):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	case err != nil:
		h.logger.ErrorContext(r.Context(), "start saga failed", "order_id", orderID, "error", err)
		writeError(w, http.StatusInternalServerError, "saga_error", err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, CreateOrderResponse{
		OrderID: orderID,
		SagaID:  sagaID,
		Status:  string(order.StatusPending),
	})
}

func (h *Handler) GetOrderByID(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	o, err := h.orders.FindByID(r.Context(), orderID)
	if errors.Is(err, order.ErrNotFound) {
		writeError(w, http.StatusNotFound, "order_not_found", err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "order_store_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, mapOrderToResponse(o))
}

// GetSaga answers from memory only: evicted sagas are 404, their order record
// and history remain available.
func (h *Handler) GetSaga(w http.ResponseWriter, r *http.Request) {
	st, ok := h.sagas.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "saga_not_found", "")
		return
	}
	writeJSON(w, http.StatusOK, mapSagaToResponse(st))
}

func (h *Handler) ListSagas(w http.ResponseWriter, r *http.Request) {
	states := h.sagas.Active()
	resp := SagaListResponse{Sagas: make([]SagaResponse, 0, len(states))}
	for _, st := range states {
		resp.Sagas = append(resp.Sagas, mapSagaToResponse(st))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetSagaHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "saga_log_disabled", "")
		return
	}

	entries, err := h.history.History(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, sagalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "saga_not_found", "")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "saga_log_error", err.Error())
		return
	}

	out := make([]SagaLogResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, SagaLogResponse{
			Status:        string(e.Status),
			Step:          e.Step,
			ErrorMessages: e.ErrorMessages,
			TraceID:       e.TraceID,
			UpdatedAt:     e.UpdatedAt.Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func mapOrderToResponse(o *order.Order) OrderResponse {
	items := make([]OrderItemResponse, len(o.Items))
	for i, it := range o.Items {
		items[i] = OrderItemResponse{ProductID: it.ProductID, Quantity: it.Quantity, Price: it.Price}
	}
	return OrderResponse{
		ID:         o.ID,
		CustomerID: o.CustomerID,
		Status:     string(o.Status),
		Total:      o.TotalAmount,
		Items:      items,
		CreatedAt:  o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  o.UpdatedAt.Format(time.RFC3339),
	}
}

func mapSagaToResponse(st saga.State) SagaResponse {
	resp := SagaResponse{
		SagaID:             st.SagaID,
		OrderID:            st.OrderID,
		CustomerID:         st.CustomerID,
		Status:             string(st.Status),
		ReservationID:      st.ReservationID,
		PaymentID:          st.PaymentID,
		StartedAt:          st.StartedAt.UTC().Format(time.RFC3339),
		Error:              st.Error,
		CompensationReason: st.CompensationReason,
	}
	if st.CompletedAt != nil {
		resp.CompletedAt = st.CompletedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: msg,
	})
}
