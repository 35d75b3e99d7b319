package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const (
	maxBodyBytes          = 1 << 20
	defaultIdempotencyTTL = 24 * time.Hour
)

// OrderService — операции движка, которые нужны HTTP-слою.
type OrderService interface {
	CreateOrder(ctx context.Context, cashierID string, lines []domain.RequestedLine) (domain.Order, error)
	UpdateOrder(ctx context.Context, orderID, cashierID string, lines []domain.RequestedLine) (domain.UpdateResult, error)
	DeleteOrder(ctx context.Context, orderID string) error
	ListOrders(ctx context.Context, query domain.OrderQuery) (domain.OrderPage, error)
	GetOrder(ctx context.Context, orderID string) (domain.OrderDetail, error)
	Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error)
}

// Option настраивает Handler.
type Option func(*Handler)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithIdempotency включает Idempotency-Key для POST /orders.
func WithIdempotency(repo domain.IdempotencyRepository, ttl time.Duration) Option {
	return func(h *Handler) {
		h.idem = repo
		if ttl > 0 {
			h.idemTTL = ttl
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// Handler обслуживает /orders.
type Handler struct {
	svc     OrderService
	idem    domain.IdempotencyRepository
	idemTTL time.Duration
	logger  *log.Entry
	now     func() time.Time
}

// NewHandler создаёт Handler поверх движка.
func NewHandler(svc OrderService, opts ...Option) *Handler {
	h := &Handler{
		svc:     svc,
		idemTTL: defaultIdempotencyTTL,
		logger:  log.New().WithField("component", "http-api"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes регистрирует маршруты заказов на роутере.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	r.Get("/{id}/timeline", h.Timeline)
}

// Create обрабатывает POST /orders.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var req orderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.withIdempotency(w, r, body, func(ctx context.Context) response {
		order, err := h.svc.CreateOrder(ctx, req.CashierID, req.requestedLines())
		if err != nil {
			return errorResult(err)
		}
		return response{status: http.StatusCreated, body: encode(toOrderResponse(order))}
	})
}

// Update обрабатывает PUT /orders/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.svc.UpdateOrder(r.Context(), chi.URLParam(r, "id"), req.CashierID, req.requestedLines())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updateResponse{
		Changed: result.Changed,
		Message: result.Message,
		Order:   toOrderResponse(result.Order),
	})
}

// Delete обрабатывает DELETE /orders/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteOrder(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Get обрабатывает GET /orders/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	detail, err := h.svc.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderDetailResponse{
		orderResponse: toOrderResponse(detail.Order),
		Cashier:       cashierResponse{ID: detail.Cashier.ID, Name: detail.Cashier.Name},
	})
}

// List обрабатывает GET /orders?filter=field:value&sort=field:dir&page=N&page_size=M.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	query, err := parseListQuery(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.svc.ListOrders(r.Context(), query)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toListResponse(page))
}

// Timeline обрабатывает GET /orders/{id}/timeline.
func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	events, err := h.svc.Timeline(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimelineResponse(id, events))
}

func parseListQuery(r *http.Request) (domain.OrderQuery, error) {
	values := r.URL.Query()

	filter, err := domain.ParseFilter(values.Get("filter"))
	if err != nil {
		return domain.OrderQuery{}, err
	}
	sort, err := domain.ParseSort(values.Get("sort"))
	if err != nil {
		return domain.OrderQuery{}, err
	}
	pageNumber, err := intParam(values.Get("page"), 1)
	if err != nil {
		return domain.OrderQuery{}, err
	}
	pageSize, err := intParam(values.Get("page_size"), domain.DefaultPageSize)
	if err != nil {
		return domain.OrderQuery{}, err
	}

	offset, limit := domain.PageQuery(pageNumber, pageSize)
	return domain.OrderQuery{Filter: filter, Sort: sort, Offset: offset, Limit: limit}, nil
}

func intParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %q is not a positive integer", domain.ErrInvalidQuery, raw)
	}
	return n, nil
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	res := errorResult(err)
	if res.status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
	}
	writeRaw(w, res.status, res.body)
}

func errorResult(err error) response {
	if errors.Is(err, context.Canceled) {
		return response{status: http.StatusServiceUnavailable, body: encode(errorResponse{Error: "request canceled"})}
	}
	return response{status: statusFor(err), body: encode(errorBody(err))}
}
