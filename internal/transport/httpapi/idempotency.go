package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const (
	// IdempotencyKeyHeader — заголовок с ключом идемпотентности.
	IdempotencyKeyHeader = "Idempotency-Key"
	// IdempotentReplayHeader выставляется, когда ответ взят из кэша.
	IdempotentReplayHeader = "Idempotent-Replayed"
)

type response struct {
	status int
	body   []byte
}

func (r response) ok() bool {
	return r.status >= 200 && r.status < 300
}

// transient — ответ, который при повторе может измениться: конфликт конкурентной записи или сбой.
func (r response) transient() bool {
	return r.status == http.StatusConflict || r.status >= http.StatusInternalServerError
}

// withIdempotency выполняет run не более одного раза на ключ.
// Без заголовка или без репозитория запрос обрабатывается как обычно.
func (h *Handler) withIdempotency(w http.ResponseWriter, r *http.Request, body []byte, run func(context.Context) response) {
	ctx := r.Context()
	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if h.idem == nil || key == "" {
		res := run(ctx)
		writeRaw(w, res.status, res.body)
		return
	}

	hash := domain.HashRequest(r.Method, r.URL.Path, body)
	record, err := h.idem.CreateProcessing(ctx, key, hash, h.now().Add(h.idemTTL))
	if err != nil {
		h.replay(w, key, record, err)
		return
	}

	res := run(ctx)

	// Ответ фиксируем даже если клиент уже отключился.
	storeCtx := context.WithoutCancel(ctx)
	switch {
	case res.ok():
		err = h.idem.MarkDone(storeCtx, key, res.body, res.status)
	case res.transient():
		err = h.idem.Release(storeCtx, key)
	default:
		err = h.idem.MarkFailed(storeCtx, key, res.body, res.status)
	}
	if err != nil {
		h.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}

	writeRaw(w, res.status, res.body)
}

func (h *Handler) replay(w http.ResponseWriter, key string, record domain.IdempotencyRecord, createErr error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		writeMessage(w, http.StatusConflict, "idempotency key is already used with different request payload")
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusProcessing:
			writeMessage(w, http.StatusConflict, "request with the same idempotency key is already processing")
		case domain.IdempotencyStatusDone, domain.IdempotencyStatusFailed:
			status := record.HTTPStatus
			if status == 0 {
				status = http.StatusInternalServerError
			}
			w.Header().Set(IdempotentReplayHeader, "true")
			writeRaw(w, status, record.ResponseBody)
		default:
			writeMessage(w, http.StatusInternalServerError, "unknown idempotency record status")
		}
	default:
		h.logger.WithError(createErr).WithField("idempotency_key", key).Warn("failed to create idempotency record")
		writeMessage(w, http.StatusServiceUnavailable, "failed to initialize idempotent request")
	}
}
