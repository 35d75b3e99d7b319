package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// statusFor переводит вид ошибки в HTTP-статус.
func statusFor(err error) int {
	var de *domain.Error
	if !errors.As(err, &de) {
		if errors.Is(err, domain.ErrInvalidQuery) {
			return http.StatusBadRequest
		}
		return http.StatusServiceUnavailable
	}
	switch de.Kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindValidation:
		return http.StatusUnprocessableEntity
	case domain.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

func errorBody(err error) errorResponse {
	resp := errorResponse{Error: err.Error()}
	var de *domain.Error
	if !errors.As(err, &de) {
		if errors.Is(err, domain.ErrInvalidQuery) {
			return resp
		}
		// Детали сбоев хранилища наружу не отдаём.
		resp.Error = "service unavailable"
		resp.Kind = string(domain.KindUnavailable)
		return resp
	}
	resp.Kind = string(de.Kind)
	if de.Kind == domain.KindUnavailable {
		resp.Error = de.Message
	}
	if de.Shortage != nil {
		resp.Shortage = &shortageResponse{
			ProductID:   de.Shortage.ProductID,
			ProductName: de.Shortage.ProductName,
			Requested:   de.Shortage.Requested,
			Available:   de.Shortage.Available,
		}
	}
	return resp
}

func encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"error":"failed to encode response"}`)
	}
	return data
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if len(body) > 0 {
		_, _ = w.Write(body)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	writeRaw(w, status, encode(v))
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
