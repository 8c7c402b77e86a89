package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
)

// ErrorResponse — тело ответа с ошибкой.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	ProductID int64  `json:"product_id,omitempty"`
	Available *int32 `json:"available,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Warn("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// respondDomainError переводит доменную ошибку в HTTP-ответ по коду причины.
func respondDomainError(w http.ResponseWriter, logger *log.Entry, err error) {
	code := domain.ReasonCode(err)
	body := ErrorResponse{Error: code, Message: err.Error()}

	var unavailable *domain.ProductUnavailableError
	if errors.As(err, &unavailable) {
		body.ProductID = unavailable.ProductID
	}
	var insufficient *domain.InsufficientStockError
	if errors.As(err, &insufficient) {
		available := insufficient.Available
		body.ProductID = insufficient.ProductID
		body.Available = &available
	}

	status := statusForReason(code)
	if status >= http.StatusInternalServerError {
		logger.WithError(err).Error("request failed")
		body.Message = "internal error"
	}
	respondJSON(w, status, body)
}

func statusForReason(code string) int {
	switch code {
	case domain.ReasonUnauthenticated, domain.ReasonInvalidSignature:
		return http.StatusUnauthorized
	case domain.ReasonOrderNotFound:
		return http.StatusNotFound
	case domain.ReasonMalformedEvent, domain.ReasonUnknownProvider, domain.ReasonInvalidRequest:
		return http.StatusBadRequest
	case domain.ReasonEmptyCart, domain.ReasonProductUnavailable:
		return http.StatusUnprocessableEntity
	case domain.ReasonInsufficientStock, domain.ReasonIllegalTransition, domain.ReasonIdempotencyReuse,
		domain.ReasonInProgress, domain.ReasonVersionConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
