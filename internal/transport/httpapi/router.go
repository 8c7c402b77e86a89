package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
)

const (
	// HeaderCustomerID — идентификатор покупателя, проставляется шлюзом аутентификации.
	HeaderCustomerID = "X-Customer-ID"
	// HeaderCustomerName — отображаемое имя покупателя.
	HeaderCustomerName = "X-Customer-Name"
	// HeaderIdempotencyKey — ключ идемпотентности оформления заказа.
	HeaderIdempotencyKey = "Idempotency-Key"
)

// NewRouter собирает chi-роутер REST API.
func NewRouter(service Service, logger *log.Entry) http.Handler {
	h := NewHandler(service, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		// вебхуки аутентифицируются подписью провайдера, а не покупателем
		r.Post("/payments/webhooks/{provider}", h.PaymentWebhook)

		r.Group(func(r chi.Router) {
			r.Use(principalFromHeaders)

			r.Get("/cart", h.GetCart)
			r.Post("/cart/items", h.AddCartItem)

			r.Route("/orders", func(r chi.Router) {
				r.Post("/", h.CreateOrder)
				r.Get("/", h.ListOrders)
				r.Get("/{id}", h.GetOrder)
				r.Get("/{id}/payments", h.ListPayments)
				r.Post("/{id}/status", h.AdvanceOrder)
			})
		})
	})

	return r
}

// principalFromHeaders кладёт покупателя в контекст. Без заголовка запрос
// проходит дальше, и операция сама вернёт unauthenticated.
func principalFromHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		customerID := strings.TrimSpace(r.Header.Get(HeaderCustomerID))
		if customerID != "" {
			ctx := domain.WithPrincipal(r.Context(), domain.Principal{
				CustomerID:  customerID,
				DisplayName: strings.TrimSpace(r.Header.Get(HeaderCustomerName)),
			})
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()
			next.ServeHTTP(ww, r)

			entry := logger.WithFields(log.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"duration_ms": time.Since(started).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
			})
			if ww.Status() >= http.StatusInternalServerError {
				entry.Warn("http request failed")
				return
			}
			entry.Debug("http request")
		})
	}
}
