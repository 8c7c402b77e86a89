package signature

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
)

// StripeSignatureHeader — заголовок подписи вебхуков Stripe.
const StripeSignatureHeader = "Stripe-Signature"

// StripeVerifier проверяет подпись Stripe средствами stripe-go (включая допуск по времени).
type StripeVerifier struct {
	secret string
}

// NewStripeVerifier создаёт проверку с секретом endpoint'а (whsec_...).
func NewStripeVerifier(secret string) *StripeVerifier {
	return &StripeVerifier{secret: strings.TrimSpace(secret)}
}

// Verify проверяет заголовок Stripe-Signature.
func (v *StripeVerifier) Verify(_ context.Context, rawBody []byte, headers http.Header) error {
	if v.secret == "" {
		return fmt.Errorf("stripe secret is not configured: %w", domain.ErrInvalidSignature)
	}
	header := headers.Get(StripeSignatureHeader)
	if header == "" {
		return fmt.Errorf("missing %s header: %w", StripeSignatureHeader, domain.ErrInvalidSignature)
	}
	if err := webhook.ValidatePayload(rawBody, header, v.secret); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	return nil
}
