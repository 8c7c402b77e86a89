package signature

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
)

// ProviderVerifier проверяет подпись одного провайдера.
type ProviderVerifier interface {
	Verify(ctx context.Context, rawBody []byte, headers http.Header) error
}

// Registry выбирает проверку подписи по коду провайдера.
// Для незарегистрированного провайдера подпись всегда считается неверной.
type Registry struct {
	verifiers map[string]ProviderVerifier
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{verifiers: make(map[string]ProviderVerifier)}
}

// Register привязывает проверку к провайдеру.
func (r *Registry) Register(provider string, verifier ProviderVerifier) *Registry {
	r.verifiers[normalizeProvider(provider)] = verifier
	return r
}

// Providers возвращает коды зарегистрированных провайдеров.
func (r *Registry) Providers() []string {
	providers := make([]string, 0, len(r.verifiers))
	for provider := range r.verifiers {
		providers = append(providers, provider)
	}
	return providers
}

// Verify реализует domain.SignatureVerifier.
func (r *Registry) Verify(ctx context.Context, provider string, rawBody []byte, headers http.Header) error {
	verifier, ok := r.verifiers[normalizeProvider(provider)]
	if !ok || verifier == nil {
		return fmt.Errorf("no verifier for provider %q: %w", provider, domain.ErrInvalidSignature)
	}
	if err := verifier.Verify(ctx, rawBody, headers); err != nil {
		return fmt.Errorf("provider %q: %w", provider, err)
	}
	return nil
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

var _ domain.SignatureVerifier = (*Registry)(nil)
