package domain

import (
	"context"
	"strings"
)

// Principal — аутентифицированный покупатель или оператор, от имени которого выполняется запрос.
type Principal struct {
	CustomerID string
	// DisplayName используется в поиске заказов по имени покупателя.
	DisplayName string
}

type principalKey struct{}

// WithPrincipal кладёт участника запроса в контекст.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext достаёт участника запроса; без него операция считается неаутентифицированной.
func PrincipalFromContext(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	if !ok || strings.TrimSpace(p.CustomerID) == "" {
		return Principal{}, ErrUnauthenticated
	}
	return p, nil
}

// ActorFromContext возвращает id участника для аудита или "system", если его нет.
func ActorFromContext(ctx context.Context) string {
	p, err := PrincipalFromContext(ctx)
	if err != nil {
		return "system"
	}
	return p.CustomerID
}
