package signature

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
)

func stripeHeader(secret string, body []byte, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.", ts.Unix())))
	mac.Write(body)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeVerifier(t *testing.T) {
	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`)
	verifier := NewStripeVerifier("whsec_test")

	headers := http.Header{}
	headers.Set(StripeSignatureHeader, stripeHeader("whsec_test", body, time.Now()))
	require.NoError(t, verifier.Verify(context.Background(), body, headers))

	tampered := append([]byte(nil), body...)
	tampered[len(tampered)-2] = 'x'
	require.ErrorIs(t, verifier.Verify(context.Background(), tampered, headers), domain.ErrInvalidSignature)

	wrongSecret := http.Header{}
	wrongSecret.Set(StripeSignatureHeader, stripeHeader("whsec_other", body, time.Now()))
	require.ErrorIs(t, verifier.Verify(context.Background(), body, wrongSecret), domain.ErrInvalidSignature)

	stale := http.Header{}
	stale.Set(StripeSignatureHeader, stripeHeader("whsec_test", body, time.Now().Add(-time.Hour)))
	require.ErrorIs(t, verifier.Verify(context.Background(), body, stale), domain.ErrInvalidSignature)

	require.ErrorIs(t, verifier.Verify(context.Background(), body, http.Header{}), domain.ErrInvalidSignature)
	require.ErrorIs(t, NewStripeVerifier("").Verify(context.Background(), body, headers), domain.ErrInvalidSignature)
}

func signedHeaders(secret string, body []byte, ts time.Time, nonce string) http.Header {
	timestamp := ts.UTC().Format(time.RFC3339)
	headers := http.Header{}
	headers.Set(HeaderTimestamp, timestamp)
	headers.Set(HeaderNonce, nonce)
	headers.Set(HeaderSignature, base64.StdEncoding.EncodeToString(Sign([]byte(secret), timestamp, nonce, body)))
	return headers
}

func TestHMACVerifier(t *testing.T) {
	now := time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)
	body := []byte(`{"transaction_id":"tx-1"}`)
	clock := func() time.Time { return now }
	verifier := NewHMACVerifier("generic", "s3cret", NewMemoryNonceStore(WithNonceClock(clock)), WithClock(clock))
	ctx := context.Background()

	require.NoError(t, verifier.Verify(ctx, body, signedHeaders("s3cret", body, now, "n-1")))

	tests := []struct {
		name    string
		body    []byte
		headers http.Header
	}{
		{name: "wrong secret", body: body, headers: signedHeaders("other", body, now, "n-2")},
		{name: "tampered body", body: []byte(`{"transaction_id":"tx-2"}`), headers: signedHeaders("s3cret", body, now, "n-3")},
		{name: "too old", body: body, headers: signedHeaders("s3cret", body, now.Add(-10*time.Minute), "n-4")},
		{name: "from future", body: body, headers: signedHeaders("s3cret", body, now.Add(10*time.Minute), "n-5")},
		{name: "missing headers", body: body, headers: http.Header{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, verifier.Verify(ctx, tc.body, tc.headers), domain.ErrInvalidSignature)
		})
	}
}

func TestHMACVerifier_RedeliveryWithSameHeadersIsAccepted(t *testing.T) {
	now := time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	nonces := NewMemoryNonceStore(WithNonceClock(clock))
	verifier := NewHMACVerifier("generic", "s3cret", nonces, WithClock(clock))
	ctx := context.Background()
	body := []byte(`{"transaction_id":"tx-1"}`)
	headers := signedHeaders("s3cret", body, now, "n-1")

	for attempt := 0; attempt < 3; attempt++ {
		require.NoError(t, verifier.Verify(ctx, body, headers), "attempt %d", attempt)
	}

	fresh, err := nonces.UseNonce(ctx, "generic", "n-1", now.Add(time.Minute))
	require.NoError(t, err)
	require.False(t, fresh, "delivery nonce is recorded")
}

func TestHMACVerifier_RejectedSignatureDoesNotRecordNonce(t *testing.T) {
	now := time.Now()
	body := []byte(`{}`)
	nonces := NewMemoryNonceStore()
	verifier := NewHMACVerifier("generic", "s3cret", nonces, WithClock(func() time.Time { return now }))

	require.Error(t, verifier.Verify(context.Background(), body, signedHeaders("wrong", body, now, "n-1")))

	fresh, err := nonces.UseNonce(context.Background(), "generic", "n-1", now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, fresh)
}

type failingNonceStore struct{}

func (failingNonceStore) UseNonce(context.Context, string, string, time.Time) (bool, error) {
	return false, errors.New("connection refused")
}

func TestHMACVerifier_NonceStoreOutageDoesNotBlockDelivery(t *testing.T) {
	now := time.Now()
	body := []byte(`{}`)
	verifier := NewHMACVerifier("generic", "s3cret", failingNonceStore{}, WithClock(func() time.Time { return now }))

	require.NoError(t, verifier.Verify(context.Background(), body, signedHeaders("s3cret", body, now, "n-1")))
	require.ErrorIs(t, verifier.Verify(context.Background(), body, signedHeaders("other", body, now, "n-2")), domain.ErrInvalidSignature)
}

func TestRegistry(t *testing.T) {
	body := []byte(`{}`)
	now := time.Now()
	registry := NewRegistry().Register("Generic", NewHMACVerifier("generic", "s3cret", NewMemoryNonceStore()))

	require.NoError(t, registry.Verify(context.Background(), "generic", body, signedHeaders("s3cret", body, now, "n-1")))
	require.ErrorIs(t, registry.Verify(context.Background(), "unknown", body, http.Header{}), domain.ErrInvalidSignature)
	require.Equal(t, []string{"generic"}, registry.Providers())
}

func TestMemoryNonceStore(t *testing.T) {
	now := time.Now()
	store := NewMemoryNonceStore(WithNonceClock(func() time.Time { return now }))
	ctx := context.Background()

	ok, err := store.UseNonce(ctx, "generic", "n-1", now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.UseNonce(ctx, "generic", "n-1", now.Add(time.Minute))
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = store.UseNonce(ctx, "stripe", "n-1", now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok, "nonce scope is per provider")

	now = now.Add(2 * time.Minute)
	ok, err = store.UseNonce(ctx, "generic", "n-1", now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok, "expired nonce can be reused")

	_, err = store.UseNonce(ctx, "", "n", now)
	require.Error(t, err)
}
