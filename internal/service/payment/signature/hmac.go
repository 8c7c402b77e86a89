package signature

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
)

const (
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Signature-Timestamp"
	HeaderNonce     = "X-Signature-Nonce"

	defaultClockSkew = 5 * time.Minute
	defaultNonceTTL  = 10 * time.Minute
)

// NonceStore запоминает nonce подписанных доставок, чтобы отличать повторную доставку от первой.
type NonceStore interface {
	// UseNonce сохраняет nonce до expiry; false означает, что nonce уже встречался.
	UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error)
}

// HMACVerifier проверяет подпись base64(HMAC-SHA256(secret, timestamp + "." + nonce + "." + body)).
type HMACVerifier struct {
	scope     string
	secret    []byte
	nonces    NonceStore
	now       func() time.Time
	clockSkew time.Duration
	nonceTTL  time.Duration
	logger    *log.Entry
}

// HMACOption настраивает HMACVerifier.
type HMACOption func(*HMACVerifier)

// WithClock подменяет часы (для тестов).
func WithClock(now func() time.Time) HMACOption {
	return func(v *HMACVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithClockSkew задаёт допустимое расхождение времени.
func WithClockSkew(d time.Duration) HMACOption {
	return func(v *HMACVerifier) {
		if d > 0 {
			v.clockSkew = d
		}
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) HMACOption {
	return func(v *HMACVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewHMACVerifier создаёт проверку для провайдера scope.
func NewHMACVerifier(scope, secret string, nonces NonceStore, opts ...HMACOption) *HMACVerifier {
	v := &HMACVerifier{
		scope:     normalizeProvider(scope),
		secret:    []byte(secret),
		nonces:    nonces,
		now:       time.Now,
		clockSkew: defaultClockSkew,
		nonceTTL:  defaultNonceTTL,
		logger:    log.WithField("component", "hmac-verifier"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Verify проверяет подпись и окно времени.
func (v *HMACVerifier) Verify(ctx context.Context, rawBody []byte, headers http.Header) error {
	if len(v.secret) == 0 {
		return fmt.Errorf("hmac secret is not configured: %w", domain.ErrInvalidSignature)
	}

	signatureValue := strings.TrimSpace(headers.Get(HeaderSignature))
	timestampValue := strings.TrimSpace(headers.Get(HeaderTimestamp))
	nonce := strings.TrimSpace(headers.Get(HeaderNonce))
	if signatureValue == "" || timestampValue == "" || nonce == "" {
		return fmt.Errorf("signature headers missing: %w", domain.ErrInvalidSignature)
	}

	timestamp, err := parseTimestamp(timestampValue)
	if err != nil {
		return fmt.Errorf("timestamp invalid: %w", domain.ErrInvalidSignature)
	}
	now := v.now()
	if skew := now.Sub(timestamp); skew > v.clockSkew || skew < -v.clockSkew {
		return fmt.Errorf("timestamp outside allowed window: %w", domain.ErrInvalidSignature)
	}

	signature, err := base64.StdEncoding.DecodeString(signatureValue)
	if err != nil {
		return fmt.Errorf("signature encoding invalid: %w", domain.ErrInvalidSignature)
	}
	if !hmac.Equal(signature, Sign(v.secret, timestampValue, nonce, rawBody)) {
		return fmt.Errorf("signature mismatch: %w", domain.ErrInvalidSignature)
	}

	v.observeNonce(ctx, nonce, now)
	return nil
}

// observeNonce отмечает доставку в реестре nonce.
// Повтор nonce возможен только для побайтно той же доставки (nonce входит в подпись),
// поэтому повтор не отвергается: дубликат гасит идемпотентность по (провайдер, транзакция).
func (v *HMACVerifier) observeNonce(ctx context.Context, nonce string, now time.Time) {
	if v.nonces == nil {
		return
	}
	logger := v.logger.WithFields(log.Fields{"provider": v.scope, "nonce": nonce})
	fresh, err := v.nonces.UseNonce(ctx, v.scope, nonce, now.Add(v.nonceTTL))
	if err != nil {
		logger.WithError(err).Warn("nonce store unavailable")
		return
	}
	if !fresh {
		logger.Info("webhook redelivery")
	}
}

// Sign считает подпись; используется отправителями и тестами.
func Sign(secret []byte, timestamp, nonce string, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write([]byte(nonce))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}

// parseTimestamp принимает RFC3339 или unix-секунды.
func parseTimestamp(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	secs, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(secs, 0), nil
}
