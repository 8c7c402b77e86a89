package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
)

const idempotencyColumns = `namespace, key, request_hash, status, outcome, ttl_at, created_at, updated_at`

type idempotencyRepository struct {
	q querier
}

// Reserve вставляет запись через ON CONFLICT DO NOTHING. Конкурентная вставка того же ключа
// ждёт завершения первой транзакции; при её откате вставка проходит.
func (r idempotencyRepository) Reserve(ctx context.Context, record domain.IdempotencyRecord) (domain.IdempotencyRecord, bool, error) {
	record.Namespace = strings.TrimSpace(record.Namespace)
	record.Key = strings.TrimSpace(record.Key)
	if record.Namespace == "" {
		return domain.IdempotencyRecord{}, false, domain.ErrIdempotencyNamespaceRequired
	}
	if record.Key == "" {
		return domain.IdempotencyRecord{}, false, domain.ErrIdempotencyKeyRequired
	}
	if record.RequestHash == "" {
		return domain.IdempotencyRecord{}, false, domain.ErrIdempotencyRequestHashRequired
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if record.TTLAt.IsZero() {
		record.TTLAt = record.CreatedAt.Add(24 * time.Hour)
	}
	record.UpdatedAt = record.CreatedAt
	record.Status = domain.IdempotencyStatusProcessing
	record.Outcome = ""

	res, err := r.q.ExecContext(ctx, `
		INSERT INTO idempotency_keys (`+idempotencyColumns+`)
		VALUES ($1,$2,$3,$4,'',$5,$6,$7)
		ON CONFLICT (namespace, key) DO NOTHING
	`,
		record.Namespace, record.Key, record.RequestHash, string(record.Status),
		record.TTLAt, record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		return domain.IdempotencyRecord{}, false, fmt.Errorf("insert idempotency record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.IdempotencyRecord{}, false, fmt.Errorf("idempotency rows affected: %w", err)
	}
	if affected == 1 {
		return record, true, nil
	}

	existing, err := r.get(ctx, record.Namespace, record.Key, " FOR UPDATE")
	if err != nil {
		return domain.IdempotencyRecord{}, false, err
	}
	return existing, false, nil
}

func (r idempotencyRepository) TakeOver(ctx context.Context, record domain.IdempotencyRecord, now time.Time) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET request_hash = $3,
		    status = $4,
		    outcome = '',
		    ttl_at = $5,
		    created_at = $6,
		    updated_at = $6
		WHERE namespace = $1
		  AND key = $2
		  AND ttl_at <= $6
	`,
		strings.TrimSpace(record.Namespace), strings.TrimSpace(record.Key), record.RequestHash,
		string(domain.IdempotencyStatusProcessing), record.TTLAt, now,
	)
	if err != nil {
		return false, fmt.Errorf("take over idempotency record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("idempotency rows affected: %w", err)
	}
	return affected == 1, nil
}

func (r idempotencyRepository) Get(ctx context.Context, namespace, key string) (domain.IdempotencyRecord, error) {
	return r.get(ctx, namespace, key, "")
}

func (r idempotencyRepository) get(ctx context.Context, namespace, key, lock string) (domain.IdempotencyRecord, error) {
	var (
		record    domain.IdempotencyRecord
		statusRaw string
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT `+idempotencyColumns+`
		FROM idempotency_keys
		WHERE namespace = $1 AND key = $2`+lock,
		namespace, key,
	).Scan(
		&record.Namespace,
		&record.Key,
		&record.RequestHash,
		&statusRaw,
		&record.Outcome,
		&record.TTLAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
		}
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency record: %w", err)
	}

	record.Status = domain.IdempotencyStatus(statusRaw)
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("invalid idempotency status %q for key %s/%s", statusRaw, namespace, key)
	}
	return record, nil
}

func (r idempotencyRepository) Complete(ctx context.Context, namespace, key, outcome string, now time.Time) error {
	if outcome == "" {
		return domain.ErrIdempotencyOutcomeRequired
	}

	res, err := r.q.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET status = $1,
		    outcome = $2,
		    updated_at = $3
		WHERE namespace = $4 AND key = $5
	`, string(domain.IdempotencyStatusDone), outcome, now, namespace, key)
	if err != nil {
		return fmt.Errorf("complete idempotency record: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("idempotency rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

func (r idempotencyRepository) Delete(ctx context.Context, namespace, key string) error {
	if _, err := r.q.ExecContext(ctx, `
		DELETE FROM idempotency_keys WHERE namespace = $1 AND key = $2
	`, namespace, key); err != nil {
		return fmt.Errorf("delete idempotency record: %w", err)
	}
	return nil
}

func (r idempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	var (
		res sql.Result
		err error
	)
	if limit > 0 {
		res, err = r.q.ExecContext(ctx, `
			DELETE FROM idempotency_keys
			WHERE (namespace, key) IN (
				SELECT namespace, key
				FROM idempotency_keys
				WHERE ttl_at <= $1
				ORDER BY ttl_at ASC
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)
		`, before, limit)
	} else {
		res, err = r.q.ExecContext(ctx, `
			DELETE FROM idempotency_keys
			WHERE ttl_at <= $1
		`, before)
	}
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency records: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("idempotency rows affected: %w", err)
	}
	return int(affected), nil
}

var _ domain.IdempotencyRepository = idempotencyRepository{}
