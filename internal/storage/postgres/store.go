package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
)

const (
	defaultConnTimeout     = 5 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

// querier — общее подмножество *sql.DB и *sql.Tx, на котором работают репозитории.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store оборачивает SQL-подключение к PostgreSQL.
// Вне WithinTx репозитории Store работают в режиме autocommit.
type Store struct {
	db     *sql.DB
	logger *log.Entry
}

// Open открывает подключение к PostgreSQL и проверяет доступность базы.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{db: db, logger: log.WithField("component", "postgres-store")}, nil
}

// DB возвращает raw SQL DB, когда нужен низкоуровневый доступ.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithinTx выполняет fn в транзакции READ COMMITTED.
// Коммит только при успешном возврате; ошибка или паника откатывают транзакцию.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) (err error) {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.WithError(rbErr).Warn("rollback failed")
			}
		}
	}()

	if err = fn(ctx, repositories{q: sqlTx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) Orders() domain.OrderRepository            { return orderRepository{q: s.db} }
func (s *Store) Payments() domain.PaymentRepository        { return paymentRepository{q: s.db} }
func (s *Store) Catalog() domain.CatalogRepository         { return catalogRepository{q: s.db} }
func (s *Store) Stock() domain.StockRepository             { return stockRepository{q: s.db} }
func (s *Store) Carts() domain.CartRepository              { return cartRepository{q: s.db} }
func (s *Store) Idempotency() domain.IdempotencyRepository { return idempotencyRepository{q: s.db} }
func (s *Store) Outbox() domain.OutboxRepository           { return outboxRepository{q: s.db} }
func (s *Store) Timeline() domain.TimelineRepository       { return timelineRepository{q: s.db} }

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// EnsureSchema применяет все up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// repositories — набор репозиториев поверх одной транзакции.
type repositories struct {
	q querier
}

func (r repositories) Orders() domain.OrderRepository            { return orderRepository{q: r.q} }
func (r repositories) Payments() domain.PaymentRepository        { return paymentRepository{q: r.q} }
func (r repositories) Catalog() domain.CatalogRepository         { return catalogRepository{q: r.q} }
func (r repositories) Stock() domain.StockRepository             { return stockRepository{q: r.q} }
func (r repositories) Carts() domain.CartRepository              { return cartRepository{q: r.q} }
func (r repositories) Idempotency() domain.IdempotencyRepository { return idempotencyRepository{q: r.q} }
func (r repositories) Outbox() domain.OutboxRepository           { return outboxRepository{q: r.q} }
func (r repositories) Timeline() domain.TimelineRepository       { return timelineRepository{q: r.q} }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var (
	_ domain.UnitOfWork = (*Store)(nil)
	_ domain.Tx         = (*Store)(nil)
	_ domain.Tx         = repositories{}
)
