package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	log "github.com/sirupsen/logrus"
)

// TxBeginner — то, что умеет открыть транзакцию (*pgxpool.Pool, pgx.Tx).
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Коды SQLSTATE, при которых транзакцию безопасно повторить целиком.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// IsRetryable сообщает, что ошибка — конфликт сериализации или deadlock.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
	}
	return false
}

// WithTx выполняет fn в транзакции: Commit при nil, Rollback при ошибке.
// При конфликте сериализации/deadlock транзакция повторяется с
// экспоненциальной задержкой, не более maxRetries раз. Остальные ошибки
// (включая доменные вроде ErrInsufficientCredits) возвращаются сразу.
func WithTx(ctx context.Context, db TxBeginner, maxRetries uint64, fn func(tx pgx.Tx) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = 500 * time.Millisecond

	attempt := 0
	op := func() error {
		attempt++
		err := runTx(ctx, db, fn)
		if err == nil {
			return nil
		}
		if IsRetryable(err) {
			log.WithError(err).WithField("attempt", attempt).Warn("tx conflict, retrying")
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, maxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		return err
	}
	return nil
}

func runTx(ctx context.Context, db TxBeginner, fn func(tx pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
