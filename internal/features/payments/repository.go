// Package payments — repository.go работает с таблицей credit_transactions.
package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/pumpreels-bot/internal/common"
	"serotonyl.ru/pumpreels-bot/internal/db/postgres"
	"serotonyl.ru/pumpreels-bot/internal/features/ledger"
)

const selectTransaction = `
	SELECT transaction_key, group_id, credits, status, transaction_hash, network, created_at, confirmed_at
	FROM credit_transactions
`

// Repository — PostgreSQL-реализация Store.
type Repository struct {
	db         *pgxpool.Pool
	maxRetries uint64
}

// NewRepository создаёт репозиторий платежей.
func NewRepository(db *pgxpool.Pool, maxRetries uint64) *Repository {
	return &Repository{db: db, maxRetries: maxRetries}
}

// SaveIntent сохраняет pending-транзакцию. Повторная доставка того же
// события ничего не меняет и возвращает уже сохранённую запись.
func (r *Repository) SaveIntent(ctx context.Context, in Intent) (*CreditTransaction, error) {
	_, err := r.db.Exec(ctx, `
		INSERT INTO credit_transactions (transaction_key, group_id, credits, status, transaction_hash, network)
		VALUES ($1, $2, $3, 'pending', NULLIF($4, ''), NULLIF($5, ''))
		ON CONFLICT (transaction_key) DO NOTHING
	`, in.TransactionKey, in.GroupID, in.Credits, in.Hash, in.Network)
	if err != nil {
		return nil, fmt.Errorf("ошибка сохранения платежа: %w", err)
	}
	return r.Get(ctx, in.TransactionKey)
}

// Get возвращает транзакцию по ключу сессии.
func (r *Repository) Get(ctx context.Context, transactionKey string) (*CreditTransaction, error) {
	row := r.db.QueryRow(ctx, selectTransaction+` WHERE transaction_key = $1`, transactionKey)
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения платежа: %w", err)
	}
	return t, nil
}

// Confirm подтверждает транзакцию и начисляет кредиты в одной транзакции БД.
// Строка платежа блокируется FOR UPDATE, поэтому параллельная повторная
// доставка ждёт и затем видит уже confirmed.
func (r *Repository) Confirm(ctx context.Context, hash, sessionKey string) (*Confirmation, error) {
	var out *Confirmation
	err := postgres.WithTx(ctx, r.db, r.maxRetries, func(tx pgx.Tx) error {
		t, err := lockTransaction(ctx, tx, hash, sessionKey)
		if err != nil {
			return err
		}
		if t.Status == StatusConfirmed {
			return common.ErrAlreadyConfirmed
		}

		row := tx.QueryRow(ctx, `
			UPDATE credit_transactions
			SET status = 'confirmed',
			    confirmed_at = NOW(),
			    transaction_hash = COALESCE(transaction_hash, NULLIF($2, ''))
			WHERE transaction_key = $1 AND status = 'pending'
			RETURNING transaction_key, group_id, credits, status, transaction_hash, network, created_at, confirmed_at
		`, t.TransactionKey, hash)
		confirmed, err := scanTransaction(row)
		if err != nil {
			return fmt.Errorf("ошибка подтверждения платежа: %w", err)
		}

		balance, err := ledger.IncrementTx(ctx, tx, confirmed.GroupID, confirmed.Credits)
		if err != nil {
			return fmt.Errorf("ошибка начисления по платежу: %w", err)
		}

		out = &Confirmation{Transaction: confirmed, Balance: balance}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// lockTransaction находит транзакцию по хешу, а если хеш ещё не был
// известен, по ключу сессии. Найденная строка блокируется.
func lockTransaction(ctx context.Context, tx pgx.Tx, hash, sessionKey string) (*CreditTransaction, error) {
	if hash != "" {
		row := tx.QueryRow(ctx, selectTransaction+` WHERE transaction_hash = $1 FOR UPDATE`, hash)
		t, err := scanTransaction(row)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("ошибка поиска платежа по хешу: %w", err)
		}
	}

	if sessionKey == "" {
		return nil, common.ErrTransactionNotFound
	}

	row := tx.QueryRow(ctx, selectTransaction+` WHERE transaction_key = $1 FOR UPDATE`, sessionKey)
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска платежа по сессии: %w", err)
	}
	// У сессии уже есть другой хеш: это не наш платёж
	if hash != "" && t.TransactionHash != nil && *t.TransactionHash != hash {
		return nil, common.ErrTransactionNotFound
	}
	return t, nil
}

func scanTransaction(row pgx.Row) (*CreditTransaction, error) {
	t := &CreditTransaction{}
	var status string
	err := row.Scan(&t.TransactionKey, &t.GroupID, &t.Credits, &status,
		&t.TransactionHash, &t.Network, &t.CreatedAt, &t.ConfirmedAt)
	if err != nil {
		return nil, err
	}
	t.Status = Status(status)
	return t, nil
}
