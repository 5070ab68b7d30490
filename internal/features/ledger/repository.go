// Package ledger — repository.go выполняет операции с таблицей groups.
// Все изменения баланса идут через транзакции с блокировкой строки группы.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/pumpreels-bot/internal/common"
	"serotonyl.ru/pumpreels-bot/internal/db/postgres"
)

// Repository — PostgreSQL-реализация Store.
type Repository struct {
	db         *pgxpool.Pool
	maxRetries uint64
}

// NewRepository создаёт репозиторий балансов.
// maxRetries — сколько раз повторять транзакцию при конфликте сериализации.
func NewRepository(db *pgxpool.Pool, maxRetries uint64) *Repository {
	return &Repository{db: db, maxRetries: maxRetries}
}

// Decrement списывает amount с баланса группы.
func (r *Repository) Decrement(ctx context.Context, groupID string, amount int64) (int64, error) {
	var balance int64
	err := postgres.WithTx(ctx, r.db, r.maxRetries, func(tx pgx.Tx) error {
		var err error
		balance, err = DecrementTx(ctx, tx, groupID, amount)
		return err
	})
	return balance, err
}

// Increment начисляет amount на баланс группы, создавая группу при необходимости.
func (r *Repository) Increment(ctx context.Context, groupID string, amount int64) (int64, error) {
	var balance int64
	err := postgres.WithTx(ctx, r.db, r.maxRetries, func(tx pgx.Tx) error {
		var err error
		balance, err = IncrementTx(ctx, tx, groupID, amount)
		return err
	})
	return balance, err
}

// DecrementTx списывает кредиты внутри чужой транзакции.
// Строка группы блокируется FOR UPDATE до конца транзакции,
// поэтому параллельные списания по одной группе идут строго по очереди.
func DecrementTx(ctx context.Context, tx pgx.Tx, groupID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, common.ErrInvalidAmount
	}

	var current int64
	err := tx.QueryRow(ctx, `
		SELECT credits FROM groups WHERE group_id = $1 FOR UPDATE
	`, groupID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, common.ErrGroupNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("ошибка получения баланса: %w", err)
	}

	if current < amount {
		return current, common.ErrInsufficientCredits
	}

	var balance int64
	err = tx.QueryRow(ctx, `
		UPDATE groups
		SET credits = credits - $2, updated_at = NOW()
		WHERE group_id = $1
		RETURNING credits
	`, groupID, amount).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("ошибка списания: %w", err)
	}
	return balance, nil
}

// IncrementTx начисляет кредиты внутри чужой транзакции.
// Неизвестная группа создаётся с балансом amount.
func IncrementTx(ctx context.Context, tx pgx.Tx, groupID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, common.ErrInvalidAmount
	}

	var balance int64
	err := tx.QueryRow(ctx, `
		INSERT INTO groups (group_id, credits)
		VALUES ($1, $2)
		ON CONFLICT (group_id) DO UPDATE
		SET credits = groups.credits + EXCLUDED.credits, updated_at = NOW()
		RETURNING credits
	`, groupID, amount).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("ошибка начисления: %w", err)
	}
	return balance, nil
}

// RegisterGroup регистрирует группу. Повторная регистрация обновляет
// название и тип чата, но не трогает баланс. Создатель проставляется,
// только если раньше был неизвестен.
func (r *Repository) RegisterGroup(ctx context.Context, g Group) (*Group, error) {
	query := `
		INSERT INTO groups (group_id, title, chat_type, credits, creator_id)
		VALUES ($1, $2, $3, 0, $4)
		ON CONFLICT (group_id) DO UPDATE
		SET title = EXCLUDED.title,
		    chat_type = EXCLUDED.chat_type,
		    creator_id = COALESCE(groups.creator_id, EXCLUDED.creator_id),
		    updated_at = NOW()
		RETURNING group_id, title, chat_type, credits, creator_id, created_at, updated_at
	`
	out := &Group{}
	err := r.db.QueryRow(ctx, query, g.GroupID, g.Title, g.ChatType, g.CreatorID).Scan(
		&out.GroupID, &out.Title, &out.ChatType, &out.Credits, &out.CreatorID, &out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка регистрации группы: %w", err)
	}
	return out, nil
}

// GetGroup возвращает группу по ID.
func (r *Repository) GetGroup(ctx context.Context, groupID string) (*Group, error) {
	query := `
		SELECT group_id, title, chat_type, credits, creator_id, created_at, updated_at
		FROM groups WHERE group_id = $1
	`
	g := &Group{}
	err := r.db.QueryRow(ctx, query, groupID).Scan(
		&g.GroupID, &g.Title, &g.ChatType, &g.Credits, &g.CreatorID, &g.CreatedAt, &g.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения группы: %w", err)
	}
	return g, nil
}

// GroupsByCreator возвращает группы, куда бота добавил указанный пользователь.
func (r *Repository) GroupsByCreator(ctx context.Context, creatorID int64) ([]*Group, error) {
	rows, err := r.db.Query(ctx, `
		SELECT group_id, title, chat_type, credits, creator_id, created_at, updated_at
		FROM groups WHERE creator_id = $1
		ORDER BY created_at
	`, creatorID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения групп: %w", err)
	}
	defer rows.Close()

	var groups []*Group
	for rows.Next() {
		g := &Group{}
		if err := rows.Scan(&g.GroupID, &g.Title, &g.ChatType, &g.Credits, &g.CreatorID, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ошибка чтения группы: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}
