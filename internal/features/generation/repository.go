// Package generation — repository.go работает с таблицей generation_jobs.
package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/pumpreels-bot/internal/common"
	"serotonyl.ru/pumpreels-bot/internal/db/postgres"
	"serotonyl.ru/pumpreels-bot/internal/features/ledger"
)

const selectJob = `
	SELECT request_id, group_id, cost, COALESCE(video_id, ''), prompt_text, status, progress,
	       result_url, settlement, created_at, updated_at, settled_at
	FROM generation_jobs
`

// Repository — PostgreSQL-реализация Store.
type Repository struct {
	db         *pgxpool.Pool
	maxRetries uint64
}

// NewRepository создаёт репозиторий задач.
func NewRepository(db *pgxpool.Pool, maxRetries uint64) *Repository {
	return &Repository{db: db, maxRetries: maxRetries}
}

// Reserve списывает job.Cost с группы и сохраняет задачу со settlement=reserved.
func (r *Repository) Reserve(ctx context.Context, job *Job) (int64, error) {
	var balance int64
	err := postgres.WithTx(ctx, r.db, r.maxRetries, func(tx pgx.Tx) error {
		var err error
		balance, err = ledger.DecrementTx(ctx, tx, job.GroupID, job.Cost)
		if err != nil {
			return err
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO generation_jobs (request_id, group_id, cost, prompt_text, status, progress, settlement)
			VALUES ($1, $2, $3, $4, $5, 0, 'reserved')
			RETURNING created_at, updated_at
		`, job.RequestID, job.GroupID, job.Cost, job.PromptText, string(job.Status))
		if err := row.Scan(&job.CreatedAt, &job.UpdatedAt); err != nil {
			return fmt.Errorf("ошибка создания задачи: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	job.Settlement = SettlementReserved
	return balance, nil
}

// AttachVideo сохраняет ID видео, выданный провайдером.
func (r *Repository) AttachVideo(ctx context.Context, requestID uuid.UUID, videoID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE generation_jobs SET video_id = $2, updated_at = NOW() WHERE request_id = $1
	`, requestID, videoID)
	if err != nil {
		return fmt.Errorf("ошибка сохранения video_id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrJobNotFound
	}
	return nil
}

// UpdateProgress сохраняет наблюдаемый статус и прогресс.
func (r *Repository) UpdateProgress(ctx context.Context, requestID uuid.UUID, status Status, progress int) error {
	_, err := r.db.Exec(ctx, `
		UPDATE generation_jobs SET status = $2, progress = $3, updated_at = NOW() WHERE request_id = $1
	`, requestID, string(status), progress)
	if err != nil {
		return fmt.Errorf("ошибка обновления прогресса: %w", err)
	}
	return nil
}

// MarkCharged фиксирует успех: reserved → charged.
// Конфликты сериализации повторяются внутри WithTx.
func (r *Repository) MarkCharged(ctx context.Context, requestID uuid.UUID, url string) error {
	return postgres.WithTx(ctx, r.db, r.maxRetries, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE generation_jobs
			SET settlement = 'charged', status = 'finished', progress = 100, result_url = $2,
			    settled_at = NOW(), updated_at = NOW()
			WHERE request_id = $1 AND settlement = 'reserved'
		`, requestID, url)
		if err != nil {
			return fmt.Errorf("ошибка списания по задаче: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return r.settledOrMissing(ctx, tx, requestID)
		}
		return nil
	})
}

// Refund возвращает кредиты: reserved → refunded и начисление в одной транзакции.
// Условный UPDATE гарантирует, что возврат по задаче применяется один раз.
func (r *Repository) Refund(ctx context.Context, requestID uuid.UUID) (int64, error) {
	var balance int64
	err := postgres.WithTx(ctx, r.db, r.maxRetries, func(tx pgx.Tx) error {
		var groupID string
		var cost int64
		err := tx.QueryRow(ctx, `
			UPDATE generation_jobs
			SET settlement = 'refunded', settled_at = NOW(), updated_at = NOW()
			WHERE request_id = $1 AND settlement = 'reserved'
			RETURNING group_id, cost
		`, requestID).Scan(&groupID, &cost)
		if errors.Is(err, pgx.ErrNoRows) {
			return r.settledOrMissing(ctx, tx, requestID)
		}
		if err != nil {
			return fmt.Errorf("ошибка возврата по задаче: %w", err)
		}

		balance, err = ledger.IncrementTx(ctx, tx, groupID, cost)
		return err
	})
	return balance, err
}

// Get возвращает задачу по request_id.
func (r *Repository) Get(ctx context.Context, requestID uuid.UUID) (*Job, error) {
	return r.getOne(ctx, selectJob+` WHERE request_id = $1`, requestID)
}

// GetByVideo возвращает задачу по ID видео провайдера.
func (r *Repository) GetByVideo(ctx context.Context, videoID string) (*Job, error) {
	return r.getOne(ctx, selectJob+` WHERE video_id = $1`, videoID)
}

// StaleReserved возвращает задачи, которые висят в reserved дольше допустимого.
func (r *Repository) StaleReserved(ctx context.Context, createdBefore time.Time) ([]*Job, error) {
	rows, err := r.db.Query(ctx, selectJob+`
		WHERE settlement = 'reserved' AND created_at < $1
		ORDER BY created_at
		LIMIT 500
	`, createdBefore)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска зависших задач: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения задачи: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *Repository) settledOrMissing(ctx context.Context, q querier, requestID uuid.UUID) error {
	var exists bool
	if err := q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM generation_jobs WHERE request_id = $1)`, requestID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("ошибка проверки задачи: %w", err)
	}
	if !exists {
		return common.ErrJobNotFound
	}
	return common.ErrAlreadySettled
}

func (r *Repository) getOne(ctx context.Context, query string, arg any) (*Job, error) {
	j, err := scanJob(r.db.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения задачи: %w", err)
	}
	return j, nil
}

func scanJob(row pgx.Row) (*Job, error) {
	j := &Job{}
	var status, settlement string
	err := row.Scan(&j.RequestID, &j.GroupID, &j.Cost, &j.VideoID, &j.PromptText, &status, &j.Progress,
		&j.ResultURL, &settlement, &j.CreatedAt, &j.UpdatedAt, &j.SettledAt)
	if err != nil {
		return nil, err
	}
	j.Status = Status(status)
	j.Settlement = Settlement(settlement)
	return j, nil
}
