package generation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store хранит задачи генерации и их финансовый итог.
//
// Reserve списывает стоимость и создаёт задачу в одной атомарной операции.
// MarkCharged и Refund переводят settlement из reserved, и только из него:
// повторный вызов возвращает ErrAlreadySettled. Refund в той же операции
// возвращает кредиты группе.
type Store interface {
	Reserve(ctx context.Context, job *Job) (int64, error)
	AttachVideo(ctx context.Context, requestID uuid.UUID, videoID string) error
	UpdateProgress(ctx context.Context, requestID uuid.UUID, status Status, progress int) error
	MarkCharged(ctx context.Context, requestID uuid.UUID, url string) error
	Refund(ctx context.Context, requestID uuid.UUID) (int64, error)
	Get(ctx context.Context, requestID uuid.UUID) (*Job, error)
	GetByVideo(ctx context.Context, videoID string) (*Job, error)
	StaleReserved(ctx context.Context, createdBefore time.Time) ([]*Job, error)
}
