package generation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"serotonyl.ru/pumpreels-bot/internal/common"
	"serotonyl.ru/pumpreels-bot/internal/features/ledger"
)

// MemoryStore — Store в памяти. Резерв и возврат меняют баланс
// и задачу под одним мьютексом.
type MemoryStore struct {
	mu      sync.Mutex
	ledger  ledger.Store
	jobs    map[uuid.UUID]*Job
	byVideo map[string]uuid.UUID
}

// NewMemoryStore создаёт хранилище поверх ledger-хранилища.
func NewMemoryStore(l ledger.Store) *MemoryStore {
	return &MemoryStore{
		ledger:  l,
		jobs:    make(map[uuid.UUID]*Job),
		byVideo: make(map[string]uuid.UUID),
	}
}

func (m *MemoryStore) Reserve(ctx context.Context, job *Job) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	balance, err := m.ledger.Decrement(ctx, job.GroupID, job.Cost)
	if err != nil {
		return balance, err
	}

	now := common.NowUTC()
	job.Settlement = SettlementReserved
	job.CreatedAt = now
	job.UpdatedAt = now
	c := *job
	m.jobs[job.RequestID] = &c
	return balance, nil
}

func (m *MemoryStore) AttachVideo(_ context.Context, requestID uuid.UUID, videoID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[requestID]
	if !ok {
		return common.ErrJobNotFound
	}
	j.VideoID = videoID
	j.UpdatedAt = common.NowUTC()
	m.byVideo[videoID] = requestID
	return nil
}

func (m *MemoryStore) UpdateProgress(_ context.Context, requestID uuid.UUID, status Status, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[requestID]
	if !ok {
		return common.ErrJobNotFound
	}
	j.Status = status
	j.Progress = progress
	j.UpdatedAt = common.NowUTC()
	return nil
}

func (m *MemoryStore) MarkCharged(_ context.Context, requestID uuid.UUID, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[requestID]
	if !ok {
		return common.ErrJobNotFound
	}
	if j.Settlement != SettlementReserved {
		return common.ErrAlreadySettled
	}
	now := common.NowUTC()
	j.Settlement = SettlementCharged
	j.Status = StatusFinished
	j.Progress = 100
	j.ResultURL = url
	j.SettledAt = &now
	j.UpdatedAt = now
	return nil
}

func (m *MemoryStore) Refund(ctx context.Context, requestID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[requestID]
	if !ok {
		return 0, common.ErrJobNotFound
	}
	if j.Settlement != SettlementReserved {
		return 0, common.ErrAlreadySettled
	}

	balance, err := m.ledger.Increment(ctx, j.GroupID, j.Cost)
	if err != nil {
		return 0, err
	}
	now := common.NowUTC()
	j.Settlement = SettlementRefunded
	j.SettledAt = &now
	j.UpdatedAt = now
	return balance, nil
}

func (m *MemoryStore) Get(_ context.Context, requestID uuid.UUID) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[requestID]
	if !ok {
		return nil, common.ErrJobNotFound
	}
	c := *j
	return &c, nil
}

func (m *MemoryStore) GetByVideo(_ context.Context, videoID string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byVideo[videoID]
	if !ok {
		return nil, common.ErrJobNotFound
	}
	c := *m.jobs[id]
	return &c, nil
}

func (m *MemoryStore) StaleReserved(_ context.Context, createdBefore time.Time) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Job
	for _, j := range m.jobs {
		if j.Settlement == SettlementReserved && j.CreatedAt.Before(createdBefore) {
			c := *j
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}
