package ledger

import (
	"context"
	"sort"
	"sync"

	"serotonyl.ru/pumpreels-bot/internal/common"
)

// MemoryStore — Store в памяти процесса. Используется в тестах
// и для локального запуска без базы. Все операции под одним мьютексом.
type MemoryStore struct {
	mu     sync.Mutex
	groups map[string]*Group
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{groups: make(map[string]*Group)}
}

func (m *MemoryStore) Decrement(_ context.Context, groupID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, common.ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[groupID]
	if !ok {
		return 0, common.ErrGroupNotFound
	}
	if g.Credits < amount {
		return g.Credits, common.ErrInsufficientCredits
	}
	g.Credits -= amount
	g.UpdatedAt = common.NowUTC()
	return g.Credits, nil
}

func (m *MemoryStore) Increment(_ context.Context, groupID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, common.ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := common.NowUTC()
	g, ok := m.groups[groupID]
	if !ok {
		g = &Group{GroupID: groupID, CreatedAt: now}
		m.groups[groupID] = g
	}
	g.Credits += amount
	g.UpdatedAt = now
	return g.Credits, nil
}

func (m *MemoryStore) RegisterGroup(_ context.Context, in Group) (*Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := common.NowUTC()
	g, ok := m.groups[in.GroupID]
	if !ok {
		g = &Group{GroupID: in.GroupID, CreatedAt: now}
		m.groups[in.GroupID] = g
	}
	g.Title = in.Title
	g.ChatType = in.ChatType
	if g.CreatorID == nil && in.CreatorID != nil {
		id := *in.CreatorID
		g.CreatorID = &id
	}
	g.UpdatedAt = now

	out := *g
	return &out, nil
}

func (m *MemoryStore) GetGroup(_ context.Context, groupID string) (*Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[groupID]
	if !ok {
		return nil, common.ErrGroupNotFound
	}
	out := *g
	return &out, nil
}

func (m *MemoryStore) GroupsByCreator(_ context.Context, creatorID int64) ([]*Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Group
	for _, g := range m.groups {
		if g.CreatorID != nil && *g.CreatorID == creatorID {
			c := *g
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
