package payments

import (
	"context"
	"sync"

	"serotonyl.ru/pumpreels-bot/internal/common"
	"serotonyl.ru/pumpreels-bot/internal/features/ledger"
)

// MemoryStore — Store в памяти. Подтверждение и начисление выполняются
// под одним мьютексом, поэтому между ними нет окна для повторной доставки.
type MemoryStore struct {
	mu     sync.Mutex
	ledger ledger.Store
	byKey  map[string]*CreditTransaction
	byHash map[string]string
}

// NewMemoryStore создаёт хранилище поверх ledger-хранилища.
func NewMemoryStore(l ledger.Store) *MemoryStore {
	return &MemoryStore{
		ledger: l,
		byKey:  make(map[string]*CreditTransaction),
		byHash: make(map[string]string),
	}
}

func (m *MemoryStore) SaveIntent(_ context.Context, in Intent) (*CreditTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.byKey[in.TransactionKey]; ok {
		return clone(t), nil
	}

	t := &CreditTransaction{
		TransactionKey: in.TransactionKey,
		GroupID:        in.GroupID,
		Credits:        in.Credits,
		Status:         StatusPending,
		CreatedAt:      common.NowUTC(),
	}
	if in.Hash != "" {
		h := in.Hash
		t.TransactionHash = &h
		m.byHash[h] = in.TransactionKey
	}
	if in.Network != "" {
		n := in.Network
		t.Network = &n
	}
	m.byKey[in.TransactionKey] = t
	return clone(t), nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (*CreditTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.byKey[key]
	if !ok {
		return nil, common.ErrTransactionNotFound
	}
	return clone(t), nil
}

func (m *MemoryStore) Confirm(ctx context.Context, hash, sessionKey string) (*Confirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.find(hash, sessionKey)
	if t == nil {
		return nil, common.ErrTransactionNotFound
	}
	if t.Status == StatusConfirmed {
		return nil, common.ErrAlreadyConfirmed
	}

	balance, err := m.ledger.Increment(ctx, t.GroupID, t.Credits)
	if err != nil {
		return nil, err
	}

	now := common.NowUTC()
	t.Status = StatusConfirmed
	t.ConfirmedAt = &now
	if t.TransactionHash == nil && hash != "" {
		h := hash
		t.TransactionHash = &h
		m.byHash[h] = t.TransactionKey
	}
	return &Confirmation{Transaction: clone(t), Balance: balance}, nil
}

func (m *MemoryStore) find(hash, sessionKey string) *CreditTransaction {
	if hash != "" {
		if key, ok := m.byHash[hash]; ok {
			return m.byKey[key]
		}
	}
	if sessionKey == "" {
		return nil
	}
	t, ok := m.byKey[sessionKey]
	if !ok {
		return nil
	}
	if hash != "" && t.TransactionHash != nil && *t.TransactionHash != hash {
		return nil
	}
	return t
}

func clone(t *CreditTransaction) *CreditTransaction {
	c := *t
	return &c
}
