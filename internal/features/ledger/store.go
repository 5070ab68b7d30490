package ledger

import "context"

// Store — хранилище балансов. Реализации: Repository (PostgreSQL) и MemoryStore.
//
// Decrement и Increment атомарны в пределах одной группы: конкурирующие
// списания сериализуются, и из двух запросов на последние кредиты
// успешен ровно один.
type Store interface {
	Decrement(ctx context.Context, groupID string, amount int64) (int64, error)
	Increment(ctx context.Context, groupID string, amount int64) (int64, error)
	RegisterGroup(ctx context.Context, g Group) (*Group, error)
	GetGroup(ctx context.Context, groupID string) (*Group, error)
	GroupsByCreator(ctx context.Context, creatorID int64) ([]*Group, error)
}
