package payments

import "context"

// Store хранит платёжные транзакции.
//
// Confirm обязан перевести транзакцию в confirmed и начислить кредиты
// в одной атомарной операции: второй вызов для той же транзакции
// видит confirmed и возвращает ErrAlreadyConfirmed, не трогая баланс.
type Store interface {
	SaveIntent(ctx context.Context, in Intent) (*CreditTransaction, error)
	Confirm(ctx context.Context, hash, sessionKey string) (*Confirmation, error)
	Get(ctx context.Context, transactionKey string) (*CreditTransaction, error)
}
