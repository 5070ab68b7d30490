// Package payments превращает события платёжного шлюза в начисления кредитов.
// Каждое подтверждение платежа начисляет кредиты ровно один раз,
// даже если шлюз повторяет доставку вебхука.
package payments

import "time"

// Status — состояние платёжной транзакции.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
)

// Типы событий шлюза.
const (
	EventManagedPayment       = "managedPayment"
	EventPaymentCreated       = "paymentCreated"
	EventPaymentConfirmed     = "paymentConfirmed"
	EventTransactionConfirmed = "transactionConfirmed"
)

// Ключи метаданных чекаута.
const (
	MetaGroupID = "group_id"
	MetaCredits = "credits"
)

// CreditTransaction — одна оплата через шлюз (таблица credit_transactions).
// Переход pending → confirmed происходит не больше одного раза.
type CreditTransaction struct {
	TransactionKey  string     `db:"transaction_key"`  // ID checkout-сессии шлюза
	GroupID         string     `db:"group_id"`         // Кому начислить
	Credits         int64      `db:"credits"`          // Сколько начислить
	Status          Status     `db:"status"`           // pending / confirmed
	TransactionHash *string    `db:"transaction_hash"` // Хеш в сети (может прийти только с подтверждением)
	Network         *string    `db:"network"`          // Сеть платежа
	CreatedAt       time.Time  `db:"created_at"`
	ConfirmedAt     *time.Time `db:"confirmed_at"`
}

// Confirmation — результат успешного подтверждения.
type Confirmation struct {
	Transaction *CreditTransaction
	Balance     int64 // Баланс группы после начисления
}
