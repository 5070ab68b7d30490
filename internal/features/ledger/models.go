// Package ledger ведёт балансы кредитов групп.
// models.go описывает структуру группы.
package ledger

import "time"

// Group — один чат-сообщество со своим балансом кредитов.
// Запись в таблице groups создаётся при добавлении бота в чат
// или при первом начислении. Никогда не удаляется.
type Group struct {
	GroupID   string    `db:"group_id"`   // Telegram chat ID строкой
	Title     string    `db:"title"`      // Название чата на момент регистрации
	ChatType  string    `db:"chat_type"`  // group, supergroup, channel
	Credits   int64     `db:"credits"`    // Баланс, всегда >= 0
	CreatorID *int64    `db:"creator_id"` // Кто добавил бота (nil при неявном создании)
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Пакеты пополнения, которые показывает /credits.
type Package struct {
	Credits  int64
	PriceUSD int64
}

// Packages — доступные пакеты кредитов.
var Packages = []Package{
	{Credits: 2500, PriceUSD: 140},
	{Credits: 6250, PriceUSD: 325},
	{Credits: 12500, PriceUSD: 550},
	{Credits: 25000, PriceUSD: 1000},
}
