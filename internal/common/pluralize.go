// Package common — pluralize.go содержит склонение и форматирование чисел
// для сообщений бота.
package common

import "fmt"

// PluralizeCredits возвращает "credit" для ±1 и "credits" для остальных.
func PluralizeCredits(n int64) string {
	if n == 1 || n == -1 {
		return "credit"
	}
	return "credits"
}

// FormatCreditsDelta создаёт строку вида "+100 credits" или "-50 credits".
func FormatCreditsDelta(amount int64) string {
	if amount >= 0 {
		return "+" + FormatCredits(amount)
	}
	return "-" + FormatCredits(-amount)
}

// FormatNumber форматирует число с разделителями тысяч (запятыми).
// Пример: FormatNumber(12500) → "12,500"
func FormatNumber(n int64) string {
	if n < 0 {
		return "-" + FormatNumber(-n)
	}
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("%s,%03d", FormatNumber(n/1000), n%1000)
}
