// Package common содержит общие утилиты, используемые во всём проекте.
// Сюда входят: форматирование кредитов и чисел, работа со временем,
// обрезка текста для логов.
package common

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// FormatCredits форматирует баланс в читабельную строку.
//
// Примеры:
//
//	FormatCredits(1)    → "1 credit"
//	FormatCredits(2500) → "2,500 credits"
func FormatCredits(credits int64) string {
	return fmt.Sprintf("%s %s", FormatNumber(credits), PluralizeCredits(credits))
}

// NowUTC возвращает текущее время в UTC.
// Все метки времени в БД пишутся в UTC.
func NowUTC() time.Time {
	return time.Now().UTC()
}

// Truncate обрезает строку до max символов (рун) и добавляет "...".
// Используется, чтобы не тащить в логи длинные промпты.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "..."
}
