// Package common — errors.go определяет ошибки, общие для всех модулей.
// По ним обработчики (бот, HTTP) различают типы проблем и выбирают
// понятный ответ пользователю или код ответа шлюзу.
package common

import "errors"

// Ошибки леджера (кредиты групп)
var (
	// ErrInvalidAmount — сумма должна быть положительной
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInsufficientCredits — на балансе группы недостаточно кредитов
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrGroupNotFound — группа не зарегистрирована
	ErrGroupNotFound = errors.New("group not found")
)

// Ошибки платёжного шлюза
var (
	// ErrMalformedEvent — в событии нет обязательных полей или метаданных
	ErrMalformedEvent = errors.New("malformed payment event")
	// ErrAlreadyConfirmed — транзакция уже подтверждена (повторная доставка вебхука)
	ErrAlreadyConfirmed = errors.New("transaction already confirmed")
	// ErrTransactionNotFound — нет транзакции с таким hash / session id
	ErrTransactionNotFound = errors.New("credit transaction not found")
	// ErrUnauthorized — вебхук не прошёл проверку подлинности
	ErrUnauthorized = errors.New("unauthorized webhook call")
)

// Ошибки генерации видео
var (
	// ErrEmptyPrompt — пустой текст запроса
	ErrEmptyPrompt = errors.New("prompt text is empty")
	// ErrEmptyImage — не передано изображение
	ErrEmptyImage = errors.New("image is empty")
	// ErrProviderUnavailable — провайдер не ответил или вернул ошибку
	ErrProviderUnavailable = errors.New("video provider unavailable")
	// ErrJobFailed — провайдер завершил задачу неуспешно
	ErrJobFailed = errors.New("video generation failed")
	// ErrTimeout — задача не дошла до терминального статуса за отведённое время
	ErrTimeout = errors.New("video generation timed out")
	// ErrAlreadySettled — резерв по задаче уже списан или возвращён
	ErrAlreadySettled = errors.New("generation job already settled")
	// ErrJobNotFound — задача генерации не найдена
	ErrJobNotFound = errors.New("generation job not found")
)
