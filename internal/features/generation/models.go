// Package generation ведёт задачу генерации видео от резерва кредитов
// до результата или возврата.
// models.go описывает задачу, её статусы и запрос на генерацию.
package generation

import (
	"time"

	"github.com/google/uuid"
)

// Status — статус задачи у провайдера.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusPending  Status = "pending"
	StatusStarted  Status = "started"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

// Terminal — после finished/failed/canceled переходов нет.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusFailed || s == StatusCanceled
}

// Settlement — финансовый итог задачи.
// reserved → charged при успехе, reserved → refunded при неудаче. Ровно один переход.
type Settlement string

const (
	SettlementReserved Settlement = "reserved"
	SettlementCharged  Settlement = "charged"
	SettlementRefunded Settlement = "refunded"
)

// Job — одна задача генерации (таблица generation_jobs).
type Job struct {
	RequestID  uuid.UUID  `db:"request_id"`
	GroupID    string     `db:"group_id"`
	Cost       int64      `db:"cost"`        // Сколько кредитов зарезервировано
	VideoID    string     `db:"video_id"`    // ID у провайдера, пустой до принятия задачи
	PromptText string     `db:"prompt_text"` // Текст промпта
	Status     Status     `db:"status"`
	Progress   int        `db:"progress"`   // 0–100
	ResultURL  string     `db:"result_url"` // Только для finished
	Settlement Settlement `db:"settlement"`
	CreatedAt  time.Time  `db:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"`
	SettledAt  *time.Time `db:"settled_at"`
}

// Request — входящий запрос на генерацию.
type Request struct {
	GroupID    string
	PromptText string
	Image      []byte
	ImageName  string // Имя файла для multipart, по умолчанию image.jpg
}

// Result — итог успешной генерации.
type Result struct {
	Job *Job
	URL string
}

// VideoStatus — ответ провайдера о состоянии задачи.
type VideoStatus struct {
	VideoID  string `json:"video_id"`
	Status   Status `json:"status"`
	Progress int    `json:"progress"`
	URL      string `json:"url,omitempty"`
}

// PromptTemplates — готовые промпты для команд /moon, /lambo, /wagmi.
var PromptTemplates = map[string]string{
	"moon":  "It is in the cockpit of a spacecraft, pressing buttons and gazing out at the Moon through the window",
	"lambo": "it is driving a red lamborghini down a road in South Beach, sunny, luxurious background",
	"wagmi": "It is dressed in a black suit with a tie, sitting in private jet seat next to window. Champagne on table, luxurious interior",
}
