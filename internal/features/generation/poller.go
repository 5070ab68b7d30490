// Package generation — poller.go доводит одну задачу провайдера
// до терминального состояния опросом статуса.
package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/pumpreels-bot/internal/common"
)

// ProgressFunc получает прогресс 0–100. Может вызываться повторно
// с тем же значением.
type ProgressFunc func(progress int)

// Poller опрашивает провайдера с фиксированным интервалом в пределах бюджета.
type Poller struct {
	provider Provider
	interval time.Duration
	budget   time.Duration
}

// NewPoller создаёт опросчик.
func NewPoller(provider Provider, interval, budget time.Duration) *Poller {
	return &Poller{provider: provider, interval: interval, budget: budget}
}

// AwaitTerminal опрашивает статус видео, пока задача не завершится.
//
// Переходы:
//
//	queued/pending → started → finished (url) | failed (нет url)
//	любой → failed при failed/canceled
//
// Неизвестные статусы игнорируются, опрос продолжается.
//
// Возвращает url при успехе, ErrJobFailed при провале задачи или ошибке
// запроса статуса (ошибка провайдера в цепочке), ErrTimeout при исчерпании
// бюджета и ctx.Err() при отмене вызывающим.
func (p *Poller) AwaitTerminal(ctx context.Context, videoID string, onProgress ProgressFunc) (string, error) {
	pollCtx, cancel := context.WithTimeout(ctx, p.budget)
	defer cancel()

	logger := log.WithField("video_id", videoID)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	lastProgress := -1
	current := StatusQueued
	for {
		st, err := p.provider.VideoStatus(pollCtx, videoID)
		if err != nil {
			if stop := p.stopReason(ctx, pollCtx); stop != nil {
				return "", stop
			}
			logger.WithError(err).Warn("video status query failed, giving up")
			return "", fmt.Errorf("%w: status query: %w", common.ErrJobFailed, err)
		}

		switch st.Status {
		case StatusQueued, StatusPending:
			logger.WithField("status", st.Status).Debug("video not started yet")

		case StatusStarted:
			current = StatusStarted
			if st.Progress != lastProgress {
				lastProgress = st.Progress
				if onProgress != nil {
					onProgress(st.Progress)
				}
			}

		case StatusFinished:
			if st.URL != "" {
				return st.URL, nil
			}
			logger.Error("video finished without url")
			return "", fmt.Errorf("%w: finished without url", common.ErrJobFailed)

		case StatusFailed, StatusCanceled:
			logger.WithField("status", st.Status).Error("video generation failed")
			return "", fmt.Errorf("%w: provider status %s", common.ErrJobFailed, st.Status)

		default:
			logger.WithFields(log.Fields{
				"status":   st.Status,
				"observed": current,
			}).Info("unknown video status, keep polling")
		}

		select {
		case <-pollCtx.Done():
			return "", p.stopReason(ctx, pollCtx)
		case <-ticker.C:
		}
	}
}

// stopReason отличает отмену вызывающим от исчерпания бюджета.
func (p *Poller) stopReason(parent, pollCtx context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	if errors.Is(pollCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: no terminal status after %s", common.ErrTimeout, p.budget)
	}
	return nil
}
