// Package generation — service.go координирует генерацию от начала до конца:
// проверка запроса, резерв кредитов, запуск задачи у провайдера,
// ожидание результата и расчёт (списание или возврат).
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/pumpreels-bot/internal/common"
	"serotonyl.ru/pumpreels-bot/internal/metrics"
)

// settleTimeout — сколько даём на запись итога, когда контекст запроса уже отменён.
const settleTimeout = 10 * time.Second

// chargeRetries — повторы записи списания после первой неудачной попытки.
const chargeRetries = 3

// Источники возврата для метрик и логов.
const (
	TriggerAwait  = "await"
	TriggerStart  = "start"
	TriggerStatus = "status"
	TriggerSweep  = "sweep"
)

// Service — оркестратор генерации.
type Service struct {
	store    Store
	provider Provider
	poller   *Poller
	cost     int64
}

// NewService создаёт оркестратор. cost — стоимость одного видео в кредитах.
func NewService(store Store, provider Provider, poller *Poller, cost int64) *Service {
	return &Service{store: store, provider: provider, poller: poller, cost: cost}
}

// Cost возвращает стоимость одного видео.
func (s *Service) Cost() int64 {
	return s.cost
}

// Generate выполняет запрос целиком: Start, затем Await.
// Итог по кредитам: -cost при успехе, 0 при любой неудаче.
func (s *Service) Generate(ctx context.Context, req Request, onProgress ProgressFunc) (*Result, error) {
	job, err := s.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.Await(ctx, job, onProgress)
}

// Start проверяет запрос, резервирует кредиты и запускает задачу у провайдера.
// ErrInsufficientCredits и ErrGroupNotFound возвращаются без побочных эффектов.
// Если провайдер не принял задачу, резерв возвращается и отдаётся
// ErrProviderUnavailable.
func (s *Service) Start(ctx context.Context, req Request) (*Job, error) {
	prompt := strings.TrimSpace(req.PromptText)
	if prompt == "" {
		return nil, common.ErrEmptyPrompt
	}
	if len(req.Image) == 0 {
		return nil, common.ErrEmptyImage
	}

	job := &Job{
		RequestID:  uuid.New(),
		GroupID:    req.GroupID,
		Cost:       s.cost,
		PromptText: prompt,
		Status:     StatusQueued,
	}
	logger := log.WithFields(log.Fields{
		"request_id": job.RequestID,
		"group_id":   job.GroupID,
	})

	balance, err := s.store.Reserve(ctx, job)
	if err != nil {
		metrics.GenerationJobs.WithLabelValues(metrics.OutcomeRejected).Inc()
		return nil, err
	}
	logger.WithFields(log.Fields{
		"cost":    job.Cost,
		"balance": balance,
		"prompt":  common.Truncate(prompt, 60),
	}).Info("credits reserved for generation")

	videoID, err := s.provider.CreateVideo(ctx, prompt, req.Image, req.ImageName)
	if err != nil {
		logger.WithError(err).Error("provider rejected video job")
		s.refund(ctx, job, TriggerStart)
		metrics.GenerationJobs.WithLabelValues(metrics.OutcomeProviderUnavailable).Inc()
		if !errors.Is(err, common.ErrProviderUnavailable) {
			err = fmt.Errorf("%w: %w", common.ErrProviderUnavailable, err)
		}
		return nil, err
	}

	if err := s.store.AttachVideo(ctx, job.RequestID, videoID); err != nil {
		// Задача у провайдера уже идёт, но без video_id мы её не отследим
		logger.WithError(err).WithField("video_id", videoID).Error("failed to store video id")
		s.refund(ctx, job, TriggerStart)
		return nil, fmt.Errorf("store video id: %w", err)
	}
	job.VideoID = videoID

	logger.WithField("video_id", videoID).Info("video job started")
	return job, nil
}

// Await ждёт терминального состояния задачи и рассчитывается по ней.
// При ErrJobFailed, ErrTimeout и отмене ctx кредиты возвращаются.
func (s *Service) Await(ctx context.Context, job *Job, onProgress ProgressFunc) (*Result, error) {
	metrics.InflightGenerations.Inc()
	defer metrics.InflightGenerations.Dec()
	started := time.Now()

	logger := log.WithFields(log.Fields{
		"request_id": job.RequestID,
		"group_id":   job.GroupID,
		"video_id":   job.VideoID,
	})

	url, err := s.poller.AwaitTerminal(ctx, job.VideoID, func(progress int) {
		if err := s.store.UpdateProgress(ctx, job.RequestID, StatusStarted, progress); err != nil {
			logger.WithError(err).Debug("failed to persist progress")
		}
		if onProgress != nil {
			onProgress(progress)
		}
	})
	metrics.GenerationDuration.Observe(time.Since(started).Seconds())

	if err == nil {
		settleCtx, cancel := settleContext(ctx)
		defer cancel()

		err := s.charge(settleCtx, job, url)
		switch {
		case errors.Is(err, common.ErrAlreadySettled):
			s.reportSettled(settleCtx, job, logger)
		case err != nil:
			// Задача остаётся в reserved, sweeper сверится с провайдером
			logger.WithError(err).Error("failed to mark job charged")
		}
		metrics.GenerationJobs.WithLabelValues(metrics.OutcomeSucceeded).Inc()
		logger.Info("video ready")

		job.Status = StatusFinished
		job.Progress = 100
		job.ResultURL = url
		return &Result{Job: job, URL: url}, nil
	}

	outcome := metrics.OutcomeFailed
	switch {
	case errors.Is(err, common.ErrTimeout):
		outcome = metrics.OutcomeTimeout
		logger.WithError(err).Warn("video job timed out, provider may still finish it")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = metrics.OutcomeCanceled
		logger.WithError(err).Warn("stopped waiting for video job")
	default:
		logger.WithError(err).Error("video job failed")
	}
	metrics.GenerationJobs.WithLabelValues(outcome).Inc()

	s.refund(ctx, job, TriggerAwait)
	job.Status = StatusFailed
	return nil, err
}

// Status опрашивает провайдера один раз и сохраняет прогресс.
// Для failed/canceled вызывает тот же защищённый возврат, что и Await,
// поэтому два пути вместе вернут кредиты не больше одного раза.
func (s *Service) Status(ctx context.Context, videoID, groupID string) (*VideoStatus, error) {
	job, err := s.store.GetByVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if groupID != "" && job.GroupID != groupID {
		return nil, common.ErrJobNotFound
	}

	st, err := s.provider.VideoStatus(ctx, videoID)
	if err != nil {
		return nil, err
	}

	logger := log.WithFields(log.Fields{
		"request_id": job.RequestID,
		"group_id":   job.GroupID,
		"video_id":   videoID,
		"status":     st.Status,
	})

	switch st.Status {
	case StatusQueued, StatusPending, StatusStarted:
		if err := s.store.UpdateProgress(ctx, job.RequestID, st.Status, st.Progress); err != nil {
			logger.WithError(err).Debug("failed to persist progress")
		}

	case StatusFinished:
		if st.URL == "" {
			logger.Error("video finished without url")
			s.refund(ctx, job, TriggerStatus)
			st.Status = StatusFailed
			break
		}
		if err := s.charge(ctx, job, st.URL); err != nil && !errors.Is(err, common.ErrAlreadySettled) {
			logger.WithError(err).Error("failed to mark job charged")
		}

	case StatusFailed, StatusCanceled:
		if err := s.store.UpdateProgress(ctx, job.RequestID, st.Status, st.Progress); err != nil {
			logger.WithError(err).Debug("failed to persist status")
		}
		s.refund(ctx, job, TriggerStatus)

	default:
		logger.Info("unknown video status")
	}

	if st.Status != StatusFinished {
		st.URL = ""
	}
	return st, nil
}

// SweepStale разбирает задачи, которые висят в reserved дольше olderThan
// (процесс упал или не смог записать итог). Перед возвратом спрашивает
// провайдера: готовое видео списывается, остальное возвращается.
// Возвращает число возвратов.
func (s *Service) SweepStale(ctx context.Context, olderThan time.Duration) (int, error) {
	jobs, err := s.store.StaleReserved(ctx, common.NowUTC().Add(-olderThan))
	if err != nil {
		return 0, err
	}

	refunded := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			return refunded, ctx.Err()
		}
		if s.sweepOne(ctx, job) {
			refunded++
		}
	}
	return refunded, nil
}

// sweepOne рассчитывается по одной зависшей задаче. true — кредиты возвращены.
func (s *Service) sweepOne(ctx context.Context, job *Job) bool {
	if job.VideoID == "" {
		return s.refund(ctx, job, TriggerSweep)
	}

	logger := log.WithFields(log.Fields{
		"request_id": job.RequestID,
		"group_id":   job.GroupID,
		"video_id":   job.VideoID,
		"trigger":    TriggerSweep,
	})

	st, err := s.provider.VideoStatus(ctx, job.VideoID)
	if err != nil {
		var rejected *clientError
		if !errors.As(err, &rejected) {
			logger.WithError(err).Warn("provider unavailable, stale job left for next sweep")
			return false
		}
		// Провайдер не знает задачу: видео уже не будет
		logger.WithError(err).Warn("provider rejected status query for stale job")
		return s.refund(ctx, job, TriggerSweep)
	}

	if st.Status == StatusFinished && st.URL != "" {
		err := s.charge(ctx, job, st.URL)
		switch {
		case err == nil:
			logger.Info("stale job finished at provider, charged")
		case errors.Is(err, common.ErrAlreadySettled):
			logger.Debug("job already settled, sweep skipped")
		default:
			logger.WithError(err).Error("failed to charge finished stale job")
		}
		return false
	}
	return s.refund(ctx, job, TriggerSweep)
}

// charge записывает списание, повторяя сбои хранилища с экспоненциальной
// задержкой. ErrAlreadySettled и ErrJobNotFound возвращаются сразу.
func (s *Service) charge(ctx context.Context, job *Job, url string) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 20 * time.Millisecond
	policy.MaxInterval = time.Second

	attempt := 0
	op := func() error {
		attempt++
		err := s.store.MarkCharged(ctx, job.RequestID, url)
		if err == nil {
			return nil
		}
		if errors.Is(err, common.ErrAlreadySettled) || errors.Is(err, common.ErrJobNotFound) {
			return backoff.Permanent(err)
		}
		log.WithError(err).WithFields(log.Fields{
			"request_id": job.RequestID,
			"attempt":    attempt,
		}).Warn("charge failed, retrying")
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, chargeRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		return err
	}
	return nil
}

// reportSettled пишет в лог, чем уже закончилась задача, когда списание
// опоздало: предупреждение только если кредиты успели вернуть.
func (s *Service) reportSettled(ctx context.Context, job *Job, logger *log.Entry) {
	stored, err := s.store.Get(ctx, job.RequestID)
	switch {
	case err != nil:
		logger.WithError(err).Warn("job already settled, failed to read settlement")
	case stored.Settlement == SettlementRefunded:
		logger.Warn("late video success after refund, delivering anyway")
	default:
		logger.Debug("job already charged")
	}
}

// refund — единственная точка возврата. ErrAlreadySettled означает,
// что итог уже записан, и не считается ошибкой.
func (s *Service) refund(ctx context.Context, job *Job, trigger string) bool {
	settleCtx, cancel := settleContext(ctx)
	defer cancel()

	logger := log.WithFields(log.Fields{
		"request_id": job.RequestID,
		"group_id":   job.GroupID,
		"video_id":   job.VideoID,
		"trigger":    trigger,
	})

	balance, err := s.store.Refund(settleCtx, job.RequestID)
	switch {
	case errors.Is(err, common.ErrAlreadySettled):
		logger.Debug("job already settled, refund skipped")
		return false
	case err != nil:
		logger.WithError(err).Error("refund failed, sweeper will retry")
		return false
	}

	metrics.Refunds.WithLabelValues(trigger).Inc()
	logger.WithFields(log.Fields{
		"cost":    job.Cost,
		"balance": balance,
	}).Info("credits refunded")
	return true
}

// settleContext отвязывает запись итога от отмены запроса.
func settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}
