// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: возврат кредитов по зависшим резервам.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Sweeper возвращает кредиты по задачам, зависшим в reserved дольше olderThan.
type Sweeper interface {
	SweepStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron      *cron.Cron
	sweeper   Sweeper
	schedule  string
	olderThan time.Duration
}

// NewScheduler создаёт планировщик. olderThan должен быть больше бюджета
// опроса провайдера, иначе sweeper заберёт резерв у живого ожидания.
func NewScheduler(sweeper Sweeper, schedule string, olderThan time.Duration) *Scheduler {
	logger := cron.PrintfLogger(log.StandardLogger())
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	return &Scheduler{
		cron:      c,
		sweeper:   sweeper,
		schedule:  schedule,
		olderThan: olderThan,
	}
}

// Start регистрирует задачи и запускает cron.
// Первый проход выполняется сразу: резервы могли остаться после падения процесса.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunSweep(ctx) }); err != nil {
		return fmt.Errorf("некорректное расписание %q: %w", s.schedule, err)
	}

	go s.RunSweep(ctx)

	s.cron.Start()
	log.WithFields(log.Fields{
		"schedule":   s.schedule,
		"older_than": s.olderThan.String(),
	}).Info("Планировщик задач запущен")
	return nil
}

// RunSweep выполняет один проход возврата зависших резервов.
func (s *Scheduler) RunSweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	n, err := s.sweeper.SweepStale(ctx, s.olderThan)
	if err != nil {
		log.WithError(err).Error("[CRON] Ошибка возврата зависших резервов")
		return
	}
	if n > 0 {
		log.WithField("refunded", n).Warn("[CRON] Возвращены кредиты по зависшим задачам")
		return
	}
	log.Debug("[CRON] Зависших резервов нет")
}

// Stop останавливает планировщик и ждёт текущую задачу.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}
