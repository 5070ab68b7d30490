// Package payments — service.go: разбор событий шлюза и начисление кредитов.
package payments

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/pumpreels-bot/internal/common"
	"serotonyl.ru/pumpreels-bot/internal/metrics"
)

// Notifier сообщает группе о пополнении баланса.
type Notifier interface {
	CreditsAdded(ctx context.Context, groupID string, credits, balance int64) error
}

// Service обрабатывает события платёжного шлюза.
type Service struct {
	store    Store
	notifier Notifier
}

// NewService создаёт сервис платежей. notifier может быть nil.
func NewService(store Store, notifier Notifier) *Service {
	return &Service{store: store, notifier: notifier}
}

// RecordIntent сохраняет pending-транзакцию из события создания платежа
// и возвращает её ключ. Повторная доставка возвращает тот же ключ.
func (s *Service) RecordIntent(ctx context.Context, data []byte) (string, error) {
	in, err := ParseIntent(data)
	if err != nil {
		return "", err
	}

	t, err := s.store.SaveIntent(ctx, *in)
	if err != nil {
		return "", err
	}

	logger := log.WithFields(log.Fields{
		"transaction_key": t.TransactionKey,
		"group_id":        t.GroupID,
		"credits":         t.Credits,
	})
	if t.GroupID != in.GroupID || t.Credits != in.Credits {
		logger.WithFields(log.Fields{
			"redelivered_group_id": in.GroupID,
			"redelivered_credits":  in.Credits,
		}).Warn("payment intent redelivered with different metadata, keeping the first one")
	}
	logger.Info("payment intent recorded")
	return t.TransactionKey, nil
}

// ConfirmByHash подтверждает платёж и начисляет кредиты.
// sessionKey используется, если хеш не был известен в момент создания платежа.
// Возвращает ID группы, которой начислены кредиты.
func (s *Service) ConfirmByHash(ctx context.Context, hash, sessionKey string) (string, error) {
	if hash == "" && sessionKey == "" {
		return "", fmt.Errorf("%w: transaction hash is empty", common.ErrMalformedEvent)
	}

	c, err := s.store.Confirm(ctx, hash, sessionKey)
	if err != nil {
		return "", err
	}

	t := c.Transaction
	metrics.CreditsGranted.Add(float64(t.Credits))
	log.WithFields(log.Fields{
		"transaction_key":  t.TransactionKey,
		"transaction_hash": hash,
		"group_id":         t.GroupID,
		"credits":          t.Credits,
		"balance":          c.Balance,
	}).Info("payment confirmed")

	if s.notifier != nil {
		if err := s.notifier.CreditsAdded(ctx, t.GroupID, t.Credits, c.Balance); err != nil {
			log.WithError(err).WithField("group_id", t.GroupID).Warn("failed to notify group about payment")
		}
	}
	return t.GroupID, nil
}

// HandleEvent разбирает вебхук и вызывает нужную операцию.
// Повторное подтверждение логируется и не считается ошибкой.
// Неизвестные типы событий пропускаются.
func (s *Service) HandleEvent(ctx context.Context, raw []byte) error {
	ev, err := ParseEvent(raw)
	if err != nil {
		metrics.PaymentEvents.WithLabelValues("unknown", "malformed").Inc()
		return err
	}

	switch ev.EventType {
	case EventManagedPayment, EventPaymentCreated:
		_, err = s.RecordIntent(ctx, ev.EventData)

	case EventPaymentConfirmed, EventTransactionConfirmed:
		var req *ConfirmationRequest
		req, err = ParseConfirmation(ev.EventData)
		if err == nil {
			_, err = s.ConfirmByHash(ctx, req.Hash, req.SessionKey)
		}
		if errors.Is(err, common.ErrAlreadyConfirmed) {
			log.WithField("transaction_hash", req.Hash).Info("duplicate payment confirmation ignored")
			metrics.PaymentEvents.WithLabelValues(ev.EventType, "duplicate").Inc()
			return nil
		}

	default:
		log.WithField("event_type", ev.EventType).Debug("payment event ignored")
		metrics.PaymentEvents.WithLabelValues("other", "ignored").Inc()
		return nil
	}

	metrics.PaymentEvents.WithLabelValues(ev.EventType, eventResult(err)).Inc()
	return err
}

func eventResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, common.ErrMalformedEvent):
		return "malformed"
	case errors.Is(err, common.ErrTransactionNotFound):
		return "not_found"
	default:
		return "error"
	}
}
