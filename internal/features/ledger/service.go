// Package ledger — service.go: бизнес-логика балансов поверх Store.
package ledger

import (
	"context"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/pumpreels-bot/internal/common"
	"serotonyl.ru/pumpreels-bot/internal/metrics"
)

// Service — операции с балансами для обработчиков бота и HTTP.
type Service struct {
	store Store
}

// NewService создаёт сервис балансов.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Decrement списывает кредиты. Ошибки ErrInsufficientCredits и
// ErrGroupNotFound ожидаемы и возвращаются как есть.
func (s *Service) Decrement(ctx context.Context, groupID string, amount int64) (int64, error) {
	balance, err := s.store.Decrement(ctx, groupID, amount)
	metrics.LedgerOperations.WithLabelValues("decrement", resultLabel(err)).Inc()
	if err != nil {
		return balance, err
	}
	log.WithFields(log.Fields{
		"group_id": groupID,
		"amount":   amount,
		"balance":  balance,
	}).Debug("credits decremented")
	return balance, nil
}

// Increment начисляет кредиты. Не идемпотентен: два вызова начисляют дважды.
func (s *Service) Increment(ctx context.Context, groupID string, amount int64) (int64, error) {
	balance, err := s.store.Increment(ctx, groupID, amount)
	metrics.LedgerOperations.WithLabelValues("increment", resultLabel(err)).Inc()
	if err != nil {
		return 0, err
	}
	log.WithFields(log.Fields{
		"group_id": groupID,
		"amount":   amount,
		"balance":  balance,
	}).Debug("credits incremented")
	return balance, nil
}

// Register регистрирует группу, в которую добавили бота.
func (s *Service) Register(ctx context.Context, g Group) (*Group, error) {
	g.GroupID = strings.TrimSpace(g.GroupID)
	if g.GroupID == "" {
		return nil, common.ErrGroupNotFound
	}
	out, err := s.store.RegisterGroup(ctx, g)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"group_id": out.GroupID,
		"title":    out.Title,
		"credits":  out.Credits,
	}).Info("group registered")
	return out, nil
}

// Balance возвращает текущий баланс группы.
func (s *Service) Balance(ctx context.Context, groupID string) (int64, error) {
	g, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return 0, err
	}
	return g.Credits, nil
}

// Group возвращает группу целиком.
func (s *Service) Group(ctx context.Context, groupID string) (*Group, error) {
	return s.store.GetGroup(ctx, groupID)
}

// GroupsByCreator возвращает группы пользователя (для /credits в личке).
func (s *Service) GroupsByCreator(ctx context.Context, creatorID int64) ([]*Group, error) {
	return s.store.GroupsByCreator(ctx, creatorID)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, common.ErrInsufficientCredits):
		return "insufficient"
	case errors.Is(err, common.ErrGroupNotFound):
		return "not_found"
	case errors.Is(err, common.ErrInvalidAmount):
		return "invalid"
	default:
		return "error"
	}
}
