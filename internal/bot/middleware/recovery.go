package middleware

import (
	"fmt"
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/pumpreels-bot/internal/metrics"
)

// RecoverFromPanic вызывается через defer в горутине апдейта.
func RecoverFromPanic() {
	if r := recover(); r != nil {
		metrics.BotUpdates.WithLabelValues("panic").Inc()
		log.WithFields(log.Fields{
			"component": "panic_recovery",
			"panic":     fmt.Sprintf("%v", r),
			"stack":     string(debug.Stack()),
		}).Error("ПАНИКА в обработчике — восстановлено")
	}
}
