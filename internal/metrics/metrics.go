// Package metrics — Prometheus-метрики бота.
// Метрики регистрируются в дефолтном реестре и отдаются через /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Исходы генерации. Timeout и Failed считаются отдельно:
// таймаут не доказывает, что провайдер не доделает видео.
const (
	OutcomeSucceeded           = "succeeded"
	OutcomeFailed              = "failed"
	OutcomeTimeout             = "timeout"
	OutcomeProviderUnavailable = "provider_unavailable"
	OutcomeCanceled            = "canceled"
	OutcomeRejected            = "rejected"
)

var (
	// LedgerOperations считает операции с балансом по типу и результату.
	LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pumpreels_ledger_operations_total",
		Help: "Ledger operations by kind and result",
	}, []string{"op", "result"})

	// PaymentEvents считает события платёжного шлюза.
	PaymentEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pumpreels_payment_events_total",
		Help: "Payment gateway events by type and result",
	}, []string{"event", "result"})

	// CreditsGranted — сколько кредитов начислено по подтверждённым платежам.
	CreditsGranted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pumpreels_credits_granted_total",
		Help: "Credits granted by confirmed payments",
	})

	// GenerationJobs считает завершённые задачи генерации по исходу.
	GenerationJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pumpreels_generation_jobs_total",
		Help: "Generation jobs by terminal outcome",
	}, []string{"outcome"})

	// Refunds считает применённые возвраты по источнику (await, status, sweep).
	Refunds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pumpreels_refunds_total",
		Help: "Applied refunds by trigger",
	}, []string{"trigger"})

	// InflightGenerations — сколько задач сейчас ждут провайдера.
	InflightGenerations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pumpreels_generations_inflight",
		Help: "Generation jobs currently being polled",
	})

	// GenerationDuration — время от старта до терминального состояния.
	GenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pumpreels_generation_duration_seconds",
		Help:    "Time from job start to terminal state",
		Buckets: []float64{5, 15, 30, 60, 120, 180, 240, 300},
	})

	// ProviderRequests считает запросы к провайдеру видео.
	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pumpreels_provider_requests_total",
		Help: "Requests to the video provider by operation and result",
	}, []string{"op", "result"})

	// ProviderBreakerState — 0 closed, 1 half-open, 2 open.
	ProviderBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pumpreels_provider_breaker_state",
		Help: "Provider circuit breaker state (0=closed, 1=half-open, 2=open)",
	})

	// HTTPRequests — длительность HTTP-запросов по маршруту и коду ответа.
	HTTPRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pumpreels_http_request_duration_seconds",
		Help:    "HTTP request latency by route and status",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	// BotUpdates считает обработанные апдейты Telegram.
	BotUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pumpreels_bot_updates_total",
		Help: "Telegram updates by kind",
	}, []string{"kind"})
)
