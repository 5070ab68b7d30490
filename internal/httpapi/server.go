// Package httpapi — HTTP-вход сервиса: вебхуки платёжного шлюза,
// запуск генерации и опрос статуса, баланс группы, health и метрики.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/pumpreels-bot/internal/features/generation"
	"serotonyl.ru/pumpreels-bot/internal/features/ledger"
	"serotonyl.ru/pumpreels-bot/internal/features/payments"
	"serotonyl.ru/pumpreels-bot/internal/metrics"
)

// maxWebhookBytes — предел тела вебхука.
const maxWebhookBytes = 1 << 20

// Options — настройки HTTP-сервера.
type Options struct {
	Addr            string
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
	RateLimit       int
	RateWindow      time.Duration
	MaxImageBytes   int64
	WebhookHeader   string
	WebhookKeyHash  string
}

// Pinger — проверка живости зависимостей для /healthz (pgxpool.Pool подходит).
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server обслуживает HTTP API.
// Генерации, запущенные через API, ждут результата в фоне на собственном
// контексте сервера. Shutdown отменяет их и дожидается возврата кредитов.
type Server struct {
	opts       Options
	ledger     *ledger.Service
	payments   *payments.Service
	generation *generation.Service
	health     Pinger

	jobsCtx  context.Context
	stopJobs context.CancelFunc
	jobs     sync.WaitGroup

	httpServer *http.Server
}

// NewServer собирает сервер. health может быть nil.
func NewServer(opts Options, ledgerSvc *ledger.Service, paymentsSvc *payments.Service, genSvc *generation.Service, health Pinger) *Server {
	jobsCtx, stop := context.WithCancel(context.Background())
	s := &Server{
		opts:       opts,
		ledger:     ledgerSvc,
		payments:   paymentsSvc,
		generation: genSvc,
		health:     health,
		jobsCtx:    jobsCtx,
		stopJobs:   stop,
	}
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: opts.ReadTimeout,
		ReadTimeout:       opts.ReadTimeout,
	}
	return s
}

// Router возвращает chi-роутер со всеми маршрутами.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestMetrics)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/webhooks", func(r chi.Router) {
		r.Use(s.rateLimit())
		r.Use(requireWebhookKey(s.opts.WebhookHeader, s.opts.WebhookKeyHash))
		r.Post("/radom", s.handlePaymentWebhook)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.rateLimit())
		r.Post("/generations", s.handleStartGeneration)
		r.Get("/generations/{video_id}", s.handleGenerationStatus)
		r.Get("/groups/{group_id}", s.handleGroup)
	})

	return r
}

func (s *Server) rateLimit() func(http.Handler) http.Handler {
	if s.opts.RateLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.LimitByIP(s.opts.RateLimit, s.opts.RateWindow)
}

// Run слушает адрес до отмены ctx, затем корректно останавливается.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", s.opts.Addr).Info("HTTP сервер запущен")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			s.stopJobs()
			s.Wait()
			return err
		}
		return nil
	case <-ctx.Done():
	}

	timeout := s.opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown останавливает приём запросов, отменяет фоновые ожидания
// генераций и ждёт, пока они вернут кредиты.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.stopJobs()
	s.Wait()
	log.Info("HTTP сервер остановлен")
	return err
}

// Wait блокируется до завершения всех фоновых ожиданий генераций.
func (s *Server) Wait() {
	s.jobs.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			log.WithError(err).Warn("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestMetrics пишет длительность запроса по шаблону маршрута chi,
// чтобы video_id и group_id не раздували кардинальность.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Observe(time.Since(started).Seconds())

		log.WithFields(log.Fields{
			"method":   r.Method,
			"route":    route,
			"status":   status,
			"duration": time.Since(started).String(),
		}).Debug("http request")
	})
}
