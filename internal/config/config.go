// Package config загружает конфигурацию бота из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Telegram ---
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`
	// Username бота без @. По нему узнаём, что добавили именно нас.
	TelegramBotUsername string `envconfig:"TELEGRAM_BOT_USERNAME" default:"pumpreels_bot"`
	// ID операторов через запятую (им доступна команда /grant)
	AdminIDsRaw string  `envconfig:"ADMIN_IDS" default:""`
	AdminIDs    []int64 `envconfig:"-"` // заполним вручную

	// --- Database ---
	// В Docker внутри контейнера "localhost" почти всегда неправильно.
	// Дефолт ставим "postgres" (имя сервиса в docker-compose), а для локалки переопределяй DB_HOST=localhost.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"botuser"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" default:"pumpreels"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`
	// Сколько раз повторять транзакцию при serialization failure / deadlock
	DBTxMaxRetries uint64 `envconfig:"DB_TX_MAX_RETRIES" default:"5"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`

	// --- Bot runtime ---
	// Сколько апдейтов обрабатываем параллельно. Иначе "go на каждый апдейт" = утечка памяти при флуде.
	// Генерация держит слот до 5 минут, поэтому лимит щедрый.
	BotMaxInflight int `envconfig:"BOT_MAX_INFLIGHT" default:"64"`
	// Таймаут long polling (секунды)
	BotUpdateTimeoutSeconds int `envconfig:"BOT_UPDATE_TIMEOUT_SECONDS" default:"60"`

	// --- HTTP ---
	HTTPAddr            string        `envconfig:"HTTP_ADDR" default:":5000"`
	HTTPReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	HTTPShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
	HTTPRateLimit       int           `envconfig:"HTTP_RATE_LIMIT" default:"120"`
	HTTPRateWindow      time.Duration `envconfig:"HTTP_RATE_WINDOW" default:"1m"`
	// Максимальный размер загружаемого изображения (байт)
	HTTPMaxImageBytes int64 `envconfig:"HTTP_MAX_IMAGE_BYTES" default:"10485760"`

	// --- Video provider (Pika) ---
	ProviderBaseURL        string        `envconfig:"PIKA_BASE_URL" default:"https://devapi.pika.art"`
	ProviderAPIKey         string        `envconfig:"PIKA_API_KEY" required:"true"`
	ProviderRequestTimeout time.Duration `envconfig:"PIKA_REQUEST_TIMEOUT" default:"30s"`
	ProviderNegativePrompt string        `envconfig:"PIKA_NEGATIVE_PROMPT" default:"blurry, low quality"`
	ProviderSeed           int64         `envconfig:"PIKA_SEED" default:"12345"`
	ProviderDuration       int           `envconfig:"PIKA_DURATION" default:"5"`
	ProviderResolution     string        `envconfig:"PIKA_RESOLUTION" default:"720p"`
	// Circuit breaker: после N ошибок подряд провайдер считается недоступным на BreakerTimeout
	BreakerFailureThreshold uint32        `envconfig:"PIKA_BREAKER_FAILURES" default:"5"`
	BreakerTimeout          time.Duration `envconfig:"PIKA_BREAKER_TIMEOUT" default:"30s"`

	// --- Generation ---
	// Стоимость одного видео в кредитах
	VideoCost int64 `envconfig:"VIDEO_COST" default:"50"`
	// Интервал опроса провайдера (меньше секунды)
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"100ms"`
	// Жёсткий лимит ожидания одной задачи
	PollBudget time.Duration `envconfig:"POLL_BUDGET" default:"300s"`
	// Сколько ждать сверх PollBudget, прежде чем sweeper вернёт зависший резерв
	SweepGrace    time.Duration `envconfig:"SWEEP_GRACE" default:"5m"`
	SweepSchedule string        `envconfig:"SWEEP_SCHEDULE" default:"@every 1m"`

	// --- Payments (Radom) ---
	// Argon2id-хеш ключа верификации вебхука (scripts/generate_hash.go)
	PaymentWebhookKeyHash  string `envconfig:"PAYMENT_WEBHOOK_KEY_HASH" required:"true"`
	PaymentWebhookHeader   string `envconfig:"PAYMENT_WEBHOOK_HEADER" default:"Radom-Verification-Key"`
	// Ссылка на оплату пакета: <base>/<credits>
	PaymentCheckoutBaseURL string `envconfig:"PAYMENT_CHECKOUT_BASE_URL" default:"https://pay.radom.com/pay"`

	// --- Rate Limiting (бот) ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"10"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`

	// --- Feature Flags ---
	FeatureBotEnabled  bool `envconfig:"FEATURE_BOT_ENABLED" default:"true"`
	FeatureHTTPEnabled bool `envconfig:"FEATURE_HTTP_ENABLED" default:"true"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// IsAdmin проверяет, входит ли userID в ADMIN_IDS.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (c *Config) Validate() error {
	if c.BotMaxInflight <= 0 {
		return fmt.Errorf("BOT_MAX_INFLIGHT должен быть > 0")
	}
	if c.BotUpdateTimeoutSeconds <= 0 {
		return fmt.Errorf("BOT_UPDATE_TIMEOUT_SECONDS должен быть > 0")
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
	}
	if c.VideoCost <= 0 {
		return fmt.Errorf("VIDEO_COST должен быть > 0")
	}
	if c.PollInterval <= 0 || c.PollInterval >= time.Second {
		return fmt.Errorf("POLL_INTERVAL должен быть в диапазоне (0, 1s)")
	}
	if c.PollBudget < c.PollInterval {
		return fmt.Errorf("POLL_BUDGET должен быть >= POLL_INTERVAL")
	}
	// Иначе sweeper вернёт кредиты, пока последний опрос провайдера ещё идёт
	if c.SweepGrace < c.ProviderRequestTimeout {
		return fmt.Errorf("SWEEP_GRACE должен быть >= PIKA_REQUEST_TIMEOUT")
	}
	if !strings.HasPrefix(c.PaymentWebhookKeyHash, "$argon2id$") {
		return fmt.Errorf("PAYMENT_WEBHOOK_KEY_HASH должен быть в формате argon2id")
	}
	if !c.FeatureBotEnabled && !c.FeatureHTTPEnabled {
		return fmt.Errorf("должен быть включён хотя бы один вход: бот или HTTP")
	}
	return nil
}

// Load читает переменные окружения и заполняет структуру Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	ids, err := parseInt64CSV(cfg.AdminIDsRaw)
	if err != nil {
		return nil, fmt.Errorf("ADMIN_IDS parse: %w", err)
	}
	cfg.AdminIDs = ids

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseInt64CSV(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad int64 %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}
