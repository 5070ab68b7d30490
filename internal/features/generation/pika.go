// Package generation — pika.go: HTTP-клиент провайдера видео Pika.
// Все запросы идут через circuit breaker: после серии ошибок подряд
// клиент сразу отвечает ErrProviderUnavailable, не нагружая провайдера.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"

	"serotonyl.ru/pumpreels-bot/internal/common"
	"serotonyl.ru/pumpreels-bot/internal/metrics"
)

// Provider — внешний асинхронный генератор видео.
type Provider interface {
	CreateVideo(ctx context.Context, prompt string, image []byte, imageName string) (string, error)
	VideoStatus(ctx context.Context, videoID string) (*VideoStatus, error)
}

// PikaConfig — параметры клиента.
type PikaConfig struct {
	BaseURL          string
	APIKey           string
	Timeout          time.Duration
	NegativePrompt   string
	Seed             int64
	Duration         int
	Resolution       string
	FailureThreshold uint32
	BreakerTimeout   time.Duration
}

// PikaClient — клиент API Pika.
type PikaClient struct {
	cfg     PikaConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
}

// clientError — 4xx от провайдера. Это ошибка запроса, а не сбой
// провайдера, поэтому breaker её не считает.
type clientError struct {
	status int
	body   string
}

func (e *clientError) Error() string {
	return fmt.Sprintf("pika responded %d: %s", e.status, e.body)
}

// NewPikaClient создаёт клиента. httpClient может быть nil.
func NewPikaClient(cfg PikaConfig, httpClient *http.Client) *PikaClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	settings := gobreaker.Settings{
		Name:    "pika",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			var ce *clientError
			return err == nil || errors.As(err, &ce) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.ProviderBreakerState.Set(float64(to))
			log.WithFields(log.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("provider circuit breaker state changed")
		},
	}

	return &PikaClient{
		cfg:     cfg,
		http:    httpClient,
		breaker: gobreaker.NewCircuitBreaker[[]byte](settings),
	}
}

// CreateVideo запускает генерацию image-to-video и возвращает ID видео.
func (c *PikaClient) CreateVideo(ctx context.Context, prompt string, image []byte, imageName string) (string, error) {
	if imageName == "" {
		imageName = "image.jpg"
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fields := [][2]string{
		{"promptText", prompt},
		{"negativePrompt", c.cfg.NegativePrompt},
		{"seed", strconv.FormatInt(c.cfg.Seed, 10)},
		{"duration", strconv.Itoa(c.cfg.Duration)},
		{"resolution", c.cfg.Resolution},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return "", fmt.Errorf("build multipart: %w", err)
		}
	}
	part, err := w.CreateFormFile("image", imageName)
	if err != nil {
		return "", fmt.Errorf("build multipart: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return "", fmt.Errorf("build multipart: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("build multipart: %w", err)
	}

	raw, err := c.do(ctx, "create", func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("generate/2.2/i2v"), bytes.NewReader(body.Bytes()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", w.FormDataContentType())
		return req, nil
	})
	if err != nil {
		return "", err
	}

	resp, err := decodeVideo(raw)
	if err != nil {
		return "", err
	}
	if resp.VideoID == "" {
		return "", fmt.Errorf("%w: response has no video id", common.ErrProviderUnavailable)
	}
	return resp.VideoID, nil
}

// VideoStatus запрашивает текущий статус видео.
func (c *PikaClient) VideoStatus(ctx context.Context, videoID string) (*VideoStatus, error) {
	raw, err := c.do(ctx, "status", func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("videos/"+url.PathEscape(videoID)), nil)
	})
	if err != nil {
		return nil, err
	}

	resp, err := decodeVideo(raw)
	if err != nil {
		return nil, err
	}
	if resp.VideoID == "" {
		resp.VideoID = videoID
	}
	return resp, nil
}

// do выполняет запрос через breaker. Любая ошибка оборачивается в
// ErrProviderUnavailable.
func (c *PikaClient) do(ctx context.Context, op string, build func() (*http.Request, error)) ([]byte, error) {
	raw, err := c.breaker.Execute(func() ([]byte, error) {
		req, err := build()
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-API-KEY", c.cfg.APIKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, &clientError{status: resp.StatusCode, body: common.Truncate(string(body), 200)}
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("pika responded %d: %s", resp.StatusCode, common.Truncate(string(body), 200))
		}
		return body, nil
	})
	if err != nil {
		metrics.ProviderRequests.WithLabelValues(op, "error").Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit breaker %v", common.ErrProviderUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %s: %w", common.ErrProviderUnavailable, op, err)
	}
	metrics.ProviderRequests.WithLabelValues(op, "ok").Inc()
	return raw, nil
}

func (c *PikaClient) endpoint(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + path
}

type pikaVideo struct {
	ID       string          `json:"id"`
	VideoID  string          `json:"video_id"`
	Status   string          `json:"status"`
	Progress json.RawMessage `json:"progress"`
	URL      string          `json:"url"`
}

func decodeVideo(raw []byte) (*VideoStatus, error) {
	var v pikaVideo
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", common.ErrProviderUnavailable, err)
	}

	out := &VideoStatus{
		VideoID: v.VideoID,
		Status:  Status(strings.ToLower(strings.TrimSpace(v.Status))),
		URL:     strings.TrimSpace(v.URL),
	}
	if out.VideoID == "" {
		out.VideoID = v.ID
	}
	if out.Status == "" {
		out.Status = StatusQueued
	}
	out.Progress = parseProgress(v.Progress)
	return out, nil
}

// parseProgress принимает число или строку, результат зажат в 0..100.
func parseProgress(raw json.RawMessage) int {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	switch {
	case f < 0:
		return 0
	case f > 100:
		return 100
	}
	return int(f)
}
