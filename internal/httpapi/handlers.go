package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/pumpreels-bot/internal/common"
	"serotonyl.ru/pumpreels-bot/internal/features/generation"
)

type errorResponse struct {
	Error string `json:"error"`
}

type startResponse struct {
	RequestID string `json:"request_id"`
	VideoID   string `json:"video_id"`
	Status    string `json:"status"`
}

type statusResponse struct {
	VideoID  string `json:"video_id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	URL      string `json:"url,omitempty"`
}

type groupResponse struct {
	GroupID string `json:"group_id"`
	Title   string `json:"title,omitempty"`
	Credits int64  `json:"credits"`
}

// handlePaymentWebhook принимает событие платёжного шлюза.
// 400 — битое событие, 404 — неизвестная транзакция (шлюз повторит доставку),
// 200 — всё остальное, включая повторное подтверждение.
func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	err = s.payments.HandleEvent(r.Context(), body)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, common.ErrMalformedEvent):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, common.ErrTransactionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		log.WithError(err).Error("payment webhook failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// handleStartGeneration резервирует кредиты и запускает задачу.
// Ожидание результата идёт в фоне, клиент опрашивает статус по video_id.
func (s *Server) handleStartGeneration(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxImageBytes+maxWebhookBytes)
	if err := r.ParseMultipartForm(s.opts.MaxImageBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	groupID := strings.TrimSpace(r.FormValue("group_id"))
	if groupID == "" {
		writeError(w, http.StatusBadRequest, "group_id is required")
		return
	}

	req := generation.Request{
		GroupID:    groupID,
		PromptText: r.FormValue("prompt_text"),
	}
	if file, header, err := r.FormFile("image"); err == nil {
		data, err := io.ReadAll(io.LimitReader(file, s.opts.MaxImageBytes+1))
		_ = file.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read image")
			return
		}
		if int64(len(data)) > s.opts.MaxImageBytes {
			writeError(w, http.StatusRequestEntityTooLarge, "image too large")
			return
		}
		req.Image = data
		req.ImageName = header.Filename
	}

	job, err := s.generation.Start(r.Context(), req)
	if err != nil {
		writeError(w, generationStatusCode(err), err.Error())
		return
	}

	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		// Итог пишется сервисом, клиент узнаёт его через опрос статуса
		_, _ = s.generation.Await(s.jobsCtx, job, nil)
	}()

	writeJSON(w, http.StatusAccepted, startResponse{
		RequestID: job.RequestID.String(),
		VideoID:   job.VideoID,
		Status:    string(generation.StatusQueued),
	})
}

func (s *Server) handleGenerationStatus(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "video_id")
	st, err := s.generation.Status(r.Context(), videoID, r.URL.Query().Get("group_id"))
	if err != nil {
		writeError(w, generationStatusCode(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		VideoID:  videoID,
		Status:   string(st.Status),
		Progress: st.Progress,
		URL:      st.URL,
	})
}

func (s *Server) handleGroup(w http.ResponseWriter, r *http.Request) {
	g, err := s.ledger.Group(r.Context(), chi.URLParam(r, "group_id"))
	if err != nil {
		if errors.Is(err, common.ErrGroupNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		log.WithError(err).Error("group lookup failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, groupResponse{GroupID: g.GroupID, Title: g.Title, Credits: g.Credits})
}

func generationStatusCode(err error) int {
	switch {
	case errors.Is(err, common.ErrEmptyPrompt), errors.Is(err, common.ErrEmptyImage):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case errors.Is(err, common.ErrGroupNotFound), errors.Is(err, common.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrProviderUnavailable):
		return http.StatusBadGateway
	default:
		log.WithError(err).Error("generation request failed")
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Debug("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
