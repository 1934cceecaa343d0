package chat

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/zhouzirui/chat-relay/backend/internal/logging"
	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
	aiService "github.com/zhouzirui/chat-relay/backend/internal/service/ai"
	"github.com/zhouzirui/chat-relay/backend/pkg/utils"
)

const (
	invalidBodyMessage  = "Request body must be a JSON object with a messages array."
	bodyTooLargeMessage = "Request body is too large."
)

// Handler 聊天中继的HTTP处理器
type Handler struct {
	aiSvc        *aiService.Service
	maxBodyBytes int64
}

// New 创建聊天处理器
func New(aiSvc *aiService.Service, maxBodyBytes int64) *Handler {
	return &Handler{
		aiSvc:        aiSvc,
		maxBodyBytes: maxBodyBytes,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
}

// handleChat validates the conversation, dispatches it to the provider and
// relays fragments as server-sent events.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	if !h.aiSvc.Configured() {
		utils.RespondError(w, http.StatusInternalServerError, h.aiSvc.MissingCredentialMessage())
		return
	}

	req, status, err := DecodeRequest(r.Body, w, h.maxBodyBytes)
	if err != nil {
		utils.RespondError(w, status, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	logger := logging.FromContext(r.Context()).With().Str("component", "chat").Logger()
	last := req.Messages[len(req.Messages)-1]
	logger.Info().
		Int("count", len(req.Messages)).
		Str("last_role", string(last.Role)).
		Str("model", h.aiSvc.ModelName()).
		Msg("[chat] received request")

	stream, err := h.aiSvc.Stream(r.Context(), req.Messages)
	if err != nil {
		logger.Error().Err(err).Msg("[chat] failed to stream response")
		utils.RespondError(w, http.StatusInternalServerError, aiService.UpstreamFailureMessage)
		return
	}
	defer stream.Close()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	messageID := uuid.NewString()
	textID := uuid.NewString()
	send := func(event chat.StreamEvent) bool {
		if err := utils.SendSSEChunk(w, flusher, event); err != nil {
			logger.Debug().Err(err).Msg("[chat] client went away")
			return false
		}
		return true
	}

	if !send(chat.StreamEvent{Type: chat.EventStart, MessageID: messageID}) ||
		!send(chat.StreamEvent{Type: chat.EventTextStart, ID: textID}) {
		return
	}

	fragments := 0
	for fragment := range stream.Fragments() {
		if !send(chat.StreamEvent{Type: chat.EventTextDelta, ID: textID, Delta: fragment.Text}) {
			return
		}
		fragments++
	}

	if err := stream.Err(); err != nil {
		if r.Context().Err() != nil {
			logger.Debug().Err(err).Msg("[chat] request cancelled by client")
			return
		}
		logger.Error().Err(err).Int("fragments", fragments).Msg("[chat] stream failed mid-flight")
		if send(chat.StreamEvent{Type: chat.EventError, ErrorText: aiService.UpstreamFailureMessage}) {
			_ = utils.SendSSEDone(w, flusher)
		}
		return
	}

	if !send(chat.StreamEvent{Type: chat.EventTextEnd, ID: textID}) ||
		!send(chat.StreamEvent{Type: chat.EventFinish, MessageID: messageID}) {
		return
	}
	_ = utils.SendSSEDone(w, flusher)

	logger.Info().Int("fragments", fragments).Msg("[chat] streaming response complete")
}

// DecodeRequest reads and validates a relay request body. The returned status
// is the HTTP status to report when err is non-nil.
func DecodeRequest(body io.ReadCloser, w http.ResponseWriter, maxBodyBytes int64) (chat.RelayRequest, int, error) {
	if maxBodyBytes > 0 {
		body = http.MaxBytesReader(w, body, maxBodyBytes)
	}

	var req chat.RelayRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return chat.RelayRequest{}, http.StatusRequestEntityTooLarge, errors.New(bodyTooLargeMessage)
		}
		if errors.Is(err, io.EOF) {
			return chat.RelayRequest{}, http.StatusBadRequest, errors.New(aiService.MessagesRequiredMessage)
		}
		return chat.RelayRequest{}, http.StatusBadRequest, errors.New(invalidBodyMessage)
	}

	if err := aiService.Validate(req.Messages); err != nil {
		return chat.RelayRequest{}, http.StatusBadRequest, err
	}
	return req, http.StatusOK, nil
}
