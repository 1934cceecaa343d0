package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/chat-relay/backend/internal/logging"
	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
	aiService "github.com/zhouzirui/chat-relay/backend/internal/service/ai"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
)

// Handler relays conversations over a websocket. Every inbound
// {"messages": [...]} frame is an independent relay exchange answered with
// stream events.
type Handler struct {
	aiSvc           *aiService.Service
	upgrader        websocket.Upgrader
	pingInterval    time.Duration
	maxMessageBytes int64
}

// New 创建WebSocket处理器
func New(aiSvc *aiService.Service, maxMessageBytes int64) *Handler {
	return &Handler{
		aiSvc:           aiSvc,
		pingInterval:    pingInterval,
		maxMessageBytes: maxMessageBytes,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/chat/ws", h.handleWebSocket)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context()).With().Str("component", "ws").Logger()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("[websocket] upgrade failed")
		return
	}
	defer conn.Close()

	logger.Info().Msg("[websocket] connection opened")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if h.maxMessageBytes > 0 {
		conn.SetReadLimit(h.maxMessageBytes)
	}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return h.pingLoop(gctx, conn)
	})
	g.Go(func() error {
		defer cancel()
		return h.readLoop(gctx, conn, logger)
	})
	g.Go(func() error {
		// Unblocks the read loop once the ping loop fails.
		<-gctx.Done()
		return conn.Close()
	})

	if err := g.Wait(); err != nil && !isExpectedClose(err) {
		logger.Debug().Err(err).Msg("[websocket] connection ended with error")
	}
	logger.Info().Msg("[websocket] connection closed")
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, logger zerolog.Logger) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		var req chat.RelayRequest
		if err := json.Unmarshal(data, &req); err != nil {
			if err := h.send(conn, chat.StreamEvent{Type: chat.EventError, ErrorText: "Frame must be a JSON object with a messages array."}); err != nil {
				return err
			}
		} else if err := h.relay(ctx, conn, req, logger); err != nil {
			return err
		}

		// Reads pause while a response streams, so the deadline restarts here.
		conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

// relay runs one exchange. The returned error is a connection failure; request
// and provider failures are reported to the client as error events.
func (h *Handler) relay(ctx context.Context, conn *websocket.Conn, req chat.RelayRequest, logger zerolog.Logger) error {
	if !h.aiSvc.Configured() {
		return h.send(conn, chat.StreamEvent{Type: chat.EventError, ErrorText: h.aiSvc.MissingCredentialMessage()})
	}
	if err := aiService.Validate(req.Messages); err != nil {
		return h.send(conn, chat.StreamEvent{Type: chat.EventError, ErrorText: err.Error()})
	}

	logger.Info().Int("count", len(req.Messages)).Msg("[websocket] relaying conversation")

	stream, err := h.aiSvc.Stream(ctx, req.Messages)
	if err != nil {
		logger.Error().Err(err).Msg("[websocket] failed to stream response")
		return h.send(conn, chat.StreamEvent{Type: chat.EventError, ErrorText: aiService.UpstreamFailureMessage})
	}
	defer stream.Close()

	messageID := uuid.NewString()
	textID := uuid.NewString()
	if err := h.send(conn, chat.StreamEvent{Type: chat.EventStart, MessageID: messageID}); err != nil {
		return err
	}
	if err := h.send(conn, chat.StreamEvent{Type: chat.EventTextStart, ID: textID}); err != nil {
		return err
	}

	for fragment := range stream.Fragments() {
		if err := h.send(conn, chat.StreamEvent{Type: chat.EventTextDelta, ID: textID, Delta: fragment.Text}); err != nil {
			return err
		}
	}

	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Error().Err(err).Msg("[websocket] stream failed mid-flight")
		return h.send(conn, chat.StreamEvent{Type: chat.EventError, ErrorText: aiService.UpstreamFailureMessage})
	}

	if err := h.send(conn, chat.StreamEvent{Type: chat.EventTextEnd, ID: textID}); err != nil {
		return err
	}
	return h.send(conn, chat.StreamEvent{Type: chat.EventFinish, MessageID: messageID})
}

func (h *Handler) send(conn *websocket.Conn, event chat.StreamEvent) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(event)
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		}
	}
}

func isExpectedClose(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, websocket.ErrCloseSent) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
