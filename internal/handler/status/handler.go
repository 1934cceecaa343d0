package status

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	aiService "github.com/zhouzirui/chat-relay/backend/internal/service/ai"
	"github.com/zhouzirui/chat-relay/backend/pkg/utils"
)

// Response reports whether the relay can reach a provider.
type Response struct {
	Configured bool   `json:"configured"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Hint       string `json:"hint,omitempty"`
}

// Handler 服务状态的HTTP处理器
type Handler struct {
	aiSvc *aiService.Service
}

// New 创建状态处理器
func New(aiSvc *aiService.Service) *Handler {
	return &Handler{
		aiSvc: aiSvc,
	}
}

// RegisterRoutes 注册状态相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/status", h.handleStatus)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := Response{
		Configured: h.aiSvc.Configured(),
		Provider:   h.aiSvc.Provider(),
		Model:      h.aiSvc.ModelName(),
	}
	if !resp.Configured {
		resp.Hint = h.aiSvc.MissingCredentialMessage()
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}
