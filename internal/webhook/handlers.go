// Package webhook — входящие HTTP-триггеры синхронизации.
package webhook

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"wgmirror/internal/logs"
	"wgmirror/internal/models"
)

// Handler принимает fire-and-forget запрос синхронизации и функцию
// текущего состояния координатора; сами типы координатора сюда не тянем.
type Handler struct {
	apiKey  string
	request func(source string) bool
	state   func() string
	port    string
}

func NewHandler(apiKey string, request func(source string) bool, state func() string, port string) *Handler {
	return &Handler{apiKey: apiKey, request: request, state: state, port: port}
}

// RegisterRoutes вешает webhook-поверхность на общий роутер.
func RegisterRoutes(r *mux.Router, h *Handler) {
	r.HandleFunc("/sync", h.Sync).Methods(http.MethodPost)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/status", h.Status).Methods(http.MethodGet)
}

// bearerOK — сверка Authorization: Bearer <apiKey>.
func (h *Handler) bearerOK(r *http.Request) bool {
	const p = "Bearer "
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, p) && strings.TrimPrefix(auth, p) == h.apiKey
}

// POST /sync — аутентифицированный запрос немедленной синхронизации.
// Ответ уходит до завершения прогона: диспетчеризация, не ожидание.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	if !h.bearerOK(r) {
		logs.Logger.Warnf("unauthorized sync request from %s", r.RemoteAddr)
		models.WriteProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid or missing bearer token", nil)
		return
	}
	if h.request == nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "sync dispatch unavailable", nil)
		return
	}
	logs.Logger.Info("webhook triggered sync")
	started := h.request("webhook")
	models.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "sync_triggered",
		"queued": !started,
	})
}

// GET /health — без аутентификации, отвечает пока сервис жив.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	models.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": "wgmirror",
		"port":    h.port,
	})
}

// GET /status — аутентифицированные метаданные сервиса.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if !h.bearerOK(r) {
		models.WriteProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid or missing bearer token", nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "running",
		"service":   "wgmirror",
		"sync":      h.state(),
		"port":      h.port,
		"endpoints": []string{"/sync", "/health", "/status"},
	})
}
