package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Leikymain/chatbot-api/internal/auth"
	"github.com/Leikymain/chatbot-api/internal/client"
	"github.com/Leikymain/chatbot-api/internal/domain"
	"github.com/Leikymain/chatbot-api/internal/gateway"
	"github.com/Leikymain/chatbot-api/internal/storage"
)

// Handler wires the gateway pipeline and supporting services into HTTP
// endpoints.
type Handler struct {
	pipeline *gateway.Pipeline
	registry *client.Registry
	optional auth.Verifier
	store    storage.UsageStore
	logger   *slog.Logger
}

type HandlerOption func(*Handler)

// WithUsageStore enables the /usage endpoint backed by the given store.
func WithUsageStore(store storage.UsageStore) HandlerOption {
	return func(h *Handler) {
		h.store = store
	}
}

func NewHandler(pipeline *gateway.Pipeline, registry *client.Registry, verifier auth.Verifier, logger *slog.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		pipeline: pipeline,
		registry: registry,
		optional: auth.NewOptional(verifier),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes mounts every endpoint on the given router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.HandleRoot)
	r.Get("/health", h.HandleHealth)
	r.Get("/clients", h.HandleListClients)
	r.Post("/chat", h.HandleChat)
	r.Post("/chat/simple", h.HandleChatSimple)
	if h.store != nil {
		r.Get("/usage", h.HandleListUsage)
	}
}

func (h *Handler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "chatbot-api",
		"status":  "running",
		"endpoints": map[string]string{
			"chat":    "POST /chat",
			"simple":  "POST /chat/simple",
			"clients": "GET /clients",
			"health":  "GET /health",
		},
	})
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleListClients returns the registered client profiles. Authentication is
// optional here; a missing or bad credential degrades to an anonymous listing
// rather than an error.
func (h *Handler) HandleListClients(w http.ResponseWriter, r *http.Request) {
	credential, err := auth.ExtractBearer(r.Header.Get("Authorization"))
	if err != nil {
		credential = ""
	}
	decision := h.optional.Verify(r.Context(), credential)
	AddLogField(r.Context(), "auth_status", string(decision.Status))

	profiles := h.registry.List()
	ids := make([]string, 0, len(profiles))
	configs := make(map[string]map[string]any, len(profiles))
	for _, p := range profiles {
		ids = append(ids, p.ID)
		configs[p.ID] = map[string]any{
			"name":       p.Name,
			"max_tokens": p.MaxTokens,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"clients": ids,
		"configs": configs,
	})
}

func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, domain.ErrInvalidRequest("invalid request body: "+err.Error()))
		return
	}
	h.serveChat(w, r, &req)
}

// HandleChatSimple accepts a single message plus client id as query
// parameters and forwards them through the same pipeline as /chat.
func (h *Handler) HandleChatSimple(w http.ResponseWriter, r *http.Request) {
	message := r.URL.Query().Get("message")
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = "demo"
	}
	req := domain.ChatRequest{
		ClientID: clientID,
		Messages: []domain.Message{{Role: "user", Content: message}},
	}
	h.serveChat(w, r, &req)
}

func (h *Handler) serveChat(w http.ResponseWriter, r *http.Request, req *domain.ChatRequest) {
	if err := validateChatRequest(req); err != nil {
		h.writeError(w, r, err)
		return
	}

	credential, err := auth.ExtractBearer(r.Header.Get("Authorization"))
	if err != nil {
		AddError(r.Context(), err)
		credential = ""
	}

	identity := clientIP(r)
	AddLogField(r.Context(), "client_id", req.ClientID)
	AddLogField(r.Context(), "identity", identity)

	resp, limits, apiErr := h.pipeline.Handle(r.Context(), req, identity, credential)
	if limits != nil {
		SetRateLimits(r.Context(), limits)
	}
	if apiErr != nil {
		h.writeError(w, r, apiErr)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleListUsage(w http.ResponseWriter, r *http.Request) {
	credential, err := auth.ExtractBearer(r.Header.Get("Authorization"))
	if err != nil {
		h.writeError(w, r, domain.ErrUnauthenticated("missing bearer credential"))
		return
	}
	decision := h.pipeline.Verify(r.Context(), credential)
	if derr := decision.Err(); derr != nil {
		h.writeError(w, r, derr)
		return
	}

	clientID := r.URL.Query().Get("client_id")
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, r, domain.ErrInvalidRequest("limit must be a positive integer"))
			return
		}
		limit = n
	}

	records, err := h.store.ListUsage(r.Context(), clientID, limit)
	if err != nil {
		AddError(r.Context(), err)
		h.writeError(w, r, domain.ErrServer("failed to list usage records"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
	})
}

func validateChatRequest(req *domain.ChatRequest) *domain.APIError {
	if req.ClientID == "" {
		return domain.ErrInvalidRequest("client_id is required")
	}
	if len(req.Messages) == 0 {
		return domain.ErrInvalidRequest("messages must not be empty")
	}
	for i, m := range req.Messages {
		if strings.TrimSpace(m.Content) == "" {
			return domain.ErrInvalidRequest("message " + strconv.Itoa(i) + " has empty content")
		}
		if m.Role != "user" && m.Role != "assistant" {
			return domain.ErrInvalidRequest("message " + strconv.Itoa(i) + " has unsupported role '" + m.Role + "'")
		}
	}
	if req.MaxTokens != nil && *req.MaxTokens <= 0 {
		return domain.ErrInvalidRequest("max_tokens must be positive")
	}
	return nil
}

// clientIP derives the throttling identity for a request. The first entry of
// X-Forwarded-For wins when present, otherwise the connection's remote
// address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			fwd = fwd[:idx]
		}
		if ip := strings.TrimSpace(fwd); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("failed to encode response", slog.String("error", err.Error()))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := domain.AsAPIError(err)
	AddError(r.Context(), apiErr)

	var target *domain.APIError
	if !errors.As(err, &target) {
		h.logger.Error("unclassified handler error", slog.String("error", err.Error()))
	}

	writeJSON(w, apiErr.HTTPStatusCode(), map[string]any{
		"error": map[string]string{
			"type":    string(apiErr.Type),
			"message": apiErr.Message,
		},
	})
}
