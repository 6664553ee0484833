package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"rag-assistant/internal/helper"
	"rag-assistant/internal/history"
	"rag-assistant/internal/models"
	"rag-assistant/internal/rag"
)

// Asker answers one message within a conversation. It returns the id of the
// session the exchange was recorded in.
type Asker interface {
	Ask(ctx context.Context, sessionID, message string) (string, models.Answer, error)
}

// SessionAsker serves each session id from its own bounded history.
type SessionAsker struct {
	rag      *rag.RAG
	sessions *history.Sessions
}

func NewSessionAsker(r *rag.RAG, sessions *history.Sessions) *SessionAsker {
	return &SessionAsker{rag: r, sessions: sessions}
}

func (a *SessionAsker) Ask(ctx context.Context, sessionID, message string) (string, models.Answer, error) {
	id, h, err := a.sessions.Get(sessionID)
	if err != nil {
		return "", models.Answer{}, err
	}
	answer, err := a.rag.SessionWith(h).Ask(ctx, message)
	return id, answer, err
}

func (a *SessionAsker) Sessions() int { return a.sessions.Len() }

type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type Source struct {
	ID       string  `json:"id"`
	Document string  `json:"document"`
	Page     int     `json:"page"`
	Score    float32 `json:"score"`
	Content  string  `json:"content"`
}

type ChatResponse struct {
	Answer    string   `json:"answer"`
	SessionID string   `json:"session_id"`
	Sources   []Source `json:"sources"`
}

type ChatHandler struct {
	asker   Asker
	timeout time.Duration
	metrics *Metrics
}

func NewChatHandler(asker Asker, timeout time.Duration, metrics *Metrics) *ChatHandler {
	return &ChatHandler{asker: asker, timeout: timeout, metrics: metrics}
}

func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	// session ids are handed out by this server
	if req.SessionID != "" && !helper.IsUUID(req.SessionID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id must be a UUID"})
		return
	}

	ctx := c.Request.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	sessionID, answer, err := h.asker.Ask(ctx, req.SessionID, req.Message)
	if err != nil {
		status := statusFor(err)
		log.Error().Err(err).Int("status", status).Str("session_id", sessionID).
			Str("request_id", c.GetString(requestIDKey)).Msg("chat request failed")
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	if h.metrics != nil {
		h.metrics.ObserveRetrieved(len(answer.Chunks))
		if s, ok := h.asker.(interface{ Sessions() int }); ok {
			h.metrics.SetSessions(s.Sessions())
		}
	}

	resp := ChatResponse{
		Answer:    answer.Text,
		SessionID: sessionID,
		Sources:   make([]Source, 0, len(answer.Chunks)),
	}
	for _, r := range answer.Chunks {
		resp.Sources = append(resp.Sources, Source{
			ID:       r.Chunk.ID,
			Document: r.Chunk.DocumentID,
			Page:     r.Chunk.PageIndex,
			Score:    r.Score,
			Content:  r.Chunk.Content,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrGenerationFailed):
		return http.StatusBadGateway
	case errors.Is(err, models.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
