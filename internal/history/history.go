// Package history keeps the rolling chat history of a conversation.
package history

import (
	"context"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/memory"

	"rag-assistant/internal/models"
)

// History is a bounded chat history: once it holds more than limit
// messages the oldest ones are dropped first. Safe for concurrent use.
type History struct {
	mu    sync.Mutex
	store *memory.ChatMessageHistory
	limit int
}

func New(limit int) *History {
	return &History{
		store: memory.NewChatMessageHistory(),
		limit: limit,
	}
}

// Append records one exchange, the user's query followed by the answer.
func (h *History) Append(ctx context.Context, query, answer string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.store.AddUserMessage(ctx, query); err != nil {
		return err
	}
	if err := h.store.AddAIMessage(ctx, answer); err != nil {
		return err
	}

	msgs, err := h.store.Messages(ctx)
	if err != nil {
		return err
	}
	if len(msgs) > h.limit {
		return h.store.SetMessages(ctx, msgs[len(msgs)-h.limit:])
	}
	return nil
}

// Turns returns a copy of the history, oldest first.
func (h *History) Turns(ctx context.Context) ([]models.ChatTurn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	msgs, err := h.store.Messages(ctx)
	if err != nil {
		return nil, err
	}
	turns := make([]models.ChatTurn, 0, len(msgs))
	for _, m := range msgs {
		role := models.RoleHuman
		if m.GetType() == llms.ChatMessageTypeAI {
			role = models.RoleAssistant
		}
		turns = append(turns, models.ChatTurn{Role: role, Text: m.GetContent()})
	}
	return turns, nil
}

func (h *History) Clear(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.store.Clear(ctx)
}
