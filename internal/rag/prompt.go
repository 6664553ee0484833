package rag

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"

	"rag-assistant/internal/config"
	"rag-assistant/internal/models"
)

const slotProbe = "\x00slot\x00"

// Prompt renders the system and human templates of one preset.
type Prompt struct {
	system          prompts.PromptTemplate
	human           prompts.PromptTemplate
	temperature     float64
	maxContextChars int
}

// NewPrompt validates preset: the system template must use the {context}
// slot and the human template the {input} slot, and neither may reference
// any other variable. maxContextChars <= 0 disables the context budget.
func NewPrompt(preset config.PromptPreset, maxContextChars int) (*Prompt, error) {
	system, err := newTemplate("system", preset.System, models.ContextSlot)
	if err != nil {
		return nil, err
	}
	human, err := newTemplate("human", preset.Human, models.InputSlot)
	if err != nil {
		return nil, err
	}
	p := &Prompt{system: system, human: human, maxContextChars: maxContextChars}
	if preset.Temperature != nil {
		p.temperature = *preset.Temperature
	}
	return p, nil
}

func newTemplate(name, text, slot string) (prompts.PromptTemplate, error) {
	tmpl := prompts.PromptTemplate{
		Template:       text,
		InputVariables: []string{slot},
		TemplateFormat: prompts.TemplateFormatFString,
	}
	out, err := tmpl.Format(map[string]any{slot: slotProbe})
	if err != nil {
		return tmpl, fmt.Errorf("invalid %s prompt template: %w", name, err)
	}
	if !strings.Contains(out, slotProbe) {
		return tmpl, fmt.Errorf("%s prompt template must contain {%s}", name, slot)
	}
	return tmpl, nil
}

func (p *Prompt) Temperature() float64 { return p.temperature }

// BuildContext joins the chunk texts, best first, keeping within the
// character budget. Lower ranked chunks are dropped first; when even the
// best chunk is too long it is cut. It returns the context and the results
// that made it in.
func (p *Prompt) BuildContext(results []models.Result) (string, []models.Result) {
	if len(results) == 0 {
		return "", nil
	}
	budget := p.maxContextChars
	sepLen := len([]rune(models.ContextSeparator))

	var (
		parts []string
		used  []models.Result
		size  int
	)
	for i, r := range results {
		n := len([]rune(r.Chunk.Content))
		extra := n
		if i > 0 {
			extra += sepLen
		}
		if budget > 0 && size+extra > budget {
			if i == 0 {
				parts = append(parts, string([]rune(r.Chunk.Content)[:budget]))
				used = append(used, r)
			}
			break
		}
		parts = append(parts, r.Chunk.Content)
		used = append(used, r)
		size += extra
	}
	return strings.Join(parts, models.ContextSeparator), used
}

// Messages assembles the conversation sent to the model: the system prompt
// carrying the context, the earlier turns, then the new query.
func (p *Prompt) Messages(context string, turns []models.ChatTurn, query string) ([]llms.MessageContent, error) {
	system, err := p.system.Format(map[string]any{models.ContextSlot: context})
	if err != nil {
		return nil, fmt.Errorf("failed to render system prompt: %w", err)
	}
	human, err := p.human.Format(map[string]any{models.InputSlot: query})
	if err != nil {
		return nil, fmt.Errorf("failed to render human prompt: %w", err)
	}

	msgs := make([]llms.MessageContent, 0, len(turns)+2)
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, system))
	for _, t := range turns {
		role := llms.ChatMessageTypeHuman
		if t.Role == models.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		msgs = append(msgs, llms.TextParts(role, t.Text))
	}
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, human))
	return msgs, nil
}
