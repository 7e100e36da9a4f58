package normalize

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/chatvault-io/chatvault/internal/model"
)

// owuiRecord is one entry of an Open WebUI chat export. Like ChatGPT it
// keeps a branch tree, nested under chat.history, with currentId pointing at
// the active leaf.
type owuiRecord struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Chat      owuiChat `json:"chat"`
	CreatedAt int64    `json:"created_at"`
	UpdatedAt int64    `json:"updated_at"`
}

type owuiChat struct {
	Title   string      `json:"title"`
	Models  []string    `json:"models"`
	History owuiHistory `json:"history"`
}

type owuiHistory struct {
	Messages  map[string]owuiMessage `json:"messages"`
	CurrentID string                 `json:"currentId"`
}

type owuiMessage struct {
	ID          string    `json:"id"`
	ParentID    string    `json:"parentId"`
	ChildrenIDs []string  `json:"childrenIds"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	Model       string    `json:"model"`
	Timestamp   int64     `json:"timestamp"`
	Info        *owuiInfo `json:"info"`
}

// owuiInfo is the per-response accounting block. Ollama-backed models report
// eval counts, OpenAI-backed ones report token fields.
type owuiInfo struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	PromptEvalCount  int `json:"prompt_eval_count"`
	EvalCount        int `json:"eval_count"`
}

func normalizeOpenWebUI(raw []byte) ([]model.Conversation, error) {
	docs, err := elements(raw)
	if err != nil {
		return nil, err
	}

	out := make([]model.Conversation, 0, len(docs))
	for i, doc := range docs {
		var rec owuiRecord
		if err := json.Unmarshal(doc, &rec); err != nil {
			return nil, fmt.Errorf("%w: openwebui conversation %d: %v", ErrMalformedConversation, i, err)
		}
		if rec.Chat.History.Messages == nil {
			return nil, fmt.Errorf("%w: openwebui conversation %d has no history", ErrMalformedConversation, i)
		}
		out = append(out, owuiToConversation(rec))
	}
	return out, nil
}

func owuiToConversation(rec owuiRecord) model.Conversation {
	id := rec.ID
	if id == "" {
		id = model.NewID()
	}
	title := rec.Title
	if title == "" {
		title = rec.Chat.Title
	}

	history := rec.Chat.History
	start := history.CurrentID
	if _, ok := history.Messages[start]; !ok {
		start = owuiFallbackLeaf(history.Messages)
	}
	thread := walkThread(start, func(msgID string) (string, bool) {
		m, ok := history.Messages[msgID]
		return m.ParentID, ok
	})

	msgs := make([]model.Message, 0, len(thread))
	for _, msgID := range thread {
		if msg, ok := owuiToMessage(history.Messages[msgID]); ok {
			msgs = append(msgs, msg)
		}
	}

	built := model.Conversation{
		ID:       id,
		Title:    title,
		Created:  epochSeconds(rec.CreatedAt),
		Updated:  epochSeconds(rec.UpdatedAt),
		Format:   model.FormatOpenWebUI,
		Messages: msgs,
	}
	fillDefaults(&built)
	return built
}

func owuiToMessage(m owuiMessage) (model.Message, bool) {
	role, ok := canonicalRole(m.Role)
	if !ok || m.Content == "" {
		return model.Message{}, false
	}

	msgID := m.ID
	if msgID == "" {
		msgID = model.NewID()
	}

	meta := &model.Metadata{Model: m.Model, Usage: m.Info.usage()}
	if meta.Empty() {
		meta = nil
	}

	return model.Message{
		ID:        msgID,
		Role:      role,
		Content:   m.Content,
		Timestamp: epochSeconds(m.Timestamp),
		Meta:      meta,
	}, true
}

func owuiFallbackLeaf(messages map[string]owuiMessage) string {
	var best string
	var bestTime int64
	for id, m := range messages {
		if len(m.ChildrenIDs) > 0 {
			continue
		}
		if best == "" || m.Timestamp > bestTime {
			best = id
			bestTime = m.Timestamp
		}
	}
	return best
}

func (i *owuiInfo) usage() *model.Usage {
	if i == nil {
		return nil
	}
	u := model.Usage{
		PromptTokens:     i.PromptTokens,
		CompletionTokens: i.CompletionTokens,
		TotalTokens:      i.TotalTokens,
	}
	if u.PromptTokens == 0 {
		u.PromptTokens = i.PromptEvalCount
	}
	if u.CompletionTokens == 0 {
		u.CompletionTokens = i.EvalCount
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	if u == (model.Usage{}) {
		return nil
	}
	return &u
}

func epochSeconds(sec int64) model.Time {
	if sec == 0 {
		return model.Time{}
	}
	return model.At(time.Unix(sec, 0))
}
