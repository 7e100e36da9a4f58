package normalize

import (
	"encoding/json"
	"fmt"

	"github.com/chatvault-io/chatvault/internal/model"
)

// claudeConversation is one entry of a Claude data export. chat_messages is
// already the linear thread; only the sender vocabulary needs translating.
type claudeConversation struct {
	UUID         string          `json:"uuid"`
	Name         string          `json:"name"`
	Summary      string          `json:"summary"`
	CreatedAt    string          `json:"created_at"`
	UpdatedAt    string          `json:"updated_at"`
	ChatMessages []claudeMessage `json:"chat_messages"`
}

type claudeMessage struct {
	UUID        string             `json:"uuid"`
	Text        string             `json:"text"`
	Content     []claudeBlock      `json:"content"`
	Sender      string             `json:"sender"`
	CreatedAt   string             `json:"created_at"`
	Attachments []claudeAttachment `json:"attachments"`
	Files       []claudeFile       `json:"files"`
}

type claudeBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type claudeAttachment struct {
	FileName string `json:"file_name"`
	FileType string `json:"file_type"`
	FileSize int64  `json:"file_size"`
}

type claudeFile struct {
	FileName string `json:"file_name"`
}

func normalizeClaude(raw []byte) ([]model.Conversation, error) {
	docs, err := elements(raw)
	if err != nil {
		return nil, err
	}

	out := make([]model.Conversation, 0, len(docs))
	for i, doc := range docs {
		var conv claudeConversation
		if err := json.Unmarshal(doc, &conv); err != nil {
			return nil, fmt.Errorf("%w: claude conversation %d: %v", ErrMalformedConversation, i, err)
		}
		if conv.ChatMessages == nil {
			return nil, fmt.Errorf("%w: claude conversation %d has no chat_messages", ErrMalformedConversation, i)
		}
		out = append(out, claudeToConversation(conv))
	}
	return out, nil
}

func claudeToConversation(conv claudeConversation) model.Conversation {
	id := conv.UUID
	if id == "" {
		id = model.NewID()
	}

	msgs := make([]model.Message, 0, len(conv.ChatMessages))
	for _, m := range conv.ChatMessages {
		role, ok := canonicalRole(m.Sender)
		if !ok {
			continue
		}
		text := claudeText(m)
		if text == "" {
			continue
		}

		msgID := m.UUID
		if msgID == "" {
			msgID = model.NewID()
		}

		meta := &model.Metadata{}
		for _, a := range m.Attachments {
			meta.Attachments = append(meta.Attachments, model.Attachment{
				Name:      a.FileName,
				Kind:      a.FileType,
				SizeBytes: a.FileSize,
			})
		}
		for _, f := range m.Files {
			meta.Attachments = append(meta.Attachments, model.Attachment{Name: f.FileName})
		}
		if meta.Empty() {
			meta = nil
		}

		msgs = append(msgs, model.Message{
			ID:        msgID,
			Role:      role,
			Content:   text,
			Timestamp: parseISO(m.CreatedAt),
			Meta:      meta,
		})
	}

	built := model.Conversation{
		ID:       id,
		Title:    conv.Name,
		Created:  parseISO(conv.CreatedAt),
		Updated:  parseISO(conv.UpdatedAt),
		Format:   model.FormatClaude,
		Summary:  conv.Summary,
		Messages: msgs,
	}
	fillDefaults(&built)
	return built
}

// claudeText prefers the structured content blocks; older exports only have
// the flat text field.
func claudeText(m claudeMessage) string {
	var text string
	for _, b := range m.Content {
		if b.Type != "text" || b.Text == "" {
			continue
		}
		if text != "" {
			text += "\n"
		}
		text += b.Text
	}
	if text == "" {
		text = m.Text
	}
	return text
}
