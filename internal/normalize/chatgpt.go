package normalize

import (
	"encoding/json"
	"fmt"

	"github.com/chatvault-io/chatvault/internal/model"
)

// gptConversation is one entry of a ChatGPT conversations.json export. The
// mapping holds every node of the branch tree; current_node points at the
// leaf of the active branch.
type gptConversation struct {
	ID             string             `json:"id"`
	ConversationID string             `json:"conversation_id"`
	Title          string             `json:"title"`
	CreateTime     float64            `json:"create_time"`
	UpdateTime     float64            `json:"update_time"`
	Mapping        map[string]gptNode `json:"mapping"`
	CurrentNode    string             `json:"current_node"`
}

type gptNode struct {
	ID       string      `json:"id"`
	Message  *gptMessage `json:"message"`
	Parent   string      `json:"parent"`
	Children []string    `json:"children"`
}

type gptMessage struct {
	ID         string     `json:"id"`
	Author     gptAuthor  `json:"author"`
	CreateTime float64    `json:"create_time"`
	Content    gptContent `json:"content"`
	Metadata   gptMeta    `json:"metadata"`
}

type gptAuthor struct {
	Role string `json:"role"`
}

type gptContent struct {
	ContentType string            `json:"content_type"`
	Parts       []json.RawMessage `json:"parts"`
}

type gptMeta struct {
	Hidden      bool            `json:"is_visually_hidden_from_conversation"`
	ModelSlug   string          `json:"model_slug"`
	Attachments []gptAttachment `json:"attachments"`
}

type gptAttachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

func normalizeChatGPT(raw []byte) ([]model.Conversation, error) {
	docs, err := elements(raw)
	if err != nil {
		return nil, err
	}

	out := make([]model.Conversation, 0, len(docs))
	for i, doc := range docs {
		var conv gptConversation
		if err := json.Unmarshal(doc, &conv); err != nil {
			return nil, fmt.Errorf("%w: chatgpt conversation %d: %v", ErrMalformedConversation, i, err)
		}
		if conv.Mapping == nil {
			return nil, fmt.Errorf("%w: chatgpt conversation %d has no mapping", ErrMalformedConversation, i)
		}
		out = append(out, gptToConversation(conv))
	}
	return out, nil
}

func gptToConversation(conv gptConversation) model.Conversation {
	id := conv.ConversationID
	if id == "" {
		id = conv.ID
	}
	if id == "" {
		id = model.NewID()
	}

	start := conv.CurrentNode
	if _, ok := conv.Mapping[start]; !ok {
		start = gptFallbackLeaf(conv.Mapping)
	}
	thread := walkThread(start, func(nodeID string) (string, bool) {
		node, ok := conv.Mapping[nodeID]
		return node.Parent, ok
	})

	msgs := make([]model.Message, 0, len(thread))
	for _, nodeID := range thread {
		if msg, ok := gptToMessage(conv.Mapping[nodeID]); ok {
			msgs = append(msgs, msg)
		}
	}

	built := model.Conversation{
		ID:       id,
		Title:    conv.Title,
		Created:  epochTime(conv.CreateTime),
		Updated:  epochTime(conv.UpdateTime),
		Format:   model.FormatChatGPT,
		Messages: msgs,
	}
	fillDefaults(&built)
	return built
}

// gptToMessage converts one mapping node. Root stubs carry no message,
// hidden nodes and empty bodies never made it onto the screen; all of those
// are skipped while the walk itself continues through them.
func gptToMessage(node gptNode) (model.Message, bool) {
	msg := node.Message
	if msg == nil || msg.Metadata.Hidden {
		return model.Message{}, false
	}
	role, ok := canonicalRole(msg.Author.Role)
	if !ok {
		return model.Message{}, false
	}
	text := joinParts(msg.Content.Parts)
	if text == "" {
		return model.Message{}, false
	}

	id := msg.ID
	if id == "" {
		id = node.ID
	}

	meta := &model.Metadata{Model: msg.Metadata.ModelSlug}
	for _, a := range msg.Metadata.Attachments {
		meta.Attachments = append(meta.Attachments, model.Attachment{
			Name:      a.Name,
			Kind:      a.MimeType,
			SizeBytes: a.Size,
		})
	}
	if meta.Empty() {
		meta = nil
	}

	return model.Message{
		ID:        id,
		Role:      role,
		Content:   text,
		Timestamp: epochTime(msg.CreateTime),
		Meta:      meta,
	}, true
}

// gptFallbackLeaf picks a branch tip when the export carries no usable
// current pointer: the childless node whose message is newest.
func gptFallbackLeaf(mapping map[string]gptNode) string {
	var best string
	var bestTime float64
	for id, node := range mapping {
		if len(node.Children) > 0 {
			continue
		}
		var ts float64
		if node.Message != nil {
			ts = node.Message.CreateTime
		}
		if best == "" || ts > bestTime {
			best = id
			bestTime = ts
		}
	}
	return best
}
