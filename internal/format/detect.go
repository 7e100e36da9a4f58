// Package format identifies which chat platform produced an export payload.
package format

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chatvault-io/chatvault/internal/model"
)

var (
	// ErrUnrecognizedFormat means the payload matched no known export shape.
	ErrUnrecognizedFormat = errors.New("unrecognized export format")
	// ErrEmptyInput means the payload was empty or an empty array.
	ErrEmptyInput = errors.New("empty input")
)

// Detect inspects a raw export payload and returns the format that produced
// it. Formats are tried in a fixed order, most specific first: a re-imported
// chatvault export also looks like a plain conversation list, so it must win
// before the platform formats get a chance.
//
// Multi-conversation exports are arrays; detection looks at the first
// element and assumes the batch is homogeneous.
func Detect(raw []byte) (model.FormatTag, error) {
	doc := bytes.TrimSpace(raw)
	if len(doc) == 0 {
		return "", ErrEmptyInput
	}

	if doc[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(doc, &items); err != nil {
			return "", fmt.Errorf("%w: not valid JSON", ErrUnrecognizedFormat)
		}
		if len(items) == 0 {
			return "", ErrEmptyInput
		}
		doc = bytes.TrimSpace(items[0])
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return "", fmt.Errorf("%w: not a JSON object", ErrUnrecognizedFormat)
	}

	switch {
	case isChatVault(fields):
		return model.FormatChatVault, nil
	case isChatGPT(fields):
		return model.FormatChatGPT, nil
	case isClaude(fields):
		return model.FormatClaude, nil
	case isOpenWebUI(fields):
		return model.FormatOpenWebUI, nil
	}
	return "", ErrUnrecognizedFormat
}

// isChatVault matches this tool's own export: all canonical identity fields
// at once, plus a format tag it wrote itself.
func isChatVault(fields map[string]json.RawMessage) bool {
	for _, key := range []string{"id", "messages", "format", "created", "updated"} {
		if !has(fields, key) {
			return false
		}
	}
	var tag model.FormatTag
	if err := json.Unmarshal(fields["format"], &tag); err != nil {
		return false
	}
	return tag.Known()
}

// isChatGPT matches the ChatGPT export: an adjacency map of message nodes
// plus the pointer to the active leaf.
func isChatGPT(fields map[string]json.RawMessage) bool {
	mapping, ok := fields["mapping"]
	if !ok || !has(fields, "current_node") {
		return false
	}
	return bytes.HasPrefix(bytes.TrimSpace(mapping), []byte("{"))
}

// isClaude matches the Claude export: a flat chat_messages array alongside
// the conversation uuid.
func isClaude(fields map[string]json.RawMessage) bool {
	return has(fields, "chat_messages") && has(fields, "uuid")
}

// isOpenWebUI matches the Open WebUI export: branch state nested under
// chat.history, with its own message map and current pointer.
func isOpenWebUI(fields map[string]json.RawMessage) bool {
	chat, ok := fields["chat"]
	if !ok {
		return false
	}
	var inner struct {
		History map[string]json.RawMessage `json:"history"`
	}
	if err := json.Unmarshal(chat, &inner); err != nil {
		return false
	}
	return has(inner.History, "messages") && has(inner.History, "currentId")
}

func has(fields map[string]json.RawMessage, key string) bool {
	_, ok := fields[key]
	return ok
}
