// Package normalize converts platform export payloads into the canonical
// conversation schema. Each supported format has its own normalizer; all of
// them are pure functions over the raw payload.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/chatvault-io/chatvault/internal/model"
)

// ErrMalformedConversation means a payload matched a format's signature but
// could not be converted to the canonical schema.
var ErrMalformedConversation = errors.New("malformed conversation")

// Normalize converts a raw export payload of the given format into canonical
// conversations. The input is never modified; every call decodes fresh
// values. A batch converts atomically: one structurally broken conversation
// fails the whole payload.
func Normalize(tag model.FormatTag, raw []byte) ([]model.Conversation, error) {
	switch tag {
	case model.FormatChatGPT:
		return normalizeChatGPT(raw)
	case model.FormatClaude:
		return normalizeClaude(raw)
	case model.FormatOpenWebUI:
		return normalizeOpenWebUI(raw)
	case model.FormatChatVault:
		return normalizeReimport(raw)
	}
	return nil, fmt.Errorf("no normalizer for format %q", tag)
}

// elements splits a payload into its conversation documents: a bare object
// is a batch of one.
func elements(raw []byte) ([]json.RawMessage, error) {
	doc := bytes.TrimSpace(raw)
	if len(doc) == 0 {
		return nil, nil
	}
	if doc[0] != '[' {
		return []json.RawMessage{doc}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(doc, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedConversation, err)
	}
	return items, nil
}

// walkThread returns the node ids on the path from start back to the root,
// in chronological (root first) order. parentOf reports each node's parent
// id ("" at the root) and whether the node exists at all; ids missing from
// the tree end the walk instead of failing it, and the visited set stops
// parent cycles from looping forever.
func walkThread(start string, parentOf func(string) (string, bool)) []string {
	visited := make(map[string]bool)
	var path []string
	for id := start; id != "" && !visited[id]; {
		parent, ok := parentOf(id)
		if !ok {
			break
		}
		visited[id] = true
		path = append(path, id)
		id = parent
	}
	slices.Reverse(path)
	return path
}

// canonicalRole translates a platform sender label into the canonical
// vocabulary. Claude says "human"; everything else already matches.
// Non-conversational senders (tool calls, plugin output) have no canonical
// role and are dropped by the caller.
func canonicalRole(s string) (model.Role, bool) {
	switch s {
	case "user", "human":
		return model.RoleUser, true
	case "assistant", "ai":
		return model.RoleAssistant, true
	case "system":
		return model.RoleSystem, true
	}
	return "", false
}

// joinParts flattens a multi-part content array into one text body.
// Non-text parts (images, execution results) are dropped.
func joinParts(parts []json.RawMessage) string {
	var b strings.Builder
	for _, p := range parts {
		var s string
		if err := json.Unmarshal(p, &s); err != nil {
			continue
		}
		if s == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(s)
	}
	return b.String()
}

// epochTime converts a numeric epoch value to a canonical timestamp. Tree
// exports disagree on the scale: ChatGPT writes fractional seconds, other
// trees whole milliseconds. The magnitudes never overlap for plausible
// dates, so the value picks its own scale.
func epochTime(v float64) model.Time {
	if v == 0 {
		return model.Time{}
	}
	if v >= 1e12 {
		return model.At(time.UnixMilli(int64(math.Round(v))))
	}
	return model.At(time.UnixMilli(int64(math.Round(v * 1000))))
}

// parseISO parses a platform timestamp, accepting any RFC 3339 variant.
// Unparseable values become the zero time rather than failing the
// conversation.
func parseISO(s string) model.Time {
	if s == "" {
		return model.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return model.Time{}
	}
	return model.At(t)
}

// placeholderTitle names conversations whose source carried no title.
const placeholderTitle = "Untitled conversation"

// fillDefaults backfills the optional header fields: an absent title gets
// the placeholder, and missing conversation timestamps come from the
// message range, so every stored conversation has a name and a usable date.
func fillDefaults(c *model.Conversation) {
	if c.Title == "" {
		c.Title = placeholderTitle
	}
	if c.Created.IsZero() && len(c.Messages) > 0 {
		c.Created = c.Messages[0].Timestamp
	}
	if c.Updated.IsZero() && len(c.Messages) > 0 {
		c.Updated = c.Messages[len(c.Messages)-1].Timestamp
	}
	if c.Updated.IsZero() {
		c.Updated = c.Created
	}
}
