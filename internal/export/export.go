// Package export renders archived conversations for consumption outside
// the vault. The JSON form is the native format and can be imported back
// without loss; the Markdown form is a one-way human-readable transcript.
package export

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chatvault-io/chatvault/internal/model"
)

// JSON renders conversations as an indented native-format document. A nil
// or empty slice renders as an empty array so the output is always a
// valid import payload.
func JSON(convs []model.Conversation) ([]byte, error) {
	if convs == nil {
		convs = []model.Conversation{}
	}
	data, err := json.MarshalIndent(convs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode export: %w", err)
	}
	return append(data, '\n'), nil
}

// Markdown renders one conversation as a transcript with a heading per
// message. Lossy: metadata beyond the model name is dropped.
func Markdown(c model.Conversation) string {
	var sb strings.Builder

	title := c.Title
	if title == "" {
		title = c.ID
	}
	fmt.Fprintf(&sb, "# %s\n\n", title)
	fmt.Fprintf(&sb, "- Source: %s\n", c.Format)
	fmt.Fprintf(&sb, "- Created: %s\n", c.Created.ISO())
	fmt.Fprintf(&sb, "- Updated: %s\n", c.Updated.ISO())
	fmt.Fprintf(&sb, "- Messages: %d\n\n", len(c.Messages))

	if c.Summary != "" {
		fmt.Fprintf(&sb, "%s\n\n", strings.TrimSpace(c.Summary))
	}

	for _, m := range c.Messages {
		fmt.Fprintf(&sb, "## %s (%s)\n\n", roleLabel(m.Role), m.Timestamp.ISO())
		body := strings.TrimSpace(m.Content)
		if body != "" {
			sb.WriteString(body)
			sb.WriteString("\n\n")
		}
		if m.Meta != nil && m.Meta.Model != "" {
			fmt.Fprintf(&sb, "*model: %s*\n\n", m.Meta.Model)
		}
	}
	return sb.String()
}

func roleLabel(r model.Role) string {
	switch r {
	case model.RoleUser:
		return "User"
	case model.RoleAssistant:
		return "Assistant"
	case model.RoleSystem:
		return "System"
	default:
		return string(r)
	}
}
