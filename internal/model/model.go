// Package model defines the canonical conversation schema that every
// format normalizer produces and every storage backend persists.
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FormatTag identifies which source format a conversation was imported from.
type FormatTag string

const (
	FormatChatGPT   FormatTag = "chatgpt"
	FormatClaude    FormatTag = "claude"
	FormatOpenWebUI FormatTag = "openwebui"
	FormatChatVault FormatTag = "chatvault"
)

// Known reports whether the tag is one of the supported source formats.
func (f FormatTag) Known() bool {
	switch f {
	case FormatChatGPT, FormatClaude, FormatOpenWebUI, FormatChatVault:
		return true
	}
	return false
}

// Role is the canonical sender vocabulary. Source formats that use other
// labels ("human", "ai") are translated during normalization.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Conversation is one imported chat thread in canonical form.
// Messages are in chronological order.
type Conversation struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Created  Time      `json:"created"`
	Updated  Time      `json:"updated"`
	Format   FormatTag `json:"format"`
	Summary  string    `json:"summary,omitempty"`
	Messages []Message `json:"messages"`
}

// Message is a single turn in a conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp Time      `json:"timestamp"`
	Meta      *Metadata `json:"meta,omitempty"`
}

// NewID returns a fresh conversation or message id for sources that
// don't carry one of their own.
func NewID() string {
	return uuid.NewString()
}

// Clone returns a deep copy, so a conversation can be handed to
// observers or callers without sharing message slices.
func (c Conversation) Clone() Conversation {
	out := c
	if c.Messages != nil {
		out.Messages = make([]Message, len(c.Messages))
		copy(out.Messages, c.Messages)
		for i := range out.Messages {
			out.Messages[i].Meta = out.Messages[i].Meta.clone()
		}
	}
	return out
}

// wireTime is the storage and export layout: ISO-8601 with millisecond
// precision, always UTC. Every timestamp in the system round-trips
// through this layout exactly.
const wireTime = "2006-01-02T15:04:05.000Z07:00"

// Time is a time.Time that serializes as an ISO-8601 string with
// millisecond precision, normalized to UTC.
type Time struct {
	time.Time
}

// At wraps t, dropping sub-millisecond precision.
func At(t time.Time) Time {
	return Time{t.UTC().Truncate(time.Millisecond)}
}

// ISO returns the canonical wire form of t.
func (t Time) ISO() string {
	return t.UTC().Format(wireTime)
}

// Now returns the current instant at millisecond precision.
func Now() Time {
	return At(time.Now())
}

func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(wireTime))
}

func (t *Time) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*t = Time{}
		return nil
	}
	parsed, err := time.Parse(wireTime, s)
	if err != nil {
		// Lenient on input: accept any RFC 3339 variant. Output is
		// always the canonical layout.
		parsed, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("parse time %q: %w", s, err)
		}
	}
	*t = At(parsed)
	return nil
}
