package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/chatvault-io/chatvault/internal/model"
)

func TestNormalizeChatGPT_WalksActiveBranch(t *testing.T) {
	payload := `[{
		"id": "gpt-conv-1",
		"title": "Weekend plans",
		"create_time": 1709290800.0,
		"update_time": 1709290810.5,
		"current_node": "a1",
		"mapping": {
			"root": {"id": "root", "message": null, "parent": null, "children": ["u1"]},
			"u1": {"id": "u1", "message": {"id": "u1", "author": {"role": "user"}, "create_time": 1709290800.0, "content": {"content_type": "text", "parts": ["Any hike ideas?"]}}, "parent": "root", "children": ["a1"]},
			"a1": {"id": "a1", "message": {"id": "a1", "author": {"role": "assistant"}, "create_time": 1709290805.25, "content": {"content_type": "text", "parts": ["Try the coastal trail."]}, "metadata": {"model_slug": "gpt-4"}}, "parent": "u1", "children": []}
		}
	}]`

	convs, err := Normalize(model.FormatChatGPT, []byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(convs) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(convs))
	}

	c := convs[0]
	if c.ID != "gpt-conv-1" || c.Title != "Weekend plans" || c.Format != model.FormatChatGPT {
		t.Errorf("conversation header = %+v", c)
	}
	if len(c.Messages) != 2 {
		t.Fatalf("expected 2 messages (root stub skipped), got %d", len(c.Messages))
	}
	if c.Messages[0].Role != model.RoleUser || c.Messages[0].Content != "Any hike ideas?" {
		t.Errorf("msg[0] = %+v", c.Messages[0])
	}
	if c.Messages[1].Role != model.RoleAssistant || c.Messages[1].Content != "Try the coastal trail." {
		t.Errorf("msg[1] = %+v", c.Messages[1])
	}
	if c.Messages[1].Meta == nil || c.Messages[1].Meta.Model != "gpt-4" {
		t.Errorf("model slug lost: %+v", c.Messages[1].Meta)
	}

	wantTS := time.Date(2024, 3, 1, 11, 0, 5, 250e6, time.UTC)
	if !c.Messages[1].Timestamp.Equal(wantTS) {
		t.Errorf("timestamp = %v, want %v", c.Messages[1].Timestamp.Time, wantTS)
	}
	if !c.Updated.Equal(time.Date(2024, 3, 1, 11, 0, 10, 500e6, time.UTC)) {
		t.Errorf("updated = %v", c.Updated.Time)
	}
}

func TestNormalizeChatGPT_MappingOrderIrrelevant(t *testing.T) {
	// The leaf comes first in the document. Parent links alone decide the
	// order, root to current.
	payload := `{
		"id": "gpt-conv-ordered",
		"current_node": "b",
		"mapping": {
			"b": {"id": "b", "message": {"id": "b", "author": {"role": "assistant"}, "create_time": 1709290802.0, "content": {"parts": ["third"]}}, "parent": "a", "children": []},
			"root": {"id": "root", "message": {"id": "root", "author": {"role": "user"}, "create_time": 1709290800.0, "content": {"parts": ["first"]}}, "parent": null, "children": ["a"]},
			"a": {"id": "a", "message": {"id": "a", "author": {"role": "assistant"}, "create_time": 1709290801.0, "content": {"parts": ["second"]}}, "parent": "root", "children": ["b"]}
		}
	}`

	convs, err := Normalize(model.FormatChatGPT, []byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msgs := convs[0].Messages
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, want := range []string{"first", "second", "third"} {
		if msgs[i].Content != want {
			t.Errorf("msg[%d] = %q, want %q", i, msgs[i].Content, want)
		}
	}
}

func TestNormalizeChatGPT_MillisecondTimestamps(t *testing.T) {
	// Some tree exports carry epoch milliseconds instead of fractional
	// seconds. Both must land on the same instant.
	payload := `{
		"id": "gpt-conv-ms",
		"current_node": "u1",
		"mapping": {
			"u1": {"id": "u1", "message": {"id": "u1", "author": {"role": "user"}, "create_time": 1709290800500, "content": {"parts": ["hi"]}}, "parent": null, "children": []}
		}
	}`

	convs, err := Normalize(model.FormatChatGPT, []byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := time.Date(2024, 3, 1, 11, 0, 0, 500e6, time.UTC)
	if got := convs[0].Messages[0].Timestamp; !got.Equal(want) {
		t.Errorf("timestamp = %v, want %v", got.Time, want)
	}
}

func TestNormalizeChatGPT_CurrentNodeSelectsBranch(t *testing.T) {
	// u1 has two assistant replies; only the branch under current_node
	// belongs to the normalized conversation.
	payload := `{
		"id": "gpt-conv-2",
		"title": "Branched",
		"current_node": "a2",
		"mapping": {
			"u1": {"id": "u1", "message": {"id": "u1", "author": {"role": "user"}, "create_time": 1709290800.0, "content": {"parts": ["Question"]}}, "parent": null, "children": ["a1", "a2"]},
			"a1": {"id": "a1", "message": {"id": "a1", "author": {"role": "assistant"}, "create_time": 1709290801.0, "content": {"parts": ["First answer"]}}, "parent": "u1", "children": []},
			"a2": {"id": "a2", "message": {"id": "a2", "author": {"role": "assistant"}, "create_time": 1709290802.0, "content": {"parts": ["Regenerated answer"]}}, "parent": "u1", "children": []}
		}
	}`

	convs, err := Normalize(model.FormatChatGPT, []byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msgs := convs[0].Messages
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[1].Content != "Regenerated answer" {
		t.Errorf("wrong branch taken: %q", msgs[1].Content)
	}
}

func TestNormalizeChatGPT_SkipsHiddenNodes(t *testing.T) {
	payload := `{
		"id": "gpt-conv-3",
		"current_node": "a1",
		"mapping": {
			"sys": {"id": "sys", "message": {"id": "sys", "author": {"role": "system"}, "content": {"parts": ["internal prompt"]}, "metadata": {"is_visually_hidden_from_conversation": true}}, "parent": null, "children": ["u1"]},
			"u1": {"id": "u1", "message": {"id": "u1", "author": {"role": "user"}, "create_time": 1709290800.0, "content": {"parts": ["Hello"]}}, "parent": "sys", "children": ["a1"]},
			"a1": {"id": "a1", "message": {"id": "a1", "author": {"role": "assistant"}, "create_time": 1709290801.0, "content": {"parts": ["Hi"]}}, "parent": "u1", "children": []}
		}
	}`

	convs, err := Normalize(model.FormatChatGPT, []byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msgs := convs[0].Messages
	if len(msgs) != 2 {
		t.Fatalf("expected hidden node skipped, got %d messages", len(msgs))
	}
	if msgs[0].Content != "Hello" || msgs[1].Content != "Hi" {
		t.Errorf("walk broke at the hidden node: %+v", msgs)
	}
}

func TestNormalizeChatGPT_MissingParentEndsWalkGracefully(t *testing.T) {
	// u1's parent was pruned from the export. The walk keeps what it
	// reached instead of failing the conversation.
	payload := `{
		"id": "gpt-conv-4",
		"current_node": "a1",
		"mapping": {
			"u1": {"id": "u1", "message": {"id": "u1", "author": {"role": "user"}, "create_time": 1709290800.0, "content": {"parts": ["Orphaned question"]}}, "parent": "ghost", "children": ["a1"]},
			"a1": {"id": "a1", "message": {"id": "a1", "author": {"role": "assistant"}, "create_time": 1709290801.0, "content": {"parts": ["Answer"]}}, "parent": "u1", "children": []}
		}
	}`

	convs, err := Normalize(model.FormatChatGPT, []byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msgs := convs[0].Messages
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages despite missing parent, got %d", len(msgs))
	}
	if msgs[0].Content != "Orphaned question" {
		t.Errorf("msg[0] = %q", msgs[0].Content)
	}
}

func TestNormalizeChatGPT_ParentCycleTerminates(t *testing.T) {
	payload := `{
		"id": "gpt-conv-5",
		"current_node": "b",
		"mapping": {
			"a": {"id": "a", "message": {"id": "a", "author": {"role": "user"}, "create_time": 1709290800.0, "content": {"parts": ["A"]}}, "parent": "b", "children": ["b"]},
			"b": {"id": "b", "message": {"id": "b", "author": {"role": "assistant"}, "create_time": 1709290801.0, "content": {"parts": ["B"]}}, "parent": "a", "children": ["a"]}
		}
	}`

	convs, err := Normalize(model.FormatChatGPT, []byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(convs[0].Messages) != 2 {
		t.Errorf("expected each node once, got %d messages", len(convs[0].Messages))
	}
}

func TestNormalizeChatGPT_FallbackLeafWhenPointerMissing(t *testing.T) {
	payload := `{
		"id": "gpt-conv-6",
		"mapping": {
			"u1": {"id": "u1", "message": {"id": "u1", "author": {"role": "user"}, "create_time": 1709290800.0, "content": {"parts": ["Hello"]}}, "parent": null, "children": ["a1"]},
			"a1": {"id": "a1", "message": {"id": "a1", "author": {"role": "assistant"}, "create_time": 1709290801.0, "content": {"parts": ["Hi"]}}, "parent": "u1", "children": []}
		}
	}`

	convs, err := Normalize(model.FormatChatGPT, []byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(convs[0].Messages) != 2 {
		t.Errorf("expected full thread from fallback leaf, got %d messages", len(convs[0].Messages))
	}
}

func TestNormalizeChatGPT_JoinsMultiPartContent(t *testing.T) {
	payload := `{
		"id": "gpt-conv-7",
		"current_node": "a1",
		"mapping": {
			"a1": {"id": "a1", "message": {"id": "a1", "author": {"role": "assistant"}, "create_time": 1709290800.0, "content": {"parts": ["First part.", {"content_type": "image_asset_pointer"}, "Second part."]}}, "parent": null, "children": []}
		}
	}`

	convs, err := Normalize(model.FormatChatGPT, []byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := convs[0].Messages[0].Content
	if got != "First part.\nSecond part." {
		t.Errorf("content = %q, want parts joined by newline", got)
	}
}

func TestNormalizeChatGPT_SkipsToolNodes(t *testing.T) {
	// Plugin output sits between the user turn and the visible answer. It
	// has no canonical role, so it is dropped while the walk continues.
	payload := `{
		"id": "gpt-conv-8",
		"current_node": "a1",
		"mapping": {
			"u1": {"id": "u1", "message": {"id": "u1", "author": {"role": "user"}, "create_time": 1709290800.0, "content": {"parts": ["Search for trail maps"]}}, "parent": null, "children": ["t1"]},
			"t1": {"id": "t1", "message": {"id": "t1", "author": {"role": "tool"}, "create_time": 1709290801.0, "content": {"parts": ["{\"results\":[]}"]}}, "parent": "u1", "children": ["a1"]},
			"a1": {"id": "a1", "message": {"id": "a1", "author": {"role": "assistant"}, "create_time": 1709290802.0, "content": {"parts": ["No maps found."]}}, "parent": "t1", "children": []}
		}
	}`

	convs, err := Normalize(model.FormatChatGPT, []byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msgs := convs[0].Messages
	if len(msgs) != 2 {
		t.Fatalf("expected tool node dropped, got %d messages", len(msgs))
	}
	if msgs[0].Role != model.RoleUser || msgs[1].Role != model.RoleAssistant {
		t.Errorf("roles = %s, %s", msgs[0].Role, msgs[1].Role)
	}
}

func TestNormalizeChatGPT_MissingMapping(t *testing.T) {
	_, err := Normalize(model.FormatChatGPT, []byte(`{"id": "x", "title": "no tree"}`))
	if !errors.Is(err, ErrMalformedConversation) {
		t.Fatalf("expected ErrMalformedConversation, got %v", err)
	}
}

func TestNormalizeChatGPT_GeneratesIDWhenAbsent(t *testing.T) {
	payload := `{
		"title": "anonymous",
		"current_node": "u1",
		"mapping": {
			"u1": {"id": "u1", "message": {"id": "u1", "author": {"role": "user"}, "create_time": 1709290800.0, "content": {"parts": ["hi"]}}, "parent": null, "children": []}
		}
	}`

	convs, err := Normalize(model.FormatChatGPT, []byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if convs[0].ID == "" {
		t.Error("conversation without an id should get a generated one")
	}
}
