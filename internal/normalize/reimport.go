package normalize

import (
	"encoding/json"
	"fmt"

	"github.com/chatvault-io/chatvault/internal/model"
)

// normalizeReimport handles this tool's own exports. The payload is already
// canonical, so conversations pass through unchanged apart from validation:
// a record claiming to be ours but missing its identity is malformed, not
// salvageable.
func normalizeReimport(raw []byte) ([]model.Conversation, error) {
	docs, err := elements(raw)
	if err != nil {
		return nil, err
	}

	out := make([]model.Conversation, 0, len(docs))
	for i, doc := range docs {
		var conv model.Conversation
		if err := json.Unmarshal(doc, &conv); err != nil {
			return nil, fmt.Errorf("%w: re-import conversation %d: %v", ErrMalformedConversation, i, err)
		}
		if conv.ID == "" {
			return nil, fmt.Errorf("%w: re-import conversation %d has no id", ErrMalformedConversation, i)
		}
		if !conv.Format.Known() {
			return nil, fmt.Errorf("%w: re-import conversation %d has format %q", ErrMalformedConversation, i, conv.Format)
		}
		if conv.Messages == nil {
			conv.Messages = []model.Message{}
		}
		fillDefaults(&conv)
		out = append(out, conv)
	}
	return out, nil
}
