package model

import "encoding/json"

// Metadata carries the per-message details that survive normalization.
// Fields every format can populate are typed; anything else a source
// format wants to keep rides along in Extra and is flattened into the
// same JSON object on the wire.
type Metadata struct {
	Model       string
	Usage       *Usage
	Attachments []Attachment
	Status      string
	Extra       map[string]any
}

// Usage is the token accounting a platform reported for a message.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// Attachment describes a file attached to a message.
type Attachment struct {
	Name      string `json:"name"`
	Kind      string `json:"kind,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

// Empty reports whether the metadata carries nothing worth persisting.
// Normalizers leave Message.Meta nil in that case.
func (m *Metadata) Empty() bool {
	if m == nil {
		return true
	}
	return m.Model == "" && m.Usage == nil && len(m.Attachments) == 0 &&
		m.Status == "" && len(m.Extra) == 0
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+4)
	for k, v := range m.Extra {
		out[k] = v
	}
	// Typed fields win over Extra entries of the same name.
	if m.Model != "" {
		out["model"] = m.Model
	}
	if m.Usage != nil {
		out["usage"] = m.Usage
	}
	if len(m.Attachments) > 0 {
		out["attachments"] = m.Attachments
	}
	if m.Status != "" {
		out["status"] = m.Status
	}
	return json.Marshal(out)
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*m = Metadata{}
	if v, ok := raw["model"]; ok {
		if err := json.Unmarshal(v, &m.Model); err != nil {
			return err
		}
		delete(raw, "model")
	}
	if v, ok := raw["usage"]; ok {
		if err := json.Unmarshal(v, &m.Usage); err != nil {
			return err
		}
		delete(raw, "usage")
	}
	if v, ok := raw["attachments"]; ok {
		if err := json.Unmarshal(v, &m.Attachments); err != nil {
			return err
		}
		delete(raw, "attachments")
	}
	if v, ok := raw["status"]; ok {
		if err := json.Unmarshal(v, &m.Status); err != nil {
			return err
		}
		delete(raw, "status")
	}

	for k, v := range raw {
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		if m.Extra == nil {
			m.Extra = make(map[string]any, len(raw))
		}
		m.Extra[k] = val
	}
	return nil
}

func (m *Metadata) clone() *Metadata {
	if m == nil {
		return nil
	}
	out := *m
	if m.Usage != nil {
		u := *m.Usage
		out.Usage = &u
	}
	if len(m.Attachments) > 0 {
		out.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if len(m.Extra) > 0 {
		out.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return &out
}
