package types

import "encoding/json"

// Payload carries the provider-agnostic request content. Known fields are
// typed; everything else lands in Extra and is re-emitted on marshal, so
// fields this gateway does not know about still reach providers whose
// schemas accept them.
type Payload struct {
	Messages []Message // chat
	Prompt   string    // fim
	Suffix   string    // fim

	// Extra holds unrecognized payload fields verbatim.
	Extra map[string]json.RawMessage
}

// Empty reports whether the payload carries no content for any operation.
func (p Payload) Empty() bool {
	return len(p.Messages) == 0 && p.Prompt == "" && len(p.Extra) == 0
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if v, ok := raw["messages"]; ok {
		if err := json.Unmarshal(v, &p.Messages); err != nil {
			return err
		}
		delete(raw, "messages")
	}
	if v, ok := raw["prompt"]; ok {
		if err := json.Unmarshal(v, &p.Prompt); err != nil {
			return err
		}
		delete(raw, "prompt")
	}
	if v, ok := raw["suffix"]; ok {
		if err := json.Unmarshal(v, &p.Suffix); err != nil {
			return err
		}
		delete(raw, "suffix")
	}

	if len(raw) > 0 {
		p.Extra = raw
	}
	return nil
}

func (p Payload) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(p.Extra)+3)
	for k, v := range p.Extra {
		out[k] = v
	}
	if len(p.Messages) > 0 {
		b, err := json.Marshal(p.Messages)
		if err != nil {
			return nil, err
		}
		out["messages"] = b
	}
	if p.Prompt != "" {
		b, err := json.Marshal(p.Prompt)
		if err != nil {
			return nil, err
		}
		out["prompt"] = b
	}
	if p.Suffix != "" {
		b, err := json.Marshal(p.Suffix)
		if err != nil {
			return nil, err
		}
		out["suffix"] = b
	}
	return json.Marshal(out)
}
