package message

import (
	"encoding/json"
	"fmt"
)

// MarshalContent encodes a content part with its content_type tag inlined.
func MarshalContent(part ContentPart) ([]byte, error) {
	if part == nil {
		return nil, fmt.Errorf("%w: nil content part", ErrInvalidFormat)
	}
	body, err := json.Marshal(part)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	tag, _ := json.Marshal(part.Kind())
	fields["content_type"] = tag
	return json.Marshal(fields)
}

// UnmarshalContent decodes a tagged content part.
func UnmarshalContent(data []byte) (ContentPart, error) {
	var head struct {
		ContentType ContentKind `json:"content_type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	var (
		part ContentPart
		err  error
	)
	switch head.ContentType {
	case KindText:
		var p Text
		err = json.Unmarshal(data, &p)
		part = p
	case KindToolUse:
		var p ToolUse
		err = json.Unmarshal(data, &p)
		part = p
	case KindImage:
		var p Image
		err = json.Unmarshal(data, &p)
		part = p
	case KindTextFilePointer:
		var p TextFilePointer
		err = json.Unmarshal(data, &p)
		part = p
	case KindImageFilePointer:
		var p ImageFilePointer
		err = json.Unmarshal(data, &p)
		part = p
	default:
		return nil, fmt.Errorf("%w: unknown content_type %q", ErrInvalidFormat, head.ContentType)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return part, nil
}

type inputMessageJSON struct {
	Role    Role            `json:"role"`
	Content json.RawMessage `json:"content"`
}

// MarshalJSON implements json.Marshaler.
func (m InputMessage) MarshalJSON() ([]byte, error) {
	content, err := MarshalContent(m.Content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(inputMessageJSON{Role: m.Role, Content: content})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *InputMessage) UnmarshalJSON(data []byte) error {
	var raw inputMessageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if !raw.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidFormat, raw.Role)
	}
	part, err := UnmarshalContent(raw.Content)
	if err != nil {
		return err
	}
	m.Role = raw.Role
	m.Content = part
	return nil
}

type rawMessageJSON struct {
	Role    Role              `json:"role"`
	Name    string            `json:"name,omitempty"`
	Content []json.RawMessage `json:"content"`
}

// MarshalJSON implements json.Marshaler.
func (s Schema) MarshalJSON() ([]byte, error) {
	out := rawMessageJSON{Role: s.Role, Name: s.Name, Content: make([]json.RawMessage, 0, len(s.Content))}
	for _, part := range s.Content {
		b, err := MarshalContent(part)
		if err != nil {
			return nil, err
		}
		out.Content = append(out.Content, b)
	}
	return json.Marshal(out)
}
