package llm

import (
	"fmt"
	"strings"

	payloadschema "horse.fit/newstoss/schema"
)

// StripFences removes a surrounding markdown code fence, with or without a
// language tag.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	text = strings.TrimPrefix(text, "```")
	if newline := strings.IndexByte(text, '\n'); newline >= 0 {
		tag := strings.TrimSpace(text[:newline])
		if tag == "" || isFenceTag(tag) {
			text = text[newline+1:]
		}
	} else if strings.HasPrefix(strings.ToLower(text), "json") {
		text = text[len("json"):]
	}
	if end := strings.LastIndex(text, "```"); end >= 0 {
		text = text[:end]
	}
	return strings.TrimSpace(text)
}

func isFenceTag(tag string) bool {
	for _, r := range tag {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}

// ExtractObject returns the outermost JSON object in text.
func ExtractObject(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return "", fmt.Errorf("no json object in response")
	}
	return text[start : end+1], nil
}

// DecodeJSON parses a raw model response into out after schema validation.
func DecodeJSON(kind payloadschema.Kind, raw string, out any) error {
	if strings.TrimSpace(raw) == "" {
		return ErrEmptyResponse
	}
	object, err := ExtractObject(StripFences(raw))
	if err != nil {
		return err
	}
	if err := payloadschema.Decode(kind, []byte(object), out); err != nil {
		return fmt.Errorf("decode %s response: %w", kind, err)
	}
	return nil
}
