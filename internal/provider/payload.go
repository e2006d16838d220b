package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/sjson"
)

// DefaultMaxTokens caps Anthropic responses; the field is mandatory there.
const DefaultMaxTokens = 4096

// buildPayload translates the common internal message list into one
// provider family's request shape. Special cases:
//   - a leading system message goes to Anthropic's dedicated system field;
//   - empty user turns are suppressed (regenerate-style requests carry only
//     prior context);
//   - the caller-neutral tool schema becomes the family's own declaration.
func buildPayload(family Family, model string, req Request) ([]byte, error) {
	messages := pruneEmptyUserTurns(req.Messages)

	var system string
	if family == FamilyAnthropic && len(messages) > 0 && messages[0].Role == "system" {
		system = messages[0].Content
		messages = messages[1:]
	}

	base := struct {
		Model    string    `json:"model"`
		Messages []Message `json:"messages"`
		Stream   bool      `json:"stream"`
	}{Model: model, Messages: messages, Stream: true}

	body, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	if family == FamilyAnthropic {
		if body, err = sjson.SetBytes(body, "max_tokens", DefaultMaxTokens); err != nil {
			return nil, err
		}
		if system != "" {
			if body, err = sjson.SetBytes(body, "system", system); err != nil {
				return nil, err
			}
		}
	}

	if len(req.Tools) > 0 {
		tools, err := marshalTools(family, req.Tools)
		if err != nil {
			return nil, err
		}
		if body, err = sjson.SetRawBytes(body, "tools", tools); err != nil {
			return nil, err
		}
	}

	return body, nil
}

// pruneEmptyUserTurns drops user messages with no text.
func pruneEmptyUserTurns(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "user" && strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}

func marshalTools(family Family, tools []Tool) ([]byte, error) {
	switch family {
	case FamilyOpenAI:
		type fn struct {
			Name        string          `json:"name"`
			Description string          `json:"description,omitempty"`
			Parameters  json.RawMessage `json:"parameters,omitempty"`
		}
		type decl struct {
			Type     string `json:"type"`
			Function fn     `json:"function"`
		}
		decls := make([]decl, len(tools))
		for i, t := range tools {
			decls[i] = decl{Type: "function", Function: fn(t)}
		}
		return json.Marshal(decls)

	case FamilyAnthropic:
		type decl struct {
			Name        string          `json:"name"`
			Description string          `json:"description,omitempty"`
			InputSchema json.RawMessage `json:"input_schema,omitempty"`
		}
		decls := make([]decl, len(tools))
		for i, t := range tools {
			decls[i] = decl{Name: t.Name, Description: t.Description, InputSchema: t.Parameters}
		}
		return json.Marshal(decls)
	}
	return nil, fmt.Errorf("unknown provider family %q", family)
}
