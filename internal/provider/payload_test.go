package provider

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestBuildPayload_AnthropicSystemPromotion(t *testing.T) {
	body, err := buildPayload(FamilyAnthropic, "claude-sonnet", Request{
		Messages: []Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hi"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "be brief", gjson.GetBytes(body, "system").String())
	assert.Equal(t, int64(1), gjson.GetBytes(body, "messages.#").Int())
	assert.Equal(t, "user", gjson.GetBytes(body, "messages.0.role").String())
	assert.Equal(t, int64(DefaultMaxTokens), gjson.GetBytes(body, "max_tokens").Int())
	assert.True(t, gjson.GetBytes(body, "stream").Bool())
}

func TestBuildPayload_OpenAIKeepsSystemInline(t *testing.T) {
	body, err := buildPayload(FamilyOpenAI, "gpt-4o", Request{
		Messages: []Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hi"},
		},
	})
	require.NoError(t, err)

	assert.False(t, gjson.GetBytes(body, "system").Exists())
	assert.False(t, gjson.GetBytes(body, "max_tokens").Exists())
	assert.Equal(t, int64(2), gjson.GetBytes(body, "messages.#").Int())
}

func TestBuildPayload_EmptyUserTurnsSuppressed(t *testing.T) {
	body, err := buildPayload(FamilyOpenAI, "gpt-4o", Request{
		Messages: []Message{
			{Role: "user", Content: "first"},
			{Role: "assistant", Content: "reply"},
			{Role: "user", Content: "   "},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), gjson.GetBytes(body, "messages.#").Int())
}

func TestBuildPayload_ToolDeclarationsPerFamily(t *testing.T) {
	req := Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
		Tools: []Tool{{
			Name:        "get_weather",
			Description: "look up weather",
			Parameters:  json.RawMessage(`{"type":"object"}`),
		}},
	}

	openai, err := buildPayload(FamilyOpenAI, "gpt-4o", req)
	require.NoError(t, err)
	assert.Equal(t, "function", gjson.GetBytes(openai, "tools.0.type").String())
	assert.Equal(t, "get_weather", gjson.GetBytes(openai, "tools.0.function.name").String())
	assert.Equal(t, "object", gjson.GetBytes(openai, "tools.0.function.parameters.type").String())

	anthropic, err := buildPayload(FamilyAnthropic, "claude-sonnet", req)
	require.NoError(t, err)
	assert.Equal(t, "get_weather", gjson.GetBytes(anthropic, "tools.0.name").String())
	assert.Equal(t, "object", gjson.GetBytes(anthropic, "tools.0.input_schema.type").String())
	assert.False(t, gjson.GetBytes(anthropic, "tools.0.type").Exists())
}
