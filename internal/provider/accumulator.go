package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// toolCallAccumulator reassembles one fragmented tool invocation. Providers
// emit tool calls sequentially, so exactly one accumulator is live per
// streaming session.
type toolCallAccumulator struct {
	active     bool
	index      int
	providerID string
	name       string
	args       bytes.Buffer
}

func (a *toolCallAccumulator) open(index int, providerID, name string) {
	a.active = true
	a.index = index
	a.providerID = providerID
	a.name = name
	a.args.Reset()
}

func (a *toolCallAccumulator) appendArgs(fragment string) {
	a.args.WriteString(fragment)
}

// finalize parses the buffered argument payload and produces one ToolCall.
// The accumulator is discarded whether or not parsing succeeds.
func (a *toolCallAccumulator) finalize() (ToolCall, error) {
	defer a.reset()

	if a.name == "" {
		return ToolCall{}, fmt.Errorf("tool call finalized without a name")
	}

	raw := a.args.Bytes()
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}
	if !json.Valid(raw) {
		return ToolCall{}, fmt.Errorf("tool call %q: invalid argument payload", a.name)
	}

	return ToolCall{
		ID:         uuid.New().String(),
		Name:       a.name,
		Arguments:  append(json.RawMessage(nil), raw...),
		ProviderID: a.providerID,
		Timestamp:  time.Now().UTC(),
	}, nil
}

func (a *toolCallAccumulator) reset() {
	a.active = false
	a.index = 0
	a.providerID = ""
	a.name = ""
	a.args.Reset()
}
