package provider

import (
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// eventKind discriminates normalized stream events produced by a parser.
type eventKind int

const (
	eventText eventKind = iota
	// eventToolCall carries one fully reassembled tool invocation.
	eventToolCall
	// eventTerminal marks logical stream completion (family B only; family
	// A ends at its sentinel plus body close).
	eventTerminal
	// eventError is an in-stream error frame from the provider.
	eventError
)

// streamEvent is one normalized action decoded from a provider frame.
type streamEvent struct {
	kind       eventKind
	text       string
	call       ToolCall
	errMessage string
}

// frameParser turns one provider JSON frame into normalized events,
// mutating the session's tool-call accumulator as fragments arrive. One
// implementation per provider family.
type frameParser interface {
	parseFrame(data []byte, acc *toolCallAccumulator) []streamEvent
}

// finalizeAccumulator closes the live accumulator into an event. A payload
// that fails to parse is logged and dropped; the accumulator is discarded
// either way.
func finalizeAccumulator(acc *toolCallAccumulator, events []streamEvent) []streamEvent {
	call, err := acc.finalize()
	if err != nil {
		log.Warn().Err(err).Msg("provider: dropping unparseable tool call")
		return events
	}
	return append(events, streamEvent{kind: eventToolCall, call: call})
}

// openaiParser decodes family-A frames: JSON objects carrying
// choices[0].delta with text content and/or tool-call fragments.
type openaiParser struct{}

func (openaiParser) parseFrame(data []byte, acc *toolCallAccumulator) []streamEvent {
	var events []streamEvent

	choice := gjson.GetBytes(data, "choices.0")
	if !choice.Exists() {
		return nil
	}

	delta := choice.Get("delta")
	if content := delta.Get("content"); content.Exists() && content.String() != "" {
		events = append(events, streamEvent{kind: eventText, text: content.String()})
	}

	if fragments := delta.Get("tool_calls"); fragments.IsArray() {
		fragments.ForEach(func(_, frag gjson.Result) bool {
			index := int(frag.Get("index").Int())

			// A new index while a call is accumulating is a call boundary.
			if acc.active && index != acc.index {
				if acc.name != "" {
					events = finalizeAccumulator(acc, events)
				} else {
					acc.reset()
				}
			}
			if !acc.active {
				acc.open(index, frag.Get("id").String(), frag.Get("function.name").String())
			}

			// Name arrives once; arguments accumulate across fragments.
			if name := frag.Get("function.name").String(); name != "" && acc.name == "" {
				acc.name = name
			}
			if id := frag.Get("id").String(); id != "" && acc.providerID == "" {
				acc.providerID = id
			}
			if args := frag.Get("function.arguments"); args.Exists() {
				acc.appendArgs(args.String())
			}
			return true
		})
	}

	if choice.Get("finish_reason").String() == "tool_calls" && acc.active && acc.name != "" {
		events = finalizeAccumulator(acc, events)
	}

	return events
}
