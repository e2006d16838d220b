package provider

import "github.com/tidwall/gjson"

// anthropicParser decodes family-B frames: typed events with an explicit
// "type" discriminator and no end-of-stream sentinel (the body just
// closes after message_stop).
type anthropicParser struct{}

func (anthropicParser) parseFrame(data []byte, acc *toolCallAccumulator) []streamEvent {
	switch gjson.GetBytes(data, "type").String() {
	case "content_block_start":
		block := gjson.GetBytes(data, "content_block")
		if block.Get("type").String() == "tool_use" {
			acc.open(
				int(gjson.GetBytes(data, "index").Int()),
				block.Get("id").String(),
				block.Get("name").String(),
			)
		}
		return nil

	case "content_block_delta":
		delta := gjson.GetBytes(data, "delta")
		switch delta.Get("type").String() {
		case "text_delta":
			if text := delta.Get("text").String(); text != "" {
				return []streamEvent{{kind: eventText, text: text}}
			}
		case "input_json_delta":
			if acc.active {
				acc.appendArgs(delta.Get("partial_json").String())
			}
		}
		return nil

	case "content_block_stop":
		if acc.active {
			return finalizeAccumulator(acc, nil)
		}
		return nil

	case "message_stop":
		return []streamEvent{{kind: eventTerminal}}

	case "error":
		return []streamEvent{{
			kind:       eventError,
			errMessage: gjson.GetBytes(data, "error.message").String(),
		}}
	}

	// message_start, message_delta, ping, and anything unrecognized are
	// dropped without aborting the stream.
	return nil
}
