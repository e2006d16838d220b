// Package monitoring - tokens.go estimates output token counts.
//
// Providers do not report usage inline for every streaming response, so
// totals are computed from locally accumulated output. Real tokenization is
// used when an encoding exists for the model, with a chars/4 fallback.
package monitoring

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenEstimateRatio is the approximate number of characters per token.
const TokenEstimateRatio = 4

var (
	encodingMu    sync.Mutex
	encodingCache = map[string]*tiktoken.Tiktoken{}
)

// EstimateTokens returns a best-effort token count for text produced by
// model. Unknown models fall back to the character ratio.
func EstimateTokens(model, text string) int {
	if text == "" {
		return 0
	}

	encodingMu.Lock()
	enc, ok := encodingCache[model]
	if !ok {
		var err error
		enc, err = tiktoken.EncodingForModel(model)
		if err != nil {
			enc = nil
		}
		encodingCache[model] = enc
	}
	encodingMu.Unlock()

	if enc == nil {
		return (len(text) + TokenEstimateRatio - 1) / TokenEstimateRatio
	}
	return len(enc.Encode(text, nil, nil))
}
