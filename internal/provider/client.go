package provider

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// doneSentinel is family A's literal end-of-stream token. It is neither an
// error nor a content event.
const doneSentinel = "[DONE]"

// defaultStreamBudget bounds one streaming session's wall clock.
const defaultStreamBudget = 280 * time.Second

// maxErrorBodyLen limits how much of an upstream error body is retained.
const maxErrorBodyLen = 512

// Config describes one upstream completion provider endpoint.
type Config struct {
	Name    string
	Family  Family
	BaseURL string
	APIKey  string
	Model   string
	// Version is the anthropic-version header (family B only).
	Version string
}

// Client streams completions from one provider, normalizing its wire
// protocol into Handlers callbacks.
type Client struct {
	cfg        Config
	httpClient *http.Client
	budget     time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBudget overrides the streaming wall-clock budget.
func WithBudget(d time.Duration) Option {
	return func(c *Client) { c.budget = d }
}

// NewClient creates a provider client.
func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg: cfg,
		// No client-level timeout: the stream context bounds the session.
		httpClient: &http.Client{},
		budget:     defaultStreamBudget,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the configured provider name.
func (c *Client) Name() string { return c.cfg.Name }

// Family returns the provider's wire family.
func (c *Client) Family() Family { return c.cfg.Family }

// DefaultModel returns the configured model.
func (c *Client) DefaultModel() string { return c.cfg.Model }

// Stream opens one streaming completion and decodes it until completion,
// caller disconnect, timeout, or provider error.
//
// Cancellation contract: ctx is the caller's connection; when it is
// cancelled mid-stream the upstream read is cancelled and Stream returns
// Result{Aborted: true} with a nil error. Timeout contract: the whole
// decode loop is bounded by the wall-clock budget; exceeding it cancels
// the upstream read and returns ErrStreamTimeout.
func (c *Client) Stream(ctx context.Context, req Request, h Handlers) (Result, error) {
	var res Result

	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}

	payload, err := buildPayload(c.cfg.Family, model, req)
	if err != nil {
		return res, err
	}

	streamCtx, cancel := context.WithTimeout(ctx, c.budget)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, c.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return res, err
	}
	c.setHeaders(httpReq, req.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return c.finish(ctx, streamCtx, res, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return res, c.upstreamError(resp)
	}

	parser := c.parser()
	reader := bufio.NewReader(resp.Body)
	var acc toolCallAccumulator

	for {
		// Cooperative poll: caller disconnect and budget expiry are
		// checked every iteration, never preempted.
		if ctx.Err() != nil {
			res.Aborted = true
			return res, nil
		}
		if streamCtx.Err() != nil {
			return res, ErrStreamTimeout
		}

		line, readErr := reader.ReadString('\n')
		if len(strings.TrimSpace(line)) > 0 {
			done, termErr := c.handleLine(line, parser, &acc, h, &res)
			if termErr != nil {
				return res, termErr
			}
			if done {
				return res, nil
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				// Stream completion is also a call boundary.
				if acc.active && acc.name != "" {
					c.emitFinalized(&acc, h, &res)
				}
				return res, nil
			}
			return c.finish(ctx, streamCtx, res, readErr)
		}
	}
}

// handleLine decodes one framed line and dispatches its events. Returns
// done=true on logical stream completion.
func (c *Client) handleLine(line string, parser frameParser, acc *toolCallAccumulator, h Handlers, res *Result) (bool, error) {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "":
		return false, nil
	case strings.HasPrefix(trimmed, "event:"):
		// Family B names events redundantly; the data frame's own type
		// field is authoritative.
		return false, nil
	case !strings.HasPrefix(trimmed, "data:"):
		return false, nil
	}

	data := strings.TrimSpace(strings.TrimPrefix(trimmed, "data:"))
	if data == "" || data == doneSentinel {
		return false, nil
	}

	if !gjson.Valid(data) {
		// Malformed frames are expected at buffer boundaries; skip, never
		// abort the stream.
		log.Debug().Str("provider", c.cfg.Name).Msg("provider: skipping malformed frame")
		return false, nil
	}

	for _, ev := range parser.parseFrame([]byte(data), acc) {
		switch ev.kind {
		case eventText:
			if h.TextDelta != nil {
				h.TextDelta(ev.text)
			}
			res.Chars += len(ev.text)
		case eventToolCall:
			if h.ToolCall != nil {
				h.ToolCall(ev.call)
			}
			res.ToolCalls++
		case eventTerminal:
			return true, nil
		case eventError:
			return false, &UpstreamError{
				Provider:   c.cfg.Name,
				StatusCode: http.StatusBadGateway,
				Message:    ev.errMessage,
			}
		}
	}
	return false, nil
}

func (c *Client) emitFinalized(acc *toolCallAccumulator, h Handlers, res *Result) {
	call, err := acc.finalize()
	if err != nil {
		log.Warn().Err(err).Msg("provider: dropping unparseable tool call")
		return
	}
	if h.ToolCall != nil {
		h.ToolCall(call)
	}
	res.ToolCalls++
}

// finish classifies an upstream I/O failure: caller disconnect is a clean
// abort, budget expiry is a timeout fault, anything else is an error.
func (c *Client) finish(ctx, streamCtx context.Context, res Result, err error) (Result, error) {
	if ctx.Err() != nil {
		res.Aborted = true
		return res, nil
	}
	if streamCtx.Err() != nil {
		return res, ErrStreamTimeout
	}
	return res, err
}

func (c *Client) upstreamError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
	message := gjson.GetBytes(body, "error.message").String()
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	return &UpstreamError{Provider: c.cfg.Name, StatusCode: resp.StatusCode, Message: message}
}

func (c *Client) endpoint() string {
	base := strings.TrimRight(c.cfg.BaseURL, "/")
	if c.cfg.Family == FamilyAnthropic {
		return base + "/v1/messages"
	}
	return base + "/v1/chat/completions"
}

func (c *Client) setHeaders(req *http.Request, callerKey string) {
	apiKey := callerKey
	if apiKey == "" {
		apiKey = c.cfg.APIKey
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	if c.cfg.Family == FamilyAnthropic {
		req.Header.Set("x-api-key", apiKey)
		version := c.cfg.Version
		if version == "" {
			version = "2023-06-01"
		}
		req.Header.Set("anthropic-version", version)
		return
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
}

func (c *Client) parser() frameParser {
	if c.cfg.Family == FamilyAnthropic {
		return anthropicParser{}
	}
	return openaiParser{}
}
