package handlers

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/hhszzzz/antihub/internal/adapter"
	"github.com/hhszzzz/antihub/internal/db/models"
	"github.com/hhszzzz/antihub/internal/logging"
	"github.com/hhszzzz/antihub/internal/proxy/middleware"
	"github.com/hhszzzz/antihub/internal/stream"
	"github.com/hhszzzz/antihub/internal/tokencount"
)

const defaultAnthropicVersion = "2023-06-01"

// MessagesHandler serves the Anthropic Messages surface. buffered selects
// the translator mode used by clients that read usage from the first
// event only.
func MessagesHandler(g *Gateway, buffered bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		echoAnthropicHeaders(w, r)

		body, err := readBody(r)
		if err != nil {
			writeAnthropicError(w, invalidRequest("read request: %v", err))
			return
		}
		canonical, err := adapter.AnthropicToCanonical(body)
		if err != nil {
			writeAnthropicError(w, invalidRequest("%v", err))
			return
		}

		userID := middleware.UserID(r)
		estimate := adapter.EstimateRequestTokens(canonical)

		if !canonical.Stream {
			g.messagesJSON(w, r, userID, canonical, started)
			return
		}
		g.messagesStream(w, r, userID, canonical, estimate, buffered, started)
	}
}

func echoAnthropicHeaders(w http.ResponseWriter, r *http.Request) {
	version := r.Header.Get("anthropic-version")
	if version == "" {
		version = defaultAnthropicVersion
	}
	w.Header().Set("anthropic-version", version)
	if beta := r.Header.Get("anthropic-beta"); beta != "" {
		w.Header().Set("anthropic-beta", beta)
	}
}

func (g *Gateway) messagesJSON(w http.ResponseWriter, r *http.Request, userID string, canonical *adapter.Request, started time.Time) {
	result, apiErr := g.dispatch(r.Context(), userID, canonical)
	if apiErr != nil {
		writeAnthropicError(w, apiErr)
		return
	}
	defer result.resp.Body.Close()

	doc, err := readLimited(result.resp.Body)
	if err != nil {
		writeAnthropicError(w, &apiError{Status: http.StatusBadGateway, Type: "api_error", Message: err.Error()})
		return
	}
	response, err := parseUpstreamResponse(doc, result.dialect, canonical.Model, adapter.NewToolCallIDGenerator())
	if err != nil {
		writeAnthropicError(w, &apiError{Status: http.StatusBadGateway, Type: "api_error", Message: err.Error()})
		return
	}

	g.recordUsage(r, result, canonical, response.Usage, false, started, "")
	writeJSON(w, http.StatusOK, adapter.ResponseToAnthropic(response))
}

func (g *Gateway) messagesStream(w http.ResponseWriter, r *http.Request, userID string, canonical *adapter.Request, estimate int, buffered bool, started time.Time) {
	writer := newSSEWriter(w)
	w.WriteHeader(http.StatusOK)
	writer.flush()

	translator := stream.NewMessagesTranslator(writer.Sink(), canonical.Model, estimate, buffered)
	ids := adapter.NewToolCallIDGenerator()

	// Pings flow while the upstream call is still connecting; in buffered
	// mode they bypass the hold-back and keep firing through the read loop,
	// since nothing else reaches the client until the flush.
	stop := make(chan struct{})
	var stopOnce sync.Once
	stopHeartbeat := func() { stopOnce.Do(func() { close(stop) }) }
	defer stopHeartbeat()
	go heartbeat(stop, r.Context().Done(), translator.Ping)

	result, apiErr := g.dispatch(r.Context(), userID, canonical)
	if !buffered {
		stopHeartbeat()
	}
	if apiErr != nil {
		translator.Fail(apiErr.Type, apiErr.Message)
		g.recordUsage(r, nil, canonical, tokencount.Usage{}, true, started, apiErr.Message)
		return
	}
	defer result.resp.Body.Close()

	scanner := stream.NewSSEScanner(result.resp.Body)
	for {
		payload, ok := scanner.Next()
		if !ok {
			break
		}
		for _, ev := range parseUpstreamEvent(payload, result.dialect, ids) {
			if err := translator.Feed(ev); err != nil {
				// Client went away; nothing to report.
				return
			}
		}
	}
	stopHeartbeat()
	if err := scanner.Err(); err != nil {
		log.Printf("⚠️ [%s] upstream stream broke: %v", logging.GetRequestID(r.Context()), err)
		translator.Fail("api_error", "upstream stream interrupted")
		g.recordUsage(r, result, canonical, tokencount.Usage{}, true, started, err.Error())
		return
	}
	translator.Finish()

	usage, _ := translator.Usage()
	g.recordUsage(r, result, canonical, usage, true, started, "")
}

// Tool-call id generators live for one request so every response numbers
// its calls from one.
func parseUpstreamResponse(doc []byte, dialect, model string, ids *adapter.ToolCallIDGenerator) (*adapter.Response, error) {
	if dialect == "gemini" {
		return adapter.GeminiResponseToCanonical(doc, model, ids)
	}
	return adapter.OpenAIResponseToCanonical(doc)
}

func parseUpstreamEvent(payload []byte, dialect string, ids *adapter.ToolCallIDGenerator) []stream.Event {
	if dialect == "gemini" {
		return stream.ParseGeminiEvent(payload, ids)
	}
	return stream.ParseOpenAIChunk(payload)
}

func (g *Gateway) recordUsage(r *http.Request, result *upstreamResult, canonical *adapter.Request, usage tokencount.Usage, streamed bool, started time.Time, failure string) {
	entry := &models.UsageLog{
		RequestID:       logging.GetRequestID(r.Context()),
		UserID:          middleware.UserID(r),
		Model:           canonical.Model,
		Stream:          streamed,
		InputTokens:     usage.Input,
		OutputTokens:    usage.Output,
		TotalTokens:     usage.Total,
		ReasoningTokens: usage.Reasoning,
		DurationMs:      time.Since(started).Milliseconds(),
		Error:           failure,
	}
	if result != nil {
		entry.Provider = result.account.Provider
		entry.AccountID = result.account.ID
	}
	g.Usage.Record(entry)
}
