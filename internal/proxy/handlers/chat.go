package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/hhszzzz/antihub/internal/adapter"
	"github.com/hhszzzz/antihub/internal/logging"
	"github.com/hhszzzz/antihub/internal/proxy/middleware"
	"github.com/hhszzzz/antihub/internal/stream"
	"github.com/hhszzzz/antihub/internal/tokencount"
)

// ChatHandler serves the OpenAI Chat Completions surface through the same
// canonical hub as the Messages surface.
func ChatHandler(g *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()

		body, err := readBody(r)
		if err != nil {
			writeOpenAIError(w, invalidRequest("read request: %v", err))
			return
		}
		canonical, err := adapter.OpenAIToCanonical(body)
		if err != nil {
			writeOpenAIError(w, invalidRequest("%v", err))
			return
		}

		userID := middleware.UserID(r)
		if !canonical.Stream {
			g.chatJSON(w, r, userID, canonical, started)
			return
		}
		g.chatStream(w, r, userID, canonical, started)
	}
}

func (g *Gateway) chatJSON(w http.ResponseWriter, r *http.Request, userID string, canonical *adapter.Request, started time.Time) {
	result, apiErr := g.dispatch(r.Context(), userID, canonical)
	if apiErr != nil {
		writeOpenAIError(w, apiErr)
		return
	}
	defer result.resp.Body.Close()

	doc, err := readLimited(result.resp.Body)
	if err != nil {
		writeOpenAIError(w, &apiError{Status: http.StatusBadGateway, Type: "api_error", Message: err.Error()})
		return
	}
	response, err := parseUpstreamResponse(doc, result.dialect, canonical.Model, adapter.NewToolCallIDGenerator())
	if err != nil {
		writeOpenAIError(w, &apiError{Status: http.StatusBadGateway, Type: "api_error", Message: err.Error()})
		return
	}

	g.recordUsage(r, result, canonical, response.Usage, false, started, "")
	writeJSON(w, http.StatusOK, adapter.ResponseToOpenAI(response))
}

func (g *Gateway) chatStream(w http.ResponseWriter, r *http.Request, userID string, canonical *adapter.Request, started time.Time) {
	writer := newSSEWriter(w)
	w.WriteHeader(http.StatusOK)
	writer.flush()

	translator := stream.NewChatTranslator(writer.Sink(), canonical.Model)
	ids := adapter.NewToolCallIDGenerator()

	result, apiErr := g.dispatch(r.Context(), userID, canonical)
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
				return
			}
		}
	}
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
