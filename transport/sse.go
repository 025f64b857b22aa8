package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/wardline/wardline/pipeline"
)

// streamTokenDelay paces token events so clients render progressively
const streamTokenDelay = 15 * time.Millisecond

// handleStream runs the full pipeline first, then streams the finished
// response as SSE. Safety decisions always complete before the first
// byte of content leaves the server; streaming is presentation only.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeJSON(w, http.StatusInternalServerError, errorBody{Error: "streaming unsupported", Code: "INTERNAL_ERROR"})
		return
	}

	result := s.executor.Execute(r.Context(), toPipelineRequest(req))
	s.observe(result)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeEvent(w, flusher, "meta", map[string]interface{}{
		"kind":           string(result.Kind),
		"warning":        result.Warning,
		"ackToken":       result.AckToken,
		"userOptions":    result.UserOptions,
		"redirectTarget": result.RedirectTarget,
	})

	switch result.Kind {
	case pipeline.KindError:
		writeEvent(w, flusher, "error", map[string]interface{}{"code": result.ErrorCode})
		return
	case pipeline.KindAwaitAck, pipeline.KindRedirect:
		writeEvent(w, flusher, "done", map[string]interface{}{"kind": string(result.Kind)})
		return
	}

	for _, token := range tokenize(result.Response) {
		select {
		case <-r.Context().Done():
			return
		default:
		}
		writeEvent(w, flusher, "token", map[string]interface{}{"text": token})
		time.Sleep(streamTokenDelay)
	}
	if result.SparkText != "" {
		writeEvent(w, flusher, "spark", map[string]interface{}{"text": result.SparkText})
	}
	writeEvent(w, flusher, "done", map[string]interface{}{"kind": string(result.Kind)})
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}

// tokenize splits a response into word chunks, keeping trailing spaces
// so concatenating the chunks reproduces the text exactly.
func tokenize(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] == ' ' || text[i] == '\n' {
			out = append(out, text[start:i+1])
			start = i + 1
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

func newRequestID() string {
	return uuid.New().String()
}
