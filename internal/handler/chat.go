// Package handler implements the HTTP surface (spec.md §6): JSON request
// decoding/response encoding over the service layer, and the SSE encoding
// for the streaming chat endpoint.
//
// Grounded on the teacher's internal/handler/chat.go (ChatDeps-style
// dependency bundle, sendEvent SSE helper, JSON envelope shape) and
// health.go (readiness/liveness handler shape).
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sage-edu/rag-core/internal/apierr"
	"github.com/sage-edu/rag-core/internal/model"
	"github.com/sage-edu/rag-core/internal/service"
)

// ChatDeps bundles the collaborators the chat handlers need.
type ChatDeps struct {
	Coordinator *service.Coordinator
	Streamer    *service.Streamer
}

type askRequest struct {
	Message             string                    `json:"message"`
	ClassNum            *int                      `json:"class_num,omitempty"`
	ConversationHistory []model.ConversationTurn `json:"conversation_history,omitempty"`
	IncludeSources      *bool                     `json:"include_sources,omitempty"`
	MaxSources          *int                      `json:"max_sources,omitempty"`
}

func (r askRequest) classFilter() model.ClassFilter {
	return model.ClassFilter{Class: r.ClassNum}
}

func (r askRequest) includeSources() bool {
	if r.IncludeSources == nil {
		return true
	}
	return *r.IncludeSources
}

func (r askRequest) maxSources() int {
	if r.MaxSources == nil {
		return 5
	}
	return *r.MaxSources
}

// Ask handles POST /chat/ask.
func Ask(deps ChatDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req askRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAPIError(w, apierr.New(apierr.ValidationFailed, "malformed request body"))
			return
		}

		answer, err := deps.Coordinator.Ask(r.Context(), req.Message, req.classFilter(), req.ConversationHistory)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		if !req.includeSources() {
			answer.Sources = nil
		} else if len(answer.Sources) > req.maxSources() {
			answer.Sources = answer.Sources[:req.maxSources()]
		}

		writeJSON(w, http.StatusOK, answer)
	}
}

type streamEventPayload struct {
	Type     string                  `json:"type"`
	Status   string                  `json:"status,omitempty"`
	Sources  []model.SourceDocument `json:"sources,omitempty"`
	Token    string                  `json:"token,omitempty"`
	Metadata *streamMetadataPayload  `json:"metadata,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

type streamMetadataPayload struct {
	ProcessingTimeS float64 `json:"processing_time"`
	Confidence      float64 `json:"confidence"`
}

// eventTypeWire maps internal event types to the wire-level type field.
// spec.md §6 names the terminal event "done"; internally it is EventEnd.
func eventTypeWire(t service.EventType) string {
	if t == service.EventEnd {
		return "done"
	}
	return string(t)
}

// AskStream handles POST /chat/ask/stream.
func AskStream(deps ChatDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req askRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAPIError(w, apierr.New(apierr.ValidationFailed, "malformed request body"))
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeAPIError(w, apierr.New(apierr.Transient, "streaming unsupported by this transport"))
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		events, err := deps.Coordinator.AskStream(r.Context(), req.Message, req.classFilter(), req.ConversationHistory, deps.Streamer)
		if err != nil {
			writeSSE(w, flusher, streamEventPayload{Type: "error", Error: err.Error()})
			return
		}

		var completedMeta *service.StreamMetadata
		sawError := false
		for ev := range events {
			payload := streamEventPayload{Type: eventTypeWire(ev.Type)}
			switch ev.Type {
			case service.EventStatus:
				payload.Status = ev.Status
			case service.EventSources:
				if req.includeSources() {
					payload.Sources = ev.Sources
				}
			case service.EventToken:
				payload.Token = ev.Token
			case service.EventMetadata:
				meta := ev.Metadata
				completedMeta = &meta
				payload.Metadata = &streamMetadataPayload{
					ProcessingTimeS: meta.ProcessingTimeS,
					Confidence:      meta.Confidence,
				}
			case service.EventError:
				sawError = true
				payload.Error = ev.Err.Error()
			}
			writeSSE(w, flusher, payload)
		}

		// spec.md §4.9's streaming variant: step 7 (cache insert, counter
		// update) runs only after the stream completes successfully, never
		// on error or client-initiated cancellation.
		if completedMeta != nil && !sawError {
			answer := model.Answer{
				Text:            completedMeta.Text,
				Sources:         completedMeta.Sources,
				Confidence:      completedMeta.Confidence,
				ProcessingTimeS: completedMeta.ProcessingTimeS,
				ModeUsed:        completedMeta.ModeUsed,
			}
			deps.Coordinator.RecordStreamCompletion(req.Message, req.classFilter(), req.ConversationHistory, answer)
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, payload streamEventPayload) {
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", b)
	flusher.Flush()
}
