package service

import (
	"context"
	"strings"
	"time"

	"github.com/sage-edu/rag-core/internal/model"
)

// EventType distinguishes the events the Streaming Bridge emits, per
// spec.md §4.7.
type EventType string

const (
	EventStatus   EventType = "status"
	EventSources  EventType = "sources"
	EventToken    EventType = "token"
	EventMetadata EventType = "metadata"
	EventError    EventType = "error"
	EventEnd      EventType = "end"
)

// Event is one item in the ordered stream delivered to a transport.
type Event struct {
	Type     EventType
	Status   string
	Sources  []model.SourceDocument
	Token    string
	Metadata StreamMetadata
	Err      error
}

// StreamMetadata is the final event's payload before the end-of-stream
// sentinel. Text, ModeUsed, and Sources are carried alongside the
// transport-facing ProcessingTimeS/Confidence fields so the caller can
// build the Answer that spec.md §4.9's streaming variant caches after the
// stream completes successfully (step 7 runs after completion, per §4.9).
type StreamMetadata struct {
	ProcessingTimeS float64
	Confidence      float64
	Text            string
	ModeUsed        model.Mode
	Sources         []model.SourceDocument
}

const (
	statusRetrieving = "Retrieving relevant documents..."
	statusGenerating = "Generating answer..."
)

// Streamer is the Streaming Bridge.
type Streamer struct {
	retriever *Retriever
	generator *Generator
	assembler *PromptAssembler
}

// NewStreamer constructs a Streamer.
func NewStreamer(retriever *Retriever, generator *Generator, assembler *PromptAssembler) *Streamer {
	return &Streamer{retriever: retriever, generator: generator, assembler: assembler}
}

// StreamAnswer drives the full streaming sequence from spec.md §4.7:
// status -> sources (if any) -> status -> token* -> metadata -> end. The
// returned channel is closed after the terminal event (end or error) is
// sent. Cancellation via ctx stops the producer within 200ms and skips the
// metadata event.
func (s *Streamer) StreamAnswer(ctx context.Context, question string, filter model.ClassFilter, history []model.ConversationTurn) <-chan Event {
	out := make(chan Event)

	go func() {
		defer close(out)
		start := time.Now()

		if !send(ctx, out, Event{Type: EventStatus, Status: statusRetrieving}) {
			return
		}

		var sources []model.SourceDocument
		mode := model.ModeGrounded
		if isCalculationProblem(question) {
			mode = SelectMode(question, false)
		} else {
			var err error
			sources, err = s.retriever.Retrieve(ctx, question, filter, 8)
			if err != nil {
				send(ctx, out, Event{Type: EventError, Err: err})
				return
			}
			mode = SelectMode(question, len(sources) > 0)
		}

		if len(sources) > 0 {
			if !send(ctx, out, Event{Type: EventSources, Sources: sources}) {
				return
			}
		}

		if !send(ctx, out, Event{Type: EventStatus, Status: statusGenerating}) {
			return
		}

		plan := s.assembler.Assemble(mode, question, sources, history, defaultMaxTokens)
		tokens, errs := s.generator.adapter.Stream(ctx, plan.Prompt, generationParams(defaultMaxTokens))

		var raw strings.Builder
	loop:
		for {
			select {
			case tok, ok := <-tokens:
				if !ok {
					break loop
				}
				raw.WriteString(tok)
				if !send(ctx, out, Event{Type: EventToken, Token: tok}) {
					return
				}
			case err := <-errs:
				if err != nil {
					send(ctx, out, Event{Type: EventError, Err: err})
					return
				}
			case <-ctx.Done():
				return
			}
		}

		select {
		case err := <-errs:
			if err != nil {
				send(ctx, out, Event{Type: EventError, Err: err})
				return
			}
		default:
		}

		text := PostProcess(raw.String(), sources)

		meta := StreamMetadata{
			ProcessingTimeS: time.Since(start).Seconds(),
			Confidence:      Confidence(sources),
			Text:            text,
			ModeUsed:        mode,
			Sources:         sources,
		}
		if !send(ctx, out, Event{Type: EventMetadata, Metadata: meta}) {
			return
		}
		send(ctx, out, Event{Type: EventEnd})
	}()

	return out
}

// send delivers an event unless the context is already canceled, in which
// case it returns false so the caller can stop without emitting further
// events (no partial metadata event on cancellation, per spec.md §4.7).
func send(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
