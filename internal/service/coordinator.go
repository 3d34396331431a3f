package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sage-edu/rag-core/internal/apierr"
	"github.com/sage-edu/rag-core/internal/cache"
	"github.com/sage-edu/rag-core/internal/guardrail"
	"github.com/sage-edu/rag-core/internal/model"
)

const maxQuestionLength = 1000

// Counters holds the Stats & Health monotonic counters the Coordinator
// updates after every request, per spec.md §4.10.
type Counters struct {
	TotalQueries           atomic.Int64
	CacheHits              atomic.Int64
	TotalProcessingTimeNs  atomic.Int64
}

// Coordinator is the Request Coordinator: it sequences guardrails, cache,
// retrieval, prompt assembly, and generation for one request, per
// spec.md §4.9.
type Coordinator struct {
	retriever *Retriever
	generator *Generator
	assembler *PromptAssembler
	cache     *cache.LRU
	counters  *Counters
	topK      int
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(retriever *Retriever, generator *Generator, assembler *PromptAssembler, lru *cache.LRU, counters *Counters, topK int) *Coordinator {
	return &Coordinator{
		retriever: retriever,
		generator: generator,
		assembler: assembler,
		cache:     lru,
		counters:  counters,
		topK:      topK,
	}
}

func classTag(filter model.ClassFilter) string {
	if filter.All() {
		return "all"
	}
	return fmt.Sprintf("class%d", *filter.Class)
}

// Validate enforces spec.md §4.9 step 1.
func Validate(question string, filter model.ClassFilter) error {
	if question == "" {
		return apierr.New(apierr.ValidationFailed, "question must not be empty")
	}
	if len(question) > maxQuestionLength {
		return apierr.New(apierr.ValidationFailed, fmt.Sprintf("question exceeds %d characters", maxQuestionLength))
	}
	if filter.Class != nil && (*filter.Class < 1 || *filter.Class > 12) {
		return apierr.New(apierr.ValidationFailed, "class_filter must be between 1 and 12")
	}
	return nil
}

// Ask runs the full synchronous request sequence from spec.md §4.9.
func (c *Coordinator) Ask(ctx context.Context, question string, filter model.ClassFilter, history []model.ConversationTurn) (model.Answer, error) {
	start := time.Now()

	if err := Validate(question, filter); err != nil {
		return model.Answer{}, err
	}

	if guardrail.DetectInjection(question) {
		return model.Answer{
			Text:     guardrail.RefusalMessage,
			Sources:  nil,
			ModeUsed: model.ModePureLLM,
		}, nil
	}

	key := cache.Key(classTag(filter), question, history)
	if entry, ok := c.cache.Get(key); ok {
		c.counters.TotalQueries.Add(1)
		c.counters.CacheHits.Add(1)
		c.counters.TotalProcessingTimeNs.Add(time.Since(start).Nanoseconds())
		answer := entry.Answer
		answer.CacheHit = true
		return answer, nil
	}

	var sources []model.SourceDocument
	calc := isCalculationProblem(question)
	if !calc {
		var err error
		sources, err = c.retriever.Retrieve(ctx, question, filter, c.topK)
		if err != nil {
			return model.Answer{}, fmt.Errorf("service.Coordinator.Ask: retrieve: %w", err)
		}
	}

	mode := SelectMode(question, len(sources) > 0)
	text, modeUsed, err := c.generator.Generate(ctx, question, sources, history, mode)
	if err != nil {
		return model.Answer{}, fmt.Errorf("service.Coordinator.Ask: generate: %w", err)
	}

	elapsed := time.Since(start)
	answer := model.Answer{
		Text:            text,
		Sources:         sources,
		Confidence:      Confidence(sources),
		ProcessingTimeS: elapsed.Seconds(),
		CacheHit:        false,
		ModeUsed:        modeUsed,
	}

	c.cache.Set(key, model.CacheEntry{Key: key, Answer: answer, InsertedAt: time.Now()})

	c.counters.TotalQueries.Add(1)
	c.counters.TotalProcessingTimeNs.Add(elapsed.Nanoseconds())

	return answer, nil
}

// AskStream runs the streaming variant: identical guardrail and validation
// steps, then delegates event production to the Streamer. The cache is
// updated by the caller once the stream's final event has been observed,
// since only the transport layer knows when the stream completed without
// being aborted.
func (c *Coordinator) AskStream(ctx context.Context, question string, filter model.ClassFilter, history []model.ConversationTurn, streamer *Streamer) (<-chan Event, error) {
	if err := Validate(question, filter); err != nil {
		return nil, err
	}
	if guardrail.DetectInjection(question) {
		refusal := make(chan Event, 2)
		refusal <- Event{Type: EventToken, Token: guardrail.RefusalMessage}
		refusal <- Event{Type: EventEnd}
		close(refusal)
		return refusal, nil
	}
	return streamer.StreamAnswer(ctx, question, filter, history), nil
}

// RecordStreamCompletion updates the cache and counters after a stream
// finished successfully (spec.md §4.9's streaming variant: step 7 runs
// after the stream completes, step 8 is the stream terminating normally).
func (c *Coordinator) RecordStreamCompletion(question string, filter model.ClassFilter, history []model.ConversationTurn, answer model.Answer) {
	key := cache.Key(classTag(filter), question, history)
	c.cache.Set(key, model.CacheEntry{Key: key, Answer: answer, InsertedAt: time.Now()})
	c.counters.TotalQueries.Add(1)
	c.counters.TotalProcessingTimeNs.Add(int64(answer.ProcessingTimeS * float64(time.Second)))
}
