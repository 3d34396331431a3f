// Package model holds the domain types shared across the RAG serving core:
// retrieval candidates, prompt plans, answers, and cache entries. None of
// these types carry behavior that belongs to a single component — they are
// the nouns the other packages operate on.
package model

import "time"

// ClassFilter selects which per-class collections a query targets. A nil
// *int means "all": fan out across the priority classes.
type ClassFilter struct {
	Class *int
}

// All reports whether the filter selects every class (no specific class
// pinned).
func (f ClassFilter) All() bool { return f.Class == nil }

// Role is a conversation turn's speaker.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one turn of prior chat history. Timestamp is optional
// (zero value means unset) and does not participate in cache-key derivation.
type ConversationTurn struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Candidate is a retrieval result before filtering and ranking.
// Invariant: Similarity == max(0, 1 - Distance).
type Candidate struct {
	Content     string            `json:"content"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Distance    float64           `json:"distance"`
	Similarity  float64           `json:"similarity"`
	SourceClass int               `json:"source_class"`
	Rank        int               `json:"rank"`

	Subject string `json:"subject,omitempty"`
	ChunkID string `json:"chunk_id,omitempty"`
}

// NewCandidate builds a Candidate from a raw distance, enforcing the
// similarity invariant at construction so callers can never drift from it.
func NewCandidate(content string, distance float64, sourceClass int, metadata map[string]string) Candidate {
	sim := 1 - distance
	if sim < 0 {
		sim = 0
	}
	if sim > 1 {
		sim = 1
	}
	return Candidate{
		Content:     content,
		Metadata:    metadata,
		Distance:    distance,
		Similarity:  sim,
		SourceClass: sourceClass,
	}
}

// SourceDocument is a Candidate promoted into a response, with its final
// rank assigned after merge and filter.
type SourceDocument struct {
	Content     string            `json:"content"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Distance    float64           `json:"distance"`
	Similarity  float64           `json:"similarity"`
	SourceClass int               `json:"source_class"`
	Rank        int               `json:"rank"`
	Subject     string            `json:"subject,omitempty"`
	ChunkID     string            `json:"chunk_id,omitempty"`
}

// FromCandidate promotes a Candidate to a SourceDocument with the given
// final rank.
func FromCandidate(c Candidate, rank int) SourceDocument {
	return SourceDocument{
		Content:     c.Content,
		Metadata:    c.Metadata,
		Distance:    c.Distance,
		Similarity:  c.Similarity,
		SourceClass: c.SourceClass,
		Rank:        rank,
		Subject:     c.Subject,
		ChunkID:     c.ChunkID,
	}
}

// Mode is the generation mode used to produce an Answer.
type Mode string

const (
	ModeGrounded      Mode = "grounded"
	ModePureLLM       Mode = "pure_llm"
	ModeStepByStep    Mode = "step_by_step"
	ModeSimpleFallback Mode = "simple_fallback"
)

// PromptPlan is the fully assembled prompt handed to the Model Adapter.
// Invariant: EstimatedTokens <= NCtx - MaxTokens - SafetyMargin (>= 100).
type PromptPlan struct {
	Mode              Mode
	SystemPreamble    string
	ContextBlock      string
	QuestionBlock     string
	ConversationBlock string
	EstimatedTokens   int
	Prompt            string
}

// Answer is the response returned to a caller, synchronous or as the final
// payload of a completed stream.
type Answer struct {
	Text             string                 `json:"text"`
	Sources          []SourceDocument       `json:"sources"`
	Confidence       float64                `json:"confidence"`
	ProcessingTimeS  float64                `json:"processing_time_s"`
	CacheHit         bool                   `json:"cache_hit"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	ModeUsed         Mode                   `json:"mode_used"`
}

// CacheEntry is one entry in the bounded Response Cache.
type CacheEntry struct {
	Key        string
	Answer     Answer
	InsertedAt time.Time
}
