// Package rpcapi implements the RPC surface (spec.md §6): four parallel
// unary operations mirroring the HTTP bodies, with a
// "populate error_message / success=false" discipline instead of RPC status
// errors for known failures.
//
// spec.md's RPC contract is documented here as hand-authored Go structs
// rather than protoc-generated *.pb.go output, since no protoc/buf
// toolchain is available in this environment. Rather than bridge to
// grpc-go's default "proto" codec (which requires a full protobuf-go v2
// message — ProtoReflect() backed by a compiled file descriptor, which
// cannot be hand-authored correctly without protoc), this package registers
// its own grpc codec under the "proto" name that (de)serializes these plain
// structs as JSON. grpc-go itself, its service/method dispatch, and its
// health package are all genuine; only the wire encoding is substituted.
// proto/sage.proto is kept as the source-of-truth contract for a future
// real codegen step.
package rpcapi

import "github.com/sage-edu/rag-core/internal/model"

// ChatRequest mirrors the POST /chat/ask body.
type ChatRequest struct {
	Message             string                    `json:"message"`
	ClassNum            *int32                    `json:"class_num,omitempty"`
	ConversationHistory []model.ConversationTurn `json:"conversation_history,omitempty"`
	IncludeSources      bool                      `json:"include_sources"`
	MaxSources          int32                     `json:"max_sources"`
}

// ChatResponse mirrors an Answer, plus the RPC error discipline fields.
type ChatResponse struct {
	Success         bool                    `json:"success"`
	ErrorMessage    string                  `json:"error_message,omitempty"`
	Text            string                  `json:"text,omitempty"`
	Sources         []model.SourceDocument `json:"sources,omitempty"`
	Confidence      float64                 `json:"confidence,omitempty"`
	ProcessingTimeS float64                 `json:"processing_time_s,omitempty"`
	CacheHit        bool                    `json:"cache_hit,omitempty"`
	ModeUsed        string                  `json:"mode_used,omitempty"`
}

// SearchRequest mirrors the POST /search/documents body.
type SearchRequest struct {
	Question            string   `json:"question"`
	ClassNum            *int32   `json:"class_num,omitempty"`
	TopK                int32    `json:"top_k,omitempty"`
	SimilarityThreshold float64  `json:"similarity_threshold,omitempty"`
}

// SearchResponse mirrors the HTTP search response shape.
type SearchResponse struct {
	Success         bool                    `json:"success"`
	ErrorMessage    string                  `json:"error_message,omitempty"`
	Results         []model.SourceDocument `json:"results,omitempty"`
	TotalResults    int32                   `json:"total_results"`
	ProcessingTimeS float64                 `json:"processing_time_s"`
}

// HealthRequest takes no fields; present for symmetry with the RPC
// contract's unary-request convention.
type HealthRequest struct{}

// HealthResponse mirrors the combined readiness/liveness payload.
type HealthResponse struct {
	Success bool   `json:"success"`
	Ready   bool   `json:"ready"`
	Alive   bool   `json:"alive"`
}

// StatsRequest takes no fields.
type StatsRequest struct{}

// StatsResponse mirrors the admin stats payload.
type StatsResponse struct {
	Success            bool    `json:"success"`
	ErrorMessage       string  `json:"error_message,omitempty"`
	TotalQueries       int64   `json:"total_queries"`
	CacheHits          int64   `json:"cache_hits"`
	CacheHitRate       float64 `json:"cache_hit_rate"`
	AvgProcessingTimeS float64 `json:"avg_processing_time_s"`
}
