package rpcapi

import (
	"context"

	"github.com/sage-edu/rag-core/internal/model"
	"github.com/sage-edu/rag-core/internal/service"
	"github.com/sage-edu/rag-core/internal/stats"
)

const (
	defaultSearchTopK   = 5
	defaultSearchFloor  = 0.5
)

// Server implements the four unary RPCs spec.md §6 names, over the same
// service-layer collaborators the HTTP handlers use. Known failures are
// reported via ErrorMessage/Success=false rather than a grpc status error,
// per §6's "Error discipline".
type Server struct {
	Coordinator *service.Coordinator
	Retriever   *service.Retriever
	Reporter    *stats.Reporter
}

func classFilterFromRPC(classNum *int32) model.ClassFilter {
	if classNum == nil {
		return model.ClassFilter{}
	}
	n := int(*classNum)
	return model.ClassFilter{Class: &n}
}

// ProcessChat mirrors POST /chat/ask.
func (s *Server) ProcessChat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	answer, err := s.Coordinator.Ask(ctx, req.Message, classFilterFromRPC(req.ClassNum), req.ConversationHistory)
	if err != nil {
		return &ChatResponse{Success: false, ErrorMessage: err.Error()}, nil
	}

	sources := answer.Sources
	if !req.IncludeSources {
		sources = nil
	} else if req.MaxSources > 0 && int(req.MaxSources) < len(sources) {
		sources = sources[:req.MaxSources]
	}

	return &ChatResponse{
		Success:         true,
		Text:            answer.Text,
		Sources:         sources,
		Confidence:      answer.Confidence,
		ProcessingTimeS: answer.ProcessingTimeS,
		CacheHit:        answer.CacheHit,
		ModeUsed:        string(answer.ModeUsed),
	}, nil
}

// SearchDocuments mirrors POST /search/documents.
func (s *Server) SearchDocuments(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	topK := int(req.TopK)
	if topK <= 0 {
		topK = defaultSearchTopK
	}
	floor := req.SimilarityThreshold
	if floor <= 0 {
		floor = defaultSearchFloor
	}

	docs, err := s.Retriever.RetrieveWithFloor(ctx, req.Question, classFilterFromRPC(req.ClassNum), topK, floor)
	if err != nil {
		return &SearchResponse{Success: false, ErrorMessage: err.Error()}, nil
	}

	return &SearchResponse{
		Success:      true,
		Results:      docs,
		TotalResults: int32(len(docs)),
	}, nil
}

// GetHealth mirrors GET /health/ready and /health/live combined.
func (s *Server) GetHealth(ctx context.Context, _ *HealthRequest) (*HealthResponse, error) {
	return &HealthResponse{
		Success: true,
		Ready:   s.Reporter.Readiness(ctx),
		Alive:   s.Reporter.Liveness(),
	}, nil
}

// GetStats mirrors GET /admin/stats's derived counters.
func (s *Server) GetStats(_ context.Context, _ *StatsRequest) (*StatsResponse, error) {
	snap := s.Reporter.Snapshot()
	return &StatsResponse{
		Success:            true,
		TotalQueries:       snap.TotalQueries,
		CacheHits:          snap.CacheHits,
		CacheHitRate:       snap.CacheHitRate,
		AvgProcessingTimeS: snap.AvgProcessingTimeS,
	}, nil
}
