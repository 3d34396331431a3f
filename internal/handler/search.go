package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sage-edu/rag-core/internal/apierr"
	"github.com/sage-edu/rag-core/internal/model"
	"github.com/sage-edu/rag-core/internal/service"
)

const topicSearchSimilarityFloor = 0.3
const defaultSearchSimilarityFloor = 0.5
const bulkSearchConcurrency = 3

// CollectionCounter is the subset of the Vector Index Adapter search
// handlers need for class overviews.
type CollectionCounter interface {
	Count(ctx context.Context, classNum int) (int, error)
}

// SearchDeps bundles the collaborators the search handlers need.
type SearchDeps struct {
	Retriever *service.Retriever
	Store     CollectionCounter
}

type searchRequest struct {
	Question            string   `json:"question"`
	ClassNum            *int     `json:"class_num,omitempty"`
	TopK                *int     `json:"top_k,omitempty"`
	SimilarityThreshold *float64 `json:"similarity_threshold,omitempty"`
	IncludeSources      *bool    `json:"include_sources,omitempty"`
}

func (r searchRequest) topK() int {
	if r.TopK == nil {
		return 5
	}
	return *r.TopK
}

func (r searchRequest) floor() float64 {
	if r.SimilarityThreshold == nil {
		return defaultSearchSimilarityFloor
	}
	return *r.SimilarityThreshold
}

type searchResponse struct {
	Answer          string                  `json:"answer"`
	Results         []model.SourceDocument `json:"results"`
	TotalResults    int                     `json:"total_results"`
	ProcessingTimeS float64                 `json:"processing_time"`
	QueryMetadata   map[string]any          `json:"query_metadata"`
}

// SearchDocuments handles POST /search/documents.
func SearchDocuments(deps SearchDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAPIError(w, apierr.New(apierr.ValidationFailed, "malformed request body"))
			return
		}
		if req.Question == "" {
			writeAPIError(w, apierr.New(apierr.ValidationFailed, "question must not be empty"))
			return
		}

		start := time.Now()
		filter := model.ClassFilter{Class: req.ClassNum}
		results, err := deps.Retriever.RetrieveWithFloor(r.Context(), req.Question, filter, req.topK(), req.floor())
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, searchResponse{
			Answer:          "",
			Results:         results,
			TotalResults:    len(results),
			ProcessingTimeS: time.Since(start).Seconds(),
			QueryMetadata: map[string]any{
				"top_k":                req.topK(),
				"similarity_threshold": req.floor(),
			},
		})
	}
}

// SearchTopics handles GET /search/topics?topic=&class_num=&limit=. The
// similarity threshold is relaxed to 0.3 for topic browsing, per spec.md §6.
func SearchTopics(deps SearchDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		topic := r.URL.Query().Get("topic")
		if topic == "" {
			writeAPIError(w, apierr.New(apierr.ValidationFailed, "topic must not be empty"))
			return
		}
		limit := 5
		if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
			limit = l
		}
		var classNum *int
		if c, err := strconv.Atoi(r.URL.Query().Get("class_num")); err == nil {
			classNum = &c
		}

		start := time.Now()
		filter := model.ClassFilter{Class: classNum}
		results, err := deps.Retriever.RetrieveWithFloor(r.Context(), topic, filter, limit, topicSearchSimilarityFloor)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, searchResponse{
			Answer:          "",
			Results:         results,
			TotalResults:    len(results),
			ProcessingTimeS: time.Since(start).Seconds(),
			QueryMetadata:   map[string]any{"topic": topic, "similarity_threshold": topicSearchSimilarityFloor},
		})
	}
}

// ClassOverview handles GET /search/class/{n}/overview.
func ClassOverview(deps SearchDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		classNum, err := strconv.Atoi(chi.URLParam(r, "n"))
		if err != nil || classNum < 1 || classNum > 12 {
			writeAPIError(w, apierr.New(apierr.ValidationFailed, "class number must be between 1 and 12"))
			return
		}

		count, err := deps.Store.Count(r.Context(), classNum)
		if err != nil {
			writeAPIError(w, apierr.Wrap(apierr.VectorStoreUnavailable, "class overview unavailable", err))
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"class_num":      classNum,
			"document_count": count,
		})
	}
}

type bulkSearchRequest struct {
	Queries  []searchRequest `json:"queries"`
	Parallel bool            `json:"parallel,omitempty"`
}

type bulkSearchResult struct {
	Question string                  `json:"question"`
	Results  []model.SourceDocument `json:"results,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

type bulkSearchResponse struct {
	Results            []bulkSearchResult `json:"results"`
	SuccessfulQueries  int                `json:"successful_queries"`
	FailedQueries      int                `json:"failed_queries"`
	TotalProcessingTimeS float64          `json:"total_processing_time"`
}

// BulkSearch handles POST /search/bulk. Parallel execution is bounded by a
// semaphore of 3, per spec.md §6.
func BulkSearch(deps SearchDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bulkSearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAPIError(w, apierr.New(apierr.ValidationFailed, "malformed request body"))
			return
		}

		start := time.Now()
		results := make([]bulkSearchResult, len(req.Queries))

		run := func(i int) {
			q := req.Queries[i]
			filter := model.ClassFilter{Class: q.ClassNum}
			docs, err := deps.Retriever.RetrieveWithFloor(r.Context(), q.Question, filter, q.topK(), q.floor())
			if err != nil {
				results[i] = bulkSearchResult{Question: q.Question, Error: err.Error()}
				return
			}
			results[i] = bulkSearchResult{Question: q.Question, Results: docs}
		}

		if req.Parallel {
			sem := make(chan struct{}, bulkSearchConcurrency)
			var wg sync.WaitGroup
			for i := range req.Queries {
				i := i
				wg.Add(1)
				sem <- struct{}{}
				go func() {
					defer wg.Done()
					defer func() { <-sem }()
					run(i)
				}()
			}
			wg.Wait()
		} else {
			for i := range req.Queries {
				run(i)
			}
		}

		successful, failed := 0, 0
		for _, res := range results {
			if res.Error == "" {
				successful++
			} else {
				failed++
			}
		}

		writeJSON(w, http.StatusOK, bulkSearchResponse{
			Results:              results,
			SuccessfulQueries:    successful,
			FailedQueries:        failed,
			TotalProcessingTimeS: time.Since(start).Seconds(),
		})
	}
}
