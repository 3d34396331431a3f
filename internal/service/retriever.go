// Package service implements the request-processing core: the Retrieval
// Planner, Prompt Assembler, Generation Controller, Streaming Bridge, and
// the Request Coordinator that sequences them.
//
// Grounded structurally on the teacher's internal/service/retriever.go
// (errgroup fan-out with a bounded worker count, per-task timeout) and on
// original_source/backend/src/rag_pipeline.py's _retrieve_documents
// (ThreadPoolExecutor(max_workers=4) over the same priority class set).
package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sage-edu/rag-core/internal/apierr"
	"github.com/sage-edu/rag-core/internal/guardrail"
	"github.com/sage-edu/rag-core/internal/model"
)

// priorityClasses are the collections fanned out across when a request does
// not pin a specific class, per spec.md §4.4.
var priorityClasses = []int{6, 7, 8, 9, 10, 11, 12}

const (
	retrievalWorkers      = 4
	perClassTimeout       = 2 * time.Second
	totalRetrievalTimeout = 5 * time.Second
	similarityFloor       = 0.75
)

// Querier is the subset of the Vector Index Adapter the Retrieval Planner
// needs.
type Querier interface {
	Query(ctx context.Context, classNum int, queryText string, k int, excludeType string) ([]model.Candidate, error)
}

// degradable is optionally implemented by the Vector Index Adapter to report
// integrity-check-detected corruption at request time (spec.md §4.1's
// Corrupt/ReadOnly status, surfaced here rather than only once at startup).
// A plain type assertion keeps fakes that only implement Querier valid.
type degradable interface {
	Corrupt() bool
}

// Retriever is the Retrieval Planner.
type Retriever struct {
	store Querier
}

// NewRetriever constructs a Retriever over the given Vector Index Adapter.
func NewRetriever(store Querier) *Retriever {
	return &Retriever{store: store}
}

// Retrieve returns up to topK ranked SourceDocuments within a 5-second
// wall-clock budget, enforcing the fixed 0.75 similarity floor, per
// spec.md §4.4.
func (r *Retriever) Retrieve(ctx context.Context, question string, filter model.ClassFilter, topK int) ([]model.SourceDocument, error) {
	return r.RetrieveWithFloor(ctx, question, filter, topK, similarityFloor)
}

// RetrieveWithFloor is the same algorithm with a caller-supplied similarity
// floor, used by the search endpoints (spec.md §6) whose threshold is
// request-configurable rather than the Retrieval Planner's fixed 0.75.
func (r *Retriever) RetrieveWithFloor(ctx context.Context, question string, filter model.ClassFilter, topK int, floor float64) ([]model.SourceDocument, error) {
	if d, ok := r.store.(degradable); ok && d.Corrupt() {
		return nil, apierr.Wrap(apierr.VectorStoreUnavailable, "vector store degraded", fmt.Errorf("integrity check reported corruption"))
	}

	ctx, cancel := context.WithTimeout(ctx, totalRetrievalTimeout)
	defer cancel()

	var candidates []model.Candidate
	var err error
	if !filter.All() {
		candidates, err = r.queryOne(ctx, *filter.Class, question, topK)
		if err != nil {
			return nil, err
		}
	} else {
		candidates = r.fanOut(ctx, question, topK)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Distance < candidates[j].Distance
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	candidates = filterBySimilarity(candidates, floor)
	if len(candidates) == 0 {
		return nil, nil
	}

	domains := guardrail.QuestionDomains(question)
	candidates = filterByRelevance(candidates, domains)

	docs := make([]model.SourceDocument, 0, len(candidates))
	for i, c := range candidates {
		docs = append(docs, model.FromCandidate(c, i+1))
	}
	return docs, nil
}

func (r *Retriever) queryOne(ctx context.Context, classNum int, question string, topK int) ([]model.Candidate, error) {
	callCtx, cancel := context.WithTimeout(ctx, perClassTimeout)
	defer cancel()
	return r.store.Query(callCtx, classNum, question, topK, "")
}

// fanOut queries each priority class concurrently, bounded to
// retrievalWorkers in flight, silently dropping timed-out or errored
// per-class calls — spec.md §4.4 step 2 says to log at debug and continue,
// never fail the whole retrieval over one collection.
func (r *Retriever) fanOut(ctx context.Context, question string, topK int) []model.Candidate {
	perClassK := topK / 4
	if perClassK < 1 {
		perClassK = 1
	}

	type result struct {
		candidates []model.Candidate
	}
	results := make([]result, len(priorityClasses))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(retrievalWorkers)

	for i, classNum := range priorityClasses {
		i, classNum := i, classNum
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, perClassTimeout)
			defer cancel()
			candidates, err := r.store.Query(callCtx, classNum, question, perClassK, "")
			if err != nil {
				// Per-class failure is swallowed: the planner merges whatever
				// classes answered in time.
				return nil
			}
			results[i] = result{candidates: candidates}
			return nil
		})
	}
	_ = g.Wait() // errgroup never actually returns an error here; per-class errors are swallowed above

	var merged []model.Candidate
	for _, res := range results {
		merged = append(merged, res.candidates...)
	}
	return merged
}

func filterBySimilarity(candidates []model.Candidate, floor float64) []model.Candidate {
	out := make([]model.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Similarity >= floor {
			out = append(out, c)
		}
	}
	return out
}

func filterByRelevance(candidates []model.Candidate, domains []guardrail.Domain) []model.Candidate {
	out := make([]model.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if guardrail.ContentRelevant(c.Content, domains) {
			out = append(out, c)
		}
	}
	return out
}
