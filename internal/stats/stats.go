// Package stats implements Stats & Health (spec.md §4.10): process-lifetime
// counters, derived rates, per-class collection counts tolerating
// per-collection failure, and readiness/liveness.
package stats

import (
	"context"

	"github.com/sage-edu/rag-core/internal/service"
)

// Counter is satisfied by service.Counters.
type Counter = service.Counters

// CollectionCounter is the subset of the Vector Index Adapter needed to
// report per-class counts.
type CollectionCounter interface {
	Count(ctx context.Context, classNum int) (int, error)
}

// ModelHandle reports whether the model handle is loaded, for readiness.
type ModelHandle interface {
	Loaded() bool
}

// Reporter computes derived stats and health on demand.
type Reporter struct {
	counters   *Counter
	store      CollectionCounter
	model      ModelHandle
	numClasses int
}

// NewReporter constructs a Reporter over numClasses collections (1..numClasses).
func NewReporter(counters *Counter, store CollectionCounter, model ModelHandle, numClasses int) *Reporter {
	return &Reporter{counters: counters, store: store, model: model, numClasses: numClasses}
}

// Snapshot is the derived stats payload.
type Snapshot struct {
	TotalQueries        int64
	CacheHits           int64
	CacheHitRate        float64
	AvgProcessingTimeS  float64
}

// Snapshot computes the current derived stats, per spec.md §4.10.
func (r *Reporter) Snapshot() Snapshot {
	totalQueries := r.counters.TotalQueries.Load()
	cacheHits := r.counters.CacheHits.Load()
	totalNs := r.counters.TotalProcessingTimeNs.Load()

	denom := totalQueries
	if denom < 1 {
		denom = 1
	}

	return Snapshot{
		TotalQueries:       totalQueries,
		CacheHits:          cacheHits,
		CacheHitRate:       float64(cacheHits) / float64(denom),
		AvgProcessingTimeS: (float64(totalNs) / float64(denom)) / 1e9,
	}
}

// CollectionCount is one class's document count, or an error string if the
// collection could not be reached.
type CollectionCount struct {
	ClassNum int
	Count    int
	Error    string
}

// CollectionCounts computes per-class counts for every collection,
// tolerating per-collection failure, per spec.md §4.10.
func (r *Reporter) CollectionCounts(ctx context.Context) []CollectionCount {
	out := make([]CollectionCount, 0, r.numClasses)
	for classNum := 1; classNum <= r.numClasses; classNum++ {
		n, err := r.store.Count(ctx, classNum)
		cc := CollectionCount{ClassNum: classNum}
		if err != nil {
			cc.Error = err.Error()
		} else {
			cc.Count = n
		}
		out = append(out, cc)
	}
	return out
}

// Readiness reports whether the service is ready to serve: the model
// handle is loaded and at least one collection is accessible.
func (r *Reporter) Readiness(ctx context.Context) bool {
	if !r.model.Loaded() {
		return false
	}
	for classNum := 1; classNum <= r.numClasses; classNum++ {
		if _, err := r.store.Count(ctx, classNum); err == nil {
			return true
		}
	}
	return false
}

// Liveness is always true once the process is serving requests through
// this Reporter.
func (r *Reporter) Liveness() bool { return true }
