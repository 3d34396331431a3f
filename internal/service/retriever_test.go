package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sage-edu/rag-core/internal/apierr"
	"github.com/sage-edu/rag-core/internal/model"
)

type fakeQuerier struct {
	byClass map[int][]model.Candidate
	err     map[int]error
	delay   map[int]time.Duration
}

func (f *fakeQuerier) Query(ctx context.Context, classNum int, queryText string, k int, excludeType string) ([]model.Candidate, error) {
	if d, ok := f.delay[classNum]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := f.err[classNum]; ok {
		return nil, err
	}
	cands := f.byClass[classNum]
	if len(cands) > k {
		cands = cands[:k]
	}
	return cands, nil
}

func candidate(content string, distance float64, class int) model.Candidate {
	return model.NewCandidate(content, distance, class, nil)
}

// fakeDegradableQuerier additionally implements Corrupt(), exercising the
// optional-interface check RetrieveWithFloor performs against the Vector
// Index Adapter's runtime integrity state.
type fakeDegradableQuerier struct {
	fakeQuerier
	corrupt bool
}

func (f *fakeDegradableQuerier) Corrupt() bool { return f.corrupt }

func TestRetrieveFailsFastWhenStoreCorrupt(t *testing.T) {
	fq := &fakeDegradableQuerier{
		fakeQuerier: fakeQuerier{byClass: map[int][]model.Candidate{
			6: {candidate("gravity force content", 0.1, 6)},
		}},
		corrupt: true,
	}
	r := NewRetriever(fq)
	_, err := r.Retrieve(context.Background(), "gravity question", model.ClassFilter{}, 8)
	if err == nil {
		t.Fatal("expected an error when the store reports corruption")
	}
	apiErr, ok := apierr.As(err)
	if !ok {
		t.Fatalf("expected an *apierr.Error, got %v", err)
	}
	if apiErr.Code != apierr.VectorStoreUnavailable {
		t.Fatalf("got code %q, want %q", apiErr.Code, apierr.VectorStoreUnavailable)
	}
}

func TestRetrieveSpecificClassCallsOnce(t *testing.T) {
	fq := &fakeQuerier{byClass: map[int][]model.Candidate{
		5: {candidate("triangle theorem content", 0.1, 5)},
	}}
	r := NewRetriever(fq)
	class := 5
	docs, err := r.Retrieve(context.Background(), "what is the angle?", model.ClassFilter{Class: &class}, 4)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d docs, want 1", len(docs))
	}
	if docs[0].SourceClass != 5 {
		t.Fatalf("got class %d", docs[0].SourceClass)
	}
}

func TestRetrieveFanOutMergesAcrossClasses(t *testing.T) {
	fq := &fakeQuerier{byClass: map[int][]model.Candidate{
		6: {candidate("gravity force content", 0.1, 6)},
		7: {candidate("velocity motion content", 0.15, 7)},
	}}
	r := NewRetriever(fq)
	docs, err := r.Retrieve(context.Background(), "what causes gravity and motion?", model.ClassFilter{}, 8)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d docs, want 2", len(docs))
	}
	if docs[0].Rank != 1 || docs[1].Rank != 2 {
		t.Fatalf("ranks not assigned in order: %+v", docs)
	}
}

func TestRetrieveDropsBelowSimilarityFloor(t *testing.T) {
	fq := &fakeQuerier{byClass: map[int][]model.Candidate{
		6: {candidate("irrelevant weakly matching content", 0.9, 6)}, // similarity 0.1
	}}
	r := NewRetriever(fq)
	docs, err := r.Retrieve(context.Background(), "gravity question", model.ClassFilter{}, 8)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("expected all candidates dropped by similarity floor, got %d", len(docs))
	}
}

func TestRetrieveSwallowsPerClassErrors(t *testing.T) {
	fq := &fakeQuerier{
		byClass: map[int][]model.Candidate{
			6: {candidate("gravity force content", 0.1, 6)},
		},
		err: map[int]error{7: errors.New("collection unavailable")},
	}
	r := NewRetriever(fq)
	docs, err := r.Retrieve(context.Background(), "gravity question", model.ClassFilter{}, 8)
	if err != nil {
		t.Fatalf("Retrieve returned error despite per-class error being swallowed: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d docs, want 1", len(docs))
	}
}

func TestRetrieveDropsSlowClassPastSubTimeout(t *testing.T) {
	fq := &fakeQuerier{
		byClass: map[int][]model.Candidate{
			6: {candidate("gravity force content", 0.1, 6)},
			7: {candidate("velocity motion content", 0.1, 7)},
		},
		delay: map[int]time.Duration{7: 3 * time.Second},
	}
	r := NewRetriever(fq)
	start := time.Now()
	docs, err := r.Retrieve(context.Background(), "gravity and motion", model.ClassFilter{}, 8)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if elapsed := time.Since(start); elapsed > totalRetrievalTimeout {
		t.Fatalf("retrieval took %v, exceeds wall-clock budget", elapsed)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d docs, want 1 (slow class dropped)", len(docs))
	}
}

func TestRetrieveContentDomainFilterDropsOffTopic(t *testing.T) {
	fq := &fakeQuerier{byClass: map[int][]model.Candidate{
		6: {
			candidate("force and motion and gravity explained", 0.1, 6),
			candidate("the history of ancient trade routes", 0.1, 6),
		},
	}}
	r := NewRetriever(fq)
	docs, err := r.Retrieve(context.Background(), "what is the force of gravity?", model.ClassFilter{}, 8)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	for _, d := range docs {
		if d.Content == "the history of ancient trade routes" {
			t.Fatal("expected off-topic candidate to be filtered out")
		}
	}
}
