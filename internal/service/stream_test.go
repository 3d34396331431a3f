package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sage-edu/rag-core/internal/model"
	"github.com/sage-edu/rag-core/internal/modeladapter"
)

func newTestStreamer(t *testing.T, fq Querier) (*Streamer, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for _, tok := range []string{"Newton's ", "second ", "law."} {
			b, _ := json.Marshal(map[string]string{"content": tok})
			w.Write([]byte("data: "))
			w.Write(b)
			w.Write([]byte("\n"))
			flusher.Flush()
		}
	}))

	adapter := modeladapterNewForTest(srv.URL)
	retriever := NewRetriever(fq)
	assembler := NewPromptAssembler(4096)
	generator := NewGenerator(adapter, assembler)
	return NewStreamer(retriever, generator, assembler), srv.Close
}

// modeladapterNewForTest avoids a second import alias collision in this file.
func modeladapterNewForTest(url string) *modeladapter.Adapter {
	return modeladapter.New(url)
}

func TestStreamAnswerEventOrder(t *testing.T) {
	fq := &fakeQuerier{byClass: map[int][]model.Candidate{
		6: {candidate("gravity force content about Newton's laws", 0.1, 6)},
	}}
	streamer, closeSrv := newTestStreamer(t, fq)
	defer closeSrv()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events := streamer.StreamAnswer(ctx, "what causes gravity?", model.ClassFilter{}, nil)

	var types []EventType
	for ev := range events {
		types = append(types, ev.Type)
	}

	if len(types) == 0 {
		t.Fatal("no events received")
	}
	if types[0] != EventStatus {
		t.Fatalf("first event should be status, got %v", types[0])
	}
	if types[len(types)-1] != EventEnd && types[len(types)-1] != EventError {
		t.Fatalf("last event should be end or error, got %v", types[len(types)-1])
	}

	sawToken := false
	sawMetadataBeforeEnd := false
	for i, ty := range types {
		if ty == EventToken {
			sawToken = true
		}
		if ty == EventMetadata && i == len(types)-2 {
			sawMetadataBeforeEnd = true
		}
	}
	if !sawToken {
		t.Fatal("expected at least one token event")
	}
	if !sawMetadataBeforeEnd {
		t.Fatal("expected metadata event immediately before end")
	}
}

func TestStreamAnswerCancelStopsQuickly(t *testing.T) {
	fq := &fakeQuerier{byClass: map[int][]model.Candidate{}}
	streamer, closeSrv := newTestStreamer(t, fq)
	defer closeSrv()

	ctx, cancel := context.WithCancel(context.Background())
	events := streamer.StreamAnswer(ctx, "what is photosynthesis", model.ClassFilter{}, nil)

	<-events // status: retrieving
	start := time.Now()
	cancel()

	for range events {
		// drain until closed
	}
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Fatalf("stream took %v to stop after cancel", elapsed)
	}
}
