package modeladapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCompleteReturnsContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req completionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Stream {
			t.Fatalf("Complete sent stream=true")
		}
		json.NewEncoder(w).Encode(completionResponse{Content: "the answer is 4", StopReason: "stop"})
	}))
	defer srv.Close()

	a := New(srv.URL)
	got, err := a.Complete(context.Background(), "what is 2+2?", Params{MaxTokens: 64})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "the answer is 4" {
		t.Fatalf("got %q", got)
	}
}

func TestCompleteDecodeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(completionResponse{DecodeError: "token buffer overflow"})
	}))
	defer srv.Close()

	a := New(srv.URL)
	_, err := a.Complete(context.Background(), "hello", Params{})
	if err == nil {
		t.Fatal("expected error")
	}
	var adapterErr *Error
	if !asError(err, &adapterErr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if adapterErr.Kind != ErrDecodeFailure {
		t.Fatalf("got kind %q", adapterErr.Kind)
	}
}

func TestCompleteModelNotLoaded(t *testing.T) {
	a := New("http://unused.invalid")
	a.MarkUnloaded()

	_, err := a.Complete(context.Background(), "hello", Params{})
	if err == nil {
		t.Fatal("expected error")
	}
	var adapterErr *Error
	if !asError(err, &adapterErr) || adapterErr.Kind != ErrModelNotLoaded {
		t.Fatalf("got %v", err)
	}
}

func TestCompleteRetriesOnRateLimit(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(completionResponse{Content: "ok"})
	}))
	defer srv.Close()

	a := New(srv.URL)
	got, err := a.Complete(context.Background(), "hello", Params{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "ok" {
		t.Fatalf("got %q", got)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestStreamEmitsTokensInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatalf("responsewriter does not support flush")
		}
		chunks := []completionResponse{
			{Content: "the "},
			{Content: "answer "},
			{Content: "is 4", StopReason: "stop"},
		}
		for _, c := range chunks {
			b, _ := json.Marshal(c)
			w.Write([]byte("data: "))
			w.Write(b)
			w.Write([]byte("\n"))
			flusher.Flush()
		}
	}))
	defer srv.Close()

	a := New(srv.URL)
	tokens, errs := a.Stream(context.Background(), "what is 2+2?", Params{})

	var got []string
	for tok := range tokens {
		got = append(got, tok)
	}
	select {
	case err := <-errs:
		if err != nil {
			t.Fatalf("unexpected stream error: %v", err)
		}
	default:
	}

	want := []string{"the ", "answer ", "is 4"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestStreamStopsWithin200msOfCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		b, _ := json.Marshal(completionResponse{Content: "first"})
		w.Write([]byte("data: "))
		w.Write(b)
		w.Write([]byte("\n"))
		flusher.Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	a := New(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	tokens, _ := a.Stream(ctx, "hello", Params{})

	<-tokens // first token
	start := time.Now()
	cancel()

	deadline := time.After(250 * time.Millisecond)
	for {
		select {
		case _, ok := <-tokens:
			if !ok {
				if time.Since(start) > 200*time.Millisecond {
					t.Fatalf("stream took %v to close after cancel", time.Since(start))
				}
				return
			}
		case <-deadline:
			t.Fatal("stream did not close within 250ms of cancel")
		}
	}
}

func TestStopSequencesIncludeDefaults(t *testing.T) {
	p := Params{StopSequences: []string{"custom_stop"}}
	got := p.stopSequences()
	found := map[string]bool{}
	for _, s := range got {
		found[s] = true
	}
	for _, want := range DefaultStopSequences {
		if !found[want] {
			t.Fatalf("missing default stop sequence %q in %v", want, got)
		}
	}
	if !found["custom_stop"] {
		t.Fatalf("missing custom stop sequence in %v", got)
	}
}

// asError reports whether err is itself an *Error (a direct type assertion;
// wrapped errors are not unwrapped) and stores it in target.
func asError(err error, target **Error) bool {
	ae, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = ae
	return true
}
