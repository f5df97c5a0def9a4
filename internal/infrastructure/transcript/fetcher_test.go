package transcript

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"ChannelDigest/internal/domain"
)

const sampleTimedtext = `<?xml version="1.0" encoding="utf-8"?>
<transcript>
  <text start="0.0" dur="2.5">hello and</text>
  <text start="2.5" dur="3.0">welcome to the channel</text>
  <text start="5.5" dur="1.0">  </text>
</transcript>`

func newTestFetcher(serverURL string, client *http.Client, cache *Cache) *Fetcher {
	f := NewFetcher(client, "en", cache, nil)
	f.endpoint = serverURL
	return f
}

func TestFetchJoinsCaptionParts(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("v"); got != "vid1" {
			t.Errorf("expected v=vid1, got %s", got)
		}
		if got := r.URL.Query().Get("lang"); got != "en" {
			t.Errorf("expected lang=en, got %s", got)
		}
		_, _ = w.Write([]byte(sampleTimedtext))
	}))
	defer server.Close()

	f := newTestFetcher(server.URL, server.Client(), nil)

	text, found, err := f.Fetch(context.Background(), "vid1")
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if !found {
		t.Fatal("expected transcript to be found")
	}
	if text != "hello and welcome to the channel" {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestFetchEmptyBodyMeansNoCaptions(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(""))
	}))
	defer server.Close()

	f := newTestFetcher(server.URL, server.Client(), nil)

	_, found, err := f.Fetch(context.Background(), "vid1")
	if err != nil {
		t.Fatalf("missing captions must not be an error, got %v", err)
	}
	if found {
		t.Fatal("expected found=false for an empty caption document")
	}
}

func TestFetchRateLimitIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	f := newTestFetcher(server.URL, server.Client(), nil)

	_, _, err := f.Fetch(context.Background(), "vid1")
	if err == nil {
		t.Fatal("expected an error for a 429 answer")
	}
	if !domain.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestFetchUsesCacheOnSecondCall(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(sampleTimedtext))
	}))
	defer server.Close()

	cache := NewCache("", time.Minute, 10, nil)
	f := newTestFetcher(server.URL, server.Client(), cache)

	for i := 0; i < 3; i++ {
		text, found, err := f.Fetch(context.Background(), "vid1")
		if err != nil || !found {
			t.Fatalf("Fetch attempt %d: found=%v err=%v", i, found, err)
		}
		if text == "" {
			t.Fatalf("Fetch attempt %d returned empty text", i)
		}
	}

	if got := hits.Load(); got != 1 {
		t.Fatalf("expected 1 upstream request, got %d", got)
	}
}
