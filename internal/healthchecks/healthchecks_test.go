package healthchecks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-logr/logr"
)

func TestStartAndSuccessPings(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
	}))
	defer srv.Close()

	p := New(logr.Discard(), srv.URL+"/check-uuid")
	ctx := context.Background()
	p.Start(ctx)
	p.Success(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(paths) != 2 {
		t.Fatalf("expected 2 pings, got %d: %v", len(paths), paths)
	}
	if paths[0] != "/check-uuid/start" {
		t.Errorf("expected start ping at '/check-uuid/start', got %q", paths[0])
	}
	if paths[1] != "/check-uuid" {
		t.Errorf("expected success ping at '/check-uuid', got %q", paths[1])
	}
}

func TestDisabledPingerMakesNoRequests(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		requests++
	}))
	defer srv.Close()

	p := New(logr.Discard(), "")
	ctx := context.Background()
	p.Start(ctx)
	p.Success(ctx)

	if requests != 0 {
		t.Errorf("expected no requests from a disabled pinger, got %d", requests)
	}
}

func TestPingFailureIsIgnored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // unreachable endpoint

	p := New(logr.Discard(), srv.URL)
	ctx := context.Background()
	// Must not panic or block.
	p.Start(ctx)
	p.Success(ctx)
}
