package gandi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-logr/logr"
)

func newTestProvider(t *testing.T, serverURL string) *Provider {
	t.Helper()
	p, err := New(logr.Discard(), map[string]string{
		"api_key": "test-key",
		"domain":  "example.com",
		"api_url": serverURL,
	})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	return p
}

func TestNew_MissingSettings(t *testing.T) {
	if _, err := New(logr.Discard(), map[string]string{"domain": "example.com"}); err == nil {
		t.Error("expected error for missing api_key")
	}
	if _, err := New(logr.Discard(), map[string]string{"api_key": "k"}); err == nil {
		t.Error("expected error for missing domain")
	}
}

func TestNew_InvalidRecordTTL(t *testing.T) {
	_, err := New(logr.Discard(), map[string]string{
		"api_key":    "k",
		"domain":     "example.com",
		"record_ttl": "notanumber",
	})
	if err == nil {
		t.Fatal("expected error for invalid record_ttl")
	}
}

func TestRecordIP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/v5/livedns/domains/example.com/records/%40/A" &&
			r.URL.EscapedPath() != "/v5/livedns/domains/example.com/records/%40/A" {
			t.Errorf("unexpected path: %s", r.URL.EscapedPath())
		}
		if got := r.Header.Get("Authorization"); got != "Apikey test-key" {
			t.Errorf("unexpected Authorization header: %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"rrset_type":   "A",
			"rrset_values": []string{"1.2.3.4"},
			"rrset_ttl":    300,
		})
	}))
	defer srv.Close()

	ip, err := newTestProvider(t, srv.URL).RecordIP(context.Background())
	if err != nil {
		t.Fatalf("RecordIP: %v", err)
	}
	if ip != "1.2.3.4" {
		t.Errorf("expected '1.2.3.4', got %q", ip)
	}
}

func TestRecordIP_NoValues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"rrset_values": []string{}})
	}))
	defer srv.Close()

	if _, err := newTestProvider(t, srv.URL).RecordIP(context.Background()); err == nil {
		t.Fatal("expected error for a record without values")
	}
}

func TestSetRecordIP(t *testing.T) {
	var gotBody struct {
		RRSetType   string   `json:"rrset_type"`
		RRSetValues []string `json:"rrset_values"`
		RRSetTTL    int      `json:"rrset_ttl"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"message": "DNS Record Created"})
	}))
	defer srv.Close()

	if err := newTestProvider(t, srv.URL).SetRecordIP(context.Background(), "5.6.7.8"); err != nil {
		t.Fatalf("SetRecordIP: %v", err)
	}
	if gotBody.RRSetType != "A" {
		t.Errorf("expected rrset_type 'A', got %q", gotBody.RRSetType)
	}
	if len(gotBody.RRSetValues) != 1 || gotBody.RRSetValues[0] != "5.6.7.8" {
		t.Errorf("expected rrset_values ['5.6.7.8'], got %v", gotBody.RRSetValues)
	}
	if gotBody.RRSetTTL != 300 {
		t.Errorf("expected rrset_ttl 300, got %d", gotBody.RRSetTTL)
	}
}

func TestSetRecordIP_UnexpectedMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"message": "something else"})
	}))
	defer srv.Close()

	if err := newTestProvider(t, srv.URL).SetRecordIP(context.Background(), "5.6.7.8"); err == nil {
		t.Fatal("expected error for unexpected response message")
	}
}

func TestSetRecordIP_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"forbidden"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	if err := newTestProvider(t, srv.URL).SetRecordIP(context.Background(), "5.6.7.8"); err == nil {
		t.Fatal("expected error for non-success status")
	}
}
