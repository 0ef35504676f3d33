package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSendAddsSigningHeaders(t *testing.T) {
	var gotSignature, gotTimestamp, gotEvent, gotDelivery string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get(HeaderSignature)
		gotTimestamp = r.Header.Get(HeaderTimestamp)
		gotEvent = r.Header.Get(HeaderEvent)
		gotDelivery = r.Header.Get(HeaderDelivery)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(Config{SigningSecret: "secret"})
	if err := c.Send(context.Background(), srv.URL, "job.completed", map[string]string{"jobId": "job-1"}); err != nil {
		t.Fatalf("send returned error: %v", err)
	}

	if gotEvent != "job.completed" {
		t.Fatalf("expected event header, got %q", gotEvent)
	}
	if gotTimestamp == "" {
		t.Fatal("expected timestamp header")
	}
	if gotDelivery == "" {
		t.Fatal("expected delivery id header")
	}

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte(gotTimestamp))
	mac.Write([]byte("."))
	mac.Write(gotBody)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if gotSignature != want {
		t.Fatalf("signature mismatch: got %q want %q", gotSignature, want)
	}
}

func TestSendRetriesUntilSuccess(t *testing.T) {
	var attempts atomic.Int32
	var mu sync.Mutex
	var deliveryIDs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		deliveryIDs = append(deliveryIDs, r.Header.Get(HeaderDelivery))
		mu.Unlock()
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(Config{
		SigningSecret:  "secret",
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
	})
	if err := c.Send(context.Background(), srv.URL, "job.failed", map[string]string{"jobId": "job-1"}); err != nil {
		t.Fatalf("send returned error: %v", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}

	mu.Lock()
	defer mu.Unlock()
	for i, deliveryID := range deliveryIDs {
		if deliveryID == "" || deliveryID != deliveryIDs[0] {
			t.Fatalf("attempt %d delivery id %q, want the same id on every attempt", i+1, deliveryID)
		}
	}
}

func TestSendGivesUpAfterMaxAttempts(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{
		SigningSecret:  "secret",
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
	})
	if err := c.Send(context.Background(), srv.URL, "job.failed", nil); err == nil {
		t.Fatal("expected delivery error")
	}
	if got := attempts.Load(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestSendSkipsEmptyEndpoint(t *testing.T) {
	c := NewClient(Config{SigningSecret: "secret"})
	if err := c.Send(context.Background(), "  ", "job.completed", nil); err != nil {
		t.Fatalf("empty endpoint must be a no-op, got %v", err)
	}
}
