package relay

import (
	"context"
	"encoding/base64"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxflow/voxflow/internal/domain"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func audioRequest(correlationID string) domain.SubmitRequest {
	return domain.SubmitRequest{
		FileName:      "a.mp3",
		FileSize:      1024,
		CorrelationID: correlationID,
		BinaryContent: base64.StdEncoding.EncodeToString([]byte("fake-audio")),
		ContentType:   "audio/mpeg",
		DoctorName:    "Dr. Adler",
		DocumentType:  "consult-note",
	}
}

func TestSubmitRejectsInvalidPayloads(t *testing.T) {
	r := New(testLogger(), Config{EndpointURL: "http://unreachable.invalid"})

	if _, err := r.Submit(context.Background(), "job-1", domain.SubmitRequest{FileName: "a.mp3"}); err == nil {
		t.Fatal("expected validation error for missing content")
	}

	bad := domain.SubmitRequest{FileName: "a.mp3", BinaryContent: "not-base64!!"}
	if _, err := r.Submit(context.Background(), "job-1", bad); err == nil {
		t.Fatal("expected validation error for invalid base64")
	}
}

func TestSubmitSendsMultipartMetadata(t *testing.T) {
	var gotDoctor, gotJobID, gotFile string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		gotDoctor = r.FormValue("doctorName")
		gotJobID = r.FormValue("jobId")
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			http.Error(w, "no file", http.StatusBadRequest)
			return
		}
		defer file.Close()
		gotFile = header.Filename
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"queued":true}`))
	}))
	defer srv.Close()

	r := New(testLogger(), Config{EndpointURL: srv.URL})
	outcome, err := r.Submit(context.Background(), "job-42", audioRequest("corr-1"))
	if err != nil {
		t.Fatalf("submit returned error: %v", err)
	}
	if outcome.Kind != KindSuccess {
		t.Fatalf("expected success outcome, got %s", outcome.Kind)
	}
	if gotDoctor != "Dr. Adler" {
		t.Fatalf("expected doctorName forwarded, got %q", gotDoctor)
	}
	if gotJobID != "job-42" {
		t.Fatalf("expected jobId forwarded, got %q", gotJobID)
	}
	if gotFile != "a.mp3" {
		t.Fatalf("expected file part a.mp3, got %q", gotFile)
	}
}

func TestConcurrentIdenticalSubmissionsShareOneUpstreamCall(t *testing.T) {
	var requests atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		<-release
		http.Error(w, "no item to return", http.StatusNotFound)
	}))
	defer srv.Close()

	r := New(testLogger(), Config{EndpointURL: srv.URL})

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome, err := r.Submit(context.Background(), "job-1", audioRequest("corr-1"))
			if err != nil {
				t.Errorf("submit %d: %v", i, err)
				return
			}
			outcomes[i] = outcome
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := requests.Load(); got != 1 {
		t.Fatalf("expected exactly one outbound request, got %d", got)
	}
	for i, outcome := range outcomes {
		if outcome.Kind != KindAcceptedAsync {
			t.Fatalf("submit %d: expected accepted_async, got %s", i, outcome.Kind)
		}
	}
	if outcomes[0].Coalesced == outcomes[1].Coalesced {
		t.Fatalf("expected exactly one coalesced submission, got %v and %v", outcomes[0].Coalesced, outcomes[1].Coalesced)
	}
}

func TestSettledFingerprintTriggersFreshUpstreamCall(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := New(testLogger(), Config{EndpointURL: srv.URL})
	for i := 0; i < 2; i++ {
		outcome, err := r.Submit(context.Background(), "job-1", audioRequest("corr-1"))
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if outcome.Kind != KindUpstreamError {
			t.Fatalf("submit %d: expected upstream_error, got %s", i, outcome.Kind)
		}
	}

	if got := requests.Load(); got != 2 {
		t.Fatalf("expected a fresh upstream call per settled submission, got %d", got)
	}
}

func TestSubmitTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New(testLogger(), Config{EndpointURL: srv.URL, Timeout: 30 * time.Millisecond})
	outcome, err := r.Submit(context.Background(), "job-1", audioRequest("corr-1"))
	if err != nil {
		t.Fatalf("submit returned error: %v", err)
	}
	if outcome.Kind != KindTimeout {
		t.Fatalf("expected timeout outcome, got %s", outcome.Kind)
	}
}

func TestClassify(t *testing.T) {
	if got := classify(http.StatusNotFound, []byte("No Item To Return for this request")); got.Kind != KindAcceptedAsync {
		t.Fatalf("marker body must classify as accepted_async, got %s", got.Kind)
	}

	upstream := classify(http.StatusBadGateway, []byte("worker exploded"))
	if upstream.Kind != KindUpstreamError {
		t.Fatalf("expected upstream_error, got %s", upstream.Kind)
	}
	if upstream.UpstreamStatus != http.StatusBadGateway || upstream.Details != "worker exploded" {
		t.Fatalf("expected status and excerpt carried, got %+v", upstream)
	}

	parsed := classify(http.StatusOK, []byte(`{"transcript":"hello"}`))
	if parsed.Kind != KindSuccess || parsed.Data == nil {
		t.Fatalf("expected parsed success, got %+v", parsed)
	}

	raw := classify(http.StatusOK, []byte("plain ack"))
	if raw.Kind != KindSuccess || raw.RawText != "plain ack" {
		t.Fatalf("expected raw-text success, got %+v", raw)
	}
}

func TestClassifyTruncatesExcerpt(t *testing.T) {
	body := make([]byte, maxExcerptBytes*2)
	for i := range body {
		body[i] = 'x'
	}
	outcome := classify(http.StatusInternalServerError, body)
	if len(outcome.Details) != maxExcerptBytes {
		t.Fatalf("expected excerpt capped at %d bytes, got %d", maxExcerptBytes, len(outcome.Details))
	}
}

func TestFingerprintFallsBackToTimestamp(t *testing.T) {
	r := New(testLogger(), Config{EndpointURL: "http://unreachable.invalid"})
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	withCorr := r.fingerprint(domain.SubmitRequest{FileName: "a.mp3", FileSize: 1024, CorrelationID: "corr-1"})
	if withCorr != "a.mp3|1024|corr-1" {
		t.Fatalf("unexpected fingerprint %q", withCorr)
	}

	noCorr := r.fingerprint(domain.SubmitRequest{FileName: "a.mp3", FileSize: 1024})
	again := r.fingerprint(domain.SubmitRequest{FileName: "a.mp3", FileSize: 1024})
	if noCorr != again {
		t.Fatal("same millisecond must derive the same fallback fingerprint")
	}

	r.now = func() time.Time { return fixed.Add(time.Millisecond) }
	later := r.fingerprint(domain.SubmitRequest{FileName: "a.mp3", FileSize: 1024})
	if later == noCorr {
		t.Fatal("different millisecond must derive a different fallback fingerprint")
	}
}
