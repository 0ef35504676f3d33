package domain

import (
	"encoding/base64"
	"testing"
)

func TestSubmitRequestValidate(t *testing.T) {
	valid := SubmitRequest{
		FileName:      "visit.mp3",
		FileSize:      1024,
		BinaryContent: base64.StdEncoding.EncodeToString([]byte("audio-bytes")),
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid request, got error: %v", err)
	}

	missingContent := SubmitRequest{FileName: "visit.mp3"}
	if err := missingContent.Validate(); err == nil {
		t.Fatal("expected validation error for missing binaryContent")
	}

	missingName := SubmitRequest{BinaryContent: "aGVsbG8="}
	if err := missingName.Validate(); err == nil {
		t.Fatal("expected validation error for missing fileName")
	}
}

func TestSubmitRequestDecodeAudio(t *testing.T) {
	req := SubmitRequest{BinaryContent: base64.StdEncoding.EncodeToString([]byte("audio"))}
	data, err := req.DecodeAudio()
	if err != nil {
		t.Fatalf("decode returned error: %v", err)
	}
	if string(data) != "audio" {
		t.Fatalf("expected decoded audio, got %q", data)
	}

	bad := SubmitRequest{BinaryContent: "not base64!!"}
	if _, err := bad.DecodeAudio(); err == nil {
		t.Fatal("expected error for invalid base64")
	}

	empty := SubmitRequest{BinaryContent: base64.StdEncoding.EncodeToString(nil)}
	if _, err := empty.DecodeAudio(); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestResultPayloadValidate(t *testing.T) {
	if err := (ResultPayload{JobID: "job-1"}).Validate(); err != nil {
		t.Fatalf("expected valid payload, got error: %v", err)
	}
	if err := (ResultPayload{}).Validate(); err == nil {
		t.Fatal("expected validation error for missing jobId")
	}
	if err := (ResultPayload{JobID: "   "}).Validate(); err == nil {
		t.Fatal("expected validation error for blank jobId")
	}
}

func TestResultFromPayload(t *testing.T) {
	completed := ResultFromPayload(ResultPayload{
		JobID:      "job-1",
		Success:    true,
		ResultText: "report",
		ResultURL:  "https://example.com/report.pdf",
	})
	if completed.Status != JobStatusCompleted {
		t.Fatalf("expected completed, got %s", completed.Status)
	}
	if completed.ResultText != "report" || completed.ResultURL != "https://example.com/report.pdf" {
		t.Fatalf("expected result fields copied through, got %+v", completed)
	}
	if completed.ErrorDetail != "" {
		t.Fatalf("expected no error detail on success, got %q", completed.ErrorDetail)
	}

	failedWithDetail := ResultFromPayload(ResultPayload{JobID: "job-2", ErrorDetail: "codec unsupported"})
	if failedWithDetail.Status != JobStatusFailed {
		t.Fatalf("expected failed, got %s", failedWithDetail.Status)
	}
	if failedWithDetail.ErrorDetail != "codec unsupported" {
		t.Fatalf("expected supplied detail, got %q", failedWithDetail.ErrorDetail)
	}

	failedDefault := ResultFromPayload(ResultPayload{JobID: "job-3"})
	if failedDefault.ErrorDetail != DefaultFailureDetail {
		t.Fatalf("expected default detail, got %q", failedDefault.ErrorDetail)
	}
}

func TestTerminalAndStatusRank(t *testing.T) {
	if Terminal(JobStatusPending) || Terminal(JobStatusProcessing) {
		t.Fatal("pending and processing must not be terminal")
	}
	if !Terminal(JobStatusCompleted) || !Terminal(JobStatusFailed) {
		t.Fatal("completed and failed must be terminal")
	}

	if !(StatusRank(JobStatusPending) < StatusRank(JobStatusProcessing)) {
		t.Fatal("pending must rank below processing")
	}
	if !(StatusRank(JobStatusProcessing) < StatusRank(JobStatusCompleted)) {
		t.Fatal("processing must rank below terminal states")
	}
	if StatusRank(JobStatusCompleted) != StatusRank(JobStatusFailed) {
		t.Fatal("terminal states must share a rank")
	}
	if StatusRank("bogus") != -1 {
		t.Fatal("unknown status must rank -1")
	}
}
