package domain

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// DefaultFailureDetail is recorded when a failed callback carries no detail.
const DefaultFailureDetail = "transcription failed without detail"

// Job is the persisted record of one transcription submission. The relay and
// the stream only read and update fields; rows are created by the API layer.
type Job struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"`
	FileName      string    `json:"fileName,omitempty"`
	FileSize      int64     `json:"fileSize,omitempty"`
	ContentType   string    `json:"contentType,omitempty"`
	DoctorName    string    `json:"doctorName,omitempty"`
	PatientName   string    `json:"patientName,omitempty"`
	DocumentType  string    `json:"documentType,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	WebhookURL    string    `json:"webhookUrl,omitempty"`
	ResultText    string    `json:"resultText,omitempty"`
	ResultURL     string    `json:"resultUrl,omitempty"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Terminal reports whether status is a final state that must never change.
func Terminal(status string) bool {
	return status == JobStatusCompleted || status == JobStatusFailed
}

// StatusRank orders statuses so observed sequences can be checked for
// monotonicity: pending < processing < completed/failed.
func StatusRank(status string) int {
	switch status {
	case JobStatusPending:
		return 0
	case JobStatusProcessing:
		return 1
	case JobStatusCompleted, JobStatusFailed:
		return 2
	default:
		return -1
	}
}

type CreateJobRequest struct {
	FileName      string `json:"fileName"`
	FileSize      int64  `json:"fileSize,omitempty"`
	ContentType   string `json:"contentType,omitempty"`
	DoctorName    string `json:"doctorName,omitempty"`
	PatientName   string `json:"patientName,omitempty"`
	DocumentType  string `json:"documentType,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	WebhookURL    string `json:"webhookUrl,omitempty"`
}

func (r CreateJobRequest) Validate() error {
	if strings.TrimSpace(r.FileName) == "" {
		return errors.New("fileName is required")
	}
	if r.FileSize < 0 {
		return errors.New("fileSize must not be negative")
	}
	return nil
}

// SubmitRequest is the relay payload. BinaryContent carries the audio as
// standard base64; everything else is metadata forwarded to the worker.
type SubmitRequest struct {
	FileName       string `json:"fileName"`
	FileSize       int64  `json:"fileSize,omitempty"`
	CorrelationID  string `json:"correlationId,omitempty"`
	BinaryContent  string `json:"binaryContent"`
	ContentType    string `json:"contentType,omitempty"`
	DoctorName     string `json:"doctorName,omitempty"`
	PatientName    string `json:"patientName,omitempty"`
	DocumentType   string `json:"documentType,omitempty"`
	SubmissionTime string `json:"submissionTime,omitempty"`
	WebhookURL     string `json:"webhookUrl,omitempty"`
}

func (r SubmitRequest) Validate() error {
	if strings.TrimSpace(r.FileName) == "" {
		return errors.New("fileName is required")
	}
	if strings.TrimSpace(r.BinaryContent) == "" {
		return errors.New("binaryContent is required")
	}
	return nil
}

// DecodeAudio returns the raw audio bytes from BinaryContent.
func (r SubmitRequest) DecodeAudio() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(r.BinaryContent)
	if err != nil {
		return nil, errors.New("binaryContent is not valid base64")
	}
	if len(data) == 0 {
		return nil, errors.New("binaryContent is empty")
	}
	return data, nil
}

// ResultPayload is the worker-origin callback carrying a job's final outcome.
// Workers attach extra metadata fields; those are accepted and ignored.
type ResultPayload struct {
	JobID       string `json:"jobId"`
	Success     bool   `json:"success"`
	ResultText  string `json:"resultText,omitempty"`
	ResultURL   string `json:"resultUrl,omitempty"`
	ErrorDetail string `json:"errorDetail,omitempty"`
}

func (p ResultPayload) Validate() error {
	if strings.TrimSpace(p.JobID) == "" {
		return errors.New("jobId is required")
	}
	return nil
}

// Result is the normalized store write derived from a callback payload.
// Empty optional fields are left untouched by the store, never blanked.
type Result struct {
	Status      string
	ResultText  string
	ResultURL   string
	ErrorDetail string
}

// ResultFromPayload maps a callback payload onto the target store write.
func ResultFromPayload(p ResultPayload) Result {
	if p.Success {
		return Result{
			Status:     JobStatusCompleted,
			ResultText: p.ResultText,
			ResultURL:  p.ResultURL,
		}
	}
	detail := strings.TrimSpace(p.ErrorDetail)
	if detail == "" {
		detail = DefaultFailureDetail
	}
	return Result{
		Status:      JobStatusFailed,
		ErrorDetail: detail,
	}
}
