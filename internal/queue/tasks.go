package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TypeNotifyWebhook = "notify:webhook"

const (
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
)

// NotifyWebhookPayload carries one outbound client notification: the final
// snapshot of a job whose callback just landed a terminal status.
type NotifyWebhookPayload struct {
	JobID       string    `json:"job_id"`
	Event       string    `json:"event"`
	Endpoint    string    `json:"endpoint"`
	Status      string    `json:"status"`
	ResultText  string    `json:"result_text,omitempty"`
	ResultURL   string    `json:"result_url,omitempty"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	FinishedAt  time.Time `json:"finished_at"`
}

func NewNotifyWebhookTask(payload NotifyWebhookPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal notify payload: %w", err)
	}
	return asynq.NewTask(TypeNotifyWebhook, body), nil
}

func ParseNotifyWebhookPayload(task *asynq.Task) (NotifyWebhookPayload, error) {
	var payload NotifyWebhookPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return NotifyWebhookPayload{}, fmt.Errorf("unmarshal notify payload: %w", err)
	}
	return payload, nil
}
