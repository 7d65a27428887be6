package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRematerialize rebuilds materialized user permissions from role grants.
	TaskRematerialize = "rbac:rematerialize"
)

// RematerializePayload selects the users to repair. A zero UserID means every user.
type RematerializePayload struct {
	UserID    int64 `json:"user_id,omitempty"`
	BatchSize int   `json:"batch_size,omitempty"`
}

// NewRematerializeTask constructs an Asynq task.
func NewRematerializeTask(payload RematerializePayload) (*asynq.Task, error) {
	if payload.UserID < 0 || payload.BatchSize < 0 {
		return nil, fmt.Errorf("jobs: invalid rematerialize payload %+v", payload)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRematerialize, data), nil
}
