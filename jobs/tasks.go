package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueuePosting carries per-event posting tasks.
	QueuePosting = "posting"

	// TaskPostingProcess posts a single event.
	TaskPostingProcess = "posting:process"
	// TaskPostingSweep re-drives pending, failed and abandoned events.
	TaskPostingSweep = "posting:sweep"
	// TaskLedgerIntegrity checks every tenant's trial balance.
	TaskLedgerIntegrity = "ledger:integrity"
)

// ProcessEventPayload identifies the event a posting task works on.
type ProcessEventPayload struct {
	TenantID string    `json:"tenant_id"`
	EventID  uuid.UUID `json:"event_id"`
}

// SweepPayload optionally restricts a sweep to one tenant.
type SweepPayload struct {
	TenantID string `json:"tenant_id,omitempty"`
}

// NewProcessEventTask builds a posting task. The task id is derived from the
// event, so enqueueing the same event twice while a task is pending is a no-op.
func NewProcessEventTask(tenantID string, eventID uuid.UUID, opts ...asynq.Option) (*asynq.Task, error) {
	if tenantID == "" || eventID == uuid.Nil {
		return nil, fmt.Errorf("jobs: tenant and event id required")
	}
	body, err := json.Marshal(ProcessEventPayload{TenantID: tenantID, EventID: eventID})
	if err != nil {
		return nil, err
	}
	base := []asynq.Option{asynq.Queue(QueuePosting), asynq.TaskID("posting:" + tenantID + ":" + eventID.String())}
	return asynq.NewTask(TaskPostingProcess, body, append(base, opts...)...), nil
}

// NewSweepTask builds a sweep task; an empty tenant sweeps every tenant.
func NewSweepTask(tenantID string) (*asynq.Task, error) {
	body, err := json.Marshal(SweepPayload{TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPostingSweep, body, asynq.Queue(QueueDefault)), nil
}

// NewLedgerIntegrityTask builds the trial balance check task.
func NewLedgerIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskLedgerIntegrity, nil, asynq.Queue(QueueDefault))
}
