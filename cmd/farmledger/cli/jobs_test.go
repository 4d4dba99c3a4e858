package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	_ "github.com/odyssey-erp/farmledger/internal/testing/guard"
	"github.com/odyssey-erp/farmledger/jobs"
)

type recordingClient struct {
	tasks []*asynq.Task
	err   error
}

func (c *recordingClient) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.tasks = append(c.tasks, task)
	return &asynq.TaskInfo{ID: "t-1", Queue: jobs.QueuePosting}, nil
}

type fixedInspector map[string]*asynq.QueueInfo

func (f fixedInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if info, ok := f[queue]; ok {
		return info, nil
	}
	return nil, asynq.ErrQueueNotFound
}

func TestJobsProcessCommand(t *testing.T) {
	client := &recordingClient{}
	c, err := NewJobsCLI(client, fixedInspector{}, 5)
	require.NoError(t, err)

	id := uuid.New()
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	code := c.Run(context.Background(), []string{"process", "-tenant", "farm-1", "-event", id.String()}, stdout, stderr)
	require.Equal(t, 0, code, stderr.String())
	require.Len(t, client.tasks, 1)
	require.Equal(t, jobs.TaskPostingProcess, client.tasks[0].Type())

	var payload jobs.ProcessEventPayload
	require.NoError(t, json.Unmarshal(client.tasks[0].Payload(), &payload))
	require.Equal(t, id, payload.EventID)
	require.True(t, strings.Contains(stdout.String(), "enqueued posting:process"))

	code = c.Run(context.Background(), []string{"process", "-tenant", "farm-1", "-event", "nope"}, stdout, stderr)
	require.Equal(t, 2, code)
}

func TestJobsCommandErrors(t *testing.T) {
	client := &recordingClient{err: asynq.ErrTaskIDConflict}
	c, err := NewJobsCLI(client, fixedInspector{}, 5)
	require.NoError(t, err)
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)

	require.Equal(t, 0, c.Run(context.Background(), []string{"process", "-tenant", "farm-1", "-event", uuid.NewString()}, stdout, stderr))
	require.Contains(t, stdout.String(), "already queued")
	require.Equal(t, 2, c.Run(context.Background(), []string{"explode"}, stdout, stderr))
	require.Equal(t, 2, c.Run(context.Background(), nil, stdout, stderr))

	_, err = NewJobsCLI(nil, nil, 0)
	require.Error(t, err)
}

func TestJobsStatsCommand(t *testing.T) {
	c, err := NewJobsCLI(&recordingClient{}, fixedInspector{
		jobs.QueuePosting: {Queue: jobs.QueuePosting, Pending: 7, Retry: 2},
	}, 5)
	require.NoError(t, err)

	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	require.Equal(t, 0, c.Run(context.Background(), []string{"stats"}, stdout, stderr), stderr.String())
	var stats []QueueStats
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &stats))
	require.Equal(t, []QueueStats{
		{Queue: jobs.QueuePosting, Pending: 7, Retry: 2},
		{Queue: jobs.QueueDefault},
	}, stats)
}
