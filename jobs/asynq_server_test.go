package jobs

import (
	"context"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

func noopHandler(context.Context, *asynq.Task) error { return nil }

func TestNewWorkerValidatesRegistrations(t *testing.T) {
	opts := asynq.RedisClientOpt{Addr: "127.0.0.1:0"}
	sweep, err := NewSweepTask("")
	require.NoError(t, err)

	_, err = NewWorker(WorkerConfig{RedisOpts: opts, Handlers: []TaskHandler{{Type: TaskPostingSweep}}})
	require.Error(t, err, "handler func missing")

	_, err = NewWorker(WorkerConfig{RedisOpts: opts, Handlers: []TaskHandler{
		{Type: TaskPostingSweep, Handler: noopHandler},
		{Type: TaskPostingSweep, Handler: noopHandler},
	}})
	require.ErrorContains(t, err, "duplicate")

	_, err = NewWorker(WorkerConfig{
		RedisOpts: opts,
		Handlers:  []TaskHandler{{Type: TaskLedgerIntegrity, Handler: noopHandler}},
		Cron:      []CronRegistration{{Spec: "@every 1m", Task: sweep}},
	})
	require.ErrorContains(t, err, "no registered handler")

	w, err := NewWorker(WorkerConfig{
		RedisOpts: opts,
		Handlers:  []TaskHandler{{Type: TaskPostingSweep, Handler: noopHandler}},
		Cron:      []CronRegistration{{Spec: "@every 1m", Task: sweep}},
	})
	require.NoError(t, err)
	require.NotNil(t, w.scheduler)
}

func TestNilWorkerRunFails(t *testing.T) {
	var w *Worker
	require.Error(t, w.Run(context.Background()))
}
