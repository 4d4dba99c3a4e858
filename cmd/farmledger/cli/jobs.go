package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/farmledger/jobs"
)

// Enqueuer submits tasks.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Inspector reads queue state.
type Inspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// JobsCLI wraps manual management helpers for posting jobs.
type JobsCLI struct {
	client    Enqueuer
	inspector Inspector
	maxRetry  int
}

// NewJobsCLI builds the helpers on an asynq client and inspector.
func NewJobsCLI(client Enqueuer, inspector Inspector, maxRetry int) (*JobsCLI, error) {
	if client == nil || inspector == nil {
		return nil, errors.New("jobs cli: client and inspector required")
	}
	return &JobsCLI{client: client, inspector: inspector, maxRetry: maxRetry}, nil
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

// Run executes `jobs <command>` and returns the process exit code.
//
//	jobs process -tenant farm-1 -event <uuid>
//	jobs sweep [-tenant farm-1]
//	jobs integrity
//	jobs stats
func (c *JobsCLI) Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: jobs process|sweep|integrity|stats [flags]")
		return 2
	}
	fs := flag.NewFlagSet("jobs "+args[0], flag.ContinueOnError)
	fs.SetOutput(stderr)
	tenant := fs.String("tenant", "", "tenant id")
	event := fs.String("event", "", "event id")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	var (
		task *asynq.Task
		opts []asynq.Option
		err  error
	)
	switch args[0] {
	case "process":
		id, perr := uuid.Parse(*event)
		if perr != nil {
			fmt.Fprintf(stderr, "invalid -event: %v\n", perr)
			return 2
		}
		task, err = jobs.NewProcessEventTask(*tenant, id)
		opts = append(opts, asynq.MaxRetry(c.maxRetry))
	case "sweep":
		task, err = jobs.NewSweepTask(*tenant)
		opts = append(opts, asynq.MaxRetry(0))
	case "integrity":
		task = jobs.NewLedgerIntegrityTask()
	case "stats":
		return c.printStats(stdout, stderr)
	default:
		fmt.Fprintf(stderr, "jobs cli: unsupported command %s\n", args[0])
		return 2
	}
	if err != nil {
		fmt.Fprintf(stderr, "build task: %v\n", err)
		return 2
	}
	info, err := c.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			fmt.Fprintln(stdout, "already queued")
			return 0
		}
		fmt.Fprintf(stderr, "enqueue: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "enqueued %s id=%s queue=%s\n", task.Type(), info.ID, info.Queue)
	return 0
}

// InspectQueues reports the posting and default queues.
func (c *JobsCLI) InspectQueues() ([]QueueStats, error) {
	var out []QueueStats
	for _, name := range []string{jobs.QueuePosting, jobs.QueueDefault} {
		info, err := c.inspector.GetQueueInfo(name)
		if errors.Is(err, asynq.ErrQueueNotFound) {
			out = append(out, QueueStats{Queue: name})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("jobs cli: queue %s: %w", name, err)
		}
		out = append(out, QueueStats{
			Queue:     name,
			Pending:   info.Pending,
			Active:    info.Active,
			Scheduled: info.Scheduled,
			Retry:     info.Retry,
			Archived:  info.Archived,
		})
	}
	return out, nil
}

func (c *JobsCLI) printStats(stdout, stderr io.Writer) int {
	stats, err := c.InspectQueues()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(stats); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}
