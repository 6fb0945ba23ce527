package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-iam/jobs"
)

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis options.
func NewJobsCLI(opts asynq.RedisClientOpt) (*JobsCLI, error) {
	if opts.Addr == "" {
		return nil, errors.New("jobs cli: REDIS_ADDR is not configured")
	}
	client, err := jobs.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return &JobsCLI{client: client, inspector: asynq.NewInspector(opts)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// SendTestInvitation enqueues an invitation mail with a placeholder link so
// the relay can be checked end to end.
func (c *JobsCLI) SendTestInvitation(ctx context.Context, to, link string) (*asynq.TaskInfo, error) {
	return c.client.EnqueueInvitation(ctx, jobs.InvitationPayload{
		InvitationID: uuid.New(),
		Email:        to,
		Name:         "Test Recipient",
		Link:         link,
		ExpiresAt:    time.Now().Add(time.Hour).UTC(),
	})
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = int(info.Pending)
		stats.Active = int(info.Active)
		stats.Scheduled = int(info.Scheduled)
		stats.Retry = int(info.Retry)
		stats.Archived = int(info.Archived)
	}
	return stats, nil
}

// ListRetry returns tasks waiting for another delivery attempt.
func (c *JobsCLI) ListRetry(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListRetryTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}

func newJobsCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect the mail delivery queue",
	}

	withCLI := func(run func(ctx context.Context, cli *JobsCLI, cmd *cobra.Command) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cli, err := NewJobsCLI(rt.cfg.RedisOpts())
			if err != nil {
				return err
			}
			defer cli.Close()
			return run(cmd.Context(), cli, cmd)
		}
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show queue counters",
		RunE: withCLI(func(ctx context.Context, cli *JobsCLI, cmd *cobra.Command) error {
			s, err := cli.InspectQueue(ctx)
			if err != nil {
				return fmt.Errorf("inspect queue: %w", err)
			}
			printf(cmd.OutOrStdout(), "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
				s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
			return nil
		}),
	}

	var size int
	retry := &cobra.Command{
		Use:   "retry",
		Short: "List deliveries waiting for retry",
		RunE: withCLI(func(ctx context.Context, cli *JobsCLI, cmd *cobra.Command) error {
			tasks, err := cli.ListRetry(ctx, size)
			if err != nil {
				return fmt.Errorf("list retry: %w", err)
			}
			for _, t := range tasks {
				printf(cmd.OutOrStdout(), "%s %s retried=%d next=%s error=%q\n",
					t.ID, t.Type, t.Retried, t.NextProcessAt.Format(time.RFC3339), t.LastErr)
			}
			return nil
		}),
	}
	retry.Flags().IntVar(&size, "size", 10, "Number of tasks to list")

	var to string
	sendTest := &cobra.Command{
		Use:   "send-test",
		Short: "Enqueue a test invitation mail",
		RunE: withCLI(func(ctx context.Context, cli *JobsCLI, cmd *cobra.Command) error {
			info, err := cli.SendTestInvitation(ctx, to, rt.cfg.PublicBaseURL+"/accept-invitation?token=test")
			if err != nil {
				return fmt.Errorf("enqueue: %w", err)
			}
			printf(cmd.OutOrStdout(), "enqueued %s on %s\n", info.ID, info.Queue)
			return nil
		}),
	}
	sendTest.Flags().StringVar(&to, "to", "", "Recipient address")
	_ = sendTest.MarkFlagRequired("to")

	cmd.AddCommand(stats, retry, sendTest)
	return cmd
}
