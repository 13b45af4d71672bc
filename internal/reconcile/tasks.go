package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/apotek-pos/internal/checkout"
)

// TypePartialCommit is the asynq task type for orders left incomplete.
const TypePartialCommit = "reconcile:partial_commit"

// DefaultQueue is used when no queue name is configured.
const DefaultQueue = "reconcile"

// TaskEnqueuer is the subset of *asynq.Client used here.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Enqueuer publishes partial commits for the worker. It implements
// checkout.FailureReporter.
type Enqueuer struct {
	Client    TaskEnqueuer
	Queue     string
	MaxRetry  int
	Delay     time.Duration
	Retention time.Duration
	Logger    zerolog.Logger
}

// NewPartialCommitTask encodes pc as an asynq task.
func NewPartialCommitTask(pc checkout.PartialCommit) (*asynq.Task, error) {
	payload, err := json.Marshal(pc)
	if err != nil {
		return nil, fmt.Errorf("reconcile: encode payload: %w", err)
	}
	return asynq.NewTask(TypePartialCommit, payload), nil
}

// ReportPartialCommit enqueues pc once per order and step.
func (e Enqueuer) ReportPartialCommit(ctx context.Context, pc checkout.PartialCommit) error {
	if e.Client == nil {
		return errors.New("reconcile: task client not configured")
	}
	if pc.OrderID == "" {
		return errors.New("reconcile: order id is required")
	}
	task, err := NewPartialCommitTask(pc)
	if err != nil {
		return err
	}
	queue := e.Queue
	if queue == "" {
		queue = DefaultQueue
	}
	maxRetry := e.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 10
	}
	delay := e.Delay
	if delay <= 0 {
		delay = 30 * time.Second
	}
	retention := e.Retention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	info, err := e.Client.EnqueueContext(ctx, task,
		asynq.Queue(queue),
		asynq.MaxRetry(maxRetry),
		asynq.ProcessIn(delay),
		asynq.Retention(retention),
		asynq.TaskID(taskID(pc)),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		e.Logger.Debug().Str("order_id", pc.OrderID).Msg("partial commit already queued")
		return nil
	}
	if err != nil {
		return fmt.Errorf("reconcile: enqueue order %s: %w", pc.OrderID, err)
	}
	e.Logger.Info().Str("order_id", pc.OrderID).Str("step", string(pc.Step)).Str("task_id", info.ID).
		Str("queue", info.Queue).Msg("partial commit queued for reconciliation")
	return nil
}

func taskID(pc checkout.PartialCommit) string {
	return fmt.Sprintf("partial:%s:%s", pc.OrderID, pc.Step)
}
