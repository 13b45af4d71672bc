package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/apotek-pos/internal/backend"
	"github.com/noah-isme/apotek-pos/internal/checkout"
	"github.com/noah-isme/apotek-pos/internal/ledger"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	seen  map[string]bool
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	var id, queue string
	for _, opt := range opts {
		switch opt.Type() {
		case asynq.TaskIDOpt:
			id = opt.Value().(string)
		case asynq.QueueOpt:
			queue = opt.Value().(string)
		}
	}
	if f.seen[id] {
		return nil, asynq.ErrTaskIDConflict
	}
	f.seen[id] = true
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	return &asynq.TaskInfo{ID: id, Queue: queue}, nil
}

type fakeLedger struct {
	rows map[string]ledger.MergedRow
	err  error
}

func (f fakeLedger) FindOrder(ctx context.Context, orderID string) (ledger.MergedRow, bool, error) {
	if f.err != nil {
		return ledger.MergedRow{}, false, f.err
	}
	row, ok := f.rows[orderID]
	return row, ok, nil
}

type fakeItems map[backend.OrderID][]backend.OrderItemView

func (f fakeItems) OrderItems(ctx context.Context, id backend.OrderID) ([]backend.OrderItemView, error) {
	return f[id], nil
}

type countingLocker struct{ keys []string }

func (l *countingLocker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	l.keys = append(l.keys, key)
	return fn(ctx)
}

func partial(orderID string) checkout.PartialCommit {
	return checkout.PartialCommit{
		SessionID: "s-1",
		OrderID:   orderID,
		Step:      checkout.StepAttachItems,
		Error:     "Insufficient stock",
		Total:     decimal.RequireFromString("212.40"),
		LegCount:  2,
	}
}

func TestEnqueuerDeduplicatesPerOrderAndStep(t *testing.T) {
	client := &fakeEnqueuer{}
	enq := Enqueuer{Client: client, Queue: "reconcile"}

	require.NoError(t, enq.ReportPartialCommit(context.Background(), partial("500")))
	require.NoError(t, enq.ReportPartialCommit(context.Background(), partial("500")))
	require.Len(t, client.tasks, 1)
	require.Equal(t, TypePartialCommit, client.tasks[0].Type())

	var pc checkout.PartialCommit
	require.NoError(t, json.Unmarshal(client.tasks[0].Payload(), &pc))
	require.Equal(t, "500", pc.OrderID)
	require.Equal(t, checkout.StepAttachItems, pc.Step)
	require.True(t, decimal.RequireFromString("212.40").Equal(pc.Total))

	other := partial("500")
	other.Step = checkout.StepAttachPayments
	require.NoError(t, enq.ReportPartialCommit(context.Background(), other))
	require.Len(t, client.tasks, 2)
}

func TestEnqueuerRequiresClientAndOrder(t *testing.T) {
	require.Error(t, Enqueuer{}.ReportPartialCommit(context.Background(), partial("1")))
	require.Error(t, Enqueuer{Client: &fakeEnqueuer{}}.ReportPartialCommit(context.Background(), partial("")))
}

func TestHandlerOutcomes(t *testing.T) {
	h := Handler{
		Ledger: fakeLedger{rows: map[string]ledger.MergedRow{
			"500": {OrderID: "500", CashAmount: decimal.RequireFromString("106.20"), UPIAmount: decimal.RequireFromString("106.20")},
			"501": {OrderID: "501"},
		}},
		Items: fakeItems{
			"500": {{Quantity: 2}},
			"501": {{Quantity: 1}},
		},
	}

	report, err := h.Check(context.Background(), partial("500"))
	require.NoError(t, err)
	require.Equal(t, OutcomeReconciled, report.Outcome)
	require.Equal(t, 1, report.ItemCount)
	require.True(t, decimal.RequireFromString("212.40").Equal(report.PaidAmount))

	report, err = h.Check(context.Background(), partial("501"))
	require.NoError(t, err)
	require.Equal(t, OutcomeOrphaned, report.Outcome)
	require.True(t, report.MissingLegs)

	report, err = h.Check(context.Background(), partial("502"))
	require.NoError(t, err)
	require.Equal(t, OutcomeOrphaned, report.Outcome)
	require.Zero(t, report.ItemCount)
}

func TestHandlerLookupErrorIsRetried(t *testing.T) {
	h := Handler{Ledger: fakeLedger{err: errors.New("HTTP 502: Bad Gateway")}, Items: fakeItems{}}
	_, err := h.Check(context.Background(), partial("500"))
	require.EqualError(t, err, "HTTP 502: Bad Gateway")
}

func TestProcessTaskDecodesAndLocks(t *testing.T) {
	locker := &countingLocker{}
	h := Handler{Ledger: fakeLedger{}, Items: fakeItems{}, Locker: locker}

	task, err := NewPartialCommitTask(partial("500"))
	require.NoError(t, err)
	require.NoError(t, h.ProcessTask(context.Background(), task))
	require.Equal(t, []string{"lock:reconcile:500"}, locker.keys)

	err = h.ProcessTask(context.Background(), asynq.NewTask(TypePartialCommit, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = h.ProcessTask(context.Background(), asynq.NewTask(TypePartialCommit, []byte(`{"step":"attachItems"}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestServeMuxRoutesPartialCommits(t *testing.T) {
	mux := NewServeMux(Handler{Ledger: fakeLedger{}, Items: fakeItems{}})
	task, err := NewPartialCommitTask(partial("9"))
	require.NoError(t, err)
	require.NoError(t, mux.ProcessTask(context.Background(), task))
}
