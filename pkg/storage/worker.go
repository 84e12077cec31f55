package storage

import (
	"context"
	"time"

	"github.com/chenhao-ye/hopperkv/pkg/logutil"
	"github.com/chenhao-ye/hopperkv/pkg/ratelimit"
	"github.com/chenhao-ye/hopperkv/pkg/resrc"
	"github.com/chenhao-ye/hopperkv/pkg/task"
)

// DefaultPollFreq bounds how long the worker sleeps when neither limiter
// nor backend has anything ready, so it wakes up promptly once a limiter's
// wait time expires even with nothing freshly enqueued.
const DefaultPollFreq = time.Millisecond

// Worker is the single background goroutine that owns the outbound path:
// it drains Get/Set task queues against independent RCU/WCU rolling-frame
// rate limiters, submitting at most one of each per loop iteration and
// pre-paying for Gets (whose exact cost isn't known until the response
// arrives) to avoid a flood of submissions before the first completion
// settles the bill.
type Worker struct {
	backend Backend

	getQueue *task.Queue[*task.TaskGet]
	setQueue *task.Queue[*task.TaskSet]

	rcuLimiter *ratelimit.Limiter
	wcuLimiter *ratelimit.Limiter

	pollFreq time.Duration
	log      logutil.Logger
}

// NewWorker builds a worker draining backend at the given RCU/WCU rates
// (consumption units per second).
func NewWorker(backend Backend, rcuRate, wcuRate float64, log logutil.Logger) *Worker {
	return &Worker{
		backend:    backend,
		getQueue:   task.NewQueue[*task.TaskGet](),
		setQueue:   task.NewQueue[*task.TaskSet](),
		rcuLimiter: ratelimit.NewConcurrent(rcuRate),
		wcuLimiter: ratelimit.NewConcurrent(wcuRate),
		pollFreq:   DefaultPollFreq,
		log:        log,
	}
}

// SubmitGet enqueues a get task for the worker to process.
func (w *Worker) SubmitGet(t *task.TaskGet) { w.getQueue.Push(t) }

// SubmitSet enqueues a set task for the worker to process.
func (w *Worker) SubmitSet(t *task.TaskSet) { w.setQueue.Push(t) }

// SetRCULimit proposes a new RCU rate, applied at the limiter's next frame
// rollover.
func (w *Worker) SetRCULimit(rcu float64) { w.rcuLimiter.ProposeNewRate(rcu) }

// SetWCULimit proposes a new WCU rate, applied at the limiter's next frame
// rollover.
func (w *Worker) SetWCULimit(wcu float64) { w.wcuLimiter.ProposeNewRate(wcu) }

// Run drives the worker loop until ctx is canceled. Intended to be run as
// one goroutine in an errgroup alongside the rest of the server's
// lifecycle.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		workDone := false

		if p, ok := w.backend.(Poller); ok {
			if p.Poll() {
				workDone = true
			}
		}

		rcuWait := w.rcuLimiter.CheckWaitTime()
		wcuWait := w.wcuLimiter.CheckWaitTime()

		if rcuWait <= 0 {
			if t, ok := w.getQueue.Pop(); ok {
				w.processGet(t)
				w.rcuLimiter.Consume(1)
				workDone = true
			}
		}
		if wcuWait <= 0 {
			if t, ok := w.setQueue.Pop(); ok {
				w.processSet(t)
				w.wcuLimiter.Consume(resrc.KVToWCU(len(t.Key), len(t.Value)))
				workDone = true
			}
		}

		if workDone {
			continue
		}

		sleep := w.pollFreq
		if rcuWait > 0 && wcuWait > 0 {
			sleep = minDuration(rcuWait, wcuWait, w.pollFreq)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

func (w *Worker) processGet(t *task.TaskGet) {
	w.backend.GetAsync(t.Key,
		func(value string) {
			t.Status = task.Ok
			t.Value = value
			cost := resrc.KVToRCU(len(t.Key), len(value))
			w.rcuLimiter.Consume(cost - 1) // 1 RCU prepaid on submission
			task.Wake(t.Waiter)
		},
		func(errMsg string) {
			t.Status = task.Err
			t.ErrMsg = errMsg
			w.log.WithKey(t.Key).Warnf("get failed: %s", errMsg)
			// 1 RCU charged even on failure (prepaid already); no further
			// accounting since the failed response's size is unknown.
			task.Wake(t.Waiter)
		},
	)
}

func (w *Worker) processSet(t *task.TaskSet) {
	w.backend.PutAsync(t.Key, t.Value,
		func() {
			t.Status = task.Ok
			task.Wake(t.Waiter)
		},
		func(errMsg string) {
			t.Status = task.Err
			t.ErrMsg = errMsg
			w.log.WithKey(t.Key).Warnf("set failed: %s", errMsg)
			task.Wake(t.Waiter)
		},
	)
}

func minDuration(ds ...time.Duration) time.Duration {
	min := ds[0]
	for _, d := range ds[1:] {
		if d < min {
			min = d
		}
	}
	return min
}
