package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chenhao-ye/hopperkv/pkg/logutil"
	"github.com/chenhao-ye/hopperkv/pkg/task"
)

func TestWorkerProcessesGetEndToEnd(t *testing.T) {
	b := NewMockBackend()
	w := NewWorker(b, 1e6, 1e6, logutil.New())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	key := mockKey(b.Format(), 3)
	g := task.NewTaskGet(task.NewWaiter(), key)
	w.SubmitGet(g)

	select {
	case <-g.Waiter:
	case <-time.After(2 * time.Second):
		t.Fatal("get task never completed")
	}
	require.Equal(t, task.Ok, g.Status)
	require.Len(t, g.Value, int(b.Format().ValSize))
}

func TestWorkerProcessesSetEndToEnd(t *testing.T) {
	b := NewMockBackend()
	w := NewWorker(b, 1e6, 1e6, logutil.New())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	s := task.NewTaskSet(task.NewWaiter(), "k", "v")
	w.SubmitSet(s)

	select {
	case <-s.Waiter:
	case <-time.After(2 * time.Second):
		t.Fatal("set task never completed")
	}
	require.Equal(t, task.Ok, s.Status)
}

func TestWorkerThrottlesBelowRCURate(t *testing.T) {
	b := NewMockBackend()
	// A tiny rate forces CheckWaitTime > 0 so at most a handful of gets
	// complete within the test horizon.
	w := NewWorker(b, 1, 1e6, logutil.New())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	var gets []*task.TaskGet
	for i := 0; i < 50; i++ {
		g := task.NewTaskGet(task.NewWaiter(), mockKey(b.Format(), i))
		gets = append(gets, g)
		w.SubmitGet(g)
	}

	time.Sleep(200 * time.Millisecond)

	completed := 0
	for _, g := range gets {
		select {
		case <-g.Waiter:
			completed++
		default:
		}
	}
	require.Less(t, completed, len(gets))
}

func TestMinDuration(t *testing.T) {
	got := minDuration(3*time.Second, time.Second, 2*time.Second)
	require.Equal(t, time.Second, got)
}
