package server

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/chenhao-ye/hopperkv/pkg/config"
	"github.com/chenhao-ye/hopperkv/pkg/ghost"
	"github.com/chenhao-ye/hopperkv/pkg/resrc"
	"github.com/chenhao-ye/hopperkv/pkg/task"
)

// waitForNetBudget blocks the calling goroutine for as long as t's network
// limiter says it must, then charges consumption against it. Grounded on
// network::wait_until_can_send/consume: a deliberate synchronous sleep on
// whichever goroutine is about to reply to the client, not the tenant's
// command goroutine — so one slow tenant's throttling never blocks another
// tenant, nor does it block that tenant's own next command from queuing.
// The limiter itself is only checked and charged on the tenant's command
// goroutine, since it is a single-goroutine ratelimit.New limiter.
func waitForNetBudget(ctx context.Context, t *tenant, consumption uint64) error {
	var wait time.Duration
	if err := t.exec(ctx, func() { wait = t.netLimiter.CheckWaitTime() }); err != nil {
		return err
	}
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return t.exec(ctx, func() { t.netLimiter.Consume(consumption) })
}

// Get implements GET key for tenantID: a cache hit replies immediately; a
// miss either dedups onto an already-outstanding fetch for the same key or
// submits a new one to the storage worker and blocks until it completes.
func (s *Instance) Get(ctx context.Context, tenantID, key string) (string, error) {
	t, err := s.tenantByID(tenantID)
	if err != nil {
		return "", err
	}

	type hitResult struct {
		value string
		hit   bool
	}
	var hr hitResult
	if err := t.exec(ctx, func() {
		if v, ok := t.cache[key]; ok {
			hr.value, hr.hit = v, true
			t.ghostCache.Access(key, uint32(len(key)+len(v)), ghost.Default)
			t.stats.RecordGetDone(len(key), len(v), false)
		}
	}); err != nil {
		return "", err
	}
	if hr.hit {
		s.metrics.ObserveGet(true)
		consumption := resrc.KVToNetGetClient(len(key), len(hr.value))
		s.metrics.AddNetBW(consumption)
		if err := waitForNetBudget(ctx, t, consumption); err != nil {
			return "", err
		}
		return hr.value, nil
	}

	// Miss: touch the ghost cache now (the real size is unknown until the
	// fetch completes) and either dedup onto an inflight fetch or own one.
	type missPlan struct {
		owner    *task.TaskGet
		waiter   task.Waiter
		depWait  task.Waiter
		depResult *task.GetResult
	}
	var plan missPlan
	if err := t.exec(ctx, func() {
		t.ghostCache.Access(key, 0, ghost.Default)

		if t.inflight.CheckInflight(key) {
			plan.depWait, plan.depResult = t.inflight.AddDependent(key)
			return
		}

		w := task.NewWaiter()
		g := task.NewTaskGet(w, key)
		t.inflight.BeginInflight(key, g)
		t.worker.SubmitGet(g)
		plan.owner, plan.waiter = g, w
	}); err != nil {
		return "", err
	}

	if plan.depWait != nil {
		select {
		case <-plan.depWait:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		if plan.depResult.Err != nil {
			return "", plan.depResult.Err
		}
		// A dependent never re-touches the cache: the owner's completion
		// already did (or deliberately didn't, if invalidated by a SET). It
		// still records its own stats sample — counted as a hit, since from
		// this request's perspective the value was simply handed to it.
		val := plan.depResult.Value
		if err := t.exec(ctx, func() {
			t.stats.RecordGetDone(len(key), len(val), false)
		}); err != nil {
			return "", err
		}
		s.metrics.ObserveGet(true)
		consumption := resrc.KVToNetGetClient(len(key), len(val))
		s.metrics.AddNetBW(consumption)
		if err := waitForNetBudget(ctx, t, consumption); err != nil {
			return "", err
		}
		return val, nil
	}

	// Owner path: wait for the storage worker's completion callback, then
	// re-enter the command goroutine to commit the result.
	select {
	case <-plan.waiter:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	g := plan.owner
	var replyErr error
	var replyVal string
	if err := t.exec(ctx, func() {
		updateCache := t.inflight.EndInflight(key, g)

		if g.Status == task.Err {
			replyErr = errors.Newf("failed to get from storage: %s", g.ErrMsg)
			for _, dep := range g.Dependents {
				dep.Result.Err = replyErr
				task.Wake(dep.Waiter)
			}
			return
		}

		if updateCache {
			t.cache[key] = g.Value
			t.ghostCache.UpdateSize(key, uint32(len(key)+len(g.Value)))
		}
		// else: a concurrent SET invalidated this fetch; do not clobber the
		// cache with a possibly-stale read, but dependents still get the
		// value this fetch actually observed.

		replyVal = g.Value
		for _, dep := range g.Dependents {
			dep.Result.Value = g.Value
			task.Wake(dep.Waiter)
		}

		t.stats.RecordGetDone(len(key), len(g.Value), true)
	}); err != nil {
		return "", err
	}

	if replyErr != nil {
		s.metrics.ObserveGet(false)
		return "", replyErr
	}

	s.metrics.ObserveGet(false)
	s.metrics.AddDBRCU(resrc.KVToRCU(len(key), len(replyVal)))
	consumption := resrc.KVToNetGetClient(len(key), len(replyVal))
	if config.PolicyAllocTotalNetBW {
		consumption += resrc.KVToNetGetStorage(len(key), len(replyVal))
	}
	s.metrics.AddNetBW(consumption)
	if err := waitForNetBudget(ctx, t, consumption); err != nil {
		return "", err
	}
	return replyVal, nil
}
