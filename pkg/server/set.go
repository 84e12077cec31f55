package server

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/chenhao-ye/hopperkv/pkg/config"
	"github.com/chenhao-ye/hopperkv/pkg/ghost"
	"github.com/chenhao-ye/hopperkv/pkg/resrc"
	"github.com/chenhao-ye/hopperkv/pkg/task"
)

// Set implements SET key value: writes through to the cache immediately
// (gated by the config store's admit_write when key doesn't already exist,
// matching REDISMODULE_OPEN_KEY_NOTOUCH semantics), invalidates any
// inflight GET for key so its eventual completion won't clobber this
// write, then submits an async write-through to the storage worker and
// blocks for its completion.
func (s *Instance) Set(ctx context.Context, tenantID, key, value string) error {
	t, err := s.tenantByID(tenantID)
	if err != nil {
		return err
	}

	admitWrite := s.cfg.AdmitWrite()

	var waiter task.Waiter
	var tt *task.TaskSet
	if err := t.exec(ctx, func() {
		if _, exists := t.cache[key]; exists || admitWrite {
			t.cache[key] = value
			t.inflight.InvalidateInflight(key)
		}

		w := task.NewWaiter()
		tt = task.NewTaskSet(w, key, value)
		waiter = w

		t.ghostCache.Access(key, uint32(len(key)+len(value)), ghost.Noop)
		t.stats.RecordSetDone(len(key), len(value), admitWrite)
	}); err != nil {
		return err
	}

	consumption := resrc.KVToNetSetClient(len(key), len(value))
	if config.PolicyAllocTotalNetBW {
		consumption += resrc.KVToNetSetStorage(len(key), len(value))
	}
	s.metrics.AddNetBW(consumption)
	if err := waitForNetBudget(ctx, t, consumption); err != nil {
		return err
	}

	t.worker.SubmitSet(tt)

	select {
	case <-waiter:
	case <-ctx.Done():
		return ctx.Err()
	}

	if tt.Status == task.Err {
		// Clean up the cache entry: there may be a brief inconsistency if a
		// concurrent GET already observed the value, but this guarantees
		// eventual consistency with the backing store.
		_ = t.exec(context.Background(), func() {
			delete(t.cache, key)
		})
		s.metrics.ObserveSet(false)
		return errors.Newf("failed to set to storage: %s", tt.ErrMsg)
	}
	s.metrics.ObserveSet(true)
	s.metrics.AddDBWCU(resrc.KVToWCU(len(key), len(value)))
	return nil
}

// SetC implements SETC key value: a cache-only write that never reaches
// the storage worker. The ghost cache is still warmed (for MRC sampling)
// but neither stats nor the rate limiter are touched, matching the
// source's "maintain stats as if written to DynamoDB" exception — SETC is
// the one write path that does not.
func (s *Instance) SetC(ctx context.Context, tenantID, key, value string) error {
	t, err := s.tenantByID(tenantID)
	if err != nil {
		return err
	}
	return t.exec(ctx, func() {
		t.cache[key] = value
		t.ghostCache.Access(key, uint32(len(key)+len(value)), ghost.Noop)
	})
}
