package task

// InflightRegistry deduplicates concurrent GETs for the same key onto a
// single outstanding TaskGet: a second GET for a key already inflight
// registers as a dependent instead of issuing a redundant storage request,
// and is woken with a copy of the eventual result.
//
// Not safe for concurrent use — per the single command-thread ownership
// model, only the command thread calls into it; the storage worker's
// completion callback only writes the result fields of the TaskGet it was
// handed, never the registry itself.
type InflightRegistry struct {
	dedupEnabled bool
	inflight     map[string]*TaskGet
}

// NewInflightRegistry builds a registry. When dedupEnabled is false every
// method is a no-op (CheckInflight always false, Begin/End/Invalidate do
// nothing), matching cache.enable_inflight_dedup disabling the feature
// entirely.
func NewInflightRegistry(dedupEnabled bool) *InflightRegistry {
	return &InflightRegistry{
		dedupEnabled: dedupEnabled,
		inflight:     make(map[string]*TaskGet),
	}
}

// CheckInflight reports whether key already has an outstanding GET task.
func (r *InflightRegistry) CheckInflight(key string) bool {
	if !r.dedupEnabled {
		return false
	}
	_, ok := r.inflight[key]
	return ok
}

// AddDependent registers a new dependent of the inflight task for key,
// returning the waiter to block on and the result slot it will be filled
// with. Only valid when CheckInflight(key) is true.
func (r *InflightRegistry) AddDependent(key string) (Waiter, *GetResult) {
	t, ok := r.inflight[key]
	if !r.dedupEnabled || !ok {
		return nil, nil
	}
	return t.AddDependent()
}

// BeginInflight registers t as the outstanding GET task for key. Only
// valid when CheckInflight(key) is false.
func (r *InflightRegistry) BeginInflight(key string, t *TaskGet) {
	if !r.dedupEnabled {
		return
	}
	r.inflight[key] = t
}

// EndInflight completes the inflight request for key. It removes the
// registry entry and returns true only if the stored entry is still t —
// i.e. no concurrent SET invalidated it in the meantime — signaling that
// the caller may safely write t's result into the cache. If the entry is
// missing or belongs to a different task, returns false without mutating
// the registry (the entry, if any, belongs to a later request).
func (r *InflightRegistry) EndInflight(key string, t *TaskGet) bool {
	if !r.dedupEnabled {
		return true
	}
	cur, ok := r.inflight[key]
	if !ok || cur != t {
		return false
	}
	delete(r.inflight, key)
	return true
}

// InvalidateInflight unconditionally erases any inflight entry for key.
// Called by a concurrent SET that has already updated the cache directly:
// the outstanding GET will still complete and wake its dependents, but
// EndInflight will return false for it, so it will not clobber the cache
// with a possibly-stale read result.
func (r *InflightRegistry) InvalidateInflight(key string) {
	if !r.dedupEnabled {
		return
	}
	delete(r.inflight, key)
}
