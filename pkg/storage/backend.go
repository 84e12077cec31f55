// Package storage implements the single background worker that owns the
// outbound path to the backing key/value store: a Backend abstraction, a
// deterministic mock implementation of it, and the worker loop that drains
// Get/Set task queues against the RCU/WCU rate limiters.
package storage

// Backend is the outbound store a Worker drains tasks against. Both calls
// are asynchronous: the backend invokes exactly one of onOK/onErr, possibly
// from a different goroutine than the caller, once the operation completes.
//
// A real deployment would implement Backend against a cloud key/value
// store; only the deterministic MockBackend is implemented here — wiring a
// cloud SDK client behind this interface is the integration point a real
// deployment would add, not something this module does on its own.
type Backend interface {
	GetAsync(key string, onOK func(value string), onErr func(errMsg string))
	PutAsync(key, value string, onOK func(), onErr func(errMsg string))
}

// Poller is implemented by backends whose completions are driven by the
// worker's own poll loop rather than by independent I/O goroutines —
// MockBackend uses it to emulate network latency deterministically. Real
// backends typically need not implement it: their callbacks fire directly
// from their own I/O completion paths.
type Poller interface {
	// Poll drains at most one due completion and reports whether it did.
	Poll() bool
}
