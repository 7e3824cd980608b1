package bridge

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

type outcome struct {
	result json.RawMessage
	err    error
}

// call is one outstanding remote invocation awaiting exactly one completion.
type call struct {
	id       uint64
	method   string
	issuedAt time.Time
	done     chan outcome
}

// correlator allocates monotonically increasing ids and matches inbound
// responses to their pending call. Ids are never reused while outstanding.
// Completion happens exactly once per entry: whichever path removes the
// entry under the lock (response, cancel, fail-all) owns it; a late response
// for a removed id finds nothing and is discarded by the caller.
type correlator struct {
	mu      sync.Mutex
	next    uint64
	pending map[uint64]*call

	// implicit allows at most one outstanding exchange; responses carry no
	// id and complete the single pending entry.
	implicit bool
}

func newCorrelator(implicit bool) *correlator {
	return &correlator{pending: make(map[uint64]*call), implicit: implicit}
}

func (c *correlator) register(method string) (*call, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.implicit && len(c.pending) > 0 {
		return nil, ErrExchangeInFlight
	}
	c.next++
	cl := &call{id: c.next, method: method, issuedAt: time.Now(), done: make(chan outcome, 1)}
	c.pending[cl.id] = cl
	return cl, nil
}

// resolve completes the pending entry for id. It reports false for an
// unknown id (already resolved, cancelled, or never issued).
func (c *correlator) resolve(id uint64, result json.RawMessage, err error) bool {
	c.mu.Lock()
	cl, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	cl.done <- outcome{result: result, err: err}
	return true
}

// resolveOldest completes the earliest-issued pending entry (implicit mode).
func (c *correlator) resolveOldest(result json.RawMessage, err error) bool {
	c.mu.Lock()
	var oldest *call
	for _, cl := range c.pending {
		if oldest == nil || cl.id < oldest.id {
			oldest = cl
		}
	}
	if oldest != nil {
		delete(c.pending, oldest.id)
	}
	c.mu.Unlock()
	if oldest == nil {
		return false
	}
	oldest.done <- outcome{result: result, err: err}
	return true
}

// cancel removes the entry without completing it. A response racing in
// afterward sees an unknown id. Reports whether the entry was still pending.
func (c *correlator) cancel(id uint64) bool {
	c.mu.Lock()
	_, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	return ok
}

// failAll completes every pending entry with err, in call-issue order, and
// clears the table. Ids are monotonic so ascending id order is issue order.
func (c *correlator) failAll(err error) int {
	c.mu.Lock()
	calls := make([]*call, 0, len(c.pending))
	for _, cl := range c.pending {
		calls = append(calls, cl)
	}
	c.pending = make(map[uint64]*call)
	c.mu.Unlock()
	sort.Slice(calls, func(i, j int) bool { return calls[i].id < calls[j].id })
	for _, cl := range calls {
		cl.done <- outcome{err: err}
	}
	return len(calls)
}

func (c *correlator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
