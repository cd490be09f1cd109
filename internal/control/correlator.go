package control

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Correlator matches responses arriving on a channel to the callers waiting
// for them. Each outbound request gets an id and a parked Waiter; the waiter
// resolves exactly once, via a matching response, a timeout, caller
// cancellation, or the death of the channel it was issued against.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
}

type pendingRequest struct {
	id        string
	group     string
	owner     *Channel // who is waiting; nil for in-process callers
	target    *Channel // whose response resolves it; nil for group fan-outs
	waiter    *Waiter
	createdAt time.Time
}

// Result is what a waiter eventually yields.
type Result struct {
	Payload json.RawMessage
	Err     error
}

// Waiter is the caller-facing half of a pending request.
type Waiter struct {
	id          string
	c           *Correlator
	resultCh    chan Result
	resolutions atomic.Int32
}

// ID returns the request id the waiter is parked under.
func (w *Waiter) ID() string {
	return w.id
}

// Resolutions reports how many times a result was actually delivered.
// It can never exceed 1; tests assert on it.
func (w *Waiter) Resolutions() int {
	return int(w.resolutions.Load())
}

// Await blocks until the waiter resolves or the timeout elapses. On timeout
// the pending entry is removed first, so a late response finds nothing to
// resolve and is dropped silently.
func (w *Waiter) Await(ctx context.Context, timeout time.Duration) (json.RawMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-w.resultCh:
		return res.Payload, res.Err
	case <-timer.C:
		if w.c.remove(w.id) {
			return nil, ErrTimeout
		}
		// Resolution won the race; the result is already in flight.
		res := <-w.resultCh
		return res.Payload, res.Err
	case <-ctx.Done():
		if w.c.remove(w.id) {
			return nil, ctx.Err()
		}
		res := <-w.resultCh
		return res.Payload, res.Err
	}
}

func NewCorrelator() *Correlator {
	return &Correlator{
		pending: make(map[string]*pendingRequest),
	}
}

// Issue allocates a fresh request id scoped to group and parks a waiter for
// it. target is the channel whose response is expected; its death fails the
// waiter. owner, if non-nil, is the channel awaiting the answer; its death
// cancels the waiter.
func (c *Correlator) Issue(group string, owner, target *Channel) (string, *Waiter) {
	id := uuid.New().String()
	w := c.Track(id, group, owner, target)
	return id, w
}

// Track parks a waiter under an externally chosen id (verification ids are
// minted by the caller). If the id is already outstanding in the group the
// previous waiter is failed as superseded.
func (c *Correlator) Track(id, group string, owner, target *Channel) *Waiter {
	w := &Waiter{
		id:       id,
		c:        c,
		resultCh: make(chan Result, 1),
	}

	c.mu.Lock()
	if prev, ok := c.pending[id]; ok {
		prev.waiter.deliver(Result{Err: ErrChannelClosed})
	}
	c.pending[id] = &pendingRequest{
		id:        id,
		group:     group,
		owner:     owner,
		target:    target,
		waiter:    w,
		createdAt: time.Now(),
	}
	c.mu.Unlock()

	return w
}

// Resolve delivers a result to the waiter parked under id and removes it.
// Unknown ids are not an error: the waiter may have timed out already, and
// late or duplicate responses are dropped by design.
func (c *Correlator) Resolve(id string, payload json.RawMessage) bool {
	return c.finish(id, Result{Payload: payload})
}

// Fail resolves the waiter with an error instead of a payload.
func (c *Correlator) Fail(id string, err error) bool {
	return c.finish(id, Result{Err: err})
}

func (c *Correlator) finish(id string, res Result) bool {
	c.mu.Lock()
	req, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		slog.Debug("Dropping response for unknown request", "request_id", id)
		return false
	}
	req.waiter.deliver(res)
	return true
}

// remove drops a pending entry without delivering anything. Returns true if
// the entry was still outstanding.
func (c *Correlator) remove(id string) bool {
	c.mu.Lock()
	_, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	return ok
}

// FailChannel force-resolves every request tied to a dying channel: requests
// targeting it fail with ErrChannelClosed so their callers return promptly,
// and requests owned by it are dropped since nobody is left to read the
// answer.
func (c *Correlator) FailChannel(ch *Channel) {
	c.mu.Lock()
	var failed []*pendingRequest
	for id, req := range c.pending {
		if req.target == ch || req.owner == ch {
			delete(c.pending, id)
			failed = append(failed, req)
		}
	}
	c.mu.Unlock()

	for _, req := range failed {
		req.waiter.deliver(Result{Err: ErrChannelClosed})
	}

	if len(failed) > 0 {
		slog.Info("Force-resolved pending requests for closed channel",
			"channel_id", ch.ID,
			"count", len(failed))
	}
}

// PendingCount reports how many requests are outstanding for a group.
func (c *Correlator) PendingCount(group string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, req := range c.pending {
		if req.group == group {
			n++
		}
	}
	return n
}

// deliver hands the result to the waiter. The buffered channel plus the
// locked removal in finish/remove guarantee at most one delivery.
func (w *Waiter) deliver(res Result) {
	select {
	case w.resultCh <- res:
		w.resolutions.Add(1)
	default:
	}
}
