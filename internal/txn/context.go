// Package txn implements the transactional execution engine: nested-safe
// scoped execution with a six-phase hook lifecycle, timeout, retry, and
// transactional event deferral.
package txn

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// Event is the minimal envelope TransactionContext queues on behalf of
// internal/events.TxAwareBus; the concrete domain event shape lives in
// internal/events so this package has no dependency on it.
type Event any

// Phase names one of the lifecycle points a Hook can register for. The
// driver calls themselves (begin, commit, rollback) sit between phases
// and never dispatch hooks directly.
type Phase string

const (
	PhaseBeforeBegin            Phase = "BEFORE_BEGIN"
	PhaseAfterBegin             Phase = "AFTER_BEGIN"
	PhaseBeforeCommitValidation Phase = "BEFORE_COMMIT_VALIDATION"
	PhaseBeforeCommit           Phase = "BEFORE_COMMIT"
	PhaseAfterCommit            Phase = "AFTER_COMMIT"
	PhaseOnRollback             Phase = "ON_ROLLBACK"
	PhaseAfterRollback          Phase = "AFTER_ROLLBACK"
)

// ReleaseFunc releases a driver resource acquired during the
// transaction. committed reports which exit path the transaction took.
type ReleaseFunc func(committed bool) error

// debugOwnership enables the single-worker ownership assertion on
// Context. Handing a context to another worker is undefined; with
// KATALYST_TXN_DEBUG set, doing so panics instead of corrupting state
// silently.
var debugOwnership = os.Getenv("KATALYST_TXN_DEBUG") == "1"

// Context is per-transaction scratch state, created on outermost entry
// and destroyed on its exit. It is not
// safe for concurrent use: it belongs to exactly one worker for its
// entire lifetime.
type Context struct {
	id    string
	owner uint64
	mu    sync.Mutex
	depth int

	pending      []Event
	releases     []ReleaseFunc
	rollbackOnly bool
	err          error
	metadata     map[string]any
}

// NewContext mints a fresh outermost context. Transaction ids are
// 128-bit random identifiers via google/uuid.
func NewContext() *Context {
	c := &Context{
		id:       uuid.NewString(),
		metadata: make(map[string]any),
	}
	if debugOwnership {
		c.owner = goroutineID()
	}
	return c
}

// goroutineID parses the current goroutine's id out of its stack
// header. Only used under the KATALYST_TXN_DEBUG ownership assertion.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, _ := strconv.ParseUint(string(fields[1]), 10, 64)
	return id
}

func (c *Context) assertOwner() {
	if !debugOwnership || c.owner == 0 {
		return
	}
	if got := goroutineID(); got != c.owner {
		panic(fmt.Sprintf("txn: context %s owned by goroutine %d used from goroutine %d", c.id, c.owner, got))
	}
}

// ID returns the transaction id, stable for the context's lifetime.
func (c *Context) ID() string { return c.id }

// enter increments nesting depth; called once per execute() call that
// participates in this context (outermost call included, starting at 0).
func (c *Context) enter() int {
	c.assertOwner()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.depth++
	return c.depth
}

// exit decrements nesting depth and reports the depth after decrement.
func (c *Context) exit() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.depth--
	return c.depth
}

// Depth reports the current nesting depth (1 at the outermost level).
func (c *Context) Depth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.depth
}

// Queue appends event to the pending FIFO. Safe to call from any depth;
// events queued at any depth belong to the outer context.
func (c *Context) Queue(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, event)
}

// PendingCount reports the number of events currently queued.
func (c *Context) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// DrainPending returns the queued events in FIFO order and empties the
// queue. Used by the built-in priority-100 BEFORE_COMMIT publishing hook.
func (c *Context) DrainPending() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pending
	c.pending = nil
	return out
}

// ClearPending discards all queued events without dispatching them
// (called on rollback).
func (c *Context) ClearPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = nil
}

// OnRelease registers a release action for a driver resource acquired
// during the transaction. Release actions run after the exit phases
// (AFTER_COMMIT or AFTER_ROLLBACK) in reverse acquisition order,
// regardless of which path the transaction took.
func (c *Context) OnRelease(release ReleaseFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releases = append(c.releases, release)
}

// drainReleases returns the registered release actions in reverse
// acquisition order and clears them, so a retried scope starts clean.
func (c *Context) drainReleases() []ReleaseFunc {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ReleaseFunc, 0, len(c.releases))
	for i := len(c.releases) - 1; i >= 0; i-- {
		out = append(out, c.releases[i])
	}
	c.releases = nil
	return out
}

// MarkRollbackOnly flags the context so that the eventual outer commit
// becomes a rollback.
func (c *Context) MarkRollbackOnly(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollbackOnly = true
	if c.err == nil {
		c.err = cause
	}
}

// IsRollbackOnly reports whether any participant has marked the context
// rollback-only.
func (c *Context) IsRollbackOnly() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rollbackOnly
}

// Err returns the first error recorded against this context, if any.
func (c *Context) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Metadata returns the phase-local value stored under key, if any.
func (c *Context) Metadata(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.metadata[key]
	return v, ok
}

// SetMetadata stores a phase-local value under key.
func (c *Context) SetMetadata(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata[key] = value
}

func (c *Context) String() string {
	return fmt.Sprintf("txn(%s depth=%d)", c.id, c.Depth())
}
