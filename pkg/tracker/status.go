package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oabridge/oabridge/pkg/logger"
)

const (
	sweepInterval = 60 * time.Second
	// completed entries stay around long enough to absorb late webhook
	// retries, then get swept
	completedRetention = 10 * time.Minute
	// entries that never complete (orphaned continue messages, crashed
	// workers) are evicted after this age so the map cannot grow unbounded
	staleRetention = time.Hour
)

// Status is a point-in-time snapshot of a tracked message.
type Status struct {
	MessageID  string
	FromUser   string
	Content    string
	CreateTime int64

	// RetryCount is how many times WeChat has redelivered this message:
	// 0 on first delivery, then 1 and 2.
	RetryCount int

	Completed      bool
	Result         string
	Err            string
	ResultReturned bool
	SkipCustom     bool
	StartTime      time.Time
}

type entry struct {
	mu sync.Mutex
	st Status

	done      chan struct{}
	retryDone chan struct{}

	doneOnce      sync.Once
	retryDoneOnce sync.Once
}

func (e *entry) snapshot() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st
}

// StatusTracker deduplicates WeChat webhook redeliveries and carries AI
// results from the background worker to whichever delivery attempt is
// still connected. Entries are keyed by the message tracking id.
type StatusTracker struct {
	mu      sync.Mutex
	entries map[string]*entry
	stop    chan struct{}
	once    sync.Once
}

func NewStatusTracker() *StatusTracker {
	t := &StatusTracker{
		entries: make(map[string]*entry),
		stop:    make(chan struct{}),
	}
	go t.sweepLoop()
	return t
}

// Close stops the background sweeper.
func (t *StatusTracker) Close() {
	t.once.Do(func() { close(t.stop) })
}

// Track registers a delivery attempt. The first call for an id creates the
// entry with RetryCount 0; each later call is a WeChat redelivery and
// increments the count. The returned snapshot reflects the state after
// this call.
func (t *StatusTracker) Track(id, fromUser, content string, createTime int64) Status {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		e = &entry{
			st: Status{
				MessageID:  id,
				FromUser:   fromUser,
				Content:    content,
				CreateTime: createTime,
				StartTime:  time.Now(),
			},
			done:      make(chan struct{}),
			retryDone: make(chan struct{}),
		}
		t.entries[id] = e
		t.mu.Unlock()
		return e.snapshot()
	}
	t.mu.Unlock()

	e.mu.Lock()
	e.st.RetryCount++
	st := e.st
	e.mu.Unlock()

	logger.DebugCF("tracker", "Message redelivered", map[string]any{
		"message_id":  id,
		"retry_count": st.RetryCount,
	})
	return st
}

// Get returns the snapshot for id, if tracked.
func (t *StatusTracker) Get(id string) (Status, bool) {
	t.mu.Lock()
	e, ok := t.entries[id]
	t.mu.Unlock()
	if !ok {
		return Status{}, false
	}
	return e.snapshot(), true
}

// SetResult records the AI outcome and completes the entry, releasing every
// waiter. Later calls update the result text but the completion event only
// fires once.
func (t *StatusTracker) SetResult(id, result, errMsg string) {
	t.mu.Lock()
	e, ok := t.entries[id]
	t.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	e.st.Result = result
	e.st.Err = errMsg
	e.st.Completed = true
	e.mu.Unlock()

	e.doneOnce.Do(func() { close(e.done) })
}

// MarkResultReturned claims delivery of the result. Exactly one caller per
// message wins; everyone else must stay silent so the user sees the answer
// once.
func (t *StatusTracker) MarkResultReturned(id string) bool {
	t.mu.Lock()
	e, ok := t.entries[id]
	t.mu.Unlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st.ResultReturned {
		return false
	}
	e.st.ResultReturned = true
	return true
}

// SetSkipCustom tells the async pusher that a synchronous reply already
// carried the result.
func (t *StatusTracker) SetSkipCustom(id string) {
	t.mu.Lock()
	e, ok := t.entries[id]
	t.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.st.SkipCustom = true
	e.mu.Unlock()
}

// WaitCompletion blocks until the entry completes, the timeout elapses, or
// ctx is cancelled. Returns true only on completion.
func (t *StatusTracker) WaitCompletion(ctx context.Context, id string, timeout time.Duration) bool {
	t.mu.Lock()
	e, ok := t.entries[id]
	t.mu.Unlock()
	if !ok {
		return false
	}
	return waitChan(ctx, e.done, timeout)
}

// SignalRetryDone wakes the async pusher: the final retry attempt has
// resolved one way or the other.
func (t *StatusTracker) SignalRetryDone(id string) {
	t.mu.Lock()
	e, ok := t.entries[id]
	t.mu.Unlock()
	if !ok {
		return
	}
	e.retryDoneOnce.Do(func() { close(e.retryDone) })
}

// WaitRetryDone blocks until SignalRetryDone fires for id, with a timeout.
func (t *StatusTracker) WaitRetryDone(ctx context.Context, id string, timeout time.Duration) bool {
	t.mu.Lock()
	e, ok := t.entries[id]
	t.mu.Unlock()
	if !ok {
		return false
	}
	return waitChan(ctx, e.retryDone, timeout)
}

func waitChan(ctx context.Context, ch <-chan struct{}, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (t *StatusTracker) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			safeSweep("tracker", func() { t.sweep(time.Now()) })
		case <-t.stop:
			return
		}
	}
}

// safeSweep keeps a sweep loop alive when one pass panics.
func safeSweep(component string, sweep func()) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.ErrorCF(component, "Sweep panicked", map[string]any{
				"panic": fmt.Sprintf("%v", rec),
			})
		}
	}()
	sweep()
}

func (t *StatusTracker) sweep(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, e := range t.entries {
		st := e.snapshot()
		age := now.Sub(st.StartTime)
		if (st.Completed && age > completedRetention) || (!st.Completed && age > staleRetention) {
			delete(t.entries, id)
			removed++
		}
	}
	if removed > 0 {
		logger.DebugCF("tracker", "Swept completed messages", map[string]any{
			"removed":   removed,
			"remaining": len(t.entries),
		})
	}
}
