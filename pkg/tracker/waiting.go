package tracker

import (
	"sync"
	"time"

	"github.com/oabridge/oabridge/pkg/logger"
)

const (
	// waitingTTL is how long a continue-waiting prompt stays answerable.
	waitingTTL          = 30 * time.Second
	waitingSweepPeriod  = 30 * time.Second
	waitingLogComponent = "waiting"
)

// WaitingInfo describes a user parked on a "reply 1 to keep waiting"
// prompt, pointing back at the message whose answer is still pending.
type WaitingInfo struct {
	MessageID     string
	Content       string
	StartTime     time.Time
	ContinueCount int
}

type waitingEntry struct {
	info     WaitingInfo
	expireAt time.Time
}

// WaitingManager tracks which users are in the continue-waiting state.
// Entries expire after waitingTTL; expiry is checked lazily on read and by
// a periodic sweep.
type WaitingManager struct {
	mu      sync.Mutex
	waiting map[string]*waitingEntry
	stop    chan struct{}
	once    sync.Once
}

func NewWaitingManager() *WaitingManager {
	m := &WaitingManager{
		waiting: make(map[string]*waitingEntry),
		stop:    make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

func (m *WaitingManager) Close() {
	m.once.Do(func() { close(m.stop) })
}

// SetWaiting puts user into the waiting state for messageID, replacing any
// previous state.
func (m *WaitingManager) SetWaiting(user, messageID, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.waiting[user] = &waitingEntry{
		info: WaitingInfo{
			MessageID: messageID,
			Content:   content,
			StartTime: time.Now(),
		},
		expireAt: time.Now().Add(waitingTTL),
	}
}

// IsWaiting reports whether user has a live waiting state, evicting it if
// expired.
func (m *WaitingManager) IsWaiting(user string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.waiting[user]
	if !ok {
		return false
	}
	if time.Now().After(e.expireAt) {
		delete(m.waiting, user)
		return false
	}
	return true
}

// Info returns the waiting state for user without mutating it.
func (m *WaitingManager) Info(user string) (WaitingInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.waiting[user]
	if !ok || time.Now().After(e.expireAt) {
		return WaitingInfo{}, false
	}
	return e.info, true
}

// HandleContinue consumes one continuation: it bumps the count and returns
// the updated state. The caller decides whether the budget is exhausted.
func (m *WaitingManager) HandleContinue(user string) (WaitingInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.waiting[user]
	if !ok || time.Now().After(e.expireAt) {
		delete(m.waiting, user)
		return WaitingInfo{}, false
	}

	e.info.ContinueCount++
	return e.info, true
}

// Extend restarts the waiting window after a granted continuation.
func (m *WaitingManager) Extend(user string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.waiting[user]; ok {
		e.info.StartTime = time.Now()
		e.expireAt = time.Now().Add(waitingTTL)
	}
}

// ClearWaiting removes the waiting state for user.
func (m *WaitingManager) ClearWaiting(user string) {
	m.mu.Lock()
	delete(m.waiting, user)
	m.mu.Unlock()
}

func (m *WaitingManager) sweepLoop() {
	ticker := time.NewTicker(waitingSweepPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			safeSweep(waitingLogComponent, func() { m.sweep(time.Now()) })
		case <-m.stop:
			return
		}
	}
}

func (m *WaitingManager) sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for user, e := range m.waiting {
		if now.After(e.expireAt) {
			delete(m.waiting, user)
			removed++
		}
	}
	if removed > 0 {
		logger.DebugCF(waitingLogComponent, "Expired waiting users", map[string]any{
			"removed": removed,
		})
	}
}
