package catalog

import "sync"

// DefaultHistory is the number of broadcast results kept when no
// capacity is configured.
const DefaultHistory = 64

// ReconciliationLog keeps the most recent broadcast results so operators
// can see which peers missed an operation.
type ReconciliationLog struct {
	entries []BroadcastResult
	next    int
	full    bool
	mu      sync.Mutex
}

// NewReconciliationLog returns a log holding at most capacity results.
func NewReconciliationLog(capacity int) *ReconciliationLog {
	if capacity <= 0 {
		capacity = DefaultHistory
	}
	return &ReconciliationLog{entries: make([]BroadcastResult, capacity)}
}

// Append records r, evicting the oldest result when full.
func (l *ReconciliationLog) Append(r BroadcastResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.next] = r
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
}

// Entries returns the stored results, oldest first.
func (l *ReconciliationLog) Entries() []BroadcastResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.full {
		return append(make([]BroadcastResult, 0, l.next), l.entries[:l.next]...)
	}
	out := make([]BroadcastResult, 0, len(l.entries))
	out = append(out, l.entries[l.next:]...)
	return append(out, l.entries[:l.next]...)
}
