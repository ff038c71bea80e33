package usecase

import (
	"container/list"
	"sync"
	"time"

	"github.com/V4T54L/killwatch/internal/domain"
)

// Ledger remembers which events have been delivered and by which provider.
// Entries are kept in commit order and evicted lazily once they fall outside the window.
type Ledger struct {
	mu      sync.Mutex
	window  time.Duration
	now     func() time.Time
	order   *list.List // oldest commit at front
	entries map[string]*list.Element
}

// NewLedger creates a ledger. A non-positive window disables eviction.
func NewLedger(window time.Duration, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		window:  window,
		now:     now,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// CommitOnce records eventID and runs deliver, both under the ledger lock, unless the
// event is already recorded. It returns the entry that owns the event id and whether
// this call created it.
func (l *Ledger) CommitOnce(eventID string, provider domain.Provider, deliver func()) (domain.LedgerEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evictLocked(now)

	if el, ok := l.entries[eventID]; ok {
		return el.Value.(domain.LedgerEntry), false
	}

	entry := domain.LedgerEntry{EventID: eventID, Provider: provider, CommittedAt: now}
	l.entries[eventID] = l.order.PushBack(entry)
	if deliver != nil {
		deliver()
	}
	return entry, true
}

// Seen reports whether eventID is currently recorded.
func (l *Ledger) Seen(eventID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[eventID]
	return ok
}

// Len returns the number of recorded events.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Restore loads previously journaled entries, skipping those already outside the window.
// Entries must be given in commit order.
func (l *Ledger) Restore(entries []domain.LedgerEntry) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	restored := 0
	for _, e := range entries {
		if l.expired(e, now) {
			continue
		}
		if _, ok := l.entries[e.EventID]; ok {
			continue
		}
		l.entries[e.EventID] = l.order.PushBack(e)
		restored++
	}
	return restored
}

// Snapshot returns the live entries in commit order.
func (l *Ledger) Snapshot() []domain.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.evictLocked(l.now())
	out := make([]domain.LedgerEntry, 0, l.order.Len())
	for el := l.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(domain.LedgerEntry))
	}
	return out
}

func (l *Ledger) expired(e domain.LedgerEntry, now time.Time) bool {
	return l.window > 0 && now.Sub(e.CommittedAt) > l.window
}

func (l *Ledger) evictLocked(now time.Time) {
	for {
		front := l.order.Front()
		if front == nil {
			return
		}
		e := front.Value.(domain.LedgerEntry)
		if !l.expired(e, now) {
			return
		}
		l.order.Remove(front)
		delete(l.entries, e.EventID)
	}
}
