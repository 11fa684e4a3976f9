package stats

import (
	"fmt"
	"sync"
	"time"
)

const DefaultLogCapacity = 1000

// Entry is one generation event. Error is set for failed forwards.
type Entry struct {
	Seq       uint64    `json:"seq"`
	Number    int64     `json:"number"`
	Server    string    `json:"server"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (e Entry) Failed() bool {
	return e.Error != ""
}

func (e Entry) String() string {
	if e.Failed() {
		return fmt.Sprintf("%d. [ERROR] %s %s", e.Seq, e.Server, e.Error)
	}
	return fmt.Sprintf("%d. %d <- %s", e.Seq, e.Number, e.Server)
}

type Snapshot struct {
	Counters      map[string]int64 `json:"counters"`
	TotalRequests int64            `json:"total_requests"`
	Log           []Entry          `json:"generation_log"`
	Uptime        time.Duration    `json:"uptime"`
}

type Aggregator struct {
	mutex    sync.RWMutex
	counters map[string]int64
	ring     []Entry
	head     int
	size     int
	nextSeq  uint64
	start    time.Time
}

func NewAggregator(capacity int) *Aggregator {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &Aggregator{
		counters: make(map[string]int64),
		ring:     make([]Entry, capacity),
		start:    time.Now(),
	}
}

// RecordSuccess counts a forwarded request and logs its value in one step.
func (a *Aggregator) RecordSuccess(server string, number int64, ts time.Time) Entry {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.counters[server]++
	return a.appendLocked(Entry{Number: number, Server: server, Timestamp: ts})
}

// RecordFailure logs a failed forward. Counters only track successes.
func (a *Aggregator) RecordFailure(server, reason string, ts time.Time) Entry {
	if reason == "" {
		reason = "offline"
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.appendLocked(Entry{Server: server, Error: reason, Timestamp: ts})
}

func (a *Aggregator) appendLocked(e Entry) Entry {
	a.nextSeq++
	e.Seq = a.nextSeq

	capacity := len(a.ring)
	if a.size < capacity {
		a.ring[(a.head+a.size)%capacity] = e
		a.size++
		return e
	}

	// full: overwrite the oldest entry
	a.ring[a.head] = e
	a.head = (a.head + 1) % capacity
	return e
}

func (a *Aggregator) Count(server string) int64 {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.counters[server]
}

// Snapshot copies counters and the most recent limit log entries, oldest first.
// A limit <= 0 returns the whole log.
func (a *Aggregator) Snapshot(limit int) Snapshot {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	snap := Snapshot{
		Counters: make(map[string]int64, len(a.counters)),
		Uptime:   time.Since(a.start),
	}
	for server, count := range a.counters {
		snap.Counters[server] = count
		snap.TotalRequests += count
	}

	n := a.size
	if limit > 0 && limit < n {
		n = limit
	}
	snap.Log = make([]Entry, 0, n)
	capacity := len(a.ring)
	for i := a.size - n; i < a.size; i++ {
		snap.Log = append(snap.Log, a.ring[(a.head+i)%capacity])
	}

	return snap
}

// ClearLog empties the log. Counters and sequence numbers are kept.
func (a *Aggregator) ClearLog() {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	clear(a.ring)
	a.head = 0
	a.size = 0
}

// ResetCounters zeroes every counter. The log is kept.
func (a *Aggregator) ResetCounters() {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.counters = make(map[string]int64)
}
