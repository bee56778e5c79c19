package biz

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"SoakGate/internal/conf"
	"SoakGate/internal/model"

	lru "github.com/hashicorp/golang-lru/v2"
)

// BacklogQueue stores deferred downstream calls keyed by idempotency key,
// with retry scheduling and promotion to the dead-letter set after the
// attempt budget is exhausted.
//
// Invariants:
//   - at most one non-dead-letter entry per key exists at any time;
//     a duplicate enqueue is a silent no-op, not an error
//   - entries are MOVED to the dead-letter set, never copied
//   - only the CircuitBreaker and the BacklogDrainer mutate the queue;
//     everything else takes read-only snapshots
type BacklogQueue struct {
	mu          sync.Mutex
	pending     map[string]*model.BacklogEntry
	deadLetters []model.BacklogEntry
	nextID      int64

	// completed remembers recently succeeded keys so operators can tell
	// "already done" apart from "never seen" when investigating duplicates.
	completed *lru.Cache[string, time.Time]

	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
	clock       func() time.Time
}

// NewBacklogQueue creates an empty queue from configuration.
func NewBacklogQueue(c *conf.Resilience_Backlog) *BacklogQueue {
	cacheSize := c.CompletedKeyCache
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	// lru.New only errors on non-positive size, which is handled above.
	completed, _ := lru.New[string, time.Time](cacheSize)

	return &BacklogQueue{
		pending:     make(map[string]*model.BacklogEntry),
		completed:   completed,
		maxAttempts: c.MaxAttempts,
		backoffBase: c.BackoffBase.AsDuration(),
		backoffCap:  c.BackoffCap.AsDuration(),
		clock:       time.Now,
	}
}

// backoff returns a full-jitter delay: uniform over [0, min(base*2^n, cap)].
// Jittering the whole range rather than capping-then-jittering avoids
// synchronized retry storms across entries.
func (q *BacklogQueue) backoff(attempt int) time.Duration {
	ceiling := float64(q.backoffBase) * math.Pow(2, float64(attempt))
	if capped := float64(q.backoffCap); ceiling > capped {
		ceiling = capped
	}
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(ceiling)))
}

// Enqueue creates a pending entry for the key unless one already exists.
// It reports whether a new entry was created.
func (q *BacklogQueue) Enqueue(key string, payload []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.pending[key]; exists {
		return false
	}

	now := q.clock()
	q.nextID++
	q.pending[key] = &model.BacklogEntry{
		ID:          q.nextID,
		Key:         key,
		Payload:     payload,
		FirstSeenAt: now,
		NextRetryAt: now.Add(q.backoff(0)),
		Attempts:    0,
		Status:      model.BacklogPending,
	}
	return true
}

// Ready returns copies of up to max pending entries whose retry time has
// arrived, oldest ready first. There is no stronger global FIFO guarantee
// across keys.
func (q *BacklogQueue) Ready(max int) []model.BacklogEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock()
	ready := make([]model.BacklogEntry, 0, max)
	for _, e := range q.pending {
		if !e.NextRetryAt.After(now) {
			ready = append(ready, *e)
		}
	}
	// Oldest ready first.
	for i := 1; i < len(ready); i++ {
		for j := i; j > 0 && ready[j].NextRetryAt.Before(ready[j-1].NextRetryAt); j-- {
			ready[j], ready[j-1] = ready[j-1], ready[j]
		}
	}
	if len(ready) > max {
		ready = ready[:max]
	}
	return ready
}

// RecordSuccess removes the entry for key and remembers it as completed.
func (q *BacklogQueue) RecordSuccess(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.pending[key]; !exists {
		return
	}
	delete(q.pending, key)
	q.completed.Add(key, q.clock())
}

// RecordFailure increments the entry's attempt count and reschedules it.
// Once attempts reach the maximum the entry is moved to the dead-letter set
// and the dead-lettered entry is returned; otherwise nil.
func (q *BacklogQueue) RecordFailure(key string) *model.BacklogEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, exists := q.pending[key]
	if !exists {
		return nil
	}

	e.Attempts++
	if e.Attempts >= q.maxAttempts {
		delete(q.pending, key)
		e.Status = model.BacklogDeadLetter
		q.deadLetters = append(q.deadLetters, *e)
		dl := *e
		return &dl
	}

	e.NextRetryAt = q.clock().Add(q.backoff(e.Attempts))
	return nil
}

// IsPending reports whether a non-dead-letter entry exists for the key.
func (q *BacklogQueue) IsPending(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, exists := q.pending[key]
	return exists
}

// RecentlyCompleted reports whether the key succeeded recently enough to
// still be in the completion cache.
func (q *BacklogQueue) RecentlyCompleted(key string) (time.Time, bool) {
	return q.completed.Get(key)
}

// Depth reports the number of pending entries.
func (q *BacklogQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// DLQDepth reports the number of dead-lettered entries.
func (q *BacklogQueue) DLQDepth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.deadLetters)
}

// Pending returns a read-only snapshot of the pending entries.
func (q *BacklogQueue) Pending() []model.BacklogEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]model.BacklogEntry, 0, len(q.pending))
	for _, e := range q.pending {
		out = append(out, *e)
	}
	return out
}

// DeadLetters returns a read-only snapshot of the dead-letter set.
func (q *BacklogQueue) DeadLetters() []model.BacklogEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]model.BacklogEntry, len(q.deadLetters))
	copy(out, q.deadLetters)
	return out
}
