package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"SoakGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// LedgerArchiver mirrors ledger entries to durable storage. Archiving is
// best-effort and must never block or fail the chain; the in-memory chain is
// the source of truth for a single process.
type LedgerArchiver interface {
	Archive(ctx context.Context, entry *model.LedgerEntry)
}

// EvidenceLedger is an append-only, hash-chained record of significant
// events. Appends are serialized through a single mutex so entries are
// totally ordered regardless of which component appended them.
type EvidenceLedger struct {
	mu       sync.Mutex
	entries  []model.LedgerEntry
	archiver LedgerArchiver
	clock    func() time.Time
	logger   *log.Helper
}

// NewEvidenceLedger creates an empty ledger. archiver may be nil when no
// durable mirror is configured.
func NewEvidenceLedger(archiver LedgerArchiver, logger log.Logger) *EvidenceLedger {
	return &EvidenceLedger{
		archiver: archiver,
		clock:    time.Now,
		logger:   log.NewHelper(logger),
	}
}

// chainHash commits an entry payload to the previous entry's hash.
func chainHash(payload []byte, prevHash string) string {
	h := sha256.New()
	h.Write(payload)
	h.Write([]byte(prevHash))
	return hex.EncodeToString(h.Sum(nil))
}

// Append serializes the event, chains it to the previous entry and returns
// the new evidence hash. stateSnapshot is a short free-form description of
// the system state at append time.
func (l *EvidenceLedger) Append(ctx context.Context, event model.Event, stateSnapshot string) (string, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to marshal ledger payload: %w", err)
	}

	l.mu.Lock()
	prevHash := ""
	if n := len(l.entries); n > 0 {
		prevHash = l.entries[n-1].Hash
	}
	entry := model.LedgerEntry{
		Seq:           int64(len(l.entries)),
		Timestamp:     l.clock(),
		EventType:     event.EventType().String(),
		Payload:       payload,
		StateSnapshot: stateSnapshot,
		PrevHash:      prevHash,
		Hash:          chainHash(payload, prevHash),
	}
	l.entries = append(l.entries, entry)
	l.mu.Unlock()

	l.logger.Debugw("ledger entry appended",
		"seq", entry.Seq,
		"event_type", entry.EventType,
		"hash", entry.Hash)

	if l.archiver != nil {
		l.archiver.Archive(ctx, &entry)
	}

	return entry.Hash, nil
}

// Verify walks the chain and reports whether every entry's hash commits to
// its payload and its predecessor. A false result is a ledger integrity
// violation: trust in recorded state is lost and automated rollout decisions
// must halt until resolved.
func (l *EvidenceLedger) Verify() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	prevHash := ""
	for i := range l.entries {
		e := &l.entries[i]
		if e.PrevHash != prevHash {
			l.logger.Errorw("ledger chain broken: previous hash mismatch", "seq", e.Seq)
			return false
		}
		if chainHash(e.Payload, e.PrevHash) != e.Hash {
			l.logger.Errorw("ledger chain broken: payload hash mismatch", "seq", e.Seq)
			return false
		}
		prevHash = e.Hash
	}
	return true
}

// Entries returns a copy of the chain for reporting.
func (l *EvidenceLedger) Entries() []model.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]model.LedgerEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len reports the chain length.
func (l *EvidenceLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
