package model

import "time"

// LedgerEntry is one record of the append-only evidence chain. Each entry
// commits to its payload and the previous entry's hash, so reordering or
// mutating any stored entry breaks verification of the whole chain.
type LedgerEntry struct {
	Seq           int64     `json:"seq"`
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	Payload       []byte    `json:"payload"`
	StateSnapshot string    `json:"state_snapshot"`
	PrevHash      string    `json:"previous_hash"`
	Hash          string    `json:"evidence_hash"`
}
