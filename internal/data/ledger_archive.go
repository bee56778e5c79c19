package data

import (
	"context"
	"time"

	"SoakGate/internal/model"
	pkgerrors "SoakGate/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// LedgerRecord is the GORM model for the ledger_entries archive table.
// The archive is a durable mirror of the in-memory hash chain; the unique
// index on seq makes replayed writes after a reconnect harmless.
type LedgerRecord struct {
	ID            int64     `gorm:"primaryKey;column:id"`
	Seq           int64     `gorm:"column:seq;uniqueIndex;not null"`
	EventType     string    `gorm:"column:event_type;type:varchar(50);not null;index"`
	Payload       string    `gorm:"column:payload;type:json"`
	StateSnapshot string    `gorm:"column:state_snapshot;type:varchar(100)"`
	PrevHash      string    `gorm:"column:prev_hash;type:char(64);not null"`
	Hash          string    `gorm:"column:hash;type:char(64);not null"`
	RecordedAt    time.Time `gorm:"column:recorded_at;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (LedgerRecord) TableName() string {
	return "ledger_entries"
}

// LedgerArchive mirrors evidence ledger entries to MySQL through a buffered
// channel so that chain appends never wait on the database. Entries are
// dropped with a warning when the channel is full or the database is down;
// the in-memory chain stays authoritative.
type LedgerArchive struct {
	db      *gorm.DB
	entries chan *model.LedgerEntry
	logger  *log.Helper
}

// NewLedgerArchive creates the archive and starts its background writer.
// With a nil database the archive is a logging no-op.
func NewLedgerArchive(d *Data, logger log.Logger) *LedgerArchive {
	a := &LedgerArchive{
		db:      d.db,
		entries: make(chan *model.LedgerEntry, 1000),
		logger:  log.NewHelper(logger),
	}

	if a.db != nil {
		go a.start()
	}

	return a
}

// start processes archive writes from the channel.
func (a *LedgerArchive) start() {
	for entry := range a.entries {
		record := &LedgerRecord{
			Seq:           entry.Seq,
			EventType:     entry.EventType,
			Payload:       string(entry.Payload),
			StateSnapshot: entry.StateSnapshot,
			PrevHash:      entry.PrevHash,
			Hash:          entry.Hash,
			RecordedAt:    entry.Timestamp,
		}

		if err := a.db.WithContext(context.Background()).Create(record).Error; err != nil {
			dbErr := pkgerrors.ClassifyDBError(err)
			if dbErr.Type == pkgerrors.ErrorTypeDuplicateKey {
				// Same seq already archived (e.g. replay after reconnect).
				a.logger.Debugw("ledger entry already archived", "seq", entry.Seq)
				continue
			}
			a.logger.Errorw("failed to archive ledger entry",
				"seq", entry.Seq,
				"event_type", entry.EventType,
				"error_type", dbErr.Type.String(),
				"error", err)
		}
	}
}

// Archive queues one entry for the background writer. Non-blocking: a full
// channel drops the mirror write, never stalls the chain.
func (a *LedgerArchive) Archive(_ context.Context, entry *model.LedgerEntry) {
	if a.db == nil {
		return
	}

	select {
	case a.entries <- entry:
	default:
		a.logger.Warnw("ledger archive channel full, dropping mirror write",
			"seq", entry.Seq,
			"event_type", entry.EventType)
	}
}
