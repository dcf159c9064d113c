package ledger

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"treasury-engine/internal/domain"
)

const (
	auditSegmentLimit = 1000
	auditMaxSegments  = 100

	auditKeyPrefix = "audit_"
)

// AuditLog persists audit entries in an append-only WAL. Entries are never
// rewritten or deleted; segment rotation is handled by the WAL itself.
type AuditLog struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewAuditLog initializes a WAL-backed audit log in dir.
func NewAuditLog(dir string) (*AuditLog, error) {
	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "audit_",
		SegmentThreshold: auditSegmentLimit,
		MaxSegments:      auditMaxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init audit WAL")
	}

	return &AuditLog{wal: wal}, nil
}

// Append writes one audit entry. The timestamp is set here if the caller
// left it zero.
func (a *AuditLog) Append(entry domain.AuditEntry) error {
	if a == nil || a.wal == nil {
		return errors.New("audit log is not initialized")
	}
	if entry.Action == "" {
		return errors.New("audit entry action is required")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "marshal audit entry")
	}

	key := fmt.Sprintf("%s%s", auditKeyPrefix, entry.Action)

	a.mu.Lock()
	defer a.mu.Unlock()

	nextIndex := a.wal.CurrentIndex() + 1
	return a.wal.Write(nextIndex, key, payload)
}

// EntriesAfter returns all audit entries written after the provided index.
func (a *AuditLog) EntriesAfter(index uint64) ([]domain.AuditEntry, error) {
	if a == nil || a.wal == nil {
		return nil, errors.New("audit log is not initialized")
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	current := a.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	entries := make([]domain.AuditEntry, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		_, payload, err := a.wal.Get(idx)
		if err != nil {
			continue
		}

		var entry domain.AuditEntry
		if err := json.Unmarshal(payload, &entry); err != nil {
			return nil, errors.Wrap(err, "decode audit entry")
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// CurrentIndex returns the latest audit index stored.
func (a *AuditLog) CurrentIndex() uint64 {
	if a == nil || a.wal == nil {
		return 0
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (a *AuditLog) Close() error {
	if a == nil || a.wal == nil {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	return a.wal.Close()
}
