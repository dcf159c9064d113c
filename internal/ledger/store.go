package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"treasury-engine/internal/domain"
)

const (
	positionsFile   = "positions.json"
	historyFile     = "history.json"
	dailyVolumeFile = "daily_volume.json"

	// migratedSuffix marks legacy state files already folded into the
	// canonical store so a second Load skips them.
	migratedSuffix = ".migrated"
)

// Store persists ledger state as JSON snapshot files so restarts keep open
// positions and trade history. Writes are atomic via temp file rename.
type Store struct {
	dir             string
	legacyPositions []string
	legacyHistory   []string
}

// StoreOption configures optional store behavior.
type StoreOption func(*Store)

// WithLegacyPositions registers an old-format positions file to migrate.
func WithLegacyPositions(path string) StoreOption {
	return func(s *Store) { s.legacyPositions = append(s.legacyPositions, path) }
}

// WithLegacyHistory registers an old-format trade history file to migrate.
func WithLegacyHistory(path string) StoreOption {
	return func(s *Store) { s.legacyHistory = append(s.legacyHistory, path) }
}

// NewStore creates a ledger store rooted at dir. Registered legacy files are
// merged into the canonical store exactly once on Load, then renamed with a
// .migrated suffix.
func NewStore(dir string, opts ...StoreOption) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create ledger state dir")
	}
	s := &Store{dir: dir}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// dailyVolume is the persisted per-UTC-day trading volume record.
type dailyVolume struct {
	Date      string          `json:"date"`
	VolumeUSD decimal.Decimal `json:"volume_usd"`
}

// LoadPositions reads the active position snapshot, folding in any legacy
// files not yet migrated. Only OPEN records survive; reservations are never
// persisted and terminal records belong to history.
func (s *Store) LoadPositions() (map[string]*domain.Position, error) {
	merged := make(map[string]*domain.Position)

	canonical, err := readPositionMap(filepath.Join(s.dir, positionsFile))
	if err != nil {
		return nil, err
	}
	for id, p := range canonical {
		merged[id] = p
	}

	var migrated []string
	for _, legacy := range s.legacyPositions {
		records, err := readPositionMap(legacy)
		if err != nil {
			return nil, err
		}
		if records == nil {
			continue
		}
		for id, p := range records {
			if _, exists := merged[id]; !exists {
				merged[id] = p
			}
		}
		migrated = append(migrated, legacy)
	}

	for id, p := range merged {
		if p.Status != domain.StatusOpen {
			delete(merged, id)
		}
	}

	// the merge must be durable in the canonical file before the legacy
	// file is renamed away, or a crash in between strands the records
	if len(migrated) > 0 {
		if err := s.SavePositions(merged); err != nil {
			return nil, err
		}
		for _, legacy := range migrated {
			if err := os.Rename(legacy, legacy+migratedSuffix); err != nil {
				return nil, errors.Wrap(domain.ErrPersistence, "marking legacy positions migrated")
			}
		}
	}
	return merged, nil
}

func readPositionMap(path string) (map[string]*domain.Position, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(domain.ErrPersistence, "read positions")
	}
	if len(payload) == 0 {
		return nil, nil
	}

	var positions map[string]*domain.Position
	if err := json.Unmarshal(payload, &positions); err != nil {
		return nil, errors.Wrap(domain.ErrPersistence, "decode positions")
	}
	return positions, nil
}

// SavePositions writes the active position snapshot atomically.
func (s *Store) SavePositions(positions map[string]*domain.Position) error {
	return s.writeJSON(positionsFile, positions)
}

// LoadHistory reads the closed-trade history, oldest first, folding in any
// legacy history files not yet migrated.
func (s *Store) LoadHistory() ([]*domain.Position, error) {
	history, err := readHistorySlice(filepath.Join(s.dir, historyFile))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(history))
	for _, p := range history {
		seen[p.ID] = struct{}{}
	}

	var migrated []string
	for _, legacy := range s.legacyHistory {
		records, err := readHistorySlice(legacy)
		if err != nil {
			return nil, err
		}
		if records == nil {
			continue
		}
		for _, p := range records {
			if _, exists := seen[p.ID]; exists {
				continue
			}
			history = append(history, p)
			seen[p.ID] = struct{}{}
		}
		migrated = append(migrated, legacy)
	}

	if len(migrated) > 0 {
		if err := s.SaveHistory(history); err != nil {
			return nil, err
		}
		for _, legacy := range migrated {
			if err := os.Rename(legacy, legacy+migratedSuffix); err != nil {
				return nil, errors.Wrap(domain.ErrPersistence, "marking legacy history migrated")
			}
		}
	}

	return history, nil
}

func readHistorySlice(path string) ([]*domain.Position, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(domain.ErrPersistence, "read history")
	}
	if len(payload) == 0 {
		return nil, nil
	}

	var history []*domain.Position
	if err := json.Unmarshal(payload, &history); err != nil {
		return nil, errors.Wrap(domain.ErrPersistence, "decode history")
	}
	return history, nil
}

// SaveHistory writes the closed-trade history atomically.
func (s *Store) SaveHistory(history []*domain.Position) error {
	return s.writeJSON(historyFile, history)
}

// LoadDailyVolume returns the recorded volume for the given UTC day.
// A record from a previous day counts as zero.
func (s *Store) LoadDailyVolume(day time.Time) (decimal.Decimal, error) {
	payload, err := os.ReadFile(filepath.Join(s.dir, dailyVolumeFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return decimal.Zero, nil
		}
		return decimal.Zero, errors.Wrap(domain.ErrPersistence, "read daily volume")
	}

	var record dailyVolume
	if err := json.Unmarshal(payload, &record); err != nil {
		return decimal.Zero, errors.Wrap(domain.ErrPersistence, "decode daily volume")
	}

	if record.Date != day.UTC().Format("2006-01-02") {
		return decimal.Zero, nil
	}
	return record.VolumeUSD, nil
}

// SaveDailyVolume replaces the daily volume record for the given UTC day.
func (s *Store) SaveDailyVolume(day time.Time, volume decimal.Decimal) error {
	return s.writeJSON(dailyVolumeFile, dailyVolume{
		Date:      day.UTC().Format("2006-01-02"),
		VolumeUSD: volume,
	})
}

func (s *Store) writeJSON(name string, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(domain.ErrPersistence, "encode "+name)
	}

	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(domain.ErrPersistence, "write "+name)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(domain.ErrPersistence, "persist "+name)
	}
	return nil
}
