// Package vault provides encrypted custody of ed25519 treasury keys.
//
// Private keys exist in plaintext only inside Sign/ImportWallet call frames
// and are wiped before return. The wallet registry on disk holds public
// metadata only; encrypted key blobs live in a separate keys directory.
package vault

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"treasury-engine/internal/domain"
)

const (
	registryFile = "registry.json"
	keysSubdir   = "keys"
)

// Auditor records wallet lifecycle events. The ledger audit log satisfies
// this.
type Auditor interface {
	Append(entry domain.AuditEntry) error
}

// Vault manages wallet keypairs encrypted at rest under a master secret.
type Vault struct {
	mu           sync.Mutex
	dir          string
	keysDir      string
	masterSecret string
	registry     map[string]*domain.WalletRecord
	auditor      Auditor
	logger       *zap.Logger
}

// Option tunes the vault.
type Option func(*Vault)

// WithAuditor records wallet lifecycle transitions in an audit log.
func WithAuditor(a Auditor) Option {
	return func(v *Vault) { v.auditor = a }
}

// New opens (or initializes) a vault rooted at dir. The master secret is
// required; without it no key can be derived.
func New(dir, masterSecret string, logger *zap.Logger, opts ...Option) (*Vault, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if masterSecret == "" {
		return nil, errors.Wrap(domain.ErrKeyDerivation, "master secret is not configured")
	}

	keysDir := filepath.Join(dir, keysSubdir)
	if err := os.MkdirAll(keysDir, 0o700); err != nil {
		return nil, errors.Wrap(err, "create vault directory")
	}

	v := &Vault{
		dir:          dir,
		keysDir:      keysDir,
		masterSecret: masterSecret,
		registry:     make(map[string]*domain.WalletRecord),
		logger:       logger,
	}
	for _, opt := range opts {
		opt(v)
	}

	if err := v.loadRegistry(); err != nil {
		return nil, err
	}

	logger.Info("vault opened", zap.String("dir", dir), zap.Int("wallets", len(v.registry)))
	return v, nil
}

// CreateWallet generates a fresh ed25519 keypair, encrypts the seed and
// registers the wallet. The address is the base58-encoded public key.
func (v *Vault) CreateWallet(label string, isTreasury bool) (*domain.WalletRecord, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(domain.ErrSecureKey, "generating keypair")
	}

	seed := priv.Seed()
	defer wipe(seed)

	return v.register(pub, seed, label, isTreasury, domain.AuditWalletCreated)
}

// ImportWallet registers a wallet from an existing 32-byte ed25519 seed.
// The caller's seed buffer is not retained.
func (v *Vault) ImportWallet(seed []byte, label string, isTreasury bool) (*domain.WalletRecord, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, errors.Wrapf(domain.ErrValidation, "seed must be %d bytes", ed25519.SeedSize)
	}

	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	defer wipe(priv)

	return v.register(pub, seed, label, isTreasury, domain.AuditWalletImported)
}

func (v *Vault) register(pub ed25519.PublicKey, seed []byte, label string, isTreasury bool, auditAction string) (*domain.WalletRecord, error) {
	address := base58.Encode(pub)

	v.mu.Lock()
	defer v.mu.Unlock()

	if _, exists := v.registry[address]; exists {
		return nil, errors.Wrapf(domain.ErrValidation, "wallet %s already registered", address)
	}
	if isTreasury {
		// at most one wallet carries the treasury flag
		for _, record := range v.registry {
			if record.IsTreasury {
				return nil, errors.Wrapf(domain.ErrValidation, "treasury wallet %s already registered", record.Address)
			}
		}
	}

	blob, err := sealKey(seed, v.masterSecret)
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(v.keyPath(address), blob, 0o600); err != nil {
		return nil, errors.Wrap(domain.ErrPersistence, "writing key blob")
	}

	record := &domain.WalletRecord{
		Address:    address,
		Label:      label,
		IsTreasury: isTreasury,
		CreatedAt:  time.Now().UTC(),
	}
	v.registry[address] = record

	if err := v.saveRegistry(); err != nil {
		delete(v.registry, address)
		_ = os.Remove(v.keyPath(address))
		return nil, err
	}

	v.logger.Info("wallet registered",
		zap.String("address", address),
		zap.String("label", label),
		zap.Bool("treasury", isTreasury))
	v.auditEvent(auditAction, true, map[string]any{
		"address":  address,
		"label":    label,
		"treasury": isTreasury,
	})

	rec := *record
	return &rec, nil
}

// Sign decrypts the wallet's key, signs the payload and wipes the key
// material before returning.
func (v *Vault) Sign(address string, payload []byte) ([]byte, error) {
	v.mu.Lock()
	_, ok := v.registry[address]
	v.mu.Unlock()
	if !ok {
		return nil, errors.Wrapf(domain.ErrWalletNotFound, "address %s", address)
	}

	blob, err := os.ReadFile(v.keyPath(address))
	if err != nil {
		return nil, errors.Wrap(domain.ErrSecureKey, "reading key blob")
	}

	seed, err := openKey(blob, v.masterSecret)
	if err != nil {
		return nil, err
	}
	defer wipe(seed)

	if len(seed) != ed25519.SeedSize {
		return nil, errors.Wrap(domain.ErrSecureKey, "key blob is corrupt")
	}

	priv := ed25519.NewKeyFromSeed(seed)
	defer wipe(priv)

	return ed25519.Sign(priv, payload), nil
}

// PublicKey returns the raw ed25519 public key for an address.
func (v *Vault) PublicKey(address string) (ed25519.PublicKey, error) {
	v.mu.Lock()
	_, ok := v.registry[address]
	v.mu.Unlock()
	if !ok {
		return nil, errors.Wrapf(domain.ErrWalletNotFound, "address %s", address)
	}

	pub, err := base58.Decode(address)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return nil, errors.Wrap(domain.ErrSecureKey, "address is not a valid public key")
	}
	return ed25519.PublicKey(pub), nil
}

// GetWallet returns a copy of the registry record.
func (v *Vault) GetWallet(address string) (*domain.WalletRecord, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	record, ok := v.registry[address]
	if !ok {
		return nil, errors.Wrapf(domain.ErrWalletNotFound, "address %s", address)
	}
	rec := *record
	return &rec, nil
}

// GetTreasury returns a copy of the treasury wallet record, or
// ErrWalletNotFound when none is registered yet.
func (v *Vault) GetTreasury() (*domain.WalletRecord, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, record := range v.registry {
		if record.IsTreasury {
			rec := *record
			return &rec, nil
		}
	}
	return nil, errors.Wrap(domain.ErrWalletNotFound, "no treasury wallet registered")
}

// ListWallets returns copies of all registry records.
func (v *Vault) ListWallets() []*domain.WalletRecord {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]*domain.WalletRecord, 0, len(v.registry))
	for _, record := range v.registry {
		rec := *record
		out = append(out, &rec)
	}
	return out
}

// SetCachedBalance stores the last known balance for display purposes.
func (v *Vault) SetCachedBalance(address string, balance decimal.Decimal) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	record, ok := v.registry[address]
	if !ok {
		return errors.Wrapf(domain.ErrWalletNotFound, "address %s", address)
	}

	prev := record.CachedBalance
	prevAt := record.BalanceAt
	record.CachedBalance = balance
	record.BalanceAt = time.Now().UTC()

	if err := v.saveRegistry(); err != nil {
		record.CachedBalance = prev
		record.BalanceAt = prevAt
		return err
	}
	return nil
}

// DeleteWallet removes a non-treasury wallet and its key blob.
// Treasury wallets are protected and can never be deleted.
func (v *Vault) DeleteWallet(address string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	record, ok := v.registry[address]
	if !ok {
		return errors.Wrapf(domain.ErrWalletNotFound, "address %s", address)
	}
	if record.IsTreasury {
		v.auditEvent(domain.AuditWalletDeleteRejected, false, map[string]any{
			"address": address,
			"reason":  "treasury wallet is protected",
		})
		return errors.Wrapf(domain.ErrTreasuryProtected, "address %s", address)
	}

	delete(v.registry, address)
	if err := v.saveRegistry(); err != nil {
		v.registry[address] = record
		return err
	}

	if err := os.Remove(v.keyPath(address)); err != nil && !errors.Is(err, os.ErrNotExist) {
		v.logger.Warn("orphaned key blob left on disk", zap.String("address", address), zap.Error(err))
	}

	v.logger.Info("wallet deleted", zap.String("address", address))
	v.auditEvent(domain.AuditWalletDeleted, true, map[string]any{
		"address": address,
		"label":   record.Label,
	})
	return nil
}

// auditEvent records a wallet lifecycle transition. Audit failure never
// fails the operation itself; it is logged and the registry stays the
// source of truth.
func (v *Vault) auditEvent(action string, success bool, details map[string]any) {
	if v.auditor == nil {
		return
	}
	if err := v.auditor.Append(domain.AuditEntry{
		Action:  action,
		Success: success,
		Details: details,
	}); err != nil {
		v.logger.Error("audit append failed", zap.String("action", action), zap.Error(err))
	}
}

func (v *Vault) keyPath(address string) string {
	return filepath.Join(v.keysDir, address+".json")
}

func (v *Vault) loadRegistry() error {
	data, err := os.ReadFile(filepath.Join(v.dir, registryFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return errors.Wrap(domain.ErrPersistence, "reading wallet registry")
	}

	if err := json.Unmarshal(data, &v.registry); err != nil {
		return errors.Wrap(domain.ErrPersistence, "parsing wallet registry")
	}
	return nil
}

func (v *Vault) saveRegistry() error {
	data, err := json.MarshalIndent(v.registry, "", "  ")
	if err != nil {
		return errors.Wrap(domain.ErrPersistence, "marshaling wallet registry")
	}

	path := filepath.Join(v.dir, registryFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(domain.ErrPersistence, "writing wallet registry")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(domain.ErrPersistence, "replacing wallet registry")
	}
	return nil
}
