package vault

import (
	"crypto/ed25519"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treasury-engine/internal/domain"
)

const testSecret = "unit-test-master-secret"

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New(t.TempDir(), testSecret, nil)
	require.NoError(t, err)
	return v
}

func TestNewRequiresMasterSecret(t *testing.T) {
	_, err := New(t.TempDir(), "", nil)
	require.ErrorIs(t, err, domain.ErrKeyDerivation)
}

func TestCreateSignVerify(t *testing.T) {
	v := newTestVault(t)

	wallet, err := v.CreateWallet("treasury", true)
	require.NoError(t, err)
	require.NotEmpty(t, wallet.Address)
	assert.True(t, wallet.IsTreasury)

	payload := []byte("swap:SOL->USDC:100")
	sig, err := v.Sign(wallet.Address, payload)
	require.NoError(t, err)

	pub, err := v.PublicKey(wallet.Address)
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(pub, payload, sig))
	assert.False(t, ed25519.Verify(pub, []byte("tampered"), sig))
}

func TestImportWalletDeterministicAddress(t *testing.T) {
	v := newTestVault(t)

	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	expected := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)

	wallet, err := v.ImportWallet(seed, "imported", false)
	require.NoError(t, err)

	pub, err := v.PublicKey(wallet.Address)
	require.NoError(t, err)
	assert.Equal(t, expected, pub)

	_, err = v.ImportWallet(seed, "again", false)
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = v.ImportWallet(seed[:16], "short", false)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestWrongMasterSecret(t *testing.T) {
	dir := t.TempDir()

	v1, err := New(dir, testSecret, nil)
	require.NoError(t, err)
	wallet, err := v1.CreateWallet("w", false)
	require.NoError(t, err)

	v2, err := New(dir, "wrong-secret", nil)
	require.NoError(t, err)

	_, err = v2.Sign(wallet.Address, []byte("payload"))
	require.ErrorIs(t, err, domain.ErrSecureKey)
	assert.NotContains(t, err.Error(), "wrong-secret")
}

func TestTreasuryDeleteRefused(t *testing.T) {
	v := newTestVault(t)

	treasury, err := v.CreateWallet("treasury", true)
	require.NoError(t, err)
	regular, err := v.CreateWallet("hot", false)
	require.NoError(t, err)

	require.ErrorIs(t, v.DeleteWallet(treasury.Address), domain.ErrTreasuryProtected)
	require.NoError(t, v.DeleteWallet(regular.Address))

	_, err = v.GetWallet(regular.Address)
	require.ErrorIs(t, err, domain.ErrWalletNotFound)
	_, err = v.GetWallet(treasury.Address)
	require.NoError(t, err)
}

func TestSecondTreasuryWalletRefused(t *testing.T) {
	v := newTestVault(t)

	first, err := v.CreateWallet("treasury-1", true)
	require.NoError(t, err)

	_, err = v.CreateWallet("treasury-2", true)
	require.ErrorIs(t, err, domain.ErrValidation)

	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i + 7)
	}
	_, err = v.ImportWallet(seed, "treasury-3", true)
	require.ErrorIs(t, err, domain.ErrValidation)

	treasuries := 0
	for _, rec := range v.ListWallets() {
		if rec.IsTreasury {
			treasuries++
		}
	}
	assert.Equal(t, 1, treasuries)

	got, err := v.GetTreasury()
	require.NoError(t, err)
	assert.Equal(t, first.Address, got.Address)
}

func TestGetTreasuryWhenNoneRegistered(t *testing.T) {
	v := newTestVault(t)

	_, err := v.CreateWallet("hot", false)
	require.NoError(t, err)

	_, err = v.GetTreasury()
	require.ErrorIs(t, err, domain.ErrWalletNotFound)
}

type recordingAuditor struct {
	entries []domain.AuditEntry
}

func (r *recordingAuditor) Append(entry domain.AuditEntry) error {
	r.entries = append(r.entries, entry)
	return nil
}

func TestWalletLifecycleIsAudited(t *testing.T) {
	auditor := &recordingAuditor{}
	v, err := New(t.TempDir(), testSecret, nil, WithAuditor(auditor))
	require.NoError(t, err)

	treasury, err := v.CreateWallet("treasury", true)
	require.NoError(t, err)

	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	imported, err := v.ImportWallet(seed, "imported", false)
	require.NoError(t, err)

	require.ErrorIs(t, v.DeleteWallet(treasury.Address), domain.ErrTreasuryProtected)
	require.NoError(t, v.DeleteWallet(imported.Address))

	require.Len(t, auditor.entries, 4)
	assert.Equal(t, domain.AuditWalletCreated, auditor.entries[0].Action)
	assert.Equal(t, domain.AuditWalletImported, auditor.entries[1].Action)
	assert.Equal(t, domain.AuditWalletDeleteRejected, auditor.entries[2].Action)
	assert.False(t, auditor.entries[2].Success)
	assert.Equal(t, domain.AuditWalletDeleted, auditor.entries[3].Action)
	assert.Equal(t, treasury.Address, auditor.entries[2].Details["address"])
}

func TestRegistryHoldsNoKeyMaterial(t *testing.T) {
	dir := t.TempDir()
	v, err := New(dir, testSecret, nil)
	require.NoError(t, err)

	wallet, err := v.CreateWallet("w", false)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, registryFile))
	require.NoError(t, err)

	var records map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &records))
	record := records[wallet.Address]
	require.NotNil(t, record)
	for field := range record {
		assert.NotContains(t, []string{"seed", "private_key", "ciphertext"}, field)
	}

	// the key blob must be sealed, never a raw seed
	blob, err := os.ReadFile(filepath.Join(dir, keysSubdir, wallet.Address+".json"))
	require.NoError(t, err)
	var sealed encryptedKeyJSON
	require.NoError(t, json.Unmarshal(blob, &sealed))
	assert.Equal(t, currentVersion, sealed.Version)
	assert.NotEmpty(t, sealed.Ciphertext)
}

func TestVaultReopenKeepsWallets(t *testing.T) {
	dir := t.TempDir()

	v1, err := New(dir, testSecret, nil)
	require.NoError(t, err)
	wallet, err := v1.CreateWallet("w", true)
	require.NoError(t, err)
	require.NoError(t, v1.SetCachedBalance(wallet.Address, decimal.NewFromInt(1234)))

	v2, err := New(dir, testSecret, nil)
	require.NoError(t, err)

	got, err := v2.GetWallet(wallet.Address)
	require.NoError(t, err)
	assert.Equal(t, "w", got.Label)
	assert.True(t, got.CachedBalance.Equal(decimal.NewFromInt(1234)))

	sig, err := v2.Sign(wallet.Address, []byte("payload"))
	require.NoError(t, err)
	require.NotEmpty(t, sig)
}

func TestSealOpenRoundTrip(t *testing.T) {
	plaintext := []byte("thirty-two-byte-seed-material-00")

	blob, err := sealKey(plaintext, testSecret)
	require.NoError(t, err)

	out, err := openKey(blob, testSecret)
	require.NoError(t, err)
	assert.Equal(t, plaintext, out)

	_, err = openKey(blob, "other")
	require.ErrorIs(t, err, domain.ErrSecureKey)

	_, err = sealKey(plaintext, "")
	require.ErrorIs(t, err, domain.ErrKeyDerivation)
}
