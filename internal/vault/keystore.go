package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"

	"treasury-engine/internal/domain"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	// saltLen is the random salt length in bytes.
	saltLen = 16
	// aesKeyLen is the derived AES-256 key length.
	aesKeyLen = 32
	// currentVersion is the encrypted-key JSON schema version.
	currentVersion = 1
)

// encryptedKeyJSON is the on-disk format for an encrypted private key.
// All binary fields are base64 standard encoding.
type encryptedKeyJSON struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// sealKey encrypts key material with the master secret using
// PBKDF2-HMAC-SHA256 derivation and AES-256-GCM. Each call draws a fresh
// salt, so the derived AES key is unique per blob.
func sealKey(plaintext []byte, masterSecret string) ([]byte, error) {
	if masterSecret == "" {
		return nil, errors.Wrap(domain.ErrKeyDerivation, "master secret is empty")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, errors.Wrap(domain.ErrSecureKey, "generating salt")
	}

	derivedKey := pbkdf2.Key([]byte(masterSecret), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, errors.Wrap(domain.ErrSecureKey, "creating cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(domain.ErrSecureKey, "creating GCM")
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(domain.ErrSecureKey, "generating nonce")
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	out := encryptedKeyJSON{
		Version:    currentVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}

	return json.MarshalIndent(out, "", "  ")
}

// openKey decrypts a blob produced by sealKey. Error messages never include
// the secret or the blob contents.
func openKey(blob []byte, masterSecret string) ([]byte, error) {
	if masterSecret == "" {
		return nil, errors.Wrap(domain.ErrKeyDerivation, "master secret is empty")
	}

	var stored encryptedKeyJSON
	if err := json.Unmarshal(blob, &stored); err != nil {
		return nil, errors.Wrap(domain.ErrSecureKey, "parsing encrypted key blob")
	}
	if stored.Version != currentVersion {
		return nil, errors.Wrapf(domain.ErrSecureKey, "unsupported blob version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return nil, errors.Wrap(domain.ErrSecureKey, "decoding salt")
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return nil, errors.Wrap(domain.ErrSecureKey, "decoding nonce")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return nil, errors.Wrap(domain.ErrSecureKey, "decoding ciphertext")
	}

	derivedKey := pbkdf2.Key([]byte(masterSecret), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, errors.Wrap(domain.ErrSecureKey, "creating cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(domain.ErrSecureKey, "creating GCM")
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap(domain.ErrSecureKey, "decryption failed (wrong master secret?)")
	}

	return plaintext, nil
}

// wipe zeroes a sensitive buffer in place.
func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
