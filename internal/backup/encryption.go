package backup

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeyFileName is the store-managed key, created on first use
	KeyFileName = ".encryption_key"
	// SaltFileName holds the PBKDF2 salt for passphrase-derived keys
	SaltFileName = ".encryption_salt"

	keySize          = 32
	saltSize         = 32
	pbkdf2Iterations = 100000
)

// CryptoCodec seals and opens snapshot payloads with AES-256-GCM. The key is
// resolved on every call so a replaced or deleted key file takes effect
// immediately.
type CryptoCodec struct {
	config   EncryptionConfig
	storeDir string
	keys     *KeyManager
}

// NewCryptoCodec creates a codec whose "store" and "passphrase" key material
// lives in storeDir
func NewCryptoCodec(config EncryptionConfig, storeDir string) *CryptoCodec {
	return &CryptoCodec{
		config:   config,
		storeDir: storeDir,
		keys:     &KeyManager{},
	}
}

// Enabled reports whether Seal actually encrypts
func (c *CryptoCodec) Enabled() bool {
	return c.config.Enabled
}

// EnsureKey returns the active key, generating and persisting it first when
// the "store" source has none yet
func (c *CryptoCodec) EnsureKey() ([]byte, error) {
	if c.config.KeyRetriever != nil {
		key, err := c.config.KeyRetriever()
		if err != nil {
			return nil, NewEncryptionError("key retriever failed", err)
		}
		return key, c.keys.ValidateKey(key)
	}

	switch c.config.KeySource {
	case KeySourceStore, "":
		return c.keys.LoadOrCreateKeyFile(filepath.Join(c.storeDir, KeyFileName))
	case KeySourceFile:
		key, err := c.keys.LoadKeyFromFile(c.config.KeyPath)
		if errors.Is(err, os.ErrNotExist) {
			return nil, NewNotFoundError(fmt.Sprintf("key file %s does not exist", c.config.KeyPath), err)
		}
		return key, err
	case KeySourceEnv:
		return c.keys.LoadKeyFromEnv(c.config.KeyEnvVar)
	case KeySourcePassphrase:
		passphrase := os.Getenv(c.config.PassphraseEnvVar)
		if passphrase == "" {
			return nil, NewEncryptionError(fmt.Sprintf("environment variable %s not set", c.config.PassphraseEnvVar), nil)
		}
		salt, err := c.keys.LoadOrCreateSalt(filepath.Join(c.storeDir, SaltFileName))
		if err != nil {
			return nil, err
		}
		return c.keys.DeriveKey(passphrase, salt), nil
	default:
		return nil, NewConfigurationError(fmt.Sprintf("invalid key source: %s", c.config.KeySource), nil)
	}
}

// Seal encrypts plaintext. The output is nonce || ciphertext || tag and
// differs on every call.
func (c *CryptoCodec) Seal(plaintext []byte) ([]byte, error) {
	if !c.config.Enabled {
		return plaintext, nil
	}

	gcm, err := c.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, NewEncryptionError("failed to generate nonce", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts and authenticates data produced by Seal. A wrong key and a
// modified ciphertext are indistinguishable and both yield a decryption error.
func (c *CryptoCodec) Open(sealed []byte) ([]byte, error) {
	if !c.config.Enabled {
		return sealed, nil
	}

	gcm, err := c.gcm()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize+gcm.Overhead() {
		return nil, NewDecryptionError("encrypted data too short", nil)
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, NewDecryptionError("authentication failed: wrong key or corrupted data", err)
	}
	return plaintext, nil
}

func (c *CryptoCodec) gcm() (cipher.AEAD, error) {
	key, err := c.EnsureKey()
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, NewEncryptionError("failed to create AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, NewEncryptionError("failed to create GCM cipher", err)
	}
	return gcm, nil
}

// KeyManager handles key generation, derivation and persistence
type KeyManager struct{}

// GenerateKey generates a new 256-bit encryption key
func (km *KeyManager) GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, NewEncryptionError("failed to generate encryption key", err)
	}
	return key, nil
}

// DeriveKey derives a key from a passphrase using PBKDF2-SHA256
func (km *KeyManager) DeriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keySize, sha256.New)
}

// LoadOrCreateKeyFile reads the key at path, creating it when absent. When
// two processes race, the one that loses the exclusive create reads the
// winner's key.
func (km *KeyManager) LoadOrCreateKeyFile(path string) ([]byte, error) {
	key, err := km.LoadKeyFromFile(path)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return key, err
	}

	key, err = km.GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := writeSecretFile(path, key); err != nil {
		if errors.Is(err, os.ErrExist) {
			return km.LoadKeyFromFile(path)
		}
		return nil, NewEncryptionError("failed to save key to file", err)
	}
	return key, nil
}

// LoadOrCreateSalt reads or creates the passphrase salt at path
func (km *KeyManager) LoadOrCreateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil {
		if len(salt) != saltSize {
			return nil, NewCorruptionError(fmt.Sprintf("salt file %s must contain %d bytes", path, saltSize), nil)
		}
		return salt, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, NewStorageError("failed to read salt file", err)
	}

	salt = make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, NewEncryptionError("failed to generate salt", err)
	}
	if err := writeSecretFile(path, salt); err != nil {
		if errors.Is(err, os.ErrExist) {
			return km.LoadOrCreateSalt(path)
		}
		return nil, NewStorageError("failed to save salt file", err)
	}
	return salt, nil
}

// SaveKeyToFile writes a key with owner-only permissions, replacing any existing file
func (km *KeyManager) SaveKeyToFile(key []byte, path string) error {
	if err := km.ValidateKey(key); err != nil {
		return err
	}
	if err := os.WriteFile(path, key, 0600); err != nil {
		return NewEncryptionError("failed to save key to file", err)
	}
	return nil
}

// LoadKeyFromFile loads an encryption key from a file. The returned error
// wraps os.ErrNotExist when the file is missing.
func (km *KeyManager) LoadKeyFromFile(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, NewEncryptionError("failed to read key from file", err)
	}
	if len(key) != keySize {
		return nil, NewEncryptionError(fmt.Sprintf("key file must contain %d bytes for AES-256, got %d", keySize, len(key)), nil)
	}
	return key, nil
}

// LoadKeyFromEnv loads a hex-encoded encryption key from an environment variable
func (km *KeyManager) LoadKeyFromEnv(envVar string) ([]byte, error) {
	hexKey := strings.TrimSpace(os.Getenv(envVar))
	if hexKey == "" {
		return nil, NewEncryptionError(fmt.Sprintf("environment variable %s not set", envVar), nil)
	}

	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, NewEncryptionError("failed to decode hex key from environment variable", err)
	}
	if err := km.ValidateKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

// ValidateKey validates that a key is suitable for AES-256
func (km *KeyManager) ValidateKey(key []byte) error {
	if len(key) != keySize {
		return NewEncryptionError("key must be 32 bytes for AES-256", nil)
	}

	allZeros, allOnes := true, true
	for _, b := range key {
		if b != 0 {
			allZeros = false
		}
		if b != 0xFF {
			allOnes = false
		}
	}
	if allZeros {
		return NewEncryptionError("key cannot be all zeros", nil)
	}
	if allOnes {
		return NewEncryptionError("key cannot be all ones", nil)
	}
	return nil
}

func writeSecretFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
