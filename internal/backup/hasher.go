package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
)

// hashChunkSize bounds memory use while hashing large artifacts
const hashChunkSize = 64 * 1024

// IntegrityHasher produces hex SHA-256 digests. It holds no state.
type IntegrityHasher struct{}

// NewIntegrityHasher creates a hasher
func NewIntegrityHasher() *IntegrityHasher {
	return &IntegrityHasher{}
}

// HashReader streams r through SHA-256 in fixed-size chunks
func (h *IntegrityHasher) HashReader(r io.Reader) (string, error) {
	sum := sha256.New()
	buf := make([]byte, hashChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			sum.Write(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", NewStorageError("failed to read data for hashing", err)
		}
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}

// HashFile hashes the file at path
func (h *IntegrityHasher) HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", NewNotFoundError("file to hash does not exist", err).WithContext("path", path)
		}
		return "", NewStorageError("failed to open file for hashing", err).WithContext("path", path)
	}
	defer f.Close()
	return h.HashReader(f)
}

// HashBytes hashes an in-memory buffer
func (h *IntegrityHasher) HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyFile reports whether the file at path hashes to expected. A missing
// or unreadable file is a mismatch, not an error.
func (h *IntegrityHasher) VerifyFile(path, expected string) bool {
	actual, err := h.HashFile(path)
	if err != nil {
		return false
	}
	return actual == expected
}
