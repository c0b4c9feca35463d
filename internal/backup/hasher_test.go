package backup

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegrityHasher_KnownDigests(t *testing.T) {
	h := NewIntegrityHasher()

	tests := []struct {
		input    string
		expected string
	}{
		{"", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{"hello", "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, h.HashBytes([]byte(tt.input)))

			got, err := h.HashReader(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestIntegrityHasher_FileSpanningChunks(t *testing.T) {
	h := NewIntegrityHasher()
	data := bytes.Repeat([]byte("abc"), hashChunkSize)
	path := filepath.Join(t.TempDir(), "big.bin")
	require.NoError(t, os.WriteFile(path, data, 0644))

	got, err := h.HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, h.HashBytes(data), got)
	assert.True(t, h.VerifyFile(path, got))
}

func TestIntegrityHasher_VerifyFile(t *testing.T) {
	h := NewIntegrityHasher()
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))
	digest := h.HashBytes([]byte("hello"))

	assert.True(t, h.VerifyFile(path, digest))

	require.NoError(t, os.WriteFile(path, []byte("hellO"), 0644))
	assert.False(t, h.VerifyFile(path, digest))

	assert.False(t, h.VerifyFile(filepath.Join(dir, "missing"), digest))
}

func TestIntegrityHasher_MissingFile(t *testing.T) {
	_, err := NewIntegrityHasher().HashFile(filepath.Join(t.TempDir(), "missing"))
	assert.True(t, IsNotFound(err))
}
