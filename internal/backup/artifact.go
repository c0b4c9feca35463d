package backup

import (
	"bytes"
	"fmt"
)

// Artifact envelope layout:
//
//	magic "ABK1" | flags (1 byte) | compression code (1 byte) | body
//
// Bit 0 of flags marks an encrypted body. The body is the (optionally
// compressed) archive payload, sealed by CryptoCodec when encrypted.
var artifactMagic = []byte("ABK1")

const (
	envelopeHeaderSize = 6
	flagEncrypted      = 1 << 0
)

// envelope is the parsed artifact header
type envelope struct {
	Encrypted   bool
	Compression CompressionType
	Body        []byte
}

func wrapEnvelope(env envelope) ([]byte, error) {
	code, err := compressionCode(env.Compression)
	if err != nil {
		return nil, err
	}

	var flags byte
	if env.Encrypted {
		flags |= flagEncrypted
	}

	out := make([]byte, 0, envelopeHeaderSize+len(env.Body))
	out = append(out, artifactMagic...)
	out = append(out, flags, code)
	out = append(out, env.Body...)
	return out, nil
}

func unwrapEnvelope(data []byte) (*envelope, error) {
	if len(data) < envelopeHeaderSize || !bytes.Equal(data[:len(artifactMagic)], artifactMagic) {
		return nil, NewCorruptionError("artifact is not a snapshot (bad magic)", nil)
	}

	flags := data[4]
	if flags&^flagEncrypted != 0 {
		return nil, NewCorruptionError(fmt.Sprintf("unknown artifact flags 0x%02x", flags), nil)
	}
	compression, err := compressionFromCode(data[5])
	if err != nil {
		return nil, err
	}

	return &envelope{
		Encrypted:   flags&flagEncrypted != 0,
		Compression: compression,
		Body:        data[envelopeHeaderSize:],
	}, nil
}
