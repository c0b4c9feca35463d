package backup

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionStats contains statistics about one compression pass
type CompressionStats struct {
	OriginalSize     int64           `json:"original_size"`
	CompressedSize   int64           `json:"compressed_size"`
	CompressionRatio float64         `json:"compression_ratio"`
	Algorithm        CompressionType `json:"algorithm"`
	Level            int             `json:"level"`
	Duration         time.Duration   `json:"duration"`
}

// Compressor is implemented by each supported algorithm
type Compressor interface {
	Compress(data []byte, level int) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Algorithm() CompressionType
	LevelRange() (min, max int)
}

// compressionCodes are the envelope bytes identifying the algorithm of an artifact
var compressionCodes = map[CompressionType]byte{
	CompressionTypeNone: 0,
	CompressionTypeGzip: 1,
	CompressionTypeLZ4:  2,
	CompressionTypeZstd: 3,
}

// ParseCompressionType accepts names like "zstd", "GZIP" or "" (none)
func ParseCompressionType(name string) (CompressionType, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "NONE", "OFF":
		return CompressionTypeNone, nil
	case "GZIP", "GZ":
		return CompressionTypeGzip, nil
	case "LZ4":
		return CompressionTypeLZ4, nil
	case "ZSTD", "ZSTANDARD":
		return CompressionTypeZstd, nil
	}
	return "", NewConfigurationError(fmt.Sprintf("unknown compression algorithm %q", name), nil)
}

func compressionCode(t CompressionType) (byte, error) {
	code, ok := compressionCodes[t]
	if !ok {
		return 0, NewCompressionError(fmt.Sprintf("unsupported compression algorithm: %s", t), nil)
	}
	return code, nil
}

func compressionFromCode(code byte) (CompressionType, error) {
	for t, c := range compressionCodes {
		if c == code {
			return t, nil
		}
	}
	return "", NewCorruptionError(fmt.Sprintf("unknown compression code %d in artifact header", code), nil)
}

// CompressionManager dispatches to the registered compressors
type CompressionManager struct {
	compressors map[CompressionType]Compressor
}

// NewCompressionManager creates a manager with gzip, LZ4 and zstd registered
func NewCompressionManager() *CompressionManager {
	cm := &CompressionManager{
		compressors: make(map[CompressionType]Compressor),
	}
	cm.Register(&GzipCompressor{})
	cm.Register(&LZ4Compressor{})
	cm.Register(&ZstdCompressor{})
	return cm
}

// Register adds or replaces a compressor
func (cm *CompressionManager) Register(c Compressor) {
	cm.compressors[c.Algorithm()] = c
}

// Compress compresses data; out-of-range levels are clamped rather than rejected
func (cm *CompressionManager) Compress(data []byte, algorithm CompressionType, level int) ([]byte, *CompressionStats, error) {
	start := time.Now()
	if algorithm == CompressionTypeNone || algorithm == "" {
		return data, &CompressionStats{
			OriginalSize:     int64(len(data)),
			CompressedSize:   int64(len(data)),
			CompressionRatio: 1.0,
			Algorithm:        CompressionTypeNone,
		}, nil
	}

	compressor, err := cm.Get(algorithm)
	if err != nil {
		return nil, nil, err
	}

	level = ClampLevel(compressor, level)
	compressed, err := compressor.Compress(data, level)
	if err != nil {
		return nil, nil, err
	}

	return compressed, &CompressionStats{
		OriginalSize:     int64(len(data)),
		CompressedSize:   int64(len(compressed)),
		CompressionRatio: CalculateCompressionRatio(int64(len(data)), int64(len(compressed))),
		Algorithm:        algorithm,
		Level:            level,
		Duration:         time.Since(start),
	}, nil
}

// Decompress reverses Compress for the given algorithm
func (cm *CompressionManager) Decompress(data []byte, algorithm CompressionType) ([]byte, error) {
	if algorithm == CompressionTypeNone || algorithm == "" {
		return data, nil
	}
	compressor, err := cm.Get(algorithm)
	if err != nil {
		return nil, err
	}
	return compressor.Decompress(data)
}

// Get returns the compressor for algorithm
func (cm *CompressionManager) Get(algorithm CompressionType) (Compressor, error) {
	compressor, exists := cm.compressors[algorithm]
	if !exists {
		return nil, NewCompressionError(fmt.Sprintf("unsupported compression algorithm: %s", algorithm), nil)
	}
	return compressor, nil
}

// ClampLevel forces level into the compressor's supported range
func ClampLevel(c Compressor, level int) int {
	lo, hi := c.LevelRange()
	if level < lo {
		return lo
	}
	if level > hi {
		return hi
	}
	return level
}

// CalculateCompressionRatio returns compressed/original, 1.0 for empty input
func CalculateCompressionRatio(originalSize, compressedSize int64) float64 {
	if originalSize == 0 {
		return 1.0
	}
	return float64(compressedSize) / float64(originalSize)
}

// GzipCompressor implements gzip compression (levels 1-9)
type GzipCompressor struct{}

func (gc *GzipCompressor) Compress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	writer, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, NewCompressionError("failed to create gzip writer", err)
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, NewCompressionError("failed to write gzip stream", err)
	}
	if err := writer.Close(); err != nil {
		return nil, NewCompressionError("failed to close gzip writer", err)
	}
	return buf.Bytes(), nil
}

func (gc *GzipCompressor) Decompress(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, NewCompressionError("failed to open gzip stream", err)
	}
	defer reader.Close()

	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, NewCompressionError("failed to decompress gzip data", err)
	}
	return out, nil
}

func (gc *GzipCompressor) Algorithm() CompressionType { return CompressionTypeGzip }

func (gc *GzipCompressor) LevelRange() (int, int) { return gzip.BestSpeed, gzip.BestCompression }

// LZ4Compressor implements LZ4 frame compression. Levels 1-9 map onto the
// lz4 package's fast and high-compression modes.
type LZ4Compressor struct{}

var lz4Levels = []lz4.CompressionLevel{
	lz4.Fast, lz4.Level1, lz4.Level2, lz4.Level3, lz4.Level4,
	lz4.Level5, lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9,
}

func (lc *LZ4Compressor) Compress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	writer := lz4.NewWriter(&buf)
	if err := writer.Apply(lz4.CompressionLevelOption(lz4Levels[level])); err != nil {
		return nil, NewCompressionError("failed to configure LZ4 writer", err)
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, NewCompressionError("failed to write LZ4 stream", err)
	}
	if err := writer.Close(); err != nil {
		return nil, NewCompressionError("failed to close LZ4 writer", err)
	}
	return buf.Bytes(), nil
}

func (lc *LZ4Compressor) Decompress(data []byte) ([]byte, error) {
	out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, NewCompressionError("failed to decompress LZ4 data", err)
	}
	return out, nil
}

func (lc *LZ4Compressor) Algorithm() CompressionType { return CompressionTypeLZ4 }

func (lc *LZ4Compressor) LevelRange() (int, int) { return 1, len(lz4Levels) - 1 }

// ZstdCompressor implements Zstandard compression. Encoders are cached per
// speed tier since building one allocates its window buffers.
type ZstdCompressor struct {
	mu       sync.Mutex
	encoders map[zstd.EncoderLevel]*zstd.Encoder
	decoder  *zstd.Decoder
}

func zstdEncoderLevel(level int) zstd.EncoderLevel {
	switch {
	case level <= 1:
		return zstd.SpeedFastest
	case level <= 3:
		return zstd.SpeedDefault
	case level <= 6:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

func (zc *ZstdCompressor) encoder(level int) (*zstd.Encoder, error) {
	zc.mu.Lock()
	defer zc.mu.Unlock()

	tier := zstdEncoderLevel(level)
	if enc, ok := zc.encoders[tier]; ok {
		return enc, nil
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(tier))
	if err != nil {
		return nil, err
	}
	if zc.encoders == nil {
		zc.encoders = make(map[zstd.EncoderLevel]*zstd.Encoder)
	}
	zc.encoders[tier] = enc
	return enc, nil
}

func (zc *ZstdCompressor) Compress(data []byte, level int) ([]byte, error) {
	enc, err := zc.encoder(level)
	if err != nil {
		return nil, NewCompressionError("failed to create zstd encoder", err)
	}
	return enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (zc *ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	zc.mu.Lock()
	if zc.decoder == nil {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			zc.mu.Unlock()
			return nil, NewCompressionError("failed to create zstd decoder", err)
		}
		zc.decoder = dec
	}
	dec := zc.decoder
	zc.mu.Unlock()

	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, NewCompressionError("failed to decompress zstd data", err)
	}
	return out, nil
}

func (zc *ZstdCompressor) Algorithm() CompressionType { return CompressionTypeZstd }

func (zc *ZstdCompressor) LevelRange() (int, int) { return 1, 22 }
