// compress.go: Block compression for float image planes
//
// Image planes are stored as little-endian float64 arrays. Adjacent
// pixels of a phase or amplitude map share sign and exponent, so a
// byte-grouping transpose before LZ4 compresses them well.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package compress

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Tag identifies the compression algorithm of a stored plane.
// Values are persisted in containers and must not change.
type Tag uint8

const (
	None   Tag = 0
	LZ4    Tag = 1
	Zstd   Tag = 2
	BG8LZ4 Tag = 3 // byte grouping by 8 (float64) followed by LZ4
)

// String returns the tag name used in settings files.
func (t Tag) String() string {
	switch t {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	case BG8LZ4:
		return "bg8_lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ParseTag parses a tag from its string form.
func ParseTag(name string) (Tag, error) {
	switch name {
	case "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	case "bg8_lz4", "":
		return BG8LZ4, nil
	default:
		return 0, fmt.Errorf("unknown compression tag: %q", name)
	}
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("compress: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("compress: zstd decoder initialization failed: " + err.Error())
	}
}

var errIncompressible = fmt.Errorf("data is incompressible")

// IsIncompressible reports whether err signals that compression did not
// reduce the size of the input.
func IsIncompressible(err error) bool {
	return err == errIncompressible
}

// Compress compresses data with the given algorithm. None returns data unchanged.
func Compress(data []byte, tag Tag) ([]byte, error) {
	switch tag {
	case None:
		return data, nil
	case LZ4:
		return compressLZ4(data)
	case Zstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return nil, errIncompressible
		}
		return compressed, nil
	case BG8LZ4:
		return compressLZ4(groupBytes(data, 8))
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

// Decompress reverses Compress. size is the exact uncompressed length.
func Decompress(compressed []byte, tag Tag, size int) ([]byte, error) {
	switch tag {
	case None:
		if len(compressed) != size {
			return nil, fmt.Errorf("uncompressed block: size %d does not match expected %d", len(compressed), size)
		}
		return compressed, nil
	case LZ4:
		return decompressLZ4(compressed, size)
	case Zstd:
		out, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(out) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
		}
		return out, nil
	case BG8LZ4:
		grouped, err := decompressLZ4(compressed, size)
		if err != nil {
			return nil, err
		}
		return ungroupBytes(grouped, 8), nil
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

// EncodeFloats serializes values as little-endian float64 and compresses
// them with tag. Incompressible planes fall back to None; the tag actually
// used is returned.
func EncodeFloats(values []float64, tag Tag) ([]byte, Tag, error) {
	raw := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(raw[8*i:], math.Float64bits(v))
	}
	if tag == None || len(raw) == 0 {
		return raw, None, nil
	}
	out, err := Compress(raw, tag)
	if err != nil {
		if IsIncompressible(err) {
			return raw, None, nil
		}
		return nil, None, err
	}
	return out, tag, nil
}

// DecodeFloats reverses EncodeFloats for n values.
func DecodeFloats(blob []byte, tag Tag, n int) ([]float64, error) {
	raw, err := Decompress(blob, tag, 8*n)
	if err != nil {
		return nil, err
	}
	values := make([]float64, n)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
	}
	return values, nil
}

func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 || n >= len(data) {
		return nil, errIncompressible
	}
	return dst[:n], nil
}

func decompressLZ4(compressed []byte, size int) ([]byte, error) {
	dst := make([]byte, size)
	n, err := lz4.UncompressBlock(compressed, dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if n != size {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", n, size)
	}
	return dst, nil
}

// groupBytes transposes data so that byte position k of every width-sized
// word is stored contiguously. Trailing bytes are appended unchanged.
func groupBytes(data []byte, width int) []byte {
	groups := len(data) / width
	out := make([]byte, len(data))
	for i := 0; i < groups; i++ {
		for k := 0; k < width; k++ {
			out[k*groups+i] = data[i*width+k]
		}
	}
	copy(out[groups*width:], data[groups*width:])
	return out
}

func ungroupBytes(data []byte, width int) []byte {
	groups := len(data) / width
	out := make([]byte, len(data))
	for i := 0; i < groups; i++ {
		for k := 0; k < width; k++ {
			out[i*width+k] = data[k*groups+i]
		}
	}
	copy(out[groups*width:], data[groups*width:])
	return out
}
