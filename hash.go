// hash.go: Content fingerprints for dataset identity
//
// Values are converted to a canonical byte form and fed, in order, to a
// BLAKE3 hasher. The hex digest is truncated to IdentityLength characters.
// Fingerprints are cache keys, not integrity checks.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package qpformat

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math"

	"github.com/agilira/go-errors"
	"github.com/agilira/qpformat/qpimage"
	"github.com/zeebo/blake3"
)

// IdentityLength is the number of hex characters kept from a digest.
const IdentityLength = 5

// HashValues returns the fingerprint of values. Supported values are
// strings, byte slices, integers, floats, numeric slices, qpimage.Array,
// and []string / []any nested to any depth. Order matters.
func HashValues(values ...any) (string, error) {
	h := blake3.New()
	for _, v := range values {
		if err := writeCanonical(h, v); err != nil {
			return "", err
		}
	}
	sum := hex.EncodeToString(h.Sum(nil))
	return sum[:IdentityLength], nil
}

// MustHash is HashValues for inputs known to be supported. It panics
// otherwise.
func MustHash(values ...any) string {
	s, err := HashValues(values...)
	if err != nil {
		panic(err)
	}
	return s
}

func writeCanonical(w io.Writer, v any) error {
	var buf [8]byte
	putInt := func(x int64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(x))
		_, _ = w.Write(buf[:])
	}
	putUint := func(x uint64) {
		binary.LittleEndian.PutUint64(buf[:], x)
		_, _ = w.Write(buf[:])
	}
	putFloat := func(x float64) { putUint(math.Float64bits(x)) }

	switch x := v.(type) {
	case string:
		_, _ = io.WriteString(w, x)
	case []byte:
		_, _ = w.Write(x)
	case int:
		putInt(int64(x))
	case int32:
		putInt(int64(x))
	case int64:
		putInt(x)
	case uint:
		putUint(uint64(x))
	case uint32:
		putUint(uint64(x))
	case uint64:
		putUint(x)
	case float32:
		putFloat(float64(x))
	case float64:
		putFloat(x)
	case []int:
		for _, e := range x {
			putInt(int64(e))
		}
	case []int64:
		for _, e := range x {
			putInt(e)
		}
	case []float32:
		for _, e := range x {
			putFloat(float64(e))
		}
	case []float64:
		for _, e := range x {
			putFloat(e)
		}
	case qpimage.Array:
		putInt(int64(x.Rows))
		putInt(int64(x.Cols))
		for _, e := range x.Data {
			putFloat(e)
		}
	case []string:
		for _, e := range x {
			_, _ = io.WriteString(w, e)
		}
	case []any:
		for _, e := range x {
			if err := writeCanonical(w, e); err != nil {
				return err
			}
		}
	default:
		return errors.New(ErrCodeUnsupportedValue, fmt.Sprintf("no canonical byte form for %T", v))
	}
	return nil
}
