// Package bitmap encodes sets of registry indices as compact roaring bitmaps.
//
// Space is proportional to the cardinality of the set, not to the largest
// index: 50 indices spread over a ten million entry registry cost a few
// hundred bytes. The empty set encodes to a zero-length payload.
package bitmap

import (
	"errors"
	"fmt"
	"slices"

	"github.com/weaviate/sroar"
)

// ErrCorruptBitmap is returned when a payload cannot be decoded.
var ErrCorruptBitmap = errors.New("corrupt bitmap payload")

// Encode serializes indices into a roaring bitmap. Duplicates collapse.
func Encode(indices []uint64) ([]byte, error) {
	if len(indices) == 0 {
		return []byte{}, nil
	}

	bm := sroar.NewBitmap()
	sorted := slices.Clone(indices)
	slices.Sort(sorted)
	bm.SetMany(slices.Compact(sorted))

	return bm.ToBuffer(), nil
}

// Decode deserializes a payload produced by Encode.
// Indices are returned in ascending order, but callers must not rely on it.
func Decode(payload []byte) (indices []uint64, err error) {
	if len(payload) == 0 {
		return []uint64{}, nil
	}
	if len(payload)%2 != 0 {
		return nil, fmt.Errorf("%w: odd length %d", ErrCorruptBitmap, len(payload))
	}

	// sroar asserts on malformed input instead of returning an error.
	defer func() {
		if r := recover(); r != nil {
			indices = nil
			err = fmt.Errorf("%w: %v", ErrCorruptBitmap, r)
		}
	}()

	bm := sroar.FromBufferWithCopy(payload)
	indices = bm.ToArray()
	if indices == nil {
		indices = []uint64{}
	}
	return indices, nil
}

// Cardinality returns the number of indices in a payload without
// materializing them.
func Cardinality(payload []byte) (n int, err error) {
	if len(payload) == 0 {
		return 0, nil
	}
	if len(payload)%2 != 0 {
		return 0, fmt.Errorf("%w: odd length %d", ErrCorruptBitmap, len(payload))
	}

	defer func() {
		if r := recover(); r != nil {
			n = 0
			err = fmt.Errorf("%w: %v", ErrCorruptBitmap, r)
		}
	}()

	return sroar.FromBuffer(payload).GetCardinality(), nil
}
