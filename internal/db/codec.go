package db

import (
	"fmt"
	"math"
)

// Codec converts a field between its in-memory type T and the type S a
// backend stores. Decode(Encode(v)) == v for every v.
type Codec[T, S any] struct {
	Encode func(T) S
	Decode func(S) (T, error)
}

// ColorCodec stores an unsigned 24-bit (or any 32-bit) colour in a backend
// that only has signed 32-bit integers. Values above math.MaxInt32 wrap to
// negatives and back.
var ColorCodec = Codec[uint32, int64]{
	Encode: func(c uint32) int64 {
		return int64(int32(c))
	},
	Decode: func(s int64) (uint32, error) {
		if s < math.MinInt32 || s > math.MaxInt32 {
			return 0, fmt.Errorf("stored colour %d does not fit in 32 bits", s)
		}
		return uint32(int32(s)), nil
	},
}
