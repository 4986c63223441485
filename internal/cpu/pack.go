package cpu

import (
	"fmt"

	"github.com/arsalan-anwari/tether-io/internal/types"
)

// KWords is the packed storage width in 32-bit words for kBits sign bits.
func KWords(kBits uint32) uint32 {
	return (kBits + 31) / 32
}

// PackRowMajor packs a row-major [rows x kBits] float matrix into
// [rows x KWords(kBits)] bit words. A value >= 0 packs as bit 1; bit k of a
// row lives in word k>>5 at position k&31. Trailing bits of the final word
// stay zero.
func PackRowMajor(in []float32, rows, kBits uint32) ([]uint32, error) {
	kWords := KWords(kBits)

	if uint64(len(in)) != uint64(rows)*uint64(kBits) {
		return nil, fmt.Errorf("pack row-major %dx%d: input length %d: %w",
			rows, kBits, len(in), types.ErrLaunchFailed)
	}

	out := make([]uint32, int(rows)*int(kWords))
	for r := uint32(0); r < rows; r++ {
		rowIn := uint64(r) * uint64(kBits)
		rowOut := uint64(r) * uint64(kWords)

		for k := uint32(0); k < kBits; k++ {
			if in[rowIn+uint64(k)] >= 0 {
				out[rowOut+uint64(k>>5)] |= 1 << (k & 31)
			}
		}
	}
	return out, nil
}

// PackColMajor packs a row-major [kBits x cols] float matrix column-wise:
// each original column becomes one packed row of [cols x KWords(kBits)],
// with the same bit-ordering rule as PackRowMajor.
func PackColMajor(in []float32, cols, kBits uint32) ([]uint32, error) {
	kWords := KWords(kBits)

	if uint64(len(in)) != uint64(kBits)*uint64(cols) {
		return nil, fmt.Errorf("pack col-major %dx%d: input length %d: %w",
			kBits, cols, len(in), types.ErrLaunchFailed)
	}

	out := make([]uint32, int(cols)*int(kWords))
	for c := uint32(0); c < cols; c++ {
		rowOut := uint64(c) * uint64(kWords)

		for k := uint32(0); k < kBits; k++ {
			if in[uint64(k)*uint64(cols)+uint64(c)] >= 0 {
				out[rowOut+uint64(k>>5)] |= 1 << (k & 31)
			}
		}
	}
	return out, nil
}

// Pack dispatches to the row-major or column-major packer. The side argument
// is rows for RowMajor input and cols for ColMajor input.
func Pack(order types.MatrixOrder, in []float32, side, kBits uint32) ([]uint32, error) {
	switch order {
	case types.RowMajor:
		return PackRowMajor(in, side, kBits)
	case types.ColMajor:
		return PackColMajor(in, side, kBits)
	default:
		return nil, fmt.Errorf("matrix order %d: %w", order, types.ErrInvalidValueType)
	}
}

// Unpack expands [rows x KWords(kBits)] packed bits back to a row-major
// float matrix of +1/-1 values. It is the inverse of PackRowMajor up to the
// sign collapse of packing.
func Unpack(bits []uint32, rows, kBits uint32) ([]float32, error) {
	kWords := KWords(kBits)

	if uint64(len(bits)) != uint64(rows)*uint64(kWords) {
		return nil, fmt.Errorf("unpack %dx%d: input length %d: %w",
			rows, kBits, len(bits), types.ErrLaunchFailed)
	}

	out := make([]float32, int(rows)*int(kBits))
	for r := uint32(0); r < rows; r++ {
		rowIn := uint64(r) * uint64(kWords)
		rowOut := uint64(r) * uint64(kBits)

		for k := uint32(0); k < kBits; k++ {
			if bits[rowIn+uint64(k>>5)]&(1<<(k&31)) != 0 {
				out[rowOut+uint64(k)] = 1.0
			} else {
				out[rowOut+uint64(k)] = -1.0
			}
		}
	}
	return out, nil
}
