package cpu

import (
	"fmt"
	"math/bits"

	"github.com/arsalan-anwari/tether-io/internal/types"
)

// TailMask masks the unused high bits of the final packed word.
func TailMask(kBits uint32) uint32 {
	rem := kBits & 31
	if rem == 0 {
		return 0xFFFFFFFF
	}
	return (1 << rem) - 1
}

// BinMatMul computes the reference binary GEMM C = A x B over bit-packed
// operands. aBits is [m x kWords] (row-major packing of A), bBits is
// [n x kWords] (column-major packing of B, one packed row per original
// column). Each output element is the XNOR-popcount dot 2*matches - kBits.
func BinMatMul(aBits, bBits []uint32, m, n, kBits uint32) ([]int32, error) {
	kWords := KWords(kBits)

	aNeeded := uint64(m) * uint64(kWords)
	bNeeded := uint64(n) * uint64(kWords)
	if uint64(len(aBits)) != aNeeded || uint64(len(bBits)) != bNeeded {
		return nil, fmt.Errorf("binmatmul m=%d n=%d kBits=%d: operand lengths %d, %d: %w",
			m, n, kBits, len(aBits), len(bBits), types.ErrLaunchFailed)
	}

	tailMask := TailMask(kBits)

	c := make([]int32, int(m)*int(n))
	for r := uint32(0); r < m; r++ {
		aRow := uint64(r) * uint64(kWords)

		for col := uint32(0); col < n; col++ {
			bRow := uint64(col) * uint64(kWords)

			matches := uint32(0)
			for kw := uint32(0); kw < kWords; kw++ {
				x := ^(aBits[aRow+uint64(kw)] ^ bBits[bRow+uint64(kw)])
				if kw+1 == kWords {
					x &= tailMask
				}
				matches += uint32(bits.OnesCount32(x))
			}

			c[uint64(r)*uint64(n)+uint64(col)] = int32(matches)*2 - int32(kBits)
		}
	}

	return c, nil
}
