// Package cpu holds the host-side algorithms of the binary GEMM pipeline:
// deterministic test-matrix generation, float-to-bit packing in both matrix
// orders, and the reference XNOR-popcount GEMM the device kernels are
// validated against.
package cpu

import (
	"fmt"
	"math/rand"

	"github.com/seehuhn/mt19937"

	"github.com/arsalan-anwari/tether-io/internal/types"
)

// RandomMatrix produces a rows*cols float32 buffer drawn from the given
// domain. Generation is deterministic: the same (domain, rows, cols, seed)
// always yields the same buffer.
func RandomMatrix(domain types.DataDomain, rows, cols, seed uint32) ([]float32, error) {
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("random matrix %dx%d: %w", rows, cols, types.ErrLaunchFailed)
	}

	mt := mt19937.New()
	mt.Seed(int64(seed))
	rng := rand.New(mt)

	out := make([]float32, int(rows)*int(cols))
	switch domain {
	case types.PMOne:
		for i := range out {
			if rng.Intn(2) == 1 {
				out[i] = 1.0
			} else {
				out[i] = -1.0
			}
		}
	case types.ZeroOne:
		for i := range out {
			out[i] = float32(rng.Float64())
		}
	case types.FullRange:
		for i := range out {
			out[i] = float32(-1e6 + rng.Float64()*2e6)
		}
	case types.Trinary:
		for i := range out {
			out[i] = float32(rng.Intn(3) - 1)
		}
	default:
		return nil, fmt.Errorf("data domain %v: %w", domain, types.ErrInvalidValueType)
	}

	return out, nil
}
