package launcher

import (
	"github.com/arsalan-anwari/tether-io/internal/device"
	"github.com/arsalan-anwari/tether-io/internal/types"
)

// PreferredTile is the default workgroup edge for 2D dispatches.
const PreferredTile = 16

// ChooseTile picks a workgroup edge for one dimension: the preferred size
// capped by the device limit when the dimension is large enough, otherwise
// the largest power of two that still fits.
func ChooseTile(dim, preferred, maxLocal uint32) uint32 {
	capped := preferred
	if maxLocal < capped {
		capped = maxLocal
	}
	if dim >= capped {
		return capped
	}
	switch {
	case dim >= 8:
		return 8
	case dim >= 4:
		return 4
	case dim >= 2:
		return 2
	default:
		return 1
	}
}

// CeilDiv rounds value/tile up.
func CeilDiv(value, tile uint32) uint32 {
	return (value + tile - 1) / tile
}

// GridFor derives the (local, grid) pair for an m-by-n dispatch where the x
// axis walks columns and the y axis walks rows.
func GridFor(m, n uint32, limits device.Limits) (local, grid types.Vec3) {
	localX := ChooseTile(n, PreferredTile, limits.MaxComputeWorkGroupSize.X)
	localY := ChooseTile(m, PreferredTile, limits.MaxComputeWorkGroupSize.Y)

	local = types.Vec3{X: localX, Y: localY, Z: 1}
	grid = types.Vec3{X: CeilDiv(n, localX), Y: CeilDiv(m, localY), Z: 1}
	return local, grid
}
