// Package launcher orchestrates the high-level compute operations: it
// resolves kernel configurations by name, packs push-constant blocks, picks
// workgroup and grid sizes, and delegates registration and submission to the
// compute context.
package launcher

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/arsalan-anwari/tether-io/internal/config"
	"github.com/arsalan-anwari/tether-io/internal/device"
	"github.com/arsalan-anwari/tether-io/internal/metrics"
	"github.com/arsalan-anwari/tether-io/internal/types"
)

// standaloneWait bounds fence waits issued by the standalone helpers.
const standaloneWait = time.Second

// Launcher dispatches the recognised operations on one compute context.
type Launcher struct {
	ctx *device.Context
	cfg *config.ApplicationConfig
	log *zap.Logger
}

// New creates a launcher over ctx using the kernel map in cfg.
func New(ctx *device.Context, cfg *config.ApplicationConfig, log *zap.Logger) *Launcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Launcher{ctx: ctx, cfg: cfg, log: log.Named("launcher")}
}

// scalarParams packs the {value f32, count u32} push block of the fill and
// multiply kernels, std430-tight and little-endian.
func scalarParams(value float32, count uint32) []byte {
	params := make([]byte, 8)
	binary.LittleEndian.PutUint32(params[0:4], math.Float32bits(value))
	binary.LittleEndian.PutUint32(params[4:8], count)
	return params
}

// binMatMulParams packs the {m, n, kBits, kWords u32} push block.
func binMatMulParams(m, n, kBits, kWords uint32) []byte {
	params := make([]byte, 16)
	binary.LittleEndian.PutUint32(params[0:4], m)
	binary.LittleEndian.PutUint32(params[4:8], n)
	binary.LittleEndian.PutUint32(params[8:12], kBits)
	binary.LittleEndian.PutUint32(params[12:16], kWords)
	return params
}

// submit registers the named kernel and submits one dispatch of it. The
// returned task is pending; callers wait and destroy it.
func (l *Launcher) submit(name string, local, grid types.Vec3, buffers []device.Buffer, params []byte) (device.Kernel, error) {
	krnl, err := l.cfg.Kernel(name)
	if err != nil {
		return device.Kernel{}, err
	}
	if uintptr(len(params)) != krnl.ParamSizeBytes {
		return device.Kernel{}, fmt.Errorf("kernel %q push block %d bytes, config declares %d: %w",
			name, len(params), krnl.ParamSizeBytes, types.ErrLaunchFailed)
	}

	task, err := l.ctx.RegisterKernel(krnl, local, buffers)
	if err != nil {
		metrics.KernelLaunchFailures.WithLabelValues(name).Inc()
		return device.Kernel{}, err
	}

	if err := l.ctx.LaunchKernel(task, grid, buffers, types.LaunchSync, params); err != nil {
		metrics.KernelLaunchFailures.WithLabelValues(name).Inc()
		if destroyErr := l.ctx.DestroyKernel(task); destroyErr != nil {
			l.log.Warn("destroy after failed launch", zap.Error(destroyErr))
		}
		return device.Kernel{}, err
	}

	metrics.KernelLaunches.WithLabelValues(name).Inc()
	l.log.Debug("operation submitted",
		zap.String("kernel", name),
		zap.Stringer("local", local),
		zap.Stringer("grid", grid))
	return task, nil
}

// Fill submits the fill kernel writing value over every float32 element of
// out (out.Size/4 elements).
func (l *Launcher) Fill(workgroup types.Vec3, out device.Buffer, value float32) (device.Kernel, error) {
	count := uint32(out.Size / 4)
	grid := types.Vec3{X: CeilDiv(count, workgroup.X), Y: 1, Z: 1}
	return l.submit("fill", workgroup, grid, []device.Buffer{out}, scalarParams(value, count))
}

// Multiply submits the multiply kernel scaling inout in place by factor.
func (l *Launcher) Multiply(workgroup types.Vec3, inout device.Buffer, factor float32) (device.Kernel, error) {
	count := uint32(inout.Size / 4)
	grid := types.Vec3{X: CeilDiv(count, workgroup.X), Y: 1, Z: 1}
	return l.submit("multiply", workgroup, grid, []device.Buffer{inout}, scalarParams(factor, count))
}

// BinMatMul submits the binary GEMM kernel over bit-packed operands with an
// explicit tiling. The call is sequenced: the caller owns buffer uploads and
// the completion wait.
func (l *Launcher) BinMatMul(grid, local types.Vec3, buffers []device.Buffer, m, n, kBits, kWords uint32) (device.Kernel, error) {
	if len(buffers) != 3 {
		return device.Kernel{}, fmt.Errorf("binmatmul expects [aBits, bBits, c] buffers, got %d: %w",
			len(buffers), types.ErrLaunchFailed)
	}
	return l.submit("binmatmul", local, grid, buffers, binMatMulParams(m, n, kBits, kWords))
}

// BinMatMulAuto sizes the tiling from device limits and submits.
func (l *Launcher) BinMatMulAuto(buffers []device.Buffer, m, n, kBits, kWords uint32) (device.Kernel, error) {
	limits, err := l.ctx.Limits()
	if err != nil {
		return device.Kernel{}, err
	}
	local, grid := GridFor(m, n, limits)
	return l.BinMatMul(grid, local, buffers, m, n, kBits, kWords)
}

// FillStandalone runs the fill operation end to end over a host slice:
// allocate, submit, wait, download, destroy.
func (l *Launcher) FillStandalone(workgroup types.Vec3, out []float32, value float32) error {
	if len(out) == 0 {
		return fmt.Errorf("empty output: %w", types.ErrLaunchFailed)
	}

	buf, err := l.ctx.Allocate(uintptr(len(out)*4), types.AllocBase)
	if err != nil {
		return err
	}

	task, err := l.Fill(workgroup, buf, value)
	if err != nil {
		return err
	}
	defer func() {
		if err := l.ctx.DestroyKernel(task); err != nil {
			l.log.Warn("destroy fill kernel", zap.Error(err))
		}
	}()

	if err := l.ctx.WaitForKernel(task, standaloneWait); err != nil {
		return err
	}
	return l.downloadFloats(out, buf)
}

// MultiplyStandalone runs the multiply operation end to end over a host
// slice.
func (l *Launcher) MultiplyStandalone(workgroup types.Vec3, inout []float32, factor float32) error {
	if len(inout) == 0 {
		return fmt.Errorf("empty output: %w", types.ErrLaunchFailed)
	}

	buf, err := l.ctx.Allocate(uintptr(len(inout)*4), types.AllocBase)
	if err != nil {
		return err
	}
	if err := l.ctx.Upload(buf, floatBytes(inout), types.UploadSync); err != nil {
		return err
	}

	task, err := l.Multiply(workgroup, buf, factor)
	if err != nil {
		return err
	}
	defer func() {
		if err := l.ctx.DestroyKernel(task); err != nil {
			l.log.Warn("destroy multiply kernel", zap.Error(err))
		}
	}()

	if err := l.ctx.WaitForKernel(task, standaloneWait); err != nil {
		return err
	}
	return l.downloadFloats(inout, buf)
}

func (l *Launcher) downloadFloats(dst []float32, src device.Buffer) error {
	raw := make([]byte, len(dst)*4)
	if err := l.ctx.Download(raw, src, types.DownloadSync); err != nil {
		return err
	}
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return nil
}

func floatBytes(src []float32) []byte {
	raw := make([]byte, len(src)*4)
	for i, v := range src {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	return raw
}
