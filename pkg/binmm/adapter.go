// Package binmm is the boundary consumed by inference-runtime integrations:
// it accepts float32 activation and weight views, runs the 1-bit GEMM on a
// compute context, and returns the int32 accumulator matrix. Scale and bias
// fusion stay with the caller.
package binmm

import (
	"encoding/binary"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arsalan-anwari/tether-io/internal/config"
	"github.com/arsalan-anwari/tether-io/internal/cpu"
	"github.com/arsalan-anwari/tether-io/internal/device"
	"github.com/arsalan-anwari/tether-io/internal/launcher"
	"github.com/arsalan-anwari/tether-io/internal/types"
)

// kernelWait bounds the per-call fence wait.
const kernelWait = time.Second

var apiVersion = types.Version{Variant: 0, Major: 1, Minor: 3, Patch: 0}

// Adapter owns a compute context and a set of device buffers that are
// reused across calls and grown on shape change.
type Adapter struct {
	ctx      *device.Context
	launcher *launcher.Launcher
	log      *zap.Logger

	dAct device.Buffer
	dWt  device.Buffer
	dOut device.Buffer

	cachedM     uint32
	cachedN     uint32
	cachedKBits uint32
}

// New creates an adapter over the registered driver kind using the kernel
// map in cfg.
func New(cfg *config.ApplicationConfig, driver types.DeviceDriver, log *zap.Logger) (*Adapter, error) {
	if log == nil {
		log = zap.NewNop()
	}

	ctx, err := device.New(driver, log)
	if err != nil {
		return nil, err
	}

	a := &Adapter{
		ctx: ctx,
		log: log.Named("binmm"),
	}
	a.launcher = launcher.New(ctx, cfg, log)
	return a, nil
}

// Init brings up the device context.
func (a *Adapter) Init() error {
	if err := a.ctx.Init(apiVersion, "binmm_adapter"); err != nil {
		return err
	}
	return a.ctx.SetDevice(types.FirstComputeCapable)
}

// Close tears down the context. The adapter is unusable afterwards.
func (a *Adapter) Close() error {
	return a.ctx.Exit()
}

// ensureCapacity grows the cached device buffers when the shape changes.
// Buffers are only reallocated upwards; a context keeps every allocation
// until exit, so steady-state inference reuses the same three buffers.
func (a *Adapter) ensureCapacity(m, n, kBits uint32) error {
	if m == a.cachedM && n == a.cachedN && kBits == a.cachedKBits {
		return nil
	}
	kWords := cpu.KWords(kBits)

	actBytes := uintptr(m) * uintptr(kWords) * 4
	wtBytes := uintptr(n) * uintptr(kWords) * 4
	outBytes := uintptr(m) * uintptr(n) * 4

	if a.dAct.Size < actBytes {
		buf, err := a.ctx.Allocate(actBytes, types.AllocBase)
		if err != nil {
			return err
		}
		a.dAct = buf
	}
	if a.dWt.Size < wtBytes {
		buf, err := a.ctx.Allocate(wtBytes, types.AllocBase)
		if err != nil {
			return err
		}
		a.dWt = buf
	}
	if a.dOut.Size < outBytes {
		buf, err := a.ctx.Allocate(outBytes, types.AllocBase)
		if err != nil {
			return err
		}
		a.dOut = buf
	}

	a.cachedM = m
	a.cachedN = n
	a.cachedKBits = kBits
	return nil
}

// MatMulF32 computes the 1-bit GEMM of a row-major [m x kBits] activation
// view against a row-major [kBits x n] weight view, returning the m*n int32
// accumulators.
func (a *Adapter) MatMulF32(act, wt []float32, m, n, kBits uint32) ([]int32, error) {
	if uint64(len(act)) != uint64(m)*uint64(kBits) || uint64(len(wt)) != uint64(kBits)*uint64(n) {
		return nil, fmt.Errorf("views %d/%d for m=%d n=%d kBits=%d: %w",
			len(act), len(wt), m, n, kBits, types.ErrLaunchFailed)
	}

	if err := a.ensureCapacity(m, n, kBits); err != nil {
		return nil, err
	}
	kWords := cpu.KWords(kBits)

	actBits, err := cpu.PackRowMajor(act, m, kBits)
	if err != nil {
		return nil, err
	}
	wtBits, err := cpu.PackColMajor(wt, n, kBits)
	if err != nil {
		return nil, err
	}

	if err := a.ctx.Upload(a.dAct, wordBytes(actBits), types.UploadSync); err != nil {
		return nil, err
	}
	if err := a.ctx.Upload(a.dWt, wordBytes(wtBits), types.UploadSync); err != nil {
		return nil, err
	}

	task, err := a.launcher.BinMatMulAuto(
		[]device.Buffer{a.dAct, a.dWt, a.dOut}, m, n, kBits, kWords)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := a.ctx.DestroyKernel(task); err != nil {
			a.log.Warn("destroy binmm kernel", zap.Error(err))
		}
	}()

	if err := a.ctx.WaitForLastKernel(kernelWait); err != nil {
		return nil, err
	}

	raw := make([]byte, int(m)*int(n)*4)
	if err := a.ctx.Download(raw, a.dOut, types.DownloadSync); err != nil {
		return nil, err
	}
	out := make([]int32, int(m)*int(n))
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}

func wordBytes(words []uint32) []byte {
	raw := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(raw[i*4:], w)
	}
	return raw
}
