// Package cpunative implements the device driver interface over host
// memory. Buffers are byte slices and kernels resolve to builtin Go
// implementations of the shader contracts, so the full context, launcher and
// sandbox stack runs without a GPU. Submissions complete synchronously;
// fences are signalled at launch.
package cpunative

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/arsalan-anwari/tether-io/internal/config"
	"github.com/arsalan-anwari/tether-io/internal/cpu"
	"github.com/arsalan-anwari/tether-io/internal/device"
	"github.com/arsalan-anwari/tether-io/internal/types"
)

func init() {
	device.Register(types.CPUNative, func() device.Driver { return New() })
}

// builtin executes one kernel contract over the bound buffers.
type builtin func(params []byte, buffers [][]byte) error

var builtins = map[string]builtin{
	"fill":      runFill,
	"multiply":  runMultiply,
	"binmatmul": runBinMatMul,
}

type kernelSlot struct {
	name      string
	workgroup types.Vec3
	paramSize uintptr
	pending   bool
}

// Driver is the CPU-native backend.
type Driver struct {
	state   device.State
	buffers map[device.BufferID][]byte
	kernels map[device.KernelID]*kernelSlot

	nextBuffer device.BufferID
	nextKernel device.KernelID
	lastKernel device.KernelID
}

// New creates an uninitialised CPU-native driver.
func New() *Driver {
	return &Driver{
		state:   device.StateUninitialised,
		buffers: make(map[device.BufferID][]byte),
		kernels: make(map[device.KernelID]*kernelSlot),
	}
}

// State exposes the lifecycle position for tests.
func (d *Driver) State() device.State {
	return d.state
}

func (d *Driver) Init(ver types.Version, appName string) error {
	if d.state != device.StateUninitialised {
		return fmt.Errorf("init in state %v: %w", d.state, types.ErrNotAvailable)
	}
	d.state = device.StateInstanceReady
	return nil
}

func (d *Driver) SetDevice(sel types.DeviceSelect) error {
	if d.state != device.StateInstanceReady {
		return fmt.Errorf("set device in state %v: %w", d.state, types.ErrNotAvailable)
	}
	switch sel {
	case types.FirstAvailable, types.FirstComputeCapable, types.Integrated:
		d.state = device.StateDeviceReady
		return nil
	case types.Discrete:
		// The host CPU is never a discrete device.
		return types.ErrNoAvailableDevices
	default:
		return fmt.Errorf("device selector %v: %w", sel, types.ErrNotAvailable)
	}
}

func (d *Driver) Allocate(sizeBytes uintptr, method types.AllocMethod) (device.Buffer, error) {
	if d.state != device.StateDeviceReady && d.state != device.StateRunning {
		return device.Buffer{}, fmt.Errorf("allocate in state %v: %w", d.state, types.ErrNotAvailable)
	}
	if method != types.AllocBase {
		return device.Buffer{}, fmt.Errorf("alloc method %d: %w", method, types.ErrNotAvailable)
	}
	if sizeBytes == 0 {
		return device.Buffer{}, fmt.Errorf("zero-size allocation: %w", types.ErrCouldNotCreateBuffer)
	}

	d.nextBuffer++
	d.buffers[d.nextBuffer] = make([]byte, sizeBytes)
	return device.Buffer{ID: d.nextBuffer, Size: sizeBytes}, nil
}

func (d *Driver) Upload(dst device.Buffer, src []byte, method types.UploadMethod) error {
	if method != types.UploadSync {
		return fmt.Errorf("upload method %d: %w", method, types.ErrNotAvailable)
	}
	mem, ok := d.buffers[dst.ID]
	if !ok {
		return fmt.Errorf("unknown buffer %d: %w", dst.ID, types.ErrUploadFailed)
	}
	if len(src) > len(mem) {
		return fmt.Errorf("%d bytes into %d-byte buffer: %w", len(src), len(mem), types.ErrUploadFailed)
	}
	copy(mem, src)
	return nil
}

func (d *Driver) Download(dst []byte, src device.Buffer, method types.DownloadMethod) error {
	if method != types.DownloadSync {
		return fmt.Errorf("download method %d: %w", method, types.ErrNotAvailable)
	}
	mem, ok := d.buffers[src.ID]
	if !ok {
		return fmt.Errorf("unknown buffer %d: %w", src.ID, types.ErrDownloadFailed)
	}
	if len(dst) > len(mem) {
		return fmt.Errorf("%d bytes from %d-byte buffer: %w", len(dst), len(mem), types.ErrDownloadFailed)
	}
	copy(dst, mem)
	return nil
}

func (d *Driver) RegisterKernel(cfg config.KernelConfig, workgroup types.Vec3, buffers []device.Buffer) (device.Kernel, error) {
	if d.state != device.StateDeviceReady && d.state != device.StateRunning {
		return device.Kernel{}, fmt.Errorf("register in state %v: %w", d.state, types.ErrNotAvailable)
	}
	if workgroup.X == 0 || workgroup.Y == 0 || workgroup.Z == 0 {
		return device.Kernel{}, fmt.Errorf("workgroup %v: %w", workgroup, types.ErrCouldNotRegisterKernel)
	}
	if _, ok := builtins[cfg.Name]; !ok {
		return device.Kernel{}, fmt.Errorf("no builtin for kernel %q: %w", cfg.Name, types.ErrCouldNotRegisterKernel)
	}
	for _, buf := range buffers {
		if _, ok := d.buffers[buf.ID]; !ok {
			return device.Kernel{}, fmt.Errorf("unknown buffer %d: %w", buf.ID, types.ErrCouldNotUpdateDescriptors)
		}
	}

	d.nextKernel++
	d.kernels[d.nextKernel] = &kernelSlot{
		name:      cfg.Name,
		workgroup: workgroup,
		paramSize: cfg.ParamSizeBytes,
	}
	return device.Kernel{ID: d.nextKernel}, nil
}

func (d *Driver) LaunchKernel(task device.Kernel, grid types.Vec3, buffers []device.Buffer, method types.LaunchMethod, params []byte) error {
	if method != types.LaunchSync {
		return fmt.Errorf("launch method %d: %w", method, types.ErrNotAvailable)
	}
	slot, ok := d.kernels[task.ID]
	if !ok {
		return fmt.Errorf("unknown kernel %d: %w", task.ID, types.ErrLaunchFailed)
	}
	if uintptr(len(params)) != slot.paramSize {
		return fmt.Errorf("push block %d bytes, kernel expects %d: %w",
			len(params), slot.paramSize, types.ErrLaunchFailed)
	}

	bound := make([][]byte, len(buffers))
	for i, buf := range buffers {
		mem, ok := d.buffers[buf.ID]
		if !ok {
			return fmt.Errorf("unknown buffer %d: %w", buf.ID, types.ErrCouldNotUpdateDescriptors)
		}
		bound[i] = mem
	}

	if err := builtins[slot.name](params, bound); err != nil {
		return err
	}

	// The builtin ran synchronously; the fence analog is already signalled.
	slot.pending = true
	d.lastKernel = task.ID
	d.state = device.StateRunning
	return nil
}

func (d *Driver) WaitForKernel(task device.Kernel, timeout time.Duration) error {
	slot, ok := d.kernels[task.ID]
	if !ok {
		return nil
	}
	slot.pending = false
	return nil
}

func (d *Driver) WaitForLastKernel(timeout time.Duration) error {
	if d.lastKernel == 0 {
		return nil
	}
	return d.WaitForKernel(device.Kernel{ID: d.lastKernel}, timeout)
}

func (d *Driver) DestroyKernel(task device.Kernel) error {
	delete(d.kernels, task.ID)
	if d.lastKernel == task.ID {
		d.lastKernel = 0
	}
	return nil
}

func (d *Driver) Limits() (device.Limits, error) {
	if d.state != device.StateDeviceReady && d.state != device.StateRunning {
		return device.Limits{}, fmt.Errorf("limits in state %v: %w", d.state, types.ErrNotAvailable)
	}
	return device.Limits{
		MaxComputeWorkGroupSize:        types.Vec3{X: 1024, Y: 1024, Z: 64},
		MaxComputeWorkGroupInvocations: 1024,
	}, nil
}

func (d *Driver) Exit() error {
	d.buffers = make(map[device.BufferID][]byte)
	d.kernels = make(map[device.KernelID]*kernelSlot)
	d.lastKernel = 0
	d.state = device.StateTerminated
	return nil
}

func runFill(params []byte, buffers [][]byte) error {
	if len(params) != 8 || len(buffers) != 1 {
		return fmt.Errorf("fill dispatch: %w", types.ErrLaunchFailed)
	}
	value := math.Float32frombits(binary.LittleEndian.Uint32(params[0:4]))
	count := binary.LittleEndian.Uint32(params[4:8])

	out := buffers[0]
	if uint64(count)*4 > uint64(len(out)) {
		return fmt.Errorf("fill count %d over %d-byte buffer: %w", count, len(out), types.ErrLaunchFailed)
	}
	bits := math.Float32bits(value)
	for i := uint32(0); i < count; i++ {
		binary.LittleEndian.PutUint32(out[i*4:], bits)
	}
	return nil
}

func runMultiply(params []byte, buffers [][]byte) error {
	if len(params) != 8 || len(buffers) != 1 {
		return fmt.Errorf("multiply dispatch: %w", types.ErrLaunchFailed)
	}
	factor := math.Float32frombits(binary.LittleEndian.Uint32(params[0:4]))
	count := binary.LittleEndian.Uint32(params[4:8])

	inout := buffers[0]
	if uint64(count)*4 > uint64(len(inout)) {
		return fmt.Errorf("multiply count %d over %d-byte buffer: %w", count, len(inout), types.ErrLaunchFailed)
	}
	for i := uint32(0); i < count; i++ {
		v := math.Float32frombits(binary.LittleEndian.Uint32(inout[i*4:]))
		binary.LittleEndian.PutUint32(inout[i*4:], math.Float32bits(v*factor))
	}
	return nil
}

func runBinMatMul(params []byte, buffers [][]byte) error {
	if len(params) != 16 || len(buffers) != 3 {
		return fmt.Errorf("binmatmul dispatch: %w", types.ErrLaunchFailed)
	}
	m := binary.LittleEndian.Uint32(params[0:4])
	n := binary.LittleEndian.Uint32(params[4:8])
	kBits := binary.LittleEndian.Uint32(params[8:12])
	kWords := binary.LittleEndian.Uint32(params[12:16])
	if kWords != cpu.KWords(kBits) {
		return fmt.Errorf("kWords %d for kBits %d: %w", kWords, kBits, types.ErrLaunchFailed)
	}

	aBits, err := wordsOf(buffers[0], uint64(m)*uint64(kWords))
	if err != nil {
		return err
	}
	bBits, err := wordsOf(buffers[1], uint64(n)*uint64(kWords))
	if err != nil {
		return err
	}
	if uint64(len(buffers[2])) < uint64(m)*uint64(n)*4 {
		return fmt.Errorf("output buffer %d bytes for %dx%d: %w", len(buffers[2]), m, n, types.ErrLaunchFailed)
	}

	c, err := cpu.BinMatMul(aBits, bBits, m, n, kBits)
	if err != nil {
		return err
	}
	for i, v := range c {
		binary.LittleEndian.PutUint32(buffers[2][i*4:], uint32(v))
	}
	return nil
}

// wordsOf decodes the leading count little-endian 32-bit words of mem.
func wordsOf(mem []byte, count uint64) ([]uint32, error) {
	if uint64(len(mem)) < count*4 {
		return nil, fmt.Errorf("buffer %d bytes, need %d words: %w", len(mem), count, types.ErrLaunchFailed)
	}
	words := make([]uint32, count)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(mem[i*4:])
	}
	return words, nil
}
