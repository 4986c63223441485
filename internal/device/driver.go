// Package device defines the driver interface of the compute stack and the
// context facade that fronts it. A driver owns every native handle it hands
// out; buffers and kernels are opaque values that are only meaningful on the
// context that created them.
package device

import (
	"fmt"
	"time"

	"github.com/arsalan-anwari/tether-io/internal/config"
	"github.com/arsalan-anwari/tether-io/internal/types"
)

// BufferID names a driver-owned buffer/memory pair.
type BufferID uint64

// KernelID names a driver-owned kernel resource bundle.
type KernelID uint64

// Buffer is an opaque handle to a device buffer. Size is the allocation size
// in bytes.
type Buffer struct {
	ID   BufferID
	Size uintptr
}

// Kernel is an opaque handle to a registered kernel: pipeline, layouts,
// descriptor pool and set, command buffer, and an optional completion fence.
type Kernel struct {
	ID KernelID
}

// Limits reports the device dispatch limits the tile policy consults.
type Limits struct {
	MaxComputeWorkGroupSize        types.Vec3
	MaxComputeWorkGroupInvocations uint32
}

// State is the lifecycle position of a driver.
type State uint8

const (
	StateUninitialised State = iota
	StateInstanceReady
	StateDeviceReady
	StateRunning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialised:
		return "uninitialised"
	case StateInstanceReady:
		return "instance_ready"
	case StateDeviceReady:
		return "device_ready"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Driver is the operation set every compute backend implements. Init,
// SetDevice, Allocate, RegisterKernel and Limits made out of lifecycle order
// return ErrNotAvailable; Upload, Download and LaunchKernel check only the
// handles they are given and fail with their own error for a handle the
// driver does not hold; waits on such a handle return nil. Teardown calls
// are idempotent. Drivers are not re-entrant: a context serialises access.
type Driver interface {
	// Init creates the API instance and enumerates physical devices.
	Init(ver types.Version, appName string) error

	// SetDevice selects a physical device and creates the logical device
	// and its single sequenced queue.
	SetDevice(sel types.DeviceSelect) error

	// Allocate creates a storage buffer of sizeBytes bound to
	// host-visible, host-coherent memory.
	Allocate(sizeBytes uintptr, method types.AllocMethod) (Buffer, error)

	// Upload copies src into dst. Only the Sync method is available.
	Upload(dst Buffer, src []byte, method types.UploadMethod) error

	// Download copies src into dst. Only the Sync method is available.
	Download(dst []byte, src Buffer, method types.DownloadMethod) error

	// RegisterKernel builds the full dispatch bundle for cfg with the
	// given workgroup size and buffer bindings. On failure every
	// subordinate resource already created is destroyed in reverse order.
	RegisterKernel(cfg config.KernelConfig, workgroup types.Vec3, buffers []Buffer) (Kernel, error)

	// LaunchKernel records and submits one dispatch of task over grid,
	// binding buffers in order and pushing params as the push-constant
	// block. It does not wait for completion.
	LaunchKernel(task Kernel, grid types.Vec3, buffers []Buffer, method types.LaunchMethod, params []byte) error

	// WaitForKernel blocks on the task's fence up to timeout.
	WaitForKernel(task Kernel, timeout time.Duration) error

	// WaitForLastKernel waits on the most recently submitted task.
	WaitForLastKernel(timeout time.Duration) error

	// DestroyKernel releases the task's resources. Idempotent.
	DestroyKernel(task Kernel) error

	// Limits reports device dispatch limits.
	Limits() (Limits, error)

	// Exit waits for the device to idle and tears everything down.
	// Idempotent; the driver is terminal afterwards.
	Exit() error
}

// Factory constructs a driver. Driver packages register themselves in init.
type Factory func() Driver

var factories = map[types.DeviceDriver]Factory{}

// Register installs the factory for a driver kind. Later registrations for
// the same kind win, which lets tests swap in fakes.
func Register(kind types.DeviceDriver, f Factory) {
	factories[kind] = f
}

// NewDriver constructs the registered driver for kind.
func NewDriver(kind types.DeviceDriver) (Driver, error) {
	f, ok := factories[kind]
	if !ok {
		return nil, fmt.Errorf("driver %v not linked in: %w", kind, types.ErrNotAvailable)
	}
	return f(), nil
}
