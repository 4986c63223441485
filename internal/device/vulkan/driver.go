// Package vulkan implements the device driver interface on the Vulkan API
// through github.com/vulkan-go/vulkan. One driver owns one instance, one
// logical device with a single sequenced compute queue, and every buffer and
// kernel handle it issues.
package vulkan

import (
	"fmt"
	"sync"

	vk "github.com/vulkan-go/vulkan"

	"github.com/arsalan-anwari/tether-io/internal/device"
	"github.com/arsalan-anwari/tether-io/internal/shader"
	"github.com/arsalan-anwari/tether-io/internal/types"
)

func init() {
	device.Register(types.VulkanNative, func() device.Driver { return New() })
}

var (
	loadOnce sync.Once
	loadErr  error
)

// loadVulkan resolves the Vulkan loader once per process.
func loadVulkan() error {
	loadOnce.Do(func() {
		if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
			loadErr = err
			return
		}
		loadErr = vk.Init()
	})
	return loadErr
}

type bufferSlot struct {
	buf  vk.Buffer
	mem  vk.DeviceMemory
	size uintptr
}

// kernelSlot bundles the dispatch resources of one registered kernel. The
// handles RegisterKernel creates are all present or all null; descSet is
// allocated by each launch and stays null before the first one. A slot with
// hasFence set is pending or completed-but-not-reaped.
type kernelSlot struct {
	descLayout vk.DescriptorSetLayout
	pipeLayout vk.PipelineLayout
	pipeline   vk.Pipeline
	descPool   vk.DescriptorPool
	descSet    vk.DescriptorSet
	cmdBuf     vk.CommandBuffer
	fence      vk.Fence
	hasFence   bool

	paramSize uintptr
	name      string
}

// Driver is the Vulkan-native backend.
type Driver struct {
	state device.State

	instance    vk.Instance
	physDevices []vk.PhysicalDevice
	physDevice  vk.PhysicalDevice
	queueFamily uint32
	dev         vk.Device
	queue       vk.Queue
	cmdPool     vk.CommandPool
	limits      device.Limits

	compiler *shader.Compiler

	buffers    map[device.BufferID]*bufferSlot
	kernels    map[device.KernelID]*kernelSlot
	nextBuffer device.BufferID
	nextKernel device.KernelID
	lastKernel device.KernelID
}

// New creates an uninitialised Vulkan driver.
func New() *Driver {
	return &Driver{
		state:    device.StateUninitialised,
		compiler: shader.NewCompiler(nil),
		buffers:  make(map[device.BufferID]*bufferSlot),
		kernels:  make(map[device.KernelID]*kernelSlot),
	}
}

// State exposes the lifecycle position for tests.
func (d *Driver) State() device.State {
	return d.state
}

func vkCheck(ret vk.Result, wrap error, what string) error {
	if ret != vk.Success {
		return fmt.Errorf("%s: %v: %w", what, vk.Error(ret), wrap)
	}
	return nil
}

// nullTerminated makes a Go string safe to hand to the C side.
func nullTerminated(s string) string {
	return s + "\x00"
}

func (d *Driver) Init(ver types.Version, appName string) error {
	if d.state != device.StateUninitialised {
		return fmt.Errorf("init in state %v: %w", d.state, types.ErrNotAvailable)
	}
	if err := loadVulkan(); err != nil {
		return fmt.Errorf("vulkan loader: %v: %w", err, types.ErrInitFailed)
	}

	appInfo := vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		PApplicationName:   nullTerminated(appName),
		ApplicationVersion: vk.MakeVersion(int(ver.Major), int(ver.Minor), int(ver.Patch)),
		PEngineName:        nullTerminated("tether-io"),
		EngineVersion:      vk.MakeVersion(0, 1, 0),
		ApiVersion:         vk.MakeVersion(int(ver.Major), int(ver.Minor), int(ver.Patch)),
	}

	var instance vk.Instance
	ret := vk.CreateInstance(&vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &appInfo,
	}, nil, &instance)
	if err := vkCheck(ret, types.ErrCouldNotCreateInstance, "create instance"); err != nil {
		return err
	}
	if err := vk.InitInstance(instance); err != nil {
		vk.DestroyInstance(instance, nil)
		return fmt.Errorf("init instance: %v: %w", err, types.ErrCouldNotCreateInstance)
	}

	var count uint32
	ret = vk.EnumeratePhysicalDevices(instance, &count, nil)
	if err := vkCheck(ret, types.ErrNoAvailableDevices, "enumerate devices"); err != nil {
		vk.DestroyInstance(instance, nil)
		return err
	}
	if count == 0 {
		vk.DestroyInstance(instance, nil)
		return types.ErrNoAvailableDevices
	}
	devices := make([]vk.PhysicalDevice, count)
	ret = vk.EnumeratePhysicalDevices(instance, &count, devices)
	if err := vkCheck(ret, types.ErrNoAvailableDevices, "enumerate devices"); err != nil {
		vk.DestroyInstance(instance, nil)
		return err
	}

	d.instance = instance
	d.physDevices = devices
	d.state = device.StateInstanceReady
	return nil
}

// candidate summarises one physical device for selection.
type candidate struct {
	deviceType    vk.PhysicalDeviceType
	computeFamily int32 // -1 when the device has no compute-capable family
}

// pickDevice applies the device selector over the enumerated candidates and
// returns the chosen index, or -1 when nothing matches.
func pickDevice(candidates []candidate, sel types.DeviceSelect) int {
	match := func(c candidate) bool { return c.computeFamily >= 0 }
	switch sel {
	case types.Discrete:
		match = func(c candidate) bool {
			return c.computeFamily >= 0 && c.deviceType == vk.PhysicalDeviceTypeDiscreteGpu
		}
	case types.Integrated:
		match = func(c candidate) bool {
			return c.computeFamily >= 0 && c.deviceType == vk.PhysicalDeviceTypeIntegratedGpu
		}
	case types.FirstAvailable, types.FirstComputeCapable:
		// first device with any compute-capable family
	}

	for i, c := range candidates {
		if match(c) {
			return i
		}
	}
	return -1
}

// computeFamilyOf finds the first queue family advertising compute.
func computeFamilyOf(dev vk.PhysicalDevice) int32 {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(dev, &count, nil)
	if count == 0 {
		return -1
	}
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(dev, &count, families)

	for i := range families {
		families[i].Deref()
		if families[i].QueueFlags&vk.QueueFlags(vk.QueueComputeBit) != 0 {
			return int32(i)
		}
	}
	return -1
}

func (d *Driver) SetDevice(sel types.DeviceSelect) error {
	if d.state != device.StateInstanceReady {
		return fmt.Errorf("set device in state %v: %w", d.state, types.ErrNotAvailable)
	}

	candidates := make([]candidate, len(d.physDevices))
	for i, pd := range d.physDevices {
		var props vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(pd, &props)
		props.Deref()
		candidates[i] = candidate{
			deviceType:    props.DeviceType,
			computeFamily: computeFamilyOf(pd),
		}
	}

	idx := pickDevice(candidates, sel)
	if idx < 0 {
		return fmt.Errorf("selector %v: %w", sel, types.ErrNoAvailableDevices)
	}
	physDevice := d.physDevices[idx]
	family := uint32(candidates[idx].computeFamily)

	queueInfo := vk.DeviceQueueCreateInfo{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: family,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}
	var dev vk.Device
	ret := vk.CreateDevice(physDevice, &vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount: 1,
		PQueueCreateInfos:    []vk.DeviceQueueCreateInfo{queueInfo},
	}, nil, &dev)
	if err := vkCheck(ret, types.ErrCouldNotCreateSelectedDevice, "create device"); err != nil {
		return err
	}

	var queue vk.Queue
	vk.GetDeviceQueue(dev, family, 0, &queue)

	var cmdPool vk.CommandPool
	ret = vk.CreateCommandPool(dev, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: family,
	}, nil, &cmdPool)
	if err := vkCheck(ret, types.ErrCouldNotCreateSelectedDevice, "create command pool"); err != nil {
		vk.DestroyDevice(dev, nil)
		return err
	}

	var props vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(physDevice, &props)
	props.Deref()
	props.Limits.Deref()

	d.physDevice = physDevice
	d.queueFamily = family
	d.dev = dev
	d.queue = queue
	d.cmdPool = cmdPool
	d.limits = device.Limits{
		MaxComputeWorkGroupSize: types.Vec3{
			X: props.Limits.MaxComputeWorkGroupSize[0],
			Y: props.Limits.MaxComputeWorkGroupSize[1],
			Z: props.Limits.MaxComputeWorkGroupSize[2],
		},
		MaxComputeWorkGroupInvocations: props.Limits.MaxComputeWorkGroupInvocations,
	}
	d.state = device.StateDeviceReady
	return nil
}

func (d *Driver) Limits() (device.Limits, error) {
	if d.state != device.StateDeviceReady && d.state != device.StateRunning {
		return device.Limits{}, fmt.Errorf("limits in state %v: %w", d.state, types.ErrNotAvailable)
	}
	return d.limits, nil
}

func (d *Driver) Exit() error {
	if d.state == device.StateTerminated {
		return nil
	}

	if d.dev != nil {
		vk.DeviceWaitIdle(d.dev)

		for id := range d.kernels {
			_ = d.DestroyKernel(device.Kernel{ID: id})
		}
		for id, slot := range d.buffers {
			vk.DestroyBuffer(d.dev, slot.buf, nil)
			vk.FreeMemory(d.dev, slot.mem, nil)
			delete(d.buffers, id)
		}

		vk.DestroyCommandPool(d.dev, d.cmdPool, nil)
		vk.DestroyDevice(d.dev, nil)
		d.dev = nil
		d.queue = nil
		d.cmdPool = vk.NullCommandPool
	}
	if d.instance != nil {
		vk.DestroyInstance(d.instance, nil)
		d.instance = nil
	}

	d.physDevices = nil
	d.physDevice = nil
	d.lastKernel = 0
	d.state = device.StateTerminated
	return nil
}
