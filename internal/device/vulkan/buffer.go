package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"

	"github.com/arsalan-anwari/tether-io/internal/device"
	"github.com/arsalan-anwari/tether-io/internal/types"
)

// pickMemoryType returns the lowest-indexed memory type whose bit is set in
// typeBits and whose property flags are a superset of want, or -1.
func pickMemoryType(typeBits uint32, flags []uint32, want uint32) int {
	for i, f := range flags {
		if typeBits&(1<<uint(i)) == 0 {
			continue
		}
		if f&want == want {
			return i
		}
	}
	return -1
}

func (d *Driver) findMemoryType(typeBits uint32, want vk.MemoryPropertyFlags) (uint32, error) {
	var memProps vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(d.physDevice, &memProps)
	memProps.Deref()

	flags := make([]uint32, memProps.MemoryTypeCount)
	for i := uint32(0); i < memProps.MemoryTypeCount; i++ {
		memProps.MemoryTypes[i].Deref()
		flags[i] = uint32(memProps.MemoryTypes[i].PropertyFlags)
	}

	idx := pickMemoryType(typeBits, flags, uint32(want))
	if idx < 0 {
		return 0, fmt.Errorf("no memory type for bits %#x flags %#x: %w",
			typeBits, want, types.ErrCouldNotCreateBuffer)
	}
	return uint32(idx), nil
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

	var buf vk.Buffer
	ret := vk.CreateBuffer(d.dev, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(sizeBytes),
		Usage:       vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit),
		SharingMode: vk.SharingModeExclusive,
	}, nil, &buf)
	if err := vkCheck(ret, types.ErrCouldNotCreateBuffer, "create buffer"); err != nil {
		return device.Buffer{}, err
	}

	var memReq vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.dev, buf, &memReq)
	memReq.Deref()

	memType, err := d.findMemoryType(memReq.MemoryTypeBits,
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		vk.DestroyBuffer(d.dev, buf, nil)
		return device.Buffer{}, err
	}

	var mem vk.DeviceMemory
	ret = vk.AllocateMemory(d.dev, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReq.Size,
		MemoryTypeIndex: memType,
	}, nil, &mem)
	if err := vkCheck(ret, types.ErrAllocFailed, "allocate memory"); err != nil {
		vk.DestroyBuffer(d.dev, buf, nil)
		return device.Buffer{}, err
	}

	ret = vk.BindBufferMemory(d.dev, buf, mem, 0)
	if err := vkCheck(ret, types.ErrAllocFailed, "bind buffer memory"); err != nil {
		vk.FreeMemory(d.dev, mem, nil)
		vk.DestroyBuffer(d.dev, buf, nil)
		return device.Buffer{}, err
	}

	d.nextBuffer++
	d.buffers[d.nextBuffer] = &bufferSlot{buf: buf, mem: mem, size: sizeBytes}
	return device.Buffer{ID: d.nextBuffer, Size: sizeBytes}, nil
}

// mapped runs f over the host mapping of a buffer slot's memory.
func (d *Driver) mapped(slot *bufferSlot, n uintptr, wrap error, f func(mem []byte)) error {
	var ptr unsafe.Pointer
	ret := vk.MapMemory(d.dev, slot.mem, 0, vk.DeviceSize(n), 0, &ptr)
	if err := vkCheck(ret, wrap, "map memory"); err != nil {
		return err
	}
	f(unsafe.Slice((*byte)(ptr), n))
	vk.UnmapMemory(d.dev, slot.mem)
	return nil
}

func (d *Driver) Upload(dst device.Buffer, src []byte, method types.UploadMethod) error {
	if method != types.UploadSync {
		return fmt.Errorf("upload method %d: %w", method, types.ErrNotAvailable)
	}
	slot, ok := d.buffers[dst.ID]
	if !ok {
		return fmt.Errorf("unknown buffer %d: %w", dst.ID, types.ErrUploadFailed)
	}
	if uintptr(len(src)) > slot.size {
		return fmt.Errorf("%d bytes into %d-byte buffer: %w", len(src), slot.size, types.ErrUploadFailed)
	}
	if len(src) == 0 {
		return nil
	}
	return d.mapped(slot, uintptr(len(src)), types.ErrUploadFailed, func(mem []byte) {
		copy(mem, src)
	})
}

func (d *Driver) Download(dst []byte, src device.Buffer, method types.DownloadMethod) error {
	if method != types.DownloadSync {
		return fmt.Errorf("download method %d: %w", method, types.ErrNotAvailable)
	}
	slot, ok := d.buffers[src.ID]
	if !ok {
		return fmt.Errorf("unknown buffer %d: %w", src.ID, types.ErrDownloadFailed)
	}
	if uintptr(len(dst)) > slot.size {
		return fmt.Errorf("%d bytes from %d-byte buffer: %w", len(dst), slot.size, types.ErrDownloadFailed)
	}
	if len(dst) == 0 {
		return nil
	}
	return d.mapped(slot, uintptr(len(dst)), types.ErrDownloadFailed, func(mem []byte) {
		copy(dst, mem)
	})
}
