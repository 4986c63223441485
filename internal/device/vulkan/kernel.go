package vulkan

import (
	"fmt"
	"time"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"

	"github.com/arsalan-anwari/tether-io/internal/config"
	"github.com/arsalan-anwari/tether-io/internal/device"
	"github.com/arsalan-anwari/tether-io/internal/types"
)

// unwind is a reverse-order cleanup stack for construction paths. Disarm
// after the last fallible step.
type unwind struct {
	steps []func()
	armed bool
}

func newUnwind() *unwind {
	return &unwind{armed: true}
}

func (u *unwind) push(f func()) {
	u.steps = append(u.steps, f)
}

func (u *unwind) disarm() {
	u.armed = false
}

func (u *unwind) run() {
	if !u.armed {
		return
	}
	for i := len(u.steps) - 1; i >= 0; i-- {
		u.steps[i]()
	}
}

func (d *Driver) RegisterKernel(cfg config.KernelConfig, workgroup types.Vec3, buffers []device.Buffer) (device.Kernel, error) {
	if d.state != device.StateDeviceReady && d.state != device.StateRunning {
		return device.Kernel{}, fmt.Errorf("register in state %v: %w", d.state, types.ErrNotAvailable)
	}
	if workgroup.X == 0 || workgroup.Y == 0 || workgroup.Z == 0 {
		return device.Kernel{}, fmt.Errorf("workgroup %v: %w", workgroup, types.ErrCouldNotRegisterKernel)
	}
	for _, buf := range buffers {
		if _, ok := d.buffers[buf.ID]; !ok {
			return device.Kernel{}, fmt.Errorf("unknown buffer %d: %w", buf.ID, types.ErrCouldNotUpdateDescriptors)
		}
	}

	u := newUnwind()
	defer u.run()

	// 1. Descriptor-set layout: one storage-buffer binding per input buffer.
	bindings := make([]vk.DescriptorSetLayoutBinding, len(buffers))
	for i := range buffers {
		bindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         uint32(i),
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		}
	}
	var descLayout vk.DescriptorSetLayout
	ret := vk.CreateDescriptorSetLayout(d.dev, &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}, nil, &descLayout)
	if err := vkCheck(ret, types.ErrCouldNotUpdateDescriptors, "create descriptor set layout"); err != nil {
		return device.Kernel{}, err
	}
	u.push(func() { vk.DestroyDescriptorSetLayout(d.dev, descLayout, nil) })

	// 2. Pipeline layout with the kernel's push-constant range.
	var pipeLayout vk.PipelineLayout
	ret = vk.CreatePipelineLayout(d.dev, &vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: 1,
		PSetLayouts:    []vk.DescriptorSetLayout{descLayout},
		PushConstantRangeCount: 1,
		PPushConstantRanges: []vk.PushConstantRange{{
			StageFlags: vk.ShaderStageFlags(vk.ShaderStageComputeBit),
			Offset:     0,
			Size:       uint32(cfg.ParamSizeBytes),
		}},
	}, nil, &pipeLayout)
	if err := vkCheck(ret, types.ErrCouldNotUpdatePipeline, "create pipeline layout"); err != nil {
		return device.Kernel{}, err
	}
	u.push(func() { vk.DestroyPipelineLayout(d.dev, pipeLayout, nil) })

	// 3. Shader module, compiled or loaded per the kernel config.
	code, err := d.compiler.Compile(cfg)
	if err != nil {
		return device.Kernel{}, err
	}
	var module vk.ShaderModule
	ret = vk.CreateShaderModule(d.dev, &vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code) * 4),
		PCode:    code,
	}, nil, &module)
	if err := vkCheck(ret, types.ErrCouldNotUpdateKernelModule, "create shader module"); err != nil {
		return device.Kernel{}, err
	}
	// The module is only needed until the pipeline exists.
	defer vk.DestroyShaderModule(d.dev, module, nil)

	// 4. Compute pipeline with the workgroup size as specialisation
	// constants 0, 1, 2.
	wgData := [3]uint32{workgroup.X, workgroup.Y, workgroup.Z}
	specEntries := []vk.SpecializationMapEntry{
		{ConstantID: 0, Offset: 0, Size: 4},
		{ConstantID: 1, Offset: 4, Size: 4},
		{ConstantID: 2, Offset: 8, Size: 4},
	}
	specInfo := vk.SpecializationInfo{
		MapEntryCount: uint32(len(specEntries)),
		PMapEntries:   specEntries,
		DataSize:      uint(len(wgData) * 4),
		PData:         unsafe.Pointer(&wgData[0]),
	}
	pipelines := make([]vk.Pipeline, 1)
	ret = vk.CreateComputePipelines(d.dev, vk.NullPipelineCache, 1, []vk.ComputePipelineCreateInfo{{
		SType: vk.StructureTypeComputePipelineCreateInfo,
		Stage: vk.PipelineShaderStageCreateInfo{
			SType:               vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:               vk.ShaderStageComputeBit,
			Module:              module,
			PName:               nullTerminated("main"),
			PSpecializationInfo: &specInfo,
		},
		Layout: pipeLayout,
	}}, nil, pipelines)
	if err := vkCheck(ret, types.ErrCouldNotCreatePipeline, "create compute pipeline"); err != nil {
		return device.Kernel{}, err
	}
	pipeline := pipelines[0]
	u.push(func() { vk.DestroyPipeline(d.dev, pipeline, nil) })

	// 5. Descriptor pool sized to this kernel's bindings, one set.
	var descPool vk.DescriptorPool
	ret = vk.CreateDescriptorPool(d.dev, &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       1,
		PoolSizeCount: 1,
		PPoolSizes: []vk.DescriptorPoolSize{{
			Type:            vk.DescriptorTypeStorageBuffer,
			DescriptorCount: uint32(len(buffers)),
		}},
	}, nil, &descPool)
	if err := vkCheck(ret, types.ErrCouldNotUpdateDescriptors, "create descriptor pool"); err != nil {
		return device.Kernel{}, err
	}
	u.push(func() { vk.DestroyDescriptorPool(d.dev, descPool, nil) })

	// 6. Primary command buffer from the driver pool.
	cmdBufs := make([]vk.CommandBuffer, 1)
	ret = vk.AllocateCommandBuffers(d.dev, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.cmdPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}, cmdBufs)
	if err := vkCheck(ret, types.ErrCouldNotRegisterKernel, "allocate command buffer"); err != nil {
		return device.Kernel{}, err
	}

	u.disarm()
	d.nextKernel++
	d.kernels[d.nextKernel] = &kernelSlot{
		descLayout: descLayout,
		pipeLayout: pipeLayout,
		pipeline:   pipeline,
		descPool:   descPool,
		cmdBuf:     cmdBufs[0],
		fence:      vk.NullFence,
		paramSize:  cfg.ParamSizeBytes,
		name:       cfg.Name,
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

	// Bind the supplied buffers to bindings 0..n-1 through a fresh set.
	ret := vk.ResetDescriptorPool(d.dev, slot.descPool, 0)
	if err := vkCheck(ret, types.ErrCouldNotUpdateDescriptors, "reset descriptor pool"); err != nil {
		return err
	}
	sets := make([]vk.DescriptorSet, 1)
	ret = vk.AllocateDescriptorSets(d.dev, &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     slot.descPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{slot.descLayout},
	}, &sets[0])
	if err := vkCheck(ret, types.ErrCouldNotUpdateDescriptors, "allocate descriptor set"); err != nil {
		return err
	}
	slot.descSet = sets[0]

	writes := make([]vk.WriteDescriptorSet, len(buffers))
	for i, buf := range buffers {
		bufSlot, ok := d.buffers[buf.ID]
		if !ok {
			return fmt.Errorf("unknown buffer %d: %w", buf.ID, types.ErrCouldNotUpdateDescriptors)
		}
		writes[i] = vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          slot.descSet,
			DstBinding:      uint32(i),
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			PBufferInfo: []vk.DescriptorBufferInfo{{
				Buffer: bufSlot.buf,
				Offset: 0,
				Range:  vk.DeviceSize(bufSlot.size),
			}},
		}
	}
	vk.UpdateDescriptorSets(d.dev, uint32(len(writes)), writes, 0, nil)

	// Record the dispatch.
	ret = vk.ResetCommandBuffer(slot.cmdBuf, 0)
	if err := vkCheck(ret, types.ErrCouldNotDispatchKernel, "reset command buffer"); err != nil {
		return err
	}
	ret = vk.BeginCommandBuffer(slot.cmdBuf, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	})
	if err := vkCheck(ret, types.ErrCouldNotDispatchKernel, "begin command buffer"); err != nil {
		return err
	}
	vk.CmdBindPipeline(slot.cmdBuf, vk.PipelineBindPointCompute, slot.pipeline)
	vk.CmdBindDescriptorSets(slot.cmdBuf, vk.PipelineBindPointCompute, slot.pipeLayout,
		0, 1, []vk.DescriptorSet{slot.descSet}, 0, nil)
	if len(params) > 0 {
		vk.CmdPushConstants(slot.cmdBuf, slot.pipeLayout,
			vk.ShaderStageFlags(vk.ShaderStageComputeBit),
			0, uint32(len(params)), unsafe.Pointer(&params[0]))
	}
	vk.CmdDispatch(slot.cmdBuf, grid.X, grid.Y, grid.Z)
	ret = vk.EndCommandBuffer(slot.cmdBuf)
	if err := vkCheck(ret, types.ErrCouldNotDispatchKernel, "end command buffer"); err != nil {
		return err
	}

	// A leftover fence from an unreaped submission is replaced.
	if slot.hasFence {
		vk.DestroyFence(d.dev, slot.fence, nil)
		slot.fence = vk.NullFence
		slot.hasFence = false
	}
	var fence vk.Fence
	ret = vk.CreateFence(d.dev, &vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}, nil, &fence)
	if err := vkCheck(ret, types.ErrLaunchFailed, "create fence"); err != nil {
		return err
	}

	ret = vk.QueueSubmit(d.queue, 1, []vk.SubmitInfo{{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{slot.cmdBuf},
	}}, fence)
	if err := vkCheck(ret, types.ErrLaunchFailed, "queue submit"); err != nil {
		vk.DestroyFence(d.dev, fence, nil)
		return err
	}

	slot.fence = fence
	slot.hasFence = true
	d.lastKernel = task.ID
	d.state = device.StateRunning
	return nil
}

func (d *Driver) WaitForKernel(task device.Kernel, timeout time.Duration) error {
	slot, ok := d.kernels[task.ID]
	if !ok || !slot.hasFence {
		return nil
	}

	ret := vk.WaitForFences(d.dev, 1, []vk.Fence{slot.fence}, vk.True, uint64(timeout.Nanoseconds()))
	switch ret {
	case vk.Success:
		vk.DestroyFence(d.dev, slot.fence, nil)
		slot.fence = vk.NullFence
		slot.hasFence = false
		return nil
	case vk.Timeout:
		// The submission stays pending; the fence is kept for a retry or
		// for DestroyKernel.
		return types.ErrKernelTimeout
	default:
		return vkCheck(ret, types.ErrLaunchFailed, "wait for fence")
	}
}

func (d *Driver) WaitForLastKernel(timeout time.Duration) error {
	if d.lastKernel == 0 {
		return nil
	}
	return d.WaitForKernel(device.Kernel{ID: d.lastKernel}, timeout)
}

func (d *Driver) DestroyKernel(task device.Kernel) error {
	slot, ok := d.kernels[task.ID]
	if !ok {
		return nil
	}

	if slot.hasFence {
		vk.DestroyFence(d.dev, slot.fence, nil)
	}
	vk.DestroyDescriptorPool(d.dev, slot.descPool, nil)
	vk.DestroyPipeline(d.dev, slot.pipeline, nil)
	vk.DestroyPipelineLayout(d.dev, slot.pipeLayout, nil)
	vk.DestroyDescriptorSetLayout(d.dev, slot.descLayout, nil)
	vk.FreeCommandBuffers(d.dev, d.cmdPool, 1, []vk.CommandBuffer{slot.cmdBuf})

	*slot = kernelSlot{fence: vk.NullFence}
	delete(d.kernels, task.ID)
	if d.lastKernel == task.ID {
		d.lastKernel = 0
	}
	return nil
}
