package vulkan

import (
	"context"
	"fmt"
	"runtime"
	"time"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/config"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// Loader provides the Vulkan entry point and the instance extensions the
// window system needs.
type Loader interface {
	VulkanProcAddr() unsafe.Pointer
	RequiredInstanceExtensions() []string
}

// fenceWaitSlice bounds a single native fence wait so context cancellation
// is noticed.
const fenceWaitSlice = uint64(100 * time.Millisecond)

// VulkanDevice implements Device on a logical device with one graphics
// queue.
type VulkanDevice struct {
	Instance           vk.Instance
	PhysicalDevice     vk.PhysicalDevice
	LogicalDevice      vk.Device
	GraphicsQueueIndex uint32
	GraphicsQueue      vk.Queue

	Properties vk.PhysicalDeviceProperties
	Memory     vk.PhysicalDeviceMemoryProperties

	debugCallback vk.DebugReportCallback
	locks         *LockPool
	names         map[interface{}]string
}

// NewNative creates a Vulkan device through loader and wraps it in a Backend.
func NewNative(cfg *config.Config, loader Loader, compiler rhi.ShaderCompiler) (*Backend, error) {
	device, err := NewVulkanDevice(cfg, loader)
	if err != nil {
		return nil, err
	}
	return New(cfg, device, compiler), nil
}

func NewVulkanDevice(cfg *config.Config, loader Loader) (*VulkanDevice, error) {
	procAddr := loader.VulkanProcAddr()
	if procAddr == nil {
		return nil, fmt.Errorf("%w: GetInstanceProcAddress is nil", core.ErrNativeCall)
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		return nil, fmt.Errorf("%w: vk.Init: %w", core.ErrNativeCall, err)
	}

	d := &VulkanDevice{locks: NewLockPool(), names: make(map[interface{}]string)}
	if err := d.createInstance(cfg, loader.RequiredInstanceExtensions()); err != nil {
		return nil, err
	}
	if err := d.selectPhysicalDevice(); err != nil {
		d.Destroy()
		return nil, err
	}
	if err := d.createLogicalDevice(); err != nil {
		d.Destroy()
		return nil, err
	}
	core.LogInfo("Vulkan device %s ready.", vk.ToString(d.Properties.DeviceName[:]))
	return d, nil
}

func (d *VulkanDevice) createInstance(cfg *config.Config, windowExtensions []string) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(cfg.Application.Name),
		PEngineName:        VulkanSafeString("Anima RHI"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	extensions := append([]string{}, windowExtensions...)
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		createInfo.Flags |= 1
	}

	var layers []string
	if cfg.Debug.Validation {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
		layers = []string{"VK_LAYER_KHRONOS_validation"}
		if err := checkLayers(layers); err != nil {
			core.LogWarn("validation disabled: %s", err)
			layers = nil
		}
	}
	for _, e := range extensions {
		core.LogDebug("instance extension %s", e)
	}

	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	if err := checkResult("vkCreateInstance", vk.CreateInstance(&createInfo, nil, &d.Instance)); err != nil {
		return err
	}
	if err := vk.InitInstance(d.Instance); err != nil {
		return fmt.Errorf("%w: vk.InitInstance: %w", core.ErrNativeCall, err)
	}
	core.LogInfo("Vulkan Instance created.")

	if len(layers) > 0 {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(d.Instance, &debugCreateInfo, nil, &dbg)); err != nil {
			core.LogWarn("vk.CreateDebugReportCallback failed with %s", err)
		} else {
			d.debugCallback = dbg
			core.LogDebug("Vulkan debugger created.")
		}
	}
	return nil
}

func checkLayers(required []string) error {
	var count uint32
	if err := checkResult("vkEnumerateInstanceLayerProperties", vk.EnumerateInstanceLayerProperties(&count, nil)); err != nil {
		return err
	}
	available := make([]vk.LayerProperties, count)
	if err := checkResult("vkEnumerateInstanceLayerProperties", vk.EnumerateInstanceLayerProperties(&count, available)); err != nil {
		return err
	}
	for _, name := range required {
		found := false
		for i := range available {
			available[i].Deref()
			n := FindFirstZeroInByteArray(available[i].LayerName[:])
			if name == string(available[i].LayerName[:n]) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: layer %s is missing", core.ErrUnsupported, name)
		}
	}
	return nil
}

// selectPhysicalDevice picks the first device with a graphics queue,
// preferring discrete GPUs.
func (d *VulkanDevice) selectPhysicalDevice() error {
	var count uint32
	if err := checkResult("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(d.Instance, &count, nil)); err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: no devices which support Vulkan were found", core.ErrUnsupported)
	}
	devices := make([]vk.PhysicalDevice, count)
	if err := checkResult("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(d.Instance, &count, devices)); err != nil {
		return err
	}

	found := false
	for _, pd := range devices {
		queue, ok := graphicsQueueFamily(pd)
		if !ok {
			continue
		}
		var props vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(pd, &props)
		props.Deref()
		if found && props.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu {
			continue
		}
		d.PhysicalDevice = pd
		d.GraphicsQueueIndex = queue
		d.Properties = props
		found = true
		if props.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu {
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: no device with a graphics queue", core.ErrUnsupported)
	}
	vk.GetPhysicalDeviceMemoryProperties(d.PhysicalDevice, &d.Memory)
	d.Memory.Deref()
	return nil
}

func graphicsQueueFamily(pd vk.PhysicalDevice) (uint32, bool) {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, nil)
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, families)
	for i := range families {
		families[i].Deref()
		if families[i].QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
			return uint32(i), true
		}
	}
	return 0, false
}

func (d *VulkanDevice) createLogicalDevice() error {
	core.LogInfo("Creating logical device...")
	queueInfo := vk.DeviceQueueCreateInfo{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: d.GraphicsQueueIndex,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}
	var extensions []string
	if runtime.GOOS == "darwin" {
		extensions = append(extensions, "VK_KHR_portability_subset")
	}
	info := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    1,
		PQueueCreateInfos:       []vk.DeviceQueueCreateInfo{queueInfo},
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{{}},
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensions),
	}
	var device vk.Device
	if err := checkResult("vkCreateDevice", vk.CreateDevice(d.PhysicalDevice, &info, nil, &device)); err != nil {
		return err
	}
	d.LogicalDevice = device
	var queue vk.Queue
	vk.GetDeviceQueue(d.LogicalDevice, d.GraphicsQueueIndex, 0, &queue)
	d.GraphicsQueue = queue
	core.LogInfo("Logical device created.")
	return nil
}

func (d *VulkanDevice) findMemoryIndex(typeFilter uint32, properties vk.MemoryPropertyFlagBits) (uint32, error) {
	for i := uint32(0); i < d.Memory.MemoryTypeCount; i++ {
		d.Memory.MemoryTypes[i].Deref()
		flags := vk.MemoryPropertyFlagBits(d.Memory.MemoryTypes[i].PropertyFlags)
		if typeFilter&(1<<i) != 0 && flags&properties == properties {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: no memory type with properties %#x", core.ErrUnsupported, properties)
}

func (d *VulkanDevice) allocate(req vk.MemoryRequirements, properties vk.MemoryPropertyFlagBits) (vk.DeviceMemory, error) {
	req.Deref()
	index, err := d.findMemoryIndex(req.MemoryTypeBits, properties)
	if err != nil {
		return vk.NullDeviceMemory, err
	}
	var mem vk.DeviceMemory
	res := vk.AllocateMemory(d.LogicalDevice, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: index,
	}, nil, &mem)
	return mem, checkResult("vkAllocateMemory", res)
}

func (d *VulkanDevice) CreateDescriptorSetLayout(bindings []vk.DescriptorSetLayoutBinding) (vk.DescriptorSetLayout, error) {
	var layout vk.DescriptorSetLayout
	res := vk.CreateDescriptorSetLayout(d.LogicalDevice, &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}, nil, &layout)
	return layout, checkResult("vkCreateDescriptorSetLayout", res)
}

func (d *VulkanDevice) DestroyDescriptorSetLayout(layout vk.DescriptorSetLayout) {
	vk.DestroyDescriptorSetLayout(d.LogicalDevice, layout, nil)
	d.forget(layout)
}

func (d *VulkanDevice) CreatePipelineLayout(sets []vk.DescriptorSetLayout, push []vk.PushConstantRange) (vk.PipelineLayout, error) {
	var layout vk.PipelineLayout
	res := vk.CreatePipelineLayout(d.LogicalDevice, &vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(sets)),
		PSetLayouts:            sets,
		PushConstantRangeCount: uint32(len(push)),
		PPushConstantRanges:    push,
	}, nil, &layout)
	return layout, checkResult("vkCreatePipelineLayout", res)
}

func (d *VulkanDevice) DestroyPipelineLayout(layout vk.PipelineLayout) {
	vk.DestroyPipelineLayout(d.LogicalDevice, layout, nil)
	d.forget(layout)
}

func (d *VulkanDevice) CreateDescriptorPool(maxSets uint32, sizes []vk.DescriptorPoolSize) (vk.DescriptorPool, error) {
	var pool vk.DescriptorPool
	res := vk.CreateDescriptorPool(d.LogicalDevice, &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}, nil, &pool)
	return pool, checkResult("vkCreateDescriptorPool", res)
}

func (d *VulkanDevice) ResetDescriptorPool(pool vk.DescriptorPool) error {
	return checkResult("vkResetDescriptorPool", vk.ResetDescriptorPool(d.LogicalDevice, pool, 0))
}

func (d *VulkanDevice) DestroyDescriptorPool(pool vk.DescriptorPool) {
	vk.DestroyDescriptorPool(d.LogicalDevice, pool, nil)
	d.forget(pool)
}

func (d *VulkanDevice) AllocateDescriptorSet(pool vk.DescriptorPool, layout vk.DescriptorSetLayout) (vk.DescriptorSet, error) {
	var set vk.DescriptorSet
	res := vk.AllocateDescriptorSets(d.LogicalDevice, &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     pool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout},
	}, &set)
	return set, checkResult("vkAllocateDescriptorSets", res)
}

func (d *VulkanDevice) UpdateDescriptorSets(writes []DescriptorWrite) {
	native := make([]vk.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		nw := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          w.Set,
			DstBinding:      w.Binding,
			DstArrayElement: w.Element,
			DescriptorCount: 1,
			DescriptorType:  w.Type,
		}
		switch {
		case w.Buffer != nil:
			nw.PBufferInfo = []vk.DescriptorBufferInfo{*w.Buffer}
		case w.Image != nil:
			nw.PImageInfo = []vk.DescriptorImageInfo{*w.Image}
		default:
			core.LogWarn("skipping acceleration structure write to binding %d: device has no ray tracing", w.Binding)
			continue
		}
		native = append(native, nw)
	}
	if len(native) == 0 {
		return
	}
	_ = d.locks.SafeCall(DescriptorManagement, func() error {
		vk.UpdateDescriptorSets(d.LogicalDevice, uint32(len(native)), native, 0, nil)
		return nil
	})
}

func (d *VulkanDevice) CreateShaderModule(code []byte) (vk.ShaderModule, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return vk.NullShaderModule, fmt.Errorf("%w: SPIR-V size %d is not a multiple of 4", core.ErrInvalidConfig, len(code))
	}
	var module vk.ShaderModule
	res := vk.CreateShaderModule(d.LogicalDevice, &vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code)),
		PCode:    unsafe.Slice((*uint32)(unsafe.Pointer(&code[0])), len(code)/4),
	}, nil, &module)
	return module, checkResult("vkCreateShaderModule", res)
}

func (d *VulkanDevice) DestroyShaderModule(module vk.ShaderModule) {
	vk.DestroyShaderModule(d.LogicalDevice, module, nil)
	d.forget(module)
}

func (d *VulkanDevice) CreateRenderPass(info *vk.RenderPassCreateInfo) (vk.RenderPass, error) {
	var pass vk.RenderPass
	return pass, checkResult("vkCreateRenderPass", vk.CreateRenderPass(d.LogicalDevice, info, nil, &pass))
}

func (d *VulkanDevice) DestroyRenderPass(pass vk.RenderPass) {
	vk.DestroyRenderPass(d.LogicalDevice, pass, nil)
	d.forget(pass)
}

func (d *VulkanDevice) CreateFramebuffer(info *vk.FramebufferCreateInfo) (vk.Framebuffer, error) {
	var fb vk.Framebuffer
	return fb, checkResult("vkCreateFramebuffer", vk.CreateFramebuffer(d.LogicalDevice, info, nil, &fb))
}

func (d *VulkanDevice) DestroyFramebuffer(fb vk.Framebuffer) {
	vk.DestroyFramebuffer(d.LogicalDevice, fb, nil)
}

func (d *VulkanDevice) CreateGraphicsPipeline(info *vk.GraphicsPipelineCreateInfo) (vk.Pipeline, error) {
	pipelines := make([]vk.Pipeline, 1)
	res := vk.CreateGraphicsPipelines(d.LogicalDevice, vk.NullPipelineCache, 1, []vk.GraphicsPipelineCreateInfo{*info}, nil, pipelines)
	return pipelines[0], checkResult("vkCreateGraphicsPipelines", res)
}

func (d *VulkanDevice) CreateComputePipeline(info *vk.ComputePipelineCreateInfo) (vk.Pipeline, error) {
	pipelines := make([]vk.Pipeline, 1)
	res := vk.CreateComputePipelines(d.LogicalDevice, vk.NullPipelineCache, 1, []vk.ComputePipelineCreateInfo{*info}, nil, pipelines)
	return pipelines[0], checkResult("vkCreateComputePipelines", res)
}

func (d *VulkanDevice) DestroyPipeline(p vk.Pipeline) {
	vk.DestroyPipeline(d.LogicalDevice, p, nil)
	d.forget(p)
}

func (d *VulkanDevice) CreateBuffer(info *vk.BufferCreateInfo, memory vk.MemoryPropertyFlagBits) (BufferAllocation, error) {
	// Device addresses need Vulkan 1.2 entry points the bindings lack.
	info.Usage &^= vk.BufferUsageFlags(bufferUsageShaderDeviceAddressBit)
	alloc := BufferAllocation{Size: uint64(info.Size)}
	if err := checkResult("vkCreateBuffer", vk.CreateBuffer(d.LogicalDevice, info, nil, &alloc.Buffer)); err != nil {
		return alloc, err
	}
	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.LogicalDevice, alloc.Buffer, &req)
	mem, err := d.allocate(req, memory)
	if err != nil {
		vk.DestroyBuffer(d.LogicalDevice, alloc.Buffer, nil)
		return BufferAllocation{}, err
	}
	alloc.Memory = mem
	if err := checkResult("vkBindBufferMemory", vk.BindBufferMemory(d.LogicalDevice, alloc.Buffer, mem, 0)); err != nil {
		d.DestroyBuffer(alloc)
		return BufferAllocation{}, err
	}
	return alloc, nil
}

func (d *VulkanDevice) WriteBuffer(buf BufferAllocation, offset uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var ptr unsafe.Pointer
	res := vk.MapMemory(d.LogicalDevice, buf.Memory, vk.DeviceSize(offset), vk.DeviceSize(len(data)), 0, &ptr)
	if err := checkResult("vkMapMemory", res); err != nil {
		return err
	}
	copy(unsafe.Slice((*byte)(ptr), len(data)), data)
	vk.UnmapMemory(d.LogicalDevice, buf.Memory)
	return nil
}

func (d *VulkanDevice) DestroyBuffer(buf BufferAllocation) {
	vk.DestroyBuffer(d.LogicalDevice, buf.Buffer, nil)
	vk.FreeMemory(d.LogicalDevice, buf.Memory, nil)
	d.forget(buf.Buffer)
}

func (d *VulkanDevice) CreateImage(info *vk.ImageCreateInfo, aspect vk.ImageAspectFlagBits) (ImageAllocation, error) {
	var alloc ImageAllocation
	if err := checkResult("vkCreateImage", vk.CreateImage(d.LogicalDevice, info, nil, &alloc.Image)); err != nil {
		return alloc, err
	}
	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.LogicalDevice, alloc.Image, &req)
	mem, err := d.allocate(req, vk.MemoryPropertyDeviceLocalBit)
	if err != nil {
		vk.DestroyImage(d.LogicalDevice, alloc.Image, nil)
		return ImageAllocation{}, err
	}
	alloc.Memory = mem
	if err := checkResult("vkBindImageMemory", vk.BindImageMemory(d.LogicalDevice, alloc.Image, mem, 0)); err != nil {
		d.DestroyImage(alloc)
		return ImageAllocation{}, err
	}
	res := vk.CreateImageView(d.LogicalDevice, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    alloc.Image,
		ViewType: vk.ImageViewType2d,
		Format:   info.Format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(aspect),
			LevelCount: info.MipLevels,
			LayerCount: 1,
		},
	}, nil, &alloc.View)
	if err := checkResult("vkCreateImageView", res); err != nil {
		d.DestroyImage(alloc)
		return ImageAllocation{}, err
	}
	return alloc, nil
}

func (d *VulkanDevice) DestroyImage(img ImageAllocation) {
	if img.View != vk.NullImageView {
		vk.DestroyImageView(d.LogicalDevice, img.View, nil)
	}
	vk.DestroyImage(d.LogicalDevice, img.Image, nil)
	vk.FreeMemory(d.LogicalDevice, img.Memory, nil)
	d.forget(img.Image)
}

func (d *VulkanDevice) CreateSampler(info *vk.SamplerCreateInfo) (vk.Sampler, error) {
	var s vk.Sampler
	return s, checkResult("vkCreateSampler", vk.CreateSampler(d.LogicalDevice, info, nil, &s))
}

func (d *VulkanDevice) DestroySampler(s vk.Sampler) {
	vk.DestroySampler(d.LogicalDevice, s, nil)
	d.forget(s)
}

func (d *VulkanDevice) CreateCommandPool() (vk.CommandPool, error) {
	var pool vk.CommandPool
	res := vk.CreateCommandPool(d.LogicalDevice, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: d.GraphicsQueueIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
	}, nil, &pool)
	return pool, checkResult("vkCreateCommandPool", res)
}

func (d *VulkanDevice) ResetCommandPool(pool vk.CommandPool) error {
	return checkResult("vkResetCommandPool", vk.ResetCommandPool(d.LogicalDevice, pool, 0))
}

func (d *VulkanDevice) DestroyCommandPool(pool vk.CommandPool) {
	vk.DestroyCommandPool(d.LogicalDevice, pool, nil)
	d.forget(pool)
}

func (d *VulkanDevice) AllocateCommandBuffer(pool vk.CommandPool) (vk.CommandBuffer, error) {
	buffers := make([]vk.CommandBuffer, 1)
	res := vk.AllocateCommandBuffers(d.LogicalDevice, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}, buffers)
	return buffers[0], checkResult("vkAllocateCommandBuffers", res)
}

func (d *VulkanDevice) CreateFence(signaled bool) (vk.Fence, error) {
	info := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	if signaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	return fence, checkResult("vkCreateFence", vk.CreateFence(d.LogicalDevice, &info, nil, &fence))
}

// WaitFence waits in bounded slices so ctx can cancel the wait.
func (d *VulkanDevice) WaitFence(ctx context.Context, fence vk.Fence) error {
	for {
		res := vk.WaitForFences(d.LogicalDevice, 1, []vk.Fence{fence}, vk.True, fenceWaitSlice)
		switch res {
		case vk.Success:
			return nil
		case vk.Timeout:
			if err := ctx.Err(); err != nil {
				return err
			}
		default:
			return checkResult("vkWaitForFences", res)
		}
	}
}

func (d *VulkanDevice) ResetFence(fence vk.Fence) error {
	return checkResult("vkResetFences", vk.ResetFences(d.LogicalDevice, 1, []vk.Fence{fence}))
}

func (d *VulkanDevice) DestroyFence(fence vk.Fence) {
	vk.DestroyFence(d.LogicalDevice, fence, nil)
}

func (d *VulkanDevice) Submit(buffers []vk.CommandBuffer, fence vk.Fence) error {
	submit := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: uint32(len(buffers)),
		PCommandBuffers:    buffers,
	}
	return d.locks.SafeCall(QueueManagement, func() error {
		return checkResult("vkQueueSubmit", vk.QueueSubmit(d.GraphicsQueue, 1, []vk.SubmitInfo{submit}, fence))
	})
}

func (d *VulkanDevice) WaitIdle() error {
	return d.locks.SafeCall(QueueManagement, func() error {
		return checkResult("vkDeviceWaitIdle", vk.DeviceWaitIdle(d.LogicalDevice))
	})
}

// SetObjectName records name for object. The bindings expose no
// VK_EXT_debug_utils entry points, so names only show up in this
// package's own log lines.
func (d *VulkanDevice) SetObjectName(object interface{}, name string) {
	_ = d.locks.SafeCall(DebugNameManagement, func() error {
		d.names[object] = name
		return nil
	})
	core.LogDebug("named %T %q", object, name)
}

// ObjectName returns the name given to object, if any.
func (d *VulkanDevice) ObjectName(object interface{}) (name string, ok bool) {
	_ = d.locks.SafeCall(DebugNameManagement, func() error {
		name, ok = d.names[object]
		return nil
	})
	return name, ok
}

func (d *VulkanDevice) forget(object interface{}) {
	_ = d.locks.SafeCall(DebugNameManagement, func() error {
		delete(d.names, object)
		return nil
	})
}

// RayTracing reports no support: the bindings predate the KHR ray tracing
// extensions.
func (d *VulkanDevice) RayTracing() (RayTracingDevice, bool) {
	return nil, false
}

func (d *VulkanDevice) Destroy() {
	if d.LogicalDevice != nil {
		core.LogInfo("Destroying logical device...")
		vk.DestroyDevice(d.LogicalDevice, nil)
		d.LogicalDevice = nil
	}
	d.PhysicalDevice = nil
	if d.debugCallback != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(d.Instance, d.debugCallback, nil)
		d.debugCallback = vk.NullDebugReportCallback
	}
	if d.Instance != nil {
		vk.DestroyInstance(d.Instance, nil)
		d.Instance = nil
	}
	clear(d.names)
}

func (d *VulkanDevice) BeginCommandBuffer(cb vk.CommandBuffer) error {
	return checkResult("vkBeginCommandBuffer", vk.BeginCommandBuffer(cb, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}))
}

func (d *VulkanDevice) EndCommandBuffer(cb vk.CommandBuffer) error {
	return checkResult("vkEndCommandBuffer", vk.EndCommandBuffer(cb))
}

func (d *VulkanDevice) CmdBindPipeline(cb vk.CommandBuffer, point vk.PipelineBindPoint, p vk.Pipeline) {
	vk.CmdBindPipeline(cb, point, p)
}

func (d *VulkanDevice) CmdBindDescriptorSets(cb vk.CommandBuffer, point vk.PipelineBindPoint, layout vk.PipelineLayout, first uint32, sets []vk.DescriptorSet) {
	vk.CmdBindDescriptorSets(cb, point, layout, first, uint32(len(sets)), sets, 0, nil)
}

func (d *VulkanDevice) CmdPushConstants(cb vk.CommandBuffer, layout vk.PipelineLayout, stages vk.ShaderStageFlags, offset uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	vk.CmdPushConstants(cb, layout, stages, offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (d *VulkanDevice) CmdBeginRenderPass(cb vk.CommandBuffer, info *vk.RenderPassBeginInfo) {
	vk.CmdBeginRenderPass(cb, info, vk.SubpassContentsInline)
}

func (d *VulkanDevice) CmdEndRenderPass(cb vk.CommandBuffer) {
	vk.CmdEndRenderPass(cb)
}

func (d *VulkanDevice) CmdSetViewport(cb vk.CommandBuffer, viewport vk.Viewport) {
	vk.CmdSetViewport(cb, 0, 1, []vk.Viewport{viewport})
}

func (d *VulkanDevice) CmdSetScissor(cb vk.CommandBuffer, scissor vk.Rect2D) {
	vk.CmdSetScissor(cb, 0, 1, []vk.Rect2D{scissor})
}

func (d *VulkanDevice) CmdBindVertexBuffer(cb vk.CommandBuffer, buf vk.Buffer) {
	vk.CmdBindVertexBuffers(cb, 0, 1, []vk.Buffer{buf}, []vk.DeviceSize{0})
}

func (d *VulkanDevice) CmdDraw(cb vk.CommandBuffer, vertexCount, instanceCount uint32) {
	vk.CmdDraw(cb, vertexCount, instanceCount, 0, 0)
}

func (d *VulkanDevice) CmdDispatch(cb vk.CommandBuffer, x, y, z uint32) {
	vk.CmdDispatch(cb, x, y, z)
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogInfo("INFORMATION: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}

var _ Device = (*VulkanDevice)(nil)
