package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

type Buffer struct {
	backend *Backend
	handle  core.Handle
	desc    rhi.BufferDesc
	alloc   BufferAllocation
}

func (b *Backend) CreateBuffer(desc rhi.BufferDesc) (rhi.Buffer, error) {
	return b.createBuffer(desc)
}

func (b *Backend) createBuffer(desc rhi.BufferDesc) (*Buffer, error) {
	if desc.Size == 0 {
		return nil, fmt.Errorf("%w: buffer %q has zero size", core.ErrInvalidConfig, desc.Name)
	}
	alloc, err := b.device.CreateBuffer(&vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Size),
		Usage:       vk.BufferUsageFlags(bufferUsage(desc.Usage)),
		SharingMode: vk.SharingModeExclusive,
	}, memoryProperties(desc.Memory))
	if err != nil {
		core.LogError("failed to create buffer %q: %s", desc.Name, err)
		return nil, fmt.Errorf("buffer %q: %w", desc.Name, err)
	}
	buf := &Buffer{backend: b, desc: desc, alloc: alloc}
	buf.handle = b.buffers.Acquire(buf)
	b.setName(alloc.Buffer, desc.Name)
	return buf, nil
}

func (buf *Buffer) Handle() core.Handle  { return buf.handle }
func (buf *Buffer) Desc() rhi.BufferDesc { return buf.desc }
func (buf *Buffer) GPUAddress() uint64   { return buf.alloc.Address }

// Native returns the Vulkan buffer.
func (buf *Buffer) Native() vk.Buffer { return buf.alloc.Buffer }

func (buf *Buffer) Write(offset uint64, data []byte) error {
	if buf.desc.Memory == rhi.MemoryGPU {
		return fmt.Errorf("%w: buffer %q is not host visible", core.ErrUnsupported, buf.desc.Name)
	}
	if offset+uint64(len(data)) > buf.desc.Size {
		return fmt.Errorf("%w: write of %d bytes at %d overflows buffer %q (%d bytes)",
			core.ErrInvalidConfig, len(data), offset, buf.desc.Name, buf.desc.Size)
	}
	return buf.backend.device.WriteBuffer(buf.alloc, offset, data)
}

func (buf *Buffer) Destroy() {
	if err := buf.backend.buffers.Release(buf.handle); err != nil {
		core.LogWarn("destroying buffer %q: %s", buf.desc.Name, err)
		return
	}
	buf.backend.device.DestroyBuffer(buf.alloc)
}

type Texture struct {
	backend *Backend
	handle  core.Handle
	desc    rhi.TextureDesc
	format  vk.Format
	alloc   ImageAllocation
}

func (b *Backend) CreateTexture(desc rhi.TextureDesc) (rhi.Texture, error) {
	format, err := vkFormat(desc.Format)
	if err != nil {
		return nil, fmt.Errorf("texture %q: %w", desc.Name, err)
	}
	mips := max(desc.MipLevels, 1)
	alloc, err := b.device.CreateImage(&vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  desc.Width,
			Height: desc.Height,
			Depth:  1,
		},
		MipLevels:     mips,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(imageUsage(desc)),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, imageAspect(desc.Format))
	if err != nil {
		core.LogError("failed to create texture %q: %s", desc.Name, err)
		return nil, fmt.Errorf("texture %q: %w", desc.Name, err)
	}
	tex := &Texture{backend: b, desc: desc, format: format, alloc: alloc}
	tex.handle = b.textures.Acquire(tex)
	b.setName(alloc.Image, desc.Name)
	return tex, nil
}

func (t *Texture) Handle() core.Handle   { return t.handle }
func (t *Texture) Desc() rhi.TextureDesc { return t.desc }

// View returns the image view covering every mip of the texture.
func (t *Texture) View() vk.ImageView { return t.alloc.View }

// sampledLayout is the layout a texture of format f is read in by shaders.
func sampledLayout(f rhi.Format) vk.ImageLayout {
	if f.IsDepth() {
		return vk.ImageLayoutDepthStencilReadOnlyOptimal
	}
	return vk.ImageLayoutShaderReadOnlyOptimal
}

func (t *Texture) Destroy() {
	if err := t.backend.textures.Release(t.handle); err != nil {
		core.LogWarn("destroying texture %q: %s", t.desc.Name, err)
		return
	}
	t.backend.device.DestroyImage(t.alloc)
}

type Sampler struct {
	backend *Backend
	handle  core.Handle
	desc    rhi.SamplerDesc
	native  vk.Sampler
}

func (b *Backend) CreateSampler(desc rhi.SamplerDesc) (rhi.Sampler, error) {
	f, mip := filter(desc.Filter)
	mode := addressModes[desc.Address]
	native, err := b.device.CreateSampler(&vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               f,
		MinFilter:               f,
		MipmapMode:              mip,
		AddressModeU:            mode,
		AddressModeV:            mode,
		AddressModeW:            mode,
		MaxAnisotropy:           1,
		CompareOp:               vk.CompareOpAlways,
		MaxLod:                  1000,
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
	})
	if err != nil {
		core.LogError("failed to create sampler %q: %s", desc.Name, err)
		return nil, fmt.Errorf("sampler %q: %w", desc.Name, err)
	}
	s := &Sampler{backend: b, desc: desc, native: native}
	s.handle = b.samplers.Acquire(s)
	b.setName(native, desc.Name)
	return s, nil
}

func (s *Sampler) Handle() core.Handle   { return s.handle }
func (s *Sampler) Desc() rhi.SamplerDesc { return s.desc }
func (s *Sampler) Native() vk.Sampler    { return s.native }

func (s *Sampler) Destroy() {
	if err := s.backend.samplers.Release(s.handle); err != nil {
		core.LogWarn("destroying sampler %q: %s", s.desc.Name, err)
		return
	}
	s.backend.device.DestroySampler(s.native)
}

// AccelerationStructure is a BLAS or a TLAS. A TLAS owns the buffer its
// instances were encoded into.
type AccelerationStructure struct {
	backend   *Backend
	handle    core.Handle
	name      string
	geom      AccelerationStructureGeometry
	alloc     AccelerationStructureAllocation
	instances *Buffer
	built     bool
}

func (b *Backend) rayTracing(what string) (RayTracingDevice, error) {
	rt, ok := b.device.RayTracing()
	if !ok {
		return nil, fmt.Errorf("%w: %s needs VK_KHR_ray_tracing_pipeline", core.ErrUnsupported, what)
	}
	return rt, nil
}

func (b *Backend) CreateBlas(desc rhi.BlasDesc) (rhi.AccelerationStructure, error) {
	rt, err := b.rayTracing("bottom level acceleration structure " + desc.Name)
	if err != nil {
		return nil, err
	}
	if desc.Vertices == nil {
		return nil, fmt.Errorf("%w: blas %q has no vertex buffer", core.ErrInvalidConfig, desc.Name)
	}
	format, err := vkFormat(desc.VertexFormat)
	if err != nil {
		return nil, fmt.Errorf("blas %q: %w", desc.Name, err)
	}
	geom := AccelerationStructureGeometry{
		VertexAddress: desc.Vertices.GPUAddress(),
		VertexStride:  desc.VertexStride,
		VertexCount:   desc.VertexCount,
		VertexFormat:  format,
		Opaque:        desc.Opaque,
	}
	if desc.Indices != nil {
		geom.IndexAddress = desc.Indices.GPUAddress()
		geom.IndexCount = desc.IndexCount
	}
	return b.createAccelerationStructure(rt, desc.Name, geom, nil)
}

func (b *Backend) CreateTlas(desc rhi.TlasDesc) (rhi.AccelerationStructure, error) {
	rt, err := b.rayTracing("top level acceleration structure " + desc.Name)
	if err != nil {
		return nil, err
	}
	if len(desc.Instances) == 0 {
		return nil, fmt.Errorf("%w: tlas %q has no instances", core.ErrInvalidConfig, desc.Name)
	}
	data := rhi.EncodeInstances(desc.Instances)
	instances, err := b.createBuffer(rhi.BufferDesc{
		Name:   desc.Name + ".instances",
		Size:   uint64(len(data)),
		Usage:  core.NewFlags(rhi.BufferUsageAccelerationStructureInput),
		Memory: rhi.MemoryUpload,
	})
	if err != nil {
		return nil, err
	}
	if err := instances.Write(0, data); err != nil {
		instances.Destroy()
		return nil, fmt.Errorf("tlas %q: %w", desc.Name, err)
	}
	geom := AccelerationStructureGeometry{
		TopLevel:        true,
		InstanceAddress: instances.GPUAddress(),
		InstanceCount:   uint32(len(desc.Instances)),
	}
	as, err := b.createAccelerationStructure(rt, desc.Name, geom, instances)
	if err != nil {
		instances.Destroy()
		return nil, err
	}
	return as, nil
}

func (b *Backend) createAccelerationStructure(rt RayTracingDevice, name string, geom AccelerationStructureGeometry, instances *Buffer) (*AccelerationStructure, error) {
	alloc, err := rt.CreateAccelerationStructure(geom)
	if err != nil {
		core.LogError("failed to create acceleration structure %q: %s", name, err)
		return nil, fmt.Errorf("acceleration structure %q: %w", name, err)
	}
	as := &AccelerationStructure{
		backend:   b,
		name:      name,
		geom:      geom,
		alloc:     alloc,
		instances: instances,
	}
	as.handle = b.accels.Acquire(as)
	b.setName(alloc.Buffer.Buffer, name)
	return as, nil
}

func (as *AccelerationStructure) Handle() core.Handle { return as.handle }
func (as *AccelerationStructure) Name() string        { return as.name }
func (as *AccelerationStructure) IsTopLevel() bool    { return as.geom.TopLevel }
func (as *AccelerationStructure) GPUAddress() uint64  { return as.alloc.Address }

func (as *AccelerationStructure) Destroy() {
	if err := as.backend.accels.Release(as.handle); err != nil {
		core.LogWarn("destroying acceleration structure %q: %s", as.name, err)
		return
	}
	if rt, ok := as.backend.device.RayTracing(); ok {
		rt.DestroyAccelerationStructure(as.alloc)
	}
	if as.instances != nil {
		as.instances.Destroy()
		as.instances = nil
	}
}
