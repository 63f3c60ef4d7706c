package vulkan

import (
	"context"
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/config"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// Backend implements rhi.GraphicsBackend on a Vulkan Device.
type Backend struct {
	cfg      *config.Config
	device   Device
	compiler rhi.ShaderCompiler
	// reflector turns compiled blobs into a joint reflection.
	reflector func(blobs []rhi.ShaderBlob) (*rhi.ReflectionResult, error)

	buffers  *core.Registry[*Buffer]
	textures *core.Registry[*Texture]
	samplers *core.Registry[*Sampler]
	accels   *core.Registry[*AccelerationStructure]

	framebuffers map[framebufferKey]*Framebuffer
	fences       *fences
}

// New wraps device. The backend owns the device from here on and destroys
// it on Shutdown.
func New(cfg *config.Config, device Device, compiler rhi.ShaderCompiler) *Backend {
	b := &Backend{
		cfg:          cfg,
		device:       device,
		compiler:     compiler,
		buffers:      core.NewRegistry[*Buffer](64),
		textures:     core.NewRegistry[*Texture](64),
		samplers:     core.NewRegistry[*Sampler](16),
		accels:       core.NewRegistry[*AccelerationStructure](16),
		framebuffers: make(map[framebufferKey]*Framebuffer),
		fences:       newFences(device),
	}
	b.reflector = b.reflectSPIRV
	return b
}

func (b *Backend) Kind() config.Backend               { return config.BackendVulkan }
func (b *Backend) BytecodeFormat() rhi.BytecodeFormat { return rhi.BytecodeSPIRV }

// Device returns the native device the backend drives.
func (b *Backend) Device() Device { return b.device }

func (b *Backend) Reflect(blobs []rhi.ShaderBlob) (*rhi.ReflectionResult, error) {
	return b.reflector(blobs)
}

func (b *Backend) setName(object interface{}, name string) {
	if name == "" || !b.cfg.Debug.ObjectNames {
		return
	}
	b.device.SetObjectName(object, name)
}

// live reports whether the resource ref names is still registered.
func (b *Backend) live(ref resourceRef) bool {
	var ok bool
	switch ref.kind {
	case refBuffer:
		_, ok = b.buffers.Get(ref.handle)
	case refTexture:
		_, ok = b.textures.Get(ref.handle)
	case refSampler:
		_, ok = b.samplers.Get(ref.handle)
	case refAccelerationStructure:
		_, ok = b.accels.Get(ref.handle)
	}
	return ok
}

func (b *Backend) Submit(lists ...rhi.CommandList) (uint64, error) {
	buffers := make([]vk.CommandBuffer, 0, len(lists))
	cls := make([]*CommandList, 0, len(lists))
	for _, l := range lists {
		cl, ok := l.(*CommandList)
		if !ok {
			return 0, fmt.Errorf("%w: %T is not a Vulkan command list", core.ErrUnsupported, l)
		}
		if cl.State != CommandBufferRecordingEnded {
			return 0, fmt.Errorf("%w: command list %q submitted in state %s", core.ErrInvalidHandle, cl.name, cl.State)
		}
		buffers = append(buffers, cl.Handle)
		cls = append(cls, cl)
	}
	fence, value, err := b.fences.acquire()
	if err != nil {
		return 0, err
	}
	if err := b.device.Submit(buffers, fence.Handle); err != nil {
		b.fences.abandon(value)
		core.LogError("failed to submit %d command lists: %s", len(buffers), err)
		return 0, err
	}
	for _, cl := range cls {
		cl.State = CommandBufferSubmitted
	}
	return value, nil
}

func (b *Backend) Wait(ctx context.Context, value uint64) error {
	return b.fences.wait(ctx, value)
}

func (b *Backend) WaitIdle() error {
	if err := b.device.WaitIdle(); err != nil {
		return err
	}
	return b.fences.wait(context.Background(), b.fences.next)
}

// Shutdown waits for the GPU, releases the objects the backend still owns
// and destroys the device.
func (b *Backend) Shutdown() error {
	if err := b.WaitIdle(); err != nil {
		core.LogError("waiting for the device before shutdown: %s", err)
	}
	for k, fb := range b.framebuffers {
		fb.Destroy(b.device)
		delete(b.framebuffers, k)
	}
	b.fences.destroy()
	if n := b.buffers.Len() + b.textures.Len() + b.samplers.Len() + b.accels.Len(); n > 0 {
		core.LogWarn("shutting down with %d live resources", n)
	}
	b.device.Destroy()
	core.LogInfo("Vulkan backend shut down.")
	return nil
}

var _ rhi.GraphicsBackend = (*Backend)(nil)
