package d3d12

import (
	"context"
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/config"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// Render and depth target views live in CPU-only heaps owned by the
// backend.
const (
	rtvHeapCapacity = 64
	dsvHeapCapacity = 16
)

// Backend implements rhi.GraphicsBackend on a D3D12 Device. Every
// submission signals the same fence with the next value.
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

	rtvs *DescriptorHeap
	dsvs *DescriptorHeap

	fence     Fence
	next      uint64
	completed uint64
}

// New wraps device. The backend owns the device from here on and destroys
// it on Shutdown.
func New(cfg *config.Config, device Device, compiler rhi.ShaderCompiler) (*Backend, error) {
	b := &Backend{
		cfg:      cfg,
		device:   device,
		compiler: compiler,
		buffers:  core.NewRegistry[*Buffer](64),
		textures: core.NewRegistry[*Texture](64),
		samplers: core.NewRegistry[*Sampler](16),
		accels:   core.NewRegistry[*AccelerationStructure](16),
	}
	b.reflector = b.reflectDXIL

	var err error
	if b.rtvs, err = NewDescriptorHeap(device, HeapTypeRTV, rtvHeapCapacity, false, b.objectName("rtv")); err != nil {
		return nil, err
	}
	if b.dsvs, err = NewDescriptorHeap(device, HeapTypeDSV, dsvHeapCapacity, false, b.objectName("dsv")); err != nil {
		b.rtvs.Destroy()
		return nil, err
	}
	if b.fence, err = device.CreateFence(); err != nil {
		b.rtvs.Destroy()
		b.dsvs.Destroy()
		return nil, fmt.Errorf("fence: %w", err)
	}
	b.setName(uintptr(b.fence), "frame")
	return b, nil
}

func (b *Backend) Kind() config.Backend               { return config.BackendD3D12 }
func (b *Backend) BytecodeFormat() rhi.BytecodeFormat { return rhi.BytecodeDXIL }

// Device returns the native device the backend drives.
func (b *Backend) Device() Device { return b.device }

func (b *Backend) Reflect(blobs []rhi.ShaderBlob) (*rhi.ReflectionResult, error) {
	return b.reflector(blobs)
}

// objectName returns name when debug names are on.
func (b *Backend) objectName(name string) string {
	if !b.cfg.Debug.ObjectNames {
		return ""
	}
	return name
}

func (b *Backend) setName(object uintptr, name string) {
	if name == "" || object == 0 || !b.cfg.Debug.ObjectNames {
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
	natives := make([]GraphicsCommandList, 0, len(lists))
	cls := make([]*CommandList, 0, len(lists))
	for _, l := range lists {
		cl, ok := l.(*CommandList)
		if !ok {
			return 0, fmt.Errorf("%w: %T is not a D3D12 command list", core.ErrUnsupported, l)
		}
		if cl.State != CommandListRecordingEnded {
			return 0, fmt.Errorf("%w: command list %q submitted in state %s", core.ErrInvalidHandle, cl.name, cl.State)
		}
		natives = append(natives, cl.Handle)
		cls = append(cls, cl)
	}
	value := b.next + 1
	if err := b.device.ExecuteCommandLists(natives, b.fence, value); err != nil {
		core.LogError("failed to submit %d command lists: %s", len(natives), err)
		return 0, err
	}
	b.next = value
	for _, cl := range cls {
		cl.State = CommandListSubmitted
	}
	return value, nil
}

// Wait blocks until the fence reaches value.
func (b *Backend) Wait(ctx context.Context, value uint64) error {
	if value > b.next {
		return fmt.Errorf("%w: submit value %d was never issued (last %d)", core.ErrInvalidHandle, value, b.next)
	}
	if value <= b.completed {
		return nil
	}
	if err := b.device.WaitFence(ctx, b.fence, value); err != nil {
		core.LogError("waiting for submission %d: %s", value, err)
		return err
	}
	b.completed = value
	return nil
}

func (b *Backend) WaitIdle() error {
	if err := b.device.WaitIdle(); err != nil {
		return err
	}
	return b.Wait(context.Background(), b.next)
}

// Shutdown waits for the GPU, releases the objects the backend still owns
// and destroys the device.
func (b *Backend) Shutdown() error {
	if err := b.WaitIdle(); err != nil {
		core.LogError("waiting for the device before shutdown: %s", err)
	}
	b.rtvs.Destroy()
	b.dsvs.Destroy()
	b.device.Release(uintptr(b.fence))
	if n := b.buffers.Len() + b.textures.Len() + b.samplers.Len() + b.accels.Len(); n > 0 {
		core.LogWarn("shutting down with %d live resources", n)
	}
	b.device.Destroy()
	core.LogInfo("D3D12 backend shut down.")
	return nil
}

var _ rhi.GraphicsBackend = (*Backend)(nil)
