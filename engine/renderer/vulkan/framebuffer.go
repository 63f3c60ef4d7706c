package vulkan

import (
	"fmt"
	"slices"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

type Framebuffer struct {
	Handle      vk.Framebuffer
	Attachments []vk.ImageView
	Width       uint32
	Height      uint32
}

// framebufferKey identifies the targets a framebuffer was built from.
type framebufferKey struct {
	pass    vk.RenderPass
	targets string
}

func targetsKey(pass vk.RenderPass, targets rhi.RenderTargets) framebufferKey {
	k := framebufferKey{pass: pass}
	for _, t := range targets.Color {
		k.targets += t.Handle().String() + ";"
	}
	if targets.Depth != nil {
		k.targets += "d" + targets.Depth.Handle().String()
	}
	return k
}

func NewFramebuffer(device Device, pass *RenderPass, views []vk.ImageView, width, height uint32) (*Framebuffer, error) {
	fb := &Framebuffer{
		Attachments: slices.Clone(views),
		Width:       width,
		Height:      height,
	}
	handle, err := device.CreateFramebuffer(&vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      pass.Handle,
		AttachmentCount: uint32(len(fb.Attachments)),
		PAttachments:    fb.Attachments,
		Width:           width,
		Height:          height,
		Layers:          1,
	})
	if err != nil {
		core.LogError("failed to create framebuffer: %s", err)
		return nil, err
	}
	fb.Handle = handle
	return fb, nil
}

// framebuffer returns the cached framebuffer of targets, creating it on
// first use.
func (b *Backend) framebuffer(pass *RenderPass, targets rhi.RenderTargets) (*Framebuffer, error) {
	key := targetsKey(pass.Handle, targets)
	if fb, ok := b.framebuffers[key]; ok {
		return fb, nil
	}
	views := make([]vk.ImageView, 0, len(targets.Color)+1)
	var width, height uint32
	add := func(t rhi.Texture) error {
		tex, ok := b.textures.Get(t.Handle())
		if !ok {
			return fmt.Errorf("render target %q (%s): %w", t.Desc().Name, t.Handle(), core.ErrStaleHandle)
		}
		views = append(views, tex.View())
		width, height = tex.desc.Width, tex.desc.Height
		return nil
	}
	for _, t := range targets.Color {
		if err := add(t); err != nil {
			return nil, err
		}
	}
	if targets.Depth != nil {
		if err := add(targets.Depth); err != nil {
			return nil, err
		}
	}
	fb, err := NewFramebuffer(b.device, pass, views, width, height)
	if err != nil {
		return nil, err
	}
	b.framebuffers[key] = fb
	return fb, nil
}

func (fb *Framebuffer) Destroy(device Device) {
	if fb.Handle != vk.NullFramebuffer {
		device.DestroyFramebuffer(fb.Handle)
		fb.Handle = vk.NullFramebuffer
	}
	fb.Attachments = nil
}
