package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// RenderPass is the single-subpass render pass a raster pipeline is
// compatible with. Colors are cleared and stored; depth is cleared and
// discarded.
type RenderPass struct {
	Handle vk.RenderPass
	desc   rhi.FramebufferDesc
	colors int
	depth  bool
}

func NewRenderPass(device Device, desc rhi.FramebufferDesc, name string) (*RenderPass, error) {
	rp := &RenderPass{desc: desc, colors: len(desc.ColorFormats), depth: desc.HasDepth()}

	attachments := make([]vk.AttachmentDescription, 0, rp.colors+1)
	colorRefs := make([]vk.AttachmentReference, 0, rp.colors)
	for i, f := range desc.ColorFormats {
		format, err := vkFormat(f)
		if err != nil {
			return nil, fmt.Errorf("%s: color attachment %d: %w", name, i, err)
		}
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         format,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutShaderReadOnlyOptimal,
		})
		colorRefs = append(colorRefs, vk.AttachmentReference{
			Attachment: uint32(i),
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		})
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colorRefs)),
		PColorAttachments:    colorRefs,
	}

	if rp.depth {
		format, err := vkFormat(desc.DepthFormat)
		if err != nil {
			return nil, fmt.Errorf("%s: depth attachment: %w", name, err)
		}
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         format,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpDontCare,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: uint32(rp.colors),
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
	}

	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit) | vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
	}

	handle, err := device.CreateRenderPass(&vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	})
	if err != nil {
		return nil, fmt.Errorf("%s: render pass: %w", name, err)
	}
	device.SetObjectName(handle, name+".pass")
	rp.Handle = handle
	return rp, nil
}

// Matches reports whether targets fit the attachments of the pass.
func (rp *RenderPass) Matches(targets rhi.RenderTargets) error {
	return rp.desc.Match(targets)
}

// clearValues follows the attachment order of the pass.
func (rp *RenderPass) clearValues(targets rhi.RenderTargets) []vk.ClearValue {
	values := make([]vk.ClearValue, 0, rp.colors+1)
	for i := 0; i < rp.colors; i++ {
		values = append(values, vk.NewClearValue(targets.ClearColor[:]))
	}
	if rp.depth {
		values = append(values, vk.NewClearDepthStencil(targets.ClearDepth, 0))
	}
	return values
}

func (rp *RenderPass) Destroy(device Device) {
	if rp.Handle != vk.NullRenderPass {
		device.DestroyRenderPass(rp.Handle)
		rp.Handle = vk.NullRenderPass
	}
}
