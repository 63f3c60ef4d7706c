package rhi

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

// HasDepth reports whether the framebuffer carries a depth attachment.
func (d FramebufferDesc) HasDepth() bool {
	return d.DepthFormat != FormatUnknown
}

// Match reports whether targets fit the attachments of d.
func (d FramebufferDesc) Match(targets RenderTargets) error {
	if len(targets.Color) != len(d.ColorFormats) {
		return fmt.Errorf("%w: %d color targets for %d attachments", core.ErrAttachmentMismatch, len(targets.Color), len(d.ColorFormats))
	}
	for i, t := range targets.Color {
		if got := t.Desc().Format; got != d.ColorFormats[i] {
			return fmt.Errorf("%w: color target %d is %s, want %s", core.ErrAttachmentMismatch, i, got, d.ColorFormats[i])
		}
	}
	if (targets.Depth != nil) != d.HasDepth() {
		return fmt.Errorf("%w: depth target presence does not match the framebuffer", core.ErrAttachmentMismatch)
	}
	return nil
}

// ValidateAttachments checks the fragment outputs of ref against the
// framebuffer a raster pipeline renders into.
func ValidateAttachments(ref *ReflectionResult, fb FramebufferDesc) error {
	if len(ref.ColorOutputs) != len(fb.ColorFormats) {
		return fmt.Errorf("%w: fragment shader writes %d outputs, framebuffer has %d color attachments",
			core.ErrAttachmentMismatch, len(ref.ColorOutputs), len(fb.ColorFormats))
	}
	for _, out := range ref.ColorOutputs {
		if int(out.Location) >= len(fb.ColorFormats) {
			return fmt.Errorf("%w: output %q at location %d has no attachment", core.ErrAttachmentMismatch, out.Name, out.Location)
		}
	}
	return nil
}
