package platform

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/spaghettifunk/anima-rhi/engine/config"
	"github.com/spaghettifunk/anima-rhi/engine/core"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

// Context is the window and loader state handed explicitly to the backend.
// It is created once on the main thread and destroyed by its owner.
type Context struct {
	Window  *glfw.Window
	width   int
	height  int
	resized bool
}

func New(cfg config.ApplicationConfig) (*Context, error) {
	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("initializing glfw: %w", err)
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	window, err := glfw.CreateWindow(int(cfg.Width), int(cfg.Height), cfg.Name, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("creating window: %w", err)
	}

	c := &Context{Window: window, width: int(cfg.Width), height: int(cfg.Height)}
	window.SetKeyCallback(c.keyCallback)
	window.SetFramebufferSizeCallback(c.framebufferSizeCallback)
	window.Show()

	core.LogDebug("window %q created (%dx%d)", cfg.Name, cfg.Width, cfg.Height)
	return c, nil
}

// VulkanProcAddr returns vkGetInstanceProcAddr as resolved by GLFW.
func (c *Context) VulkanProcAddr() unsafe.Pointer {
	return glfw.GetVulkanGetInstanceProcAddress()
}

// RequiredInstanceExtensions lists the instance extensions the window surface needs.
func (c *Context) RequiredInstanceExtensions() []string {
	return c.Window.GetRequiredInstanceExtensions()
}

func (c *Context) ShouldClose() bool {
	return c.Window.ShouldClose()
}

func (c *Context) PollEvents() {
	glfw.PollEvents()
}

// Size returns the framebuffer size and whether it changed since the last call.
func (c *Context) Size() (width, height int, changed bool) {
	changed = c.resized
	c.resized = false
	return c.width, c.height, changed
}

func (c *Context) Destroy() {
	c.Window.Destroy()
	glfw.Terminate()
}

func (c *Context) keyCallback(w *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
	if key == glfw.KeyEscape && action == glfw.Press {
		w.SetShouldClose(true)
	}
}

func (c *Context) framebufferSizeCallback(_ *glfw.Window, width, height int) {
	c.width, c.height = width, height
	c.resized = true
}
