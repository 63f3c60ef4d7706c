package rhi

import (
	"context"
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/containers"
	"github.com/spaghettifunk/anima-rhi/engine/core"
)

// Frame owns the pools of one frame in flight.
type Frame struct {
	Index       int
	Commands    CommandPool
	Descriptors DescriptorPool
	submitted   uint64
}

// FrameRing cycles through frames in flight. Begin waits for the GPU to be
// done with the next frame before resetting its pools.
type FrameRing struct {
	backend GraphicsBackend
	frames  *containers.RingQueue[*Frame]
	current *Frame
}

func NewFrameRing(backend GraphicsBackend, inFlight int) (*FrameRing, error) {
	r := &FrameRing{
		backend: backend,
		frames:  containers.NewRingQueue[*Frame](inFlight),
	}
	for i := 0; i < inFlight; i++ {
		cmd, err := backend.CreateCommandPool(fmt.Sprintf("frame_%d_commands", i))
		if err != nil {
			r.Destroy()
			return nil, err
		}
		desc, err := backend.CreateDescriptorPool(fmt.Sprintf("frame_%d_descriptors", i))
		if err != nil {
			cmd.Destroy()
			r.Destroy()
			return nil, err
		}
		if err := r.frames.Enqueue(&Frame{Index: i, Commands: cmd, Descriptors: desc}); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Begin makes the oldest frame current and resets its pools.
func (r *FrameRing) Begin(ctx context.Context) (*Frame, error) {
	f, err := r.frames.Rotate()
	if err != nil {
		return nil, err
	}
	if f.submitted != 0 {
		if err := r.backend.Wait(ctx, f.submitted); err != nil {
			return nil, err
		}
	}
	if err := f.Commands.Reset(); err != nil {
		return nil, err
	}
	if err := f.Descriptors.Reset(); err != nil {
		return nil, err
	}
	r.current = f
	return f, nil
}

// Submit executes lists and ties their completion to the current frame.
func (r *FrameRing) Submit(lists ...CommandList) error {
	core.Assert(r.current != nil, "FrameRing.Submit called before Begin")
	v, err := r.backend.Submit(lists...)
	if err != nil {
		return err
	}
	r.current.submitted = v
	return nil
}

func (r *FrameRing) Current() *Frame {
	return r.current
}

func (r *FrameRing) Len() int {
	return r.frames.Len()
}

// Destroy releases the pools of every frame. The caller waits for the GPU first.
func (r *FrameRing) Destroy() {
	for !r.frames.IsEmpty() {
		f, _ := r.frames.Dequeue()
		f.Descriptors.Destroy()
		f.Commands.Destroy()
	}
	r.current = nil
}
