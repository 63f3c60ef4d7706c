package vulkan

import (
	"context"
	"fmt"
	"slices"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

// Fence tracks one submission.
type Fence struct {
	Handle     vk.Fence
	IsSignaled bool
}

// fences hands out a fence per submit value and recycles them once waited on.
type fences struct {
	device   Device
	next     uint64
	pending  map[uint64]*Fence
	free     []*Fence
	complete uint64
}

func newFences(device Device) *fences {
	return &fences{device: device, pending: make(map[uint64]*Fence)}
}

// acquire returns an unsignaled fence and the value it will signal.
func (f *fences) acquire() (*Fence, uint64, error) {
	var fence *Fence
	if n := len(f.free); n > 0 {
		fence = f.free[n-1]
		f.free = f.free[:n-1]
	} else {
		handle, err := f.device.CreateFence(false)
		if err != nil {
			return nil, 0, err
		}
		fence = &Fence{Handle: handle}
	}
	f.next++
	f.pending[f.next] = fence
	return fence, f.next, nil
}

// abandon returns the fence of a submission that never reached the queue.
func (f *fences) abandon(value uint64) {
	if fence, ok := f.pending[value]; ok {
		delete(f.pending, value)
		f.free = append(f.free, fence)
	}
}

// wait blocks until every submission up to value has completed.
func (f *fences) wait(ctx context.Context, value uint64) error {
	if value > f.next {
		return fmt.Errorf("%w: submit value %d was never issued (last %d)", core.ErrInvalidHandle, value, f.next)
	}
	if value <= f.complete {
		return nil
	}
	values := make([]uint64, 0, len(f.pending))
	for v := range f.pending {
		if v <= value {
			values = append(values, v)
		}
	}
	slices.Sort(values)
	for _, v := range values {
		fence := f.pending[v]
		if !fence.IsSignaled {
			if err := f.device.WaitFence(ctx, fence.Handle); err != nil {
				core.LogError("waiting for submission %d: %s", v, err)
				return err
			}
			fence.IsSignaled = true
		}
		if err := f.device.ResetFence(fence.Handle); err != nil {
			return err
		}
		fence.IsSignaled = false
		delete(f.pending, v)
		f.free = append(f.free, fence)
		f.complete = v
	}
	f.complete = max(f.complete, value)
	return nil
}

func (f *fences) destroy() {
	for v, fence := range f.pending {
		f.device.DestroyFence(fence.Handle)
		delete(f.pending, v)
	}
	for _, fence := range f.free {
		f.device.DestroyFence(fence.Handle)
	}
	f.free = nil
}
