package vulkan

import "sync"

type LockGroup string

const (
	QueueManagement      LockGroup = "queue_management"
	DescriptorManagement LockGroup = "descriptor_management"
	DebugNameManagement  LockGroup = "debug_name_management"
)

// LockPool serializes native calls that Vulkan requires to be externally
// synchronized, one mutex per group.
type LockPool struct {
	mu    sync.Mutex
	locks map[LockGroup]*sync.Mutex
}

func NewLockPool() *LockPool {
	return &LockPool{locks: make(map[LockGroup]*sync.Mutex)}
}

func (lp *LockPool) lock(group LockGroup) *sync.Mutex {
	lp.mu.Lock()
	l, ok := lp.locks[group]
	if !ok {
		l = &sync.Mutex{}
		lp.locks[group] = l
	}
	lp.mu.Unlock()
	l.Lock()
	return l
}

// SafeCall runs fn holding the mutex of group.
func (lp *LockPool) SafeCall(group LockGroup, fn func() error) error {
	l := lp.lock(group)
	defer l.Unlock()
	return fn()
}
