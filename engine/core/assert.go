//go:build !release

package core

import "fmt"

// DebugBuild reports whether debug assertions are compiled in.
const DebugBuild = true

// Assert logs and panics when cond is false. Builds tagged release compile it out.
func Assert(cond bool, msg string, args ...interface{}) {
	if cond {
		return
	}
	text := fmt.Sprintf(msg, args...)
	LogError("assertion failed: %s", text)
	panic("assertion failed: " + text)
}
