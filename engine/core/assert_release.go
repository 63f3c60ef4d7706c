//go:build release

package core

const DebugBuild = false

func Assert(cond bool, msg string, args ...interface{}) {}
