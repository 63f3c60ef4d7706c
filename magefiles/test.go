//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Test mg.Namespace

// Runs every package test with assertions enabled.
func (Test) All() error {
	_, err := executeCmd("go", withArgs("test", "-race", "./..."), withEnv("CGO_ENABLED=1"), withStream())
	return err
}

// Runs the engine tests with assertions compiled out.
func (Test) Release() error {
	_, err := executeCmd("go", withArgs("test", "-tags", "release", "./engine/core/...", "./engine/renderer/..."), withStream())
	return err
}
