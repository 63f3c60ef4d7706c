//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Builds the shaders and runs the testbed with the configured backend.
func (Run) Testbed() error {
	mg.Deps(Build.Shaders)
	fmt.Println("Run testbed...")
	if _, err := executeCmd("go", withArgs("run", ".", "-config", configPath), withStream()); err != nil {
		return err
	}
	return nil
}

// Runs the testbed on D3D12.
func (Run) D3D12() error {
	mg.Deps(Build.Shaders)
	_, err := executeCmd("go", withArgs("run", ".", "-config", configPath, "-backend", "d3d12"), withStream())
	return err
}
