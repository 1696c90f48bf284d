// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build mage
// +build mage

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"

	"github.com/plainclass/plain-rtc/version"
)

const imageName = "plainclass/plain-rtc"

// Default target to run when none is specified
// If not set, running mage will list available targets
var Default = Build

// explicitly reinstall all deps
func Deps() error {
	return installTools()
}

// builds plain-rtc-server
func Build() error {
	mg.Deps(generateWire)

	fmt.Println("building...")
	if err := os.MkdirAll("bin", 0755); err != nil {
		return err
	}
	return sh.RunV("go", "build", "-o", "bin/plain-rtc-server", "./cmd/server")
}

// builds binary that runs on linux amd64
func BuildLinux() error {
	mg.Deps(generateWire)

	fmt.Println("building...")
	if err := os.MkdirAll("bin", 0755); err != nil {
		return err
	}
	env := map[string]string{
		"GOOS":   "linux",
		"GOARCH": "amd64",
	}
	return sh.RunWithV(env, "go", "build", "-buildvcs=false", "-o", "bin/plain-rtc-server-amd64", "./cmd/server")
}

// builds and publish snapshot docker image
func PublishDocker() error {
	// don't publish snapshot versions as latest or minor version
	if !strings.Contains(version.Version, "SNAPSHOT") {
		return errors.New("Cannot publish non-snapshot versions")
	}

	versionImg := fmt.Sprintf("%s:v%s", imageName, version.Version)
	return sh.RunV("docker", "buildx", "build",
		"--push", "--platform", "linux/amd64,linux/arm64",
		"--tag", versionImg,
		".")
}

// run unit tests, skipping those that need redis
func Test() error {
	mg.Deps(generateWire)
	return sh.RunV("go", "test", "-short", "./...", "-count=1")
}

// run all tests including redis backed ones
func TestAll() error {
	mg.Deps(generateWire)
	return sh.RunV("go", "test", "./...", "-count=1", "-timeout=4m", "-v")
}

// cleans up builds
func Clean() {
	fmt.Println("cleaning...")
	os.RemoveAll("bin")
}

// regenerate code
func Generate() error {
	mg.Deps(installDeps, generateWire)

	fmt.Println("generating...")
	return sh.RunV("go", "generate", "./...")
}

// code generation for wiring
func generateWire() error {
	mg.Deps(installDeps)

	fmt.Println("wiring...")
	return sh.RunV("sh", "-c", "cd pkg/service && wire")
}

// implicitly install deps
func installDeps() error {
	return installTools()
}

func installTools() error {
	tools := []string{
		"github.com/google/wire/cmd/wire@latest",
	}
	for _, t := range tools {
		if err := sh.RunV("go", "install", t); err != nil {
			return err
		}
	}
	return nil
}
