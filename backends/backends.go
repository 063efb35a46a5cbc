// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the interface a GPU runtime (CUDA, HIP, SYCL or a simulation of one) needs to
// implement to be used by the transpose planner.
//
// The planner itself only needs the device properties and the Capabilities (tile constants) of a backend.
// The rest of the interface (buffers, streams and events) is used when a chosen plan is activated,
// that is, when its index-conversion tables are uploaded to the device, and by timing tools.
//
// Backends are registered by name (see Register) and selected with a configuration string formatted
// as "<backend_name>:<backend_configuration>", see New and NewWithConfig.
package backends

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"
)

// DeviceNum represents which device holds a buffer, or owns a stream.
// It's up to the backend to interpret it, but it should be between 0 and Backend.NumDevices.
type DeviceNum int

// Backend is the API that needs to be implemented by a GPU runtime backend.
type Backend interface {
	// Name returns the short name of the backend. E.g.: "simgpu" for the simulated GPU.
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// NumDevices return the number of devices available for this Backend.
	NumDevices() DeviceNum

	// DeviceProperties returns the hardware limits and clocks of the given device.
	// It returns an error if the properties can't be queried.
	DeviceProperties(deviceNum DeviceNum) (DeviceProperties, error)

	// Capabilities returns the constants the backend kernels were built with, like the tile edge of the
	// tiled transposes.
	Capabilities() Capabilities

	// DataInterface is the sub-interface that defines the API to allocate and transfer buffers.
	DataInterface

	// StreamInterface is the sub-interface to create and synchronize streams and to time them with events.
	StreamInterface

	// Finalize releases all the associated resources immediately, and makes the backend invalid.
	Finalize()
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) (Backend, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register backend with the given name, and a default constructor that takes as input a configuration string that is
// passed along to the backend constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// DefaultConfig is the name of the default backend configuration to use if specified.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// GOTRANSPOSE_BACKEND is the environment variable with the default backend configuration to use.
//
// The format of config is "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "simgpu") and
// "<backend_configuration>" is backend specific (e.g.: for simgpu, the device preset "a100").
const GOTRANSPOSE_BACKEND = "GOTRANSPOSE_BACKEND"

// New returns a new default Backend.
//
// The default is:
//
// 1. The environment GOTRANSPOSE_BACKEND is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered backend is used with an empty configuration.
//
// It panics if no backend was registered.
func New() (Backend, error) {
	config, found := os.LookupEnv(GOTRANSPOSE_BACKEND)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// MustNew returns a new default Backend (see New), or panics if it fails to create one.
func MustNew() Backend {
	backend, err := New()
	if err != nil {
		panic(err)
	}
	return backend
}

// NewWithConfig takes a configurations string formated as
//
// The format of config is "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "simgpu") and
// "<backend_configuration>" is backend specific.
func NewWithConfig(config string) (Backend, error) {
	if len(registeredConstructors) == 0 {
		exceptions.Panicf(`no registered backends for gotranspose -- maybe import the simulated one with import _ "github.com/gomlx/gotranspose/backends/simgpu"?`)
	}
	backendName := firstRegistered
	backendConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	} else if _, found := registeredConstructors[config]; found {
		backendName = config
		backendConfig = ""
	}
	constructor, found := registeredConstructors[backendName]
	if !found {
		exceptions.Panicf("can't find backend %q for configuration %q given", backendName, config)
	}
	klog.V(1).Infof("backends: creating %q with configuration %q", backendName, backendConfig)
	return constructor(backendConfig)
}

// List the names of the registered backends, sorted.
func List() []string {
	return slices.Sorted(maps.Keys(registeredConstructors))
}

// Check is the error-checking collaborator of the GPU runtime: if err is not nil, it reports it along with
// the formatted context and terminates the process.
//
// It is a variable, so tools and tests can reassign it to a different behavior (e.g.: panic).
var Check = func(err error, format string, args ...any) {
	if err != nil {
		klog.Fatalf("%s: %+v", fmt.Sprintf(format, args...), err)
	}
}
