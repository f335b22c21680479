// Package backends defines the interface a loop back-end needs to implement: allocate arrays,
// and lower a loopir.LoopNest bound to concrete arrays into a Routine that can be run.
//
// Back-ends register themselves by name (see Register), and the one used by default is selected
// by the FUSEDLOOP_BACKEND environment variable (see New).
//
// To simplify error handling inside the generated routines, Routine.Run is expected to throw
// (panic) with a stack trace in case of errors. See package github.com/gomlx/exceptions.
package backends

import (
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/gomlx/fusedloop/backends/loopir"
	"github.com/gomlx/fusedloop/types/arrays"
	"github.com/pkg/errors"
)

// Backend is the API that needs to be implemented by a loop back-end.
type Backend interface {
	// Name returns the short name of the backend. E.g.: "go".
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// Allocator creates the output arrays that are not reused from the inputs.
	arrays.Allocator

	// Lower binds the loop nest to the given arrays and returns a routine that runs it with no
	// further inputs. The arrays must match nest.Types.
	Lower(nest *loopir.LoopNest, inputs, outputs []*arrays.Array) (Routine, error)

	// Finalize releases all the associated resources immediately, and makes the backend invalid.
	Finalize()
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) (Backend, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register backend with the given name, and a constructor that takes as input a configuration string that is
// passed along to the backend constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// List the names of the registered backends, sorted.
func List() []string {
	return slices.Sorted(maps.Keys(registeredConstructors))
}

// DefaultConfig is the name of the default backend configuration to use if specified.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// ConfigEnvVar is the environment variable with the default backend configuration to use.
//
// The format of config is "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "go") and
// "<backend_configuration>" is backend specific (e.g.: for "go", "max_bytes=1GB,nopool").
const ConfigEnvVar = "FUSEDLOOP_BACKEND"

// New returns a new default Backend.
//
// The default is:
//
// 1. The environment FUSEDLOOP_BACKEND is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered backend is used with an empty configuration.
func New() (Backend, error) {
	config, found := os.LookupEnv(ConfigEnvVar)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// MustNew is like New, but panics on error.
func MustNew() Backend {
	backend, err := New()
	if err != nil {
		panic(err)
	}
	return backend
}

// NewWithConfig takes a configuration string formatted as "<backend_name>:<backend_configuration>".
// If there is no ":", the whole string is taken as the backend name, or, if it's not a registered
// name, as the configuration of the first registered backend.
func NewWithConfig(config string) (Backend, error) {
	if len(registeredConstructors) == 0 {
		return nil, errors.Errorf(`no registered backends -- maybe import the default one with import _ "github.com/gomlx/fusedloop/backends/simplego"?`)
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
		return nil, errors.Errorf("can't find backend %q for configuration %q given, registered backends: %q",
			backendName, config, List())
	}
	backend, err := constructor(backendConfig)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create backend %q with configuration %q", backendName, backendConfig)
	}
	return backend, nil
}
