// Package simplego implements a simple, and not very fast, but very portable loop back-end.
//
// It lowers a loopir.LoopNest into a tree of Go closures, one per IR node, and runs them on the
// calling goroutine. Scalar values travel boxed in `any`, typed loads, stores and accumulators
// are instantiated per dtype with generics.
//
// Configuration options, comma-separated (e.g. FUSEDLOOP_BACKEND="go:max_bytes=256MiB,nopool"):
//
//   - max_bytes=<size>: limit of live bytes allocated by the backend; allocations beyond it fail.
//     Sizes are parsed with github.com/dustin/go-humanize, e.g. "1GB", "64 MiB".
//   - nopool: don't reuse released buffers.
package simplego

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/fusedloop/backends"
	"github.com/pkg/errors"
)

// BackendName to be used in FUSEDLOOP_BACKEND to specify this backend.
const BackendName = "go"

// Registers New() as the constructor for the "go" backend.
func init() {
	backends.Register(BackendName, New)
}

// New constructs a new SimpleGo Backend, see package documentation for the config options.
func New(config string) (backends.Backend, error) {
	return newBackend(config)
}

func newBackend(config string) (*Backend, error) {
	b := &Backend{usePool: true}
	for _, option := range strings.Split(config, ",") {
		option = strings.TrimSpace(option)
		if option == "" {
			continue
		}
		key, value, _ := strings.Cut(option, "=")
		switch key {
		case "max_bytes":
			maxBytes, err := humanize.ParseBytes(value)
			if err != nil {
				return nil, errors.Wrapf(err, "backend %q: invalid value for option max_bytes=%q", BackendName, value)
			}
			b.maxBytes = int64(maxBytes)
		case "nopool":
			b.usePool = false
		default:
			return nil, errors.Errorf("backend %q: unknown configuration option %q", BackendName, option)
		}
	}
	return b, nil
}

// Backend implements the backends.Backend interface.
type Backend struct {
	// bufferPools are a map to pools of flat slices that can be reused.
	// The underlying type is map[bufferPoolKey]*sync.Pool.
	bufferPools sync.Map
	usePool     bool

	// maxBytes is the limit of liveBytes, if > 0.
	maxBytes  int64
	liveBytes atomic.Int64
}

// Compile-time check that simplego.Backend implements backends.Backend.
var _ backends.Backend = &Backend{}

// Name returns the short name of the backend.
func (b *Backend) Name() string {
	return "SimpleGo (go)"
}

// String implements fmt.Stringer.
func (b *Backend) String() string { return BackendName }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string {
	return "Simple Go Portable Backend"
}

// LiveBytes returns the number of bytes allocated by the backend and not yet released.
func (b *Backend) LiveBytes() int64 {
	return b.liveBytes.Load()
}

// Finalize releases the pooled buffers.
func (b *Backend) Finalize() {
	b.bufferPools.Clear()
}
