package simplego

import (
	"reflect"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/fusedloop/types/arrays"
	"github.com/gomlx/fusedloop/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

type bufferPoolKey struct {
	dtype  dtypes.DType
	length int
}

// getBufferPool for given dtype/length.
func (b *Backend) getBufferPool(dtype dtypes.DType, length int) *sync.Pool {
	key := bufferPoolKey{dtype: dtype, length: length}
	poolInterface, ok := b.bufferPools.Load(key)
	if !ok {
		poolInterface, _ = b.bufferPools.LoadOrStore(key, &sync.Pool{
			New: func() interface{} {
				return makeFlat(dtype, length)
			},
		})
	}
	return poolInterface.(*sync.Pool)
}

func makeFlat(dtype dtypes.DType, length int) any {
	return reflect.MakeSlice(reflect.SliceOf(dtype.GoType()), length, length).Interface()
}

// getFlat returns a zero-initialized flat slice, reusing a pooled one if available.
func (b *Backend) getFlat(dtype dtypes.DType, length int) any {
	if !b.usePool {
		return makeFlat(dtype, length)
	}
	flat := b.getBufferPool(dtype, length).Get()
	dispatchClear.Dispatch(dtype, flat)
	return flat
}

// putFlat back into the backend pool of buffers.
func (b *Backend) putFlat(dtype dtypes.DType, flat any) {
	if !b.usePool || flat == nil {
		return
	}
	length := reflect.ValueOf(flat).Len()
	b.getBufferPool(dtype, length).Put(flat)
}

// Allocate implements arrays.Allocator. The new array is contiguous, RowMajor and zero-initialized.
//
// When the array's last reference is released, its storage goes back to the backend pool.
func (b *Backend) Allocate(shape shapes.Shape) (*arrays.Array, error) {
	if !shape.Ok() {
		return nil, errors.Errorf("backend %q: cannot allocate invalid shape %s", BackendName, shape)
	}
	if shape.DType >= MaxDTypes || dispatchClear.fnMap[shape.DType] == nil {
		return nil, errors.Errorf("backend %q: dtype %s not supported", BackendName, shape.DType)
	}
	numBytes := int64(shape.Memory())
	live := b.liveBytes.Add(numBytes)
	if b.maxBytes > 0 && live > b.maxBytes {
		b.liveBytes.Add(-numBytes)
		return nil, errors.Errorf("backend %q: allocating %s for %s exceeds max_bytes=%s (%s already live)",
			BackendName, humanize.IBytes(uint64(numBytes)), shape,
			humanize.IBytes(uint64(b.maxBytes)), humanize.IBytes(uint64(live-numBytes)))
	}
	flat := b.getFlat(shape.DType, shape.Size())
	klog.V(3).Infof("simplego: allocated %s (%s)", shape, humanize.IBytes(uint64(numBytes)))
	return arrays.NewOwned(shape, flat, func(a *arrays.Array) {
		b.liveBytes.Add(-int64(a.Shape().Memory()))
		b.putFlat(a.DType(), a.Flat())
	}), nil
}

func reflectLen(flat any) int {
	return reflect.ValueOf(flat).Len()
}
