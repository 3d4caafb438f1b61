package pool

import (
	"sync"

	"github.com/kychandar/robobridge/ds"
)

// GenericPool is a typed sync.Pool.
type GenericPool[T any] struct {
	pool *sync.Pool
}

func NewGenericPool[T any](factory func() T) *GenericPool[T] {
	return &GenericPool[T]{
		pool: &sync.Pool{
			New: func() interface{} {
				return factory()
			},
		},
	}
}

func (p *GenericPool[T]) Get() T {
	return p.pool.Get().(T)
}

func (p *GenericPool[T]) Put(obj T) {
	p.pool.Put(obj)
}

// ObjectPool holds the pools used on the frame read path.
type ObjectPool struct {
	Frame *GenericPool[*ds.Frame]
}

func NewObjectPool() *ObjectPool {
	return &ObjectPool{
		Frame: NewGenericPool(ds.NewEmpty),
	}
}

var globalPool = NewObjectPool()

func GetGlobalPool() *ObjectPool {
	return globalPool
}

// ReleaseFrame clears f and returns it to the pool. f must not be used
// afterwards.
func (p *ObjectPool) ReleaseFrame(f *ds.Frame) {
	f.Reset()
	p.Frame.Put(f)
}
