package pool

import (
	"testing"

	"github.com/kychandar/robobridge/ds"
)

var subscribeFrame = []byte(`{"op":"subscribe","topic":"/scan","type":"sensor_msgs/LaserScan"}`)

func BenchmarkPooledDecode(b *testing.B) {
	pool := NewObjectPool()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			f := pool.Frame.Get()
			_ = f.DeserializeFrom(subscribeFrame)
			pool.ReleaseFrame(f)
		}
	})
}

func BenchmarkAllocatedDecode(b *testing.B) {
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			f := &ds.Frame{}
			_ = f.DeserializeFrom(subscribeFrame)
		}
	})
}
