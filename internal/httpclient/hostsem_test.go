package httpclient

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestHostSemaphoreLimitsPerHost(t *testing.T) {
	sem := NewHostSemaphore(2)
	var inFlight, maxSeen int64
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := sem.Acquire("https://mirror.example/api/v1/videos/x")
			defer release()
			n := atomic.AddInt64(&inFlight, 1)
			for {
				m := atomic.LoadInt64(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt64(&maxSeen, m, n) {
					break
				}
			}
			atomic.AddInt64(&inFlight, -1)
		}()
	}
	wg.Wait()
	if maxSeen > 2 {
		t.Errorf("max concurrent = %d, want <= 2", maxSeen)
	}
}

func TestHostSemaphoreKeysBySchemeHost(t *testing.T) {
	sem := NewHostSemaphore(1)
	r1 := sem.Acquire("https://a.example/path1")
	done := make(chan struct{})
	go func() {
		r := sem.Acquire("https://b.example/path2")
		r()
		close(done)
	}()
	<-done // different host must not block
	r1()
}
