package bean

import (
	"os"
	"runtime"
	"sync"
	"time"
)

var (
	platformOnce sync.Once
	platformReg  *StandardRegistry
	platformErr  error

	processStart = time.Now()
)

// Platform returns the process-wide default registry, populated with the
// built-in Go runtime beans on first use.
func Platform() *StandardRegistry {
	platformOnce.Do(func() {
		platformReg = NewRegistry()
		platformErr = registerRuntimeBeans(platformReg)
	})
	if platformErr != nil {
		panic("bean: platform registry: " + platformErr.Error())
	}
	return platformReg
}

func registerRuntimeBeans(r *StandardRegistry) error {
	beans := map[string]any{
		"go.runtime:type=Memory":     &memoryBean{},
		"go.runtime:type=Runtime":    &runtimeBean{},
		"go.runtime:type=Goroutines": &goroutineBean{},
	}
	for name, b := range beans {
		if err := r.Register(MustParseName(name), b); err != nil {
			return err
		}
	}
	return nil
}

// memoryBean surfaces runtime.MemStats. HeapMemoryUsage mirrors the usage
// quadruple clients of other management platforms expect.
type memoryBean struct{}

func (b *memoryBean) BeanDescription() string { return "Go heap and GC statistics" }

func (b *memoryBean) GetHeapMemoryUsage() map[string]any {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return map[string]any{
		"init":      int64(0),
		"used":      int64(ms.HeapAlloc),
		"committed": int64(ms.HeapSys),
		"max":       int64(-1),
	}
}

func (b *memoryBean) GetHeapAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

func (b *memoryBean) GetHeapObjects() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapObjects
}

func (b *memoryBean) GetTotalAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.TotalAlloc
}

func (b *memoryBean) GetNumGC() uint32 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.NumGC
}

func (b *memoryBean) GetPauseTotal() time.Duration {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return time.Duration(ms.PauseTotalNs)
}

// GC forces a collection.
func (b *memoryBean) GC() {
	runtime.GC()
}

type runtimeBean struct{}

func (b *runtimeBean) BeanDescription() string { return "Go runtime and process facts" }

func (b *runtimeBean) GetGoVersion() string { return runtime.Version() }
func (b *runtimeBean) GetNumCPU() int       { return runtime.NumCPU() }
func (b *runtimeBean) GetGOMAXPROCS() int   { return runtime.GOMAXPROCS(0) }
func (b *runtimeBean) GetPid() int          { return os.Getpid() }
func (b *runtimeBean) GetStartTime() int64  { return processStart.UnixMilli() }
func (b *runtimeBean) GetUptime() int64 {
	return int64(time.Since(processStart) / time.Millisecond)
}

type goroutineBean struct{}

func (b *goroutineBean) BeanDescription() string { return "Goroutine census" }

func (b *goroutineBean) GetCount() int { return runtime.NumGoroutine() }

// Dump renders goroutine stacks, truncated to max bytes (0 means 64 KiB).
func (b *goroutineBean) Dump(max int) string {
	if max <= 0 {
		max = 64 << 10
	}
	buf := make([]byte, max)
	n := runtime.Stack(buf, true)
	return string(buf[:n])
}
