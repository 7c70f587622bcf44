package scheduler

import (
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/zeusync/goalpipe/internal/core/observability/log"
)

// Stats is a point in time view of the scheduler and its host process.
type Stats struct {
	Agents     int
	Finished   int
	Ticks      uint64
	Goroutines int

	RSS           uint64
	CPUPercent    float64
	SystemMemUsed float64
}

// Stats collects agent counters plus process memory and CPU usage.
func (s *Scheduler) Stats() (Stats, error) {
	st := Stats{
		Ticks:      s.Ticks(),
		Goroutines: runtime.NumGoroutine(),
	}
	for _, a := range s.Agents() {
		st.Agents++
		if a.Finished() {
			st.Finished++
		}
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return st, fmt.Errorf("process stats: %w", err)
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return st, fmt.Errorf("process memory: %w", err)
	}
	st.RSS = memInfo.RSS
	if st.CPUPercent, err = proc.CPUPercent(); err != nil {
		return st, fmt.Errorf("process cpu: %w", err)
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return st, fmt.Errorf("system memory: %w", err)
	}
	st.SystemMemUsed = vm.UsedPercent
	return st, nil
}

// Fields renders the stats for structured logging.
func (st Stats) Fields() []log.Field {
	return []log.Field{
		log.Int("agents", st.Agents),
		log.Int("finished", st.Finished),
		log.Uint64("ticks", st.Ticks),
		log.Int("goroutines", st.Goroutines),
		log.Uint64("rss_bytes", st.RSS),
		log.Float64("cpu_percent", st.CPUPercent),
		log.Float64("system_mem_used_percent", st.SystemMemUsed),
	}
}
