// Package capacity implements the node agent's startup capacity
// benchmark: a weighted bottleneck model across CPU, RAM, network, and I/O
// axes that produces a single integer max_users figure.
package capacity

import (
	"context"
	"io"
	"math"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// FallbackMaxUsers is returned when the benchmark cannot complete.
const FallbackMaxUsers = 20

const (
	cpuBenchWindow = 1500 * time.Millisecond
	ioWriteSize    = 50 * 1024 * 1024
	netPayloadSize = 8 * 1024 * 1024
)

// AxisDurations reports how long each axis measurement took, for metrics.
type AxisDurations struct {
	CPU, RAM, Net, IO time.Duration
}

// Estimate runs the four-axis benchmark and combines the results into a
// single max_users figure. stateDir is used as the scratch directory for
// the I/O axis. It never returns an error: any axis failure degrades that
// axis to its documented fallback, and a panic anywhere in the benchmark
// is recovered into FallbackMaxUsers.
func Estimate(ctx context.Context, stateDir string, log *zap.Logger, onAxis func(axis string, d time.Duration)) (maxUsers int) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("capacity benchmark panicked, using fallback", zap.Any("recover", r))
			maxUsers = FallbackMaxUsers
		}
	}()

	var cpuCap, ramCap, netCap, ioCap int
	var durs AxisDurations

	// Axis goroutines recover their own panics; the defer above cannot reach them.
	var axisPanicked atomic.Bool
	recoverAxis := func() {
		if r := recover(); r != nil {
			log.Warn("capacity benchmark axis panicked, using fallback", zap.Any("recover", r))
			axisPanicked.Store(true)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer recoverAxis()
		start := time.Now()
		cpuCap = cpuCapacity(gctx)
		durs.CPU = time.Since(start)
		return nil
	})
	g.Go(func() error {
		defer recoverAxis()
		start := time.Now()
		ramCap = ramCapacity()
		durs.RAM = time.Since(start)
		return nil
	})
	g.Go(func() error {
		defer recoverAxis()
		start := time.Now()
		netCap = netCapacity()
		durs.Net = time.Since(start)
		return nil
	})
	g.Go(func() error {
		defer recoverAxis()
		start := time.Now()
		ioCap = ioCapacity(stateDir)
		durs.IO = time.Since(start)
		return nil
	})
	// All four goroutines above are defensive against their own errors and
	// never return a non-nil error, so Wait cannot fail; it only blocks
	// until every axis has reported.
	_ = g.Wait()
	if axisPanicked.Load() {
		return FallbackMaxUsers
	}

	if onAxis != nil {
		onAxis("cpu", durs.CPU)
		onAxis("ram", durs.RAM)
		onAxis("net", durs.Net)
		onAxis("io", durs.IO)
	}

	log.Info("capacity benchmark axes",
		zap.Int("cpu_capacity", cpuCap),
		zap.Int("ram_capacity", ramCap),
		zap.Int("net_capacity", netCap),
		zap.Int("io_capacity", ioCap),
	)

	return combine(cpuCap, ramCap, netCap, ioCap)
}

// combine applies the weighted-harmonic-mean bottleneck model. It is the
// pure, deterministic half of the benchmark and is exercised directly by
// tests against fixed axis inputs (scenario S7).
func combine(cpuCap, ramCap, netCap, ioCap int) int {
	cpuSoft := float64(cpuCap) * 2.5
	ram := float64(ramCap)
	ioClamped := math.Min(float64(ioCap), ram*3)
	netClamped := math.Min(float64(netCap), ram*2)
	hardCap := math.Min(ram, netClamped)

	weighted := 1 / (0.45/cpuSoft + 0.30/ram + 0.20/netClamped + 0.05/ioClamped)
	result := int(math.Round(weighted))
	if result > int(hardCap) {
		result = int(hardCap)
	}
	if result < 10 {
		result = 10
	}
	return result
}

func clampMin10(v int) int {
	if v < 10 {
		return 10
	}
	return v
}

// cpuCapacity spawns one sustained-load worker per logical core for a fixed
// window and counts floating-point multiply ops.
func cpuCapacity(ctx context.Context) int {
	cores := runtime.NumCPU()
	if cores < 1 {
		cores = 1
	}
	var totalOps int64
	deadline := time.Now().Add(cpuBenchWindow)

	var g errgroup.Group
	for i := 0; i < cores; i++ {
		g.Go(func() error {
			x := 1.0000001
			var ops int64
			for time.Now().Before(deadline) {
				select {
				case <-ctx.Done():
					return nil
				default:
				}
				for i := 0; i < 100000; i++ {
					x *= 1.0000001
					if x > 1e6 {
						x = 1.0000001
					}
				}
				ops += 100000
			}
			atomic.AddInt64(&totalOps, ops)
			_ = x
			return nil
		})
	}
	_ = g.Wait()

	opsPerCore := float64(totalOps) / float64(cores)
	return clampMin10(int(math.Round(opsPerCore / 250000 * float64(cores))))
}

// ramCapacity reads total system RAM via gopsutil.
func ramCapacity() int {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return clampMin10(0)
	}
	totalGB := float64(vm.Total) / 1e9
	return clampMin10(int(math.Round((totalGB - 2) * 40)))
}

// netCapacity measures loopback throughput as a stand-in for an uplink
// test: a local listener receives a fixed payload while the dialer times
// the transfer, exercised in both directions. On any failure it falls
// back to 100 per the documented contract.
func netCapacity() int {
	upKBs, downKBs, err := loopbackThroughput()
	if err != nil {
		return 100
	}
	combined := (upKBs*5 + downKBs) / 6
	return clampMin10(int(math.Round(combined / 3 * 0.8)))
}

func loopbackThroughput() (upKBs, downKBs float64, err error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, 0, err
	}
	defer ln.Close()

	payload := make([]byte, netPayloadSize)

	serverDone := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverDone <- err
			return
		}
		defer conn.Close()
		if _, err := io.CopyN(io.Discard, conn, netPayloadSize); err != nil {
			serverDone <- err
			return
		}
		if _, err := conn.Write(payload); err != nil {
			serverDone <- err
			return
		}
		serverDone <- nil
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		return 0, 0, err
	}
	defer conn.Close()

	upStart := time.Now()
	if _, err := conn.Write(payload); err != nil {
		return 0, 0, err
	}
	upElapsed := time.Since(upStart)

	downStart := time.Now()
	if _, err := io.CopyN(io.Discard, conn, netPayloadSize); err != nil {
		return 0, 0, err
	}
	downElapsed := time.Since(downStart)

	if err := <-serverDone; err != nil {
		return 0, 0, err
	}

	upKBs = kbPerSecond(netPayloadSize, upElapsed)
	downKBs = kbPerSecond(netPayloadSize, downElapsed)
	return upKBs, downKBs, nil
}

func kbPerSecond(bytes int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return (float64(bytes) / 1024) / d.Seconds()
}

// ioCapacity writes a scratch file and measures write throughput.
func ioCapacity(stateDir string) int {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return clampMin10(0)
	}
	path := filepath.Join(stateDir, ".capacity-bench.tmp")
	defer os.Remove(path)

	f, err := os.Create(path)
	if err != nil {
		return clampMin10(0)
	}
	defer f.Close()

	buf := make([]byte, 1024*1024)
	start := time.Now()
	written := 0
	for written < ioWriteSize {
		n, err := f.Write(buf)
		if err != nil {
			return clampMin10(0)
		}
		written += n
	}
	if err := f.Sync(); err != nil {
		return clampMin10(0)
	}
	elapsed := time.Since(start)
	if elapsed <= 0 {
		return clampMin10(0)
	}
	writeMiBs := (float64(written) / (1024 * 1024)) / elapsed.Seconds()
	return clampMin10(int(math.Round(writeMiBs * 1024 / 20)))
}
