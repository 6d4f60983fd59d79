// Package profiling captures CPU, memory, trace and goroutine profiles for
// one command run, so a slow or stuck pipeline can be inspected afterwards
// with go tool pprof or go tool trace.
package profiling

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
)

// Profile file names inside the session directory.
const (
	CPUFile       = "cpu.prof"
	TraceFile     = "trace.out"
	HeapFile      = "heap.prof"
	AllocsFile    = "allocs.prof"
	GoroutineFile = "goroutine.txt"
	BlockFile     = "block.prof"
)

// blockRate samples one blocking event per this many nanoseconds blocked.
const blockRate = 10_000

// Options selects what a Session records.
type Options struct {
	Dir string

	CPU   bool
	Trace bool
	// Heap also writes the allocs profile.
	Heap      bool
	Goroutine bool
	Block     bool
}

// All enables every profile.
func All(dir string) Options {
	return Options{Dir: dir, CPU: true, Trace: true, Heap: true, Goroutine: true, Block: true}
}

// Session is a set of running profiles. Continuous profiles (CPU, trace,
// block) start with the session; snapshots are written on Stop.
type Session struct {
	opts      Options
	cpuFile   *os.File
	traceFile *os.File
	written   []string
}

// Start creates opts.Dir and starts the continuous profiles.
func Start(opts Options) (*Session, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("profile directory is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}
	s := &Session{opts: opts}

	if opts.CPU {
		f, err := os.Create(s.path(CPUFile))
		if err != nil {
			return nil, fmt.Errorf("failed to create CPU profile file: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to start CPU profile: %w", err)
		}
		s.cpuFile = f
	}

	if opts.Trace {
		f, err := os.Create(s.path(TraceFile))
		if err != nil {
			s.stopContinuous()
			return nil, fmt.Errorf("failed to create trace file: %w", err)
		}
		if err := trace.Start(f); err != nil {
			_ = f.Close()
			s.stopContinuous()
			return nil, fmt.Errorf("failed to start trace: %w", err)
		}
		s.traceFile = f
	}

	if opts.Block {
		runtime.SetBlockProfileRate(blockRate)
	}
	return s, nil
}

// Stop ends the continuous profiles, writes the snapshots and returns
// every file produced.
func (s *Session) Stop() ([]string, error) {
	var errs []error

	// Goroutines first: the stop calls below change what is running.
	if s.opts.Goroutine {
		errs = append(errs, s.lookup("goroutine", GoroutineFile, 1))
	}
	s.stopContinuous()
	if s.opts.Block {
		errs = append(errs, s.lookup("block", BlockFile, 0))
		runtime.SetBlockProfileRate(0)
	}
	if s.opts.Heap {
		runtime.GC()
		errs = append(errs, s.lookup("heap", HeapFile, 0))
		errs = append(errs, s.lookup("allocs", AllocsFile, 0))
	}

	return s.written, errors.Join(errs...)
}

func (s *Session) stopContinuous() {
	if s.cpuFile != nil {
		pprof.StopCPUProfile()
		_ = s.cpuFile.Close()
		s.written = append(s.written, s.cpuFile.Name())
		s.cpuFile = nil
	}
	if s.traceFile != nil {
		trace.Stop()
		_ = s.traceFile.Close()
		s.written = append(s.written, s.traceFile.Name())
		s.traceFile = nil
	}
}

func (s *Session) lookup(profile, name string, debug int) error {
	f, err := os.Create(s.path(name))
	if err != nil {
		return fmt.Errorf("failed to create %s profile file: %w", profile, err)
	}
	defer func() { _ = f.Close() }()

	if err := pprof.Lookup(profile).WriteTo(f, debug); err != nil {
		return fmt.Errorf("failed to write %s profile: %w", profile, err)
	}
	s.written = append(s.written, f.Name())
	return nil
}

func (s *Session) path(name string) string {
	return filepath.Join(s.opts.Dir, name)
}

// MemStats returns current memory statistics.
func MemStats() runtime.MemStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m
}

// FormatBytes formats bytes into human-readable form.
func FormatBytes(bytes uint64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
