package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// MinDiskSpaceBytes is the free space wanted for the data directory (100MB).
const MinDiskSpaceBytes = 100 * 1024 * 1024

// fdsPerURL estimates descriptors held by one in-flight URL: the page
// connection, the embedder connection and headroom for redirects.
const fdsPerURL = 4

// DiskSpace checks free space where the cache and logs live. Low space is
// a warning: the cache is advisory and logs rotate.
func (c *Checker) DiskSpace(dir string) Check {
	return func(context.Context) CheckResult {
		result := CheckResult{Name: "disk_space"}

		path := existingParent(dir)
		var stat syscall.Statfs_t
		if err := syscall.Statfs(path, &stat); err != nil {
			result.Status = StatusWarn
			result.Message = fmt.Sprintf("failed to check disk space: %v", err)
			return result
		}

		available := stat.Bavail * uint64(stat.Bsize)
		result.Message = fmt.Sprintf("%s free at %s (minimum: 100 MB)", formatBytes(available), path)
		if available < MinDiskSpaceBytes {
			result.Status = StatusWarn
			return result
		}
		result.Status = StatusPass
		return result
	}
}

// WritePermissions checks that dir (created if missing) is writable.
func (c *Checker) WritePermissions(dir string) Check {
	return func(context.Context) CheckResult {
		result := CheckResult{
			Name:     "write_permissions",
			Required: true,
		}

		if err := os.MkdirAll(dir, 0o755); err != nil {
			result.Status = StatusFail
			result.Message = fmt.Sprintf("permission denied: %v", err)
			return result
		}
		f, err := os.CreateTemp(dir, ".searchidx-preflight-*")
		if err != nil {
			result.Status = StatusFail
			result.Message = fmt.Sprintf("permission denied: %v", err)
			return result
		}
		_ = f.Close()
		_ = os.Remove(f.Name())

		result.Status = StatusPass
		result.Message = dir
		return result
	}
}

// FileDescriptors checks the descriptor limit against the number of URLs
// processed in parallel.
func (c *Checker) FileDescriptors(concurrency int) Check {
	return func(context.Context) CheckResult {
		result := CheckResult{
			Name:     "file_descriptors",
			Required: true,
		}
		want := uint64(max(256, concurrency*fdsPerURL))

		var rLimit syscall.Rlimit
		if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
			result.Status = StatusWarn
			result.Message = fmt.Sprintf("failed to check file descriptor limit: %v", err)
			return result
		}

		result.Message = fmt.Sprintf("%d (minimum for concurrency %d: %d)", rLimit.Cur, concurrency, want)
		if rLimit.Cur < want {
			result.Status = StatusFail
			result.Details = "Raise the limit with 'ulimit -n', or lower pipeline.concurrency"
			return result
		}
		result.Status = StatusPass
		return result
	}
}

// existingParent walks up from dir to the first path that exists.
func existingParent(dir string) string {
	for {
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}

// formatBytes formats bytes as a human-readable string.
func formatBytes(bytes uint64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/TB)
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
