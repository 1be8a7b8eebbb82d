package preflight

import (
	"fmt"
	"syscall"

	"github.com/Aman-CERP/repoindex/internal/ui"
)

// Disk space thresholds for the data directory.
const (
	MinDiskSpaceBytes  = 100 * 1024 * 1024
	WarnDiskSpaceBytes = 1024 * 1024 * 1024
)

// File descriptor thresholds. Index segments, the graph and metrics
// databases and the spool watcher all hold descriptors while the daemon runs.
const (
	MinFileDescriptors  = 1024
	WarnFileDescriptors = 4096
)

// CheckDiskSpace checks the free space on the filesystem holding path.
func (c *Checker) CheckDiskSpace(path string) CheckResult {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return CheckResult{
			Name:     "disk_space",
			Required: true,
			Status:   StatusFail,
			Message:  fmt.Sprintf("failed to stat filesystem: %v", err),
		}
	}
	return diskSpaceResult(stat.Bavail * uint64(stat.Bsize))
}

func diskSpaceResult(free uint64) CheckResult {
	result := CheckResult{
		Name:     "disk_space",
		Required: true,
		Message:  ui.FormatBytes(int64(free)) + " free",
	}
	switch {
	case free < MinDiskSpaceBytes:
		result.Status = StatusFail
		result.Details = "Index commits fail once the disk fills; at least " + ui.FormatBytes(MinDiskSpaceBytes) + " is required"
	case free < WarnDiskSpaceBytes:
		result.Status = StatusWarn
		result.Details = "A full reindex rewrites every segment and may need several times the index size"
	default:
		result.Status = StatusPass
	}
	return result
}

// CheckFileDescriptors checks the soft RLIMIT_NOFILE.
func (c *Checker) CheckFileDescriptors() CheckResult {
	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return CheckResult{
			Name:     "file_descriptors",
			Required: true,
			Status:   StatusFail,
			Message:  fmt.Sprintf("failed to read limit: %v", err),
		}
	}
	return fileDescriptorResult(rLimit.Cur)
}

func fileDescriptorResult(limit uint64) CheckResult {
	result := CheckResult{
		Name:     "file_descriptors",
		Required: true,
		Message:  fmt.Sprintf("limit %d", limit),
	}
	switch {
	case limit < MinFileDescriptors:
		result.Status = StatusFail
		result.Details = fmt.Sprintf("At least %d are required; run 'ulimit -n %d'", MinFileDescriptors, WarnFileDescriptors)
	case limit < WarnFileDescriptors:
		result.Status = StatusWarn
		result.Details = fmt.Sprintf("Large indexes may need more; run 'ulimit -n %d'", WarnFileDescriptors)
	default:
		result.Status = StatusPass
	}
	return result
}
