//go:build linux || darwin

package datasync

import "syscall"

// DiskStatus classifies a mountpoint's free-space headroom.
type DiskStatus string

const (
	DiskOK      DiskStatus = "ok"
	DiskWarning DiskStatus = "warning"
	DiskError   DiskStatus = "error"
)

// Usage is the byte-level and classified view of a mountpoint's disk usage.
// A Usage with zero byte counts and Status DiskOK is a valid report meaning
// "no data known".
type Usage struct {
	TotalBytes   int64
	UsedBytes    int64
	PercentUsed  float64
	Status       DiskStatus
}

// DiskUsage probes the filesystem underlying path and classifies its usage
// against fixed thresholds: >90% error, 80-90% warning, <80% ok. A
// path that cannot be statted (e.g. a Docker-managed volume with no
// directly exposed host path) returns a zero Usage and nil error — "no
// data known" is itself a valid, non-fatal report.
func DiskUsage(path string) (Usage, error) {
	if path == "" {
		return Usage{Status: DiskOK}, nil
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return Usage{Status: DiskOK}, nil
	}

	total := int64(stat.Blocks) * int64(stat.Bsize)
	free := int64(stat.Bavail) * int64(stat.Bsize)
	used := total - free

	var percent float64
	if total > 0 {
		percent = float64(used) / float64(total) * 100
	}

	return Usage{
		TotalBytes:  total,
		UsedBytes:   used,
		PercentUsed: percent,
		Status:      classify(percent),
	}, nil
}

func classify(percentUsed float64) DiskStatus {
	switch {
	case percentUsed > 90:
		return DiskError
	case percentUsed >= 80:
		return DiskWarning
	default:
		return DiskOK
	}
}
