package app

import "syscall"

// diskStats describes the filesystem holding the store.
type diskStats struct {
	TotalBytes     uint64  `json:"total_bytes"`
	AvailableBytes uint64  `json:"available_bytes"`
	UsedPercent    float64 `json:"used_percent"`
}

// diskUsage returns usage for the filesystem containing dir, or nil on error.
func diskUsage(dir string) *diskStats {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return nil
	}
	total := stat.Blocks * uint64(stat.Bsize)
	avail := stat.Bavail * uint64(stat.Bsize)
	if total == 0 {
		return &diskStats{}
	}
	return &diskStats{
		TotalBytes:     total,
		AvailableBytes: avail,
		UsedPercent:    float64(total-avail) / float64(total) * 100,
	}
}
