package utils

import (
	"fmt"
	"time"
)

// FormatTimeDuration 格式化时间长度为易读格式
func FormatTimeDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}

	seconds := int(d.Seconds())
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, secs)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, secs)
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// FormatFileSize 将字节大小格式化为人类可读格式
func FormatFileSize(sizeBytes int64) string {
	const (
		B  int64 = 1
		KB int64 = 1024 * B
		MB int64 = 1024 * KB
		GB int64 = 1024 * MB
	)

	var (
		unit     string
		unitSize int64
	)

	switch {
	case sizeBytes >= GB:
		unit = "GB"
		unitSize = GB
	case sizeBytes >= MB:
		unit = "MB"
		unitSize = MB
	case sizeBytes >= KB:
		unit = "KB"
		unitSize = KB
	default:
		return fmt.Sprintf("%d B", sizeBytes)
	}

	return fmt.Sprintf("%.2f %s", float64(sizeBytes)/float64(unitSize), unit)
}
