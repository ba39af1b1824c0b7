package utils

import "os/exec"

// CheckFFmpeg 检查 ffmpeg（或指定路径的转码工具）是否可用
func CheckFFmpeg(binary string) bool {
	if binary == "" {
		binary = "ffmpeg"
	}
	cmd := exec.Command(binary, "-version")
	return cmd.Run() == nil
}
