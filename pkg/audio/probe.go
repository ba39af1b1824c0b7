package audio

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// MediaInfo 存储媒体文件的详细信息
type MediaInfo struct {
	Path       string  // 文件路径
	Name       string  // 文件名
	Format     string  // 容器格式
	Codec      string  // 音频编码
	Duration   float64 // 时长(秒)
	SampleRate int     // 采样率(Hz)
	Channels   int     // 声道数
	BitDepth   int     // 采样位深
	Bitrate    int     // 比特率(kbps)
	Size       int64   // 文件大小(字节)
}

// Probe 使用 ffprobe 获取第一条音频流的信息
func Probe(ctx context.Context, ffprobePath, filePath string) (*MediaInfo, error) {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}

	cmd := exec.CommandContext(ctx,
		ffprobePath,
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "format=format_name,duration,size,bit_rate:stream=codec_name,sample_rate,channels,bits_per_sample",
		"-of", "default=noprint_wrappers=1",
		filePath,
	)

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("获取媒体信息失败: %w", err)
	}

	info := parseProbeOutput(string(output))
	if info.SampleRate == 0 && info.Channels == 0 {
		return nil, fmt.Errorf("无法解析媒体信息: %s", filepath.Base(filePath))
	}
	info.Path = filePath
	info.Name = filepath.Base(filePath)
	return info, nil
}

// parseProbeOutput 解析 key=value 形式的 ffprobe 输出
func parseProbeOutput(output string) *MediaInfo {
	info := &MediaInfo{}
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok || value == "N/A" {
			continue
		}

		switch key {
		case "format_name":
			info.Format = value
		case "codec_name":
			info.Codec = value
		case "duration":
			info.Duration, _ = strconv.ParseFloat(value, 64)
		case "size":
			info.Size, _ = strconv.ParseInt(value, 10, 64)
		case "bit_rate":
			if br, err := strconv.Atoi(value); err == nil {
				info.Bitrate = br / 1000
			}
		case "sample_rate":
			info.SampleRate, _ = strconv.Atoi(value)
		case "channels":
			info.Channels, _ = strconv.Atoi(value)
		case "bits_per_sample":
			info.BitDepth, _ = strconv.Atoi(value)
		}
	}
	return info
}

// String 单行摘要
func (m *MediaInfo) String() string {
	return fmt.Sprintf("%s [%s/%s] %.2fs %dHz %dch %dbit %dkbps",
		m.Name, m.Format, m.Codec, m.Duration, m.SampleRate, m.Channels, m.BitDepth, m.Bitrate)
}
