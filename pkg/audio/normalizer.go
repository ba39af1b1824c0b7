package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/ccp-p/pron-assess/pkg/models"
	"github.com/ccp-p/pron-assess/pkg/utils"
)

// 规范化波形参数
const (
	TargetSampleRate = 16000
	TargetChannels   = 1
	TargetBitDepth   = 16

	// OutputFileName 规范化输出在临时目录中的文件名
	OutputFileName = "audio.wav"
)

// CommandRunner 执行外部命令并返回标准错误输出
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stderr []byte, err error)
}

// execRunner 基于 os/exec 的默认实现
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.Bytes(), err
}

// Normalizer 将任意输入音频转换为单声道 16kHz 16bit PCM WAV 并校验结果
type Normalizer struct {
	FFmpegPath      string
	MinOutputBytes  int64
	DiagnosticLimit int
	Timeout         time.Duration

	runner CommandRunner
}

// NewNormalizer 创建音频规范化器
func NewNormalizer(config *models.Config) *Normalizer {
	return &Normalizer{
		FFmpegPath:      config.FFmpegPath,
		MinOutputBytes:  config.MinOutputBytes,
		DiagnosticLimit: config.DiagnosticLimit,
		Timeout:         config.TranscodeTimeoutDuration(),
		runner:          execRunner{},
	}
}

// SetRunner 替换命令执行器
func (n *Normalizer) SetRunner(runner CommandRunner) {
	if runner != nil {
		n.runner = runner
	}
}

// buildArgs 构造 ffmpeg 参数
func (n *Normalizer) buildArgs(inputPath, outputPath string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y", // 覆盖已存在的文件
		"-i", inputPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ac", fmt.Sprint(TargetChannels),
		"-ar", fmt.Sprint(TargetSampleRate),
		"-f", "wav",
		outputPath,
	}
}

// Normalize 将 inputPath 转换到 outDir 下的规范化波形，失败时不会留下半成品
func (n *Normalizer) Normalize(ctx context.Context, inputPath, outDir string) (*models.NormalizedWaveform, error) {
	outputPath := filepath.Join(outDir, OutputFileName)

	wf, err := n.normalize(ctx, inputPath, outputPath)
	if err != nil {
		os.Remove(outputPath)
		return nil, err
	}
	return wf, nil
}

func (n *Normalizer) normalize(ctx context.Context, inputPath, outputPath string) (*models.NormalizedWaveform, error) {
	if n.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.Timeout)
		defer cancel()
	}

	start := time.Now()
	utils.Debug("开始转码: %s -> %s", filepath.Base(inputPath), outputPath)

	stderr, err := n.runner.Run(ctx, n.FFmpegPath, n.buildArgs(inputPath, outputPath)...)
	if err != nil {
		msg := "Audio conversion failed"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("Audio conversion timed out after %s", n.Timeout)
		}
		diag := string(bytes.TrimSpace(stderr))
		if diag == "" {
			diag = err.Error()
		}
		utils.Warn("转码失败: %v", err)
		return nil, utils.NewError(utils.CodeConversion, fmt.Sprintf("%s: %s", msg, utils.Truncate(diag, n.DiagnosticLimit)), err).
			WithRaw(diag, n.DiagnosticLimit)
	}

	stat, err := os.Stat(outputPath)
	if err != nil || stat.IsDir() {
		return nil, utils.NewError(utils.CodeOutputMissing, "Audio conversion produced no output file", err).
			WithRaw(string(stderr), n.DiagnosticLimit)
	}

	if stat.Size() < n.MinOutputBytes {
		return nil, utils.NewError(utils.CodeOutputTooSmall,
			fmt.Sprintf("Converted audio is too small (%d bytes < %d), recording is empty or silent", stat.Size(), n.MinOutputBytes), nil).
			WithRaw(string(stderr), n.DiagnosticLimit)
	}

	info, err := ValidateWAV(outputPath)
	if err != nil {
		return nil, err
	}

	utils.Debug("转码完成: %s, 耗时 %s", utils.FormatFileSize(stat.Size()), utils.FormatTimeDuration(time.Since(start)))

	return &models.NormalizedWaveform{
		Path:       outputPath,
		Size:       stat.Size(),
		SampleRate: info.SampleRate,
		Channels:   info.Channels,
		BitDepth:   info.BitDepth,
	}, nil
}
