package models

import "io"

// Flow 评测流程类型
type Flow string

const (
	FlowPhrase Flow = "phrase" // 固定短语评测
	FlowPrompt Flow = "prompt" // 先转写再评测
)

// UploadedAudio 一次请求上传的原始音频，生命周期仅限于该请求
type UploadedAudio struct {
	Filename string    // 客户端声明的文件名，仅用于取扩展名
	Reader   io.Reader // 音频内容
	Size     int64     // 字节数
}

// Present 是否携带了非空音频
func (a *UploadedAudio) Present() bool {
	return a != nil && a.Reader != nil && a.Size > 0
}

// AssessmentRequest 一次评测请求
type AssessmentRequest struct {
	Audio         *UploadedAudio
	Language      string            // 语言标签，如 en-US
	ReferenceText string            // phrase 流程必填；prompt 流程由转写结果生成
	Metadata      map[string]string // 透传字段，不做解释
}

// NormalizedWaveform 规范化后的波形文件：单声道、16kHz、16bit PCM WAV
type NormalizedWaveform struct {
	Path       string
	Size       int64
	SampleRate int
	Channels   int
	BitDepth   int
}
