package audio

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/wav"

	"github.com/ccp-p/pron-assess/pkg/utils"
)

// WAV 格式标记
const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

var (
	riffSignature = []byte("RIFF")
	waveSignature = []byte("WAVE")
)

// WavInfo 波形文件头信息
type WavInfo struct {
	AudioFormat int
	SampleRate  int
	Channels    int
	BitDepth    int
}

// ValidateWAV 校验文件头签名以及 fmt 块是否为单声道 16kHz 16bit PCM
func ValidateWAV(path string) (*WavInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, utils.NewError(utils.CodeOutputMissing, "Converted audio could not be opened", err)
	}
	defer f.Close()

	header := make([]byte, 12)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, invalidHeader("file shorter than a RIFF header", err)
	}
	if !bytes.Equal(header[0:4], riffSignature) || !bytes.Equal(header[8:12], waveSignature) {
		return nil, invalidHeader(fmt.Sprintf("unexpected signature %q/%q", header[0:4], header[8:12]), nil)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, invalidHeader("seek failed", err)
	}

	decoder := wav.NewDecoder(f)
	decoder.ReadInfo()
	if err := decoder.Err(); err != nil {
		return nil, invalidHeader("fmt chunk unreadable", err)
	}

	info := &WavInfo{
		AudioFormat: int(decoder.WavAudioFormat),
		SampleRate:  int(decoder.SampleRate),
		Channels:    int(decoder.NumChans),
		BitDepth:    int(decoder.BitDepth),
	}

	if info.AudioFormat != wavFormatPCM && info.AudioFormat != wavFormatExtensible {
		return nil, invalidHeader(fmt.Sprintf("audio format %d is not PCM", info.AudioFormat), nil)
	}
	if info.Channels != TargetChannels || info.SampleRate != TargetSampleRate || info.BitDepth != TargetBitDepth {
		return nil, invalidHeader(fmt.Sprintf("got %d ch / %d Hz / %d bit, want %d ch / %d Hz / %d bit",
			info.Channels, info.SampleRate, info.BitDepth,
			TargetChannels, TargetSampleRate, TargetBitDepth), nil)
	}

	return info, nil
}

func invalidHeader(detail string, cause error) error {
	return utils.NewError(utils.CodeInvalidHeader, "Converted audio has an invalid WAV header: "+detail, cause)
}
