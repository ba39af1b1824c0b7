package audio

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccp-p/pron-assess/pkg/models"
	"github.com/ccp-p/pron-assess/pkg/utils"
)

// fakeRunner 模拟 ffmpeg：把预置内容写到输出路径（最后一个参数）
type fakeRunner struct {
	output []byte
	stderr string
	err    error
	calls  int
	args   []string
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.calls++
	r.args = args
	if r.output != nil {
		if err := os.WriteFile(args[len(args)-1], r.output, 0644); err != nil {
			return nil, err
		}
	}
	return []byte(r.stderr), r.err
}

// blockingRunner 一直阻塞到上下文结束
type blockingRunner struct{}

func (blockingRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	<-ctx.Done()
	return []byte("killed"), ctx.Err()
}

func skipIfNoFFmpeg(t *testing.T) {
	if os.Getenv("SKIP_FFMPEG_TESTS") == "1" {
		t.Skip("跳过测试：SKIP_FFMPEG_TESTS=1")
	}
	if err := exec.Command("ffmpeg", "-version").Run(); err != nil {
		t.Skip("跳过测试：未安装FFmpeg")
	}
}

// writeWav 生成测试用 WAV 文件
func writeWav(t *testing.T, path string, sampleRate, channels, bitDepth, frames int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, bitDepth, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           make([]int, frames*channels),
		SourceBitDepth: bitDepth,
	}
	for i := range buf.Data {
		buf.Data[i] = (i*37)%2000 - 1000
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
}

func readFixture(t *testing.T, sampleRate, channels, bitDepth, frames int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.wav")
	writeWav(t, path, sampleRate, channels, bitDepth, frames)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func newTestNormalizer(runner CommandRunner) *Normalizer {
	n := NewNormalizer(models.NewDefaultConfig())
	n.SetRunner(runner)
	return n
}

func TestNewNormalizer(t *testing.T) {
	config := models.NewDefaultConfig()
	config.MinOutputBytes = 2048
	config.TranscodeTimeout = 5

	n := NewNormalizer(config)
	assert.Equal(t, "ffmpeg", n.FFmpegPath)
	assert.Equal(t, int64(2048), n.MinOutputBytes)
	assert.Equal(t, 5*time.Second, n.Timeout)
	assert.NotNil(t, n.runner)

	// nil 不会替换执行器
	n.SetRunner(nil)
	assert.NotNil(t, n.runner)
}

func TestBuildArgs(t *testing.T) {
	n := newTestNormalizer(&fakeRunner{})
	args := strings.Join(n.buildArgs("in.webm", "/tmp/x/audio.wav"), " ")

	assert.Contains(t, args, "-i in.webm")
	assert.Contains(t, args, "-acodec pcm_s16le")
	assert.Contains(t, args, "-ac 1")
	assert.Contains(t, args, "-ar 16000")
	assert.Contains(t, args, "-y")
	assert.True(t, strings.HasSuffix(args, "/tmp/x/audio.wav"))
}

func TestNormalizeSuccess(t *testing.T) {
	runner := &fakeRunner{output: readFixture(t, 16000, 1, 16, 16000)}
	n := newTestNormalizer(runner)
	outDir := t.TempDir()

	wf, err := n.Normalize(context.Background(), "input.webm", outDir)
	require.NoError(t, err)

	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, filepath.Join(outDir, OutputFileName), wf.Path)
	assert.Equal(t, 16000, wf.SampleRate)
	assert.Equal(t, 1, wf.Channels)
	assert.Equal(t, 16, wf.BitDepth)
	assert.Greater(t, wf.Size, int64(1000))
	assert.True(t, utils.CheckFileExists(wf.Path))
}

func TestNormalizeConversionError(t *testing.T) {
	runner := &fakeRunner{
		output: []byte("partial"),
		stderr: "input.webm: Invalid data found when processing input",
		err:    errors.New("exit status 1"),
	}
	n := newTestNormalizer(runner)
	outDir := t.TempDir()

	wf, err := n.Normalize(context.Background(), "input.webm", outDir)
	require.Error(t, err)
	assert.Nil(t, wf)

	ae, ok := utils.AsAssessError(err)
	require.True(t, ok)
	assert.Equal(t, utils.CodeConversion, ae.Code)
	assert.Contains(t, ae.Message, "Invalid data found")
	assert.Contains(t, ae.Raw, "Invalid data found")

	// 半成品必须被删除
	assert.False(t, utils.CheckFileExists(filepath.Join(outDir, OutputFileName)))
}

func TestNormalizeDiagnosticTruncated(t *testing.T) {
	runner := &fakeRunner{stderr: strings.Repeat("e", 10000), err: errors.New("exit status 1")}
	n := newTestNormalizer(runner)
	n.DiagnosticLimit = 100

	_, err := n.Normalize(context.Background(), "input.webm", t.TempDir())
	ae, ok := utils.AsAssessError(err)
	require.True(t, ok)
	assert.Equal(t, 100+len("...(truncated)"), len(ae.Raw))
	assert.Less(t, len(ae.Message), 300)
}

func TestNormalizeTimeout(t *testing.T) {
	n := newTestNormalizer(blockingRunner{})
	n.Timeout = 50 * time.Millisecond

	_, err := n.Normalize(context.Background(), "input.webm", t.TempDir())
	ae, ok := utils.AsAssessError(err)
	require.True(t, ok)
	assert.Equal(t, utils.CodeConversion, ae.Code)
	assert.Contains(t, ae.Message, "timed out")
}

func TestNormalizeOutputMissing(t *testing.T) {
	n := newTestNormalizer(&fakeRunner{})

	_, err := n.Normalize(context.Background(), "input.webm", t.TempDir())
	assert.Equal(t, utils.CodeOutputMissing, utils.CodeOf(err))
}

func TestNormalizeOutputTooSmall(t *testing.T) {
	n := newTestNormalizer(&fakeRunner{output: readFixture(t, 16000, 1, 16, 10)})
	outDir := t.TempDir()

	_, err := n.Normalize(context.Background(), "input.webm", outDir)
	assert.Equal(t, utils.CodeOutputTooSmall, utils.CodeOf(err))
	assert.False(t, utils.CheckFileExists(filepath.Join(outDir, OutputFileName)))
}

func TestNormalizeInvalidHeader(t *testing.T) {
	garbage := make([]byte, 4096)
	copy(garbage, "OggS")
	n := newTestNormalizer(&fakeRunner{output: garbage})
	outDir := t.TempDir()

	_, err := n.Normalize(context.Background(), "input.webm", outDir)
	assert.Equal(t, utils.CodeInvalidHeader, utils.CodeOf(err))
	assert.False(t, utils.CheckFileExists(filepath.Join(outDir, OutputFileName)))
}

func TestNormalizeWrongFormat(t *testing.T) {
	n := newTestNormalizer(&fakeRunner{output: readFixture(t, 44100, 2, 16, 4410)})

	_, err := n.Normalize(context.Background(), "input.webm", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, utils.CodeInvalidHeader, utils.CodeOf(err))
	assert.Contains(t, err.Error(), "44100")
}

// 集成测试 - 需要ffmpeg可用
func TestNormalizeIdempotentWithFFmpeg(t *testing.T) {
	skipIfNoFFmpeg(t)

	dir := t.TempDir()
	source := filepath.Join(dir, "source.wav")
	writeWav(t, source, 44100, 2, 16, 44100)

	n := NewNormalizer(models.NewDefaultConfig())

	firstDir := filepath.Join(dir, "first")
	secondDir := filepath.Join(dir, "second")
	require.NoError(t, os.MkdirAll(firstDir, 0755))
	require.NoError(t, os.MkdirAll(secondDir, 0755))

	first, err := n.Normalize(context.Background(), source, firstDir)
	require.NoError(t, err)

	second, err := n.Normalize(context.Background(), first.Path, secondDir)
	require.NoError(t, err)

	assert.Equal(t, first.SampleRate, second.SampleRate)
	assert.Equal(t, first.Channels, second.Channels)
	assert.Equal(t, first.BitDepth, second.BitDepth)
	assert.Equal(t, first.Size, second.Size)

	info, err := Probe(context.Background(), "ffprobe", second.Path)
	if err == nil {
		assert.Equal(t, TargetSampleRate, info.SampleRate)
		assert.Equal(t, TargetChannels, info.Channels)
		assert.Equal(t, "pcm_s16le", info.Codec)
	}
}

func TestNormalizeCorruptInputWithFFmpeg(t *testing.T) {
	skipIfNoFFmpeg(t)

	dir := t.TempDir()
	corrupt := filepath.Join(dir, "broken.webm")
	require.NoError(t, os.WriteFile(corrupt, []byte("definitely not audio"), 0644))

	outDir := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(outDir, 0755))

	_, err := NewNormalizer(models.NewDefaultConfig()).Normalize(context.Background(), corrupt, outDir)
	require.Error(t, err)
	ae, ok := utils.AsAssessError(err)
	require.True(t, ok)
	assert.Equal(t, utils.CodeConversion, ae.Code)
	assert.NotEmpty(t, ae.Raw)

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
