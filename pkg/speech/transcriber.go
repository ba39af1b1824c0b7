package speech

import (
	"context"
	"fmt"

	"github.com/ccp-p/pron-assess/pkg/models"
	"github.com/ccp-p/pron-assess/pkg/utils"
)

// Transcriber 语音转写适配器
type Transcriber struct {
	recognizer Recognizer
}

// NewTranscriber 创建转写适配器
func NewTranscriber(recognizer Recognizer) *Transcriber {
	return &Transcriber{recognizer: recognizer}
}

// Transcribe 对波形做一次转写，成功时原样返回文本（可能为空）
func (t *Transcriber) Transcribe(ctx context.Context, wav *models.NormalizedWaveform, language string) (string, error) {
	result, err := t.recognizer.Recognize(ctx, RecognizeRequest{
		WavPath:  wav.Path,
		Language: language,
	})
	if err != nil {
		return "", err
	}

	if result.Reason != ReasonRecognizedSpeech {
		utils.Info("转写未识别到语音: %s", result.Reason)
		return "", utils.NewError(utils.CodeRecognitionFailed, fmt.Sprintf("STT failed: %s", result.Reason), nil).
			WithRaw(result.Raw, 0)
	}

	return result.Text, nil
}
