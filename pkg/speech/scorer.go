package speech

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ccp-p/pron-assess/pkg/models"
	"github.com/ccp-p/pron-assess/pkg/utils"
)

// Assessment 一次发音评测的结果
type Assessment struct {
	Scores         models.Scores
	RecognizedText string
	Words          []models.WordScore
	Detail         json.RawMessage
}

// Scorer 发音评测适配器
type Scorer struct {
	recognizer Recognizer
}

// NewScorer 创建评测适配器
func NewScorer(recognizer Recognizer) *Scorer {
	return &Scorer{recognizer: recognizer}
}

// Score 以 referenceText 为参考对波形打分
func (s *Scorer) Score(ctx context.Context, wav *models.NormalizedWaveform, referenceText, language string) (*Assessment, error) {
	result, err := s.recognizer.Recognize(ctx, RecognizeRequest{
		WavPath:    wav.Path,
		Language:   language,
		Assessment: NewAssessmentConfig(referenceText),
	})
	if err != nil {
		return nil, err
	}

	if result.Reason != ReasonRecognizedSpeech {
		utils.Info("评测未识别到语音: %s", result.Reason)
		return nil, utils.NewError(utils.CodeRecognitionFailed, fmt.Sprintf("Recognition failed: %s", result.Reason), nil).
			WithRaw(result.Raw, 0)
	}

	detail := ParseDetail(result.DetailJSON)

	assessment := &Assessment{
		RecognizedText: result.Text,
		Words:          result.Words,
		Detail:         detail,
	}

	if result.Scores != nil {
		assessment.Scores = clampScores(*result.Scores)
	} else if scores, ok := ExtractScores(detail); ok {
		assessment.Scores = clampScores(*scores)
	} else {
		utils.Warn("评测结果中没有得分")
	}

	if len(assessment.Words) == 0 {
		assessment.Words = ExtractWords(detail)
	}

	return assessment, nil
}
