package speech

import (
	"context"

	"github.com/ccp-p/pron-assess/pkg/models"
)

// Reason 识别结果原因码
type Reason string

const (
	ReasonRecognizedSpeech      Reason = "RecognizedSpeech"
	ReasonNoMatch               Reason = "NoMatch"
	ReasonInitialSilenceTimeout Reason = "InitialSilenceTimeout"
	ReasonBabbleTimeout         Reason = "BabbleTimeout"
	ReasonCanceled              Reason = "Canceled"
	ReasonError                 Reason = "Error"
)

// 发音评测固定参数
const (
	GradingHundredMark     = "HundredMark"
	GranularityPhoneme     = "Phoneme"
	DimensionComprehensive = "Comprehensive"
)

// AssessmentConfig 发音评测配置
type AssessmentConfig struct {
	ReferenceText string `json:"ReferenceText"`
	GradingSystem string `json:"GradingSystem"`
	Granularity   string `json:"Granularity"`
	Dimension     string `json:"Dimension"`
	EnableMiscue  bool   `json:"EnableMiscue"`
}

// NewAssessmentConfig 百分制、音素粒度、开启漏读/多读检测
func NewAssessmentConfig(referenceText string) *AssessmentConfig {
	return &AssessmentConfig{
		ReferenceText: referenceText,
		GradingSystem: GradingHundredMark,
		Granularity:   GranularityPhoneme,
		Dimension:     DimensionComprehensive,
		EnableMiscue:  true,
	}
}

// RecognizeRequest 一次识别调用；Assessment 为空时只做转写
type RecognizeRequest struct {
	WavPath    string
	Language   string
	Assessment *AssessmentConfig
}

// RecognitionResult 识别服务返回的结果
type RecognitionResult struct {
	Reason     Reason
	Text       string
	Scores     *models.Scores
	Words      []models.WordScore
	DetailJSON string // 服务返回的原始 JSON
	Raw        string // 失败时的诊断信息
}

// Recognizer 单次、同步的云端识别能力
type Recognizer interface {
	Recognize(ctx context.Context, req RecognizeRequest) (*RecognitionResult, error)
}
