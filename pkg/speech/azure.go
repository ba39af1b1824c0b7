package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ccp-p/pron-assess/pkg/models"
	"github.com/ccp-p/pron-assess/pkg/utils"
)

const (
	headerSubscriptionKey = "Ocp-Apim-Subscription-Key"
	headerAssessment      = "Pronunciation-Assessment"
	wavContentType        = "audio/wav; codecs=audio/pcm; samplerate=16000"
	defaultEndpointFormat = "https://%s.stt.speech.microsoft.com/speech/recognition/conversation/cognitiveservices/v1"
)

// AzureClient 通过短音频 REST 接口调用云端识别与发音评测
type AzureClient struct {
	client          *resty.Client
	key             string
	endpoint        string
	timeout         time.Duration
	diagnosticLimit int
}

// NewAzureClient 创建云语音客户端，自定义端点优先于区域
func NewAzureClient(config *models.Config) *AzureClient {
	endpoint := strings.TrimSpace(config.SpeechEndpoint)
	if endpoint == "" {
		endpoint = fmt.Sprintf(defaultEndpointFormat, config.SpeechRegion)
	}

	client := resty.New().
		SetLogger(utils.Log).
		SetHeader("Accept", "application/json")

	return &AzureClient{
		client:          client,
		key:             config.SpeechKey,
		endpoint:        endpoint,
		timeout:         config.RecognitionTimeoutDuration(),
		diagnosticLimit: config.DiagnosticLimit,
	}
}

// Endpoint 返回识别端点
func (c *AzureClient) Endpoint() string {
	return c.endpoint
}

// encodeAssessment 评测参数以 base64 JSON 放在请求头中
func encodeAssessment(cfg *AssessmentConfig) (string, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Recognize 发起一次识别调用，不重试
func (c *AzureClient) Recognize(ctx context.Context, req RecognizeRequest) (*RecognitionResult, error) {
	audioData, err := os.ReadFile(req.WavPath)
	if err != nil {
		return nil, utils.NewError(utils.CodeInternal, "read waveform failed", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	r := c.client.R().
		SetContext(ctx).
		SetHeader(headerSubscriptionKey, c.key).
		SetHeader("Content-Type", wavContentType).
		SetQueryParams(map[string]string{
			"language": req.Language,
			"format":   "detailed",
		}).
		SetBody(audioData)

	if req.Assessment != nil {
		encoded, err := encodeAssessment(req.Assessment)
		if err != nil {
			return nil, utils.NewError(utils.CodeInternal, "encode assessment config failed", err)
		}
		r.SetHeader(headerAssessment, encoded)
	}

	start := time.Now()
	resp, err := r.Post(c.endpoint)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			utils.Warn("识别请求超时: %s", c.timeout)
			return nil, utils.NewError(utils.CodeRecognitionFailed,
				fmt.Sprintf("Recognition failed: timed out after %s", c.timeout), err)
		}
		utils.Error("识别请求发送失败: %v", err)
		return nil, utils.NewError(utils.CodeProviderUnavailable, "Speech service unreachable", err)
	}

	body := resp.String()
	utils.Debug("识别服务响应: status=%d, 耗时 %s", resp.StatusCode(), utils.FormatTimeDuration(time.Since(start)))

	switch status := resp.StatusCode(); {
	case status == http.StatusUnauthorized || status == http.StatusForbidden ||
		status == http.StatusTooManyRequests || status >= 500:
		return nil, utils.NewError(utils.CodeProviderUnavailable,
			fmt.Sprintf("Speech service unavailable (HTTP %d)", status), nil).
			WithRaw(body, c.diagnosticLimit)
	case status >= 300:
		// 其余请求错误视为识别失败
		return &RecognitionResult{
			Reason: ReasonError,
			Raw:    utils.Truncate(fmt.Sprintf("HTTP %d: %s", status, body), c.diagnosticLimit),
		}, nil
	}

	parsed, err := parseResponse(resp.Body())
	if err != nil {
		return nil, utils.NewError(utils.CodeProviderUnavailable, "Speech service returned an unreadable response", err).
			WithRaw(body, c.diagnosticLimit)
	}

	result := &RecognitionResult{
		Reason:     reasonFromStatus(parsed.RecognitionStatus),
		Text:       parsed.text(),
		DetailJSON: body,
	}
	if result.Reason != ReasonRecognizedSpeech {
		result.Raw = utils.Truncate(body, c.diagnosticLimit)
		return result, nil
	}

	best := parsed.bestEntry()
	result.Scores = best.scores()
	result.Words = best.words()
	return result, nil
}
