package models

import (
	"encoding/json"
	"net/http"
)

// 响应状态
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Scores 四项百分制得分
type Scores struct {
	Pronunciation float64 `json:"pronunciation"`
	Accuracy      float64 `json:"accuracy"`
	Fluency       float64 `json:"fluency"`
	Completeness  float64 `json:"completeness"`
}

// WordScore 单词级准确度，ErrorType 标记漏读/多读/误读
type WordScore struct {
	Word      string  `json:"word"`
	Accuracy  float64 `json:"accuracy"`
	ErrorType string  `json:"errorType,omitempty"`
}

// AssessmentResult 评测成功的响应体
type AssessmentResult struct {
	Status                    string            `json:"status"`
	RequestID                 string            `json:"requestId,omitempty"`
	ReferenceText             string            `json:"referenceText"`
	RecognizedText            string            `json:"recognizedText"`
	Scores                    Scores            `json:"scores"`
	Detail                    json.RawMessage   `json:"detail"`
	TranscriptUsedAsReference *string           `json:"transcriptUsedAsReference,omitempty"`
	Metadata                  map[string]string `json:"metadata,omitempty"`
	Words                     []WordScore       `json:"words,omitempty"`
}

// ErrorResult 评测失败的响应体
type ErrorResult struct {
	Status    string `json:"status"`
	RequestID string `json:"requestId,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Raw       string `json:"raw,omitempty"`
}

// Response 一次请求的最终结果，Result 与 Error 二者必有其一
type Response struct {
	HTTPStatus int
	Result     *AssessmentResult
	Error      *ErrorResult
}

// OK 是否成功
func (r *Response) OK() bool {
	return r.Error == nil && r.Result != nil
}

// Body 返回要序列化给调用方的对象
func (r *Response) Body() interface{} {
	if r.Error != nil {
		return r.Error
	}
	return r.Result
}

// NewOKResponse 构造成功响应
func NewOKResponse(result *AssessmentResult) *Response {
	result.Status = StatusOK
	return &Response{HTTPStatus: http.StatusOK, Result: result}
}
