package utils

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"unicode/utf8"
)

// ErrorCode 标识评测流程中的错误类别
type ErrorCode string

const (
	CodeMissingInput        ErrorCode = "MissingInput"
	CodeUploadTooLarge      ErrorCode = "UploadTooLarge"
	CodeConversion          ErrorCode = "ConversionError"
	CodeOutputMissing       ErrorCode = "OutputMissingError"
	CodeOutputTooSmall      ErrorCode = "OutputTooSmallError"
	CodeInvalidHeader       ErrorCode = "InvalidHeaderError"
	CodeRecognitionFailed   ErrorCode = "RecognitionFailed"
	CodeProviderUnavailable ErrorCode = "ProviderUnavailable"
	CodeCredentialsMissing  ErrorCode = "CredentialsMissing"
	CodeInternal            ErrorCode = "InternalError"
)

// DefaultDiagnosticLimit 诊断信息默认截断长度（字符）
const DefaultDiagnosticLimit = 4000

// AssessError 是评测流程错误的基础类型
type AssessError struct {
	Code    ErrorCode
	Message string
	// Raw 为下层工具或服务的原始诊断信息，已截断
	Raw   string
	Cause error
}

// Error 实现error接口
func (e *AssessError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Cause.Error())
	}
	return e.Message
}

// Unwrap 支持error chain
func (e *AssessError) Unwrap() error {
	return e.Cause
}

// NewError 创建一个新的AssessError
func NewError(code ErrorCode, message string, cause error) *AssessError {
	return &AssessError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithRaw 附加原始诊断信息
func (e *AssessError) WithRaw(raw string, limit int) *AssessError {
	e.Raw = Truncate(raw, limit)
	return e
}

// AsAssessError 从错误链中取出AssessError
func AsAssessError(err error) (*AssessError, bool) {
	var target *AssessError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误链中的错误类别，未知错误归为 InternalError
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if ae, ok := AsAssessError(err); ok {
		return ae.Code
	}
	return CodeInternal
}

// HTTPStatus 错误类别到HTTP状态码的映射
func HTTPStatus(code ErrorCode) int {
	switch code {
	case CodeMissingInput, CodeConversion, CodeOutputMissing, CodeOutputTooSmall,
		CodeInvalidHeader, CodeRecognitionFailed:
		return http.StatusBadRequest
	case CodeUploadTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeProviderUnavailable, CodeCredentialsMissing:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Truncate 将文本截断到 limit 个字符，limit<=0 时使用默认值
func Truncate(s string, limit int) string {
	if limit <= 0 {
		limit = DefaultDiagnosticLimit
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "...(truncated)"
}

// ErrorHandler 记录各操作的错误统计，并为一次操作提供统一的错误边界
type ErrorHandler struct {
	mu         sync.Mutex
	ErrorStats map[string]map[string]int // 操作 -> 错误类别 -> 计数
}

// NewErrorHandler 创建新的错误处理器
func NewErrorHandler() *ErrorHandler {
	return &ErrorHandler{
		ErrorStats: make(map[string]map[string]int),
	}
}

// SafeExecute 安全地执行函数：panic 会被转换为 InternalError，失败时执行清理并记录统计
func (h *ErrorHandler) SafeExecute(operation string, fn func() error, cleanup func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			Error("操作 %s 发生panic: %v", operation, r)
			err = NewError(CodeInternal, fmt.Sprintf("internal error: %v", r), nil)
		}

		if err == nil {
			return
		}

		h.Record(operation, err)
		if cleanup != nil {
			Info("执行清理操作...")
			cleanup()
		}
	}()

	return fn()
}

// Record 更新错误统计
func (h *ErrorHandler) Record(operation string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	code := string(CodeOf(err))
	if h.ErrorStats[operation] == nil {
		h.ErrorStats[operation] = make(map[string]int)
	}
	h.ErrorStats[operation][code]++
}

// GetErrorStats 获取错误统计信息的副本
func (h *ErrorHandler) GetErrorStats() map[string]map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]map[string]int, len(h.ErrorStats))
	for op, codes := range h.ErrorStats {
		inner := make(map[string]int, len(codes))
		for code, count := range codes {
			inner[code] = count
		}
		out[op] = inner
	}
	return out
}

// PrintErrorStats 打印错误统计信息
func (h *ErrorHandler) PrintErrorStats() {
	stats := h.GetErrorStats()
	if len(stats) == 0 {
		Info("没有错误记录")
		return
	}

	ops := make([]string, 0, len(stats))
	for op := range stats {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	Info("错误统计:")
	for _, op := range ops {
		Info("操作: %s", op)
		for code, count := range stats[op] {
			Info("  - %s: %d次", code, count)
		}
	}
}
