package utils

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewErrorHandler(t *testing.T) {
	handler := NewErrorHandler()
	assert.NotNil(t, handler.ErrorStats)
	assert.Empty(t, handler.GetErrorStats())
}

func TestAssessErrorMessageAndUnwrap(t *testing.T) {
	cause := errors.New("exit status 1")
	err := NewError(CodeConversion, "audio conversion failed", cause)

	assert.Equal(t, "audio conversion failed: exit status 1", err.Error())
	assert.ErrorIs(t, err, cause)

	// 包装后仍能取出类别
	wrapped := fmt.Errorf("normalize: %w", err)
	assert.Equal(t, CodeConversion, CodeOf(wrapped))

	ae, ok := AsAssessError(wrapped)
	require.True(t, ok)
	assert.Equal(t, "audio conversion failed", ae.Message)
}

func TestCodeOfUnknownError(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[ErrorCode]int{
		CodeMissingInput:        http.StatusBadRequest,
		CodeConversion:          http.StatusBadRequest,
		CodeOutputMissing:       http.StatusBadRequest,
		CodeOutputTooSmall:      http.StatusBadRequest,
		CodeInvalidHeader:       http.StatusBadRequest,
		CodeRecognitionFailed:   http.StatusBadRequest,
		CodeUploadTooLarge:      http.StatusRequestEntityTooLarge,
		CodeProviderUnavailable: http.StatusServiceUnavailable,
		CodeCredentialsMissing:  http.StatusServiceUnavailable,
		CodeInternal:            http.StatusInternalServerError,
	}

	for code, want := range cases {
		assert.Equal(t, want, HTTPStatus(code), string(code))
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))

	long := strings.Repeat("x", 50)
	got := Truncate(long, 10)
	assert.True(t, strings.HasPrefix(got, strings.Repeat("x", 10)))
	assert.Contains(t, got, "truncated")

	// 按字符而不是字节截断
	assert.Equal(t, "音频", strings.TrimSuffix(Truncate("音频转换失败", 2), "...(truncated)"))

	// limit<=0 使用默认值
	assert.Equal(t, long, Truncate(long, 0))
}

func TestWithRaw(t *testing.T) {
	err := NewError(CodeConversion, "audio conversion failed", nil).WithRaw(strings.Repeat("e", 20), 5)
	assert.Equal(t, "eeeee...(truncated)", err.Raw)
}

func TestSafeExecute(t *testing.T) {
	InitLogger(LogLevelNormal, "")

	handler := NewErrorHandler()

	// 测试成功执行且不需要清理
	executed := false
	cleaned := false

	err := handler.SafeExecute("test_safe_success", func() error {
		executed = true
		return nil
	}, func() {
		cleaned = true
	})

	assert.NoError(t, err)
	assert.True(t, executed)
	assert.False(t, cleaned) // 成功执行不应该调用清理函数

	// 测试失败执行并需要清理，错误类型保持不变
	cleaned = false
	testErr := NewError(CodeRecognitionFailed, "Recognition failed: NoMatch", nil)

	err = handler.SafeExecute("test_safe_fail", func() error {
		return testErr
	}, func() {
		cleaned = true
	})

	assert.Same(t, testErr, err)
	assert.True(t, cleaned)

	stats := handler.GetErrorStats()
	assert.Equal(t, 1, stats["test_safe_fail"][string(CodeRecognitionFailed)])
}

func TestSafeExecuteRecoversPanic(t *testing.T) {
	InitLogger(LogLevelQuiet, "")

	handler := NewErrorHandler()
	err := handler.SafeExecute("test_panic", func() error {
		var m map[string]int
		m["x"] = 1 // nil map panic
		return nil
	}, nil)

	require.Error(t, err)
	assert.Equal(t, CodeInternal, CodeOf(err))
	assert.Contains(t, err.Error(), "internal error")
	assert.Equal(t, 1, handler.GetErrorStats()["test_panic"][string(CodeInternal)])
}

func TestErrorStats(t *testing.T) {
	InitLogger(LogLevelNormal, "")

	handler := NewErrorHandler()

	handler.Record("op1", NewError(CodeMissingInput, "missing", nil))
	handler.Record("op1", NewError(CodeMissingInput, "missing", nil)) // 重复错误
	handler.Record("op1", errors.New("plain"))                        // 未分类错误
	handler.Record("op2", NewError(CodeConversion, "conv", nil))

	stats := handler.GetErrorStats()
	assert.Equal(t, 2, len(stats))
	assert.Equal(t, 2, stats["op1"][string(CodeMissingInput)])
	assert.Equal(t, 1, stats["op1"][string(CodeInternal)])
	assert.Equal(t, 1, stats["op2"][string(CodeConversion)])

	// 返回的是副本
	stats["op1"][string(CodeMissingInput)] = 100
	assert.Equal(t, 2, handler.GetErrorStats()["op1"][string(CodeMissingInput)])

	handler.PrintErrorStats() // 这仅测试方法是否正常运行
}
