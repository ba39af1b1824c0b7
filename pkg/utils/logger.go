package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// 日志级别常量
const (
	LogLevelVerbose = "VERBOSE"
	LogLevelNormal  = "INFO"
	LogLevelQuiet   = "WARN"
)

// Log 全局日志实例，InitLogger 之前使用默认设置
var Log = logrus.New()

// InitLogger 初始化日志系统
// level: 日志级别 (VERBOSE/INFO/WARN，也接受 logrus 的 debug/info/warn/error)
// logFile: 日志文件路径，空字符串表示仅输出到控制台
func InitLogger(level string, logFile string) error {
	logger := logrus.New()

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	if logFile != "" {
		logDir := filepath.Dir(logFile)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return fmt.Errorf("创建日志目录失败: %w", err)
		}

		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("打开日志文件失败: %w", err)
		}

		// 同时输出到文件和控制台
		logger.SetOutput(io.MultiWriter(os.Stdout, file))
	} else {
		logger.SetOutput(os.Stdout)
	}

	logger.SetLevel(parseLevel(level))
	Log = logger
	return nil
}

func parseLevel(level string) logrus.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case LogLevelVerbose:
		return logrus.DebugLevel
	case LogLevelNormal, "":
		return logrus.InfoLevel
	case LogLevelQuiet:
		return logrus.WarnLevel
	}

	if lvl, err := logrus.ParseLevel(level); err == nil {
		return lvl
	}
	return logrus.InfoLevel
}

// SetOutput 重定向日志输出，测试中用于捕获日志
func SetOutput(w io.Writer) {
	Log.SetOutput(w)
}

// Debug 输出调试日志
func Debug(format string, args ...interface{}) {
	Log.Debugf(format, args...)
}

// Info 输出信息日志
func Info(format string, args ...interface{}) {
	Log.Infof(format, args...)
}

// Warn 输出警告日志
func Warn(format string, args ...interface{}) {
	Log.Warnf(format, args...)
}

// Error 输出错误日志
func Error(format string, args ...interface{}) {
	Log.Errorf(format, args...)
}

// Fatal 输出致命错误日志并退出
func Fatal(format string, args ...interface{}) {
	Log.Fatalf(format, args...)
}

// WithField 创建带字段的日志条目
func WithField(key string, value interface{}) *logrus.Entry {
	return Log.WithField(key, value)
}

// WithFields 创建带多个字段的日志条目
func WithFields(fields logrus.Fields) *logrus.Entry {
	return Log.WithFields(fields)
}
