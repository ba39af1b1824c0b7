package models

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ccp-p/pron-assess/pkg/utils"
)

// Config 表示应用程序的配置
type Config struct {
	SpeechKey          string  `json:"speech_key" yaml:"speech_key"`                   // 云语音服务订阅密钥
	SpeechRegion       string  `json:"speech_region" yaml:"speech_region"`             // 云语音服务区域
	SpeechEndpoint     string  `json:"speech_endpoint" yaml:"speech_endpoint"`         // 自定义识别端点，非空时覆盖区域
	DefaultLanguage    string  `json:"default_language" yaml:"default_language"`       // 默认识别语言
	Host               string  `json:"host" yaml:"host"`                               // 监听地址
	Port               int     `json:"port" yaml:"port"`                               // 监听端口
	MaxUploadBytes     int64   `json:"max_upload_bytes" yaml:"max_upload_bytes"`       // 上传文件大小上限
	MinOutputBytes     int64   `json:"min_output_bytes" yaml:"min_output_bytes"`       // 转码输出的最小有效字节数
	DiagnosticLimit    int     `json:"diagnostic_limit" yaml:"diagnostic_limit"`       // 错误诊断信息截断长度
	FFmpegPath         string  `json:"ffmpeg_path" yaml:"ffmpeg_path"`                 // ffmpeg 可执行文件
	FFprobePath        string  `json:"ffprobe_path" yaml:"ffprobe_path"`               // ffprobe 可执行文件
	TranscodeTimeout   float64 `json:"transcode_timeout" yaml:"transcode_timeout"`     // 转码超时（秒）
	RecognitionTimeout float64 `json:"recognition_timeout" yaml:"recognition_timeout"` // 单次识别调用超时（秒）
	TempDir            string  `json:"temp_dir" yaml:"temp_dir"`                       // 临时目录，空表示系统默认
	WatchFolder        string  `json:"watch_folder" yaml:"watch_folder"`               // 监听目录，空表示不启用
	OutputFolder       string  `json:"output_folder" yaml:"output_folder"`             // 评测结果输出目录
	HistoryDB          string  `json:"history_db" yaml:"history_db"`                   // 评测记录数据库，空表示不记录
	WatchDebounce      float64 `json:"watch_debounce" yaml:"watch_debounce"`           // 文件事件防抖（秒）
	LogLevel           string  `json:"log_level" yaml:"log_level"`                     // 日志级别
	LogFile            string  `json:"log_file" yaml:"log_file"`                       // 日志文件
}

// ConfigValidationError 表示配置验证错误
type ConfigValidationError struct {
	Field   string
	Message string
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("配置验证错误: %s - %s", e.Field, e.Message)
}

// NewDefaultConfig 创建默认配置
func NewDefaultConfig() *Config {
	return &Config{
		SpeechRegion:       "japaneast",
		DefaultLanguage:    "en-US",
		Host:               "0.0.0.0",
		Port:               5000,
		MaxUploadBytes:     25 << 20,
		MinOutputBytes:     1000,
		DiagnosticLimit:    utils.DefaultDiagnosticLimit,
		FFmpegPath:         "ffmpeg",
		FFprobePath:        "ffprobe",
		TranscodeTimeout:   60,
		RecognitionTimeout: 30,
		TempDir:            "",
		WatchFolder:        "",
		OutputFolder:       "./output",
		HistoryDB:          "",
		WatchDebounce:      2,
		LogLevel:           "INFO",
		LogFile:            "",
	}
}

// Validate 验证配置是否有效
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DefaultLanguage) == "" {
		return &ConfigValidationError{"DefaultLanguage", "不能为空"}
	}

	if c.Port < 1 || c.Port > 65535 {
		return &ConfigValidationError{"Port", "必须在1-65535之间"}
	}

	if c.MaxUploadBytes < 1024 {
		return &ConfigValidationError{"MaxUploadBytes", "不能小于1024字节"}
	}

	// 小于一个WAV文件头的阈值没有意义
	if c.MinOutputBytes < 44 {
		return &ConfigValidationError{"MinOutputBytes", "不能小于44字节"}
	}

	if c.DiagnosticLimit < 100 || c.DiagnosticLimit > 100000 {
		return &ConfigValidationError{"DiagnosticLimit", "必须在100-100000之间"}
	}

	if strings.TrimSpace(c.FFmpegPath) == "" {
		return &ConfigValidationError{"FFmpegPath", "不能为空"}
	}

	if c.TranscodeTimeout < 1 || c.TranscodeTimeout > 600 {
		return &ConfigValidationError{"TranscodeTimeout", "必须在1-600秒之间"}
	}

	if c.RecognitionTimeout < 1 || c.RecognitionTimeout > 600 {
		return &ConfigValidationError{"RecognitionTimeout", "必须在1-600秒之间"}
	}

	if c.WatchDebounce < 0.1 || c.WatchDebounce > 60 {
		return &ConfigValidationError{"WatchDebounce", "必须在0.1-60秒之间"}
	}

	return nil
}

// ValidateCredentials 启动时检查云语音服务凭据
func (c *Config) ValidateCredentials() error {
	if strings.TrimSpace(c.SpeechKey) == "" {
		return utils.NewError(utils.CodeCredentialsMissing, "speech credentials missing: SPEECH_KEY is not set", nil)
	}
	if strings.TrimSpace(c.SpeechRegion) == "" && strings.TrimSpace(c.SpeechEndpoint) == "" {
		return utils.NewError(utils.CodeCredentialsMissing, "speech credentials missing: SPEECH_REGION or SPEECH_ENDPOINT must be set", nil)
	}
	return nil
}

// HasCredentials 凭据是否齐全
func (c *Config) HasCredentials() bool {
	return c.ValidateCredentials() == nil
}

// Addr 返回监听地址
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TranscodeTimeoutDuration 转码超时
func (c *Config) TranscodeTimeoutDuration() time.Duration {
	return time.Duration(c.TranscodeTimeout * float64(time.Second))
}

// RecognitionTimeoutDuration 单次识别超时
func (c *Config) RecognitionTimeoutDuration() time.Duration {
	return time.Duration(c.RecognitionTimeout * float64(time.Second))
}

// WatchDebounceDuration 文件事件防抖时间
func (c *Config) WatchDebounceDuration() time.Duration {
	return time.Duration(c.WatchDebounce * float64(time.Second))
}

// LoadFromFile 从文件加载配置，根据扩展名选择 JSON 或 YAML
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		logrus.Errorf("读取配置文件失败: %v", err)
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		logrus.Errorf("解析配置文件失败: %v", err)
		return err
	}

	if err := c.Validate(); err != nil {
		logrus.Errorf("配置验证失败: %v", err)
		return err
	}

	return nil
}

// SaveToFile 保存配置到文件
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		logrus.Errorf("序列化配置失败: %v", err)
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		logrus.Errorf("创建目录失败: %v", err)
		return err
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		logrus.Errorf("写入配置文件失败: %v", err)
		return err
	}

	return nil
}

// ApplyEnv 加载 .env 文件并用环境变量覆盖配置
func (c *Config) ApplyEnv(envFiles ...string) error {
	if err := godotenv.Load(envFiles...); err != nil {
		logrus.Debugf("未加载 .env 文件，使用系统环境变量: %v", err)
	}

	if v := os.Getenv("SPEECH_KEY"); v != "" {
		c.SpeechKey = v
	}
	if v := os.Getenv("SPEECH_REGION"); v != "" {
		c.SpeechRegion = v
	}
	if v := os.Getenv("SPEECH_ENDPOINT"); v != "" {
		c.SpeechEndpoint = v
	}
	if v := os.Getenv("DEFAULT_LANGUAGE"); v != "" {
		c.DefaultLanguage = v
	}
	if v := os.Getenv("FFMPEG_PATH"); v != "" {
		c.FFmpegPath = v
	}
	if v := os.Getenv("HISTORY_DB"); v != "" {
		c.HistoryDB = v
	}
	if v := os.Getenv("HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigValidationError{"Port", fmt.Sprintf("无效的PORT环境变量: %q", v)}
		}
		c.Port = port
	}

	return c.Validate()
}

// Update 批量更新配置
func (c *Config) Update(updates map[string]interface{}) error {
	// 保存当前配置用于回滚
	tempConfig := *c

	updateBytes, err := json.Marshal(updates)
	if err != nil {
		logrus.Errorf("序列化更新数据失败: %v", err)
		return err
	}

	if err := json.Unmarshal(updateBytes, c); err != nil {
		*c = tempConfig
		logrus.Errorf("应用配置更新失败: %v", err)
		return err
	}

	if err := c.Validate(); err != nil {
		*c = tempConfig
		logrus.Errorf("配置验证失败: %v", err)
		return err
	}

	return nil
}

// PrintConfig 打印当前配置，密钥做脱敏处理
func (c *Config) PrintConfig() {
	masked := *c
	if masked.SpeechKey != "" {
		masked.SpeechKey = "****"
	}

	bytes, err := json.MarshalIndent(masked, "", "  ")
	if err != nil {
		logrus.Errorf("序列化配置失败: %v", err)
		return
	}
	logrus.Info("当前配置:\n" + string(bytes))
}
