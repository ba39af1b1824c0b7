package controller

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/ccp-p/pron-assess/internal/watcher"
	"github.com/ccp-p/pron-assess/pkg/assess"
	"github.com/ccp-p/pron-assess/pkg/audio"
	"github.com/ccp-p/pron-assess/pkg/history"
	"github.com/ccp-p/pron-assess/pkg/models"
	"github.com/ccp-p/pron-assess/pkg/speech"
	"github.com/ccp-p/pron-assess/pkg/utils"
)

// Options 控制器启动参数，非空时覆盖配置文件
type Options struct {
	ConfigFile string
	EnvFiles   []string
	LogLevel   string
	LogFile    string
}

// AssessController 评测控制器，负责装配各个组件
type AssessController struct {
	Config *models.Config

	Normalizer *audio.Normalizer
	Recognizer *speech.AzureClient
	Service    *assess.Service
	History    *history.Store

	ctx        context.Context
	cancelFunc context.CancelFunc

	cleanup []func()
	mu      sync.Mutex
}

// NewAssessController 加载配置并创建所有组件，凭据缺失时返回 CredentialsMissing
func NewAssessController(opts Options) (*AssessController, error) {
	ctx, cancel := context.WithCancel(context.Background())

	ac := &AssessController{
		Config:     models.NewDefaultConfig(),
		ctx:        ctx,
		cancelFunc: cancel,
	}
	ac.addCleanup(cancel)

	if err := ac.loadConfig(opts); err != nil {
		ac.Cleanup()
		return nil, err
	}

	if err := utils.InitLogger(ac.Config.LogLevel, ac.Config.LogFile); err != nil {
		ac.Cleanup()
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	if err := ac.Config.ValidateCredentials(); err != nil {
		ac.Cleanup()
		return nil, err
	}

	if err := ac.initComponents(); err != nil {
		ac.Cleanup()
		return nil, err
	}

	ac.setupSignalHandlers()
	return ac, nil
}

func (ac *AssessController) loadConfig(opts Options) error {
	if opts.ConfigFile != "" {
		if err := ac.Config.LoadFromFile(opts.ConfigFile); err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}
	}

	if err := ac.Config.ApplyEnv(opts.EnvFiles...); err != nil {
		return err
	}

	if opts.LogLevel != "" {
		ac.Config.LogLevel = opts.LogLevel
	}
	if opts.LogFile != "" {
		ac.Config.LogFile = opts.LogFile
	}
	return nil
}

// 初始化所有组件
func (ac *AssessController) initComponents() error {
	if ac.Config.TempDir != "" {
		if err := utils.EnsureDirExists(ac.Config.TempDir); err != nil {
			return fmt.Errorf("创建临时目录失败: %w", err)
		}
	}

	ac.Normalizer = audio.NewNormalizer(ac.Config)
	ac.Recognizer = speech.NewAzureClient(ac.Config)
	ac.Service = assess.NewService(
		ac.Config,
		ac.Normalizer,
		speech.NewTranscriber(ac.Recognizer),
		speech.NewScorer(ac.Recognizer),
	)

	if ac.Config.HistoryDB != "" {
		store, err := history.Open(ac.Config.HistoryDB)
		if err != nil {
			return fmt.Errorf("打开评测记录数据库失败: %w", err)
		}
		ac.History = store
		ac.Service.SetRecorder(store)
		ac.addCleanup(func() {
			if err := store.Close(); err != nil {
				utils.Warn("关闭评测记录数据库失败: %v", err)
			}
		})
		utils.Info("评测记录保存到: %s", ac.Config.HistoryDB)
	}

	utils.Info("识别端点: %s", ac.Recognizer.Endpoint())
	return nil
}

// ApplyOverrides 应用命令行覆盖项，校验失败时保持原配置
func (ac *AssessController) ApplyOverrides(updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	if err := ac.Config.Update(updates); err != nil {
		return fmt.Errorf("命令行参数无效: %w", err)
	}
	return nil
}

// SaveConfig 保存当前生效的配置
func (ac *AssessController) SaveConfig(path string) error {
	if err := ac.Config.SaveToFile(path); err != nil {
		return fmt.Errorf("保存配置失败: %w", err)
	}
	utils.Info("配置已保存到: %s", path)
	return nil
}

// Context 收到中断信号后取消
func (ac *AssessController) Context() context.Context {
	return ac.ctx
}

// Cancel 主动停止
func (ac *AssessController) Cancel() {
	ac.cancelFunc()
}

// AssessFile 评测本地录音，phrase 为空时走自由回答流程
func (ac *AssessController) AssessFile(path, phrase, language string, metadata map[string]string) (models.Flow, *models.Response, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", nil, fmt.Errorf("读取录音失败: %w", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return "", nil, fmt.Errorf("打开录音失败: %w", err)
	}
	defer f.Close()

	req := &models.AssessmentRequest{
		Audio:         &models.UploadedAudio{Filename: filepath.Base(path), Reader: f, Size: info.Size()},
		Language:      language,
		ReferenceText: phrase,
		Metadata:      metadata,
	}

	if phrase != "" {
		return models.FlowPhrase, ac.Service.AssessPhrase(ac.ctx, req), nil
	}
	return models.FlowPrompt, ac.Service.AssessPrompt(ac.ctx, req), nil
}

// StartWatchMode 监控收件目录，直到收到中断信号
func (ac *AssessController) StartWatchMode(onResult watcher.ResultFunc) error {
	if err := utils.EnsureDirExists(ac.Config.OutputFolder); err != nil {
		return err
	}

	stop, err := watcher.StartInboxMonitoring(ac.ctx, ac.Config, ac.Service, onResult)
	if err != nil {
		return err
	}
	ac.addCleanup(stop)

	utils.Info("监控已启动，按Ctrl+C退出...")
	<-ac.ctx.Done()
	return nil
}

// 添加清理函数
func (ac *AssessController) addCleanup(cleanup func()) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	ac.cleanup = append(ac.cleanup, cleanup)
}

// Cleanup 逆序执行所有清理函数，可重复调用
func (ac *AssessController) Cleanup() {
	ac.mu.Lock()
	cleanup := ac.cleanup
	ac.cleanup = nil
	ac.mu.Unlock()

	for i := len(cleanup) - 1; i >= 0; i-- {
		cleanup[i]()
	}
}

// PrintStats 输出错误统计
func (ac *AssessController) PrintStats() {
	if ac.Service != nil {
		ac.Service.ErrorHandler().PrintErrorStats()
	}
}

// 设置中断处理
func (ac *AssessController) setupSignalHandlers() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	ac.addCleanup(func() { signal.Stop(c) })

	go func() {
		select {
		case <-c:
			utils.Info("接收到中断信号，正在停止...")
			ac.cancelFunc()
		case <-ac.ctx.Done():
		}
	}()
}
