package watcher

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/ccp-p/pron-assess/pkg/export"
	"github.com/ccp-p/pron-assess/pkg/models"
	"github.com/ccp-p/pron-assess/pkg/scanner"
	"github.com/ccp-p/pron-assess/pkg/utils"
)

// Assessor 评测服务
type Assessor interface {
	AssessPhrase(ctx context.Context, req *models.AssessmentRequest) *models.Response
	AssessPrompt(ctx context.Context, req *models.AssessmentRequest) *models.Response
}

// ResultFunc 每个录音评测完成后的回调
type ResultFunc func(path string, flow models.Flow, resp *models.Response)

// InboxHandler 处理收件目录中的录音：有同名 .txt 走短语评测，否则走自由回答评测
type InboxHandler struct {
	ctx       context.Context
	assessor  Assessor
	exporter  *export.JSONExporter
	scanner   *scanner.MediaScanner
	language  string
	onResult  ResultFunc
	processed map[string]bool
	mutex     sync.Mutex
}

// NewInboxHandler 创建收件目录处理器
func NewInboxHandler(ctx context.Context, assessor Assessor, exporter *export.JSONExporter, language string) *InboxHandler {
	return &InboxHandler{
		ctx:       ctx,
		assessor:  assessor,
		exporter:  exporter,
		scanner:   scanner.NewMediaScanner(),
		language:  language,
		processed: make(map[string]bool),
	}
}

// SetResultFunc 设置结果回调
func (h *InboxHandler) SetResultFunc(fn ResultFunc) {
	h.onResult = fn
}

// Scanner 返回使用的扫描器
func (h *InboxHandler) Scanner() *scanner.MediaScanner {
	return h.scanner
}

// OnFileReady 文件写入稳定后评测
func (h *InboxHandler) OnFileReady(filePath string) {
	if err := h.Process(filePath); err != nil {
		utils.Error("评测文件失败 %s: %v", filePath, err)
	}
}

// OnFileRemoved 文件被删除后允许同名文件重新评测
func (h *InboxHandler) OnFileRemoved(filePath string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	delete(h.processed, filePath)
}

// done 已处理或已有结果文件
func (h *InboxHandler) done(path string) bool {
	h.mutex.Lock()
	seen := h.processed[path]
	h.mutex.Unlock()
	return seen || h.exporter.Exported(path)
}

// claim 标记文件为处理中，已被标记时返回 false
func (h *InboxHandler) claim(path string) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.processed[path] {
		return false
	}
	h.processed[path] = true
	return true
}

// Process 评测单个录音并导出结果
func (h *InboxHandler) Process(filePath string) error {
	file, ok := h.scanner.Describe(filePath)
	if !ok {
		return fmt.Errorf("不是可评测的录音: %s", filePath)
	}

	if h.exporter.Exported(file.Path) {
		utils.Debug("已有评测结果，跳过: %s", file.Name)
		return nil
	}
	if !h.claim(file.Path) {
		return nil
	}

	f, err := os.Open(file.Path)
	if err != nil {
		h.OnFileRemoved(file.Path)
		return fmt.Errorf("打开文件失败: %w", err)
	}
	defer f.Close()

	req := &models.AssessmentRequest{
		Audio:    &models.UploadedAudio{Filename: file.Name, Reader: f, Size: file.Size},
		Language: h.language,
		Metadata: map[string]string{"source": file.Name},
	}

	flow := models.FlowPrompt
	var resp *models.Response
	if file.HasPhrase() {
		phrase, err := scanner.ReadPhrase(file.PhrasePath)
		if err != nil {
			h.OnFileRemoved(file.Path)
			return fmt.Errorf("读取短语文件失败: %w", err)
		}
		flow = models.FlowPhrase
		req.ReferenceText = phrase
		resp = h.assessor.AssessPhrase(h.ctx, req)
	} else {
		resp = h.assessor.AssessPrompt(h.ctx, req)
	}

	path, err := h.exporter.Export(file.Path, flow, resp)
	if err != nil {
		return fmt.Errorf("导出评测结果失败: %w", err)
	}

	utils.WithFields(map[string]interface{}{
		"file":   file.Name,
		"flow":   flow,
		"status": resp.HTTPStatus,
	}).Infof("评测结果已保存: %s", path)

	if h.onResult != nil {
		h.onResult(file.Path, flow, resp)
	}
	return nil
}

// InitialScan 处理目录中已存在但尚未评测的录音
func (h *InboxHandler) InitialScan(dir string) (int, error) {
	files, err := h.scanner.ScanDirectory(dir)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, file := range h.scanner.FilterNewFiles(files, h.done) {
		if h.ctx.Err() != nil {
			return count, h.ctx.Err()
		}
		if err := h.Process(file.Path); err != nil {
			utils.Error("评测文件失败 %s: %v", file.Path, err)
			continue
		}
		count++
	}
	return count, nil
}

// StartInboxMonitoring 评测已有录音并开始监控收件目录，返回停止函数
func StartInboxMonitoring(ctx context.Context, config *models.Config, assessor Assessor, onResult ResultFunc) (func(), error) {
	if config.WatchFolder == "" {
		return nil, fmt.Errorf("未配置监听目录")
	}

	exporter := export.NewJSONExporter(config.OutputFolder)
	handler := NewInboxHandler(ctx, assessor, exporter, config.DefaultLanguage)
	handler.SetResultFunc(onResult)

	monitor, err := NewFolderMonitor(config.WatchFolder, handler.Scanner().IsAudioFile, handler, config.WatchDebounceDuration())
	if err != nil {
		return nil, err
	}
	if err := monitor.Start(); err != nil {
		monitor.Stop()
		return nil, err
	}

	if n, err := handler.InitialScan(config.WatchFolder); err != nil {
		utils.Warn("初始扫描未完成: %v", err)
	} else if n > 0 {
		utils.Info("初始扫描评测了 %d 个录音", n)
	}

	stop := func() {
		if n := monitor.Pending(); n > 0 {
			utils.Warn("停止监控时仍有 %d 个文件未处理", n)
		}
		monitor.Stop()
	}
	return stop, nil
}
