package watcher

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ccp-p/pron-assess/pkg/utils"
)

// FileEventHandler 是处理文件事件的接口
type FileEventHandler interface {
	OnFileReady(filePath string)
	OnFileRemoved(filePath string)
}

// FolderMonitor 监控文件夹变化，文件写入稳定后才交给处理器
type FolderMonitor struct {
	watcher      *fsnotify.Watcher
	folderPath   string
	accept       func(path string) bool
	handler      FileEventHandler
	debounceTime time.Duration
	pendingFiles map[string]*time.Timer
	mutex        sync.Mutex
	stopChan     chan struct{}
	stopOnce     sync.Once
}

// NewFolderMonitor 创建新的文件夹监控器，accept 决定哪些文件需要处理
func NewFolderMonitor(folderPath string, accept func(path string) bool, handler FileEventHandler, debounceTime time.Duration) (*FolderMonitor, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %w", err)
	}

	return &FolderMonitor{
		watcher:      watcher,
		folderPath:   folderPath,
		accept:       accept,
		handler:      handler,
		debounceTime: debounceTime,
		pendingFiles: make(map[string]*time.Timer),
		stopChan:     make(chan struct{}),
	}, nil
}

// Start 开始监控文件夹
func (m *FolderMonitor) Start() error {
	if err := os.MkdirAll(m.folderPath, 0755); err != nil {
		return fmt.Errorf("创建文件夹失败: %w", err)
	}

	if err := m.watcher.Add(m.folderPath); err != nil {
		return fmt.Errorf("添加监控文件夹失败: %w", err)
	}

	go m.watchLoop()

	utils.Info("开始监控文件夹: %s", m.folderPath)
	return nil
}

// Stop 停止监控，可重复调用
func (m *FolderMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
		m.watcher.Close()

		m.mutex.Lock()
		for path, timer := range m.pendingFiles {
			timer.Stop()
			delete(m.pendingFiles, path)
		}
		m.mutex.Unlock()

		utils.Info("停止监控文件夹: %s", m.folderPath)
	})
}

// Pending 等待处理的文件数
func (m *FolderMonitor) Pending() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.pendingFiles)
}

func (m *FolderMonitor) watchLoop() {
	for {
		select {
		case <-m.stopChan:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleFileEvent(event)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			utils.Error("监控文件夹时出错: %v", err)
		}
	}
}

func (m *FolderMonitor) handleFileEvent(event fsnotify.Event) {
	filePath := event.Name

	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		m.cancel(filePath)
		if m.handler != nil {
			m.handler.OnFileRemoved(filePath)
		}
		return
	}

	// 只处理创建和写入事件
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	if !m.isTargetFile(filePath) {
		return
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	select {
	case <-m.stopChan:
		return
	default:
	}

	// 每次写入都重置定时器
	if timer, exists := m.pendingFiles[filePath]; exists {
		timer.Stop()
	}
	m.pendingFiles[filePath] = time.AfterFunc(m.debounceTime, func() {
		m.processFile(filePath)
	})

	utils.WithField("file", filePath).Debug("检测到文件变化")
}

func (m *FolderMonitor) cancel(filePath string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if timer, exists := m.pendingFiles[filePath]; exists {
		timer.Stop()
		delete(m.pendingFiles, filePath)
	}
}

func (m *FolderMonitor) isTargetFile(filePath string) bool {
	fileInfo, err := os.Stat(filePath)
	if err != nil || fileInfo.IsDir() {
		return false
	}
	return m.accept == nil || m.accept(filePath)
}

func (m *FolderMonitor) processFile(filePath string) {
	m.mutex.Lock()
	delete(m.pendingFiles, filePath)
	m.mutex.Unlock()

	select {
	case <-m.stopChan:
		return
	default:
	}

	// 文件可能在防抖期间被删除
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return
	}

	utils.Info("准备处理文件: %s", filePath)
	if m.handler != nil {
		m.handler.OnFileReady(filePath)
	}
}
