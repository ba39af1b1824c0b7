package scanner

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ccp-p/pron-assess/pkg/utils"
)

// SidecarExt 与音频同名的参考短语文件扩展名
const SidecarExt = ".txt"

// InboxFile 表示收件目录中待评测的一个录音
type InboxFile struct {
	Path       string    // 文件路径
	Name       string    // 文件名
	Ext        string    // 文件扩展名
	Size       int64     // 文件大小（字节）
	ModTime    time.Time // 修改时间
	PhrasePath string    // 同名短语文件，空表示没有
}

// HasPhrase 是否附带参考短语
func (f InboxFile) HasPhrase() bool {
	return f.PhrasePath != ""
}

// MediaScanner 用于扫描收件目录中的录音
type MediaScanner struct {
	AudioExtensions []string
}

// NewMediaScanner 创建新的扫描器
func NewMediaScanner() *MediaScanner {
	return &MediaScanner{
		AudioExtensions: []string{".mp3", ".wav", ".m4a", ".flac", ".ogg", ".aac", ".webm", ".opus", ".mp4"},
	}
}

// IsAudioFile 根据扩展名判断是否为录音
func (s *MediaScanner) IsAudioFile(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, audioExt := range s.AudioExtensions {
		if ext == audioExt {
			return true
		}
	}
	return false
}

// SidecarPath 返回录音对应的短语文件路径（不检查是否存在）
func SidecarPath(audioPath string) string {
	return strings.TrimSuffix(audioPath, filepath.Ext(audioPath)) + SidecarExt
}

// ReadPhrase 读取短语文件，返回去除首尾空白后的内容
func ReadPhrase(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.TrimPrefix(string(data), "\ufeff")), nil
}

// Describe 生成单个录音的描述，文件不可用时返回 false
func (s *MediaScanner) Describe(path string) (InboxFile, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || !s.IsAudioFile(path) {
		return InboxFile{}, false
	}

	file := InboxFile{
		Path:    path,
		Name:    info.Name(),
		Ext:     strings.ToLower(filepath.Ext(path)),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if sidecar := SidecarPath(path); fileExists(sidecar) {
		file.PhrasePath = sidecar
	}
	return file, true
}

// ScanDirectory 扫描指定目录中的录音（非递归）
func (s *MediaScanner) ScanDirectory(dir string) ([]InboxFile, error) {
	var files []InboxFile

	utils.Info("开始扫描目录: %s", dir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		// 跳过目录和隐藏文件
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		if file, ok := s.Describe(filepath.Join(dir, entry.Name())); ok {
			files = append(files, file)
		}
	}

	utils.Info("扫描完成，共找到 %d 个录音", len(files))

	return files, nil
}

// FilterNewFiles 根据已处理记录过滤出新文件
func (s *MediaScanner) FilterNewFiles(files []InboxFile, processed func(path string) bool) []InboxFile {
	var newFiles []InboxFile

	for _, file := range files {
		if !processed(file.Path) {
			newFiles = append(newFiles, file)
		}
	}

	utils.Info("过滤后剩余 %d 个新文件需要评测", len(newFiles))

	return newFiles
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
