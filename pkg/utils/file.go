package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SaveJSONFile 保存数据到JSON文件，先写临时文件再重命名，避免留下半截文件
func SaveJSONFile(filePath string, data interface{}) error {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化JSON失败: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*.json")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(jsonData); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("写入文件失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("写入文件失败: %w", err)
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("重命名文件失败: %w", err)
	}
	return nil
}

// CheckFileExists 检查文件是否存在
func CheckFileExists(filePath string) bool {
	info, err := os.Stat(filePath)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// CheckDirExists 检查目录是否存在
func CheckDirExists(dirPath string) bool {
	info, err := os.Stat(dirPath)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// EnsureDirExists 确保目录存在，如果不存在则创建
func EnsureDirExists(dirPath string) error {
	if dirPath == "" {
		return nil // 空路径视为可选
	}

	if !CheckDirExists(dirPath) {
		return os.MkdirAll(dirPath, 0755)
	}

	return nil
}

// WithTempDir 在 parent 下创建一个临时目录并执行 fn，无论成功、失败还是panic都会删除该目录
func WithTempDir(parent, pattern string, fn func(dir string) error) error {
	if parent != "" {
		if err := EnsureDirExists(parent); err != nil {
			return fmt.Errorf("创建临时根目录失败: %w", err)
		}
	}

	dir, err := os.MkdirTemp(parent, pattern)
	if err != nil {
		return fmt.Errorf("创建临时目录失败: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			Warn("删除临时目录失败 %s: %v", dir, rmErr)
		}
	}()

	return fn(dir)
}
