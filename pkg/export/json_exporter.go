package export

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ccp-p/pron-assess/pkg/models"
	"github.com/ccp-p/pron-assess/pkg/utils"
)

// ResultSuffix 导出文件后缀
const ResultSuffix = ".result.json"

// ResultDocument 导出到磁盘的评测结果
type ResultDocument struct {
	Source     string      `json:"source"`     // 源音频文件名
	Flow       models.Flow `json:"flow"`       // 评测流程
	HTTPStatus int         `json:"httpStatus"` // 等价的HTTP状态码
	ExportedAt time.Time   `json:"exportedAt"` // 导出时间
	Response   interface{} `json:"response"`   // 成功或失败的响应体
}

// JSONExporter 负责将评测结果导出为JSON文件
type JSONExporter struct {
	OutputFolder string
}

// NewJSONExporter 创建一个新的JSON导出器
func NewJSONExporter(outputFolder string) *JSONExporter {
	return &JSONExporter{
		OutputFolder: outputFolder,
	}
}

// ResultPath 返回源文件对应的导出路径
func (e *JSONExporter) ResultPath(sourcePath string) string {
	baseName := filepath.Base(sourcePath)
	baseName = strings.TrimSuffix(baseName, filepath.Ext(baseName))
	return filepath.Join(e.OutputFolder, baseName+ResultSuffix)
}

// Exported 源文件是否已经导出过结果
func (e *JSONExporter) Exported(sourcePath string) bool {
	return utils.CheckFileExists(e.ResultPath(sourcePath))
}

// Export 导出一次评测的响应
func (e *JSONExporter) Export(sourcePath string, flow models.Flow, resp *models.Response) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("没有可导出的结果: %s", filepath.Base(sourcePath))
	}

	outputFile := e.ResultPath(sourcePath)
	doc := ResultDocument{
		Source:     filepath.Base(sourcePath),
		Flow:       flow,
		HTTPStatus: resp.HTTPStatus,
		ExportedAt: time.Now(),
		Response:   resp.Body(),
	}

	if err := utils.SaveJSONFile(outputFile, doc); err != nil {
		return "", fmt.Errorf("写入JSON文件失败: %w", err)
	}

	utils.Info("已导出JSON文件: %s", outputFile)
	return outputFile, nil
}
