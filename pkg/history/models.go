package history

import (
	"time"

	"github.com/ccp-p/pron-assess/pkg/models"
)

// Entry 一条评测记录，只保存结果摘要，不保存音频
type Entry struct {
	ID             string         `json:"id"`
	Flow           models.Flow    `json:"flow"`
	Status         string         `json:"status"`
	Code           string         `json:"code,omitempty"`
	Message        string         `json:"message,omitempty"`
	ReferenceText  string         `json:"referenceText,omitempty"`
	RecognizedText string         `json:"recognizedText,omitempty"`
	Scores         *models.Scores `json:"scores,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// FlowSummary 按流程聚合的统计
type FlowSummary struct {
	Flow             models.Flow `json:"flow"`
	Total            int         `json:"total"`
	Succeeded        int         `json:"succeeded"`
	AvgPronunciation float64     `json:"avgPronunciation"`
}

// EntryFromResponse 将响应转换为记录
func EntryFromResponse(flow models.Flow, resp *models.Response, now time.Time) *Entry {
	entry := &Entry{Flow: flow, CreatedAt: now}

	switch {
	case resp == nil:
		entry.Status = models.StatusError
	case resp.Error != nil:
		entry.ID = resp.Error.RequestID
		entry.Status = models.StatusError
		entry.Code = resp.Error.Code
		entry.Message = resp.Error.Message
	case resp.Result != nil:
		scores := resp.Result.Scores
		entry.ID = resp.Result.RequestID
		entry.Status = models.StatusOK
		entry.ReferenceText = resp.Result.ReferenceText
		entry.RecognizedText = resp.Result.RecognizedText
		entry.Scores = &scores
	}
	return entry
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
