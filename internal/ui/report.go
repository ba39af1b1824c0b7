package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/ccp-p/pron-assess/pkg/models"
)

// Badge 得分等级
type Badge string

const (
	BadgeGood Badge = "good"
	BadgeWarn Badge = "warn"
	BadgeBad  Badge = "bad"
)

// 等级阈值
const (
	GoodThreshold = 80.0
	WarnThreshold = 60.0
)

// BadgeFor 返回得分对应的等级
func BadgeFor(score float64) Badge {
	switch {
	case score >= GoodThreshold:
		return BadgeGood
	case score >= WarnThreshold:
		return BadgeWarn
	default:
		return BadgeBad
	}
}

func (b Badge) colorize(s string) string {
	switch b {
	case BadgeGood:
		return color.GreenString(s)
	case BadgeWarn:
		return color.YellowString(s)
	default:
		return color.RedString(s)
	}
}

// ScoreBar 百分制得分条
type ScoreBar struct {
	Label     string
	Score     float64
	Width     int
	FillChar  string
	EmptyChar string
}

// NewScoreBar 创建得分条
func NewScoreBar(label string, score float64) *ScoreBar {
	return &ScoreBar{
		Label:     label,
		Score:     score,
		Width:     30,
		FillChar:  "█",
		EmptyChar: "░",
	}
}

// String 返回得分条的字符串表示（不带颜色）
func (b *ScoreBar) String() string {
	score := b.Score
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	filled := int(score / 100 * float64(b.Width))
	if filled > b.Width {
		filled = b.Width
	}

	bar := strings.Repeat(b.FillChar, filled) + strings.Repeat(b.EmptyChar, b.Width-filled)
	return fmt.Sprintf("%-14s [%s] %5.1f", b.Label, bar, b.Score)
}

// Render 带颜色的得分条
func (b *ScoreBar) Render() string {
	return BadgeFor(b.Score).colorize(b.String())
}

// RenderResponse 在终端输出评测结果
func RenderResponse(w io.Writer, resp *models.Response) {
	if resp == nil {
		return
	}

	if resp.Error != nil {
		fmt.Fprintln(w, color.RedString("✗ %s (%s, HTTP %d)", resp.Error.Message, resp.Error.Code, resp.HTTPStatus))
		if resp.Error.Raw != "" {
			fmt.Fprintln(w, color.HiBlackString(resp.Error.Raw))
		}
		return
	}

	result := resp.Result
	fmt.Fprintln(w, color.CyanString("参考文本: %s", result.ReferenceText))
	fmt.Fprintln(w, color.CyanString("识别文本: %s", result.RecognizedText))
	if result.TranscriptUsedAsReference != nil {
		fmt.Fprintln(w, color.HiBlackString("(参考文本来自转写)"))
	}
	fmt.Fprintln(w)

	for _, bar := range []*ScoreBar{
		NewScoreBar("Pronunciation", result.Scores.Pronunciation),
		NewScoreBar("Accuracy", result.Scores.Accuracy),
		NewScoreBar("Fluency", result.Scores.Fluency),
		NewScoreBar("Completeness", result.Scores.Completeness),
	} {
		fmt.Fprintln(w, bar.Render())
	}

	if len(result.Words) > 0 {
		fmt.Fprintln(w)
		RenderWords(w, result.Words)
	}

	if len(result.Metadata) > 0 {
		fmt.Fprintln(w)
		for k, v := range result.Metadata {
			fmt.Fprintf(w, "%s: %s\n", k, v)
		}
	}
}

// RenderWords 输出单词级得分表
func RenderWords(w io.Writer, words []models.WordScore) {
	fmt.Fprintf(w, "%-20s %8s  %s\n", "Word", "Accuracy", "Error")
	fmt.Fprintln(w, strings.Repeat("-", 44))
	for _, word := range words {
		errorType := word.ErrorType
		if errorType == "" {
			errorType = "None"
		}
		line := fmt.Sprintf("%-20s %8.1f  %s", word.Word, word.Accuracy, errorType)
		fmt.Fprintln(w, BadgeFor(word.Accuracy).colorize(line))
	}
}
