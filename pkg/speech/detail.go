package speech

import (
	"encoding/json"
	"strings"

	"github.com/ccp-p/pron-assess/pkg/models"
)

// 服务返回的识别状态
const (
	statusSuccess               = "Success"
	statusNoMatch               = "NoMatch"
	statusInitialSilenceTimeout = "InitialSilenceTimeout"
	statusBabbleTimeout         = "BabbleTimeout"
	statusError                 = "Error"
)

var emptyDetail = json.RawMessage(`{}`)

// detailResponse 识别服务 detailed 格式的响应
type detailResponse struct {
	RecognitionStatus string       `json:"RecognitionStatus"`
	DisplayText       string       `json:"DisplayText"`
	NBest             []nbestEntry `json:"NBest"`
}

type nbestEntry struct {
	Lexical string `json:"Lexical"`
	Display string `json:"Display"`

	// 分数可能平铺在 NBest 条目上，也可能嵌套在 PronunciationAssessment 下
	AccuracyScore     *float64         `json:"AccuracyScore"`
	FluencyScore      *float64         `json:"FluencyScore"`
	CompletenessScore *float64         `json:"CompletenessScore"`
	PronScore         *float64         `json:"PronScore"`
	Assessment        *assessmentEntry `json:"PronunciationAssessment"`
	Words             []wordEntry      `json:"Words"`
}

type assessmentEntry struct {
	AccuracyScore     float64 `json:"AccuracyScore"`
	FluencyScore      float64 `json:"FluencyScore"`
	CompletenessScore float64 `json:"CompletenessScore"`
	PronScore         float64 `json:"PronScore"`
	ErrorType         string  `json:"ErrorType"`
}

type wordEntry struct {
	Word          string           `json:"Word"`
	AccuracyScore *float64         `json:"AccuracyScore"`
	ErrorType     string           `json:"ErrorType"`
	Assessment    *assessmentEntry `json:"PronunciationAssessment"`
}

// reasonFromStatus 将服务状态映射为原因码
func reasonFromStatus(status string) Reason {
	switch status {
	case statusSuccess:
		return ReasonRecognizedSpeech
	case statusNoMatch:
		return ReasonNoMatch
	case statusInitialSilenceTimeout:
		return ReasonInitialSilenceTimeout
	case statusBabbleTimeout:
		return ReasonBabbleTimeout
	case statusError:
		return ReasonError
	case "":
		return ReasonError
	default:
		return Reason(status)
	}
}

// ParseDetail 原样透传合法的 JSON 对象；空或无法解析时视为 {}
func ParseDetail(raw string) json.RawMessage {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return emptyDetail
	}
	var probe map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &probe); err != nil || probe == nil {
		return emptyDetail
	}
	return json.RawMessage(raw)
}

// parseResponse 只有状态无法读取时才返回错误，候选条目中类型异常的字段被忽略
func parseResponse(detail []byte) (*detailResponse, error) {
	var head struct {
		RecognitionStatus string          `json:"RecognitionStatus"`
		DisplayText       json.RawMessage `json:"DisplayText"`
		NBest             json.RawMessage `json:"NBest"`
	}
	if err := json.Unmarshal(detail, &head); err != nil {
		return nil, err
	}

	resp := &detailResponse{
		RecognitionStatus: head.RecognitionStatus,
		DisplayText:       lenientString(head.DisplayText),
	}

	var items []json.RawMessage
	if len(head.NBest) > 0 && json.Unmarshal(head.NBest, &items) == nil && len(items) > 0 {
		resp.NBest = []nbestEntry{parseEntry(items[0])}
	}
	return resp, nil
}

// parseEntry 整体解析失败时逐字段解析
func parseEntry(raw json.RawMessage) nbestEntry {
	var entry nbestEntry
	if err := json.Unmarshal(raw, &entry); err == nil {
		return entry
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nbestEntry{}
	}
	// 与 encoding/json 一致，字段名不区分大小写
	fields := make(map[string]json.RawMessage, len(decoded))
	for k, v := range decoded {
		fields[strings.ToLower(k)] = v
	}

	entry = nbestEntry{
		Lexical:           lenientString(fields["lexical"]),
		Display:           lenientString(fields["display"]),
		AccuracyScore:     lenientFloat(fields["accuracyscore"]),
		FluencyScore:      lenientFloat(fields["fluencyscore"]),
		CompletenessScore: lenientFloat(fields["completenessscore"]),
		PronScore:         lenientFloat(fields["pronscore"]),
	}

	var assessment assessmentEntry
	if v, ok := fields["pronunciationassessment"]; ok && json.Unmarshal(v, &assessment) == nil {
		entry.Assessment = &assessment
	}

	var words []wordEntry
	if v, ok := fields["words"]; ok && json.Unmarshal(v, &words) == nil {
		entry.Words = words
	}
	return entry
}

func lenientString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

func lenientFloat(raw json.RawMessage) *float64 {
	var v float64
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return nil
	}
	return &v
}

// bestEntry 取第一条候选
func (r *detailResponse) bestEntry() *nbestEntry {
	if r == nil || len(r.NBest) == 0 {
		return nil
	}
	return &r.NBest[0]
}

// text 优先 DisplayText，其次第一条候选
func (r *detailResponse) text() string {
	if r.DisplayText != "" {
		return r.DisplayText
	}
	if best := r.bestEntry(); best != nil {
		return best.Display
	}
	return ""
}

func (e *nbestEntry) scores() *models.Scores {
	if e == nil {
		return nil
	}
	if e.Assessment != nil {
		return &models.Scores{
			Pronunciation: e.Assessment.PronScore,
			Accuracy:      e.Assessment.AccuracyScore,
			Fluency:       e.Assessment.FluencyScore,
			Completeness:  e.Assessment.CompletenessScore,
		}
	}
	if e.AccuracyScore == nil && e.PronScore == nil && e.FluencyScore == nil && e.CompletenessScore == nil {
		return nil
	}
	return &models.Scores{
		Pronunciation: deref(e.PronScore),
		Accuracy:      deref(e.AccuracyScore),
		Fluency:       deref(e.FluencyScore),
		Completeness:  deref(e.CompletenessScore),
	}
}

func (e *nbestEntry) words() []models.WordScore {
	if e == nil || len(e.Words) == 0 {
		return nil
	}
	words := make([]models.WordScore, 0, len(e.Words))
	for _, w := range e.Words {
		ws := models.WordScore{Word: w.Word, ErrorType: w.ErrorType}
		if w.Assessment != nil {
			ws.Accuracy = w.Assessment.AccuracyScore
			if ws.ErrorType == "" {
				ws.ErrorType = w.Assessment.ErrorType
			}
		} else {
			ws.Accuracy = deref(w.AccuracyScore)
		}
		words = append(words, ws)
	}
	return words
}

// ExtractScores 从原始 detail 中读取四项得分
func ExtractScores(detail json.RawMessage) (*models.Scores, bool) {
	resp, err := parseResponse(detail)
	if err != nil {
		return nil, false
	}
	s := resp.bestEntry().scores()
	return s, s != nil
}

// ExtractWords 从原始 detail 中读取单词级结果
func ExtractWords(detail json.RawMessage) []models.WordScore {
	resp, err := parseResponse(detail)
	if err != nil {
		return nil
	}
	return resp.bestEntry().words()
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// clampScore 将得分限制在 0-100
func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func clampScores(s models.Scores) models.Scores {
	return models.Scores{
		Pronunciation: clampScore(s.Pronunciation),
		Accuracy:      clampScore(s.Accuracy),
		Fluency:       clampScore(s.Fluency),
		Completeness:  clampScore(s.Completeness),
	}
}
