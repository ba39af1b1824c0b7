package assess

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ccp-p/pron-assess/pkg/models"
	"github.com/ccp-p/pron-assess/pkg/speech"
	"github.com/ccp-p/pron-assess/pkg/utils"
)

// NoSpeechSentinel 转写结果为空时使用的参考文本
const NoSpeechSentinel = "(no speech detected)"

// 错误统计中的操作名
const (
	OperationPhrase = "assess_phrase"
	OperationPrompt = "assess_prompt"
)

// Normalizer 音频规范化
type Normalizer interface {
	Normalize(ctx context.Context, inputPath, outDir string) (*models.NormalizedWaveform, error)
}

// Transcriber 语音转写
type Transcriber interface {
	Transcribe(ctx context.Context, wav *models.NormalizedWaveform, language string) (string, error)
}

// Scorer 发音评测
type Scorer interface {
	Score(ctx context.Context, wav *models.NormalizedWaveform, referenceText, language string) (*speech.Assessment, error)
}

// Recorder 保存评测记录，失败不影响响应
type Recorder interface {
	Record(ctx context.Context, flow models.Flow, resp *models.Response) error
}

// Service 评测编排：校验 -> 规范化 -> (转写) -> 评测 -> 响应
type Service struct {
	config       *models.Config
	normalizer   Normalizer
	transcriber  Transcriber
	scorer       Scorer
	recorder     Recorder
	errorHandler *utils.ErrorHandler
}

// NewService 创建评测服务
func NewService(config *models.Config, normalizer Normalizer, transcriber Transcriber, scorer Scorer) *Service {
	return &Service{
		config:       config,
		normalizer:   normalizer,
		transcriber:  transcriber,
		scorer:       scorer,
		errorHandler: utils.NewErrorHandler(),
	}
}

// SetRecorder 设置评测记录器
func (s *Service) SetRecorder(recorder Recorder) {
	s.recorder = recorder
}

// ErrorHandler 返回错误统计
func (s *Service) ErrorHandler() *utils.ErrorHandler {
	return s.errorHandler
}

// AssessPhrase 以固定短语为参考进行评测
func (s *Service) AssessPhrase(ctx context.Context, req *models.AssessmentRequest) *models.Response {
	requestID := uuid.NewString()
	log := utils.WithFields(logrus.Fields{"request_id": requestID, "flow": models.FlowPhrase})

	var result *models.AssessmentResult
	err := s.errorHandler.SafeExecute(OperationPhrase, func() error {
		if req == nil {
			return utils.NewError(utils.CodeMissingInput, "Missing 'phrase'", nil)
		}
		phrase := strings.TrimSpace(req.ReferenceText)
		if phrase == "" {
			return utils.NewError(utils.CodeMissingInput, "Missing 'phrase'", nil)
		}
		if !req.Audio.Present() {
			return utils.NewError(utils.CodeMissingInput, "Missing 'audio' file", nil)
		}
		language := s.language(req.Language)

		return s.withWaveform(ctx, requestID, log, req.Audio, func(wav *models.NormalizedWaveform) error {
			log.WithField("stage", "score").Debug("开始评测")
			assessment, err := s.scorer.Score(ctx, wav, phrase, language)
			if err != nil {
				return err
			}
			result = newResult(requestID, phrase, assessment)
			return nil
		})
	}, nil)

	return s.finish(ctx, models.FlowPhrase, requestID, log, result, err)
}

// AssessPrompt 先转写，再以转写文本为参考进行评测
func (s *Service) AssessPrompt(ctx context.Context, req *models.AssessmentRequest) *models.Response {
	requestID := uuid.NewString()
	log := utils.WithFields(logrus.Fields{"request_id": requestID, "flow": models.FlowPrompt})

	var result *models.AssessmentResult
	err := s.errorHandler.SafeExecute(OperationPrompt, func() error {
		if req == nil || !req.Audio.Present() {
			return utils.NewError(utils.CodeMissingInput, "Missing 'audio' file", nil)
		}
		language := s.language(req.Language)

		return s.withWaveform(ctx, requestID, log, req.Audio, func(wav *models.NormalizedWaveform) error {
			log.WithField("stage", "transcribe").Debug("开始转写")
			transcript, err := s.transcriber.Transcribe(ctx, wav, language)
			if err != nil {
				return err
			}

			reference := transcript
			if strings.TrimSpace(reference) == "" {
				log.Info("转写结果为空，使用占位参考文本")
				reference = NoSpeechSentinel
			}

			log.WithField("stage", "score").Debug("开始评测")
			assessment, err := s.scorer.Score(ctx, wav, reference, language)
			if err != nil {
				return err
			}

			result = newResult(requestID, reference, assessment)
			result.TranscriptUsedAsReference = &reference
			result.Metadata = copyMetadata(req.Metadata)
			return nil
		})
	}, nil)

	return s.finish(ctx, models.FlowPrompt, requestID, log, result, err)
}

func (s *Service) language(lang string) string {
	if lang = strings.TrimSpace(lang); lang != "" {
		return lang
	}
	if s.config.DefaultLanguage != "" {
		return s.config.DefaultLanguage
	}
	return "en-US"
}

// withWaveform 在请求独占的临时目录中保存上传并规范化，fn 返回后目录被删除
func (s *Service) withWaveform(ctx context.Context, requestID string, log *logrus.Entry, upload *models.UploadedAudio,
	fn func(wav *models.NormalizedWaveform) error) error {
	if s.config.TempDir != "" {
		if err := utils.EnsureDirExists(s.config.TempDir); err != nil {
			return utils.NewError(utils.CodeInternal, "temporary directory unavailable", err)
		}
	}

	return utils.WithTempDir(s.config.TempDir, "assess-"+requestID[:8]+"-", func(dir string) error {
		inputPath := filepath.Join(dir, "upload"+uploadExt(upload.Filename))

		written, err := saveUpload(upload, inputPath, s.config.MaxUploadBytes)
		if err != nil {
			return err
		}
		log.WithField("stage", "upload").Debugf("已保存上传: %s", utils.FormatFileSize(written))

		log.WithField("stage", "normalize").Debug("开始转码")
		wav, err := s.normalizer.Normalize(ctx, inputPath, dir)
		if err != nil {
			return err
		}

		return fn(wav)
	})
}

// saveUpload 将上传写入临时文件，超过上限时返回 UploadTooLarge
func saveUpload(upload *models.UploadedAudio, path string, limit int64) (int64, error) {
	if limit > 0 && upload.Size > limit {
		return 0, tooLarge(limit)
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, utils.NewError(utils.CodeInternal, "save upload failed", err)
	}
	defer f.Close()

	reader := upload.Reader
	if limit > 0 {
		reader = io.LimitReader(upload.Reader, limit+1)
	}

	written, err := io.Copy(f, reader)
	if err != nil {
		return written, utils.NewError(utils.CodeInternal, "save upload failed", err)
	}
	if limit > 0 && written > limit {
		return written, tooLarge(limit)
	}
	if written == 0 {
		return 0, utils.NewError(utils.CodeMissingInput, "Missing 'audio' file", nil)
	}
	return written, nil
}

func tooLarge(limit int64) error {
	return utils.NewError(utils.CodeUploadTooLarge, fmt.Sprintf("Upload too large (limit %s)", utils.FormatFileSize(limit)), nil)
}

// uploadExt 只保留简单的扩展名，文件名本身不参与路径拼接
func uploadExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if len(ext) < 2 || len(ext) > 10 {
		return ""
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return ""
		}
	}
	return ext
}

func newResult(requestID, reference string, assessment *speech.Assessment) *models.AssessmentResult {
	detail := assessment.Detail
	if len(detail) == 0 {
		detail = speech.ParseDetail("")
	}
	return &models.AssessmentResult{
		RequestID:      requestID,
		ReferenceText:  reference,
		RecognizedText: assessment.RecognizedText,
		Scores:         assessment.Scores,
		Detail:         detail,
		Words:          assessment.Words,
	}
}

func copyMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// finish 统一把结果或错误转换成响应
func (s *Service) finish(ctx context.Context, flow models.Flow, requestID string, log *logrus.Entry,
	result *models.AssessmentResult, err error) *models.Response {
	var resp *models.Response
	switch {
	case err != nil:
		resp = errorResponse(requestID, err)
		log.WithField("code", resp.Error.Code).Warnf("评测失败: %s", resp.Error.Message)
	case result == nil:
		resp = errorResponse(requestID, utils.NewError(utils.CodeInternal, "internal error: empty result", nil))
		log.Error("评测没有产生结果")
	default:
		resp = models.NewOKResponse(result)
		log.Infof("评测完成: pronunciation=%.1f", result.Scores.Pronunciation)
	}

	if s.recorder != nil {
		s.record(ctx, flow, resp, log)
	}
	return resp
}

// record 保存评测记录，记录失败或 panic 都不影响已生成的响应
func (s *Service) record(ctx context.Context, flow models.Flow, resp *models.Response, log *logrus.Entry) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("保存评测记录时发生panic: %v", r)
		}
	}()
	if err := s.recorder.Record(ctx, flow, resp); err != nil {
		log.Warnf("保存评测记录失败: %v", err)
	}
}

// errorResponse 将任意错误转换为结构化错误响应
func errorResponse(requestID string, err error) *models.Response {
	code := utils.CodeOf(err)
	body := &models.ErrorResult{
		Status:    models.StatusError,
		RequestID: requestID,
		Code:      string(code),
	}

	if ae, ok := utils.AsAssessError(err); ok {
		body.Message = ae.Message
		body.Raw = ae.Raw
	} else {
		body.Message = "internal error"
		body.Raw = utils.Truncate(err.Error(), 0)
	}

	return &models.Response{HTTPStatus: utils.HTTPStatus(code), Error: body}
}

// ErrorResponse 供调用方在进入评测流程前构造同样格式的错误响应
func ErrorResponse(err error) *models.Response {
	return errorResponse("", err)
}
