package server

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/ccp-p/pron-assess/pkg/models"
	"github.com/ccp-p/pron-assess/pkg/utils"
)

// 表单字段
const (
	fieldPhrase   = "phrase"
	fieldLanguage = "language"
	fieldAudio    = "audio"
)

// multipart 表单本身的额外开销
const formOverhead = 1 << 20

// 内存中最多保留的表单大小，超出部分落盘
const maxFormMemory = 8 << 20

// handleAssessPhrase 固定短语评测
func (s *Server) handleAssessPhrase(w http.ResponseWriter, r *http.Request) {
	req, cleanup, err := s.parseRequest(w, r)
	if err != nil {
		respondWithError(w, err)
		return
	}
	defer cleanup()

	utils.WithFields(map[string]interface{}{
		"remote":   r.RemoteAddr,
		"language": req.Language,
	}).Info("收到短语评测请求")

	respondWithResponse(w, s.assessor.AssessPhrase(r.Context(), req))
}

// handleAssessPrompt 自由回答评测
func (s *Server) handleAssessPrompt(w http.ResponseWriter, r *http.Request) {
	req, cleanup, err := s.parseRequest(w, r)
	if err != nil {
		respondWithError(w, err)
		return
	}
	defer cleanup()

	utils.WithFields(map[string]interface{}{
		"remote":   r.RemoteAddr,
		"language": req.Language,
		"metadata": len(req.Metadata),
	}).Info("收到自由回答评测请求")

	respondWithResponse(w, s.assessor.AssessPrompt(r.Context(), req))
}

// parseRequest 解析 multipart 表单，缺少的字段留给评测流程判断
func (s *Server) parseRequest(w http.ResponseWriter, r *http.Request) (*models.AssessmentRequest, func(), error) {
	noop := func() {}

	if limit := s.config.MaxUploadBytes; limit > 0 {
		if r.ContentLength > limit+formOverhead {
			return nil, noop, utils.NewError(utils.CodeUploadTooLarge,
				"Upload too large (limit "+utils.FormatFileSize(limit)+")", nil)
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit+formOverhead)
	}

	err := r.ParseMultipartForm(maxFormMemory)
	var maxErr *http.MaxBytesError
	switch {
	case err == nil, errors.Is(err, http.ErrNotMultipart):
	case errors.As(err, &maxErr):
		return nil, noop, utils.NewError(utils.CodeUploadTooLarge,
			"Upload too large (limit "+utils.FormatFileSize(s.config.MaxUploadBytes)+")", err)
	default:
		return nil, noop, utils.NewError(utils.CodeMissingInput, "Invalid multipart form", err)
	}

	req := &models.AssessmentRequest{
		ReferenceText: r.FormValue(fieldPhrase),
		Language:      r.FormValue(fieldLanguage),
	}

	form := r.MultipartForm
	if form == nil {
		return req, noop, nil
	}
	cleanup := func() {
		if err := form.RemoveAll(); err != nil {
			utils.Warn("清理表单临时文件失败: %v", err)
		}
	}

	req.Metadata = metadataFromForm(form)

	if headers := form.File[fieldAudio]; len(headers) > 0 {
		header := headers[0]
		file, err := header.Open()
		if err != nil {
			cleanup()
			return nil, noop, utils.NewError(utils.CodeMissingInput, "Missing 'audio' file", err)
		}
		req.Audio = &models.UploadedAudio{Filename: header.Filename, Reader: file, Size: header.Size}
		return req, func() {
			file.Close()
			cleanup()
		}, nil
	}

	return req, cleanup, nil
}

// metadataFromForm 除 phrase/language 外的表单字段原样作为元数据
func metadataFromForm(form *multipart.Form) map[string]string {
	metadata := make(map[string]string)
	for key, values := range form.Value {
		if key == fieldPhrase || key == fieldLanguage || len(values) == 0 {
			continue
		}
		metadata[key] = values[0]
	}
	if len(metadata) == 0 {
		return nil
	}
	return metadata
}

// HealthStatus 健康检查结果
type HealthStatus struct {
	Status      string `json:"status"`
	FFmpeg      bool   `json:"ffmpeg"`
	Credentials bool   `json:"credentials"`
	Language    string `json:"defaultLanguage"`
	History     bool   `json:"history"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{
		FFmpeg:      s.checkFFmpeg(),
		Credentials: s.config.HasCredentials(),
		Language:    s.config.DefaultLanguage,
		History:     s.history != nil,
	}

	code := http.StatusOK
	health.Status = "ok"
	if !health.FFmpeg || !health.Credentials {
		health.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	respondWithJSON(w, code, health)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"errors": s.assessor.ErrorHandler().GetErrorStats(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondWithJSON(w, http.StatusNotFound, map[string]string{
			"status":  models.StatusError,
			"code":    "NotFound",
			"message": "history is disabled",
		})
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondWithError(w, utils.NewError(utils.CodeMissingInput, "Invalid 'limit'", err))
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		respondWithError(w, err)
		return
	}
	summary, err := s.history.Summary(r.Context())
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"summary": summary,
	})
}
