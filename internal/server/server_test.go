package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccp-p/pron-assess/pkg/assess"
	"github.com/ccp-p/pron-assess/pkg/history"
	"github.com/ccp-p/pron-assess/pkg/models"
	"github.com/ccp-p/pron-assess/pkg/utils"
)

type capturedRequest struct {
	flow      models.Flow
	reference string
	language  string
	filename  string
	audio     string
	metadata  map[string]string
}

// fakeAssessor 记录解析后的请求，没有音频时返回 MissingInput
type fakeAssessor struct {
	mu       sync.Mutex
	requests []capturedRequest
	handler  *utils.ErrorHandler
}

func newFakeAssessor() *fakeAssessor {
	return &fakeAssessor{handler: utils.NewErrorHandler()}
}

func (f *fakeAssessor) capture(flow models.Flow, req *models.AssessmentRequest) *models.Response {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := capturedRequest{flow: flow, reference: req.ReferenceText, language: req.Language, metadata: req.Metadata}
	if !req.Audio.Present() {
		f.requests = append(f.requests, c)
		err := utils.NewError(utils.CodeMissingInput, "Missing 'audio' file", nil)
		f.handler.Record(string(flow), err)
		return assess.ErrorResponse(err)
	}

	data, _ := io.ReadAll(req.Audio.Reader)
	c.filename = req.Audio.Filename
	c.audio = string(data)
	f.requests = append(f.requests, c)

	return models.NewOKResponse(&models.AssessmentResult{
		ReferenceText:  req.ReferenceText,
		RecognizedText: "hello",
		Scores:         models.Scores{Pronunciation: 88, Accuracy: 90, Fluency: 85, Completeness: 100},
		Detail:         json.RawMessage(`{"RecognitionStatus":"Success"}`),
		Metadata:       req.Metadata,
	})
}

func (f *fakeAssessor) AssessPhrase(ctx context.Context, req *models.AssessmentRequest) *models.Response {
	return f.capture(models.FlowPhrase, req)
}

func (f *fakeAssessor) AssessPrompt(ctx context.Context, req *models.AssessmentRequest) *models.Response {
	return f.capture(models.FlowPrompt, req)
}

func (f *fakeAssessor) ErrorHandler() *utils.ErrorHandler {
	return f.handler
}

func newTestServer(t *testing.T) (*Server, *fakeAssessor, *models.Config) {
	t.Helper()
	config := models.NewDefaultConfig()
	config.SpeechKey = "test-key"
	assessor := newFakeAssessor()
	srv := New(config, assessor)
	srv.SetFFmpegCheck(func() bool { return true })
	return srv, assessor, config
}

func multipartBody(t *testing.T, fields map[string]string, filename string, audio []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	if filename != "" {
		part, err := writer.CreateFormFile("audio", filename)
		require.NoError(t, err)
		_, err = part.Write(audio)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func do(t *testing.T, srv *Server, req *http.Request) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var body map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestAssessPhraseParsesMultipart(t *testing.T) {
	srv, assessor, _ := newTestServer(t)

	body, contentType := multipartBody(t, map[string]string{
		"phrase":     "Hello world",
		"language":   "en-GB",
		"questionId": "q-7",
	}, "take1.webm", []byte("webm-bytes"))

	req := httptest.NewRequest(http.MethodPost, "/assess_phrase", body)
	req.Header.Set("Content-Type", contentType)
	rec, resp := do(t, srv, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "Hello world", resp["referenceText"])

	require.Len(t, assessor.requests, 1)
	got := assessor.requests[0]
	assert.Equal(t, models.FlowPhrase, got.flow)
	assert.Equal(t, "Hello world", got.reference)
	assert.Equal(t, "en-GB", got.language)
	assert.Equal(t, "take1.webm", got.filename)
	assert.Equal(t, "webm-bytes", got.audio)
	assert.Equal(t, map[string]string{"questionId": "q-7"}, got.metadata)
}

func TestAssessPromptWithoutAudio(t *testing.T) {
	srv, assessor, _ := newTestServer(t)

	body, contentType := multipartBody(t, map[string]string{"studentId": "s1"}, "", nil)
	req := httptest.NewRequest(http.MethodPost, "/assess_prompt", body)
	req.Header.Set("Content-Type", contentType)
	rec, resp := do(t, srv, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "error", resp["status"])
	assert.Equal(t, "MissingInput", resp["code"])
	assert.Equal(t, "Missing 'audio' file", resp["message"])

	require.Len(t, assessor.requests, 1)
	assert.Equal(t, models.FlowPrompt, assessor.requests[0].flow)
	assert.Equal(t, map[string]string{"studentId": "s1"}, assessor.requests[0].metadata)
}

func TestAssessNonMultipartFallsThrough(t *testing.T) {
	srv, assessor, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/assess_phrase", strings.NewReader("phrase=hi"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec, resp := do(t, srv, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MissingInput", resp["code"])
	require.Len(t, assessor.requests, 1)
	assert.Equal(t, "hi", assessor.requests[0].reference)
}

func TestAssessInvalidMultipart(t *testing.T) {
	srv, assessor, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/assess_phrase", strings.NewReader("garbage"))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=xyz")
	rec, resp := do(t, srv, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MissingInput", resp["code"])
	assert.Empty(t, assessor.requests)
}

func TestAssessUploadTooLarge(t *testing.T) {
	srv, assessor, config := newTestServer(t)
	config.MaxUploadBytes = 1024

	body, contentType := multipartBody(t, map[string]string{"phrase": "hi"}, "big.wav", bytes.Repeat([]byte("a"), 2<<20))
	req := httptest.NewRequest(http.MethodPost, "/assess_phrase", body)
	req.Header.Set("Content-Type", contentType)
	rec, resp := do(t, srv, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "UploadTooLarge", resp["code"])
	assert.Empty(t, assessor.requests)
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec, _ := do(t, srv, httptest.NewRequest(http.MethodGet, "/assess_phrase", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/assess_prompt", nil)
	req.Header.Set("Origin", "http://example.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec, _ := do(t, srv, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealth(t *testing.T) {
	srv, _, config := newTestServer(t)

	rec, body := do(t, srv, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["credentials"])
	assert.Equal(t, false, body["history"])

	config.SpeechKey = ""
	rec, body = do(t, srv, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", body["status"])

	config.SpeechKey = "k"
	srv.SetFFmpegCheck(func() bool { return false })
	rec, body = do(t, srv, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, body["ffmpeg"])
}

func TestStats(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/assess_prompt", strings.NewReader(""))
	do(t, srv, req)

	rec, body := do(t, srv, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	errs, ok := body["errors"].(map[string]interface{})
	require.True(t, ok)
	prompt, ok := errs["prompt"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 1.0, prompt["MissingInput"])
}

func TestHistory(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec, body := do(t, srv, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "error", body["status"])

	store, err := history.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()
	srv.SetHistory(store)

	resp := models.NewOKResponse(&models.AssessmentResult{
		RequestID:     "req-1",
		ReferenceText: "Hello",
		Scores:        models.Scores{Pronunciation: 70},
		Detail:        json.RawMessage(`{}`),
	})
	require.NoError(t, store.Record(context.Background(), models.FlowPhrase, resp))

	rec, body = do(t, srv, httptest.NewRequest(http.MethodGet, "/api/history?limit=5", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	entries, ok := body["entries"].([]interface{})
	require.True(t, ok)
	assert.Len(t, entries, 1)
	summary, ok := body["summary"].([]interface{})
	require.True(t, ok)
	assert.Len(t, summary, 1)

	rec, body = do(t, srv, httptest.NewRequest(http.MethodGet, "/api/history?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid 'limit'", body["message"])
}
