package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/ccp-p/pron-assess/pkg/history"
	"github.com/ccp-p/pron-assess/pkg/models"
	"github.com/ccp-p/pron-assess/pkg/utils"
)

// Assessor 评测服务
type Assessor interface {
	AssessPhrase(ctx context.Context, req *models.AssessmentRequest) *models.Response
	AssessPrompt(ctx context.Context, req *models.AssessmentRequest) *models.Response
	ErrorHandler() *utils.ErrorHandler
}

// HistoryReader 评测记录查询
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
	Summary(ctx context.Context) ([]history.FlowSummary, error)
}

const shutdownTimeout = 10 * time.Second

// Server HTTP 服务
type Server struct {
	config      *models.Config
	assessor    Assessor
	history     HistoryReader
	checkFFmpeg func() bool
	router      *mux.Router
}

// New 创建 HTTP 服务
func New(config *models.Config, assessor Assessor) *Server {
	s := &Server{
		config:   config,
		assessor: assessor,
		checkFFmpeg: func() bool {
			return utils.CheckFFmpeg(config.FFmpegPath)
		},
	}
	s.router = s.routes()
	return s
}

// SetHistory 启用评测记录查询
func (s *Server) SetHistory(h HistoryReader) {
	s.history = h
}

// SetFFmpegCheck 替换 ffmpeg 检测方法
func (s *Server) SetFFmpegCheck(fn func() bool) {
	if fn != nil {
		s.checkFFmpeg = fn
	}
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/assess_phrase", s.handleAssessPhrase).Methods(http.MethodPost)
	r.HandleFunc("/assess_prompt", s.handleAssessPrompt).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	return r
}

// Handler 返回带中间件的完整处理链
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(utils.Log), handlers.PrintRecoveryStack(true))(h)
	h = handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(h)
	return handlers.CombinedLoggingHandler(utils.Log.WriterLevel(logrus.InfoLevel), h)
}

// Run 启动服务，ctx 取消后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		utils.Info("Web服务启动在 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	utils.Info("正在关闭Web服务...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
