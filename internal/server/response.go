package server

import (
	"encoding/json"
	"net/http"

	"github.com/ccp-p/pron-assess/pkg/assess"
	"github.com/ccp-p/pron-assess/pkg/models"
	"github.com/ccp-p/pron-assess/pkg/utils"
)

// respondWithJSON 发送 JSON 响应
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		utils.Error("JSON 序列化错误: %v", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"status":"error","code":"InternalError","message":"internal error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// respondWithResponse 发送评测结果，状态码由结果决定
func respondWithResponse(w http.ResponseWriter, resp *models.Response) {
	respondWithJSON(w, resp.HTTPStatus, resp.Body())
}

// respondWithError 将错误转换为统一的错误响应体
func respondWithError(w http.ResponseWriter, err error) {
	respondWithResponse(w, assess.ErrorResponse(err))
}
