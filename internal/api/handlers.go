package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	xerrors "TextRelay/internal/errors"
	"TextRelay/internal/llm"
	"TextRelay/internal/task"
	"TextRelay/pkg/logger"
)

const maxBodyBytes = 1 << 20

type translateRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

func (r translateRequest) toLLM() llm.Request {
	return llm.Request{Kind: llm.KindTranslate, Text: r.Text, SourceLang: r.SourceLang, TargetLang: r.TargetLang}
}

type summarizeRequest struct {
	Text      string `json:"text"`
	MaxLength int    `json:"max_length"`
}

func (r summarizeRequest) toLLM() llm.Request {
	return llm.Request{Kind: llm.KindSummarize, Text: r.Text, MaxLength: r.MaxLength}
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Success bool         `json:"success"`
	Code    xerrors.Code `json:"code"`
	Message string       `json:"message"`
}

type translateResult struct {
	OriginalText   string `json:"original_text"`
	TranslatedText string `json:"translated_text"`
	SourceLang     string `json:"source_lang"`
	TargetLang     string `json:"target_lang"`
}

type summarizeResult struct {
	OriginalText string `json:"original_text"`
	Summary      string `json:"summary"`
	MaxLength    int    `json:"max_length"`
}

type asyncAccepted struct {
	TaskID  string      `json:"task_id"`
	Status  task.Status `json:"status"`
	Message string      `json:"message"`
}

type function struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

var functions = []function{
	{ID: "zh_to_en", Name: "中译英", Description: "将中文翻译为英文", Type: "translation"},
	{ID: "en_to_zh", Name: "英译中", Description: "将英文翻译为中文", Type: "translation"},
	{ID: "summarize", Name: "文本总结", Description: "对输入文本进行总结", Type: "summary"},
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "TextRelay 文本处理服务",
		"version": s.info.Version,
		"docs":    "/api/functions",
	})
}

type healthResponse struct {
	Status       string `json:"status"`
	Message      string `json:"message"`
	RedisStatus  string `json:"redis_status"`
	AIStatus     string `json:"ai_status"`
	StoreBackend string `json:"store_backend"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.info.HealthTimeout)
	defer cancel()

	resp := healthResponse{
		Status:       "healthy",
		Message:      "服务运行正常",
		RedisStatus:  "connected",
		AIStatus:     "ready",
		StoreBackend: s.manager.Backend(),
	}
	if s.manager.Backend() != "redis" {
		resp.RedisStatus = "disconnected"
	}
	if s.info.Provider != "" {
		resp.AIStatus = s.info.Provider
	}
	if s.info.ProviderDegraded {
		resp.AIStatus = "simulated"
		resp.Status = "degraded"
		resp.Message = "AI 服务未配置，使用模拟处理器"
	}
	if s.info.StoreDegraded {
		resp.Status = "degraded"
		resp.Message = "Redis 不可用，使用内存存储"
	}

	status := http.StatusOK
	if err := s.manager.HealthCheck(ctx); err != nil {
		status = http.StatusServiceUnavailable
		resp.Status = "unhealthy"
		resp.Message = err.Error()
		if resp.StoreBackend == "redis" {
			resp.RedisStatus = "error"
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleFunctions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: functions, Message: "获取功能列表成功"})
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var body translateRequest
	if !decode(w, r, &body) {
		return
	}
	req, err := llm.Prepare(body.toLLM())
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.manager.Execute(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Data: translateResult{
			OriginalText:   req.Text,
			TranslatedText: result,
			SourceLang:     req.SourceLang,
			TargetLang:     req.TargetLang,
		},
		Message: "翻译成功",
	})
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var body summarizeRequest
	if !decode(w, r, &body) {
		return
	}
	req, err := llm.Prepare(body.toLLM())
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.manager.Execute(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Data: summarizeResult{
			OriginalText: req.Text,
			Summary:      result,
			MaxLength:    req.MaxLength,
		},
		Message: "总结成功",
	})
}

func (s *Server) handleTranslateAsync(w http.ResponseWriter, r *http.Request) {
	var body translateRequest
	if !decode(w, r, &body) {
		return
	}
	s.submit(w, r, body.toLLM(), "翻译任务已提交，请使用task_id轮询结果")
}

func (s *Server) handleSummarizeAsync(w http.ResponseWriter, r *http.Request) {
	var body summarizeRequest
	if !decode(w, r, &body) {
		return
	}
	s.submit(w, r, body.toLLM(), "总结任务已提交，请使用task_id轮询结果")
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, req llm.Request, message string) {
	created, err := s.manager.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, asyncAccepted{TaskID: created.ID, Status: created.Status, Message: message})
}

func (s *Server) handleTranslateStream(w http.ResponseWriter, r *http.Request) {
	var body translateRequest
	if !decode(w, r, &body) {
		return
	}
	s.stream(w, r, body.toLLM(), "开始翻译")
}

func (s *Server) handleSummarizeStream(w http.ResponseWriter, r *http.Request) {
	var body summarizeRequest
	if !decode(w, r, &body) {
		return
	}
	s.stream(w, r, body.toLLM(), "开始总结")
}

func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, err := s.manager.GetStatus(r.Context(), id)
	if err != nil {
		if stdErrors.Is(err, task.ErrTaskNotFound) {
			writeError(w, xerrors.New(task.CodeTaskNotFound, "任务不存在"))
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: record, Message: "获取任务状态成功"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.manager.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: stats, Message: "获取任务统计成功"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, xerrors.New(xerrors.CodeNotFound, "未启用历史归档"))
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, xerrors.New(xerrors.CodeValidation, "limit 必须是非负整数"))
			return
		}
		limit = parsed
	}
	records, err := s.history.ListLatest(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: records, Message: "获取历史记录成功"})
}

// decode 解析请求体，失败时直接写出错误响应并返回 false。
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dst); err != nil {
		if stdErrors.Is(err, io.EOF) {
			writeError(w, xerrors.New(xerrors.CodeValidation, "请求体不能为空"))
			return false
		}
		writeError(w, xerrors.Wrap(xerrors.CodeValidation, err, "请求体解析失败"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Named("http").Warn("写入响应失败", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := xerrors.HTTPStatusOf(err)
	code := xerrors.CodeOf(err)
	message := err.Error()
	if e, ok := xerrors.From(err); ok && e.Message() != "" {
		message = e.Message()
	}
	if status >= http.StatusInternalServerError {
		logger.Named("http").Error("请求处理失败", slog.Any("error", err), slog.String("code", string(code)))
	}
	writeJSON(w, status, errorEnvelope{Success: false, Code: code, Message: message})
}
