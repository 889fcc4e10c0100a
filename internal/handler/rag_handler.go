package handler

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docrag/internal/filestore"
	"github.com/xxxsen/docrag/internal/pkg/errcode"
	"github.com/xxxsen/docrag/internal/pkg/response"
	"github.com/xxxsen/docrag/internal/service"
)

type RAGHandler struct {
	pipeline  *service.Pipeline
	answers   *service.AnswerService
	store     filestore.Store
	maxUpload int64
}

func NewRAGHandler(pipeline *service.Pipeline, answers *service.AnswerService, store filestore.Store, maxUpload int64) *RAGHandler {
	return &RAGHandler{pipeline: pipeline, answers: answers, store: store, maxUpload: maxUpload}
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

type ragResponse struct {
	Query   string   `json:"query"`
	Context string   `json:"context"`
	Sources []string `json:"sources"`
	Answer  string   `json:"answer"`
}

func (h *RAGHandler) Live(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok"})
}

func (h *RAGHandler) Ready(c *gin.Context) {
	n, err := h.pipeline.Ready(c.Request.Context())
	if err != nil {
		logutil.GetLogger(c.Request.Context()).Warn("index not ready", zap.Error(err))
		response.Error(c, errcode.ErrIndexUnavailable, "vector index unavailable")
		return
	}
	response.Success(c, gin.H{"status": "ready", "entries": n})
}

func (h *RAGHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "file is required")
		return
	}
	if file.Size == 0 {
		response.Error(c, errcode.ErrInvalidFile, "file is empty")
		return
	}
	if h.maxUpload > 0 && file.Size > h.maxUpload {
		response.Error(c, errcode.ErrFileTooLarge, "file too large, max "+formatUploadLimit(h.maxUpload))
		return
	}
	key, err := filestore.CleanKey(file.Filename)
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "invalid file name")
		return
	}
	opened, err := file.Open()
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "failed to open file")
		return
	}
	defer opened.Close()
	data, err := io.ReadAll(opened)
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "failed to read file")
		return
	}
	if !utf8.Valid(data) {
		response.Error(c, errcode.ErrInvalidFile, "file must be utf-8 text")
		return
	}
	if strings.TrimSpace(string(data)) == "" {
		response.Error(c, errcode.ErrInvalidFile, "file is empty")
		return
	}
	ctx := c.Request.Context()
	if h.store != nil {
		if err := h.store.Save(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
			logutil.GetLogger(ctx).Error("save upload failed", zap.String("key", key), zap.Error(err))
			response.Error(c, errcode.ErrUploadFailed, "failed to store file")
			return
		}
	}
	result, err := h.pipeline.Ingest(ctx, string(data), key)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, result)
}

func (h *RAGHandler) Ask(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Prompt) == "" {
		response.Error(c, errcode.ErrInvalid, "prompt is required")
		return
	}
	answer, err := h.answers.Answer(c.Request.Context(), req.Prompt)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, ragResponse{
		Query:   answer.Question,
		Context: answer.Context,
		Sources: answer.Sources,
		Answer:  answer.Answer,
	})
}

func (h *RAGHandler) Records(c *gin.Context) {
	snap, err := h.pipeline.Records(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{
		"count":     snap.Count(),
		"ids":       snap.IDs,
		"documents": snap.Texts,
	})
}

func (h *RAGHandler) Search(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Prompt) == "" {
		response.Error(c, errcode.ErrInvalid, "prompt is required")
		return
	}
	matches, err := h.pipeline.Search(c.Request.Context(), req.Prompt, service.DefaultSearchK)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"query": req.Prompt, "matches": matches})
}

func metricsHandler(h http.Handler) gin.HandlerFunc {
	return gin.WrapH(h)
}
