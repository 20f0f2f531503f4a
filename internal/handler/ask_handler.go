package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/certquery/internal/model"
	"github.com/xxxsen/certquery/internal/pkg/errcode"
	"github.com/xxxsen/certquery/internal/pkg/response"
	"github.com/xxxsen/certquery/internal/service"
)

type questionAsker interface {
	AskQuestion(ctx context.Context, question string, opts service.AskOptions) (*model.RAGResponse, error)
}

type AskHandler struct {
	rag questionAsker
}

func NewAskHandler(rag questionAsker) *AskHandler {
	return &AskHandler{rag: rag}
}

type askRequest struct {
	Question     string `json:"question"`
	SessionID    string `json:"sessionId"`
	IsClarifying bool   `json:"isClarifying"`
}

func (h *AskHandler) Ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalid, "invalid request")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalid, "question is required")
		return
	}
	resp, err := h.rag.AskQuestion(c.Request.Context(), req.Question, service.AskOptions{
		SessionID:    req.SessionID,
		IsClarifying: req.IsClarifying,
	})
	if err != nil {
		handleErrorWithBody(c, err, resp)
		return
	}
	response.Success(c, resp)
}
