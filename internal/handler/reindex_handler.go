package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/certquery/internal/model"
	"github.com/xxxsen/certquery/internal/pkg/response"
	"github.com/xxxsen/certquery/internal/service"
)

type reindexer interface {
	Reindex(ctx context.Context, opts service.ReindexOptions) (*model.ReindexReport, error)
}

type ReindexHandler struct {
	svc reindexer
}

func NewReindexHandler(svc *service.ReindexService) *ReindexHandler {
	return &ReindexHandler{svc: svc}
}

type reindexRequest struct {
	ClearIndex bool     `json:"clearIndex"`
	DocTypes   []string `json:"docTypes"`
	Limit      int      `json:"limit"`
}

func (h *ReindexHandler) Reindex(c *gin.Context) {
	var req reindexRequest
	// body is optional, default is a full additive reindex
	_ = c.ShouldBindJSON(&req)
	report, err := h.svc.Reindex(c.Request.Context(), service.ReindexOptions{
		ClearIndex: req.ClearIndex,
		DocTypes:   req.DocTypes,
		Limit:      req.Limit,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, report)
}
