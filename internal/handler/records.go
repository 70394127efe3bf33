package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"leveltwo/internal/model"
)

func kindParam(c *gin.Context) (model.Kind, bool) {
	kind, ok := model.ParseKind(c.Param("kind"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown record book"})
	}
	return kind, ok
}

func (h *Handler) listRecords(c *gin.Context) {
	kind, ok := kindParam(c)
	if !ok {
		return
	}
	recs, err := h.records.List(c.Request.Context(), kind, c.Query("date"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

func (h *Handler) upsertRecords(c *gin.Context) {
	kind, ok := kindParam(c)
	if !ok {
		return
	}
	var req struct {
		Records []model.Record `json:"records"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	saved, err := h.records.Upsert(c.Request.Context(), kind, actor(c), c.GetHeader(RequestIDHeader), req.Records)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": saved})
}

func (h *Handler) deleteRecord(c *gin.Context) {
	kind, ok := kindParam(c)
	if !ok {
		return
	}
	err := h.records.Delete(c.Request.Context(), kind, actor(c), c.GetHeader(RequestIDHeader), c.Param("member_id"), c.Query("date"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
