package handler

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"leveltwo/internal/export"
	"leveltwo/internal/model"
	"leveltwo/internal/report"
)

func reportQuery(c *gin.Context) (report.Query, bool) {
	q := report.Query{
		From:     c.Query("from"),
		To:       c.Query("to"),
		MemberID: c.Query("member_id"),
	}
	if k := c.Query("kind"); k != "" {
		kind, ok := model.ParseKind(k)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown record book"})
			return q, false
		}
		q.Kind = kind
	}
	return q, true
}

func (h *Handler) attendanceReport(c *gin.Context) {
	q, ok := reportQuery(c)
	if !ok {
		return
	}
	r, err := h.reports.Build(c.Request.Context(), q)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) exportReport(c *gin.Context) {
	q, ok := reportQuery(c)
	if !ok {
		return
	}
	f, ok := export.ParseFormat(c.Query("format"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be csv, xlsx or html"})
		return
	}
	var buf bytes.Buffer
	if err := h.reports.Export(c.Request.Context(), q, f, &buf); err != nil {
		h.fail(c, err)
		return
	}
	if f != export.HTML {
		kind := q.Kind
		if kind == "" {
			kind = model.KindAttendance
		}
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-report.%s"`, kind, f.Ext()))
	}
	c.Data(http.StatusOK, f.ContentType(), buf.Bytes())
}
