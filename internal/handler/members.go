package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"leveltwo/internal/members"
)

func (h *Handler) listMembers(c *gin.Context) {
	ms, err := h.members.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": ms})
}

func (h *Handler) createMember(c *gin.Context) {
	var in members.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	m, err := h.members.Create(c.Request.Context(), actor(c), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (h *Handler) importMembers(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ms, err := h.members.Import(c.Request.Context(), actor(c), req.Text)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"members": ms, "count": len(ms)})
}

func (h *Handler) updateMember(c *gin.Context) {
	var in members.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	m, err := h.members.Update(c.Request.Context(), actor(c), c.Param("id"), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handler) deleteMember(c *gin.Context) {
	if err := h.members.Delete(c.Request.Context(), actor(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
