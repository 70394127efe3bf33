package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"leveltwo/internal/users"
)

func (h *Handler) directory(c *gin.Context) {
	dir, err := h.users.Directory(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": dir})
}

func (h *Handler) listUsers(c *gin.Context) {
	us, err := h.users.List(c.Request.Context(), c.Query("q"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": us})
}

func (h *Handler) createUser(c *gin.Context) {
	var in users.NewUser
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	u, err := h.users.Create(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (h *Handler) deleteUser(c *gin.Context) {
	if err := h.users.Delete(c.Request.Context(), actor(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listAssignments(c *gin.Context) {
	as, err := h.assignments.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignments": as})
}

func (h *Handler) distribute(c *gin.Context) {
	as, err := h.assignments.Distribute(c.Request.Context(), actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignments": as})
}
