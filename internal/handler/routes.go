package handler

import (
	"github.com/gin-gonic/gin"

	"leveltwo/internal/auth"
	"leveltwo/internal/model"
)

// Middleware are the cross-cutting handlers the routes need.
type Middleware struct {
	Auth      gin.HandlerFunc
	RateLimit gin.HandlerFunc
	Realtime  gin.HandlerFunc
}

// Register mounts the /v1 API on r.
func (h *Handler) Register(r gin.IRouter, mw Middleware) {
	limit := mw.RateLimit
	if limit == nil {
		limit = func(c *gin.Context) { c.Next() }
	}

	public := r.Group("/v1/auth", limit)
	public.POST("/signin", h.signIn)
	public.POST("/signup", h.signUp)
	public.POST("/refresh", h.refresh)

	v1 := r.Group("/v1", mw.Auth, limit)
	v1.POST("/auth/signout", h.signOut)
	v1.GET("/me", h.me)

	v1.GET("/members", h.listMembers)
	v1.POST("/members", h.createMember)
	v1.POST("/members/import", h.importMembers)
	v1.PUT("/members/:id", h.updateMember)
	v1.DELETE("/members/:id", h.deleteMember)

	v1.GET("/records/:kind", h.listRecords)
	v1.PUT("/records/:kind", h.upsertRecords)
	v1.DELETE("/records/:kind/:member_id", h.deleteRecord)

	v1.GET("/users/directory", h.directory)
	v1.GET("/assignments", h.listAssignments)

	v1.GET("/reports/attendance", h.attendanceReport)
	v1.GET("/reports/attendance/export", h.exportReport)

	if mw.Realtime != nil {
		v1.GET("/realtime", mw.Realtime)
	}

	admin := v1.Group("", auth.RequireRole(string(model.RoleAdmin)))
	admin.GET("/users", h.listUsers)
	admin.POST("/users", h.createUser)
	admin.DELETE("/users/:id", h.deleteUser)
	admin.POST("/assignments/distribute", h.distribute)
}
