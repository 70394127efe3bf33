package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"leveltwo/internal/attendance"
	"leveltwo/internal/auth"
	"leveltwo/internal/export"
	"leveltwo/internal/members"
	"leveltwo/internal/model"
	"leveltwo/internal/report"
	"leveltwo/internal/users"
	"leveltwo/internal/validation"
	"leveltwo/internal/visitation"
	"leveltwo/pkg/logger"
)

// RequestIDHeader tags a write so its change events can be recognised by the
// client that made it.
const RequestIDHeader = "X-Request-ID"

type Members interface {
	List(ctx context.Context) ([]model.Member, error)
	Create(ctx context.Context, actor string, in members.Input) (model.Member, error)
	Import(ctx context.Context, actor, text string) ([]model.Member, error)
	Update(ctx context.Context, actor, id string, in members.Input) (model.Member, error)
	Delete(ctx context.Context, actor, id string) error
}

type Records interface {
	List(ctx context.Context, kind model.Kind, date string) ([]model.Record, error)
	Upsert(ctx context.Context, kind model.Kind, actor, requestID string, recs []model.Record) ([]model.Record, error)
	Delete(ctx context.Context, kind model.Kind, actor, requestID, memberID, date string) error
}

type Users interface {
	SignIn(ctx context.Context, email, password string) (users.Session, error)
	SignUp(ctx context.Context, in users.NewUser) (users.Session, error)
	Refresh(ctx context.Context, refreshToken string) (users.Session, error)
	SignOut(ctx context.Context, refreshToken string) error
	Get(ctx context.Context, id string) (model.User, error)
	List(ctx context.Context, query string) ([]model.User, error)
	Directory(ctx context.Context) ([]users.DirectoryEntry, error)
	Create(ctx context.Context, in users.NewUser) (model.User, error)
	Delete(ctx context.Context, actorID, id string) error
}

type Assignments interface {
	List(ctx context.Context) ([]model.Assignment, error)
	Distribute(ctx context.Context, actor string) ([]model.Assignment, error)
}

type Reports interface {
	Build(ctx context.Context, q report.Query) (report.Report, error)
	Export(ctx context.Context, q report.Query, f export.Format, w io.Writer) error
}

// Handler serves the JSON API.
type Handler struct {
	members     Members
	records     Records
	users       Users
	assignments Assignments
	reports     Reports
	log         logger.Logger
}

// Deps are the services behind the API.
type Deps struct {
	Members     Members
	Records     Records
	Users       Users
	Assignments Assignments
	Reports     Reports
	Log         logger.Logger
}

// New builds a handler.
func New(d Deps) *Handler {
	return &Handler{
		members:     d.Members,
		records:     d.Records,
		users:       d.Users,
		assignments: d.Assignments,
		reports:     d.Reports,
		log:         d.Log,
	}
}

func actor(c *gin.Context) string {
	claims, _ := auth.ClaimsFrom(c)
	return claims.Subject
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// fail maps a service error onto a status code and JSON body.
func (h *Handler) fail(c *gin.Context, err error) {
	var (
		verr   *validation.Error
		impErr *members.ImportError
	)
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input", "fields": verr.Fields})
		return
	case errors.As(err, &impErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": impErr.Error(), "lines": impErr.Lines})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, members.ErrEmptyImport),
		errors.Is(err, attendance.ErrInvalidRecord),
		errors.Is(err, report.ErrInvalidRange),
		errors.Is(err, users.ErrSelfDelete):
		status = http.StatusBadRequest
	case errors.Is(err, users.ErrInvalidCredentials),
		errors.Is(err, users.ErrInvalidToken):
		status = http.StatusUnauthorized
	case errors.Is(err, users.ErrSignupDisabled):
		status = http.StatusForbidden
	case errors.Is(err, members.ErrNotFound),
		errors.Is(err, users.ErrNotFound),
		errors.Is(err, attendance.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, users.ErrEmailTaken),
		errors.Is(err, visitation.ErrNoServants):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.log.InternalError("request failed", err, "path", c.FullPath())
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	h.log.BusinessError("request rejected", err, "path", c.FullPath())
	c.JSON(status, gin.H{"error": err.Error()})
}
