package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeMembers struct {
	list      []model.Member
	err       error
	lastActor string
}

func (f *fakeMembers) List(context.Context) ([]model.Member, error) { return f.list, f.err }
func (f *fakeMembers) Create(_ context.Context, actor string, in members.Input) (model.Member, error) {
	f.lastActor = actor
	if f.err != nil {
		return model.Member{}, f.err
	}
	return model.Member{ID: "m1", Name: in.Name, Phones: in.Phones}, nil
}
func (f *fakeMembers) Import(context.Context, string, string) ([]model.Member, error) {
	return f.list, f.err
}
func (f *fakeMembers) Update(_ context.Context, _ string, id string, in members.Input) (model.Member, error) {
	return model.Member{ID: id, Name: in.Name}, f.err
}
func (f *fakeMembers) Delete(context.Context, string, string) error { return f.err }

type fakeRecords struct {
	kind      model.Kind
	actor     string
	requestID string
	saved     []model.Record
	err       error
}

func (f *fakeRecords) List(_ context.Context, kind model.Kind, date string) ([]model.Record, error) {
	f.kind = kind
	return []model.Record{{MemberID: "m1", Date: date, Status: kind.Positive()}}, f.err
}
func (f *fakeRecords) Upsert(_ context.Context, kind model.Kind, actor, requestID string, recs []model.Record) ([]model.Record, error) {
	f.kind, f.actor, f.requestID, f.saved = kind, actor, requestID, recs
	return recs, f.err
}
func (f *fakeRecords) Delete(_ context.Context, kind model.Kind, actor, requestID, _, _ string) error {
	f.kind, f.actor, f.requestID = kind, actor, requestID
	return f.err
}

type fakeUsers struct {
	session users.Session
	err     error
}

func (f *fakeUsers) SignIn(context.Context, string, string) (users.Session, error) {
	return f.session, f.err
}
func (f *fakeUsers) SignUp(context.Context, users.NewUser) (users.Session, error) {
	return f.session, f.err
}
func (f *fakeUsers) Refresh(context.Context, string) (users.Session, error) { return f.session, f.err }
func (f *fakeUsers) SignOut(context.Context, string) error                  { return f.err }
func (f *fakeUsers) Get(_ context.Context, id string) (model.User, error) {
	return model.User{ID: id, Name: "Abanoub", Role: model.RoleAdmin}, f.err
}
func (f *fakeUsers) List(context.Context, string) ([]model.User, error) { return nil, f.err }
func (f *fakeUsers) Directory(context.Context) ([]users.DirectoryEntry, error) {
	return []users.DirectoryEntry{{ID: "u1", Name: "Marina", Role: model.RoleServant}}, f.err
}
func (f *fakeUsers) Create(_ context.Context, in users.NewUser) (model.User, error) {
	return model.User{ID: "u9", Name: in.Name, Email: in.Email, Role: in.Role}, f.err
}
func (f *fakeUsers) Delete(context.Context, string, string) error { return f.err }

type fakeAssignments struct {
	err error
}

func (f *fakeAssignments) List(context.Context) ([]model.Assignment, error) { return nil, f.err }
func (f *fakeAssignments) Distribute(context.Context, string) ([]model.Assignment, error) {
	return []model.Assignment{{MemberID: "m1", ServantID: "u1"}}, f.err
}

type fakeReports struct {
	query report.Query
	err   error
}

func (f *fakeReports) Build(_ context.Context, q report.Query) (report.Report, error) {
	f.query = q
	return report.Report{Kind: q.Kind, From: q.From, To: q.To}, f.err
}
func (f *fakeReports) Export(_ context.Context, q report.Query, _ export.Format, w io.Writer) error {
	f.query = q
	if f.err != nil {
		return f.err
	}
	_, err := io.WriteString(w, "data")
	return err
}

type fixture struct {
	router      *gin.Engine
	signer      *auth.Signer
	members     *fakeMembers
	records     *fakeRecords
	users       *fakeUsers
	assignments *fakeAssignments
	reports     *fakeReports
}

func newFixture() *fixture {
	f := &fixture{
		signer:      auth.NewSigner("leveltwo", "test-key", time.Minute, time.Hour),
		members:     &fakeMembers{},
		records:     &fakeRecords{},
		users:       &fakeUsers{},
		assignments: &fakeAssignments{},
		reports:     &fakeReports{},
	}
	h := New(Deps{
		Members:     f.members,
		Records:     f.records,
		Users:       f.users,
		Assignments: f.assignments,
		Reports:     f.reports,
		Log:         logger.Discard(),
	})
	f.router = gin.New()
	h.Register(f.router, Middleware{Auth: auth.UserAuth(f.signer)})
	return f
}

func (f *fixture) do(t *testing.T, method, path, role string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		pair, err := f.signer.Issue("u-"+role, role, role)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestSignIn(t *testing.T) {
	f := newFixture()
	f.users.session = users.Session{User: model.User{ID: "u1", Role: model.RoleServant}, TokenPair: auth.TokenPair{AccessToken: "a", RefreshToken: "r"}}

	w := f.do(t, http.MethodPost, "/v1/auth/signin", "", gin.H{"email": "marina@level2.com", "password": "password123"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "a", body["access_token"])
	assert.Equal(t, "servant", body["user"].(map[string]any)["role"])

	f.users.err = users.ErrInvalidCredentials
	w = f.do(t, http.MethodPost, "/v1/auth/signin", "", gin.H{"email": "marina@level2.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodPost, "/v1/auth/signin", "", gin.H{"email": "marina@level2.com"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSignUpDisabled(t *testing.T) {
	f := newFixture()
	f.users.err = users.ErrSignupDisabled
	w := f.do(t, http.MethodPost, "/v1/auth/signup", "", gin.H{"name": "Kero", "email": "kero@level2.com", "password": "password123"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	f := newFixture()
	w := f.do(t, http.MethodGet, "/v1/members", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMe(t *testing.T) {
	f := newFixture()
	w := f.do(t, http.MethodGet, "/v1/me", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u-admin", decode(t, w)["id"])
}

func TestCreateMember(t *testing.T) {
	f := newFixture()
	w := f.do(t, http.MethodPost, "/v1/members", "servant", gin.H{"name": "مينا", "phones": []string{"0100"}})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "مينا", decode(t, w)["name"])
	assert.Equal(t, "u-servant", f.members.lastActor)
}

func TestValidationErrorListsFields(t *testing.T) {
	f := newFixture()
	f.members.err = &validation.Error{Fields: map[string]string{"name": "name cannot be blank"}}
	w := f.do(t, http.MethodPost, "/v1/members", "servant", gin.H{"name": " "})
	require.Equal(t, http.StatusBadRequest, w.Code)
	fields := decode(t, w)["fields"].(map[string]any)
	assert.Equal(t, "name cannot be blank", fields["name"])
}

func TestImportErrorListsLines(t *testing.T) {
	f := newFixture()
	f.members.err = &members.ImportError{Lines: []int{2, 4}}
	w := f.do(t, http.MethodPost, "/v1/members/import", "servant", gin.H{"text": "a\n,1\n"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, []any{2.0, 4.0}, decode(t, w)["lines"])
}

func TestDeleteMissingMember(t *testing.T) {
	f := newFixture()
	f.members.err = fmt.Errorf("delete: %w", members.ErrNotFound)
	w := f.do(t, http.MethodDelete, "/v1/members/nope", "servant", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpsertRecordsPassesRequestID(t *testing.T) {
	f := newFixture()
	recs := []model.Record{{MemberID: "m1", Date: "2024-05-20", Status: model.StatusPresent}}
	w := f.do(t, http.MethodPut, "/v1/records/attendance", "servant", gin.H{"records": recs}, RequestIDHeader, "req-1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.KindAttendance, f.records.kind)
	assert.Equal(t, "u-servant", f.records.actor)
	assert.Equal(t, "req-1", f.records.requestID)
	require.Len(t, f.records.saved, 1)
	assert.Equal(t, "m1", f.records.saved[0].MemberID)
}

func TestRecordsUnknownKind(t *testing.T) {
	f := newFixture()
	w := f.do(t, http.MethodGet, "/v1/records/grades?date=2024-05-20", "servant", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListVisits(t *testing.T) {
	f := newFixture()
	w := f.do(t, http.MethodGet, "/v1/records/visits?date=2024-05-20", "servant", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.KindVisits, f.records.kind)
	recs := decode(t, w)["records"].([]any)
	assert.Equal(t, "visited", recs[0].(map[string]any)["status"])
}

func TestInvalidRecordIsBadRequest(t *testing.T) {
	f := newFixture()
	f.records.err = fmt.Errorf("%w: bad status", attendance.ErrInvalidRecord)
	w := f.do(t, http.MethodPut, "/v1/records/visits", "servant", gin.H{"records": []model.Record{{MemberID: "m1"}}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminRoutes(t *testing.T) {
	f := newFixture()
	w := f.do(t, http.MethodPost, "/v1/users", "servant", gin.H{"name": "Kero"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPost, "/v1/users", "admin", gin.H{"name": "Kero", "email": "kero@level2.com", "password": "password123", "role": "servant"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "kero@level2.com", decode(t, w)["email"])

	w = f.do(t, http.MethodGet, "/v1/users/directory", "servant", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUserConflicts(t *testing.T) {
	f := newFixture()
	f.users.err = users.ErrEmailTaken
	w := f.do(t, http.MethodPost, "/v1/users", "admin", gin.H{"name": "Kero"})
	assert.Equal(t, http.StatusConflict, w.Code)

	f.users.err = users.ErrSelfDelete
	w = f.do(t, http.MethodDelete, "/v1/users/u-admin", "admin", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDistribute(t *testing.T) {
	f := newFixture()
	w := f.do(t, http.MethodPost, "/v1/assignments/distribute", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["assignments"], 1)

	f.assignments.err = visitation.ErrNoServants
	w = f.do(t, http.MethodPost, "/v1/assignments/distribute", "admin", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestReport(t *testing.T) {
	f := newFixture()
	w := f.do(t, http.MethodGet, "/v1/reports/attendance?kind=visits&from=2024-01-01&to=2024-02-01&member_id=m1", "servant", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, report.Query{Kind: model.KindVisits, From: "2024-01-01", To: "2024-02-01", MemberID: "m1"}, f.reports.query)

	w = f.do(t, http.MethodGet, "/v1/reports/attendance?kind=grades", "servant", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.reports.err = report.ErrInvalidRange
	w = f.do(t, http.MethodGet, "/v1/reports/attendance?from=2024-03-01&to=2024-01-01", "servant", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExport(t *testing.T) {
	f := newFixture()
	w := f.do(t, http.MethodGet, "/v1/reports/attendance/export?format=csv", "servant", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "data", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	assert.Equal(t, `attachment; filename="attendance-report.csv"`, w.Header().Get("Content-Disposition"))

	w = f.do(t, http.MethodGet, "/v1/reports/attendance/export?format=print", "servant", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Content-Disposition"))

	w = f.do(t, http.MethodGet, "/v1/reports/attendance/export?format=doc", "servant", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInternalErrorsAreMasked(t *testing.T) {
	f := newFixture()
	f.members.err = errors.New("pq: connection refused")
	w := f.do(t, http.MethodGet, "/v1/members", "servant", nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal error", decode(t, w)["error"])
}
