package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"leveltwo/internal/model"
)

const requestIDHeader = "X-Request-ID"

// RefreshAhead is how long before the access token expires the client
// rotates it.
const RefreshAhead = 30 * time.Second

// ErrUnauthenticated is returned when no session exists or the server rejects
// the token.
var ErrUnauthenticated = errors.New("not signed in")

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Session is resolved once at sign-in and carries the caller's capability.
type Session struct {
	User         model.User
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
}

func (s Session) stale(now time.Time) bool {
	return !s.AccessExp.IsZero() && now.Add(RefreshAhead).After(s.AccessExp)
}

// Admin reports whether the session may manage users and assignments.
func (s Session) Admin() bool { return s.User.Role == model.RoleAdmin }

// DirectoryEntry names a user.
type DirectoryEntry struct {
	ID   string     `json:"id"`
	Name string     `json:"name"`
	Role model.Role `json:"role"`
}

// Client talks to the Level Two API.
type Client struct {
	base   string
	http   *http.Client
	dialer *websocket.Dialer

	mu      sync.RWMutex
	session *Session

	// serializes rotation; a refresh token is single use
	refreshMu sync.Mutex
	now       func() time.Time
}

// New creates a client for the server at base, e.g. http://localhost:8081.
func New(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		base:   strings.TrimRight(base, "/"),
		http:   hc,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		now:    time.Now,
	}
}

// Session returns the current session.
func (c *Client) Session() (Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// UserID is the signed-in user's id, empty when signed out.
func (c *Client) UserID() string {
	s, ok := c.Session()
	if !ok {
		return ""
	}
	return s.User.ID
}

type sessionBody struct {
	User         model.User `json:"user"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	AccessExp    time.Time  `json:"access_expires_at"`
}

func (c *Client) open(body sessionBody) Session {
	s := Session{User: body.User, AccessToken: body.AccessToken, RefreshToken: body.RefreshToken, AccessExp: body.AccessExp}
	c.mu.Lock()
	c.session = &s
	c.mu.Unlock()
	return s
}

// SignIn exchanges credentials for a session.
func (c *Client) SignIn(ctx context.Context, email, password string) (Session, error) {
	var out sessionBody
	in := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/v1/auth/signin", nil, in, &out, false); err != nil {
		return Session{}, errors.Wrap(err, "sign in")
	}
	return c.open(out), nil
}

// Refresh rotates the session tokens.
func (c *Client) Refresh(ctx context.Context) (Session, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	s, ok := c.Session()
	if !ok {
		return Session{}, ErrUnauthenticated
	}
	return c.rotate(ctx, s)
}

func (c *Client) rotate(ctx context.Context, s Session) (Session, error) {
	var out sessionBody
	in := map[string]string{"refresh_token": s.RefreshToken}
	if err := c.do(ctx, http.MethodPost, "/v1/auth/refresh", nil, in, &out, false); err != nil {
		return Session{}, errors.Wrap(err, "refresh session")
	}
	return c.open(out), nil
}

// accessToken returns a usable access token, rotating the session first when
// the current one is about to expire.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	s, ok := c.Session()
	if !ok {
		return "", ErrUnauthenticated
	}
	if !s.stale(c.now()) {
		return s.AccessToken, nil
	}
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	if s, ok = c.Session(); !ok {
		return "", ErrUnauthenticated
	}
	if !s.stale(c.now()) {
		return s.AccessToken, nil
	}
	s, err := c.rotate(ctx, s)
	if err != nil {
		return "", err
	}
	return s.AccessToken, nil
}

// SignOut revokes the refresh token and forgets the session.
func (c *Client) SignOut(ctx context.Context) error {
	if _, ok := c.Session(); !ok {
		return nil
	}
	// rotate first if due, so the token revoked is the live one
	_, err := c.accessToken(ctx)
	s, ok := c.Session()
	if err == nil && ok {
		err = c.do(ctx, http.MethodPost, "/v1/auth/signout", nil, map[string]string{"refresh_token": s.RefreshToken}, nil, true)
	}
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
	return errors.Wrap(err, "sign out")
}

// Members lists the roster.
func (c *Client) Members(ctx context.Context) ([]model.Member, error) {
	var out struct {
		Members []model.Member `json:"members"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/members", nil, nil, &out, true); err != nil {
		return nil, errors.Wrap(err, "list members")
	}
	return out.Members, nil
}

// CreateMember adds one member.
func (c *Client) CreateMember(ctx context.Context, m model.Member) (model.Member, error) {
	var out model.Member
	in := map[string]any{"name": m.Name, "phones": m.Phones, "notes": m.Notes}
	if err := c.do(ctx, http.MethodPost, "/v1/members", nil, in, &out, true); err != nil {
		return model.Member{}, errors.Wrap(err, "create member")
	}
	return out, nil
}

// ImportMembers sends "name, phone, notes" lines.
func (c *Client) ImportMembers(ctx context.Context, text string) ([]model.Member, error) {
	var out struct {
		Members []model.Member `json:"members"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/members/import", nil, map[string]string{"text": text}, &out, true); err != nil {
		return nil, errors.Wrap(err, "import members")
	}
	return out.Members, nil
}

// DeleteMember removes a member and its records.
func (c *Client) DeleteMember(ctx context.Context, id string) error {
	err := c.do(ctx, http.MethodDelete, "/v1/members/"+url.PathEscape(id), nil, nil, nil, true)
	return errors.Wrapf(err, "delete member %s", id)
}

// Records lists the records of one date.
func (c *Client) Records(ctx context.Context, kind model.Kind, date string) ([]model.Record, error) {
	var out struct {
		Records []model.Record `json:"records"`
	}
	path := "/v1/records/" + kind.Table() + "?date=" + url.QueryEscape(date)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out, true); err != nil {
		return nil, errors.Wrapf(err, "list %s for %s", kind, date)
	}
	return out.Records, nil
}

// UpsertRecords writes recs as one batch. requestID tags the resulting change
// events.
func (c *Client) UpsertRecords(ctx context.Context, kind model.Kind, requestID string, recs []model.Record) ([]model.Record, error) {
	var out struct {
		Records []model.Record `json:"records"`
	}
	hdr := http.Header{}
	if requestID != "" {
		hdr.Set(requestIDHeader, requestID)
	}
	in := map[string]any{"records": recs}
	if err := c.do(ctx, http.MethodPut, "/v1/records/"+kind.Table(), hdr, in, &out, true); err != nil {
		return nil, errors.Wrapf(err, "upsert %d %s rows", len(recs), kind)
	}
	return out.Records, nil
}

// DeleteRecord removes one record.
func (c *Client) DeleteRecord(ctx context.Context, kind model.Kind, requestID, memberID, date string) error {
	hdr := http.Header{}
	if requestID != "" {
		hdr.Set(requestIDHeader, requestID)
	}
	path := "/v1/records/" + kind.Table() + "/" + url.PathEscape(memberID) + "?date=" + url.QueryEscape(date)
	err := c.do(ctx, http.MethodDelete, path, hdr, nil, nil, true)
	return errors.Wrapf(err, "delete %s of %s", kind, memberID)
}

// Directory lists every user's id and name.
func (c *Client) Directory(ctx context.Context) ([]DirectoryEntry, error) {
	var out struct {
		Users []DirectoryEntry `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/users/directory", nil, nil, &out, true); err != nil {
		return nil, errors.Wrap(err, "user directory")
	}
	return out.Users, nil
}

// Assignments lists servant assignments.
func (c *Client) Assignments(ctx context.Context) ([]model.Assignment, error) {
	var out struct {
		Assignments []model.Assignment `json:"assignments"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/assignments", nil, nil, &out, true); err != nil {
		return nil, errors.Wrap(err, "list assignments")
	}
	return out.Assignments, nil
}

// Distribute spreads the roster over the servants. Admin only.
func (c *Client) Distribute(ctx context.Context) ([]model.Assignment, error) {
	var out struct {
		Assignments []model.Assignment `json:"assignments"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/assignments/distribute", nil, nil, &out, true); err != nil {
		return nil, errors.Wrap(err, "distribute members")
	}
	return out.Assignments, nil
}

// ExportQuery selects what Export downloads.
type ExportQuery struct {
	Kind     model.Kind
	From     string
	To       string
	MemberID string
	Format   string
}

// Export streams a report export into w.
func (c *Client) Export(ctx context.Context, q ExportQuery, w io.Writer) error {
	v := url.Values{}
	for k, val := range map[string]string{
		"kind": string(q.Kind), "from": q.From, "to": q.To, "member_id": q.MemberID, "format": q.Format,
	} {
		if val != "" {
			v.Set(k, val)
		}
	}
	req, err := c.request(ctx, http.MethodGet, "/v1/reports/attendance/export?"+v.Encode(), nil, nil, true)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "export")
	}
	defer resp.Body.Close()
	if err := check(resp); err != nil {
		return errors.Wrap(err, "export")
	}
	_, err = io.Copy(w, resp.Body)
	return errors.Wrap(err, "export")
}

func (c *Client) request(ctx context.Context, method, path string, hdr http.Header, in any, authed bool) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		token, err := c.accessToken(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, hdr http.Header, in, out any, authed bool) error {
	req, err := c.request(ctx, method, path, hdr, in, authed)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()
	if err := check(resp); err != nil {
		return err
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode response")
}

func check(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body)
	if resp.StatusCode == http.StatusUnauthorized {
		return errors.Wrap(ErrUnauthenticated, body.Error)
	}
	return &APIError{Status: resp.StatusCode, Message: body.Error}
}
