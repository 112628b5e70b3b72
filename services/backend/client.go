package backendsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"

	"github.com/trezcool/checkin/core"
	"github.com/trezcool/checkin/core/attendance"
	"github.com/trezcool/checkin/core/auth"
	"github.com/trezcool/checkin/core/student"
)

const DefaultTimeout = 15 * time.Second

// naive timestamps are UTC
const naiveLayout = "2006-01-02T15:04:05.999999999"

// APIError is a non-2xx answer of the backend.
type APIError struct {
	Status  int
	Message string
}

// Error is the backend message, shown as is to the user.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.Status)
	}
	return e.Message
}

func (e *APIError) StatusCode() int { return e.Status }

// IsStatus reports whether err is an *APIError with the given status.
func IsStatus(err error, status int) bool {
	apiErr, ok := errors.Cause(err).(*APIError)
	return ok && apiErr.Status == status
}

// TokenFunc returns the bearer token of authenticated calls.
type TokenFunc func(ctx context.Context) (string, error)

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Token      TokenFunc
}

// Client talks to the attendance REST backend.
type Client struct {
	baseURL string
	timeout time.Duration
	rest    *rest.Client
	token   TokenFunc
}

var (
	_ auth.Backend       = (*Client)(nil)
	_ attendance.Client  = (*Client)(nil)
	_ student.Repository = (*Client)(nil)
)

func NewClient(opts Options) (*Client, error) {
	u, err := url.Parse(opts.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("invalid backend URL %q", opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		timeout: opts.Timeout,
		rest:    &rest.Client{HTTPClient: httpClient},
		token:   opts.Token,
	}, nil
}

// SetTokenFunc sets where authenticated calls get their token from.
func (c *Client) SetTokenFunc(f TokenFunc) {
	c.token = f
}

type call struct {
	method   rest.Method
	path     string
	query    map[string]string
	body     interface{}
	auth     bool
	fallback string // message when the error body has none
}

func (c *Client) do(ctx context.Context, cl call, out interface{}) error {
	req := rest.Request{
		Method:      cl.method,
		BaseURL:     c.baseURL + cl.path,
		Headers:     map[string]string{"Accept": "application/json"},
		QueryParams: cl.query,
	}
	if cl.body != nil {
		data, err := json.Marshal(cl.body)
		if err != nil {
			return errors.Wrap(err, "encoding request body")
		}
		req.Body = data
		req.Headers["Content-Type"] = "application/json"
	}
	if cl.auth && c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return err
		}
		req.Headers["Authorization"] = "Bearer " + token
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	hreq, err := rest.BuildRequestObject(req)
	if err != nil {
		return errors.Wrapf(err, "building %s %s", cl.method, cl.path)
	}
	hres, err := c.rest.MakeRequest(hreq.WithContext(ctx))
	if err != nil {
		return errors.Wrapf(err, "%s %s", cl.method, cl.path)
	}
	res, err := rest.BuildResponse(hres)
	if err != nil {
		return errors.Wrapf(err, "reading %s %s", cl.method, cl.path)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return decodeError(res, cl.fallback)
	}
	if out == nil || strings.TrimSpace(res.Body) == "" {
		return nil
	}
	return errors.Wrapf(json.Unmarshal([]byte(res.Body), out), "decoding %s %s", cl.method, cl.path)
}

func decodeError(res *rest.Response, fallback string) error {
	var body struct {
		Detail  interface{} `json:"detail"`
		Message string      `json:"message"`
	}
	apiErr := &APIError{Status: res.StatusCode, Message: fallback}
	if err := json.Unmarshal([]byte(res.Body), &body); err != nil {
		return apiErr
	}
	switch detail := body.Detail.(type) {
	case string:
		if detail != "" {
			apiErr.Message = detail
			return apiErr
		}
	case nil:
	default:
		// field errors of the backend's own validation
		if data, err := json.Marshal(detail); err == nil {
			apiErr.Message = string(data)
			return apiErr
		}
	}
	if body.Message != "" {
		apiErr.Message = body.Message
	}
	return apiErr
}

// ParseTime reads the backend timestamps: RFC 3339, or naive ISO 8601 in UTC.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation(naiveLayout, s, time.UTC)
	return t, errors.Wrapf(err, "parsing timestamp %q", s)
}

type wireUser struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Email       string  `json:"email"`
	Role        string  `json:"role"`
	StudentRoll *string `json:"studentRoll"`
	AvatarPath  *string `json:"avatarPath"`
}

func (u wireUser) user() auth.User {
	return auth.User{
		ID:          u.ID,
		Name:        u.Name,
		Email:       u.Email,
		Role:        u.Role,
		StudentRoll: deref(u.StudentRoll),
		AvatarPath:  deref(u.AvatarPath),
	}
}

type wireSession struct {
	Token string   `json:"token"`
	User  wireUser `json:"user"`
}

func (c *Client) Login(ctx context.Context, creds auth.Credentials) (auth.Session, error) {
	var ws wireSession
	err := c.do(ctx, call{method: rest.Post, path: "/auth/login", body: creds, fallback: "Login failed"}, &ws)
	if err != nil {
		return auth.Session{}, err
	}
	return auth.Session{Token: ws.Token, User: ws.User.user()}, nil
}

func (c *Client) Register(ctx context.Context, reg auth.Registration) (auth.Session, error) {
	var ws wireSession
	err := c.do(ctx, call{method: rest.Post, path: "/auth/register", body: reg, fallback: "Registration failed"}, &ws)
	if err != nil {
		return auth.Session{}, err
	}
	return auth.Session{Token: ws.Token, User: ws.User.user()}, nil
}

type wireAttendance struct {
	ID        string `json:"id"`
	StudentID string `json:"studentId"`
	Roll      string `json:"roll"`
	Name      string `json:"name"`
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
}

func (w wireAttendance) record() (attendance.Record, error) {
	ts, err := ParseTime(w.Timestamp)
	if err != nil {
		return attendance.Record{}, err
	}
	status := strings.ToLower(w.Status)
	if status == "" {
		status = attendance.StatusPresent
	}
	return attendance.Record{
		ID:        w.ID,
		StudentID: w.StudentID,
		Roll:      w.Roll,
		Name:      w.Name,
		Timestamp: ts,
		Status:    status,
	}, nil
}

// MarkAttendance posts {roll, name}. A 409 is returned as an *APIError.
func (c *Client) MarkAttendance(ctx context.Context, id attendance.Identity) (attendance.Confirmation, error) {
	var res struct {
		Message    string         `json:"message"`
		Attendance wireAttendance `json:"attendance"`
	}
	err := c.do(ctx, call{
		method:   rest.Post,
		path:     "/attendance",
		body:     id,
		fallback: attendance.MsgMarkFailed,
	}, &res)
	if err != nil {
		return attendance.Confirmation{}, err
	}
	rec, err := res.Attendance.record()
	if err != nil {
		return attendance.Confirmation{}, errors.Wrap(err, "decoding attendance")
	}
	return attendance.Confirmation{
		StudentID: rec.StudentID,
		Roll:      rec.Roll,
		Name:      rec.Name,
		Timestamp: rec.Timestamp,
		Status:    rec.Status,
		Message:   res.Message,
	}, nil
}

func (c *Client) Records(ctx context.Context, f attendance.Filter) ([]attendance.Record, error) {
	var wire []wireAttendance
	err := c.do(ctx, call{
		method:   rest.Get,
		path:     "/attendance",
		query:    f.Query(),
		fallback: "Failed to fetch attendance records",
	}, &wire)
	if err != nil {
		return nil, err
	}
	records := make([]attendance.Record, 0, len(wire))
	for _, w := range wire {
		rec, err := w.record()
		if err != nil {
			return nil, errors.Wrap(err, "decoding attendance records")
		}
		records = append(records, rec)
	}
	return records, nil
}

type wireStudent struct {
	ID         string  `json:"id"`
	Roll       string  `json:"roll"`
	Name       string  `json:"name"`
	Email      string  `json:"email"`
	AvatarPath *string `json:"avatarPath"`
}

func (w wireStudent) student() student.Student {
	return student.Student{ID: w.ID, Name: w.Name, Roll: w.Roll, Email: w.Email, AvatarPath: deref(w.AvatarPath)}
}

func (c *Client) QueryStudents(ctx context.Context) ([]student.Student, error) {
	var wire []wireStudent
	if err := c.do(ctx, call{method: rest.Get, path: "/students", fallback: "Failed to fetch students"}, &wire); err != nil {
		return nil, err
	}
	students := make([]student.Student, 0, len(wire))
	for _, w := range wire {
		students = append(students, w.student())
	}
	return students, nil
}

// CreateStudent registers a student account.
func (c *Client) CreateStudent(ctx context.Context, ns student.NewStudent) (student.Student, error) {
	reg := auth.Registration{
		Name:        ns.Name,
		Email:       ns.Email,
		Password:    ns.Password,
		Role:        auth.RoleStudent,
		StudentRoll: ns.Roll,
	}
	var ws wireSession
	err := c.do(ctx, call{method: rest.Post, path: "/auth/register", body: reg, fallback: "Failed to create student"}, &ws)
	if err != nil {
		return student.Student{}, err
	}
	return student.Student{
		ID:         ws.User.ID,
		Name:       ws.User.Name,
		Roll:       deref(ws.User.StudentRoll),
		Email:      ws.User.Email,
		AvatarPath: deref(ws.User.AvatarPath),
	}, nil
}

func (c *Client) UpdateStudent(ctx context.Context, id string, us student.UpdateStudent) (student.Student, error) {
	if id == "" {
		return student.Student{}, core.ErrNotFound
	}
	var w wireStudent
	err := c.do(ctx, call{
		method:   rest.Put,
		path:     "/students/" + url.PathEscape(id),
		body:     us,
		auth:     true,
		fallback: "Failed to update student",
	}, &w)
	if err != nil {
		return student.Student{}, err
	}
	return w.student(), nil
}

func (c *Client) DeleteStudent(ctx context.Context, id string) error {
	if id == "" {
		return core.ErrNotFound
	}
	return c.do(ctx, call{
		method:   rest.Delete,
		path:     "/students/" + url.PathEscape(id),
		auth:     true,
		fallback: "Failed to delete student",
	}, nil)
}

// Ping checks the backend is up.
func (c *Client) Ping(ctx context.Context) error {
	var res struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, call{method: rest.Get, path: "/", fallback: "Backend unavailable"}, &res); err != nil {
		return err
	}
	if res.Status != "running" {
		return errors.Errorf("backend status %q", res.Status)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
