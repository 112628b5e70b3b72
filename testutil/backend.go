package testutil

import (
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
)

const (
	BackendSecret   = "backend-secret"
	BackendPassword = "password123"
)

type (
	BackendUser struct {
		ID          string  `json:"id"`
		Name        string  `json:"name"`
		Email       string  `json:"email"`
		Role        string  `json:"role"`
		StudentRoll *string `json:"studentRoll"`
		AvatarPath  *string `json:"avatarPath"`
		password    string
	}

	BackendRecord struct {
		ID        string
		StudentID string
		Roll      string
		Name      string
		Timestamp time.Time
		Status    string
	}

	// Backend is an in-memory attendance REST backend.
	Backend struct {
		*httptest.Server

		mu       sync.Mutex
		users    []*BackendUser
		records  []BackendRecord
		seq      int
		requests []string
		now      func() time.Time

		failStatus int
		failDetail string
		repeatOK   bool
	}
)

// MockStudents are the students seeded in every Backend.
var MockStudents = []struct{ Name, Roll string }{
	{"Vishal Maurya", "2301640130144"},
	{"Virat Trivedi", "2301640130143"},
	{"Vishesh Singh", "2301640130145"},
	{"Parth Mishra", "2301640130085"},
	{"Ram Ji", "2301640130099"},
}

// NewBackend starts a Backend seeded with MockStudents and one teacher
// (teacher@school.edu). Every account uses BackendPassword.
func NewBackend() *Backend {
	b := &Backend{now: time.Now}
	b.addUser("Teacher", "teacher@school.edu", "teacher", "", BackendPassword)
	for _, s := range MockStudents {
		email := strings.ToLower(strings.ReplaceAll(s.Name, " ", ".")) + "@school.edu"
		b.addUser(s.Name, email, "student", s.Roll, BackendPassword)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(b.record, b.failing)
	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"message": "Smart Attendance API", "status": "running"})
	})
	e.POST("/auth/login", b.login)
	e.POST("/auth/register", b.register)
	e.GET("/students", b.students)
	e.PUT("/students/:id", b.updateStudent, b.authenticated)
	e.DELETE("/students/:id", b.deleteStudent, b.authenticated)
	e.POST("/attendance", b.markAttendance)
	e.GET("/attendance", b.attendance)

	b.Server = httptest.NewServer(e)
	return b
}

// SetNow fixes the backend clock.
func (b *Backend) SetNow(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// FailWith makes every following request answer status with detail; 0 clears it.
func (b *Backend) FailWith(status int, detail string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failStatus, b.failDetail = status, detail
}

// AcknowledgeRepeats makes a same-day repeat answer 200 instead of 409.
func (b *Backend) AcknowledgeRepeats(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.repeatOK = ok
}

// Requests returns "METHOD /path" of every request served so far.
func (b *Backend) Requests() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.requests...)
}

// Count returns how many requests matched "METHOD /path".
func (b *Backend) Count(req string) int {
	n := 0
	for _, r := range b.Requests() {
		if r == req {
			n++
		}
	}
	return n
}

func (b *Backend) Records() []BackendRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]BackendRecord(nil), b.records...)
}

// AddRecord stores a record as if roll was marked at ts.
func (b *Backend) AddRecord(roll string, ts time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	usr := b.userByRollLocked(roll)
	if usr == nil {
		panic("testutil: unknown roll " + roll)
	}
	b.records = append(b.records, BackendRecord{
		ID: b.nextIDLocked(), StudentID: usr.ID, Roll: roll, Name: usr.Name, Timestamp: ts.UTC(), Status: "Present",
	})
}

// Token signs a token the way the backend does.
func (b *Backend) Token(userID, email, role string, exp time.Time) string {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"email":   email,
		"role":    role,
		"exp":     float64(exp.Unix()),
	}).SignedString([]byte(BackendSecret))
	if err != nil {
		panic(err)
	}
	return token
}

func (b *Backend) nextIDLocked() string {
	b.seq++
	return strconv.Itoa(b.seq)
}

func (b *Backend) addUser(name, email, role, roll, password string) *BackendUser {
	b.mu.Lock()
	defer b.mu.Unlock()
	usr := &BackendUser{ID: b.nextIDLocked(), Name: name, Email: email, Role: role, password: password}
	if roll != "" {
		usr.StudentRoll = &roll
	}
	b.users = append(b.users, usr)
	return usr
}

func (b *Backend) userByRollLocked(roll string) *BackendUser {
	for _, u := range b.users {
		if u.Role == "student" && u.StudentRoll != nil && *u.StudentRoll == roll {
			return u
		}
	}
	return nil
}

func (b *Backend) userByEmailLocked(email string) *BackendUser {
	for _, u := range b.users {
		if u.Email == email {
			return u
		}
	}
	return nil
}

func detail(c echo.Context, status int, msg string) error {
	return c.JSON(status, echo.Map{"detail": msg})
}

func (b *Backend) record(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		b.mu.Lock()
		b.requests = append(b.requests, c.Request().Method+" "+c.Request().URL.Path)
		b.mu.Unlock()
		return next(c)
	}
}

func (b *Backend) failing(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		b.mu.Lock()
		status, msg := b.failStatus, b.failDetail
		b.mu.Unlock()
		if status != 0 {
			return detail(c, status, msg)
		}
		return next(c)
	}
}

func (b *Backend) authenticated(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			return detail(c, http.StatusUnauthorized, "Not authenticated")
		}
		_, err := jwt.Parse(token, func(*jwt.Token) (interface{}, error) { return []byte(BackendSecret), nil })
		if err != nil {
			return detail(c, http.StatusUnauthorized, "Invalid token")
		}
		return next(c)
	}
}

func (b *Backend) session(c echo.Context, usr *BackendUser) error {
	return c.JSON(http.StatusOK, echo.Map{
		"token": b.Token(usr.ID, usr.Email, usr.Role, b.now().Add(24*time.Hour)),
		"user":  usr,
	})
}

func (b *Backend) login(c echo.Context) error {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return detail(c, http.StatusUnprocessableEntity, "invalid body")
	}
	b.mu.Lock()
	usr := b.userByEmailLocked(req.Email)
	b.mu.Unlock()
	if usr == nil || usr.password != req.Password {
		return detail(c, http.StatusUnauthorized, "Invalid credentials")
	}
	return b.session(c, usr)
}

func (b *Backend) register(c echo.Context) error {
	var req struct {
		Name        string `json:"name"`
		Email       string `json:"email"`
		Password    string `json:"password"`
		Role        string `json:"role"`
		StudentRoll string `json:"studentRoll"`
	}
	if err := c.Bind(&req); err != nil {
		return detail(c, http.StatusUnprocessableEntity, "invalid body")
	}
	b.mu.Lock()
	exists := b.userByEmailLocked(req.Email) != nil
	b.mu.Unlock()
	if exists {
		return detail(c, http.StatusBadRequest, "Email already registered")
	}
	return b.session(c, b.addUser(req.Name, req.Email, req.Role, req.StudentRoll, req.Password))
}

func studentJSON(u *BackendUser) echo.Map {
	roll := ""
	if u.StudentRoll != nil {
		roll = *u.StudentRoll
	}
	return echo.Map{"id": u.ID, "roll": roll, "name": u.Name, "email": u.Email, "avatarPath": u.AvatarPath}
}

func (b *Backend) students(c echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]echo.Map, 0, len(b.users))
	for _, u := range b.users {
		if u.Role == "student" {
			out = append(out, studentJSON(u))
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (b *Backend) updateStudent(c echo.Context) error {
	var req struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Roll  string `json:"roll"`
	}
	if err := c.Bind(&req); err != nil {
		return detail(c, http.StatusUnprocessableEntity, "invalid body")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, u := range b.users {
		if u.ID == c.Param("id") && u.Role == "student" {
			u.Name, u.Email = req.Name, req.Email
			roll := req.Roll
			u.StudentRoll = &roll
			return c.JSON(http.StatusOK, studentJSON(u))
		}
	}
	return detail(c, http.StatusNotFound, "Student not found")
}

func (b *Backend) deleteStudent(c echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, u := range b.users {
		if u.ID == c.Param("id") && u.Role == "student" {
			b.users = append(b.users[:i], b.users[i+1:]...)
			return c.JSON(http.StatusOK, echo.Map{"message": "Student deleted"})
		}
	}
	return detail(c, http.StatusNotFound, "Student not found")
}

func naive(ts time.Time) string {
	return ts.UTC().Format("2006-01-02T15:04:05.000000")
}

func recordJSON(r BackendRecord) echo.Map {
	return echo.Map{
		"id": r.ID, "studentId": r.StudentID, "roll": r.Roll, "name": r.Name,
		"timestamp": naive(r.Timestamp), "status": r.Status,
	}
}

func (b *Backend) markAttendance(c echo.Context) error {
	var req struct {
		Roll string `json:"roll"`
		Name string `json:"name"`
	}
	if err := c.Bind(&req); err != nil {
		return detail(c, http.StatusUnprocessableEntity, "invalid body")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	usr := b.userByRollLocked(req.Roll)
	if usr == nil {
		return detail(c, http.StatusNotFound, "Student not found")
	}
	now := b.now().UTC()
	y, m, d := now.Date()
	for _, r := range b.records {
		ry, rm, rd := r.Timestamp.Date()
		if r.StudentID == usr.ID && ry == y && rm == m && rd == d {
			status := http.StatusConflict
			if b.repeatOK {
				status = http.StatusOK
			}
			return c.JSON(status, echo.Map{"message": "Already marked today", "attendance": recordJSON(r)})
		}
	}
	rec := BackendRecord{
		ID: b.nextIDLocked(), StudentID: usr.ID, Roll: req.Roll, Name: req.Name, Timestamp: now, Status: "Present",
	}
	b.records = append(b.records, rec)
	att := recordJSON(rec)
	delete(att, "id")
	return c.JSON(http.StatusOK, echo.Map{"message": "Attendance marked", "attendance": att})
}

func (b *Backend) attendance(c echo.Context) error {
	var from, to time.Time
	var err error
	if s := c.QueryParam("from"); s != "" {
		if from, err = time.Parse("2006-01-02", s); err != nil {
			return detail(c, http.StatusBadRequest, "Invalid from date")
		}
	}
	if s := c.QueryParam("to"); s != "" {
		if to, err = time.Parse("2006-01-02", s); err != nil {
			return detail(c, http.StatusBadRequest, "Invalid to date")
		}
	}
	roll := c.QueryParam("roll")

	b.mu.Lock()
	var matched []BackendRecord
	for _, r := range b.records {
		if roll != "" && r.Roll != roll {
			continue
		}
		if !from.IsZero() && r.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && !r.Timestamp.Before(to) {
			continue
		}
		matched = append(matched, r)
	}
	b.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Timestamp.After(matched[j].Timestamp) })
	out := make([]echo.Map, 0, len(matched))
	for _, r := range matched {
		out = append(out, recordJSON(r))
	}
	return c.JSON(http.StatusOK, out)
}
