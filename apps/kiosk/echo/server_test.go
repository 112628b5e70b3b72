package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/checkin/apps/kiosk/echo"
	"github.com/trezcool/checkin/core"
	"github.com/trezcool/checkin/core/attendance"
	"github.com/trezcool/checkin/core/auth"
	"github.com/trezcool/checkin/core/camera"
	"github.com/trezcool/checkin/core/checkin"
	"github.com/trezcool/checkin/core/detection"
	"github.com/trezcool/checkin/core/student"
	backendsvc "github.com/trezcool/checkin/services/backend"
	"github.com/trezcool/checkin/testutil"
)

type fixture struct {
	app      Server
	backend  *testutil.Backend
	sess     *checkin.Session
	device   *testutil.Device
	detector *testutil.Detector
	sched    *testutil.Scheduler
	timers   *testutil.Timers
	authSvc  *auth.Service
}

func setup(t *testing.T) *fixture {
	f := &fixture{
		backend:  testutil.NewBackend(),
		device:   testutil.NewDevice(),
		detector: testutil.NewDetector(),
		sched:    new(testutil.Scheduler),
		timers:   new(testutil.Timers),
	}
	t.Cleanup(f.backend.Close)
	f.device.Width, f.device.Height = 64, 48

	translator := core.NewTranslator()
	validate := validator.New()
	core.InitValidators(validate, translator)
	logger := new(testutil.Logger)

	client, err := backendsvc.NewClient(backendsvc.Options{BaseURL: f.backend.URL, Timeout: 2 * time.Second})
	require.NoError(t, err)
	f.authSvc = auth.NewService(client, auth.NewStore(testutil.PrepareKV(t)), validate, logger)
	client.SetTokenFunc(f.authSvc.Token)

	overlay := detection.NewRasterOverlay()
	f.sess = checkin.NewSession(checkin.Deps{
		Host:      camera.HostFunc(func() bool { return true }),
		Device:    f.device,
		Sink:      new(testutil.Sink),
		Detectors: detection.NewShared(func(context.Context) (detection.Detector, error) { return f.detector, nil }),
		Scheduler: f.sched,
		Client:    client,
		Validate:  validate,
		Logger:    logger,
	}, checkin.Options{
		Overlay: overlay,
		Submission: attendance.CoordinatorOptions{
			AfterFunc: func(d time.Duration, fn func()) attendance.Timer { return f.timers.AfterFunc(d, fn) },
		},
	})
	t.Cleanup(f.sess.Close)

	f.app = NewServer(&Options{
		TestMode:       true,
		DisableReqLogs: true,
		Logger:         logger,
		Session:        f.sess,
		Attendance:     f.sess.Coordinator(),
		AuthSvc:        f.authSvc,
		StudentSvc:     student.NewService(client, validate),
		Overlay:        overlay,
		Validate:       validate,
		Translator:     translator,
	})
	return f
}

func (f *fixture) login(t *testing.T, email string) auth.User {
	t.Helper()
	usr, err := f.authSvc.Login(context.Background(), auth.Credentials{Email: email, Password: testutil.BackendPassword})
	require.NoError(t, err)
	return usr
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	wantCode int
	wantData []byte
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	return req, rec
}

func (f *fixture) do(method, path string, data ...[]byte) *httptest.ResponseRecorder {
	req, rec := newRequest(method, path, data...)
	f.app.ServeHTTP(rec, req)
	return rec
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHome(t *testing.T) {
	f := setup(t)
	rec := f.do(http.MethodGet, "/")
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusOK,
		wantData: []byte(`{"message":"Smart Attendance kiosk","status":"running"}`),
	}, rec)
}

func Test_sessionApi_errors(t *testing.T) {
	f := setup(t)

	tests := []httpTest{
		{
			name: "missing identity", method: http.MethodPost, path: "/v1/session/start", body: []byte(`{}`),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"roll":"this field is required","name":"this field is required"}`),
		},
		{
			name: "blank name", method: http.MethodPost, path: "/v1/session/start", body: []byte(`{"roll":"2301640130144","name":"  "}`),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"name":"this field is required"}`),
		},
		{
			name: "capture while idle", method: http.MethodPost, path: "/v1/session/capture",
			wantCode: http.StatusConflict, wantData: marchallObj(t, httpErr{Error: checkin.ErrNotActive.Error()}),
		},
		{
			name: "submit without photo", method: http.MethodPost, path: "/v1/session/submit",
			wantCode: http.StatusConflict, wantData: marchallObj(t, httpErr{Error: checkin.ErrNoArtifact.Error()}),
		},
		{
			name: "no artifact", method: http.MethodGet, path: "/v1/session/artifact",
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, f.do(tt.method, tt.path, tt.body))
		})
	}
}

func Test_sessionApi_start_denied(t *testing.T) {
	f := setup(t)
	f.device.Err = camera.ErrPermissionDenied

	rec := f.do(http.MethodPost, "/v1/session/start", []byte(`{"roll":"2301640130144","name":"Vishal Maurya"}`))
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusConflict,
		wantData: []byte(`{"error":"Camera access denied","category":"denied"}`),
	}, rec)

	var snap checkin.Snapshot
	decode(t, f.do(http.MethodGet, "/v1/session"), &snap)
	assert.Equal(t, checkin.Idle, snap.State)
	assert.Equal(t, "denied", snap.ErrorCategory)
}

func Test_sessionApi_flow(t *testing.T) {
	f := setup(t)

	rec := f.do(http.MethodPost, "/v1/session/start", []byte(`{"roll":" 2301640130144 ","name":"Vishal Maurya"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var snap checkin.Snapshot
	decode(t, rec, &snap)
	assert.Equal(t, checkin.Active, snap.State)
	assert.Equal(t, "2301640130144", snap.Identity.Roll)
	assert.Equal(t, detection.DefaultStableFrames, snap.StableFrames)

	// the overlay follows the boxes
	f.detector.Default = true
	f.sched.TickN(10)
	rec = f.do(http.MethodGet, "/v1/session/overlay")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())

	f.sched.TickN(detection.DefaultStableFrames - 10)
	decode(t, f.do(http.MethodGet, "/v1/session"), &snap)
	assert.Equal(t, checkin.Closed, snap.State)
	require.True(t, snap.HasArtifact())

	rec = f.do(http.MethodGet, "/v1/session/artifact")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, snap.Artifact.ID, rec.Header().Get("X-Artifact-Id"))

	rec = f.do(http.MethodPost, "/v1/session/submit")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out attendance.Outcome
	decode(t, rec, &out)
	assert.Equal(t, attendance.Success, out.Kind)
	assert.Equal(t, "Vishal Maurya", out.Name)
	assert.Equal(t, 1, f.backend.Count("POST /attendance"))

	// still shown: a second submission hits the daily limit
	rec = f.do(http.MethodPost, "/v1/session/submit")
	require.Equal(t, http.StatusConflict, rec.Code)
	decode(t, rec, &out)
	assert.Equal(t, attendance.AlreadyMarked, out.Kind)
	assert.Equal(t, "Already marked today", out.Message)
	assert.Len(t, f.backend.Records(), 1)

	f.timers.Fire()
	checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound}, f.do(http.MethodGet, "/v1/session/artifact"))
	decode(t, f.do(http.MethodGet, "/v1/session"), &snap)
	assert.Equal(t, checkin.Idle, snap.State)
	assert.Equal(t, attendance.Identity{}, snap.Identity)
}

func Test_sessionApi_manualCapture(t *testing.T) {
	f := setup(t)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/v1/session/start", []byte(`{"roll":"2301640130099","name":"Ram Ji"}`)).Code)

	rec := f.do(http.MethodPost, "/v1/session/capture")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var art struct {
		ID          string `json:"id"`
		ContentType string `json:"contentType"`
		Width       int    `json:"width"`
	}
	decode(t, rec, &art)
	assert.NotEmpty(t, art.ID)
	assert.Equal(t, "image/jpeg", art.ContentType)
	assert.Equal(t, 64, art.Width)
	assert.Zero(t, f.device.LiveTracks())

	rec = f.do(http.MethodPost, "/v1/session/retake")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var snap checkin.Snapshot
	decode(t, rec, &snap)
	assert.Equal(t, checkin.Active, snap.State)
	assert.False(t, snap.HasArtifact())

	rec = f.do(http.MethodPost, "/v1/session/stop")
	decode(t, rec, &snap)
	assert.Equal(t, checkin.Closed, snap.State)
	assert.Zero(t, f.device.LiveTracks())
}

func Test_sessionApi_submit_backendDown(t *testing.T) {
	f := setup(t)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/v1/session/start", []byte(`{"roll":"2301640130099","name":"Ram Ji"}`)).Code)
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/v1/session/capture").Code)
	f.backend.FailWith(http.StatusInternalServerError, "")

	rec := f.do(http.MethodPost, "/v1/session/submit")
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusBadGateway,
		wantData: []byte(`{"kind":"failure","timestamp":"0001-01-01T00:00:00Z","message":"Failed to mark attendance"}`),
	}, rec)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/v1/session/artifact").Code, "kept for a retry")
}

func Test_sessionApi_events(t *testing.T) {
	f := setup(t)
	srv := httptest.NewServer(f.app)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/session/events", nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var snap checkin.Snapshot
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, checkin.Idle, snap.State)

	require.NoError(t, f.sess.Start(context.Background(), attendance.Identity{Roll: "2301640130085", Name: "Parth Mishra"}))
	for snap.State != checkin.Active {
		require.NoError(t, conn.ReadJSON(&snap))
	}
	assert.Equal(t, "Parth Mishra", snap.Identity.Name)

	f.sess.Close()
	for {
		if err = conn.ReadJSON(&snap); err != nil {
			break
		}
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "ReadJSON() error = %v", err)
}

func Test_sessionApi_events_origin(t *testing.T) {
	f := setup(t)
	srv := httptest.NewServer(f.app)
	defer srv.Close()

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, res, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/session/events", header)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}

func Test_authApi(t *testing.T) {
	f := setup(t)
	unauthed := marchallObj(t, httpErr{Error: auth.ErrNotAuthenticated.Error()})

	tests := []httpTest{
		{name: "me (anonymous)", method: http.MethodGet, path: "/v1/auth/me", wantCode: http.StatusUnauthorized, wantData: unauthed},
		{
			name: "login (invalid email)", method: http.MethodPost, path: "/v1/auth/login",
			body:     []byte(`{"email":"teacher","password":"x"}`),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"email":"email must be a valid email address"}`),
		},
		{
			name: "login (wrong password)", method: http.MethodPost, path: "/v1/auth/login",
			body:     []byte(`{"email":"teacher@school.edu","password":"nope"}`),
			wantCode: http.StatusUnauthorized, wantData: marchallObj(t, httpErr{Error: "Invalid credentials"}),
		},
		{
			name: "login", method: http.MethodPost, path: "/v1/auth/login",
			body:     []byte(`{"email":" Teacher@School.edu ","password":"password123"}`),
			wantCode: http.StatusOK, wantData: []byte(`{"id":"1","name":"Teacher","email":"teacher@school.edu","role":"teacher"}`),
		},
		{
			name: "me", method: http.MethodGet, path: "/v1/auth/me",
			wantCode: http.StatusOK, wantData: []byte(`{"id":"1","name":"Teacher","email":"teacher@school.edu","role":"teacher"}`),
		},
		{
			name: "register (taken)", method: http.MethodPost, path: "/v1/auth/register",
			body:     []byte(`{"name":"Ram","email":"ram.ji@school.edu","password":"secret1","role":"student","studentRoll":"2301640130099"}`),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "Email already registered"}),
		},
		{name: "logout", method: http.MethodPost, path: "/v1/auth/logout", wantCode: http.StatusNoContent},
		{name: "me (logged out)", method: http.MethodGet, path: "/v1/auth/me", wantCode: http.StatusUnauthorized, wantData: unauthed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, f.do(tt.method, tt.path, tt.body))
		})
	}
}

func Test_attendanceApi(t *testing.T) {
	f := setup(t)

	checkCodeAndData(t, httpTest{wantCode: http.StatusUnauthorized}, f.do(http.MethodGet, "/v1/attendance"))

	f.login(t, "teacher@school.edu")
	f.backend.AddRecord("2301640130099", time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC))
	f.backend.AddRecord("2301640130099", time.Date(2025, 11, 4, 9, 5, 0, 0, time.UTC))
	f.backend.AddRecord("2301640130144", time.Date(2025, 11, 4, 9, 10, 0, 0, time.UTC))

	var records []attendance.Record
	decode(t, f.do(http.MethodGet, "/v1/attendance?from=2025-11-04"), &records)
	require.Len(t, records, 2)
	assert.Equal(t, "2301640130144", records[0].Roll)
	assert.Equal(t, "present", records[0].Status)

	decode(t, f.do(http.MethodGet, "/v1/attendance?roll=2301640130099"), &records)
	assert.Len(t, records, 2)

	checkCodeAndData(t, httpTest{
		wantCode: http.StatusOK,
		wantData: []byte(`{"present":2,"absent":0,"total":2}`),
	}, f.do(http.MethodGet, "/v1/attendance/stats?roll=2301640130099"))

	checkCodeAndData(t, httpTest{
		wantCode: http.StatusBadRequest,
		wantData: []byte(`{"from":"must be a date (YYYY-MM-DD)"}`),
	}, f.do(http.MethodGet, "/v1/attendance?from=04/11/2025"))

	checkCodeAndData(t, httpTest{
		wantCode: http.StatusBadRequest,
		wantData: []byte(`{"roll":"this field is required"}`),
	}, f.do(http.MethodGet, "/v1/attendance/stats"))
}

func Test_studentApi(t *testing.T) {
	f := setup(t)

	f.login(t, "ram.ji@school.edu")
	var students []student.Student
	decode(t, f.do(http.MethodGet, "/v1/students"), &students)
	assert.Len(t, students, len(testutil.MockStudents))

	forbidden := marchallObj(t, httpErr{Error: "permission denied"})
	checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: forbidden},
		f.do(http.MethodDelete, "/v1/students/2"))

	f.login(t, "teacher@school.edu")
	tests := []httpTest{
		{
			name: "update (invalid roll)", method: http.MethodPut, path: "/v1/students/6",
			body:     []byte(`{"name":"Ram Ji","email":"ram.ji@school.edu","roll":"23A"}`),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"roll":"roll number must contain only digits"}`),
		},
		{
			name: "update", method: http.MethodPut, path: "/v1/students/6",
			body:     []byte(`{"name":"Ram Ji Tiwari","email":"RAM.JI@school.edu","roll":"2301640130099"}`),
			wantCode: http.StatusOK,
			wantData: []byte(`{"id":"6","name":"Ram Ji Tiwari","roll":"2301640130099","email":"ram.ji@school.edu"}`),
		},
		{
			name: "update (unknown)", method: http.MethodPut, path: "/v1/students/42",
			body:     []byte(`{"name":"Nobody","email":"nobody@school.edu","roll":"1"}`),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "Student not found"}),
		},
		{name: "delete", method: http.MethodDelete, path: "/v1/students/6", wantCode: http.StatusNoContent},
		{
			name: "delete (again)", method: http.MethodDelete, path: "/v1/students/6",
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "Student not found"}),
		},
		{
			name: "create (missing fields)", method: http.MethodPost, path: "/v1/students",
			body:     []byte(`{"name":"New One"}`),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"email":"this field is required","studentRoll":"this field is required","password":"this field is required"}`),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, f.do(tt.method, tt.path, tt.body))
		})
	}

	rec := f.do(http.MethodPost, "/v1/students",
		[]byte(`{"name":"New One","email":"new.one@school.edu","studentRoll":"2301640130200","password":"secret1"}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created student.Student
	decode(t, rec, &created)
	assert.Equal(t, "2301640130200", created.Roll)
	assert.Equal(t, 1, f.backend.Count("POST /auth/register"))
}

func Test_profileApi(t *testing.T) {
	f := setup(t)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testutil.Frame(4, 4, color.White)))

	usr := f.login(t, "ram.ji@school.edu")
	path := "/v1/profile/" + usr.ID + "/image"

	checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound}, f.do(http.MethodGet, path))
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusBadRequest, wantData: []byte(`{"image":"this field is required"}`),
	}, f.do(http.MethodPut, path))
	checkCodeAndData(t, httpTest{wantCode: http.StatusNoContent}, f.do(http.MethodPut, path, buf.Bytes()))

	rec := f.do(http.MethodGet, path)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, buf.Bytes(), rec.Body.Bytes())

	checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden}, f.do(http.MethodGet, "/v1/profile/2/image"))

	f.login(t, "teacher@school.edu")
	checkCodeAndData(t, httpTest{wantCode: http.StatusOK}, f.do(http.MethodGet, path))
}
