package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"geoattend/internal/attendance"
	"geoattend/internal/auth"
	"geoattend/internal/classes"
	"geoattend/internal/handler"
	"geoattend/internal/model"
	"geoattend/internal/store/memory"
	"geoattend/internal/users"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

type server struct {
	t      *testing.T
	router *gin.Engine
	clock  *clock
}

// monday0930 is 2024-01-01, a Monday.
var monday0930 = time.Date(2024, time.January, 1, 9, 30, 0, 0, time.UTC)

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clk := &clock{t: monday0930}
	mem := memory.New()
	userSvc := users.NewService(mem, bcrypt.MinCost, nil)
	classSvc := classes.NewService(mem, nil, nil, nil)
	attSvc := attendance.NewService(mem, mem, mem, time.UTC, nil)

	signer := auth.NewSigner("test-secret", "geoattend-test", 30*24*time.Hour, 60*24*time.Hour)
	signer.Now = clk.Now

	h := handler.New(userSvc, classSvc, attSvc, signer, clk.Now, nil)
	r := gin.New()
	h.Register(r)
	return &server{t: t, router: r, clock: clk}
}

func (s *server) do(method, path, token string, body any) (int, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

type session struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	User         model.User `json:"user"`
}

func (s *server) register(name, email, role string) session {
	s.t.Helper()
	code, env := s.do(http.MethodPost, "/auth/register", "", gin.H{
		"name": name, "email": email, "password": "password123", "role": role,
	})
	require.Equal(s.t, http.StatusCreated, code, env.Error)
	var sess session
	require.NoError(s.t, json.Unmarshal(env.Data, &sess))
	return sess
}

func classBody(code string) gin.H {
	return gin.H{
		"name":     "Networks",
		"code":     code,
		"location": gin.H{"latitude": 0, "longitude": 0},
		"schedule": gin.H{"dayOfWeek": "Monday", "startTime": "09:00", "endTime": "10:00", "room": "A1"},
	}
}

func (s *server) createClass(token, code string) model.Class {
	s.t.Helper()
	status, env := s.do(http.MethodPost, "/classes", token, classBody(code))
	require.Equal(s.t, http.StatusCreated, status, env.Error)
	var c model.Class
	require.NoError(s.t, json.Unmarshal(env.Data, &c))
	return c
}

func markBody(classID string, lat float64) gin.H {
	return gin.H{"classId": classID, "userLat": lat, "userLon": 0, "deviceInfo": "test-agent"}
}

func TestAuthRequired(t *testing.T) {
	s := newServer(t)

	code, env := s.do(http.MethodGet, "/classes", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, env.Success)
	assert.Equal(t, "Unauthorized", env.Error)

	code, _ = s.do(http.MethodGet, "/classes", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestRegisterLoginRefresh(t *testing.T) {
	s := newServer(t)
	sess := s.register("Asha", "asha@example.com", "")
	assert.Equal(t, model.RoleStudent, sess.User.Role)

	code, env := s.do(http.MethodPost, "/auth/register", "", gin.H{
		"name": "Asha", "email": "asha@example.com", "password": "password123",
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.False(t, env.Success)

	code, env = s.do(http.MethodPost, "/auth/register", "", gin.H{"name": "X", "email": "bad", "password": "password123"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "email must be a valid email address", env.Error)

	code, env = s.do(http.MethodPost, "/auth/login", "", gin.H{"email": "asha@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Invalid email or password", env.Error)

	code, env = s.do(http.MethodPost, "/auth/login", "", gin.H{"email": "ASHA@example.com", "password": "password123"})
	require.Equal(t, http.StatusOK, code)
	var login session
	require.NoError(t, json.Unmarshal(env.Data, &login))

	code, env = s.do(http.MethodPost, "/auth/refresh", "", gin.H{"refreshToken": login.RefreshToken})
	require.Equal(t, http.StatusOK, code, env.Error)
	var rotated session
	require.NoError(t, json.Unmarshal(env.Data, &rotated))
	assert.NotEqual(t, login.RefreshToken, rotated.RefreshToken)

	code, _ = s.do(http.MethodPost, "/auth/refresh", "", gin.H{"refreshToken": login.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, code, "refresh tokens are single use")

	code, _ = s.do(http.MethodPost, "/auth/refresh", "", gin.H{"refreshToken": login.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, code, "an access token cannot refresh")
}

func TestProfile(t *testing.T) {
	s := newServer(t)
	sess := s.register("Asha", "asha@example.com", "")

	code, env := s.do(http.MethodGet, "/me", sess.AccessToken, nil)
	require.Equal(t, http.StatusOK, code)
	var u model.User
	require.NoError(t, json.Unmarshal(env.Data, &u))
	assert.Equal(t, "asha@example.com", u.Email)
	assert.NotContains(t, string(env.Data), "password")

	code, env = s.do(http.MethodPut, "/me", sess.AccessToken, gin.H{"name": "Asha R", "gender": "female"})
	require.Equal(t, http.StatusOK, code, env.Error)
	require.NoError(t, json.Unmarshal(env.Data, &u))
	assert.Equal(t, "Asha R", u.Name)
	assert.Equal(t, "female", u.Gender)

	code, _ = s.do(http.MethodPut, "/me", sess.AccessToken, gin.H{"name": "  "})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestClassAdministration(t *testing.T) {
	s := newServer(t)
	cr := s.register("Ravi", "ravi@example.com", "cr")
	other := s.register("Mira", "mira@example.com", "cr")
	student := s.register("Asha", "asha@example.com", "student")

	code, env := s.do(http.MethodPost, "/classes", student.AccessToken, classBody("CS301"))
	assert.Equal(t, http.StatusUnauthorized, code, "students cannot create classes")
	assert.Equal(t, "Unauthorized", env.Error)

	class := s.createClass(cr.AccessToken, "CS301")
	assert.Equal(t, cr.User.ID, class.CreatedBy)
	assert.Equal(t, 30.0, class.AllowedRadius)

	code, _ = s.do(http.MethodPost, "/classes", cr.AccessToken, classBody("CS301"))
	assert.Equal(t, http.StatusConflict, code)

	s.createClass(other.AccessToken, "CS302")

	code, env = s.do(http.MethodGet, "/classes", student.AccessToken, nil)
	require.Equal(t, http.StatusOK, code)
	var list []model.Class
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list, 2)

	code, env = s.do(http.MethodGet, "/classes?mine=true", cr.AccessToken, nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "CS301", list[0].Code)

	code, env = s.do(http.MethodGet, "/classes/"+class.ID, student.AccessToken, nil)
	assert.Equal(t, http.StatusOK, code)

	code, env = s.do(http.MethodGet, "/classes/missing", student.AccessToken, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Class not found", env.Error)

	update := classBody("CS301")
	update["name"] = "Computer Networks"
	code, _ = s.do(http.MethodPut, "/classes/"+class.ID, other.AccessToken, update)
	assert.Equal(t, http.StatusForbidden, code, "only the creator may edit")

	code, _ = s.do(http.MethodPut, "/classes/"+class.ID, other.AccessToken, gin.H{"name": ""})
	assert.Equal(t, http.StatusForbidden, code, "ownership is checked before the body")
	code, _ = s.do(http.MethodPut, "/classes/missing", cr.AccessToken, gin.H{"name": ""})
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = s.do(http.MethodPut, "/classes/"+class.ID, cr.AccessToken, gin.H{"name": ""})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = s.do(http.MethodPut, "/classes/"+class.ID, cr.AccessToken, update)
	require.Equal(t, http.StatusOK, code, env.Error)
	var updated model.Class
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	assert.Equal(t, "Computer Networks", updated.Name)

	code, _ = s.do(http.MethodPut, "/classes/missing", cr.AccessToken, update)
	assert.Equal(t, http.StatusNotFound, code)

	code, env = s.do(http.MethodDelete, "/classes/"+class.ID, cr.AccessToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Class deleted successfully", env.Message)

	code, _ = s.do(http.MethodDelete, "/classes/"+class.ID, cr.AccessToken, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCreateClassValidation(t *testing.T) {
	s := newServer(t)
	cr := s.register("Ravi", "ravi@example.com", "cr")

	tests := []struct {
		name string
		mut  func(gin.H)
		want string
	}{
		{name: "no schedule", mut: func(b gin.H) { delete(b, "schedule") }, want: "schedule is required"},
		{name: "no location", mut: func(b gin.H) { delete(b, "location") }, want: "location is required"},
		{
			name: "bad time",
			mut: func(b gin.H) {
				b["schedule"] = gin.H{"dayOfWeek": "Monday", "startTime": "9am", "endTime": "10:00", "room": "A1"}
			},
			want: "schedule.startTime must be a time in HH:MM format",
		},
		{
			name: "bad day",
			mut: func(b gin.H) {
				b["schedule"] = gin.H{"dayOfWeek": "Mon", "startTime": "09:00", "endTime": "10:00", "room": "A1"}
			},
			want: "schedule.dayOfWeek must be a weekday name such as Monday",
		},
		{
			name: "end before start",
			mut: func(b gin.H) {
				b["schedule"] = gin.H{"dayOfWeek": "Monday", "startTime": "11:00", "endTime": "10:00", "room": "A1"}
			},
			want: "schedule.endTime: must be after startTime",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := classBody("CS301")
			tt.mut(body)
			code, env := s.do(http.MethodPost, "/classes", cr.AccessToken, body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, tt.want, env.Error)
		})
	}
}

func TestEnrollment(t *testing.T) {
	s := newServer(t)
	cr := s.register("Ravi", "ravi@example.com", "cr")
	student := s.register("Asha", "asha@example.com", "")
	class := s.createClass(cr.AccessToken, "CS301")

	code, env := s.do(http.MethodPost, "/classes/enroll", student.AccessToken, gin.H{"classId": class.ID})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Enrolled successfully", env.Message)

	code, env = s.do(http.MethodPost, "/classes/enroll", student.AccessToken, gin.H{"classId": class.ID})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Already enrolled", env.Message)

	code, _ = s.do(http.MethodPost, "/classes/enroll", student.AccessToken, gin.H{"classId": "missing"})
	assert.Equal(t, http.StatusNotFound, code)

	code, env = s.do(http.MethodGet, "/classes/enrolled", student.AccessToken, nil)
	require.Equal(t, http.StatusOK, code)
	var list []model.Class
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, class.ID, list[0].ID)
}

func TestMarkAttendanceFlow(t *testing.T) {
	s := newServer(t)
	cr := s.register("Ravi", "ravi@example.com", "cr")
	student := s.register("Asha", "asha@example.com", "")
	class := s.createClass(cr.AccessToken, "CS301")
	statusPath := "/attendance/status?classId=" + class.ID

	code, env := s.do(http.MethodGet, statusPath, student.AccessToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"isPresent":false,"record":null}`, string(env.Data))

	code, env = s.do(http.MethodPost, "/attendance/mark", student.AccessToken, gin.H{"classId": class.ID})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Missing required fields", env.Error)

	code, env = s.do(http.MethodPost, "/attendance/mark", student.AccessToken, markBody(class.ID, 0.0045))
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "You are not within the allowed class location radius.", env.Error)

	code, env = s.do(http.MethodPost, "/attendance/mark", student.AccessToken, markBody(class.ID, 0))
	require.Equal(t, http.StatusCreated, code, env.Error)
	assert.Equal(t, "Attendance marked successfully!", env.Message)
	var rec model.AttendanceRecord
	require.NoError(t, json.Unmarshal(env.Data, &rec))
	assert.Equal(t, "present", rec.Status)
	assert.Equal(t, student.User.ID, rec.StudentID)

	code, env = s.do(http.MethodPost, "/attendance/mark", student.AccessToken, markBody(class.ID, 0))
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "You have already marked attendance for this class today.", env.Error)

	code, env = s.do(http.MethodGet, statusPath, student.AccessToken, nil)
	require.Equal(t, http.StatusOK, code)
	var st struct {
		IsPresent bool                    `json:"isPresent"`
		Record    *model.AttendanceRecord `json:"record"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.True(t, st.IsPresent)
	require.NotNil(t, st.Record)
	assert.Equal(t, rec.ID, st.Record.ID)

	s.clock.Set(monday0930.Add(24 * time.Hour))
	code, env = s.do(http.MethodPost, "/attendance/mark", student.AccessToken, markBody(class.ID, 0))
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "Attendance can only be marked on Monday during class hours.", env.Error)

	s.clock.Set(monday0930.Add(90 * time.Minute))
	code, env = s.do(http.MethodPost, "/attendance/mark", student.AccessToken, markBody(class.ID, 0))
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "Attendance can only be marked during class hours.", env.Error)

	code, _ = s.do(http.MethodGet, "/attendance/status", student.AccessToken, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAttendanceReport(t *testing.T) {
	s := newServer(t)
	cr := s.register("Ravi", "ravi@example.com", "cr")
	asha := s.register("Asha", "asha@example.com", "")
	bela := s.register("Bela", "bela@example.com", "")
	class := s.createClass(cr.AccessToken, "CS301")
	reportPath := "/attendance/report?classId=" + class.ID

	code, env := s.do(http.MethodGet, reportPath, cr.AccessToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "No attendance records found for this class.", env.Message)

	code, _ = s.do(http.MethodGet, reportPath, asha.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, code, "report is for CRs")

	code, _ = s.do(http.MethodPost, "/attendance/mark", asha.AccessToken, markBody(class.ID, 0))
	require.Equal(t, http.StatusCreated, code)

	s.clock.Set(monday0930.Add(7 * 24 * time.Hour))
	code, _ = s.do(http.MethodPost, "/attendance/mark", bela.AccessToken, markBody(class.ID, 0))
	require.Equal(t, http.StatusCreated, code)

	code, env = s.do(http.MethodGet, reportPath, cr.AccessToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, env.Message)
	var rep model.Report
	require.NoError(t, json.Unmarshal(env.Data, &rep))
	assert.Equal(t, []string{"2024-01-01", "2024-01-08"}, rep.Dates)
	require.Len(t, rep.Rows, 2)
	assert.Equal(t, "Asha", rep.Rows[0].Student)
	assert.Equal(t, "Absent", rep.Rows[0].Days["2024-01-08"])
	assert.Equal(t, "Bela", rep.Rows[1].Student)
	assert.Equal(t, "Absent", rep.Rows[1].Days["2024-01-01"])

	code, env = s.do(http.MethodGet, "/attendance/report?classId=missing", cr.AccessToken, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Class not found", env.Error)

	code, env = s.do(http.MethodGet, "/attendance/report", cr.AccessToken, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Missing classId", env.Error)
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	up := func(ctx context.Context) bool { return true }
	down := func(ctx context.Context) bool { return false }
	r.GET("/ok", handler.Health(map[string]handler.Checker{"db": up}, nil))
	r.GET("/bad", handler.Health(map[string]handler.Checker{"db": up, "redis": down}, nil))
	r.GET("/optional", handler.Health(map[string]handler.Checker{"db": up}, map[string]handler.Checker{"redis": down}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","db":true}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bad", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"degraded","db":true,"redis":false}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/optional", nil))
	assert.Equal(t, http.StatusOK, w.Code, "an optional dependency being down is reported only")
	assert.JSONEq(t, `{"status":"ok","db":true,"redis":false}`, w.Body.String())
}
