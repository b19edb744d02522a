package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/presence/apps/api/echo"
	"github.com/trezcool/presence/core"
	"github.com/trezcool/presence/core/account"
	metricsvc "github.com/trezcool/presence/services/metrics"
	"github.com/trezcool/presence/tests"
)

const (
	adminEmail = "admin@school.test"
	adminPwd   = "admin-pass-1"
)

type fixture struct {
	app      *Server
	conf     *core.Config
	auth     *testutil.FakeAuth
	profiles *testutil.FakeProfileStore
	logger   *testutil.LoggerMock
	admin    *account.Session
}

func setup(t *testing.T) *fixture {
	log := new(testutil.CallLog)
	f := &fixture{
		conf:     testutil.NewConfig(),
		auth:     testutil.NewFakeAuth(log),
		profiles: testutil.NewFakeProfileStore(log),
		logger:   new(testutil.LoggerMock),
	}
	f.admin = f.auth.AddAdmin(t, adminEmail, adminPwd)

	reg := prometheus.NewRegistry()
	rec, err := metricsvc.NewPrometheusRecorder(reg)
	require.NoError(t, err)

	validate, translator := testutil.NewValidator()
	prov, err := account.NewProvisioner(account.ProvisionerDeps{
		Auth:       f.auth,
		Storage:    testutil.NewFakeStorage(log),
		Profiles:   f.profiles,
		Locker:     account.NewLocalLocker(),
		Mailer:     new(testutil.MailerMock),
		Recorder:   rec,
		Logger:     f.logger,
		Validate:   validate,
		Translator: translator,
		Conf:       f.conf,
	})
	require.NoError(t, err)

	f.app = NewServer(&Options{
		Conf:           f.conf,
		Logger:         f.logger,
		Provisioner:    prov,
		ProfileSvc:     account.NewService(f.profiles),
		Translator:     translator,
		Gatherer:       reg,
		DisableReqLogs: true,
	})
	return f
}

func (f *fixture) token(t *testing.T, sess *account.Session, role account.Role) string {
	t.Helper()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sess.UserID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email:       sess.Email,
		Role:        "authenticated",
		AppMetadata: map[string]interface{}{"role": string(role)},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(f.conf.Supabase.JWTSecret))
	require.NoError(t, err)
	return token
}

func (f *fixture) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.app.ServeHTTP(rec, req)

	var data map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &data)
	return rec, data
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 20, 30))))
	return buf.Bytes()
}

func studentBody() map[string]interface{} {
	return map[string]interface{}{
		"name":           "Jane Doe",
		"email":          "jane@school.test",
		"department":     "Computer Science",
		"temp_password":  "welcome42",
		"admin_password": adminPwd,
	}
}

func teacherBody() map[string]interface{} {
	body := studentBody()
	body["name"] = "Ada Lovelace"
	body["email"] = "ada@school.test"
	body["teacher_code"] = "MATH_01"
	return body
}

func TestServer_Public(t *testing.T) {
	f := setup(t)

	rec, _ := f.do(t, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome to Presence API!", rec.Body.String())

	rec, data := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", data["status"])

	rec, _ = f.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Authentication(t *testing.T) {
	f := setup(t)
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: f.admin.UserID},
		AppMetadata:      map[string]interface{}{"role": "admin"},
	}).SignedString([]byte("not-the-secret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "missing token"},
		{name: "malformed token", token: "lol"},
		{name: "bad signature", token: forged},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, data := f.do(t, http.MethodPost, "/v1/accounts/students", tt.token, studentBody())
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "user not authenticated", data["error"])
		})
	}
	assert.Zero(t, f.auth.Log.Count("auth."))
}

func TestServer_AdminOnly(t *testing.T) {
	f := setup(t)
	userMetaAdmin, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   f.admin.UserID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email:        adminEmail,
		Role:         "authenticated",
		UserMetadata: map[string]interface{}{"role": "admin"},
	}).SignedString([]byte(f.conf.Supabase.JWTSecret))
	require.NoError(t, err)

	tests := []struct {
		name     string
		token    string
		wantCode int
	}{
		{name: "no role", token: f.token(t, f.admin, ""), wantCode: http.StatusForbidden},
		{name: "admin in user metadata", token: userMetaAdmin, wantCode: http.StatusForbidden},
		{name: "student", token: f.token(t, f.admin, account.RoleStudent), wantCode: http.StatusForbidden},
		{name: "admin", token: f.token(t, f.admin, account.RoleAdmin), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := f.do(t, http.MethodGet, "/v1/profiles", tt.token, nil)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())

			rec, _ = f.do(t, http.MethodPatch, "/v1/profiles/students/jane@school.test", tt.token, map[string]interface{}{"is_active": false})
			if tt.wantCode == http.StatusForbidden {
				assert.Equal(t, http.StatusForbidden, rec.Code)
			}

			if tt.wantCode == http.StatusForbidden {
				rec, data := f.do(t, http.MethodPost, "/v1/accounts/students", tt.token, studentBody())
				assert.Equal(t, http.StatusForbidden, rec.Code)
				assert.Equal(t, string(account.KindNotAdmin), data["kind"])
			}
		})
	}
	assert.Zero(t, f.auth.Log.Count("auth.CreateIdentity"))
}

func TestServer_CreateStudent(t *testing.T) {
	f := setup(t)
	body := studentBody()
	body["photo"] = pngBytes(t) // encoded as base64
	body["photo_content_type"] = "image/png"

	rec, data := f.do(t, http.MethodPost, "/v1/accounts/students", f.token(t, f.admin, account.RoleAdmin), body)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, data["attempt_id"])
	assert.NotEmpty(t, data["identity_id"])
	assert.Contains(t, data["photo_url"], "http://storage.test/student-photos/student-")
	prof := data["profile"].(map[string]interface{})
	assert.Equal(t, "jane@school.test", prof["email"])
	assert.Equal(t, float64(time.Now().Year()), prof["enrollment_year"])
	assert.Equal(t, f.admin.UserID, prof["created_by"])
	sess := data["admin_session"].(map[string]interface{})
	assert.Equal(t, adminEmail, sess["email"])
}

func TestServer_CreateAccount_Errors(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		body      func() map[string]interface{}
		role      account.Role
		prepare   func(t *testing.T, f *fixture)
		wantCode  int
		wantKind  account.Kind
		wantState account.State
		wantField string
	}{
		{
			name: "validation", path: "/v1/accounts/teachers", role: account.RoleAdmin,
			body: func() map[string]interface{} {
				body := teacherBody()
				body["email"] = "not-an-email"
				delete(body, "teacher_code")
				return body
			},
			wantCode: http.StatusBadRequest, wantKind: account.KindValidationFailed, wantState: account.StateNoRemoteEffect, wantField: "teacher_code",
		},
		{
			name: "not an admin", path: "/v1/accounts/students", role: account.RoleTeacher, body: studentBody,
			wantCode: http.StatusForbidden, wantKind: account.KindNotAdmin, wantState: account.StateNoRemoteEffect,
		},
		{
			name: "duplicate email", path: "/v1/accounts/students", role: account.RoleAdmin, body: studentBody,
			prepare: func(t *testing.T, f *fixture) {
				f.profiles.CreateProfile(t, account.Profile{Role: account.RoleTeacher, AuthUserID: "t-1", Email: "jane@school.test"})
			},
			wantCode: http.StatusConflict, wantKind: account.KindDuplicateEmail, wantState: account.StateNoRemoteEffect,
		},
		{
			name: "lookup failed", path: "/v1/accounts/students", role: account.RoleAdmin, body: studentBody,
			prepare:  func(t *testing.T, f *fixture) { f.profiles.LookupErr = errors.New("connection refused") },
			wantCode: http.StatusBadGateway, wantKind: account.KindLookupFailed, wantState: account.StateNoRemoteEffect,
		},
		{
			name: "identity creation failed", path: "/v1/accounts/teachers", role: account.RoleAdmin, body: teacherBody,
			prepare:  func(t *testing.T, f *fixture) { f.auth.CreateErr = errors.New("user already registered") },
			wantCode: http.StatusBadGateway, wantKind: account.KindIdentityCreationFailed, wantState: account.StateNoRemoteEffect,
		},
		{
			name: "profile persist failed", path: "/v1/accounts/students", role: account.RoleAdmin, body: studentBody,
			prepare:  func(t *testing.T, f *fixture) { f.profiles.InsertErr = errors.New("row level security") },
			wantCode: http.StatusInternalServerError, wantKind: account.KindProfilePersistFailed, wantState: account.StateProfileMissing,
		},
		{
			name: "session restore failed", path: "/v1/accounts/students", role: account.RoleAdmin, body: studentBody,
			prepare:  func(t *testing.T, f *fixture) { f.auth.AuthenticateErr = errors.New("invalid login credentials") },
			wantCode: http.StatusInternalServerError, wantKind: account.KindSessionRestoreFailed, wantState: account.StateSessionNotRestored,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			if tt.prepare != nil {
				tt.prepare(t, f)
			}

			rec, data := f.do(t, http.MethodPost, tt.path, f.token(t, f.admin, tt.role), tt.body())

			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			assert.Equal(t, string(tt.wantKind), data["kind"])
			assert.Equal(t, string(tt.wantState), data["state"])
			assert.Equal(t, tt.wantKind == account.KindSessionRestoreFailed, data["severe"])
			assert.NotEmpty(t, data["error"])
			if tt.wantField != "" {
				assert.Contains(t, data["fields"], tt.wantField)
				assert.Contains(t, data["fields"], "email")
			}
			if tt.wantState == account.StateProfileMissing {
				assert.NotEmpty(t, data["identity_id"])
				assert.NotNil(t, data["admin_session"])
			}
		})
	}
}

func TestServer_QueryProfiles(t *testing.T) {
	f := setup(t)
	token := f.token(t, f.admin, account.RoleAdmin)
	f.profiles.CreateProfile(t, account.Profile{Role: account.RoleStudent, AuthUserID: "s-1", FullName: "Jane Doe", Email: "jane@school.test", IsActive: true})
	f.profiles.CreateProfile(t, account.Profile{Role: account.RoleTeacher, AuthUserID: "t-1", FullName: "Ada Lovelace", Email: "ada@school.test"})

	tests := []struct {
		name     string
		path     string
		wantCode int
		wantIDs  []string
	}{
		{name: "all", path: "/v1/profiles", wantCode: http.StatusOK, wantIDs: []string{"s-1", "t-1"}},
		{name: "teachers", path: "/v1/profiles?role=teachers", wantCode: http.StatusOK, wantIDs: []string{"t-1"}},
		{name: "active", path: "/v1/profiles?is_active=true", wantCode: http.StatusOK, wantIDs: []string{"s-1"}},
		{name: "search", path: "/v1/profiles?search=ada", wantCode: http.StatusOK, wantIDs: []string{"t-1"}},
		{name: "bad is_active", path: "/v1/profiles?is_active=lol", wantCode: http.StatusBadRequest},
		{name: "bad role", path: "/v1/profiles?role=janitor", wantCode: http.StatusBadRequest},
		{name: "bad ordering", path: "/v1/profiles?ordering=-password", wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rec := httptest.NewRecorder()
			f.app.ServeHTTP(rec, req)

			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode != http.StatusOK {
				return
			}
			var profs []account.Profile
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profs))
			ids := make([]string, 0, len(profs))
			for _, p := range profs {
				ids = append(ids, p.AuthUserID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestServer_SetProfileActive(t *testing.T) {
	f := setup(t)
	token := f.token(t, f.admin, account.RoleAdmin)
	f.profiles.CreateProfile(t, account.Profile{Role: account.RoleStudent, AuthUserID: "s-1", Email: "jane@school.test", IsActive: true})

	tests := []struct {
		name     string
		path     string
		token    string
		body     interface{}
		wantCode int
	}{
		{name: "deactivate", path: "/v1/profiles/students/jane@school.test", token: token, body: map[string]bool{"is_active": false}, wantCode: http.StatusOK},
		{name: "missing flag", path: "/v1/profiles/students/jane@school.test", token: token, body: map[string]string{}, wantCode: http.StatusBadRequest},
		{name: "unknown profile", path: "/v1/profiles/teachers/jane@school.test", token: token, body: map[string]bool{"is_active": true}, wantCode: http.StatusNotFound},
		{name: "unknown role", path: "/v1/profiles/janitors/jane@school.test", token: token, body: map[string]bool{"is_active": true}, wantCode: http.StatusNotFound},
		{name: "not an admin", path: "/v1/profiles/students/jane@school.test", token: f.token(t, f.admin, account.RoleStudent), body: map[string]bool{"is_active": true}, wantCode: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := f.do(t, http.MethodPatch, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}

	profs, err := f.profiles.QueryProfiles(context.Background(), nil, account.QueryFilter{Role: account.RoleStudent})
	require.NoError(t, err)
	require.Len(t, profs, 1)
	assert.False(t, profs[0].IsActive)
}
