package account_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/presence/core"
	"github.com/trezcool/presence/core/account"
	"github.com/trezcool/presence/tests"
)

const (
	adminEmail = "admin@school.test"
	adminPwd   = "admin-pass-1"
)

var now = time.Date(2025, time.September, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	log      *testutil.CallLog
	auth     *testutil.FakeAuth
	storage  *testutil.FakeStorage
	profiles *testutil.FakeProfileStore
	logger   *testutil.LoggerMock
	mailer   *testutil.MailerMock
	recorder *recorderMock
	conf     *core.Config
	admin    *account.Session
	prov     *account.Provisioner
}

func setup(t *testing.T, locker ...account.Locker) *fixture {
	account.NowFunc = func() time.Time { return now }
	t.Cleanup(func() { account.NowFunc = time.Now })

	log := new(testutil.CallLog)
	f := &fixture{
		log:      log,
		auth:     testutil.NewFakeAuth(log),
		storage:  testutil.NewFakeStorage(log),
		profiles: testutil.NewFakeProfileStore(log),
		logger:   new(testutil.LoggerMock),
		mailer:   new(testutil.MailerMock),
		recorder: new(recorderMock),
		conf:     testutil.NewConfig(),
	}
	f.admin = f.auth.AddAdmin(t, adminEmail, adminPwd)

	validate, translator := testutil.NewValidator()
	deps := account.ProvisionerDeps{
		Auth:       f.auth,
		Storage:    f.storage,
		Profiles:   f.profiles,
		Mailer:     f.mailer,
		Recorder:   f.recorder,
		Logger:     f.logger,
		Validate:   validate,
		Translator: translator,
		Conf:       f.conf,
	}
	if len(locker) > 0 {
		deps.Locker = locker[0]
	}
	prov, err := account.NewProvisioner(deps)
	require.NoError(t, err)
	f.prov = prov
	return f
}

type recorderMock struct {
	steps    []account.Step
	outcomes []account.Kind
}

func (r *recorderMock) ObserveStep(step account.Step, _ time.Duration, _ error) {
	r.steps = append(r.steps, step)
}

func (r *recorderMock) ObserveOutcome(_ account.Role, kind account.Kind, _ time.Duration) {
	r.outcomes = append(r.outcomes, kind)
}

func pngPhoto(t *testing.T, w, h int) *account.Photo {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return &account.Photo{Data: buf.Bytes(), ContentType: "image/png"}
}

func studentRequest() account.StudentRequest {
	return account.StudentRequest{
		AccountFields: account.AccountFields{
			Name:          "Jane Doe",
			Email:         "Jane.Doe@School.test",
			Department:    "Computer Science",
			Phone:         "+243810000000",
			TempPassword:  "welcome42",
			AdminPassword: adminPwd,
		},
		EnrollmentYear: 2024,
	}
}

func teacherRequest() account.TeacherRequest {
	return account.TeacherRequest{
		AccountFields: account.AccountFields{
			Name:          "John Smith",
			Email:         "john.smith@school.test",
			Department:    "Mathematics",
			TempPassword:  "teach3rs",
			AdminPassword: adminPwd,
		},
		TeacherCode: "MATH_01",
	}
}

func provisionErr(t *testing.T, err error) *account.Error {
	t.Helper()
	require.Error(t, err)
	perr, ok := account.AsError(err)
	require.True(t, ok, "want *account.Error, got %T", err)
	return perr
}

func fieldNames(flds []core.FieldError) []string {
	names := make([]string, 0, len(flds))
	for _, fe := range flds {
		names = append(names, fe.Field)
	}
	return names
}

func TestProvision_Preconditions(t *testing.T) {
	badPhoto := &account.Photo{Data: []byte("definitely not an image")}

	tests := []struct {
		name       string
		req        func() account.Request
		wantFields []string
	}{
		{
			name: "missing name, email and department",
			req: func() account.Request {
				r := studentRequest()
				r.Name, r.Email, r.Department = "  ", "", ""
				return r
			},
			wantFields: []string{"name", "email", "department"},
		},
		{
			name: "short password and missing department",
			req: func() account.Request {
				r := studentRequest()
				r.TempPassword, r.Department = "abc12", ""
				return r
			},
			wantFields: []string{"department", "temp_password"},
		},
		{
			name: "bad email",
			req: func() account.Request {
				r := studentRequest()
				r.Email = "jane@school"
				return r
			},
			wantFields: []string{"email"},
		},
		{
			name: "missing admin password",
			req: func() account.Request {
				r := teacherRequest()
				r.AdminPassword = ""
				return r
			},
			wantFields: []string{"admin_password"},
		},
		{
			name: "bad phone",
			req: func() account.Request {
				r := studentRequest()
				r.Phone = "+12-345"
				return r
			},
			wantFields: []string{"phone"},
		},
		{
			name: "enrollment year too old",
			req: func() account.Request {
				r := studentRequest()
				r.EnrollmentYear = now.Year() - 7
				return r
			},
			wantFields: []string{"enrollment_year"},
		},
		{
			name: "enrollment year too far ahead",
			req: func() account.Request {
				r := studentRequest()
				r.EnrollmentYear = now.Year() + 2
				return r
			},
			wantFields: []string{"enrollment_year"},
		},
		{
			name: "missing teacher code",
			req: func() account.Request {
				r := teacherRequest()
				r.TeacherCode = "   "
				return r
			},
			wantFields: []string{"teacher_code"},
		},
		{
			name: "longer than the profile columns",
			req: func() account.Request {
				r := teacherRequest()
				r.Name = strings.Repeat("n", 151)
				r.Department = strings.Repeat("d", 300)
				r.Email = strings.Repeat("e", 250) + "@school.test"
				r.TeacherCode = strings.Repeat("C", 51)
				return r
			},
			wantFields: []string{"name", "department", "email", "teacher_code"},
		},
		{
			name: "undecodable photo",
			req: func() account.Request {
				r := studentRequest()
				r.Photo = badPhoto
				return r
			},
			wantFields: []string{"photo"},
		},
		{
			name: "everything wrong at once",
			req: func() account.Request {
				return account.TeacherRequest{AccountFields: account.AccountFields{
					Email:        "nope",
					Phone:        "12",
					TempPassword: "12345",
					Photo:        badPhoto,
				}}
			},
			wantFields: []string{"name", "email", "department", "phone", "temp_password", "admin_password", "teacher_code", "photo"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			_, err := f.prov.Provision(context.Background(), f.admin, tt.req())

			perr := provisionErr(t, err)
			assert.Equal(t, account.KindValidationFailed, perr.Kind)
			assert.Equal(t, account.StateNoRemoteEffect, perr.State)
			assert.ElementsMatch(t, tt.wantFields, fieldNames(perr.Fields))
			assert.Zero(t, f.log.Len(), "no call may happen before preconditions pass: %v", f.log.Calls())
		})
	}
}

func TestProvision_ScenarioD_ListsEveryViolation(t *testing.T) {
	f := setup(t)
	req := studentRequest()
	req.TempPassword = "abc12"
	req.Department = ""

	_, err := f.prov.Provision(context.Background(), f.admin, req)

	perr := provisionErr(t, err)
	assert.Equal(t, account.KindValidationFailed, perr.Kind)
	assert.Contains(t, fieldNames(perr.Fields), "temp_password")
	assert.Contains(t, fieldNames(perr.Fields), "department")
	assert.Contains(t, perr.Error(), "temporary password must contain at least 6 characters")
	assert.Zero(t, f.log.Len())
}

func TestProvision_ActingSession(t *testing.T) {
	tests := []struct {
		name     string
		acting   *account.Session
		wantKind account.Kind
	}{
		{name: "not signed in", acting: nil, wantKind: account.KindNotSignedIn},
		{name: "session without email", acting: &account.Session{UserID: "u1", Role: account.RoleAdmin}, wantKind: account.KindSessionEmailMissing},
		{name: "not an admin", acting: &account.Session{UserID: "u2", Email: "t@school.test", Role: account.RoleTeacher}, wantKind: account.KindNotAdmin},
		{name: "no role", acting: &account.Session{UserID: "u3", Email: "u@school.test"}, wantKind: account.KindNotAdmin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			_, err := f.prov.Provision(context.Background(), tt.acting, studentRequest())

			perr := provisionErr(t, err)
			assert.Equal(t, tt.wantKind, perr.Kind)
			assert.Equal(t, account.StateNoRemoteEffect, perr.State)
			assert.Zero(t, f.log.Len())
		})
	}
}

func TestProvision_DuplicateEmail(t *testing.T) {
	for _, role := range account.ProfileRoles {
		t.Run(string(role), func(t *testing.T) {
			f := setup(t)
			f.profiles.CreateProfile(t, account.Profile{
				Role:        role,
				AuthUserID:  "existing",
				FullName:    "Someone Else",
				Email:       "jane.doe@school.test",
				Department:  "Biology",
				TeacherCode: testCode(role),
				IsActive:    true,
			})

			_, err := f.prov.Provision(context.Background(), f.admin, studentRequest())

			perr := provisionErr(t, err)
			assert.Equal(t, account.KindDuplicateEmail, perr.Kind)
			assert.Equal(t, account.StateNoRemoteEffect, perr.State)
			assert.Equal(t, "jane.doe@school.test", perr.Email)
			assert.Zero(t, f.log.Count("storage."))
			assert.Zero(t, f.log.Count("auth."))
		})
	}
}

func TestProvision_ScenarioB_DuplicateTeacherCode(t *testing.T) {
	f := setup(t)
	f.profiles.CreateProfile(t, account.Profile{
		Role:        account.RoleTeacher,
		AuthUserID:  "existing",
		FullName:    "Ada Lovelace",
		Email:       "ada@school.test",
		Department:  "Mathematics",
		TeacherCode: testCode(account.RoleTeacher),
		IsActive:    true,
	})
	req := teacherRequest()
	req.Photo = pngPhoto(t, 10, 10)

	_, err := f.prov.Provision(context.Background(), f.admin, req)

	perr := provisionErr(t, err)
	assert.Equal(t, account.KindDuplicateTeacherCode, perr.Kind)
	assert.Equal(t, account.StateNoRemoteEffect, perr.State)
	assert.Zero(t, f.log.Count("storage."))
	assert.Zero(t, f.log.Count("auth."))
	assert.Empty(t, f.storage.Objects)
}

func TestProvision_LookupFailed(t *testing.T) {
	f := setup(t)
	f.profiles.LookupErr = errors.New("connection refused")

	_, err := f.prov.Provision(context.Background(), f.admin, studentRequest())

	perr := provisionErr(t, err)
	assert.Equal(t, account.KindLookupFailed, perr.Kind)
	assert.Zero(t, f.log.Count("auth."))
}

func TestProvision_UploadGating(t *testing.T) {
	t.Run("no photo skips the upload", func(t *testing.T) {
		f := setup(t)
		res, err := f.prov.Provision(context.Background(), f.admin, studentRequest())

		require.NoError(t, err)
		assert.Zero(t, f.log.Count("storage."))
		assert.False(t, res.Profile.PhotoURL.Valid)
		assert.Empty(t, res.PhotoURL)
	})

	t.Run("failed upload stops before identity creation", func(t *testing.T) {
		f := setup(t)
		f.storage.UploadErr = errors.New("bucket not found")
		req := studentRequest()
		req.Photo = pngPhoto(t, 20, 20)

		_, err := f.prov.Provision(context.Background(), f.admin, req)

		perr := provisionErr(t, err)
		assert.Equal(t, account.KindUploadFailed, perr.Kind)
		assert.Equal(t, account.StateNoRemoteEffect, perr.State)
		assert.Equal(t, 1, f.log.Count("storage.Upload"))
		assert.Zero(t, f.log.Count("auth."))
	})

	t.Run("missing public url is an upload failure", func(t *testing.T) {
		f := setup(t)
		f.storage.NoPublicURL = true
		req := studentRequest()
		req.Photo = pngPhoto(t, 20, 20)

		_, err := f.prov.Provision(context.Background(), f.admin, req)

		perr := provisionErr(t, err)
		assert.Equal(t, account.KindUploadFailed, perr.Kind)
		assert.Zero(t, f.log.Count("auth."))
	})

	t.Run("photo is stored as a normalized jpeg", func(t *testing.T) {
		f := setup(t)
		req := teacherRequest()
		req.Photo = pngPhoto(t, 640, 480)

		res, err := f.prov.Provision(context.Background(), f.admin, req)

		require.NoError(t, err)
		require.Len(t, f.storage.Objects, 1)
		for key, data := range f.storage.Objects {
			assert.Regexp(t, regexp.MustCompile(`^student-photos/teacher-[0-9a-f-]{36}\.jpg$`), key)
			assert.Equal(t, "image/jpeg", f.storage.Types[key])
			cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, "jpeg", format)
			assert.Equal(t, 400, cfg.Width)
			assert.Equal(t, 400, cfg.Height)
			assert.Equal(t, "http://storage.test/"+key, res.PhotoURL)
		}
		assert.Equal(t, res.PhotoURL, res.Profile.PhotoURL.String)
	})
}

func TestProvision_ScenarioA_Student(t *testing.T) {
	f := setup(t)
	req := studentRequest()
	req.EnrollmentYear = 0 // defaults to the current year
	req.Phone = ""

	res, err := f.prov.Provision(context.Background(), f.admin, req)

	require.NoError(t, err)
	assert.NotEmpty(t, res.AttemptID)
	assert.NotEmpty(t, res.IdentityID)

	profs, err := f.profiles.QueryProfiles(context.Background(), f.admin, account.QueryFilter{Role: account.RoleStudent})
	require.NoError(t, err)
	require.Len(t, profs, 1)
	prof := profs[0]
	assert.Equal(t, res.IdentityID, prof.AuthUserID)
	assert.Equal(t, "jane.doe@school.test", prof.Email)
	assert.Equal(t, "Jane Doe", prof.FullName)
	assert.True(t, prof.EnrollmentYear.Valid)
	assert.Equal(t, now.Year(), prof.EnrollmentYear.Int)
	assert.False(t, prof.PhotoURL.Valid)
	assert.False(t, prof.Phone.Valid)
	assert.False(t, prof.TeacherCode.Valid)
	assert.True(t, prof.IsActive)
	assert.Equal(t, f.admin.UserID, prof.CreatedBy)

	idts := f.auth.Identities("jane.doe@school.test")
	require.Len(t, idts, 1)
	assert.Equal(t, account.Metadata{FullName: "Jane Doe", Role: account.RoleStudent, Department: "Computer Science"}, idts[0].Metadata)

	// the profile is inserted with the restored admin session
	require.Len(t, f.profiles.InsertedBy, 1)
	assert.Equal(t, adminEmail, f.profiles.InsertedBy[0].Email)
	assert.Equal(t, adminEmail, res.AdminSession.Email)

	assert.Equal(t, []string{
		"profiles.EmailTaken student jane.doe@school.test",
		"profiles.EmailTaken teacher jane.doe@school.test",
		"auth.CreateIdentity jane.doe@school.test",
		"auth.Authenticate admin@school.test",
		"profiles.InsertProfile student jane.doe@school.test",
		"auth.CurrentSession",
	}, f.log.Calls())
	assert.Equal(t, []account.Kind{""}, f.recorder.outcomes)
	assert.Empty(t, f.mailer.Sent("orphaned_identity"))
}

func TestProvision_Teacher(t *testing.T) {
	f := setup(t)
	f.conf.Provisioning.SendWelcomeEmail = true

	res, err := f.prov.Provision(context.Background(), f.admin, teacherRequest())

	require.NoError(t, err)
	assert.Equal(t, account.RoleTeacher, res.Profile.Role)
	assert.Equal(t, "MATH_01", res.Profile.TeacherCode.String)
	assert.False(t, res.Profile.EnrollmentYear.Valid)
	assert.Equal(t, 1, f.log.Count("profiles.TeacherCodeTaken MATH_01"))

	welcome := f.mailer.Sent("account_welcome")
	require.Len(t, welcome, 1)
	assert.Equal(t, "john.smith@school.test", welcome[0].To[0].Address)
}

func TestProvision_TeacherCodeFormats(t *testing.T) {
	for _, code := range []string{"T-001", "MATH.01", "MATH 01", strings.Repeat("C", 50)} {
		t.Run(code, func(t *testing.T) {
			f := setup(t)
			req := teacherRequest()
			req.TeacherCode = code

			res, err := f.prov.Provision(context.Background(), f.admin, req)
			require.NoError(t, err)
			assert.Equal(t, code, res.Profile.TeacherCode.String)
		})
	}
}

func TestProvision_IdentityCreationFailed(t *testing.T) {
	f := setup(t)
	f.auth.CreateErr = errors.New("user already registered")

	_, err := f.prov.Provision(context.Background(), f.admin, studentRequest())

	perr := provisionErr(t, err)
	assert.Equal(t, account.KindIdentityCreationFailed, perr.Kind)
	assert.Equal(t, account.StateNoRemoteEffect, perr.State)
	assert.False(t, perr.Orphaned())
	assert.Zero(t, f.log.Count("auth.Authenticate"), "the session was never switched")
	assert.Zero(t, f.log.Count("profiles.InsertProfile"))
}

func TestProvision_ScenarioC_SessionRestoreFailed(t *testing.T) {
	f := setup(t)
	req := studentRequest()
	req.Photo = pngPhoto(t, 50, 50)
	req.AdminPassword = "wrong-password"

	_, err := f.prov.Provision(context.Background(), f.admin, req)

	perr := provisionErr(t, err)
	assert.Equal(t, account.KindSessionRestoreFailed, perr.Kind)
	assert.Equal(t, account.StateSessionNotRestored, perr.State)
	assert.True(t, perr.Severe())
	assert.True(t, perr.Orphaned())
	assert.Equal(t, "jane.doe@school.test", perr.Email)
	assert.NotEmpty(t, perr.IdentityID)
	assert.NotEmpty(t, perr.PhotoURL)
	assert.Nil(t, perr.Session)
	assert.Contains(t, perr.Error(), "orphaned identity")
	assert.Contains(t, perr.Error(), perr.IdentityID)
	assert.True(t, strings.HasPrefix(perr.Message(), "SEVERE"))

	assert.Len(t, f.auth.Identities("jane.doe@school.test"), 1)
	assert.Zero(t, f.log.Count("profiles.InsertProfile"))
	assert.Contains(t, f.logger.Levels(), "critical")

	ops := f.mailer.Sent("orphaned_identity")
	require.Len(t, ops, 1)
	assert.Equal(t, f.conf.Provisioning.OpsEmail, ops[0].To[0].Address)
}

func TestProvision_IdentityIDMissing(t *testing.T) {
	t.Run("session restored", func(t *testing.T) {
		f := setup(t)
		f.auth.OmitIdentityID = true

		_, err := f.prov.Provision(context.Background(), f.admin, studentRequest())

		perr := provisionErr(t, err)
		assert.Equal(t, account.KindIdentityIDMissing, perr.Kind)
		assert.Equal(t, account.StateIdentityOrphaned, perr.State)
		assert.False(t, perr.Severe())
		require.NotNil(t, perr.Session)
		assert.Equal(t, adminEmail, perr.Session.Email)
		assert.Contains(t, perr.Error(), "manual cleanup")
		assert.Equal(t, 1, f.log.Count("auth.Authenticate"))
		assert.Zero(t, f.log.Count("profiles.InsertProfile"))
		assert.Contains(t, f.logger.Levels(), "warn")
		assert.Len(t, f.mailer.Sent("orphaned_identity"), 1)
	})

	t.Run("session not restored", func(t *testing.T) {
		f := setup(t)
		f.auth.OmitIdentityID = true
		req := studentRequest()
		req.AdminPassword = "wrong-password"

		_, err := f.prov.Provision(context.Background(), f.admin, req)

		perr := provisionErr(t, err)
		assert.Equal(t, account.KindSessionRestoreFailed, perr.Kind)
		assert.True(t, perr.Severe())
		assert.Empty(t, perr.IdentityID)
	})
}

func TestProvision_ProfilePersistFailed(t *testing.T) {
	f := setup(t)
	f.profiles.InsertErr = account.ErrProfileExists

	_, err := f.prov.Provision(context.Background(), f.admin, studentRequest())

	perr := provisionErr(t, err)
	assert.Equal(t, account.KindProfilePersistFailed, perr.Kind)
	assert.Equal(t, account.StateProfileMissing, perr.State)
	assert.True(t, errors.Is(err, account.ErrProfileExists))
	assert.NotEmpty(t, perr.IdentityID)
	assert.Contains(t, perr.Error(), "orphaned identity")
	require.NotNil(t, perr.Session)
	assert.Contains(t, f.logger.Levels(), "error")
	assert.Len(t, f.mailer.Sent("orphaned_identity"), 1)
}

func TestProvision_RestoreAlwaysFollowsIdentityCreation(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(f *fixture)
	}{
		{name: "success", prepare: func(*fixture) {}},
		{name: "identity id missing", prepare: func(f *fixture) { f.auth.OmitIdentityID = true }},
		{name: "profile persist failed", prepare: func(f *fixture) { f.profiles.InsertErr = errors.New("permission denied") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			tt.prepare(f)

			_, _ = f.prov.Provision(context.Background(), f.admin, studentRequest())

			calls := f.log.Calls()
			created, restored := -1, -1
			for i, c := range calls {
				switch {
				case strings.HasPrefix(c, "auth.CreateIdentity"):
					created = i
				case strings.HasPrefix(c, "auth.Authenticate "+adminEmail):
					restored = i
				}
			}
			require.NotEqual(t, -1, created)
			assert.Greater(t, restored, created, "calls: %v", calls)
		})
	}
}

func TestProvision_NotIdempotent(t *testing.T) {
	f := setup(t)
	f.profiles.InsertErr = errors.New("insert failed")

	_, err := f.prov.Provision(context.Background(), f.admin, studentRequest())
	perr := provisionErr(t, err)
	require.Equal(t, account.KindProfilePersistFailed, perr.Kind)

	// the orphaned identity is invisible to the duplicate check: the retry creates a second one
	f.profiles.InsertErr = nil
	res, err := f.prov.Provision(context.Background(), f.admin, studentRequest())
	require.NoError(t, err)

	idts := f.auth.Identities("jane.doe@school.test")
	assert.Len(t, idts, 2)
	assert.NotEqual(t, perr.IdentityID, res.IdentityID)
}

type cancelingAuth struct {
	*testutil.FakeAuth
	cancel     context.CancelFunc
	restoreErr error
}

func (ca *cancelingAuth) CreateIdentity(ctx context.Context, email, password string, meta account.Metadata) (account.SignUp, error) {
	ca.cancel() // the caller goes away right after the identity is created
	return ca.FakeAuth.CreateIdentity(ctx, email, password, meta)
}

func (ca *cancelingAuth) Authenticate(ctx context.Context, email, password string) (account.Session, error) {
	ca.restoreErr = ctx.Err()
	return ca.FakeAuth.Authenticate(ctx, email, password)
}

func TestProvision_CancellationAfterIdentityCreation(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	auth := &cancelingAuth{FakeAuth: f.auth, cancel: cancel}

	validate, translator := testutil.NewValidator()
	prov, err := account.NewProvisioner(account.ProvisionerDeps{
		Auth:       auth,
		Storage:    f.storage,
		Profiles:   f.profiles,
		Logger:     f.logger,
		Validate:   validate,
		Translator: translator,
		Conf:       f.conf,
	})
	require.NoError(t, err)

	res, err := prov.Provision(ctx, f.admin, studentRequest())

	require.NoError(t, err)
	assert.NoError(t, auth.restoreErr)
	assert.NotEmpty(t, res.IdentityID)
	assert.Error(t, ctx.Err())
}

type heldLocker struct{}

func (heldLocker) Acquire(context.Context, string) (func(context.Context) error, error) {
	return nil, account.ErrLockHeld
}

func TestProvision_Lock(t *testing.T) {
	t.Run("held", func(t *testing.T) {
		f := setup(t, heldLocker{})
		_, err := f.prov.Provision(context.Background(), f.admin, studentRequest())

		perr := provisionErr(t, err)
		assert.Equal(t, account.KindInProgress, perr.Kind)
		assert.Zero(t, f.log.Len())
	})

	t.Run("released after the attempt", func(t *testing.T) {
		locker := account.NewLocalLocker()
		f := setup(t, locker)
		f.profiles.InsertErr = errors.New("insert failed")

		_, err := f.prov.Provision(context.Background(), f.admin, studentRequest())
		require.Error(t, err)

		f.profiles.InsertErr = nil
		_, err = f.prov.Provision(context.Background(), f.admin, studentRequest())
		assert.NoError(t, err)
	})
}

func TestProvision_Warnings(t *testing.T) {
	f := setup(t)
	req := studentRequest()
	req.TempPassword = "janedoe"

	res, err := f.prov.Provision(context.Background(), f.admin, req)

	require.NoError(t, err)
	assert.Len(t, res.Warnings, 2)
}

func TestProvision_RefreshFailureWarns(t *testing.T) {
	f := setup(t)
	f.auth.CurrentErr = errors.New("jwt expired")

	res, err := f.prov.Provision(context.Background(), f.admin, studentRequest())

	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "could not be re-validated")
	assert.Contains(t, f.logger.Levels(), "warn")
}

func TestNewProvisioner_MissingDeps(t *testing.T) {
	_, err := account.NewProvisioner(account.ProvisionerDeps{})
	assert.Error(t, err)
}

func testCode(role account.Role) null.String {
	if role == account.RoleTeacher {
		return null.StringFrom("MATH_01")
	}
	return null.String{}
}
