package account

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kat-co/vala"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/presence/core"
)

// ProvisionerDeps are the collaborators of a Provisioner.
// Locker, Mailer and Recorder are optional.
type ProvisionerDeps struct {
	Auth       AuthService
	Storage    ObjectStorage
	Profiles   ProfileStore
	Locker     Locker
	Mailer     core.EmailService
	Recorder   Recorder
	Logger     core.Logger
	Validate   *validator.Validate
	Translator ut.Translator
	Conf       *core.Config
}

// Provisioner runs the account provisioning workflow: an admin creates a student or teacher
// identity and its profile.
//
// The workflow is not atomic and not idempotent. The identity cannot be deleted once created:
// every failure after its creation leaves an orphaned identity that is reported, never compensated.
type Provisioner struct {
	auth       AuthService
	storage    ObjectStorage
	profiles   ProfileStore
	locker     Locker
	mailer     core.EmailService
	recorder   Recorder
	logger     core.Logger
	validate   *validator.Validate
	translator ut.Translator
	conf       *core.Config
}

func NewProvisioner(deps ProvisionerDeps) (*Provisioner, error) {
	err := vala.BeginValidation().Validate(
		vala.IsNotNil(deps.Auth, "Auth"),
		vala.IsNotNil(deps.Storage, "Storage"),
		vala.IsNotNil(deps.Profiles, "Profiles"),
		vala.IsNotNil(deps.Logger, "Logger"),
		vala.IsNotNil(deps.Validate, "Validate"),
		vala.IsNotNil(deps.Translator, "Translator"),
		vala.IsNotNil(deps.Conf, "Conf"),
	).Check()
	if err != nil {
		return nil, errors.Wrap(err, "creating provisioner")
	}

	p := &Provisioner{
		auth:       deps.Auth,
		storage:    deps.Storage,
		profiles:   deps.Profiles,
		locker:     deps.Locker,
		mailer:     deps.Mailer,
		recorder:   deps.Recorder,
		logger:     deps.Logger,
		validate:   deps.Validate,
		translator: deps.Translator,
		conf:       deps.Conf,
	}
	if p.recorder == nil {
		p.recorder = nopRecorder{}
	}
	return p, nil
}

// attempt carries the state of one provisioning attempt from step to step.
type attempt struct {
	id         string
	role       Role
	fields     AccountFields
	year       int
	code       string
	photo      []byte
	adminEmail string
	acting     *Session
	warnings   []string

	photoURL   string
	identityID string
	// current is the session the auth service considers signed in
	current *Session
}

func (a *attempt) fail(kind Kind, err error) *Error {
	e := newError(kind, err)
	e.AttemptID = a.id
	e.Email = a.fields.Email
	e.IdentityID = a.identityID
	e.PhotoURL = a.photoURL
	return e
}

// Provision creates the identity and the profile requested by req, acting as the admin of the acting session.
// Any failure is an *Error telling which remote effects happened.
func (p *Provisioner) Provision(ctx context.Context, acting *Session, req Request) (Result, error) {
	start := time.Now()
	res, err := p.provision(ctx, acting, req)

	var kind Kind
	if err != nil {
		kind = err.kind()
	}
	p.recorder.ObserveOutcome(req.Role(), kind, time.Since(start))
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func (e *Error) kind() Kind {
	if e == nil {
		return ""
	}
	return e.Kind
}

func (p *Provisioner) provision(ctx context.Context, acting *Session, req Request) (Result, *Error) {
	a := &attempt{id: ulid.Make().String(), role: req.Role(), acting: acting}

	// Preconditions: no remote call is made before every check passed.
	if err := p.check(a, req); err != nil {
		return Result{}, err
	}

	// Step 1: resolve the acting session
	if acting == nil {
		return Result{}, a.fail(KindNotSignedIn, nil)
	}
	a.adminEmail = core.CleanString(acting.Email, true /* lower */)
	if a.adminEmail == "" {
		return Result{}, a.fail(KindSessionEmailMissing, nil)
	}
	if !acting.IsAdmin() {
		return Result{}, a.fail(KindNotAdmin, nil)
	}
	a.current = acting

	// Step 2: serialize attempts for the same email
	if p.locker != nil {
		release, err := p.locker.Acquire(ctx, lockKey(a.fields.Email))
		if err != nil {
			if errors.Is(err, ErrLockHeld) {
				return Result{}, a.fail(KindInProgress, nil)
			}
			return Result{}, a.fail(KindLookupFailed, errors.Wrap(err, "acquiring lock"))
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				p.logger.Warn(fmt.Sprintf("releasing provisioning lock of %s: %v", a.fields.Email, err), err)
			}
		}()
	}

	// Step 3: duplicate check
	if err := p.checkDuplicates(ctx, a); err != nil {
		return Result{}, err
	}

	// Step 4: photo upload
	if err := p.uploadPhoto(ctx, a); err != nil {
		return Result{}, err
	}

	// From here on the attempt must run to completion: an interruption between identity creation
	// and session restoration would leave the admin signed in as the new user.
	ctx = context.WithoutCancel(ctx)

	// Step 5: identity creation
	var signUp SignUp
	err := p.step(ctx, StepCreateIdentity, func(ctx context.Context) (err error) {
		signUp, err = p.auth.CreateIdentity(ctx, a.fields.Email, a.fields.TempPassword, Metadata{
			FullName:   a.fields.Name,
			Role:       a.role,
			Department: a.fields.Department,
		})
		return err
	})
	if err != nil {
		return Result{}, a.fail(KindIdentityCreationFailed, err)
	}
	a.identityID = strings.TrimSpace(signUp.IdentityID)
	if signUp.Session != nil {
		a.current = signUp.Session
	}

	// Step 6: session restoration, attempted whatever the identity id outcome
	var adminSess Session
	err = p.step(ctx, StepRestoreSession, func(ctx context.Context) (err error) {
		adminSess, err = p.auth.Authenticate(ctx, a.adminEmail, a.fields.AdminPassword)
		return err
	})
	if err != nil {
		return Result{}, p.report(a, a.fail(KindSessionRestoreFailed, err))
	}
	if adminSess.Email == "" {
		adminSess.Email = a.adminEmail
	}
	a.current = &adminSess

	if a.identityID == "" {
		perr := a.fail(KindIdentityIDMissing, nil)
		perr.Session = &adminSess
		return Result{}, p.report(a, perr)
	}

	// Step 7: profile persistence, authorized as the restored admin
	profile := a.profile(adminSess)
	err = p.step(ctx, StepInsertProfile, func(ctx context.Context) error {
		return p.profiles.InsertProfile(ctx, a.current, profile)
	})
	if err != nil {
		perr := a.fail(KindProfilePersistFailed, err)
		perr.Session = &adminSess
		return Result{}, p.report(a, perr)
	}

	// Step 8: success
	adminSess = p.refreshSession(ctx, a, adminSess)
	p.sendWelcome(a)
	p.logger.Info(fmt.Sprintf("provisioned %s %s (identity %s, attempt %s)", a.role, a.fields.Email, a.identityID, a.id))

	return Result{
		AttemptID:    a.id,
		IdentityID:   a.identityID,
		Profile:      profile,
		PhotoURL:     a.photoURL,
		AdminSession: adminSess,
		Warnings:     a.warnings,
	}, nil
}

// step runs fn under the per step timeout. A timeout is the step's failure.
func (p *Provisioner) step(ctx context.Context, step Step, fn func(ctx context.Context) error) error {
	if timeout := p.conf.Provisioning.StepTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(ctx)
	p.recorder.ObserveStep(step, time.Since(start), err)
	return err
}

// check cleans req into the attempt and validates it, collecting every violation.
func (p *Provisioner) check(a *attempt, req Request) *Error {
	var flds []core.FieldError

	switch r := req.(type) {
	case StudentRequest:
		r.clean()
		if err := p.validate.Struct(r); err != nil {
			flds = p.fieldErrors(err)
		}
		a.fields, a.year = r.AccountFields, r.EnrollmentYear
		if a.year == 0 {
			a.year = NowFunc().Year()
		}
	case TeacherRequest:
		r.clean()
		r.TeacherCode = core.CleanString(r.TeacherCode)
		if err := p.validate.Struct(r); err != nil {
			flds = p.fieldErrors(err)
		}
		a.fields, a.code = r.AccountFields, r.TeacherCode
	default:
		return a.fail(KindValidationFailed, errors.Errorf("unsupported account request %T", req))
	}

	if a.fields.Photo != nil {
		photo, err := NormalizePhoto(a.fields.Photo.Data)
		if err != nil {
			flds = append(flds, core.FieldError{Field: photoField, Error: photoText})
		}
		a.photo = photo
	}

	if len(flds) > 0 {
		perr := a.fail(KindValidationFailed, nil)
		perr.Fields = flds
		return perr
	}

	a.warnings = passwordWarnings(a.fields.TempPassword, a.fields.Name, a.fields.Email)
	return nil
}

func (p *Provisioner) fieldErrors(err error) []core.FieldError {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return core.TranslateValidationErrors(verrs, p.translator).Fields
	}
	return []core.FieldError{{Field: "request", Error: err.Error()}}
}

func (p *Provisioner) checkDuplicates(ctx context.Context, a *attempt) *Error {
	for _, role := range ProfileRoles {
		var taken bool
		err := p.step(ctx, StepDuplicateCheck, func(ctx context.Context) (err error) {
			taken, err = p.profiles.EmailTaken(ctx, a.current, role, a.fields.Email)
			return err
		})
		if err != nil {
			return a.fail(KindLookupFailed, errors.Wrapf(err, "checking %s", role.Table()))
		}
		if taken {
			return a.fail(KindDuplicateEmail, nil)
		}
	}

	if a.role == RoleTeacher {
		var taken bool
		err := p.step(ctx, StepDuplicateCheck, func(ctx context.Context) (err error) {
			taken, err = p.profiles.TeacherCodeTaken(ctx, a.current, a.code)
			return err
		})
		if err != nil {
			return a.fail(KindLookupFailed, errors.Wrap(err, "checking teacher code"))
		}
		if taken {
			return a.fail(KindDuplicateTeacherCode, nil)
		}
	}
	return nil
}

func (p *Provisioner) uploadPhoto(ctx context.Context, a *attempt) *Error {
	if a.photo == nil {
		return nil
	}

	bucket := p.conf.Supabase.PhotoBucket
	key := fmt.Sprintf("%s-%s.jpg", a.role, uuid.NewString())
	err := p.step(ctx, StepUpload, func(ctx context.Context) error {
		return p.storage.Upload(ctx, a.current, bucket, key, a.photo, photoContentType)
	})
	if err != nil {
		return a.fail(KindUploadFailed, err)
	}

	url, ok := p.storage.PublicURL(bucket, key)
	if !ok || url == "" {
		return a.fail(KindUploadFailed, errors.Errorf("no public url for %s/%s", bucket, key))
	}
	a.photoURL = url
	return nil
}

func (a *attempt) profile(admin Session) Profile {
	prof := Profile{
		Role:       a.role,
		AuthUserID: a.identityID,
		FullName:   a.fields.Name,
		Email:      a.fields.Email,
		Phone:      null.NewString(a.fields.Phone, a.fields.Phone != ""),
		Department: a.fields.Department,
		PhotoURL:   null.NewString(a.photoURL, a.photoURL != ""),
		IsActive:   true,
		CreatedBy:  admin.UserID,
		CreatedAt:  time.Now().UTC(),
	}
	switch a.role {
	case RoleStudent:
		prof.EnrollmentYear = null.IntFrom(a.year)
	case RoleTeacher:
		prof.TeacherCode = null.StringFrom(a.code)
	}
	return prof
}

// refreshSession re-validates the restored admin session. A failure only warns.
func (p *Provisioner) refreshSession(ctx context.Context, a *attempt, admin Session) Session {
	var cur Session
	err := p.step(ctx, StepRefreshSession, func(ctx context.Context) (err error) {
		cur, err = p.auth.CurrentSession(ctx, admin.AccessToken)
		return err
	})
	if err != nil {
		msg := "the admin session was restored but could not be re-validated: sign in again if requests fail"
		a.warnings = append(a.warnings, msg)
		p.logger.Warn(fmt.Sprintf("attempt %s: %s", a.id, msg), err)
		return admin
	}
	if !strings.EqualFold(cur.Email, a.adminEmail) {
		msg := fmt.Sprintf("the current session belongs to %s instead of %s: sign in again", cur.Email, a.adminEmail)
		a.warnings = append(a.warnings, msg)
		p.logger.Warn(fmt.Sprintf("attempt %s: %s", a.id, msg))
		return admin
	}
	if admin.UserID == "" {
		admin.UserID = cur.UserID
	}
	if admin.Role == "" {
		admin.Role = cur.Role
	}
	return admin
}

func (p *Provisioner) sendWelcome(a *attempt) {
	if p.mailer == nil || !p.conf.Provisioning.SendWelcomeEmail {
		return
	}
	p.mailer.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: a.fields.Name, Address: a.fields.Email}},
		Subject:      "Your account is ready",
		TemplateName: "account_welcome",
		TemplateData: map[string]interface{}{
			"Name":       a.fields.Name,
			"Email":      a.fields.Email,
			"Role":       string(a.role),
			"Department": a.fields.Department,
		},
	})
}

// report logs a failure that left an orphaned identity and notifies the operations team.
func (p *Provisioner) report(a *attempt, perr *Error) *Error {
	msg := fmt.Sprintf("attempt %s: %s", a.id, perr.Error())
	details := map[string]interface{}{
		"attempt_id":  a.id,
		"kind":        string(perr.Kind),
		"state":       string(perr.State),
		"email":       perr.Email,
		"identity_id": perr.IdentityID,
		"photo_url":   perr.PhotoURL,
		"admin_email": a.adminEmail,
	}
	switch {
	case perr.Severe():
		p.logger.Critical(msg, perr, details, *a.acting)
	case perr.Kind == KindIdentityIDMissing:
		p.logger.Warn(msg, details, *a.acting)
	default:
		p.logger.Error(msg, perr, details, *a.acting)
	}

	opsEmail := p.conf.Provisioning.OpsEmail
	if p.mailer == nil || opsEmail == "" {
		return perr
	}
	p.mailer.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Address: opsEmail}},
		Subject:      fmt.Sprintf("Orphaned identity: %s (%s)", perr.Email, perr.Kind),
		TemplateName: "orphaned_identity",
		TemplateData: map[string]interface{}{
			"AttemptID":  a.id,
			"Kind":       string(perr.Kind),
			"State":      string(perr.State),
			"Email":      perr.Email,
			"IdentityID": perr.IdentityID,
			"PhotoURL":   perr.PhotoURL,
			"AdminEmail": a.adminEmail,
			"Message":    perr.Message(),
		},
	})
	return perr
}
