package account

import (
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/presence/core"
)

// Role of an account. Each profile role is stored in its own table.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// ProfileRoles are the roles that own a profile table.
var ProfileRoles = []Role{RoleStudent, RoleTeacher}

// Table returns the profile table of the role, or "" for roles without profiles.
func (r Role) Table() string {
	switch r {
	case RoleStudent:
		return "students"
	case RoleTeacher:
		return "teachers"
	}
	return ""
}

func (r Role) IsValid() bool { return r.Table() != "" }

func (r Role) String() string { return string(r) }

// ParseRole accepts "student(s)" and "teacher(s)", case-insensitively.
func ParseRole(s string) (Role, bool) {
	switch core.CleanString(s, true /* lower */) {
	case "student", "students":
		return RoleStudent, true
	case "teacher", "teachers":
		return RoleTeacher, true
	}
	return "", false
}

// Photo is a picture supplied with a new account.
type Photo struct {
	Data        []byte
	ContentType string // optional, as declared by the client
}

// AccountFields are shared by every NewAccountRequest variant.
type AccountFields struct {
	Name          string `json:"name" validate:"required,max=150"`
	Email         string `json:"email" validate:"required,max=255,emailfmt"`
	Department    string `json:"department" validate:"required,max=150"`
	Phone         string `json:"phone" validate:"omitempty,max=16,phone"`
	Photo         *Photo `json:"-" validate:"-"`
	TempPassword  string `json:"temp_password" validate:"required,pwdminlen"`
	AdminPassword string `json:"admin_password" validate:"required"`
}

func (af *AccountFields) clean() {
	af.Name = core.CleanString(af.Name)
	af.Email = core.CleanString(af.Email, true /* lower */)
	af.Department = core.CleanString(af.Department)
	af.Phone = core.CleanString(af.Phone)
	if af.Photo != nil && len(af.Photo.Data) == 0 {
		af.Photo = nil
	}
}

// Request is a NewAccountRequest: either a StudentRequest or a TeacherRequest.
type Request interface {
	Role() Role
	Fields() AccountFields
	request()
}

// StudentRequest asks for a student account.
type StudentRequest struct {
	AccountFields
	// EnrollmentYear defaults to the current year when zero.
	EnrollmentYear int `json:"enrollment_year" validate:"omitempty,enrollyear"`
}

func (StudentRequest) Role() Role              { return RoleStudent }
func (r StudentRequest) Fields() AccountFields { return r.AccountFields }
func (StudentRequest) request()                {}

// TeacherRequest asks for a teacher account.
type TeacherRequest struct {
	AccountFields
	TeacherCode string `json:"teacher_code" validate:"required,max=50"`
}

func (TeacherRequest) Role() Role              { return RoleTeacher }
func (r TeacherRequest) Fields() AccountFields { return r.AccountFields }
func (TeacherRequest) request()                {}

// Session is an authenticated session of the auth service.
type Session struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	Role         Role      `json:"role,omitempty"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

func (s Session) IsAdmin() bool { return s.Role == RoleAdmin }

// Metadata is attached to a new identity.
type Metadata struct {
	FullName   string `json:"full_name"`
	Role       Role   `json:"role"`
	Department string `json:"department"`
}

// SignUp is the outcome of an identity creation.
// Session is the new identity's session: creating an identity signs it in.
type SignUp struct {
	IdentityID string
	Session    *Session
}

// Profile is the application record of a student or teacher, keyed by its identity.
type Profile struct {
	Role           Role        `json:"role" db:"-"`
	AuthUserID     string      `json:"auth_user_id" db:"auth_user_id"`
	FullName       string      `json:"full_name" db:"full_name"`
	Email          string      `json:"email" db:"email"`
	Phone          null.String `json:"phone" db:"phone"`
	Department     string      `json:"department" db:"department"`
	PhotoURL       null.String `json:"photo_url" db:"photo_url"`
	IsActive       bool        `json:"is_active" db:"is_active"`
	EnrollmentYear null.Int    `json:"enrollment_year,omitempty" db:"enrollment_year"`
	TeacherCode    null.String `json:"teacher_code,omitempty" db:"teacher_code"`
	CreatedBy      string      `json:"created_by" db:"created_by"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"` // UTC
}

// QueryFilter applies AND on its set fields.
// Search does a case-insensitive match on one of Profile.FullName, Profile.Email or Profile.TeacherCode.
type QueryFilter struct {
	Role     Role            `query:"role"`
	Search   string          `query:"search"`
	IsActive *bool           `query:"is_active"`
	Ordering core.DBOrdering `query:"-"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	if qf.Ordering.Field == "" {
		qf.Ordering = core.DBOrdering{Field: "created_at"}
	}
}

// Roles returns the roles to query.
func (qf QueryFilter) Roles() []Role {
	if qf.Role.IsValid() {
		return []Role{qf.Role}
	}
	return ProfileRoles
}

// Result of a successful provisioning.
type Result struct {
	AttemptID  string  `json:"attempt_id"`
	IdentityID string  `json:"identity_id"`
	Profile    Profile `json:"profile"`
	PhotoURL   string  `json:"photo_url,omitempty"`
	// AdminSession is the restored session of the acting admin.
	AdminSession Session  `json:"admin_session"`
	Warnings     []string `json:"warnings,omitempty"`
}
