package account

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/presence/core"
)

var (
	// errors
	ErrProfileNotFound = errors.New("profile not found")
	ErrProfileExists   = errors.New("a profile with this email or teacher code already exists")
	ErrLockHeld        = errors.New("lock already held")
)

// Kind identifies why a provisioning attempt stopped.
type Kind string

const (
	KindValidationFailed       Kind = "ValidationFailed"
	KindNotSignedIn            Kind = "NotSignedIn"
	KindSessionEmailMissing    Kind = "SessionEmailMissing"
	KindNotAdmin               Kind = "NotAdmin"
	KindInProgress             Kind = "InProgress"
	KindLookupFailed           Kind = "LookupFailed"
	KindDuplicateEmail         Kind = "DuplicateEmail"
	KindDuplicateTeacherCode   Kind = "DuplicateTeacherCode"
	KindUploadFailed           Kind = "UploadFailed"
	KindIdentityCreationFailed Kind = "IdentityCreationFailed"
	KindIdentityIDMissing      Kind = "IdentityIdMissing"
	KindSessionRestoreFailed   Kind = "SessionRestoreFailed"
	KindProfilePersistFailed   Kind = "ProfilePersistFailed"
)

// State is what remains on the remote services after a failed attempt.
type State string

const (
	StateNoRemoteEffect     State = "no_remote_effect"
	StateIdentityOrphaned   State = "identity_orphaned"
	StateSessionNotRestored State = "session_not_restored"
	StateProfileMissing     State = "profile_missing"
)

func (k Kind) state() State {
	switch k {
	case KindIdentityIDMissing:
		return StateIdentityOrphaned
	case KindSessionRestoreFailed:
		return StateSessionNotRestored
	case KindProfilePersistFailed:
		return StateProfileMissing
	}
	return StateNoRemoteEffect
}

// Error is returned by every failed operation of this package.
type Error struct {
	Kind       Kind
	State      State
	AttemptID  string
	Email      string
	IdentityID string
	PhotoURL   string
	Fields     []core.FieldError
	// Session is the restored admin session, when the failure happened after a successful restore.
	Session *Session
	Err     error
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, State: kind.state(), Err: err}
}

// Severe reports whether the acting admin is left signed in as someone else.
func (e *Error) Severe() bool { return e.State == StateSessionNotRestored }

// Orphaned reports whether an identity may exist without a profile.
func (e *Error) Orphaned() bool { return e.State != StateNoRemoteEffect }

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Error() string {
	msg := e.Message()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Message is the actionable, user facing description of the failure.
func (e *Error) Message() string {
	identity := "an identity"
	if e.IdentityID != "" {
		identity = "identity " + e.IdentityID
	}

	switch e.Kind {
	case KindValidationFailed:
		msgs := make([]string, 0, len(e.Fields))
		for _, fe := range e.Fields {
			msgs = append(msgs, fe.Field+": "+fe.Error)
		}
		return "invalid account request (" + strings.Join(msgs, "; ") + ")"
	case KindNotSignedIn:
		return "no admin session: sign in again"
	case KindSessionEmailMissing:
		return "the admin session has no email: sign in again"
	case KindNotAdmin:
		return "only admins can manage accounts"
	case KindInProgress:
		return fmt.Sprintf("an account for %s is already being created", e.Email)
	case KindLookupFailed:
		return fmt.Sprintf("could not check for existing accounts with email %s", e.Email)
	case KindDuplicateEmail:
		return fmt.Sprintf("a profile with email %s already exists", e.Email)
	case KindDuplicateTeacherCode:
		return "this teacher code is already used by another teacher"
	case KindUploadFailed:
		return "the photo could not be uploaded"
	case KindIdentityCreationFailed:
		return fmt.Sprintf("the identity for %s could not be created", e.Email)
	case KindIdentityIDMissing:
		return fmt.Sprintf("an identity for %s was created but its id could not be read: "+
			"a dangling identity without profile may exist and needs manual cleanup", e.Email)
	case KindSessionRestoreFailed:
		return fmt.Sprintf("SEVERE: the admin session could not be restored and the current session belongs to %s. "+
			"%s was created for %s without a profile (orphaned identity). Sign out, sign in again and clean it up manually",
			e.Email, identity, e.Email)
	case KindProfilePersistFailed:
		return fmt.Sprintf("%s was created for %s but its profile could not be saved (orphaned identity): "+
			"create the profile manually", identity, e.Email)
	}
	return string(e.Kind)
}

// AsError returns the *Error found in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var perr *Error
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}
