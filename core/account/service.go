package account

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/presence/core"
)

var orderingFields = map[string]bool{"created_at": true, "full_name": true, "email": true}

// Service administers existing profiles.
type Service struct {
	profiles ProfileStore
}

func NewService(profiles ProfileStore) *Service {
	return &Service{profiles: profiles}
}

func requireAdmin(sess *Session) error {
	if sess == nil {
		return newError(KindNotSignedIn, nil)
	}
	if !sess.IsAdmin() {
		return newError(KindNotAdmin, nil)
	}
	return nil
}

// Query lists the profiles matching filter, students first when no role is given.
func (svc *Service) Query(ctx context.Context, sess *Session, filter QueryFilter) ([]Profile, error) {
	if err := requireAdmin(sess); err != nil {
		return nil, err
	}
	if filter.Role != "" && !filter.Role.IsValid() {
		return nil, core.NewValidationError(nil, core.FieldError{Field: "role", Error: "role must be student or teacher"})
	}
	filter.Clean()
	if !orderingFields[filter.Ordering.Field] {
		return nil, core.NewValidationError(nil, core.FieldError{Field: "ordering", Error: "ordering must be one of created_at, full_name, email"})
	}

	profs, err := svc.profiles.QueryProfiles(ctx, sess, filter)
	if err != nil {
		return nil, errors.Wrap(err, "querying profiles")
	}
	return profs, nil
}

// SetActive toggles the active flag of the profile of role with email.
func (svc *Service) SetActive(ctx context.Context, sess *Session, role Role, email string, active bool) (Profile, error) {
	if err := requireAdmin(sess); err != nil {
		return Profile{}, err
	}

	var flds []core.FieldError
	if !role.IsValid() {
		flds = append(flds, core.FieldError{Field: "role", Error: "role must be student or teacher"})
	}
	email = core.CleanString(email, true /* lower */)
	if !emailFmtRegex.MatchString(email) {
		flds = append(flds, core.FieldError{Field: "email", Error: emailFmtText})
	}
	if len(flds) > 0 {
		return Profile{}, core.NewValidationError(nil, flds...)
	}

	prof, err := svc.profiles.SetProfileActive(ctx, sess, role, email, active)
	if err != nil {
		return Profile{}, errors.Wrap(err, "updating profile")
	}
	return prof, nil
}
