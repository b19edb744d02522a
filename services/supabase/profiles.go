package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"

	"github.com/trezcool/presence/core/account"
)

// postgres unique_violation
const uniqueViolation = "23505"

// ProfileStore is the PostgREST backed account.ProfileStore.
// Requests are authorized with the given session, row level security applies.
type ProfileStore struct {
	client *Client
}

var _ account.ProfileStore = (*ProfileStore)(nil)

func NewProfileStore(client *Client) *ProfileStore {
	return &ProfileStore{client: client}
}

func token(sess *account.Session) string {
	if sess == nil {
		return ""
	}
	return sess.AccessToken
}

// quote escapes a PostgREST filter value.
func quote(v string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v) + `"`
}

func (store *ProfileStore) exists(ctx context.Context, sess *account.Session, table, column, value string) (bool, error) {
	res, err := store.client.send(ctx, request{
		method: rest.Get,
		path:   "/rest/v1/" + table,
		token:  token(sess),
		query: map[string]string{
			"select": "auth_user_id",
			column:   "eq." + value,
			"limit":  "1",
		},
	})
	if err != nil {
		return false, errors.Wrapf(err, "querying %s", table)
	}

	var rows []json.RawMessage
	if err := json.Unmarshal([]byte(res.Body), &rows); err != nil {
		return false, errors.Wrapf(err, "decoding %s", table)
	}
	return len(rows) > 0, nil
}

func (store *ProfileStore) EmailTaken(ctx context.Context, sess *account.Session, role account.Role, email string) (bool, error) {
	return store.exists(ctx, sess, role.Table(), "email", strings.ToLower(email))
}

func (store *ProfileStore) TeacherCodeTaken(ctx context.Context, sess *account.Session, code string) (bool, error) {
	return store.exists(ctx, sess, account.RoleTeacher.Table(), "teacher_code", code)
}

func profileRow(prof account.Profile) map[string]interface{} {
	row := map[string]interface{}{
		"auth_user_id": prof.AuthUserID,
		"full_name":    prof.FullName,
		"email":        strings.ToLower(prof.Email),
		"phone":        prof.Phone,
		"department":   prof.Department,
		"photo_url":    prof.PhotoURL,
		"is_active":    prof.IsActive,
		"created_by":   prof.CreatedBy,
	}
	if !prof.CreatedAt.IsZero() {
		row["created_at"] = prof.CreatedAt
	}
	switch prof.Role {
	case account.RoleStudent:
		row["enrollment_year"] = prof.EnrollmentYear
	case account.RoleTeacher:
		row["teacher_code"] = prof.TeacherCode
	}
	return row
}

func (store *ProfileStore) InsertProfile(ctx context.Context, sess *account.Session, prof account.Profile) error {
	table := prof.Role.Table()
	if table == "" {
		return errors.Errorf("inserting profile: unknown role %q", prof.Role)
	}
	_, err := store.client.send(ctx, request{
		method:  rest.Post,
		path:    "/rest/v1/" + table,
		token:   token(sess),
		headers: map[string]string{"Prefer": "return=minimal"},
		body:    profileRow(prof),
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.Code == uniqueViolation || apiErr.StatusCode == http.StatusConflict) {
			return errors.Wrap(account.ErrProfileExists, apiErr.Message)
		}
		return errors.Wrapf(err, "inserting into %s", table)
	}
	return nil
}

func decodeProfiles(body string, role account.Role) ([]account.Profile, error) {
	var profs []account.Profile
	if err := json.Unmarshal([]byte(body), &profs); err != nil {
		return nil, errors.Wrapf(err, "decoding %s", role.Table())
	}
	for i := range profs {
		profs[i].Role = role
	}
	return profs, nil
}

func (store *ProfileStore) QueryProfiles(ctx context.Context, sess *account.Session, filter account.QueryFilter) ([]account.Profile, error) {
	direction := "desc"
	if filter.Ordering.Ascending {
		direction = "asc"
	}
	orderBy := filter.Ordering.Field
	if orderBy == "" {
		orderBy = "created_at"
	}

	profs := make([]account.Profile, 0)
	for _, role := range filter.Roles() {
		query := map[string]string{
			"select": "*",
			"order":  orderBy + "." + direction,
		}
		if filter.IsActive != nil {
			query["is_active"] = fmt.Sprintf("is.%t", *filter.IsActive)
		}
		if filter.Search != "" {
			pattern := quote("*" + filter.Search + "*")
			conds := []string{"full_name.ilike." + pattern, "email.ilike." + pattern}
			if role == account.RoleTeacher {
				conds = append(conds, "teacher_code.ilike."+pattern)
			}
			query["or"] = "(" + strings.Join(conds, ",") + ")"
		}

		res, err := store.client.send(ctx, request{
			method: rest.Get,
			path:   "/rest/v1/" + role.Table(),
			token:  token(sess),
			query:  query,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "querying %s", role.Table())
		}
		rows, err := decodeProfiles(res.Body, role)
		if err != nil {
			return nil, err
		}
		profs = append(profs, rows...)
	}
	return profs, nil
}

func (store *ProfileStore) SetProfileActive(ctx context.Context, sess *account.Session, role account.Role, email string, active bool) (account.Profile, error) {
	table := role.Table()
	if table == "" {
		return account.Profile{}, account.ErrProfileNotFound
	}
	res, err := store.client.send(ctx, request{
		method:  rest.Patch,
		path:    "/rest/v1/" + table,
		token:   token(sess),
		query:   map[string]string{"email": "eq." + strings.ToLower(email)},
		headers: map[string]string{"Prefer": "return=representation"},
		body:    map[string]bool{"is_active": active},
	})
	if err != nil {
		return account.Profile{}, errors.Wrapf(err, "updating %s", table)
	}

	profs, err := decodeProfiles(res.Body, role)
	if err != nil {
		return account.Profile{}, err
	}
	if len(profs) == 0 {
		return account.Profile{}, account.ErrProfileNotFound
	}
	return profs[0], nil
}
