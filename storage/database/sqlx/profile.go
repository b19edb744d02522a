// Package sqlxdb is the lib/pq backed account.ProfileStore.
package sqlxdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/presence/core/account"
)

const uniqueViolation = pq.ErrorCode("23505")

// orderable columns
var orderFields = map[string]bool{"created_at": true, "full_name": true, "email": true}

type profileStore struct {
	db *sqlx.DB
}

var _ account.ProfileStore = (*profileStore)(nil)

// NewProfileStore ignores the acting session: the connection's database user is trusted.
func NewProfileStore(db *sqlx.DB) account.ProfileStore {
	return &profileStore{db: db}
}

func columns(role account.Role) string {
	cols := "auth_user_id, full_name, email, phone, department, photo_url, is_active, created_by, created_at"
	switch role {
	case account.RoleStudent:
		cols += ", enrollment_year"
	case account.RoleTeacher:
		cols += ", teacher_code"
	}
	return cols
}

func table(role account.Role) (string, error) {
	if tbl := role.Table(); tbl != "" {
		return tbl, nil
	}
	return "", errors.Errorf("unknown profile role %q", role)
}

func (store *profileStore) exists(ctx context.Context, query string, arg interface{}) (bool, error) {
	var found bool
	err := store.db.GetContext(ctx, &found, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return found, err
}

func (store *profileStore) EmailTaken(ctx context.Context, _ *account.Session, role account.Role, email string) (bool, error) {
	tbl, err := table(role)
	if err != nil {
		return false, err
	}
	taken, err := store.exists(ctx, "SELECT true FROM "+tbl+" WHERE email = $1 LIMIT 1", strings.ToLower(email))
	return taken, errors.Wrapf(err, "checking %s email", tbl)
}

func (store *profileStore) TeacherCodeTaken(ctx context.Context, _ *account.Session, code string) (bool, error) {
	taken, err := store.exists(ctx, "SELECT true FROM teachers WHERE teacher_code = $1 LIMIT 1", code)
	return taken, errors.Wrap(err, "checking teacher code")
}

func (store *profileStore) InsertProfile(ctx context.Context, _ *account.Session, prof account.Profile) error {
	tbl, err := table(prof.Role)
	if err != nil {
		return err
	}
	prof.Email = strings.ToLower(prof.Email)

	cols := columns(prof.Role)
	params := ":" + strings.ReplaceAll(cols, ", ", ", :")
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", tbl, cols, params)
	if _, err = store.db.NamedExecContext(ctx, q, prof); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return errors.Wrap(account.ErrProfileExists, pqErr.Constraint)
		}
		return errors.Wrapf(err, "inserting into %s", tbl)
	}
	return nil
}

func (store *profileStore) QueryProfiles(ctx context.Context, _ *account.Session, filter account.QueryFilter) ([]account.Profile, error) {
	ordering := filter.Ordering
	if !orderFields[ordering.Field] {
		ordering.Field = "created_at"
	}

	profs := make([]account.Profile, 0)
	for _, role := range filter.Roles() {
		tbl, err := table(role)
		if err != nil {
			return nil, err
		}

		conds := []string{"true"}
		args := make([]interface{}, 0, 2)
		if filter.IsActive != nil {
			args = append(args, *filter.IsActive)
			conds = append(conds, fmt.Sprintf("is_active = $%d", len(args)))
		}
		if filter.Search != "" {
			args = append(args, "%"+filter.Search+"%")
			n := len(args)
			search := fmt.Sprintf("full_name ILIKE $%d OR email ILIKE $%d", n, n)
			if role == account.RoleTeacher {
				search += fmt.Sprintf(" OR teacher_code ILIKE $%d", n)
			}
			conds = append(conds, "("+search+")")
		}

		q := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s",
			columns(role), tbl, strings.Join(conds, " AND "), ordering.String())
		rows := make([]account.Profile, 0)
		if err = store.db.SelectContext(ctx, &rows, q, args...); err != nil {
			return nil, errors.Wrapf(err, "querying %s", tbl)
		}
		for i := range rows {
			rows[i].Role = role
		}
		profs = append(profs, rows...)
	}
	return profs, nil
}

func (store *profileStore) SetProfileActive(ctx context.Context, _ *account.Session, role account.Role, email string, active bool) (account.Profile, error) {
	tbl, err := table(role)
	if err != nil {
		return account.Profile{}, account.ErrProfileNotFound
	}

	var prof account.Profile
	q := fmt.Sprintf("UPDATE %s SET is_active = $1 WHERE email = $2 RETURNING %s", tbl, columns(role))
	if err = store.db.GetContext(ctx, &prof, q, active, strings.ToLower(email)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return account.Profile{}, account.ErrProfileNotFound
		}
		return account.Profile{}, errors.Wrapf(err, "updating %s", tbl)
	}
	prof.Role = role
	return prof, nil
}
