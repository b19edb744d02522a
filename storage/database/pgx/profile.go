// Package pgxdb is the pgx backed account.ProfileStore.
package pgxdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/trezcool/presence/core/account"
)

const uniqueViolation = "23505"

var orderFields = map[string]bool{"created_at": true, "full_name": true, "email": true}

type profileStore struct {
	pool *pgxpool.Pool
}

var _ account.ProfileStore = (*profileStore)(nil)

func NewProfileStore(pool *pgxpool.Pool) account.ProfileStore {
	return &profileStore{pool: pool}
}

func columns(role account.Role) []string {
	cols := []string{"auth_user_id", "full_name", "email", "phone", "department", "photo_url", "is_active", "created_by", "created_at"}
	switch role {
	case account.RoleStudent:
		cols = append(cols, "enrollment_year")
	case account.RoleTeacher:
		cols = append(cols, "teacher_code")
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
	err := store.pool.QueryRow(ctx, query, arg).Scan(&found)
	if errors.Is(err, pgx.ErrNoRows) {
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

	args := pgx.NamedArgs{
		"auth_user_id": prof.AuthUserID,
		"full_name":    prof.FullName,
		"email":        strings.ToLower(prof.Email),
		"phone":        prof.Phone,
		"department":   prof.Department,
		"photo_url":    prof.PhotoURL,
		"is_active":    prof.IsActive,
		"created_by":   prof.CreatedBy,
		"created_at":   prof.CreatedAt,
	}
	switch prof.Role {
	case account.RoleStudent:
		args["enrollment_year"] = prof.EnrollmentYear
	case account.RoleTeacher:
		args["teacher_code"] = prof.TeacherCode
	}

	cols := columns(prof.Role)
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (@%s)", tbl, strings.Join(cols, ", "), strings.Join(cols, ", @"))
	if _, err = store.pool.Exec(ctx, q, args); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return errors.Wrap(account.ErrProfileExists, pgErr.ConstraintName)
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
		args := pgx.NamedArgs{}
		if filter.IsActive != nil {
			args["is_active"] = *filter.IsActive
			conds = append(conds, "is_active = @is_active")
		}
		if filter.Search != "" {
			args["search"] = "%" + filter.Search + "%"
			search := "full_name ILIKE @search OR email ILIKE @search"
			if role == account.RoleTeacher {
				search += " OR teacher_code ILIKE @search"
			}
			conds = append(conds, "("+search+")")
		}

		q := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s",
			strings.Join(columns(role), ", "), tbl, strings.Join(conds, " AND "), ordering.String())
		rows, err := store.pool.Query(ctx, q, args)
		if err != nil {
			return nil, errors.Wrapf(err, "querying %s", tbl)
		}
		found, err := pgx.CollectRows(rows, pgx.RowToStructByNameLax[account.Profile])
		if err != nil {
			return nil, errors.Wrapf(err, "scanning %s", tbl)
		}
		for i := range found {
			found[i].Role = role
		}
		profs = append(profs, found...)
	}
	return profs, nil
}

func (store *profileStore) SetProfileActive(ctx context.Context, _ *account.Session, role account.Role, email string, active bool) (account.Profile, error) {
	tbl, err := table(role)
	if err != nil {
		return account.Profile{}, account.ErrProfileNotFound
	}

	q := fmt.Sprintf("UPDATE %s SET is_active = $1 WHERE email = $2 RETURNING %s", tbl, strings.Join(columns(role), ", "))
	rows, err := store.pool.Query(ctx, q, active, strings.ToLower(email))
	if err != nil {
		return account.Profile{}, errors.Wrapf(err, "updating %s", tbl)
	}
	prof, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByNameLax[account.Profile])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return account.Profile{}, account.ErrProfileNotFound
		}
		return account.Profile{}, errors.Wrapf(err, "updating %s", tbl)
	}
	prof.Role = role
	return prof, nil
}
