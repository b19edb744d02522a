package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/trezcool/presence/core/account"
)

type profileStore struct {
	db *DB
}

var _ account.ProfileStore = (*profileStore)(nil)

func NewProfileStore(db *DB) account.ProfileStore {
	return &profileStore{db: db}
}

func (store *profileStore) table(role account.Role) (*profileTable, error) {
	tbl, ok := store.db.profiles[role]
	if !ok {
		return nil, account.ErrProfileNotFound
	}
	return tbl, nil
}

func (store *profileStore) EmailTaken(_ context.Context, _ *account.Session, role account.Role, email string) (bool, error) {
	tbl, err := store.table(role)
	if err != nil {
		return false, err
	}
	tbl.mutex.RLock()
	defer tbl.mutex.RUnlock()

	_, ok := tbl.table[strings.ToLower(email)]
	return ok, nil
}

func (store *profileStore) TeacherCodeTaken(_ context.Context, _ *account.Session, code string) (bool, error) {
	tbl, err := store.table(account.RoleTeacher)
	if err != nil {
		return false, err
	}
	tbl.mutex.RLock()
	defer tbl.mutex.RUnlock()

	for _, prof := range tbl.table {
		if prof.TeacherCode.Valid && prof.TeacherCode.String == code {
			return true, nil
		}
	}
	return false, nil
}

func (store *profileStore) InsertProfile(_ context.Context, _ *account.Session, prof account.Profile) error {
	tbl, err := store.table(prof.Role)
	if err != nil {
		return err
	}
	tbl.mutex.Lock()
	defer tbl.mutex.Unlock()

	// unique constraints: auth_user_id, email, teacher_code
	prof.Email = strings.ToLower(prof.Email)
	if _, ok := tbl.table[prof.Email]; ok {
		return account.ErrProfileExists
	}
	for _, other := range tbl.table {
		if other.AuthUserID == prof.AuthUserID {
			return account.ErrProfileExists
		}
		if prof.TeacherCode.Valid && other.TeacherCode.Valid && other.TeacherCode.String == prof.TeacherCode.String {
			return account.ErrProfileExists
		}
	}
	tbl.table[prof.Email] = &prof
	return nil
}

func (store *profileStore) QueryProfiles(_ context.Context, _ *account.Session, filter account.QueryFilter) ([]account.Profile, error) {
	search := strings.ToLower(filter.Search)
	profs := make([]account.Profile, 0)
	for _, role := range filter.Roles() {
		tbl, err := store.table(role)
		if err != nil {
			return nil, err
		}

		tbl.mutex.RLock()
		rows := make([]account.Profile, 0, len(tbl.table))
		for _, prof := range tbl.table {
			if filter.IsActive != nil && prof.IsActive != *filter.IsActive {
				continue
			}
			if search != "" &&
				!strings.Contains(strings.ToLower(prof.FullName), search) &&
				!strings.Contains(prof.Email, search) &&
				!strings.Contains(strings.ToLower(prof.TeacherCode.String), search) {
				continue
			}
			rows = append(rows, *prof)
		}
		tbl.mutex.RUnlock()

		sort.SliceStable(rows, func(i, j int) bool {
			if filter.Ordering.Ascending {
				return less(rows[i], rows[j], filter.Ordering.Field)
			}
			return less(rows[j], rows[i], filter.Ordering.Field)
		})
		profs = append(profs, rows...)
	}
	return profs, nil
}

func (store *profileStore) SetProfileActive(_ context.Context, _ *account.Session, role account.Role, email string, active bool) (account.Profile, error) {
	tbl, err := store.table(role)
	if err != nil {
		return account.Profile{}, err
	}
	tbl.mutex.Lock()
	defer tbl.mutex.Unlock()

	prof, ok := tbl.table[strings.ToLower(email)]
	if !ok {
		return account.Profile{}, account.ErrProfileNotFound
	}
	prof.IsActive = active
	return *prof, nil
}

// less compares two profiles on an ordering field, created_at by default.
func less(a, b account.Profile, field string) bool {
	switch field {
	case "full_name":
		return strings.ToLower(a.FullName) < strings.ToLower(b.FullName)
	case "email":
		return a.Email < b.Email
	default:
		return a.CreatedAt.Before(b.CreatedAt)
	}
}
