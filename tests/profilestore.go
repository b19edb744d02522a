package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/presence/core"
	"github.com/trezcool/presence/core/account"
)

// RunProfileStoreTests runs the behaviour every account.ProfileStore must have against an empty store.
func RunProfileStoreTests(t *testing.T, store account.ProfileStore) {
	ctx := context.Background()
	created := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	jane := account.Profile{
		Role:           account.RoleStudent,
		AuthUserID:     "s-1",
		FullName:       "Jane Doe",
		Email:          "Jane@School.test",
		Department:     "Computer Science",
		IsActive:       true,
		EnrollmentYear: null.IntFrom(2024),
		CreatedBy:      "a-1",
		CreatedAt:      created,
	}
	jack := account.Profile{
		Role:       account.RoleStudent,
		AuthUserID: "s-2",
		FullName:   "Jack Smith",
		Email:      "jack@school.test",
		Phone:      null.StringFrom("+243810000000"),
		Department: "Physics",
		IsActive:   false,
		CreatedBy:  "a-1",
		CreatedAt:  created.Add(time.Hour),
	}
	ada := account.Profile{
		Role:        account.RoleTeacher,
		AuthUserID:  "t-1",
		FullName:    "Ada Lovelace",
		Email:       "ada@school.test",
		Department:  "Mathematics",
		IsActive:    true,
		TeacherCode: null.StringFrom("MATH_01"),
		CreatedBy:   "a-1",
		CreatedAt:   created.Add(2 * time.Hour),
	}
	for _, prof := range []account.Profile{jane, jack, ada} {
		require.NoError(t, store.InsertProfile(ctx, nil, prof))
	}

	t.Run("EmailTaken", func(t *testing.T) {
		tests := []struct {
			role  account.Role
			email string
			want  bool
		}{
			{account.RoleStudent, "jane@school.test", true},
			{account.RoleStudent, "JANE@school.test", true},
			{account.RoleTeacher, "jane@school.test", false},
			{account.RoleTeacher, "ada@school.test", true},
			{account.RoleStudent, "nobody@school.test", false},
		}
		for _, tt := range tests {
			taken, err := store.EmailTaken(ctx, nil, tt.role, tt.email)
			require.NoError(t, err)
			assert.Equal(t, tt.want, taken, "%s %s", tt.role, tt.email)
		}
	})

	t.Run("TeacherCodeTaken", func(t *testing.T) {
		taken, err := store.TeacherCodeTaken(ctx, nil, "MATH_01")
		require.NoError(t, err)
		assert.True(t, taken)

		taken, err = store.TeacherCodeTaken(ctx, nil, "PHYS_01")
		require.NoError(t, err)
		assert.False(t, taken)
	})

	t.Run("InsertProfile unique constraints", func(t *testing.T) {
		dupEmail := jane
		dupEmail.AuthUserID = "s-3"
		assert.ErrorIs(t, store.InsertProfile(ctx, nil, dupEmail), account.ErrProfileExists)

		dupID := jane
		dupID.Email = "other@school.test"
		assert.ErrorIs(t, store.InsertProfile(ctx, nil, dupID), account.ErrProfileExists)

		dupCode := ada
		dupCode.AuthUserID = "t-2"
		dupCode.Email = "grace@school.test"
		assert.ErrorIs(t, store.InsertProfile(ctx, nil, dupCode), account.ErrProfileExists)
	})

	t.Run("QueryProfiles", func(t *testing.T) {
		active := true
		tests := []struct {
			name   string
			filter account.QueryFilter
			want   []string
		}{
			{name: "all", filter: account.QueryFilter{}, want: []string{"s-2", "s-1", "t-1"}},
			{name: "students", filter: account.QueryFilter{Role: account.RoleStudent}, want: []string{"s-2", "s-1"}},
			{name: "ascending", filter: account.QueryFilter{Role: account.RoleStudent, Ordering: core.DBOrdering{Field: "created_at", Ascending: true}}, want: []string{"s-1", "s-2"}},
			{name: "by name", filter: account.QueryFilter{Role: account.RoleStudent, Ordering: core.DBOrdering{Field: "full_name", Ascending: true}}, want: []string{"s-2", "s-1"}},
			{name: "by name, descending", filter: account.QueryFilter{Role: account.RoleStudent, Ordering: core.DBOrdering{Field: "full_name"}}, want: []string{"s-1", "s-2"}},
			{name: "by email", filter: account.QueryFilter{Ordering: core.DBOrdering{Field: "email", Ascending: true}}, want: []string{"s-2", "s-1", "t-1"}},
			{name: "active", filter: account.QueryFilter{IsActive: &active}, want: []string{"s-1", "t-1"}},
			{name: "search name", filter: account.QueryFilter{Search: "doe"}, want: []string{"s-1"}},
			{name: "search email", filter: account.QueryFilter{Search: "JACK@"}, want: []string{"s-2"}},
			{name: "search teacher code", filter: account.QueryFilter{Search: "math_"}, want: []string{"t-1"}},
			{name: "no match", filter: account.QueryFilter{Search: "zzz"}, want: []string{}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				tt.filter.Clean()
				profs, err := store.QueryProfiles(ctx, nil, tt.filter)
				require.NoError(t, err)

				ids := make([]string, 0, len(profs))
				for _, prof := range profs {
					ids = append(ids, prof.AuthUserID)
				}
				assert.Equal(t, tt.want, ids)
			})
		}
	})

	t.Run("QueryProfiles fields", func(t *testing.T) {
		profs, err := store.QueryProfiles(ctx, nil, account.QueryFilter{Search: "ada"})
		require.NoError(t, err)
		require.Len(t, profs, 1)
		got := profs[0]
		assert.Equal(t, account.RoleTeacher, got.Role)
		assert.Equal(t, "MATH_01", got.TeacherCode.String)
		assert.False(t, got.Phone.Valid)
		assert.True(t, got.CreatedAt.Equal(ada.CreatedAt))

		profs, err = store.QueryProfiles(ctx, nil, account.QueryFilter{Search: "jane"})
		require.NoError(t, err)
		require.Len(t, profs, 1)
		assert.Equal(t, "jane@school.test", profs[0].Email)
		assert.Equal(t, 2024, profs[0].EnrollmentYear.Int)
	})

	t.Run("SetProfileActive", func(t *testing.T) {
		prof, err := store.SetProfileActive(ctx, nil, account.RoleStudent, "JACK@school.test", true)
		require.NoError(t, err)
		assert.True(t, prof.IsActive)
		assert.Equal(t, "s-2", prof.AuthUserID)

		_, err = store.SetProfileActive(ctx, nil, account.RoleTeacher, "jack@school.test", true)
		assert.ErrorIs(t, err, account.ErrProfileNotFound)
	})
}
