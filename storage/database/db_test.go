package database

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/presence/core"
)

func TestDSN(t *testing.T) {
	conf := &core.Config{Database: core.DatabaseConfig{
		Engine:        "postgres",
		Host:          "db",
		Port:          "5432",
		Name:          "presence",
		User:          "app",
		Password:      "p@ss",
		AdminUser:     "postgres",
		AdminPassword: "root",
	}}

	tests := []struct {
		name     string
		db       string
		admin    bool
		tls      bool
		wantUser string
		wantPwd  string
		wantSSL  string
	}{
		{name: "app", db: "presence", wantUser: "app", wantPwd: "p@ss", wantSSL: "require"},
		{name: "admin", db: "postgres", admin: true, wantUser: "postgres", wantPwd: "root", wantSSL: "require"},
		{name: "tls disabled", db: "presence", tls: true, wantUser: "app", wantPwd: "p@ss", wantSSL: "disable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf.Database.DisableTLS = tt.tls
			u, err := url.Parse(dsn(tt.db, tt.admin, conf))
			require.NoError(t, err)

			pwd, _ := u.User.Password()
			assert.Equal(t, "postgres", u.Scheme)
			assert.Equal(t, "db:5432", u.Host)
			assert.Equal(t, "/"+tt.db, u.Path)
			assert.Equal(t, tt.wantUser, u.User.Username())
			assert.Equal(t, tt.wantPwd, pwd)
			assert.Equal(t, tt.wantSSL, u.Query().Get("sslmode"))
			assert.Equal(t, "utc", u.Query().Get("timezone"))
		})
	}
}
