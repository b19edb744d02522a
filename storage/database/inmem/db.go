package inmemdb

import (
	"sync"

	"github.com/trezcool/presence/core/account"
)

type (
	// DB holds one table per profile role, keyed by email.
	DB struct {
		profiles map[account.Role]*profileTable
	}

	profileTable struct {
		table map[string]*account.Profile
		mutex sync.RWMutex
	}
)

func Open() *DB {
	db := &DB{profiles: make(map[account.Role]*profileTable, len(account.ProfileRoles))}
	for _, role := range account.ProfileRoles {
		db.profiles[role] = &profileTable{table: make(map[string]*account.Profile)}
	}
	return db
}
