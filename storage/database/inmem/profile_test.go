package inmemdb_test

import (
	"testing"

	inmemdb "github.com/trezcool/presence/storage/database/inmem"
	testutil "github.com/trezcool/presence/tests"
)

func TestProfileStore(t *testing.T) {
	testutil.RunProfileStoreTests(t, inmemdb.NewProfileStore(inmemdb.Open()))
}
