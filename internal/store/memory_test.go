package store_test

import (
	"testing"

	"github.com/phrazzld/sendnforget/internal/store"
	"github.com/phrazzld/sendnforget/internal/store/storetest"
)

func TestMemoryJobStore(t *testing.T) {
	t.Parallel()

	storetest.RunJobStoreSuite(t, func(t *testing.T) store.JobStore {
		return store.NewMemoryJobStore()
	})
}
