package memtaskstore_test

import (
	"testing"

	"github.com/andrewwormald/autoflow"
	"github.com/andrewwormald/autoflow/adapters/adaptertest"
	"github.com/andrewwormald/autoflow/adapters/memtaskstore"
)

func TestStore(t *testing.T) {
	adaptertest.RunTaskStoreTest(t, func() autoflow.TaskStore {
		return memtaskstore.New()
	})
}
