package memory

import (
	"testing"

	"github.com/xraph/conductor/store"
	"github.com/xraph/conductor/store/storetest"
)

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return New() })
}
