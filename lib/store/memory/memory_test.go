package memory

import (
	"testing"

	"github.com/uvensys/gatekeeper/lib/store/storetest"
)

func TestImpl(t *testing.T) {
	storetest.Common(t, factory{}, nil)
}
