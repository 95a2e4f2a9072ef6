// Package all is a meta-package that imports all store implementations.
package all

import (
	_ "github.com/uvensys/gatekeeper/lib/store/bbolt"
	_ "github.com/uvensys/gatekeeper/lib/store/memory"
	_ "github.com/uvensys/gatekeeper/lib/store/valkey"
)
