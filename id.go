package ravendb

import (
	"fmt"
	"sync/atomic"
)

var storeSeq uint64

// newStoreID mints a process-unique store id, embedded in every Node this
// store builds (spec §3 "Server Node" carries an owning store id so
// executors from different stores never share a node's connection).
func newStoreID() string {
	return fmt.Sprintf("store-%d", atomic.AddUint64(&storeSeq, 1))
}
