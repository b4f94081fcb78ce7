package id

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node with the given node ID (0-1023).
// Only the first call has any effect.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New returns a time-ordered id, used as the run id of a queued trigger.
// If Init was never called node 0 is used.
func New() int64 {
	if node == nil {
		_ = Init(0)
	}
	return node.Generate().Int64()
}
