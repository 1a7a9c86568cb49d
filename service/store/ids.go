package store

import (
	"time"

	"github.com/brojonat/p2pdash/service/txn"
)

// idGenerator issues millisecond-clock ids that never repeat: each id is at
// least one greater than the last one issued or observed.
type idGenerator struct {
	last int64
}

func (g *idGenerator) next(now time.Time) int64 {
	id := now.UnixMilli()
	if id <= g.last {
		id = g.last + 1
	}
	g.last = id
	return id
}

// observe raises the floor to the largest id in txns.
func (g *idGenerator) observe(txns []txn.Transaction) {
	for _, tx := range txns {
		if tx.ID > g.last {
			g.last = tx.ID
		}
	}
}
