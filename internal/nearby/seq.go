package nearby

import (
	"math/rand/v2"
	"sync/atomic"
)

// payloadIDGen hands out payload IDs. IDs are unique per process and start
// at a random offset so two peers rarely produce the same sequence.
type payloadIDGen struct {
	val atomic.Int64
}

func newPayloadIDGen() *payloadIDGen {
	g := &payloadIDGen{}
	g.val.Store(rand.Int64N(1 << 48))
	return g
}

// Next returns the next payload ID (monotonically increasing).
func (g *payloadIDGen) Next() int64 {
	return g.val.Add(1)
}
