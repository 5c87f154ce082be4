package evaluator

import (
	"sync/atomic"

	"github.com/PhucNguyen204/netwatch/pkg/engine"
)

type ConnectionVerdict struct {
	Risky   bool     `json:"isRisky"`
	Score   int      `json:"score"`
	Reasons []string `json:"reasons,omitempty"`
}

// Connection classifies the remote endpoint with the connection rule set.
// The default rules give trusted IPs priority over bans, countries and providers.
type Connection struct {
	engine atomic.Pointer[engine.Engine]
}

func NewConnection(e *engine.Engine) *Connection {
	c := &Connection{}
	c.engine.Store(e)
	return c
}

func (c *Connection) Engine() *engine.Engine { return c.engine.Load() }

func (c *Connection) SetEngine(e *engine.Engine) { c.engine.Store(e) }

func (c *Connection) Evaluate(ctx engine.Context, lists engine.ListSource) ConnectionVerdict {
	res := c.engine.Load().Evaluate(&ctx, lists)
	return ConnectionVerdict{Risky: res.Risky(), Score: res.Score, Reasons: res.Reasons}
}
