package metrics

import (
	"github.com/san-kum/dynopt/internal/costfunction"
	"github.com/san-kum/dynopt/internal/dynamo"
)

// Cost accumulates the running cost of a rollout with the rectangle rule.
type Cost struct {
	name  string
	fn    costfunction.Function
	total float64
	prevT float64
	prevL float64
	seen  bool
}

func NewCost(fn costfunction.Function) *Cost {
	return &Cost{name: "running_cost", fn: fn}
}

func (c *Cost) Name() string { return c.name }

func (c *Cost) Observe(x dynamo.State, u dynamo.Control, t float64) {
	if c.seen {
		c.total += (t - c.prevT) * c.prevL
	}
	c.prevT = t
	c.prevL = c.fn.Intermediate(x, u)
	c.seen = true
}

// Value excludes the last observed sample, whose interval length is unknown.
func (c *Cost) Value() float64 { return c.total }

func (c *Cost) Reset() {
	c.total = 0
	c.prevT = 0
	c.prevL = 0
	c.seen = false
}
