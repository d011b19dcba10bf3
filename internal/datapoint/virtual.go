package datapoint

import (
	"fmt"
	"time"

	"github.com/Knetic/govaluate"
)

// computedPoint is a virtual point evaluated from other points after the
// physical reads of each sweep.
type computedPoint struct {
	point *Point
	expr  *govaluate.EvaluableExpression
	vars  []string
}

// compile parses p.Expression. Point names containing operators must be
// bracketed, e.g. "([TEMP-1] + [TEMP-2]) / 2".
func compile(p *Point) (*computedPoint, error) {
	expr, err := govaluate.NewEvaluableExpression(p.Expression)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidPoint, p.Name, err)
	}
	return &computedPoint{point: p, expr: expr, vars: expr.Vars()}, nil
}

// evaluate computes the value from the current cache. The caller holds the
// store lock.
func (c *computedPoint) evaluate(s *Store, at time.Time) (float64, error) {
	params := make(map[string]interface{}, len(c.vars))
	for _, name := range c.vars {
		e := s.cache[name]
		r := s.reading(e, at)
		if !r.Usable() {
			return 0, fmt.Errorf("%w: %s", ErrStaleInput, name)
		}
		params[name] = r.Value
	}

	out, err := c.run(params)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrExpression, c.point.Name, err)
	}
	switch v := out.(type) {
	case float64:
		return v, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: %s: result %T is not numeric", ErrExpression, c.point.Name, out)
	}
}

// run evaluates the expression, reporting a panic inside govaluate as an
// expression error.
func (c *computedPoint) run(params map[string]interface{}) (out interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluation panicked: %v", r)
		}
	}()
	return c.expr.Evaluate(params)
}
