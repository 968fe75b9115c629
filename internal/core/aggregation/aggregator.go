package aggregation

import (
	"github.com/shopspring/decimal"
)

// Aggregator defines the reduce semantics of an aggregation method.
// To add a new method: implement this interface and register it in Operators.
// Every method must be order independent: the result depends only on the
// multiset of values that landed in a window.
type Aggregator interface {
	// Initial returns the accumulator after the first value in a window.
	// count → 1; sum/avg/min/max → the incoming value itself.
	Initial(incoming decimal.Decimal) decimal.Decimal

	// Apply folds an incoming value into an existing accumulator.
	Apply(current, incoming decimal.Decimal) decimal.Decimal

	// Result turns the accumulator of a window holding count values into the emitted value.
	Result(acc decimal.Decimal, count int64) decimal.Decimal
}

// QuantileAggregator is implemented by methods that read their result from the
// window's sketch instead of the decimal accumulator.
type QuantileAggregator interface {
	Aggregator
	Quantile() float64
}

// Operators is the registry of all supported aggregation methods.
var Operators = map[string]Aggregator{
	OpCount: countAgg{},
	OpSum:   sumAgg{},
	OpAvg:   avgAgg{},
	OpMin:   minAgg{},
	OpMax:   maxAgg{},
	OpP50:   quantileAgg{q: 0.50},
	OpP90:   quantileAgg{q: 0.90},
	OpP95:   quantileAgg{q: 0.95},
	OpP99:   quantileAgg{q: 0.99},
}

// ValidOperator reports whether op is a registered aggregation method.
func ValidOperator(op string) bool {
	_, ok := Operators[op]
	return ok
}

// countAgg increments by 1 per value. The incoming value is ignored.
type countAgg struct{}

func (countAgg) Initial(_ decimal.Decimal) decimal.Decimal    { return decimal.NewFromInt(1) }
func (countAgg) Apply(cur, _ decimal.Decimal) decimal.Decimal { return cur.Add(decimal.NewFromInt(1)) }
func (countAgg) Result(acc decimal.Decimal, _ int64) decimal.Decimal {
	return acc
}

// sumAgg accumulates the sum of incoming values.
type sumAgg struct{}

func (sumAgg) Initial(v decimal.Decimal) decimal.Decimal      { return v }
func (sumAgg) Apply(cur, inc decimal.Decimal) decimal.Decimal { return cur.Add(inc) }
func (sumAgg) Result(acc decimal.Decimal, _ int64) decimal.Decimal {
	return acc
}

// avgAgg keeps the running sum and divides by the window's value count.
type avgAgg struct{}

func (avgAgg) Initial(v decimal.Decimal) decimal.Decimal      { return v }
func (avgAgg) Apply(cur, inc decimal.Decimal) decimal.Decimal { return cur.Add(inc) }
func (avgAgg) Result(acc decimal.Decimal, count int64) decimal.Decimal {
	if count == 0 {
		return decimal.Zero
	}
	return acc.Div(decimal.NewFromInt(count))
}

// minAgg tracks the minimum value seen.
type minAgg struct{}

func (minAgg) Initial(v decimal.Decimal) decimal.Decimal { return v }
func (minAgg) Apply(cur, inc decimal.Decimal) decimal.Decimal {
	if inc.LessThan(cur) {
		return inc
	}
	return cur
}
func (minAgg) Result(acc decimal.Decimal, _ int64) decimal.Decimal {
	return acc
}

// maxAgg tracks the maximum value seen.
type maxAgg struct{}

func (maxAgg) Initial(v decimal.Decimal) decimal.Decimal { return v }
func (maxAgg) Apply(cur, inc decimal.Decimal) decimal.Decimal {
	if inc.GreaterThan(cur) {
		return inc
	}
	return cur
}
func (maxAgg) Result(acc decimal.Decimal, _ int64) decimal.Decimal {
	return acc
}

// quantileAgg leaves the accumulator alone; the buffer answers from its sketch.
type quantileAgg struct{ q float64 }

func (quantileAgg) Initial(_ decimal.Decimal) decimal.Decimal    { return decimal.Zero }
func (quantileAgg) Apply(cur, _ decimal.Decimal) decimal.Decimal { return cur }
func (quantileAgg) Result(acc decimal.Decimal, _ int64) decimal.Decimal {
	return acc
}

func (a quantileAgg) Quantile() float64 { return a.q }
