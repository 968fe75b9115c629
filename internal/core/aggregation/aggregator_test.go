package aggregation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fold runs values through op the way a buffer window does.
func fold(agg Aggregator, values ...int64) decimal.Decimal {
	var acc decimal.Decimal
	for i, v := range values {
		d := decimal.NewFromInt(v)
		if i == 0 {
			acc = agg.Initial(d)
			continue
		}
		acc = agg.Apply(acc, d)
	}
	return agg.Result(acc, int64(len(values)))
}

func TestOperators_Fold(t *testing.T) {
	tests := []struct {
		name   string
		op     string
		values []int64
		want   decimal.Decimal
	}{
		{name: "count ignores values", op: OpCount, values: []int64{123, 456, 7}, want: decimal.NewFromInt(3)},
		{name: "sum", op: OpSum, values: []int64{3, 9, 4}, want: decimal.NewFromInt(16)},
		{name: "avg", op: OpAvg, values: []int64{1, 2, 6}, want: decimal.NewFromInt(3)},
		{name: "avg fractional", op: OpAvg, values: []int64{1, 2}, want: decimal.RequireFromString("1.5")},
		{name: "min", op: OpMin, values: []int64{9, 3, 4}, want: decimal.NewFromInt(3)},
		{name: "max", op: OpMax, values: []int64{3, 9, 4}, want: decimal.NewFromInt(9)},
		{name: "single value sum", op: OpSum, values: []int64{5}, want: decimal.NewFromInt(5)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			agg, ok := Operators[tc.op]
			require.True(t, ok)
			got := fold(agg, tc.values...)
			require.True(t, tc.want.Equal(got), "got %s want %s", got, tc.want)
		})
	}
}

func TestOperators_OrderIndependent(t *testing.T) {
	for op, agg := range Operators {
		if _, ok := agg.(QuantileAggregator); ok {
			continue
		}
		a := fold(agg, 5, -2, 11, 0)
		b := fold(agg, 11, 0, 5, -2)
		require.True(t, a.Equal(b), "%s depends on arrival order", op)
	}
}

func TestValidOperator(t *testing.T) {
	for _, op := range []string{OpCount, OpSum, OpAvg, OpMin, OpMax, OpP50, OpP90, OpP95, OpP99} {
		require.True(t, ValidOperator(op), op)
	}
	require.False(t, ValidOperator("average"))
	require.False(t, ValidOperator("last"))
	require.False(t, ValidOperator(""))
}

func TestQuantileOperators(t *testing.T) {
	agg, ok := Operators[OpP90].(QuantileAggregator)
	require.True(t, ok)
	require.Equal(t, 0.90, agg.Quantile())

	_, ok = Operators[OpSum].(QuantileAggregator)
	require.False(t, ok)
}
