package aggregation

// Supported aggregation methods.
const (
	OpCount = "count"
	OpSum   = "sum"
	OpAvg   = "avg"
	OpMin   = "min"
	OpMax   = "max"
	OpP50   = "p50"
	OpP90   = "p90"
	OpP95   = "p95"
	OpP99   = "p99"
)

// sketchAccuracy is the relative accuracy of the percentile sketches.
const sketchAccuracy = 0.01
