package metric

// Kind tells the telemetry backend how to interpret a value.
type Kind int

const (
	// Gauge is a point-in-time reading (ratios, current backend counts).
	Gauge Kind = iota
	// Counter is a monotonically increasing total (scans, transactions).
	Counter
)

func (k Kind) String() string {
	switch k {
	case Counter:
		return "counter"
	default:
		return "gauge"
	}
}

// Point holds a single numeric value together with the source it was
// read from.
type Point struct {
	Name   string  // e.g. "postgres.pg_stat.index_hits"
	Value  float64 // numeric value
	Kind   Kind    // gauge or counter
	Source string  // logical name of the database that produced it
}
