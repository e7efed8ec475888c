package vm

import "github.com/prometheus/client_golang/prometheus"

// NewCallCounter builds the `simvm_library_calls_total{name}` counter
// named in SPEC_FULL.md §4.6. Callers register it with their own
// prometheus.Registry and pass it into Options.CallCounter.
func NewCallCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "simvm_library_calls_total",
		Help: "Total host library calls made by script VMs, by function name.",
	}, []string{"name"})
}

// NewEnergyHistogram builds the `simvm_library_call_energy_total`
// histogram named in SPEC_FULL.md §4.6.
func NewEnergyHistogram() *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "simvm_library_call_energy_total",
		Help:    "Energy debited per host library call, by function name.",
		Buckets: prometheus.DefBuckets,
	}, []string{"name"})
}
