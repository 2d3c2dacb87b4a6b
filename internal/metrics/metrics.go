// Package metrics exposes internal counters of the ingest modules via
// Prometheus. Counting is always on; the /metrics endpoint only starts when
// metrics are enabled in the configuration file.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RecordsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "adict_records_received_total",
		Help: "Total flow records received from the source",
	})
	RecordsMalformed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "adict_records_malformed_total",
		Help: "Total records skipped because they could not be decoded",
	})
	RecordsFiltered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "adict_records_filtered_total",
		Help: "Total records skipped because neither endpoint passed the network filter",
	})
	FlowsPaired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "adict_flows_paired_total",
		Help: "Total uniflow pairs matched into biflows",
	})
	LateFlows = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "adict_late_flows_total",
		Help: "Total flow fragments folded into the oldest slot because their slot was already retired",
	})
	DatapointsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "adict_datapoints_sent_total",
		Help: "Total data-points successfully handed to the sink",
	})
	DatapointsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "adict_datapoints_failed_total",
		Help: "Total data-points dropped due to sink errors",
	})
)

func init() {
	prometheus.MustRegister(
		RecordsReceived, RecordsMalformed, RecordsFiltered,
		FlowsPaired, LateFlows, DatapointsSent, DatapointsFailed,
	)
}

// Serve exposes /metrics on addr in a background goroutine.
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = server.ListenAndServe()
	}()
}
