package observability

import "github.com/prometheus/client_golang/prometheus"

// StockMetrics counts movement postings by outcome.
type StockMetrics struct {
	posted      *prometheus.CounterVec
	duplicates  *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	lockRetries prometheus.Counter
}

// NewStockMetrics registers the stock collectors. A nil registerer falls
// back to the default Prometheus registerer.
func NewStockMetrics(registerer prometheus.Registerer) *StockMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &StockMetrics{
		posted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "erp_stock_movements_total",
			Help: "Ledger entries written, by transaction type.",
		}, []string{"tx_type"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "erp_stock_movements_deduplicated_total",
			Help: "Postings answered from an existing idempotency key.",
		}, []string{"tx_type"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "erp_stock_movements_rejected_total",
			Help: "Postings rejected, by reason.",
		}, []string{"reason"}),
		lockRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "erp_stock_lock_retries_total",
			Help: "Balance row lock waits that failed and were retried or surfaced as contention.",
		}),
	}
	registerer.MustRegister(m.posted, m.duplicates, m.rejected, m.lockRetries)
	return m
}

func (m *StockMetrics) MovementPosted(txType string) {
	m.posted.WithLabelValues(txType).Inc()
}

func (m *StockMetrics) MovementDeduplicated(txType string) {
	m.duplicates.WithLabelValues(txType).Inc()
}

func (m *StockMetrics) MovementRejected(reason string) {
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *StockMetrics) LockRetry() {
	m.lockRetries.Inc()
}
