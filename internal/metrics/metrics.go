package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	checkoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_checkouts_total",
			Help: "Checkout attempts by result",
		},
		[]string{"result"},
	)

	paymentOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_payment_outcomes_total",
			Help: "Payment initiations by outcome",
		},
		[]string{"outcome"},
	)

	callbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_settlement_callbacks_total",
			Help: "Settlement callbacks by result",
		},
		[]string{"result"},
	)

	settlementDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "marketplace_settlement_call_duration_seconds",
			Help:    "Duration of synchronous settlement gateway calls",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	paymentsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "marketplace_payments_expired_total",
			Help: "Pending payments moved to failed by the expiry sweeper",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(checkoutsTotal)
	prometheus.MustRegister(paymentOutcomesTotal)
	prometheus.MustRegister(callbacksTotal)
	prometheus.MustRegister(settlementDuration)
	prometheus.MustRegister(paymentsExpiredTotal)
}

func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func RecordCheckout(result string) {
	checkoutsTotal.WithLabelValues(result).Inc()
}

func RecordPaymentOutcome(outcome string) {
	paymentOutcomesTotal.WithLabelValues(outcome).Inc()
}

func RecordCallback(result string) {
	callbacksTotal.WithLabelValues(result).Inc()
}

func ObserveSettlement(d time.Duration) {
	settlementDuration.Observe(d.Seconds())
}

func AddExpiredPayments(n int64) {
	paymentsExpiredTotal.Add(float64(n))
}
