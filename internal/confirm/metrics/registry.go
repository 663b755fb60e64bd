package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every campaign and broker metric without touching the global registry.
type Registry struct {
	registry *prometheus.Registry

	// Campaign metrics
	campaignTotal       *prometheus.CounterVec
	campaignDuration    *prometheus.HistogramVec
	campaignThroughput  *prometheus.GaugeVec
	messagesConfirmed   *prometheus.CounterVec
	sequenceMismatches  *prometheus.CounterVec
	confirmBarriers     *prometheus.CounterVec
	outstandingOnReturn *prometheus.GaugeVec

	// Broker metrics
	confirmationsTotal      *prometheus.CounterVec
	brokerOperationTotal    *prometheus.CounterVec
	brokerOperationDuration *prometheus.HistogramVec
	channelsOpen            prometheus.Gauge

	// Report store metrics
	reportOperationTotal    *prometheus.CounterVec
	reportOperationDuration *prometheus.HistogramVec

	// System health metrics
	systemInfo *prometheus.GaugeVec
	startTime  prometheus.Gauge
}

func NewRegistry() *Registry {
	registry := prometheus.NewRegistry()

	r := &Registry{
		registry: registry,

		campaignTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pubconfirm_campaign_total",
				Help: "Total number of campaigns run",
			},
			[]string{"strategy", "status"}, // status: completed, completed_with_nacks, nack_received, timeout, transport, invalid, cancelled
		),

		campaignDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pubconfirm_campaign_duration_seconds",
				Help:    "Time spent running campaigns",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"strategy"},
		),

		campaignThroughput: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pubconfirm_campaign_throughput_messages_per_second",
				Help: "Throughput of the last successful campaign",
			},
			[]string{"strategy"},
		),

		messagesConfirmed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pubconfirm_messages_confirmed_total",
				Help: "Messages of successful campaigns",
			},
			[]string{"strategy"},
		),

		sequenceMismatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pubconfirm_sequence_mismatch_total",
				Help: "Submissions whose sequence number differed from the expected one",
			},
			[]string{"strategy"},
		),

		confirmBarriers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pubconfirm_confirm_barriers_total",
				Help: "Confirm waits executed by windowed campaigns",
			},
			[]string{"strategy"},
		),

		outstandingOnReturn: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pubconfirm_outstanding_on_return",
				Help: "Unconfirmed sequence numbers left when the last campaign returned",
			},
			[]string{"strategy"},
		),

		confirmationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pubconfirm_confirmations_total",
				Help: "Publisher confirms received from the broker",
			},
			[]string{"type", "multiple"}, // type: ack, nack
		),

		brokerOperationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pubconfirm_broker_operation_total",
				Help: "Total number of broker client operations",
			},
			[]string{"operation", "status"}, // operation: publish, wait_for_confirms, declare_queue, ...
		),

		brokerOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pubconfirm_broker_operation_duration_seconds",
				Help:    "Time spent in broker client operations",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation"},
		),

		channelsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pubconfirm_channels_open",
				Help: "Number of open broker channels",
			},
		),

		reportOperationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pubconfirm_report_operation_total",
				Help: "Total number of report store operations",
			},
			[]string{"operation", "status"},
		),

		reportOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pubconfirm_report_operation_duration_seconds",
				Help:    "Time spent on report store operations",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"operation"},
		),

		systemInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pubconfirm_system_info",
				Help: "System information (value is always 1, labels contain info)",
			},
			[]string{"version", "build_time"},
		),

		startTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pubconfirm_start_time_seconds",
				Help: "Unix timestamp when the application started",
			},
		),
	}

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry.MustRegister(
		r.campaignTotal,
		r.campaignDuration,
		r.campaignThroughput,
		r.messagesConfirmed,
		r.sequenceMismatches,
		r.confirmBarriers,
		r.outstandingOnReturn,
		r.confirmationsTotal,
		r.brokerOperationTotal,
		r.brokerOperationDuration,
		r.channelsOpen,
		r.reportOperationTotal,
		r.reportOperationDuration,
		r.systemInfo,
		r.startTime,
	)

	r.startTime.SetToCurrentTime()

	return r
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          r.registry,
	})
}

// CampaignStats is what a finished campaign contributes to the registry.
type CampaignStats struct {
	Strategy           string
	Status             string
	Messages           int
	Duration           time.Duration
	Throughput         float64
	SequenceMismatches int
	Barriers           int
	Outstanding        int
	Failed             bool
}

// RecordCampaign records a finished campaign. Throughput and confirmed messages are only
// recorded for successful campaigns.
func (r *Registry) RecordCampaign(s CampaignStats) {
	r.campaignTotal.WithLabelValues(s.Strategy, s.Status).Inc()
	r.campaignDuration.WithLabelValues(s.Strategy).Observe(s.Duration.Seconds())
	r.outstandingOnReturn.WithLabelValues(s.Strategy).Set(float64(s.Outstanding))

	if s.SequenceMismatches > 0 {
		r.sequenceMismatches.WithLabelValues(s.Strategy).Add(float64(s.SequenceMismatches))
	}
	if s.Barriers > 0 {
		r.confirmBarriers.WithLabelValues(s.Strategy).Add(float64(s.Barriers))
	}

	if s.Failed {
		return
	}

	r.messagesConfirmed.WithLabelValues(s.Strategy).Add(float64(s.Messages))
	r.campaignThroughput.WithLabelValues(s.Strategy).Set(s.Throughput)
}

// RecordConfirmation records one ack or nack delivered by the broker.
func (r *Registry) RecordConfirmation(ack, multiple bool) {
	typ := "ack"
	if !ack {
		typ = "nack"
	}

	r.confirmationsTotal.WithLabelValues(typ, strconv.FormatBool(multiple)).Inc()
}

// RecordBrokerOperation records a broker client operation
func (r *Registry) RecordBrokerOperation(operation string, duration time.Duration, err error) {
	r.brokerOperationTotal.WithLabelValues(operation, status(err)).Inc()
	r.brokerOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ChannelOpened and ChannelClosed track the number of open broker channels.
func (r *Registry) ChannelOpened() {
	r.channelsOpen.Inc()
}

func (r *Registry) ChannelClosed() {
	r.channelsOpen.Dec()
}

// RecordReportOperation records a report store operation
func (r *Registry) RecordReportOperation(operation string, duration time.Duration, err error) {
	r.reportOperationTotal.WithLabelValues(operation, status(err)).Inc()
	r.reportOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetSystemInfo sets system information metrics
func (r *Registry) SetSystemInfo(version, buildTime string) {
	r.systemInfo.WithLabelValues(version, buildTime).Set(1)
}

func status(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}
