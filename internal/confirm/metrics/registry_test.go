package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRegistry_RecordCampaign(t *testing.T) {
	r := NewRegistry()

	r.RecordCampaign(CampaignStats{
		Strategy:           "batched",
		Status:             "completed",
		Messages:           1000,
		Duration:           2 * time.Second,
		Throughput:         500,
		SequenceMismatches: 2,
		Barriers:           10,
	})
	r.RecordCampaign(CampaignStats{
		Strategy:    "batched",
		Status:      "timeout",
		Messages:    1000,
		Duration:    5 * time.Second,
		Outstanding: 100,
		Failed:      true,
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.campaignTotal.WithLabelValues("batched", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.campaignTotal.WithLabelValues("batched", "timeout")))
	assert.Equal(t, 1000.0, testutil.ToFloat64(r.messagesConfirmed.WithLabelValues("batched")), "failed campaigns confirm nothing")
	assert.Equal(t, 500.0, testutil.ToFloat64(r.campaignThroughput.WithLabelValues("batched")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.sequenceMismatches.WithLabelValues("batched")))
	assert.Equal(t, 10.0, testutil.ToFloat64(r.confirmBarriers.WithLabelValues("batched")))
	assert.Equal(t, 100.0, testutil.ToFloat64(r.outstandingOnReturn.WithLabelValues("batched")))
}

func TestRegistry_BrokerMetrics(t *testing.T) {
	r := NewRegistry()

	r.RecordConfirmation(true, true)
	r.RecordConfirmation(false, false)
	r.RecordConfirmation(false, false)
	r.RecordBrokerOperation("publish", time.Millisecond, nil)
	r.RecordBrokerOperation("publish", time.Millisecond, errors.New("closed"))
	r.ChannelOpened()
	r.ChannelOpened()
	r.ChannelClosed()

	assert.Equal(t, 1.0, testutil.ToFloat64(r.confirmationsTotal.WithLabelValues("ack", "true")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.confirmationsTotal.WithLabelValues("nack", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.brokerOperationTotal.WithLabelValues("publish", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.brokerOperationTotal.WithLabelValues("publish", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.channelsOpen))
}

func TestServer_Probes(t *testing.T) {
	r := NewRegistry()
	r.SetSystemInfo("test", "now")
	s := NewServer(ServerConfig{Port: 0, Timeout: time.Second}, r, zaptest.NewLogger(t))

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, get("/health").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/ready").Code)

	s.SetReady(true)
	assert.Equal(t, http.StatusOK, get("/ready").Code)

	rec := get("/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pubconfirm_system_info")
}
