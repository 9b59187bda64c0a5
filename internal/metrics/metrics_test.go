package metrics

import (
	"testing"

	"booksync/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHelpersWithoutInit(t *testing.T) {
	// Nothing registered yet: helpers must be safe no-ops.
	SetStatus("binance", "BTCUSDT", models.StatusConnected)
	IncMessages("binance", "BTCUSDT")
	IncSnapshotRequest("binance", "BTCUSDT", "ok")
	SetBackoff("binance", "BTCUSDT", 2)
}

func TestCollectors(t *testing.T) {
	register(prometheus.NewRegistry())

	SetStatus("deribit", "BTC-PERPETUAL", models.StatusConnected)
	assert.Equal(t, float64(2), testutil.ToFloat64(sessionStatus.WithLabelValues("deribit", "BTC-PERPETUAL")))

	IncResync("deribit", "BTC-PERPETUAL", "desync")
	IncResync("deribit", "BTC-PERPETUAL", "desync")
	assert.Equal(t, float64(2), testutil.ToFloat64(resyncs.WithLabelValues("deribit", "BTC-PERPETUAL", "desync")))

	IncFatal("deribit", "BTC-PERPETUAL", "backoff_exhausted")
	assert.Equal(t, float64(1), testutil.ToFloat64(fatalErrors.WithLabelValues("deribit", "BTC-PERPETUAL", "backoff_exhausted")))

	SetBackoff("deribit", "BTC-PERPETUAL", 8)
	assert.Equal(t, float64(8), testutil.ToFloat64(backoffSeconds.WithLabelValues("deribit", "BTC-PERPETUAL")))
}
